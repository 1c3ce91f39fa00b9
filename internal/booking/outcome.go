package booking

import (
	"errors"
	"fmt"
)

// Messages shown to the user for booking and preferred-day results.
const (
	MsgConfirmed     = "ご予約が確定しました。確認メールをご確認ください。"
	MsgConflict      = "申し訳ありません。他の方が先にこの枠を確保しました。別の時間帯をお選びください。"
	MsgTransport     = "通信エラーが発生しました。時間を置いて再度お試しください。"
	MsgSlotRequired  = "希望日時を選択してください。"
	MsgIncomplete    = "未入力の項目があります。"
	MsgNoDays        = "希望曜日を1つ以上選択してください。"
	MsgDaysSent      = "ご希望をお送りしました。日程が空き次第ご連絡いたします。"
	MsgDaysRejected  = "送信に失敗しました。"
	MsgDaysTransport = "通信エラーが発生しました。"
	MsgBusy          = "送信中です。しばらくお待ちください。"
)

// DefaultContactMethod is sent when the user did not choose one.
const DefaultContactMethod = "meet"

// ErrInFlight is returned when a submission for the same session is still running.
var ErrInFlight = errors.New("booking: submission already in flight")

// ValidationError is a local precondition failure; no request was sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// Outcome classifies the result of a remote write.
type Outcome int

const (
	// OutcomeConfirmed means the remote answered status "ok".
	OutcomeConfirmed Outcome = iota + 1
	// OutcomeConflict means the remote answered with any other status, typically
	// because another user took the slot first.
	OutcomeConflict
	// OutcomeTransport covers network failures, non-2xx statuses and unreadable bodies.
	OutcomeTransport
	// OutcomeInvalid means a precondition failed locally.
	OutcomeInvalid
	// OutcomeBusy means another submission for the session is in flight.
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeConflict:
		return "conflict"
	case OutcomeTransport:
		return "transport"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Result is what a submission settled to. Message is ready for display.
type Result struct {
	Outcome Outcome
	Message string
	Err     error
}
