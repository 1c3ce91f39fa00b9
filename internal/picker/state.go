// Package picker holds the slot selection state machine. Reduce is pure: every
// network call or navigation it wants is returned as an Effect for the caller to run.
package picker

import (
	"yoyaku/internal/slots"
)

// Phase is the coarse state of the slot view.
type Phase string

const (
	PhaseLoading       Phase = "loading"
	PhaseEmpty         Phase = "empty"
	PhaseReady         Phase = "ready"
	PhaseError         Phase = "error"
	PhaseMisconfigured Phase = "misconfigured"
	PhaseRequesting    Phase = "requesting"
	PhaseRequested     Phase = "requested"
	PhaseConfirmed     Phase = "confirmed"
)

// Level tags a status message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is the status line under the picker.
type Message struct {
	Text  string
	Level Level
}

const (
	MsgNoSlots       = "現在ご案内できる枠がありません。別日程の公開をお待ちください。"
	MsgFetchFailed   = "空き枠の取得に失敗しました。時間を置いて再度お試しください。"
	MsgMisconfigured = "GASのデプロイURLを設定後にご利用いただけます。"
)

// State is the whole picker state for one session.
type State struct {
	Phase      Phase
	Generation uint64

	Weeks       []slots.Week
	CurrentWeek int
	SelectedISO string

	ContactMethod string
	Submitting    bool

	// Weekdays holds the toggled preferred-day tokens in Monday-first order.
	Weekdays    []string
	SendingDays bool

	Message     Message
	keepMessage bool
}

// New returns the initial state. An unconfigured endpoint yields a terminal
// Misconfigured state; otherwise the state is Loading and the caller must run
// the returned effects to start the first fetch.
func New(endpointConfigured bool, contactMethod string) (State, []Effect) {
	if !endpointConfigured {
		return State{
			Phase:   PhaseMisconfigured,
			Message: Message{Text: MsgMisconfigured, Level: LevelWarning},
		}, nil
	}
	s := State{ContactMethod: contactMethod}
	return Reduce(s, Refresh{})
}

// CanSubmit reports whether the booking button is enabled.
func (s State) CanSubmit() bool {
	return s.Phase == PhaseReady && s.SelectedISO != "" && !s.Submitting
}

// CanPrev reports whether there is an earlier page.
func (s State) CanPrev() bool {
	return s.Phase == PhaseReady && s.CurrentWeek > 0
}

// CanNext reports whether there is a later page.
func (s State) CanNext() bool {
	return s.Phase == PhaseReady && s.CurrentWeek < len(s.Weeks)-1
}

// Week returns the page being shown.
func (s State) Week() (slots.Week, bool) {
	if s.CurrentWeek < 0 || s.CurrentWeek >= len(s.Weeks) {
		return slots.Week{}, false
	}
	return s.Weeks[s.CurrentWeek], true
}

// Selection resolves the selected slot.
func (s State) Selection() (slots.Day, slots.Slot, bool) {
	loc, ok := slots.FindSlot(s.Weeks, s.SelectedISO)
	if !ok {
		return slots.Day{}, slots.Slot{}, false
	}
	day, slot := slots.Resolve(s.Weeks, loc)
	return day, slot, true
}

// SelectionStatus is the "selected" line, empty when nothing is selected.
func (s State) SelectionStatus() string {
	day, slot, ok := s.Selection()
	if !ok {
		return ""
	}
	return day.LabelFull + " " + slot.Display() + " を選択中です"
}

// WeekdaySelected reports whether tok is toggled on.
func (s State) WeekdaySelected(tok string) bool {
	for _, d := range s.Weekdays {
		if d == tok {
			return true
		}
	}
	return false
}

// Stale reports whether a fetch result tagged gen should be dropped.
func (s State) Stale(gen uint64) bool {
	return s.Phase != PhaseLoading || gen != s.Generation
}
