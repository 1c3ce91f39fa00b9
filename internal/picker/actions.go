package picker

import (
	"time"

	"yoyaku/internal/booking"
	"yoyaku/internal/gas"
)

// Action is an input to Reduce.
type Action interface{ isAction() }

// Refresh starts a new fetch. KeepMessage preserves the current status line,
// used after a conflict so the user still sees why the list changed.
type Refresh struct{ KeepMessage bool }

// SlotsLoaded delivers a successful fetch tagged with its generation.
type SlotsLoaded struct {
	Gen uint64
	Raw []gas.RawSlot
	Now time.Time
}

// SlotsFailed delivers a failed fetch tagged with its generation.
type SlotsFailed struct {
	Gen uint64
	Err error
}

// ChangeWeek moves the page by Delta.
type ChangeWeek struct{ Delta int }

// SelectSlot selects the slot starting at ISO.
type SelectSlot struct{ ISO string }

// SetContactMethod chooses how the user wants to be contacted.
type SetContactMethod struct{ Method string }

// Submit asks to book the selected slot.
type Submit struct{}

// BookingSettled delivers the booking result.
type BookingSettled struct{ Result booking.Result }

// ShowDayRequest switches to the preferred-day form.
type ShowDayRequest struct{}

// ToggleWeekday flips one preferred-day token.
type ToggleWeekday struct{ Token string }

// SendDays submits the preferred days.
type SendDays struct{}

// DaysSettled delivers the preferred-day result.
type DaysSettled struct{ Result booking.Result }

// BackToSlots leaves the preferred-day form and reloads slots.
type BackToSlots struct{}

func (Refresh) isAction()          {}
func (SlotsLoaded) isAction()      {}
func (SlotsFailed) isAction()      {}
func (ChangeWeek) isAction()       {}
func (SelectSlot) isAction()       {}
func (SetContactMethod) isAction() {}
func (Submit) isAction()           {}
func (BookingSettled) isAction()   {}
func (ShowDayRequest) isAction()   {}
func (ToggleWeekday) isAction()    {}
func (SendDays) isAction()         {}
func (DaysSettled) isAction()      {}
func (BackToSlots) isAction()      {}

// Effect is work Reduce asks the caller to perform.
type Effect interface{ isEffect() }

// FetchSlots loads the slot list; the result must carry Gen back.
type FetchSlots struct{ Gen uint64 }

// SubmitBooking books SlotISO with the stored draft.
type SubmitBooking struct {
	SlotISO       string
	ContactMethod string
}

// RequestDays sends the preferred weekdays with the stored draft.
type RequestDays struct{ Days []string }

// ClearDraft deletes the stored draft.
type ClearDraft struct{}

// Destination is a navigation target outside the picker.
type Destination string

const (
	DestConfirmation Destination = "confirmation"
	DestStepOne      Destination = "step_one"
)

// Navigate leaves the picker.
type Navigate struct{ To Destination }

func (FetchSlots) isEffect()    {}
func (SubmitBooking) isEffect() {}
func (RequestDays) isEffect()   {}
func (ClearDraft) isEffect()    {}
func (Navigate) isEffect()      {}
