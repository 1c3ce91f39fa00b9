package picker

import (
	"errors"
	"strings"

	"yoyaku/internal/booking"
	"yoyaku/internal/draft"
	"yoyaku/internal/slots"
)

// Reduce applies a to s. It never mutates slices reachable from s.
func Reduce(s State, a Action) (State, []Effect) {
	if s.Phase == PhaseMisconfigured || s.Phase == PhaseConfirmed {
		return s, nil
	}

	switch a := a.(type) {
	case Refresh:
		return refresh(s, a.KeepMessage)
	case SlotsLoaded:
		return loaded(s, a)
	case SlotsFailed:
		if s.Stale(a.Gen) {
			return s, nil
		}
		s.Phase = PhaseError
		s.keepMessage = false
		s.Message = Message{Text: MsgFetchFailed, Level: LevelError}
		return s, nil
	case ChangeWeek:
		if s.Phase != PhaseReady {
			return s, nil
		}
		next := s.CurrentWeek + a.Delta
		if next < 0 || next >= len(s.Weeks) {
			return s, nil
		}
		s.CurrentWeek = next
		return s, nil
	case SelectSlot:
		if s.Phase != PhaseReady {
			return s, nil
		}
		loc, ok := slots.FindSlot(s.Weeks, a.ISO)
		if !ok {
			return s, nil
		}
		s.SelectedISO = a.ISO
		s.CurrentWeek = loc.Week
		return s, nil
	case SetContactMethod:
		if m := strings.TrimSpace(a.Method); m != "" {
			s.ContactMethod = m
		}
		return s, nil
	case Submit:
		return submit(s)
	case BookingSettled:
		return bookingSettled(s, a.Result)
	case ShowDayRequest:
		switch s.Phase {
		case PhaseReady, PhaseEmpty, PhaseError:
		default:
			return s, nil
		}
		if s.Submitting {
			return s, nil
		}
		s.Phase = PhaseRequesting
		s.SelectedISO = ""
		return s, nil
	case ToggleWeekday:
		if !dayFormOpen(s) || s.SendingDays {
			return s, nil
		}
		s.Weekdays = toggle(s.Weekdays, a.Token)
		return s, nil
	case SendDays:
		if !dayFormOpen(s) || s.SendingDays {
			return s, nil
		}
		if len(s.Weekdays) == 0 {
			s.Message = Message{Text: booking.MsgNoDays, Level: LevelError}
			return s, nil
		}
		s.SendingDays = true
		s.Message = Message{}
		return s, []Effect{RequestDays{Days: append([]string(nil), s.Weekdays...)}}
	case DaysSettled:
		return daysSettled(s, a.Result)
	case BackToSlots:
		if s.Phase != PhaseRequesting || s.SendingDays {
			return s, nil
		}
		return refresh(s, false)
	}
	return s, nil
}

func refresh(s State, keepMessage bool) (State, []Effect) {
	s.Generation++
	s.Phase = PhaseLoading
	s.keepMessage = keepMessage
	if !keepMessage {
		s.Message = Message{}
	}
	return s, []Effect{FetchSlots{Gen: s.Generation}}
}

func loaded(s State, a SlotsLoaded) (State, []Effect) {
	if s.Stale(a.Gen) {
		return s, nil
	}
	keep := s.keepMessage
	s.keepMessage = false

	weeks := slots.BuildWeeks(a.Raw, a.Now)
	first, ok := slots.FirstAvailable(weeks)
	if !ok {
		s.Phase = PhaseEmpty
		s.Weeks = nil
		s.CurrentWeek = 0
		s.SelectedISO = ""
		if !keep {
			s.Message = Message{Text: MsgNoSlots, Level: LevelWarning}
		}
		return s, nil
	}

	s.Phase = PhaseReady
	s.Weeks = weeks
	if loc, found := slots.FindSlot(weeks, s.SelectedISO); found {
		s.CurrentWeek = loc.Week
	} else {
		_, slot := slots.Resolve(weeks, first)
		s.SelectedISO = slot.StartISO
		s.CurrentWeek = first.Week
	}
	if !keep {
		s.Message = Message{}
	}
	return s, nil
}

func submit(s State) (State, []Effect) {
	if s.Phase != PhaseReady || s.Submitting {
		return s, nil
	}
	if s.SelectedISO == "" {
		s.Message = Message{Text: booking.MsgSlotRequired, Level: LevelError}
		return s, nil
	}
	method := s.ContactMethod
	if method == "" {
		method = booking.DefaultContactMethod
	}
	s.Submitting = true
	s.Message = Message{}
	return s, []Effect{SubmitBooking{SlotISO: s.SelectedISO, ContactMethod: method}}
}

func bookingSettled(s State, res booking.Result) (State, []Effect) {
	if !s.Submitting || res.Outcome == booking.OutcomeBusy {
		return s, nil
	}
	s.Submitting = false

	switch res.Outcome {
	case booking.OutcomeConfirmed:
		s.Phase = PhaseConfirmed
		s.Message = Message{Text: res.Message, Level: LevelSuccess}
		return s, []Effect{ClearDraft{}, Navigate{To: DestConfirmation}}
	case booking.OutcomeConflict:
		s.Message = Message{Text: res.Message, Level: LevelError}
		return refresh(s, true)
	case booking.OutcomeInvalid:
		s.Message = Message{Text: res.Message, Level: LevelError}
		if draftUnusable(res.Err) {
			return s, []Effect{Navigate{To: DestStepOne}}
		}
		return s, nil
	default:
		s.Message = Message{Text: res.Message, Level: LevelError}
		return s, nil
	}
}

func daysSettled(s State, res booking.Result) (State, []Effect) {
	if !s.SendingDays || res.Outcome == booking.OutcomeBusy {
		return s, nil
	}
	s.SendingDays = false

	switch res.Outcome {
	case booking.OutcomeConfirmed:
		s.Phase = PhaseRequested
		s.Message = Message{Text: res.Message, Level: LevelSuccess}
		return s, []Effect{ClearDraft{}}
	case booking.OutcomeInvalid:
		s.Message = Message{Text: res.Message, Level: LevelError}
		if draftUnusable(res.Err) {
			return s, []Effect{Navigate{To: DestStepOne}}
		}
		return s, nil
	default:
		s.Message = Message{Text: res.Message, Level: LevelError}
		return s, nil
	}
}

func draftUnusable(err error) bool {
	return errors.Is(err, draft.ErrMissing) || errors.Is(err, draft.ErrMalformed)
}

func dayFormOpen(s State) bool {
	return s.Phase == PhaseEmpty || s.Phase == PhaseRequesting
}

// toggle returns a new slice with tok flipped, kept in Monday-first order.
func toggle(days []string, tok string) []string {
	known := false
	for _, t := range slots.WeekdayTokens {
		if t == tok {
			known = true
			break
		}
	}
	if !known {
		return days
	}
	on := make(map[string]bool, len(days)+1)
	for _, d := range days {
		on[d] = true
	}
	on[tok] = !on[tok]
	out := make([]string, 0, len(on))
	for _, t := range slots.WeekdayTokens {
		if on[t] {
			out = append(out, t)
		}
	}
	return out
}
