package booking

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"yoyaku/internal/draft"
	"yoyaku/internal/events"
	"yoyaku/internal/gas"
	"yoyaku/internal/metrics"
	"yoyaku/internal/slots"

	"github.com/rs/zerolog"
)

const registerTimeout = 15 * time.Second

// Remote is the write side of the deployment endpoint.
type Remote interface {
	Book(ctx context.Context, who gas.Identity, slotISO, contactMethod string) (gas.Response, error)
	Register(ctx context.Context, who gas.Identity) (gas.Response, error)
	RequestDays(ctx context.Context, who gas.Identity, days []string) (gas.Response, error)
}

// Submitter sends bookings and preferred-day requests. At most one request per
// session key is in flight at a time.
type Submitter struct {
	remote Remote
	bus    *events.EventBus
	logger *zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewSubmitter(remote Remote, bus *events.EventBus, logger *zerolog.Logger) *Submitter {
	return &Submitter{
		remote:   remote,
		bus:      bus,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

func (s *Submitter) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Submitter) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

func identity(d draft.Draft) gas.Identity {
	t := d.Trimmed()
	return gas.Identity{Name: t.Name, Furigana: t.Furigana, Email: t.Email, Tel: t.Tel}
}

func invalid(field, msg string) Result {
	return Result{Outcome: OutcomeInvalid, Message: msg, Err: &ValidationError{Field: field, Message: msg}}
}

// Submit books slotISO for the draft's identity.
func (s *Submitter) Submit(ctx context.Context, userID int64, d draft.Draft, slotISO, contactMethod string) Result {
	if strings.TrimSpace(slotISO) == "" {
		return invalid("slotISO", MsgSlotRequired)
	}
	if err := d.Validate(); err != nil {
		return invalid("draft", MsgIncomplete)
	}
	if contactMethod == "" {
		contactMethod = DefaultContactMethod
	}

	key := sessionKey("book", userID)
	if !s.acquire(key) {
		return Result{Outcome: OutcomeBusy, Message: MsgBusy, Err: ErrInFlight}
	}
	defer s.release(key)

	resp, err := s.remote.Book(ctx, identity(d), slotISO, contactMethod)
	res := bookingResult(resp, err)
	metrics.IncBookingSubmit(res.Outcome.String())

	payload := events.BookingPayload{SlotISO: slotISO, ContactMethod: contactMethod, Message: res.Message}
	eventType := events.BookingConfirmed
	switch res.Outcome {
	case OutcomeConflict:
		eventType = events.BookingConflict
		s.logger.Info().Int64("user_id", userID).Str("slot", slotISO).Str("status", resp.Status).Msg("booking rejected by remote")
	case OutcomeTransport:
		eventType = events.BookingFailed
		payload.Error = err.Error()
		s.logger.Error().Err(err).Int64("user_id", userID).Str("slot", slotISO).Msg("booking request failed")
	default:
		s.logger.Info().Int64("user_id", userID).Str("slot", slotISO).Msg("booking confirmed")
	}
	s.publish(events.New(eventType, userID, payload))
	return res
}

func bookingResult(resp gas.Response, err error) Result {
	if err != nil {
		return Result{Outcome: OutcomeTransport, Message: MsgTransport, Err: err}
	}
	if resp.OK() {
		return Result{Outcome: OutcomeConfirmed, Message: orDefault(resp.Message, MsgConfirmed)}
	}
	return Result{Outcome: OutcomeConflict, Message: orDefault(resp.Message, MsgConflict)}
}

// RequestDays sends the preferred weekdays. Unknown and repeated tokens are dropped;
// at least one valid token is required.
func (s *Submitter) RequestDays(ctx context.Context, userID int64, d draft.Draft, days []string) Result {
	days = NormalizeDays(days)
	if len(days) == 0 {
		return invalid("preferredDays", MsgNoDays)
	}
	if err := d.Validate(); err != nil {
		return invalid("draft", MsgIncomplete)
	}

	key := sessionKey("days", userID)
	if !s.acquire(key) {
		return Result{Outcome: OutcomeBusy, Message: MsgBusy, Err: ErrInFlight}
	}
	defer s.release(key)

	var res Result
	resp, err := s.remote.RequestDays(ctx, identity(d), days)
	switch {
	case err != nil:
		res = Result{Outcome: OutcomeTransport, Message: MsgDaysTransport, Err: err}
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("day request failed")
	case resp.OK():
		res = Result{Outcome: OutcomeConfirmed, Message: MsgDaysSent}
	default:
		res = Result{Outcome: OutcomeConflict, Message: orDefault(resp.Message, MsgDaysRejected)}
	}
	metrics.IncDayRequest(res.Outcome.String())
	s.publish(events.New(events.DaysRequested, userID, events.DaysPayload{
		Days:    days,
		Outcome: res.Outcome.String(),
		Message: res.Message,
	}))
	return res
}

// Register announces a completed step one. The caller never waits on it.
func (s *Submitter) Register(ctx context.Context, d draft.Draft) error {
	if err := d.Validate(); err != nil {
		return &ValidationError{Field: "draft", Message: MsgIncomplete}
	}
	resp, err := s.remote.Register(ctx, identity(d))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return errors.New("register: remote status " + resp.Status)
	}
	return nil
}

// RegisterAsync runs Register in the background and only logs failures.
func (s *Submitter) RegisterAsync(d draft.Draft) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
		defer cancel()
		if err := s.Register(ctx, d); err != nil {
			s.logger.Warn().Err(err).Msg("register request failed")
		}
	}()
}

func (s *Submitter) publish(ev events.Event) {
	if err := s.bus.Publish(ev); err != nil {
		s.logger.Error().Err(err).Str("event", ev.Type).Msg("event handler failed")
	}
}

// NormalizeDays keeps known weekday tokens once each, Monday first.
func NormalizeDays(days []string) []string {
	seen := make(map[string]bool, len(days))
	for _, d := range days {
		seen[strings.TrimSpace(d)] = true
	}
	out := make([]string, 0, len(seen))
	for _, tok := range slots.WeekdayTokens {
		if seen[tok] {
			out = append(out, tok)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func sessionKey(kind string, userID int64) string {
	return kind + ":" + strconv.FormatInt(userID, 10)
}
