package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	SlotsFetched     = "slots.fetched"
	SlotsFailed      = "slots.failed"
	BookingConfirmed = "booking.confirmed"
	BookingConflict  = "booking.conflict"
	BookingFailed    = "booking.failed"
	DaysRequested    = "days.requested"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	UserID    int64
	Payload   []byte
	CreatedAt time.Time
}

// BookingPayload is carried by booking.* events.
type BookingPayload struct {
	SlotISO       string `json:"slot_iso"`
	ContactMethod string `json:"contact_method,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
}

// DaysPayload is carried by days.requested.
type DaysPayload struct {
	Days    []string `json:"days"`
	Outcome string   `json:"outcome"`
	Message string   `json:"message,omitempty"`
}

// SlotsPayload is carried by slots.* events.
type SlotsPayload struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// New builds an event with a fresh id and a JSON payload.
func New(eventType string, userID int64, payload any) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if payload != nil {
		// payload types in this package always marshal
		ev.Payload, _ = json.Marshal(payload)
	}
	return ev
}

// Decode unmarshals the payload into out.
func (e Event) Decode(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish notifies subscribers of the event type and returns the first handler error.
// All handlers run even if an earlier one fails.
func (b *EventBus) Publish(event Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var first error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
