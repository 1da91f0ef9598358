package waitlist

import (
	"context"
	"sync"
	"time"

	"tablewait/pkg/logger"

	"github.com/google/uuid"
)

// EventType identifies a domain event emitted by the engine
type EventType string

const (
	EventEntryAdded          EventType = "waitlist.entry.added"
	EventEntryNotified       EventType = "waitlist.entry.notified"
	EventEntryConfirmed      EventType = "waitlist.entry.confirmed"
	EventEntryExpired        EventType = "waitlist.entry.expired"
	EventEntryCancelled      EventType = "waitlist.entry.cancelled"
	EventEntryRequeued       EventType = "waitlist.entry.requeued"
	EventSlotDropped         EventType = "waitlist.slot.dropped"
	EventOfferDeliveryFailed EventType = "waitlist.offer.delivery_failed"
)

// Event is the payload handed to subscribers
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       EventType  `json:"event_type"`
	EntryID    uuid.UUID  `json:"entry_id,omitempty"`
	SlotID     *uuid.UUID `json:"slot_id,omitempty"`
	Date       string     `json:"date,omitempty"`
	Status     Status     `json:"status,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Publisher receives domain events; implementations must not block the caller for long
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// EventHandler is a subscriber callback
type EventHandler func(ctx context.Context, event Event)

// Bus fans events out to subscribers synchronously, in subscription order
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]EventHandler
	order    []int
	next     int
	log      *logger.Logger
}

// NewBus creates an empty event bus
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Bus{
		handlers: make(map[int]EventHandler),
		log:      log.WithComponent("waitlist.events"),
	}
}

// Subscribe registers a handler and returns a function removing it
func (b *Bus) Subscribe(handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.handlers[id] = handler
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		for i, existing := range b.order {
			if existing == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to every subscriber; a panicking subscriber does not affect the others
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.deliver(ctx, handler, event)
	}
}

func (b *Bus) deliver(ctx context.Context, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Event subscriber panicked", "event_type", string(event.Type), "panic", r)
		}
	}()
	handler(ctx, event)
}

// LogSubscriber writes every event to the structured log
func LogSubscriber(log *logger.Logger) EventHandler {
	return func(ctx context.Context, event Event) {
		fields := map[string]interface{}{
			"event_type": string(event.Type),
			"entry_id":   event.EntryID.String(),
			"date":       event.Date,
		}
		if event.SlotID != nil {
			fields["slot_id"] = event.SlotID.String()
		}
		if event.Reason != "" {
			fields["reason"] = event.Reason
		}
		log.DebugWithContext(ctx, "Waitlist event", fields)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
