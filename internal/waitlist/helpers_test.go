package waitlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tablewait/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testDate = "2026-10-17"

var testStart = time.Date(2026, 10, 17, 17, 0, 0, 0, time.UTC)

// fakeClock fires timers only from Advance, never inside AfterFunc
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Set moves the clock without firing anything
func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock and runs every due timer in deadline order
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// recordingSender counts sends per channel and fails the channels it is told to
type recordingSender struct {
	mu     sync.Mutex
	calls  map[Channel]int
	offers []Offer
	fail   map[Channel]error
	// failFirst fails the first n calls of a channel, then succeeds
	failFirst map[Channel]int
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		calls:     make(map[Channel]int),
		fail:      make(map[Channel]error),
		failFirst: make(map[Channel]int),
	}
}

func (s *recordingSender) SendEmail(ctx context.Context, offer Offer) error {
	return s.record(ChannelEmail, offer)
}

func (s *recordingSender) SendSMS(ctx context.Context, offer Offer) error {
	return s.record(ChannelSMS, offer)
}

func (s *recordingSender) SendPush(ctx context.Context, offer Offer) error {
	return s.record(ChannelPush, offer)
}

func (s *recordingSender) record(channel Channel, offer Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[channel]++
	if err, ok := s.fail[channel]; ok {
		return err
	}
	if s.calls[channel] <= s.failFirst[channel] {
		return errors.New("gateway timeout")
	}
	s.offers = append(s.offers, offer)
	return nil
}

func (s *recordingSender) failChannel(channel Channel, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[channel] = err
}

func (s *recordingSender) callCount(channel Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[channel]
}

func (s *recordingSender) delivered() []Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Offer(nil), s.offers...)
}

// eventRecorder collects bus events
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ctx context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) ofType(eventType EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, event := range r.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type testHarness struct {
	svc    *service
	repo   *MemoryRepository
	locker Locker
	clock  *fakeClock
	sender *recordingSender
	events *eventRecorder
}

func testServiceConfig() *ServiceConfig {
	config := DefaultServiceConfig()
	config.Dispatcher.RetryBackoff = time.Millisecond
	config.Dispatcher.MaxRetries = 1
	return config
}

func newTestHarness(t *testing.T, config *ServiceConfig) *testHarness {
	t.Helper()
	if config == nil {
		config = testServiceConfig()
	}

	h := &testHarness{
		repo:   NewMemoryRepository(),
		locker: NewLocalLocker(),
		clock:  newFakeClock(testStart),
		sender: newRecordingSender(),
		events: &eventRecorder{},
	}
	h.svc = h.newService(config)
	t.Cleanup(h.svc.Stop)
	return h
}

// newService builds another service over the same storage, lock and clock,
// as after a restart or for a second instance
func (h *testHarness) newService(config *ServiceConfig) *service {
	bus := NewBus(logger.NewDiscard())
	bus.Subscribe(h.events.handle)

	return newService(h.repo, h.sender, Dependencies{
		Locker: h.locker,
		Clock:  h.clock,
		Events: bus,
		Logger: logger.NewDiscard(),
	}, config)
}

func (h *testHarness) join(t *testing.T, name string, modify ...func(*JoinWaitlistRequest)) *WaitlistEntry {
	t.Helper()
	request := joinRequest(name)
	for _, m := range modify {
		m(request)
	}
	entry, err := h.svc.AddEntry(context.Background(), request)
	require.NoError(t, err)
	return entry
}

func (h *testHarness) entry(t *testing.T, id uuid.UUID) *WaitlistEntry {
	t.Helper()
	entry, err := h.repo.GetEntryByID(context.Background(), id)
	require.NoError(t, err)
	return entry
}

func joinRequest(name string) *JoinWaitlistRequest {
	return &JoinWaitlistRequest{
		CustomerName: name,
		Email:        name + "@example.com",
		EmailOptIn:   true,
		Date:         testDate,
		TimeSlots:    []string{"19:00", "19:30"},
		PartySize:    2,
	}
}

func withPriority(priority Priority) func(*JoinWaitlistRequest) {
	return func(r *JoinWaitlistRequest) { r.Priority = priority }
}

func withParty(size int) func(*JoinWaitlistRequest) {
	return func(r *JoinWaitlistRequest) { r.PartySize = size }
}

func testSlot(capacity int, until time.Duration) *AvailableSlot {
	return &AvailableSlot{
		ID:             uuid.New(),
		Date:           testDate,
		Time:           "19:00",
		TableID:        "T4",
		Capacity:       capacity,
		Reason:         SlotReasonCancellation,
		AvailableUntil: testStart.Add(until),
	}
}
