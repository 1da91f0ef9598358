package waitlist

import (
	"context"
	"sync"
	"time"

	"tablewait/pkg/logger"
	"tablewait/pkg/metrics"

	"github.com/google/uuid"
)

// ExpiryHandler is invoked when an armed deadline is reached
type ExpiryHandler func(ctx context.Context, entryID uuid.UUID)

type armedTimer struct {
	timer    Timer
	deadline time.Time
	seq      uint64
}

// ExpirationScheduler keeps one cancellable timer per NOTIFIED entry
type ExpirationScheduler struct {
	clock Clock
	log   *logger.Logger

	mu      sync.Mutex
	timers  map[uuid.UUID]*armedTimer
	seq     uint64
	handler ExpiryHandler
	stopped bool
}

// NewExpirationScheduler creates a scheduler; OnExpire must be set before arming
func NewExpirationScheduler(clock Clock, log *logger.Logger) *ExpirationScheduler {
	if log == nil {
		log = logger.GetDefault()
	}
	return &ExpirationScheduler{
		clock:  clock,
		log:    log.WithComponent("waitlist.scheduler"),
		timers: make(map[uuid.UUID]*armedTimer),
	}
}

// OnExpire sets the callback run when a deadline fires
func (s *ExpirationScheduler) OnExpire(handler ExpiryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Arm schedules a one-shot check at deadline, replacing any timer already armed for the entry
func (s *ExpirationScheduler) Arm(entryID uuid.UUID, deadline time.Time) {
	delay := deadline.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if existing, ok := s.timers[entryID]; ok {
		existing.timer.Stop()
	}

	s.seq++
	seq := s.seq
	s.timers[entryID] = &armedTimer{
		timer:    s.clock.AfterFunc(delay, func() { s.fire(entryID, seq) }),
		deadline: deadline,
		seq:      seq,
	}
	metrics.PendingExpirations.Set(float64(len(s.timers)))
}

// Disarm cancels the pending check for an entry and reports whether one was armed
func (s *ExpirationScheduler) Disarm(entryID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	armed, ok := s.timers[entryID]
	if !ok {
		return false
	}
	armed.timer.Stop()
	delete(s.timers, entryID)
	metrics.PendingExpirations.Set(float64(len(s.timers)))
	return true
}

// Deadline returns the armed deadline of an entry
func (s *ExpirationScheduler) Deadline(entryID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	armed, ok := s.timers[entryID]
	if !ok {
		return time.Time{}, false
	}
	return armed.deadline, true
}

// Pending returns the number of armed timers
func (s *ExpirationScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timer; later Arm calls are ignored
func (s *ExpirationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, armed := range s.timers {
		armed.timer.Stop()
		delete(s.timers, id)
	}
	s.stopped = true
	metrics.PendingExpirations.Set(0)
}

// fire runs the handler unless the timer was disarmed or re-armed meanwhile
func (s *ExpirationScheduler) fire(entryID uuid.UUID, seq uint64) {
	s.mu.Lock()
	armed, ok := s.timers[entryID]
	if !ok || armed.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.timers, entryID)
	handler := s.handler
	metrics.PendingExpirations.Set(float64(len(s.timers)))
	s.mu.Unlock()

	if handler == nil {
		s.log.Warn("Expiration fired without a handler", "entry_id", entryID.String())
		return
	}
	handler(context.Background(), entryID)
}
