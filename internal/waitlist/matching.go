package waitlist

import (
	"context"
	"sync"
	"time"

	"tablewait/pkg/logger"
	"tablewait/pkg/metrics"

	"github.com/google/uuid"
)

// MatchResult is an issued offer
type MatchResult struct {
	Entry    *WaitlistEntry `json:"entry"`
	Slot     *AvailableSlot `json:"slot"`
	Deadline time.Time      `json:"deadline"`
}

// MatchingEngine picks the best compatible waiting entry for a freed slot
// and tracks which slots have an offer outstanding.
type MatchingEngine struct {
	registry *Registry
	clock    Clock
	window   time.Duration
	log      *logger.Logger

	mu sync.Mutex
	// slot -> entry holding the pending offer; uuid.Nil while a match is in progress
	offers map[uuid.UUID]uuid.UUID
	// entry -> slot, reverse of offers
	offeredSlots map[uuid.UUID]uuid.UUID
	// slot -> entries that must not be offered the slot again
	excluded map[uuid.UUID]map[uuid.UUID]bool
}

// NewMatchingEngine creates a matching engine using the given confirmation window
func NewMatchingEngine(registry *Registry, clock Clock, window time.Duration, log *logger.Logger) *MatchingEngine {
	if window <= 0 {
		window = DefaultConfirmationWindow
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &MatchingEngine{
		registry:     registry,
		clock:        clock,
		window:       window,
		log:          log.WithComponent("waitlist.matching"),
		offers:       make(map[uuid.UUID]uuid.UUID),
		offeredSlots: make(map[uuid.UUID]uuid.UUID),
		excluded:     make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// Match offers the slot to the top-ranked compatible WAITING entry.
// It returns ErrNoMatch when nobody qualifies, leaving the slot unconsumed.
func (m *MatchingEngine) Match(ctx context.Context, slot *AvailableSlot) (*MatchResult, error) {
	start := time.Now()
	defer func() { metrics.MatchDuration.Observe(time.Since(start).Seconds()) }()

	if !slot.IsAvailableAt(m.clock.Now()) {
		metrics.MatchOutcomesTotal.WithLabelValues("unavailable").Inc()
		return nil, ErrSlotUnavailable
	}

	if err := m.reserve(slot.ID); err != nil {
		if !m.dropStaleOffer(ctx, slot.ID) || m.reserve(slot.ID) != nil {
			metrics.MatchOutcomesTotal.WithLabelValues("pending").Inc()
			return nil, err
		}
	}

	result, err := m.selectAndNotify(ctx, slot)
	if err != nil {
		m.abandonReservation(slot.ID)
		switch err {
		case ErrNoMatch:
			metrics.MatchOutcomesTotal.WithLabelValues("no_match").Inc()
		case ErrSlotUnavailable:
			metrics.MatchOutcomesTotal.WithLabelValues("unavailable").Inc()
		case ErrSlotOfferPending:
			metrics.MatchOutcomesTotal.WithLabelValues("pending").Inc()
		default:
			metrics.MatchOutcomesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.MatchOutcomesTotal.WithLabelValues("matched").Inc()
	return result, nil
}

func (m *MatchingEngine) selectAndNotify(ctx context.Context, slot *AvailableSlot) (*MatchResult, error) {
	unlock, err := m.registry.LockDate(ctx, slot.Date)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Offers issued by other instances sharing the date lock are only visible in storage
	held, err := m.registry.repo.ListEntries(ctx, EntryFilter{
		Date:          slot.Date,
		Statuses:      []Status{StatusNotified},
		OfferedSlotID: &slot.ID,
		Limit:         1,
	})
	if err != nil {
		return nil, persistenceError("list pending offers", err)
	}
	if len(held) > 0 {
		return nil, ErrSlotOfferPending
	}

	var lastErr error
	for attempt := 0; attempt <= MaxMatchRetries; attempt++ {
		now := m.clock.Now()
		if !slot.IsAvailableAt(now) {
			return nil, ErrSlotUnavailable
		}

		waiting, err := m.registry.rankedWaiting(ctx, slot.Date)
		if err != nil {
			return nil, err
		}

		candidate := m.firstCompatible(waiting, slot, now)
		if candidate == nil {
			return nil, ErrNoMatch
		}

		deadline := now.Add(m.window)
		if slot.AvailableUntil.Before(deadline) {
			deadline = slot.AvailableUntil
		}

		// Recorded before the swap so a confirmation racing the return finds it
		m.hold(slot.ID, candidate.ID)
		entry, _, err := m.registry.apply(ctx, candidate.ID, StatusChange{
			From:          StatusWaiting,
			To:            StatusNotified,
			At:            now,
			OfferedSlotID: &slot.ID,
			OfferDeadline: &deadline,
			Reason:        "slot " + slot.ID.String() + " offered",
		})
		if err == nil {
			return &MatchResult{Entry: entry, Slot: slot, Deadline: deadline}, nil
		}
		m.unhold(slot.ID, candidate.ID)
		if !IsConflictError(err) {
			return nil, err
		}

		m.log.WarnWithContext(ctx, "Candidate changed during matching, refreshing waiting set", map[string]interface{}{
			"entry_id": candidate.ID.String(),
			"slot_id":  slot.ID.String(),
			"attempt":  attempt + 1,
		})
		lastErr = err
	}
	return nil, lastErr
}

// firstCompatible returns the top-ranked entry that fits the slot
func (m *MatchingEngine) firstCompatible(ranked []WaitlistEntry, slot *AvailableSlot, now time.Time) *WaitlistEntry {
	m.mu.Lock()
	excluded := m.excluded[slot.ID]
	m.mu.Unlock()

	for i := range ranked {
		entry := &ranked[i]
		if excluded[entry.ID] {
			continue
		}
		if Compatible(entry, slot, now) {
			return entry
		}
	}
	return nil
}

// Compatible reports whether a waiting entry may be offered the slot at now
func Compatible(entry *WaitlistEntry, slot *AvailableSlot, now time.Time) bool {
	if entry.Status != StatusWaiting || entry.Date != slot.Date {
		return false
	}
	if entry.PartySize > slot.Capacity {
		return false
	}
	if !entry.TimeSlots.Accepts(slot.Time) {
		return false
	}
	return !entry.GaveUp(now)
}

func (m *MatchingEngine) reserve(slotID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, pending := m.offers[slotID]; pending {
		return ErrSlotOfferPending
	}
	m.offers[slotID] = uuid.Nil
	return nil
}

func (m *MatchingEngine) hold(slotID, entryID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offers[slotID] = entryID
	m.offeredSlots[entryID] = slotID
}

// unhold returns a held slot to the in-progress state after a lost swap
func (m *MatchingEngine) unhold(slotID, entryID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offers[slotID] == entryID {
		m.offers[slotID] = uuid.Nil
	}
	if m.offeredSlots[entryID] == slotID {
		delete(m.offeredSlots, entryID)
	}
}

// dropStaleOffer clears a local offer whose entry no longer holds the slot in storage,
// as when another instance resolved it. It reports whether anything was cleared.
func (m *MatchingEngine) dropStaleOffer(ctx context.Context, slotID uuid.UUID) bool {
	entryID, ok := m.PendingOffer(slotID)
	if !ok {
		return false
	}

	entry, err := m.registry.load(ctx, entryID)
	if err != nil {
		return false
	}
	if entry.Status == StatusNotified && entry.OfferedSlotID != nil && *entry.OfferedSlotID == slotID {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offers[slotID] != entryID {
		return false
	}
	delete(m.offers, slotID)
	delete(m.offeredSlots, entryID)
	return true
}

func (m *MatchingEngine) abandonReservation(slotID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offers[slotID] == uuid.Nil {
		delete(m.offers, slotID)
	}
}

// Exclude keeps entries from being offered the slot again
func (m *MatchingEngine) Exclude(slotID uuid.UUID, entryIDs ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.excluded[slotID]
	if !ok {
		set = make(map[uuid.UUID]bool)
		m.excluded[slotID] = set
	}
	for _, id := range entryIDs {
		set[id] = true
	}
}

// ReleaseOffer clears the pending offer held by an entry and returns its slot
func (m *MatchingEngine) ReleaseOffer(entryID uuid.UUID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slotID, ok := m.offeredSlots[entryID]
	if !ok {
		return uuid.Nil, false
	}
	delete(m.offeredSlots, entryID)
	if m.offers[slotID] == entryID {
		delete(m.offers, slotID)
	}
	return slotID, true
}

// ForgetSlot drops every trace of a slot once it is consumed or gone
func (m *MatchingEngine) ForgetSlot(slotID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.offers[slotID]; ok {
		delete(m.offeredSlots, entryID)
		delete(m.offers, slotID)
	}
	delete(m.excluded, slotID)
}

// RestoreOffer re-registers an outstanding offer loaded from storage
func (m *MatchingEngine) RestoreOffer(slotID, entryID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offers[slotID] = entryID
	m.offeredSlots[entryID] = slotID
}

// PendingOffer returns the entry holding the slot's outstanding offer
func (m *MatchingEngine) PendingOffer(slotID uuid.UUID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entryID, ok := m.offers[slotID]
	if !ok || entryID == uuid.Nil {
		return uuid.Nil, false
	}
	return entryID, true
}
