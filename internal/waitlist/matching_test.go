package waitlist

import (
	"context"
	"testing"
	"time"

	"tablewait/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatcher(t *testing.T) (*MatchingEngine, *Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock(testStart)
	registry, _ := newTestRegistry(clock)
	return NewMatchingEngine(registry, clock, 15*time.Minute, logger.NewDiscard()), registry, clock
}

func addEntry(t *testing.T, registry *Registry, clock *fakeClock, name string, modify ...func(*JoinWaitlistRequest)) *WaitlistEntry {
	t.Helper()
	request := joinRequest(name)
	for _, m := range modify {
		m(request)
	}
	entry, err := registry.Add(context.Background(), request)
	require.NoError(t, err)
	clock.Set(clock.Now().Add(time.Second))
	return entry
}

func TestCompatible(t *testing.T) {
	slot := testSlot(4, time.Hour)
	base := WaitlistEntry{
		Status:    StatusWaiting,
		Date:      testDate,
		PartySize: 4,
		TimeSlots: TimeSlots{"19:00"},
		CreatedAt: testStart,
	}

	tests := []struct {
		name   string
		modify func(*WaitlistEntry)
		want   bool
	}{
		{"fits exactly", func(e *WaitlistEntry) {}, true},
		{"party too large", func(e *WaitlistEntry) { e.PartySize = 5 }, false},
		{"other date", func(e *WaitlistEntry) { e.Date = "2026-10-18" }, false},
		{"other time", func(e *WaitlistEntry) { e.TimeSlots = TimeSlots{"20:00"} }, false},
		{"any time", func(e *WaitlistEntry) { e.TimeSlots = TimeSlots{AnyTime} }, true},
		{"no times stored", func(e *WaitlistEntry) { e.TimeSlots = nil }, true},
		{"already notified", func(e *WaitlistEntry) { e.Status = StatusNotified }, false},
		{"gave up", func(e *WaitlistEntry) { e.MaxWaitMinutes = 1 }, false},
		{"still willing", func(e *WaitlistEntry) { e.MaxWaitMinutes = 60 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := base
			tt.modify(&entry)
			assert.Equal(t, tt.want, Compatible(&entry, slot, testStart.Add(5*time.Minute)))
		})
	}
}

func TestMatchingEngine_PicksTopRankedCompatible(t *testing.T) {
	matcher, registry, clock := newTestMatcher(t)

	addEntry(t, registry, clock, "big", withPriority(PriorityVIP), withParty(6))
	medium := addEntry(t, registry, clock, "medium")
	high := addEntry(t, registry, clock, "high", withPriority(PriorityHigh))

	slot := testSlot(4, time.Hour)
	result, err := matcher.Match(context.Background(), slot)
	require.NoError(t, err)

	assert.Equal(t, high.ID, result.Entry.ID)
	assert.Equal(t, StatusNotified, result.Entry.Status)
	assert.Equal(t, slot.ID, *result.Entry.OfferedSlotID)
	assert.Equal(t, clock.Now().Add(15*time.Minute), result.Deadline)
	assert.Equal(t, result.Deadline, *result.Entry.OfferDeadline)

	pending, ok := matcher.PendingOffer(slot.ID)
	require.True(t, ok)
	assert.Equal(t, high.ID, pending)

	waiting, err := registry.ListWaiting(context.Background(), testDate)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, medium.ID, waiting[1].ID)
}

func TestMatchingEngine_DeadlineCappedBySlotAvailability(t *testing.T) {
	matcher, registry, clock := newTestMatcher(t)
	addEntry(t, registry, clock, "ada")

	slot := testSlot(2, 5*time.Minute)
	result, err := matcher.Match(context.Background(), slot)
	require.NoError(t, err)
	assert.Equal(t, slot.AvailableUntil, result.Deadline)
}

func TestMatchingEngine_PendingOfferBlocksSlot(t *testing.T) {
	matcher, registry, clock := newTestMatcher(t)
	first := addEntry(t, registry, clock, "first")
	second := addEntry(t, registry, clock, "second")

	slot := testSlot(4, time.Hour)
	_, err := matcher.Match(context.Background(), slot)
	require.NoError(t, err)

	_, err = matcher.Match(context.Background(), slot)
	assert.ErrorIs(t, err, ErrSlotOfferPending)

	_, err = registry.Transition(context.Background(), first.ID, StatusNotified, StatusExpired)
	require.NoError(t, err)
	released, ok := matcher.ReleaseOffer(first.ID)
	require.True(t, ok)
	assert.Equal(t, slot.ID, released)
	matcher.Exclude(slot.ID, first.ID)

	result, err := matcher.Match(context.Background(), slot)
	require.NoError(t, err)
	assert.Equal(t, second.ID, result.Entry.ID)
}

func TestMatchingEngine_ExcludedEntriesAreSkipped(t *testing.T) {
	matcher, registry, clock := newTestMatcher(t)
	first := addEntry(t, registry, clock, "first")

	slot := testSlot(4, time.Hour)
	matcher.Exclude(slot.ID, first.ID)

	_, err := matcher.Match(context.Background(), slot)
	assert.ErrorIs(t, err, ErrNoMatch)

	_, ok := matcher.PendingOffer(slot.ID)
	assert.False(t, ok)

	matcher.ForgetSlot(slot.ID)
	result, err := matcher.Match(context.Background(), slot)
	require.NoError(t, err)
	assert.Equal(t, first.ID, result.Entry.ID)
}

func TestMatchingEngine_NoMatchLeavesEntriesWaiting(t *testing.T) {
	matcher, registry, clock := newTestMatcher(t)
	entry := addEntry(t, registry, clock, "party", withParty(6))

	_, err := matcher.Match(context.Background(), testSlot(4, time.Hour))
	assert.ErrorIs(t, err, ErrNoMatch)

	got, err := registry.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
}

func TestMatchingEngine_UnavailableSlot(t *testing.T) {
	matcher, registry, clock := newTestMatcher(t)
	addEntry(t, registry, clock, "ada")

	slot := testSlot(4, 0)
	_, err := matcher.Match(context.Background(), slot)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestMatchingEngine_RestoreOffer(t *testing.T) {
	matcher, _, _ := newTestMatcher(t)
	slotID, entryID := uuid.New(), uuid.New()

	matcher.RestoreOffer(slotID, entryID)
	pending, ok := matcher.PendingOffer(slotID)
	require.True(t, ok)
	assert.Equal(t, entryID, pending)

	_, err := matcher.Match(context.Background(), &AvailableSlot{ID: slotID, Date: testDate, AvailableUntil: testStart.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrSlotOfferPending)

	matcher.ForgetSlot(slotID)
	_, ok = matcher.ReleaseOffer(entryID)
	assert.False(t, ok)
}

func TestMatchingEngine_StoredOfferBlocksOtherInstances(t *testing.T) {
	matcher, registry, clock := newTestMatcher(t)
	first := addEntry(t, registry, clock, "first")
	second := addEntry(t, registry, clock, "second")

	slot := testSlot(4, time.Hour)
	result, err := matcher.Match(context.Background(), slot)
	require.NoError(t, err)
	assert.Equal(t, first.ID, result.Entry.ID)

	peer := NewMatchingEngine(registry, clock, 15*time.Minute, logger.NewDiscard())
	_, err = peer.Match(context.Background(), slot)
	assert.ErrorIs(t, err, ErrSlotOfferPending)

	_, ok := peer.PendingOffer(slot.ID)
	assert.False(t, ok)

	got, err := registry.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
}

func TestMatchingEngine_OfferResolvedElsewhereIsCleared(t *testing.T) {
	matcher, registry, clock := newTestMatcher(t)
	first := addEntry(t, registry, clock, "first")
	second := addEntry(t, registry, clock, "second")

	slot := testSlot(4, time.Hour)
	_, err := matcher.Match(context.Background(), slot)
	require.NoError(t, err)

	// confirmed through another instance, so this engine never forgot the slot
	_, err = registry.Transition(context.Background(), first.ID, StatusNotified, StatusConfirmed)
	require.NoError(t, err)

	result, err := matcher.Match(context.Background(), slot)
	require.NoError(t, err)
	assert.Equal(t, second.ID, result.Entry.ID)

	pending, ok := matcher.PendingOffer(slot.ID)
	require.True(t, ok)
	assert.Equal(t, second.ID, pending)
}

// forgettingRepository lets a caller react right after an offer is stored
type forgettingRepository struct {
	*MemoryRepository
	afterOffer func(change StatusChange)
}

func (r *forgettingRepository) ChangeStatus(ctx context.Context, id uuid.UUID, change StatusChange) (bool, error) {
	swapped, err := r.MemoryRepository.ChangeStatus(ctx, id, change)
	if swapped && change.To == StatusNotified && r.afterOffer != nil {
		r.afterOffer(change)
	}
	return swapped, err
}

func TestMatchingEngine_ConfirmDuringMatchLeavesNoOffer(t *testing.T) {
	clock := newFakeClock(testStart)
	repo := &forgettingRepository{MemoryRepository: NewMemoryRepository()}
	registry := NewRegistry(repo, NewLocalLocker(), clock, DefaultRegistryConfig(), logger.NewDiscard())
	matcher := NewMatchingEngine(registry, clock, 15*time.Minute, logger.NewDiscard())
	addEntry(t, registry, clock, "ada")

	// a confirmation landing before Match returns forgets the slot
	repo.afterOffer = func(change StatusChange) {
		matcher.ForgetSlot(*change.OfferedSlotID)
	}

	slot := testSlot(4, time.Hour)
	_, err := matcher.Match(context.Background(), slot)
	require.NoError(t, err)

	_, ok := matcher.PendingOffer(slot.ID)
	assert.False(t, ok)
}
