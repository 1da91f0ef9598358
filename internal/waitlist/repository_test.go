package waitlist

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteRepository(t *testing.T) Repository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&WaitlistEntry{}, &AvailableSlot{}, &NotificationAttempt{}, &TransitionRecord{}))
	return NewRepository(db)
}

func sqliteEntry(name string, createdAt time.Time) *WaitlistEntry {
	return &WaitlistEntry{
		ID:           uuid.New(),
		CustomerName: name,
		Contact:      Contact{Email: name + "@example.com", EmailOptIn: true},
		Date:         testDate,
		TimeSlots:    TimeSlots{"19:00", AnyTime},
		PartySize:    2,
		Priority:     PriorityHigh,
		Status:       StatusWaiting,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestRepository_EntryRoundTrip(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	entry := sqliteEntry("ada", testStart)
	require.NoError(t, repo.CreateEntry(ctx, entry))

	got, err := repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, TimeSlots{"19:00", AnyTime}, got.TimeSlots)
	assert.Equal(t, "ada@example.com", got.Contact.Email)
	assert.True(t, got.Contact.EmailOptIn)
	assert.Equal(t, PriorityHigh, got.Priority)
	assert.True(t, testStart.Equal(got.CreatedAt))

	_, err = repo.GetEntryByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRepository_ListEntriesFilters(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	first := sqliteEntry("first", testStart)
	second := sqliteEntry("second", testStart.Add(time.Minute))
	other := sqliteEntry("other", testStart)
	other.Date = "2026-10-19"
	for _, entry := range []*WaitlistEntry{second, first, other} {
		require.NoError(t, repo.CreateEntry(ctx, entry))
	}
	_, err := repo.ChangeStatus(ctx, second.ID, StatusChange{From: StatusWaiting, To: StatusCancelled, At: testStart})
	require.NoError(t, err)

	byDate, err := repo.ListEntries(ctx, EntryFilter{Date: testDate})
	require.NoError(t, err)
	require.Len(t, byDate, 2)
	assert.Equal(t, first.ID, byDate[0].ID)

	waiting, err := repo.ListEntries(ctx, EntryFilter{Statuses: []Status{StatusWaiting}})
	require.NoError(t, err)
	assert.Len(t, waiting, 2)

	ranged, err := repo.ListEntries(ctx, EntryFilter{FromDate: "2026-10-18", ToDate: "2026-10-20"})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, other.ID, ranged[0].ID)

	limited, err := repo.ListEntries(ctx, EntryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRepository_ChangeStatusCompareAndSet(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	entry := sqliteEntry("ada", testStart)
	require.NoError(t, repo.CreateEntry(ctx, entry))

	slotID := uuid.New()
	deadline := testStart.Add(15 * time.Minute)
	swapped, err := repo.ChangeStatus(ctx, entry.ID, StatusChange{
		From:          StatusWaiting,
		To:            StatusNotified,
		At:            testStart,
		OfferedSlotID: &slotID,
		OfferDeadline: &deadline,
		Reason:        "slot offered",
	})
	require.NoError(t, err)
	require.True(t, swapped)

	notified, err := repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotified, notified.Status)
	require.NotNil(t, notified.OfferedSlotID)
	assert.Equal(t, slotID, *notified.OfferedSlotID)
	require.NotNil(t, notified.OfferDeadline)
	assert.True(t, deadline.Equal(*notified.OfferDeadline))

	held, err := repo.ListEntries(ctx, EntryFilter{Statuses: []Status{StatusNotified}, OfferedSlotID: &slotID})
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, entry.ID, held[0].ID)

	otherSlot := uuid.New()
	held, err = repo.ListEntries(ctx, EntryFilter{OfferedSlotID: &otherSlot})
	require.NoError(t, err)
	assert.Empty(t, held)

	// stale expectation
	swapped, err = repo.ChangeStatus(ctx, entry.ID, StatusChange{From: StatusWaiting, To: StatusCancelled, At: testStart})
	require.NoError(t, err)
	assert.False(t, swapped)

	// deadline guard
	late := deadline
	swapped, err = repo.ChangeStatus(ctx, entry.ID, StatusChange{From: StatusNotified, To: StatusConfirmed, At: late, DeadlineAfter: &late})
	require.NoError(t, err)
	assert.False(t, swapped)

	early := deadline.Add(-time.Minute)
	swapped, err = repo.ChangeStatus(ctx, entry.ID, StatusChange{From: StatusNotified, To: StatusConfirmed, At: early, DeadlineAfter: &early})
	require.NoError(t, err)
	assert.True(t, swapped)

	confirmed, err := repo.GetEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Nil(t, confirmed.OfferDeadline)
	require.NotNil(t, confirmed.ResolvedAt)

	transitions, err := repo.ListTransitions(ctx, testDate, testDate)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, StatusNotified, transitions[0].ToStatus)
	assert.Equal(t, "slot offered", transitions[0].Reason)
	assert.Equal(t, StatusConfirmed, transitions[1].ToStatus)
	require.NotNil(t, transitions[1].SlotID)
	assert.Equal(t, slotID, *transitions[1].SlotID)

	none, err := repo.ListTransitions(ctx, "2026-11-01", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_SlotsAndAttempts(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	slot := testSlot(4, time.Hour)
	slot.CreatedAt = testStart
	require.NoError(t, repo.SaveSlot(ctx, slot))

	slot.Capacity = 6
	require.NoError(t, repo.SaveSlot(ctx, slot))

	stored, err := repo.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.Capacity)
	assert.Equal(t, SlotReasonCancellation, stored.Reason)
	assert.True(t, slot.AvailableUntil.Equal(stored.AvailableUntil))

	_, err = repo.GetSlot(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)

	entryID := uuid.New()
	failure := "mailbox full"
	require.NoError(t, repo.CreateNotificationAttempts(ctx, []NotificationAttempt{
		{ID: uuid.New(), EntryID: entryID, SlotID: slot.ID, Channel: ChannelEmail, Outcome: DeliveryFailed, RetryCount: 2, Error: &failure, AttemptedAt: testStart.Add(time.Second)},
		{ID: uuid.New(), EntryID: entryID, SlotID: slot.ID, Channel: ChannelSMS, Outcome: DeliverySent, AttemptedAt: testStart},
	}))
	require.NoError(t, repo.CreateNotificationAttempts(ctx, nil))

	attempts, err := repo.ListNotificationAttempts(ctx, entryID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, ChannelSMS, attempts[0].Channel)
	assert.Equal(t, ChannelEmail, attempts[1].Channel)
	require.NotNil(t, attempts[1].Error)
	assert.Equal(t, failure, *attempts[1].Error)
}
