package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntryFilter narrows ListEntries; zero fields are ignored
type EntryFilter struct {
	Date          string
	FromDate      string
	ToDate        string
	Statuses      []Status
	OfferedSlotID *uuid.UUID
	CreatedBefore *time.Time
	Limit         int
}

// StatusChange describes one compare-and-set on an entry's status
type StatusChange struct {
	From Status
	To   Status
	At   time.Time

	// Set when entering NOTIFIED
	OfferedSlotID *uuid.UUID
	OfferDeadline *time.Time

	// DeadlineAfter guards the swap: the stored offer deadline must be strictly after it
	DeadlineAfter *time.Time

	Reason string
}

// Repository interface defines the contract for waitlist data operations
type Repository interface {
	// Entries
	CreateEntry(ctx context.Context, entry *WaitlistEntry) error
	GetEntryByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]WaitlistEntry, error)

	// ChangeStatus atomically swaps the status when it still equals change.From
	// and appends the transition record. It reports false when nothing matched.
	ChangeStatus(ctx context.Context, id uuid.UUID, change StatusChange) (bool, error)
	ListTransitions(ctx context.Context, fromDate, toDate string) ([]TransitionRecord, error)

	// Slots
	SaveSlot(ctx context.Context, slot *AvailableSlot) error
	GetSlot(ctx context.Context, id uuid.UUID) (*AvailableSlot, error)

	// Notifications
	CreateNotificationAttempts(ctx context.Context, attempts []NotificationAttempt) error
	ListNotificationAttempts(ctx context.Context, entryID uuid.UUID) ([]NotificationAttempt, error)
}

// repository implements the Repository interface on gorm
type repository struct {
	db *gorm.DB
}

// NewRepository creates a new waitlist repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// CreateEntry inserts a new waitlist entry
func (r *repository) CreateEntry(ctx context.Context, entry *WaitlistEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateActiveEntry
		}
		return fmt.Errorf("failed to create waitlist entry: %w", err)
	}
	return nil
}

// GetEntryByID retrieves a waitlist entry by ID
func (r *repository) GetEntryByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	var entry WaitlistEntry
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}
	return &entry, nil
}

// ListEntries lists entries matching the filter ordered by creation time
func (r *repository) ListEntries(ctx context.Context, filter EntryFilter) ([]WaitlistEntry, error) {
	query := r.db.WithContext(ctx).Model(&WaitlistEntry{})

	if filter.Date != "" {
		query = query.Where("date = ?", filter.Date)
	}
	if filter.FromDate != "" {
		query = query.Where("date >= ?", filter.FromDate)
	}
	if filter.ToDate != "" {
		query = query.Where("date <= ?", filter.ToDate)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.OfferedSlotID != nil {
		query = query.Where("offered_slot_id = ?", *filter.OfferedSlotID)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []WaitlistEntry
	if err := query.Order("created_at ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list waitlist entries: %w", err)
	}
	return entries, nil
}

// ChangeStatus performs the compare-and-set and records the transition in one transaction
func (r *repository) ChangeStatus(ctx context.Context, id uuid.UUID, change StatusChange) (bool, error) {
	swapped := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := statusUpdates(change)

		query := tx.Model(&WaitlistEntry{}).Where("id = ? AND status = ?", id, change.From)
		if change.DeadlineAfter != nil {
			query = query.Where("offer_deadline > ?", *change.DeadlineAfter)
		}

		result := query.Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		swapped = true

		var entry WaitlistEntry
		if err := tx.Select("id", "date", "offered_slot_id").Where("id = ?", id).First(&entry).Error; err != nil {
			return err
		}

		record := newTransitionRecord(&entry, change)
		return tx.Create(record).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to change status of entry %s: %w", id, err)
	}
	return swapped, nil
}

// ListTransitions returns the retained transition log for a date range
func (r *repository) ListTransitions(ctx context.Context, fromDate, toDate string) ([]TransitionRecord, error) {
	query := r.db.WithContext(ctx).Model(&TransitionRecord{})
	if fromDate != "" {
		query = query.Where("date >= ?", fromDate)
	}
	if toDate != "" {
		query = query.Where("date <= ?", toDate)
	}

	var records []TransitionRecord
	if err := query.Order("occurred_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return records, nil
}

// SaveSlot upserts an available slot
func (r *repository) SaveSlot(ctx context.Context, slot *AvailableSlot) error {
	if err := r.db.WithContext(ctx).Save(slot).Error; err != nil {
		return fmt.Errorf("failed to save slot: %w", err)
	}
	return nil
}

// GetSlot retrieves an available slot by ID
func (r *repository) GetSlot(ctx context.Context, id uuid.UUID) (*AvailableSlot, error) {
	var slot AvailableSlot
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &slot, nil
}

// CreateNotificationAttempts stores a batch of delivery attempts
func (r *repository) CreateNotificationAttempts(ctx context.Context, attempts []NotificationAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&attempts).Error; err != nil {
		return fmt.Errorf("failed to create notification attempts: %w", err)
	}
	return nil
}

// ListNotificationAttempts lists delivery attempts for an entry
func (r *repository) ListNotificationAttempts(ctx context.Context, entryID uuid.UUID) ([]NotificationAttempt, error) {
	var attempts []NotificationAttempt
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("attempted_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notification attempts: %w", err)
	}
	return attempts, nil
}

// statusUpdates builds the column set written by a status change
func statusUpdates(change StatusChange) map[string]interface{} {
	updates := map[string]interface{}{
		"status":     change.To,
		"updated_at": change.At,
	}

	if change.To == StatusNotified {
		updates["notified_at"] = change.At
		if change.OfferedSlotID != nil {
			updates["offered_slot_id"] = *change.OfferedSlotID
		}
		if change.OfferDeadline != nil {
			updates["offer_deadline"] = *change.OfferDeadline
		}
	}

	if change.To.IsTerminal() {
		updates["resolved_at"] = change.At
		updates["offer_deadline"] = gorm.Expr("NULL")
	}

	return updates
}

func newTransitionRecord(entry *WaitlistEntry, change StatusChange) *TransitionRecord {
	slotID := cloneUUID(change.OfferedSlotID)
	if slotID == nil {
		slotID = cloneUUID(entry.OfferedSlotID)
	}
	return &TransitionRecord{
		ID:         uuid.New(),
		EntryID:    entry.ID,
		Date:       entry.Date,
		FromStatus: change.From,
		ToStatus:   change.To,
		SlotID:     slotID,
		Reason:     change.Reason,
		OccurredAt: change.At,
	}
}
