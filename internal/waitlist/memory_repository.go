package waitlist

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests
type MemoryRepository struct {
	mu          sync.RWMutex
	entries     map[uuid.UUID]*WaitlistEntry
	slots       map[uuid.UUID]*AvailableSlot
	attempts    map[uuid.UUID][]NotificationAttempt
	transitions []TransitionRecord
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries:  make(map[uuid.UUID]*WaitlistEntry),
		slots:    make(map[uuid.UUID]*AvailableSlot),
		attempts: make(map[uuid.UUID][]NotificationAttempt),
	}
}

func (r *MemoryRepository) CreateEntry(ctx context.Context, entry *WaitlistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.Status.IsActive() {
		key := entry.Contact.identityKey(entry.CustomerName)
		for _, existing := range r.entries {
			if existing.Date == entry.Date && existing.Status.IsActive() &&
				existing.Contact.identityKey(existing.CustomerName) == key {
				return ErrDuplicateActiveEntry
			}
		}
	}

	r.entries[entry.ID] = entry.Clone()
	return nil
}

func (r *MemoryRepository) GetEntryByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return entry.Clone(), nil
}

func (r *MemoryRepository) ListEntries(ctx context.Context, filter EntryFilter) ([]WaitlistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []WaitlistEntry
	for _, entry := range r.entries {
		if !matchesFilter(entry, filter) {
			continue
		}
		out = append(out, *entry.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) ChangeStatus(ctx context.Context, id uuid.UUID, change StatusChange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return false, ErrEntryNotFound
	}
	if entry.Status != change.From {
		return false, nil
	}
	if change.DeadlineAfter != nil {
		if entry.OfferDeadline == nil || !entry.OfferDeadline.After(*change.DeadlineAfter) {
			return false, nil
		}
	}

	entry.Status = change.To
	entry.UpdatedAt = change.At
	if change.To == StatusNotified {
		at := change.At
		entry.NotifiedAt = &at
		if change.OfferedSlotID != nil {
			entry.OfferedSlotID = cloneUUID(change.OfferedSlotID)
		}
		entry.OfferDeadline = cloneTime(change.OfferDeadline)
	}
	if change.To.IsTerminal() {
		at := change.At
		entry.ResolvedAt = &at
		entry.OfferDeadline = nil
	}

	r.transitions = append(r.transitions, *newTransitionRecord(entry, change))
	return true, nil
}

func (r *MemoryRepository) ListTransitions(ctx context.Context, fromDate, toDate string) ([]TransitionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TransitionRecord
	for _, record := range r.transitions {
		if fromDate != "" && record.Date < fromDate {
			continue
		}
		if toDate != "" && record.Date > toDate {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (r *MemoryRepository) SaveSlot(ctx context.Context, slot *AvailableSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *slot
	r.slots[slot.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetSlot(ctx context.Context, id uuid.UUID) (*AvailableSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	copied := *slot
	return &copied, nil
}

func (r *MemoryRepository) CreateNotificationAttempts(ctx context.Context, attempts []NotificationAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, attempt := range attempts {
		r.attempts[attempt.EntryID] = append(r.attempts[attempt.EntryID], attempt)
	}
	return nil
}

func (r *MemoryRepository) ListNotificationAttempts(ctx context.Context, entryID uuid.UUID) ([]NotificationAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]NotificationAttempt(nil), r.attempts[entryID]...), nil
}

func matchesFilter(entry *WaitlistEntry, filter EntryFilter) bool {
	if filter.Date != "" && entry.Date != filter.Date {
		return false
	}
	if filter.FromDate != "" && entry.Date < filter.FromDate {
		return false
	}
	if filter.ToDate != "" && entry.Date > filter.ToDate {
		return false
	}
	if filter.OfferedSlotID != nil && (entry.OfferedSlotID == nil || *entry.OfferedSlotID != *filter.OfferedSlotID) {
		return false
	}
	if filter.CreatedBefore != nil && !entry.CreatedAt.Before(*filter.CreatedBefore) {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if entry.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
