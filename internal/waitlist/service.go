package waitlist

import (
	"context"
	"errors"
	"time"

	"tablewait/pkg/cache"
	"tablewait/pkg/logger"
	"tablewait/pkg/metrics"

	"github.com/google/uuid"
)

// Service interface defines the contract for waitlist business operations
type Service interface {
	// Customer operations
	AddEntry(ctx context.Context, request *JoinWaitlistRequest) (*WaitlistEntry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	CancelEntry(ctx context.Context, id uuid.UUID, reason string) (*WaitlistEntry, error)
	Confirm(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)

	// Slot feed
	OnSlotAvailable(ctx context.Context, slot *AvailableSlot) (*MatchResult, error)

	// Staff operations
	ListWaiting(ctx context.Context, date string) ([]WaitlistEntry, error)
	GetStats(ctx context.Context, fromDate, toDate string) (*Stats, error)
	ListNotificationAttempts(ctx context.Context, id uuid.UUID) ([]NotificationAttempt, error)

	// Background job operations
	SweepAbandoned(ctx context.Context, limit int) (int, error)
	ReconcileOffers(ctx context.Context) (int, error)

	// Lifecycle
	Start(ctx context.Context) error
	Stop()
}

// ServiceConfig contains configuration for the waitlist service
type ServiceConfig struct {
	ConfirmationWindow time.Duration
	RequeueOnExpiry    bool
	StatsCacheTTL      time.Duration
	Registry           RegistryConfig
	Dispatcher         DispatcherConfig
}

// DefaultServiceConfig returns default service configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		ConfirmationWindow: DefaultConfirmationWindow,
		Registry:           DefaultRegistryConfig(),
		Dispatcher:         DefaultDispatcherConfig(),
	}
}

// Dependencies are the optional collaborators of the service; nil fields get defaults
type Dependencies struct {
	Locker     Locker
	Clock      Clock
	Events     Publisher
	StatsCache cache.Service
	Logger     *logger.Logger
}

// service implements the Service interface
type service struct {
	repo       Repository
	registry   *Registry
	matcher    *MatchingEngine
	dispatcher *NotificationDispatcher
	scheduler  *ExpirationScheduler
	stats      *StatsAggregator
	events     Publisher
	clock      Clock
	config     *ServiceConfig
	log        *logger.Logger
}

// NewService creates a new waitlist service
func NewService(repo Repository, sender Sender, deps Dependencies, config *ServiceConfig) Service {
	return newService(repo, sender, deps, config)
}

func newService(repo Repository, sender Sender, deps Dependencies, config *ServiceConfig) *service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetDefault()
	}

	registry := NewRegistry(repo, deps.Locker, deps.Clock, config.Registry, deps.Logger)
	s := &service{
		repo:       repo,
		registry:   registry,
		matcher:    NewMatchingEngine(registry, deps.Clock, config.ConfirmationWindow, deps.Logger),
		dispatcher: NewNotificationDispatcher(sender, repo, deps.Events, deps.Clock, config.Dispatcher, deps.Logger),
		scheduler:  NewExpirationScheduler(deps.Clock, deps.Logger),
		stats:      NewStatsAggregator(repo, deps.Clock, deps.StatsCache, config.StatsCacheTTL, deps.Logger),
		events:     deps.Events,
		clock:      deps.Clock,
		config:     config,
		log:        deps.Logger.WithComponent("waitlist.service"),
	}
	s.scheduler.OnExpire(func(ctx context.Context, entryID uuid.UUID) {
		s.expire(ctx, entryID, "offer deadline reached")
	})
	return s
}

// Start runs the delivery workers and re-arms offers left outstanding by a previous run
func (s *service) Start(ctx context.Context) error {
	s.dispatcher.Start()

	restored, err := s.ReconcileOffers(ctx)
	if err != nil {
		return err
	}
	s.log.InfoWithContext(ctx, "Waitlist engine started", map[string]interface{}{
		"restored_offers": restored,
	})
	return nil
}

// Stop cancels timers and drains pending deliveries
func (s *service) Stop() {
	s.scheduler.Stop()
	s.dispatcher.Stop()
}

// AddEntry puts a customer on the waitlist
func (s *service) AddEntry(ctx context.Context, request *JoinWaitlistRequest) (*WaitlistEntry, error) {
	entry, err := s.registry.Add(ctx, request)
	if err != nil {
		return nil, err
	}

	metrics.EntriesAddedTotal.WithLabelValues(string(entry.Priority)).Inc()
	s.log.LogEntryAdded(ctx, entry.ID.String(), entry.Date, string(entry.Priority), entry.PartySize)
	s.publish(ctx, EventEntryAdded, entry, "")
	return entry, nil
}

// GetEntry returns an entry with its current status
func (s *service) GetEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	return s.registry.Get(ctx, id)
}

// ListWaiting returns the ranked waiting set of a date
func (s *service) ListWaiting(ctx context.Context, date string) ([]WaitlistEntry, error) {
	return s.registry.ListWaiting(ctx, date)
}

// GetStats returns stats for a date range
func (s *service) GetStats(ctx context.Context, fromDate, toDate string) (*Stats, error) {
	return s.stats.Compute(ctx, fromDate, toDate)
}

// ListNotificationAttempts returns the delivery history of an entry
func (s *service) ListNotificationAttempts(ctx context.Context, id uuid.UUID) ([]NotificationAttempt, error) {
	if _, err := s.registry.load(ctx, id); err != nil {
		return nil, err
	}
	attempts, err := s.repo.ListNotificationAttempts(ctx, id)
	if err != nil {
		return nil, persistenceError("list notification attempts", err)
	}
	return attempts, nil
}

// CancelEntry cancels a non-terminal entry; an outstanding offer is re-offered to the next candidate
func (s *service) CancelEntry(ctx context.Context, id uuid.UUID, reason string) (*WaitlistEntry, error) {
	if reason == "" {
		reason = "cancelled by request"
	}

	entry, previous, changed, err := s.registry.Cancel(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !changed {
		return entry, nil
	}

	metrics.TransitionsTotal.WithLabelValues(string(previous), string(StatusCancelled)).Inc()
	s.log.LogEntryCancelled(ctx, id.String(), string(previous), reason)
	s.publish(ctx, EventEntryCancelled, entry, reason)

	if previous == StatusNotified {
		s.scheduler.Disarm(id)
		if slotID, ok := s.releaseOffer(entry); ok {
			s.matcher.Exclude(slotID, id)
			s.reoffer(ctx, slotID)
		}
	}
	return entry, nil
}

// Confirm accepts an outstanding offer before its deadline
func (s *service) Confirm(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	entry, err := s.registry.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch entry.Status {
	case StatusConfirmed:
		return entry, nil
	case StatusExpired:
		return nil, &ExpiredOfferError{EntryID: id}
	case StatusCancelled:
		return nil, &InvalidTransitionError{EntryID: id, From: StatusCancelled, To: StatusConfirmed}
	case StatusWaiting:
		return nil, &ConflictError{EntryID: id, Expected: StatusNotified, Actual: StatusWaiting}
	}

	now := s.clock.Now()
	change := StatusChange{
		From:   StatusNotified,
		To:     StatusConfirmed,
		At:     now,
		Reason: "confirmed by customer",
	}
	if entry.OfferDeadline != nil {
		if !now.Before(*entry.OfferDeadline) {
			s.expire(ctx, id, "confirmation arrived after deadline")
			return nil, &ExpiredOfferError{EntryID: id, Deadline: entry.OfferDeadline}
		}
		change.DeadlineAfter = &now
	}

	confirmed, changed, err := s.registry.apply(ctx, id, change)
	if err != nil {
		if IsExpiredOfferError(err) {
			s.expire(ctx, id, "confirmation arrived after deadline")
			return nil, err
		}
		var conflict *ConflictError
		if errors.As(err, &conflict) && conflict.Actual == StatusExpired {
			return nil, &ExpiredOfferError{EntryID: id, Deadline: entry.OfferDeadline}
		}
		return nil, err
	}
	if !changed {
		return confirmed, nil
	}

	s.scheduler.Disarm(id)
	slotID, _ := s.releaseOffer(entry)
	s.matcher.ForgetSlot(slotID)

	metrics.TransitionsTotal.WithLabelValues(string(StatusNotified), string(StatusConfirmed)).Inc()
	s.log.LogOfferConfirmed(ctx, id.String(), slotID.String())
	s.publish(ctx, EventEntryConfirmed, confirmed, "")
	return confirmed, nil
}

// OnSlotAvailable stores the slot and offers it to the best waiting entry
func (s *service) OnSlotAvailable(ctx context.Context, slot *AvailableSlot) (*MatchResult, error) {
	if err := validateSlot(slot); err != nil {
		return nil, err
	}
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = s.clock.Now()
	}
	if err := s.repo.SaveSlot(ctx, slot); err != nil {
		return nil, persistenceError("save slot", err)
	}

	result, err := s.offer(ctx, slot)
	if errors.Is(err, ErrNoMatch) || errors.Is(err, ErrSlotUnavailable) {
		s.matcher.ForgetSlot(slot.ID)
	}
	return result, err
}

// SweepAbandoned cancels waiting entries whose customer-side max wait has elapsed
func (s *service) SweepAbandoned(ctx context.Context, limit int) (int, error) {
	entries, err := s.repo.ListEntries(ctx, EntryFilter{Statuses: []Status{StatusWaiting}})
	if err != nil {
		return 0, persistenceError("list waiting entries", err)
	}

	now := s.clock.Now()
	swept := 0
	for i := range entries {
		if limit > 0 && swept >= limit {
			break
		}
		if !entries[i].GaveUp(now) {
			continue
		}
		if _, err := s.CancelEntry(ctx, entries[i].ID, "max wait exceeded"); err != nil {
			s.log.ErrorWithContext(ctx, "Failed to cancel abandoned entry", err, map[string]interface{}{
				"entry_id": entries[i].ID.String(),
			})
			continue
		}
		swept++
	}
	return swept, nil
}

// ReconcileOffers arms a timer for every NOTIFIED entry that has none in this process.
// Overdue offers fire immediately.
func (s *service) ReconcileOffers(ctx context.Context) (int, error) {
	entries, err := s.repo.ListEntries(ctx, EntryFilter{Statuses: []Status{StatusNotified}})
	if err != nil {
		return 0, persistenceError("list notified entries", err)
	}

	armed := 0
	for i := range entries {
		entry := &entries[i]
		if _, ok := s.scheduler.Deadline(entry.ID); ok {
			continue
		}
		if entry.OfferedSlotID != nil {
			s.matcher.RestoreOffer(*entry.OfferedSlotID, entry.ID)
		}

		deadline := s.clock.Now()
		if entry.OfferDeadline != nil {
			deadline = *entry.OfferDeadline
		}
		s.scheduler.Arm(entry.ID, deadline)
		armed++
	}
	return armed, nil
}

// offer runs matching and, on success, arms the deadline and hands off delivery
func (s *service) offer(ctx context.Context, slot *AvailableSlot) (*MatchResult, error) {
	result, err := s.matcher.Match(ctx, slot)
	if err != nil {
		return nil, err
	}

	s.scheduler.Arm(result.Entry.ID, result.Deadline)

	metrics.TransitionsTotal.WithLabelValues(string(StatusWaiting), string(StatusNotified)).Inc()
	s.log.LogOfferIssued(ctx, result.Entry.ID.String(), slot.ID.String(), result.Deadline)
	s.publish(ctx, EventEntryNotified, result.Entry, "")

	s.dispatcher.Dispatch(result.Entry, slot)
	return result, nil
}

// expire moves a NOTIFIED entry to EXPIRED; any other status makes it a no-op
func (s *service) expire(ctx context.Context, id uuid.UUID, reason string) {
	entry, err := s.registry.load(ctx, id)
	if err != nil {
		s.log.ErrorWithContext(ctx, "Failed to load entry for expiry", err, map[string]interface{}{
			"entry_id": id.String(),
		})
		return
	}
	if entry.Status != StatusNotified {
		return
	}

	now := s.clock.Now()
	if entry.OfferDeadline != nil && now.Before(*entry.OfferDeadline) {
		s.scheduler.Arm(id, *entry.OfferDeadline)
		return
	}

	expired, changed, err := s.registry.apply(ctx, id, StatusChange{
		From:   StatusNotified,
		To:     StatusExpired,
		At:     now,
		Reason: reason,
	})
	if err != nil {
		if !IsConflictError(err) {
			s.log.ErrorWithContext(ctx, "Failed to expire offer", err, map[string]interface{}{
				"entry_id": id.String(),
			})
		}
		return
	}
	if !changed {
		return
	}

	s.afterExpiry(ctx, expired, reason)
}

func (s *service) afterExpiry(ctx context.Context, entry *WaitlistEntry, reason string) {
	s.scheduler.Disarm(entry.ID)
	slotID, hadOffer := s.releaseOffer(entry)

	metrics.TransitionsTotal.WithLabelValues(string(StatusNotified), string(StatusExpired)).Inc()
	s.log.LogOfferExpired(ctx, entry.ID.String(), slotID.String(), reason)
	s.publish(ctx, EventEntryExpired, entry, reason)

	excluded := []uuid.UUID{entry.ID}
	if s.config.RequeueOnExpiry {
		fresh, err := s.registry.Requeue(ctx, entry)
		if err != nil {
			s.log.ErrorWithContext(ctx, "Failed to requeue expired entry", err, map[string]interface{}{
				"entry_id": entry.ID.String(),
			})
		} else {
			excluded = append(excluded, fresh.ID)
			s.publish(ctx, EventEntryRequeued, fresh, "requeued from "+entry.ID.String())
		}
	}

	if !hadOffer {
		return
	}
	s.matcher.Exclude(slotID, excluded...)
	s.reoffer(ctx, slotID)
}

// reoffer re-runs matching on a released slot while it is still available
func (s *service) reoffer(ctx context.Context, slotID uuid.UUID) {
	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		s.log.ErrorWithContext(ctx, "Failed to load slot for re-matching", err, map[string]interface{}{
			"slot_id": slotID.String(),
		})
		s.matcher.ForgetSlot(slotID)
		return
	}

	if !slot.IsAvailableAt(s.clock.Now()) {
		s.dropSlot(ctx, slot, ErrSlotUnavailable.Error())
		return
	}

	if _, err := s.offer(ctx, slot); err != nil {
		if errors.Is(err, ErrNoMatch) || errors.Is(err, ErrSlotUnavailable) {
			s.dropSlot(ctx, slot, err.Error())
			return
		}
		s.log.ErrorWithContext(ctx, "Re-matching failed", err, map[string]interface{}{
			"slot_id": slotID.String(),
		})
	}
}

func (s *service) dropSlot(ctx context.Context, slot *AvailableSlot, reason string) {
	s.matcher.ForgetSlot(slot.ID)
	metrics.SlotsDroppedTotal.Inc()

	slotID := slot.ID
	s.events.Publish(ctx, Event{
		Type:       EventSlotDropped,
		SlotID:     &slotID,
		Date:       slot.Date,
		Reason:     reason,
		OccurredAt: s.clock.Now(),
	})
}

// releaseOffer clears the entry's pending offer, falling back to the stored slot id
func (s *service) releaseOffer(entry *WaitlistEntry) (uuid.UUID, bool) {
	if slotID, ok := s.matcher.ReleaseOffer(entry.ID); ok {
		return slotID, true
	}
	if entry.OfferedSlotID != nil {
		return *entry.OfferedSlotID, true
	}
	return uuid.Nil, false
}

func (s *service) publish(ctx context.Context, eventType EventType, entry *WaitlistEntry, reason string) {
	s.events.Publish(ctx, Event{
		Type:       eventType,
		EntryID:    entry.ID,
		SlotID:     cloneUUID(entry.OfferedSlotID),
		Date:       entry.Date,
		Status:     entry.Status,
		Deadline:   cloneTime(entry.OfferDeadline),
		Reason:     reason,
		OccurredAt: s.clock.Now(),
	})
}

func validateSlot(slot *AvailableSlot) error {
	if slot == nil {
		return newValidationError("slot", "is required")
	}

	verr := &ValidationError{}
	if _, err := time.Parse(DateLayout, slot.Date); err != nil {
		verr.add("date", "must match format "+DateLayout)
	}
	if _, err := time.Parse(TimeLayout, slot.Time); err != nil {
		verr.add("time", "must match format "+TimeLayout)
	}
	if slot.TableID == "" {
		verr.add("table_id", "is required")
	}
	if slot.Capacity < 1 {
		verr.add("capacity", "must be at least 1")
	}
	if slot.Reason == "" {
		slot.Reason = SlotReasonNewlyOpened
	} else if !slot.Reason.IsValid() {
		verr.add("reason", "must be one of CANCELLATION NO_SHOW EARLY_DEPARTURE NEWLY_OPENED")
	}
	if slot.AvailableUntil.IsZero() {
		verr.add("available_until", "is required")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
