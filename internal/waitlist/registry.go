package waitlist

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"tablewait/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RegistryConfig holds intake and ordering rules
type RegistryConfig struct {
	MaxPartySize             int
	DefaultMaxWait           time.Duration
	EstimatedWaitPerPosition time.Duration
	LockTimeout              time.Duration
	// Location decides which calendar day counts as "today" for past-date checks
	Location *time.Location
}

// DefaultRegistryConfig returns default registry configuration
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxPartySize:             DefaultMaxPartySize,
		EstimatedWaitPerPosition: DefaultEstimatedWaitPerPosition,
		LockTimeout:              DefaultLockTimeout,
		Location:                 time.UTC,
	}
}

// Registry owns the entry set, its ordering and every status change
type Registry struct {
	repo     Repository
	locker   Locker
	clock    Clock
	config   RegistryConfig
	validate *validator.Validate
	log      *logger.Logger
}

// NewRegistry creates a new waitlist registry
func NewRegistry(repo Repository, locker Locker, clock Clock, config RegistryConfig, log *logger.Logger) *Registry {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = DefaultLockTimeout
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Registry{
		repo:     repo,
		locker:   locker,
		clock:    clock,
		config:   config,
		validate: newValidator(),
		log:      log.WithComponent("waitlist.registry"),
	}
}

// Add validates the request and inserts a new WAITING entry
func (r *Registry) Add(ctx context.Context, req *JoinWaitlistRequest) (*WaitlistEntry, error) {
	now := r.clock.Now()
	if err := r.validateJoin(req, now); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	maxWait := req.MaxWaitMinutes
	if maxWait == 0 && r.config.DefaultMaxWait > 0 {
		maxWait = int(r.config.DefaultMaxWait / time.Minute)
	}

	entry := &WaitlistEntry{
		ID:           uuid.New(),
		CustomerName: strings.TrimSpace(req.CustomerName),
		Contact: Contact{
			Email:      strings.TrimSpace(req.Email),
			Phone:      strings.TrimSpace(req.Phone),
			PushToken:  req.PushToken,
			EmailOptIn: req.EmailOptIn,
			SMSOptIn:   req.SMSOptIn,
			PushOptIn:  req.PushOptIn,
		},
		Date:              req.Date,
		TimeSlots:         append(TimeSlots(nil), req.TimeSlots...),
		PartySize:         req.PartySize,
		SeatingPreference: req.SeatingPreference,
		Occasion:          req.Occasion,
		Notes:             req.Notes,
		Priority:          priority,
		Status:            StatusWaiting,
		MaxWaitMinutes:    maxWait,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	return r.insert(ctx, entry)
}

// Requeue inserts a fresh WAITING copy of an expired entry's request
func (r *Registry) Requeue(ctx context.Context, expired *WaitlistEntry) (*WaitlistEntry, error) {
	now := r.clock.Now()
	fresh := expired.Clone()
	fresh.ID = uuid.New()
	fresh.Status = StatusWaiting
	fresh.OfferedSlotID = nil
	fresh.OfferDeadline = nil
	fresh.NotifiedAt = nil
	fresh.ResolvedAt = nil
	fresh.RequeuedFrom = &expired.ID
	fresh.CreatedAt = now
	fresh.UpdatedAt = now
	fresh.Position = 0
	fresh.EstimatedWait = nil

	return r.insert(ctx, fresh)
}

func (r *Registry) insert(ctx context.Context, entry *WaitlistEntry) (*WaitlistEntry, error) {
	unlock, err := r.LockDate(ctx, entry.Date)
	if err != nil {
		return nil, err
	}
	defer unlock()

	active, err := r.repo.ListEntries(ctx, EntryFilter{
		Date:     entry.Date,
		Statuses: []Status{StatusWaiting, StatusNotified},
	})
	if err != nil {
		return nil, persistenceError("list active entries", err)
	}
	key := entry.Contact.identityKey(entry.CustomerName)
	for i := range active {
		if active[i].Contact.identityKey(active[i].CustomerName) == key {
			return nil, newValidationError("customer", ErrDuplicateActiveEntry.Error())
		}
	}

	if err := r.repo.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateActiveEntry) {
			return nil, newValidationError("customer", err.Error())
		}
		return nil, persistenceError("create entry", err)
	}

	waiting, err := r.rankedWaiting(ctx, entry.Date)
	if err != nil {
		return nil, err
	}
	for i := range waiting {
		if waiting[i].ID == entry.ID {
			return &waiting[i], nil
		}
	}
	return entry, nil
}

// Get returns an entry with its current status, and its position while WAITING
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	entry, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != StatusWaiting {
		return entry, nil
	}

	waiting, err := r.rankedWaiting(ctx, entry.Date)
	if err != nil {
		return nil, err
	}
	for i := range waiting {
		if waiting[i].ID == id {
			return &waiting[i], nil
		}
	}
	return entry, nil
}

// ListWaiting returns WAITING entries for a date in rank order with dense positions
func (r *Registry) ListWaiting(ctx context.Context, date string) ([]WaitlistEntry, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, newValidationError("date", "must match format "+DateLayout)
	}

	unlock, err := r.LockDate(ctx, date)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return r.rankedWaiting(ctx, date)
}

// rankedWaiting reads and ranks the waiting set; callers needing a stable view hold the date lock
func (r *Registry) rankedWaiting(ctx context.Context, date string) ([]WaitlistEntry, error) {
	entries, err := r.repo.ListEntries(ctx, EntryFilter{
		Date:     date,
		Statuses: []Status{StatusWaiting},
	})
	if err != nil {
		return nil, persistenceError("list waiting entries", err)
	}

	SortByRank(entries)
	assignPositions(entries, r.config.EstimatedWaitPerPosition)
	return entries, nil
}

// LockDate acquires the per-date matching lock, bounded by the configured timeout
func (r *Registry) LockDate(ctx context.Context, date string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, r.config.LockTimeout)
	defer cancel()

	unlock, err := r.locker.Lock(lockCtx, date)
	if err != nil {
		return nil, fmt.Errorf("waitlist date %s is busy: %w", date, err)
	}
	return unlock, nil
}

// Transition atomically moves an entry from one status to another
func (r *Registry) Transition(ctx context.Context, id uuid.UUID, from, to Status) (*WaitlistEntry, error) {
	entry, _, err := r.apply(ctx, id, StatusChange{From: from, To: to, At: r.clock.Now()})
	return entry, err
}

// apply runs a compare-and-set and classifies a lost swap.
// changed is false for an idempotent retry of a terminal transition.
func (r *Registry) apply(ctx context.Context, id uuid.UUID, change StatusChange) (*WaitlistEntry, bool, error) {
	if !change.From.CanTransitionTo(change.To) {
		if _, err := r.load(ctx, id); err != nil {
			return nil, false, err
		}
		return nil, false, &InvalidTransitionError{EntryID: id, From: change.From, To: change.To}
	}

	swapped, err := r.repo.ChangeStatus(ctx, id, change)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		return nil, false, persistenceError("change status", err)
	}

	current, err := r.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if swapped {
		return current, true, nil
	}

	switch {
	case current.Status == change.To && change.To.IsTerminal():
		return current, false, nil
	case current.Status != change.From:
		return current, false, &ConflictError{EntryID: id, Expected: change.From, Actual: current.Status}
	case change.DeadlineAfter != nil:
		return current, false, &ExpiredOfferError{EntryID: id, Deadline: current.OfferDeadline}
	default:
		return current, false, &ConflictError{EntryID: id, Expected: change.From, Actual: current.Status}
	}
}

// Cancel moves any non-terminal entry to CANCELLED; cancelling a terminal entry is a no-op.
// It returns the status the entry held before the call.
func (r *Registry) Cancel(ctx context.Context, id uuid.UUID, reason string) (*WaitlistEntry, Status, bool, error) {
	// Statuses only move forward, so a lost swap can repeat at most once per remaining state
	for attempt := 0; attempt < len(validTransitions)+1; attempt++ {
		current, err := r.load(ctx, id)
		if err != nil {
			return nil, "", false, err
		}
		if current.Status.IsTerminal() {
			return current, current.Status, false, nil
		}

		entry, changed, err := r.apply(ctx, id, StatusChange{
			From:   current.Status,
			To:     StatusCancelled,
			At:     r.clock.Now(),
			Reason: reason,
		})
		if IsConflictError(err) {
			continue
		}
		if err != nil {
			return nil, "", false, err
		}
		return entry, current.Status, changed, nil
	}

	current, err := r.load(ctx, id)
	if err != nil {
		return nil, "", false, err
	}
	return current, current.Status, false, nil
}

func (r *Registry) load(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	entry, err := r.repo.GetEntryByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, persistenceError("get entry", err)
	}
	return entry, nil
}

// validateJoin checks struct tags, then the rules that depend on configuration and time
func (r *Registry) validateJoin(req *JoinWaitlistRequest, now time.Time) error {
	if req == nil {
		return newValidationError("request", "is required")
	}

	verr := &ValidationError{}
	if err := r.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return newValidationError("request", err.Error())
		}
		for _, fe := range fieldErrs {
			verr.add(fe.Field(), describeFieldError(fe))
		}
	}

	if r.config.MaxPartySize > 0 && req.PartySize > r.config.MaxPartySize {
		verr.add("party_size", fmt.Sprintf("must be at most %d", r.config.MaxPartySize))
	}

	if date, err := time.ParseInLocation(DateLayout, req.Date, r.config.Location); err == nil {
		today := now.In(r.config.Location).Format(DateLayout)
		if date.Format(DateLayout) < today {
			verr.add("date", "must not be in the past")
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slottime", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == AnyTime {
			return true
		}
		_, err := time.Parse(TimeLayout, value)
		return err == nil
	})
	return v
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "datetime":
		return "must match format " + fe.Param()
	case "slottime":
		return "must be HH:MM or " + AnyTime
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed on " + fe.Tag()
	}
}
