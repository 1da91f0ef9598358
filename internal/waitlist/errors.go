package waitlist

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEntryNotFound        = errors.New("waitlist entry not found")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrDuplicateActiveEntry = errors.New("customer already has an active waitlist entry for this date")
	ErrNoMatch              = errors.New("no compatible waiting entry for slot")
	ErrSlotOfferPending     = errors.New("slot already has a pending offer")
	ErrSlotUnavailable      = errors.New("slot availability deadline has passed")
	ErrNoDeliveryChannels   = errors.New("entry has no opted-in delivery channel")
)

// ValidationError reports malformed entry or slot input, keyed by field
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError is returned when a compare-and-set observed an unexpected status
type ConflictError struct {
	EntryID  uuid.UUID
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("entry %s: expected status %s, found %s", e.EntryID, e.Expected, e.Actual)
}

// ExpiredOfferError is returned when a confirmation arrives at or after the offer deadline
type ExpiredOfferError struct {
	EntryID  uuid.UUID
	Deadline *time.Time
}

func (e *ExpiredOfferError) Error() string {
	if e.Deadline != nil {
		return fmt.Sprintf("offer for entry %s is no longer valid (deadline %s)", e.EntryID, e.Deadline.Format(time.RFC3339))
	}
	return fmt.Sprintf("offer for entry %s is no longer valid", e.EntryID)
}

// InvalidTransitionError is returned for transitions the lifecycle does not allow
type InvalidTransitionError struct {
	EntryID uuid.UUID
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("entry %s: transition %s -> %s is not allowed", e.EntryID, e.From, e.To)
}

// DeliveryFailure reports a failed notification channel
type DeliveryFailure struct {
	EntryID uuid.UUID
	Channel Channel
	Err     error
}

func (e *DeliveryFailure) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("delivery failed for entry %s: %v", e.EntryID, e.Err)
	}
	return fmt.Sprintf("delivery via %s failed for entry %s: %v", e.Channel, e.EntryID, e.Err)
}

func (e *DeliveryFailure) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a repository failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflictError checks if an error is a ConflictError
func IsConflictError(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsExpiredOfferError checks if an error is an ExpiredOfferError
func IsExpiredOfferError(err error) bool {
	var target *ExpiredOfferError
	return errors.As(err, &target)
}

// IsInvalidTransitionError checks if an error is an InvalidTransitionError
func IsInvalidTransitionError(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

// IsDeliveryFailure checks if an error is a DeliveryFailure
func IsDeliveryFailure(err error) bool {
	var target *DeliveryFailure
	return errors.As(err, &target)
}

// IsPersistenceError checks if an error is a PersistenceError
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
