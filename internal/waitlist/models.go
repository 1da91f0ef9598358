package waitlist

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority represents the customer-importance tier of an entry
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityVIP    Priority = "VIP"
)

// IsValid checks if the priority is valid
func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

// Rank returns the ordering weight of the tier, higher ranks are served first
func (p Priority) Rank() int {
	switch p {
	case PriorityVIP:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Channel represents a notification delivery channel
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

// SlotReason describes why a table became available
type SlotReason string

const (
	SlotReasonCancellation   SlotReason = "CANCELLATION"
	SlotReasonNoShow         SlotReason = "NO_SHOW"
	SlotReasonEarlyDeparture SlotReason = "EARLY_DEPARTURE"
	SlotReasonNewlyOpened    SlotReason = "NEWLY_OPENED"
)

// IsValid checks if the slot reason is valid
func (r SlotReason) IsValid() bool {
	switch r {
	case SlotReasonCancellation, SlotReasonNoShow, SlotReasonEarlyDeparture, SlotReasonNewlyOpened:
		return true
	default:
		return false
	}
}

// DeliveryOutcome is the result of a single notification attempt
type DeliveryOutcome string

const (
	DeliverySent   DeliveryOutcome = "SENT"
	DeliveryFailed DeliveryOutcome = "FAILED"
)

const (
	// DateLayout is the format of reservation dates
	DateLayout = "2006-01-02"
	// TimeLayout is the format of acceptable and slot times
	TimeLayout = "15:04"
	// AnyTime matches every slot time of the requested date
	AnyTime = "*"

	DefaultConfirmationWindow       = 15 * time.Minute
	DefaultMaxPartySize             = 8
	DefaultEstimatedWaitPerPosition = 30 * time.Minute
	DefaultLockTimeout              = 5 * time.Second

	// MaxMatchRetries caps re-selection after a lost compare-and-set
	MaxMatchRetries = 1
)

// TimeSlots is an ordered list of acceptable "HH:MM" times stored as a comma-joined column
type TimeSlots []string

// Value implements driver.Valuer
func (t TimeSlots) Value() (driver.Value, error) {
	return strings.Join(t, ","), nil
}

// Scan implements sql.Scanner
func (t *TimeSlots) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case nil:
		*t = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into TimeSlots", value)
	}

	var out TimeSlots
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	*t = out
	return nil
}

// GormDataType implements gorm's schema.GormDataTypeInterface
func (TimeSlots) GormDataType() string {
	return "text"
}

// Accepts reports whether a slot at the given time satisfies the list.
// An empty list or the wildcard accepts any time.
func (t TimeSlots) Accepts(slotTime string) bool {
	if len(t) == 0 {
		return true
	}
	for _, candidate := range t {
		if candidate == AnyTime || candidate == slotTime {
			return true
		}
	}
	return false
}

// Contact holds the reachable channels of a customer and their opt-in flags
type Contact struct {
	Email      string `json:"email,omitempty" gorm:"type:varchar(255);index"`
	Phone      string `json:"phone,omitempty" gorm:"type:varchar(32)"`
	PushToken  string `json:"push_token,omitempty" gorm:"type:varchar(255)"`
	EmailOptIn bool   `json:"email_opt_in" gorm:"not null;default:false"`
	SMSOptIn   bool   `json:"sms_opt_in" gorm:"not null;default:false"`
	PushOptIn  bool   `json:"push_opt_in" gorm:"not null;default:false"`
}

// Channels returns the opted-in channels that have an address
func (c Contact) Channels() []Channel {
	var channels []Channel
	if c.EmailOptIn && c.Email != "" {
		channels = append(channels, ChannelEmail)
	}
	if c.SMSOptIn && c.Phone != "" {
		channels = append(channels, ChannelSMS)
	}
	if c.PushOptIn && c.PushToken != "" {
		channels = append(channels, ChannelPush)
	}
	return channels
}

// identityKey identifies the customer for the one-active-entry-per-date rule
func (c Contact) identityKey(name string) string {
	switch {
	case c.Email != "":
		return "email:" + strings.ToLower(strings.TrimSpace(c.Email))
	case c.Phone != "":
		return "phone:" + strings.TrimSpace(c.Phone)
	default:
		return "name:" + strings.ToLower(strings.TrimSpace(name))
	}
}

// WaitlistEntry represents a customer waiting for a table on a given date
type WaitlistEntry struct {
	ID                uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	CustomerName      string     `json:"customer_name" gorm:"type:varchar(120);not null"`
	Contact           Contact    `json:"contact" gorm:"embedded"`
	Date              string     `json:"date" gorm:"type:varchar(10);not null;index:idx_waitlist_date_status,priority:1"`
	TimeSlots         TimeSlots  `json:"time_slots" gorm:"type:text"`
	PartySize         int        `json:"party_size" gorm:"not null"`
	SeatingPreference string     `json:"seating_preference,omitempty" gorm:"type:varchar(50)"`
	Occasion          string     `json:"occasion,omitempty" gorm:"type:varchar(100)"`
	Notes             string     `json:"notes,omitempty" gorm:"type:text"`
	Priority          Priority   `json:"priority" gorm:"type:varchar(10);not null"`
	Status            Status     `json:"status" gorm:"type:varchar(20);not null;index:idx_waitlist_date_status,priority:2"`
	MaxWaitMinutes    int        `json:"max_wait_minutes" gorm:"not null;default:0"`
	OfferedSlotID     *uuid.UUID `json:"offered_slot_id,omitempty" gorm:"type:char(36)"`
	OfferDeadline     *time.Time `json:"offer_deadline,omitempty"`
	NotifiedAt        *time.Time `json:"notified_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	RequeuedFrom      *uuid.UUID `json:"requeued_from,omitempty" gorm:"type:char(36)"`
	CreatedAt         time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"not null"`

	// Derived from the waiting set, never persisted
	Position      int            `json:"position,omitempty" gorm:"-"`
	EstimatedWait *time.Duration `json:"estimated_wait,omitempty" gorm:"-"`
}

// TableName overrides the table name used by WaitlistEntry
func (WaitlistEntry) TableName() string {
	return "waitlist_entries"
}

// MaxWait returns the customer's own give-up timeout, zero when unbounded
func (e *WaitlistEntry) MaxWait() time.Duration {
	return time.Duration(e.MaxWaitMinutes) * time.Minute
}

// GaveUp reports whether the customer's max acceptable wait elapsed at now
func (e *WaitlistEntry) GaveUp(now time.Time) bool {
	if e.MaxWaitMinutes <= 0 {
		return false
	}
	return !now.Before(e.CreatedAt.Add(e.MaxWait()))
}

// Clone returns a deep copy of the entry
func (e *WaitlistEntry) Clone() *WaitlistEntry {
	out := *e
	if e.TimeSlots != nil {
		out.TimeSlots = append(TimeSlots(nil), e.TimeSlots...)
	}
	out.OfferedSlotID = cloneUUID(e.OfferedSlotID)
	out.RequeuedFrom = cloneUUID(e.RequeuedFrom)
	out.OfferDeadline = cloneTime(e.OfferDeadline)
	out.NotifiedAt = cloneTime(e.NotifiedAt)
	out.ResolvedAt = cloneTime(e.ResolvedAt)
	if e.EstimatedWait != nil {
		wait := *e.EstimatedWait
		out.EstimatedWait = &wait
	}
	return &out
}

// AvailableSlot is a concrete table opening fed by the reservation system
type AvailableSlot struct {
	ID             uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Date           string     `json:"date" gorm:"type:varchar(10);not null;index"`
	Time           string     `json:"time" gorm:"type:varchar(5);not null"`
	TableID        string     `json:"table_id" gorm:"type:varchar(64);not null"`
	Capacity       int        `json:"capacity" gorm:"not null"`
	Reason         SlotReason `json:"reason" gorm:"type:varchar(20);not null"`
	AvailableUntil time.Time  `json:"available_until" gorm:"not null"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null"`
}

// TableName overrides the table name used by AvailableSlot
func (AvailableSlot) TableName() string {
	return "waitlist_slots"
}

// IsAvailableAt reports whether the slot can still be offered at now
func (s *AvailableSlot) IsAvailableAt(now time.Time) bool {
	return now.Before(s.AvailableUntil)
}

// NotificationAttempt records one delivery attempt of an offer on one channel
type NotificationAttempt struct {
	ID          uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	EntryID     uuid.UUID       `json:"entry_id" gorm:"type:char(36);not null;index"`
	SlotID      uuid.UUID       `json:"slot_id" gorm:"type:char(36);not null"`
	Channel     Channel         `json:"channel" gorm:"type:varchar(10);not null"`
	Outcome     DeliveryOutcome `json:"outcome" gorm:"type:varchar(10);not null"`
	RetryCount  int             `json:"retry_count" gorm:"not null;default:0"`
	Error       *string         `json:"error,omitempty" gorm:"type:text"`
	AttemptedAt time.Time       `json:"attempted_at" gorm:"not null"`
}

// TableName overrides the table name used by NotificationAttempt
func (NotificationAttempt) TableName() string {
	return "waitlist_notification_attempts"
}

// TransitionRecord is the retained history of a status change
type TransitionRecord struct {
	ID         uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	EntryID    uuid.UUID  `json:"entry_id" gorm:"type:char(36);not null;index"`
	Date       string     `json:"date" gorm:"type:varchar(10);not null;index"`
	FromStatus Status     `json:"from_status" gorm:"type:varchar(20);not null"`
	ToStatus   Status     `json:"to_status" gorm:"type:varchar(20);not null"`
	SlotID     *uuid.UUID `json:"slot_id,omitempty" gorm:"type:char(36)"`
	Reason     string     `json:"reason,omitempty" gorm:"type:varchar(255)"`
	OccurredAt time.Time  `json:"occurred_at" gorm:"not null;index"`
}

// TableName overrides the table name used by TransitionRecord
func (TransitionRecord) TableName() string {
	return "waitlist_transitions"
}

// rankLess orders entries by tier desc, creation asc, then id for determinism
func rankLess(a, b *WaitlistEntry) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// SortByRank sorts entries in matching order
func SortByRank(entries []WaitlistEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return rankLess(&entries[i], &entries[j])
	})
}

// assignPositions sets the dense 1-based rank and advisory wait on a ranked slice
func assignPositions(entries []WaitlistEntry, perPosition time.Duration) {
	for i := range entries {
		entries[i].Position = i + 1
		entries[i].EstimatedWait = nil
		if perPosition > 0 && i > 0 {
			wait := time.Duration(i) * perPosition
			entries[i].EstimatedWait = &wait
		}
	}
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	out := *id
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
