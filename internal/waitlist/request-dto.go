package waitlist

import (
	"time"

	"github.com/google/uuid"
)

type JoinWaitlistRequest struct {
	CustomerName      string   `json:"customer_name" validate:"required,max=120"`
	Email             string   `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Phone             string   `json:"phone,omitempty" validate:"omitempty,max=32"`
	PushToken         string   `json:"push_token,omitempty" validate:"omitempty,max=255"`
	EmailOptIn        bool     `json:"email_opt_in"`
	SMSOptIn          bool     `json:"sms_opt_in"`
	PushOptIn         bool     `json:"push_opt_in"`
	Date              string   `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlots         []string `json:"time_slots" validate:"required,min=1,max=12,dive,slottime"`
	PartySize         int      `json:"party_size" validate:"required,min=1"`
	SeatingPreference string   `json:"seating_preference,omitempty" validate:"max=50"`
	Occasion          string   `json:"occasion,omitempty" validate:"max=100"`
	Notes             string   `json:"notes,omitempty" validate:"max=1000"`
	Priority          Priority `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH VIP"`
	MaxWaitMinutes    int      `json:"max_wait_minutes,omitempty" validate:"min=0,max=1440"`
}

type SlotAvailableRequest struct {
	ID             *uuid.UUID `json:"id,omitempty"`
	Date           string     `json:"date" validate:"required,datetime=2006-01-02"`
	Time           string     `json:"time" validate:"required,datetime=15:04"`
	TableID        string     `json:"table_id" validate:"required,max=64"`
	Capacity       int        `json:"capacity" validate:"required,min=1"`
	Reason         SlotReason `json:"reason" validate:"required,oneof=CANCELLATION NO_SHOW EARLY_DEPARTURE NEWLY_OPENED"`
	AvailableUntil time.Time  `json:"available_until" validate:"required"`
}

// ToSlot converts the request into a slot, assigning an id when absent
func (r *SlotAvailableRequest) ToSlot() *AvailableSlot {
	id := uuid.New()
	if r.ID != nil && *r.ID != uuid.Nil {
		id = *r.ID
	}
	return &AvailableSlot{
		ID:             id,
		Date:           r.Date,
		Time:           r.Time,
		TableID:        r.TableID,
		Capacity:       r.Capacity,
		Reason:         r.Reason,
		AvailableUntil: r.AvailableUntil.UTC(),
	}
}

type CancelEntryRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=255"`
}
