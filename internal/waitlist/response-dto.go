package waitlist

import (
	"time"

	"github.com/google/uuid"
)

type EntryResponse struct {
	ID                   uuid.UUID  `json:"id"`
	CustomerName         string     `json:"customer_name"`
	Date                 string     `json:"date"`
	TimeSlots            []string   `json:"time_slots"`
	PartySize            int        `json:"party_size"`
	Priority             Priority   `json:"priority"`
	Status               Status     `json:"status"`
	Position             int        `json:"position,omitempty"`
	EstimatedWaitMinutes *int       `json:"estimated_wait_minutes,omitempty"`
	OfferedSlotID        *uuid.UUID `json:"offered_slot_id,omitempty"`
	OfferDeadline        *time.Time `json:"offer_deadline,omitempty"`
	NotifiedAt           *time.Time `json:"notified_at,omitempty"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	RequeuedFrom         *uuid.UUID `json:"requeued_from,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

type EntryListResponse struct {
	Date    string          `json:"date"`
	Total   int             `json:"total"`
	Entries []EntryResponse `json:"entries"`
}

type SlotMatchResponse struct {
	SlotID   uuid.UUID      `json:"slot_id"`
	Matched  bool           `json:"matched"`
	Entry    *EntryResponse `json:"entry,omitempty"`
	Deadline *time.Time     `json:"deadline,omitempty"`
}

func NewEntryResponse(entry *WaitlistEntry) EntryResponse {
	resp := EntryResponse{
		ID:            entry.ID,
		CustomerName:  entry.CustomerName,
		Date:          entry.Date,
		TimeSlots:     append([]string{}, entry.TimeSlots...),
		PartySize:     entry.PartySize,
		Priority:      entry.Priority,
		Status:        entry.Status,
		Position:      entry.Position,
		OfferedSlotID: entry.OfferedSlotID,
		OfferDeadline: entry.OfferDeadline,
		NotifiedAt:    entry.NotifiedAt,
		ResolvedAt:    entry.ResolvedAt,
		RequeuedFrom:  entry.RequeuedFrom,
		CreatedAt:     entry.CreatedAt,
	}
	if entry.EstimatedWait != nil {
		minutes := int(entry.EstimatedWait.Minutes())
		resp.EstimatedWaitMinutes = &minutes
	}
	return resp
}

func NewEntryListResponse(date string, entries []WaitlistEntry) EntryListResponse {
	resp := EntryListResponse{
		Date:    date,
		Total:   len(entries),
		Entries: make([]EntryResponse, 0, len(entries)),
	}
	for i := range entries {
		resp.Entries = append(resp.Entries, NewEntryResponse(&entries[i]))
	}
	return resp
}

func NewSlotMatchResponse(slot *AvailableSlot, result *MatchResult) SlotMatchResponse {
	resp := SlotMatchResponse{SlotID: slot.ID}
	if result == nil {
		return resp
	}
	entry := NewEntryResponse(result.Entry)
	deadline := result.Deadline
	resp.Matched = true
	resp.Entry = &entry
	resp.Deadline = &deadline
	return resp
}
