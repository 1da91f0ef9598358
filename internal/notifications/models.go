package notifications

import (
	"encoding/json"
	"fmt"
	"time"

	"tablewait/internal/waitlist"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationTypeTableOffer NotificationType = "TABLE_OFFER"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "PENDING"
	NotificationStatusQueued  NotificationStatus = "QUEUED"
	NotificationStatusSending NotificationStatus = "SENDING"
	NotificationStatusSent    NotificationStatus = "SENT"
	NotificationStatusFailed  NotificationStatus = "FAILED"
	NotificationStatusExpired NotificationStatus = "EXPIRED"
)

// OfferNotification is one channel's copy of a table offer, as carried on the queue
type OfferNotification struct {
	ID      uuid.UUID        `json:"id"`
	Type    NotificationType `json:"type"`
	Channel waitlist.Channel `json:"channel"`

	EntryID uuid.UUID `json:"entry_id"`
	SlotID  uuid.UUID `json:"slot_id"`

	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	RecipientPhone string `json:"recipient_phone,omitempty"`
	PushToken      string `json:"push_token,omitempty"`

	Subject      string                 `json:"subject"`
	TemplateData map[string]interface{} `json:"template_data"`

	// Offers are useless after the customer's deadline
	RespondBy time.Time `json:"respond_by"`

	Status     NotificationStatus `json:"status"`
	RetryCount int                `json:"retry_count"`
	LastError  *string            `json:"last_error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	SentAt     *time.Time         `json:"sent_at,omitempty"`
}

type NotificationBuilder struct {
	notification *OfferNotification
}

func NewNotificationBuilder(now time.Time) *NotificationBuilder {
	return &NotificationBuilder{
		notification: &OfferNotification{
			ID:           uuid.New(),
			Type:         NotificationTypeTableOffer,
			Status:       NotificationStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
			TemplateData: make(map[string]interface{}),
		},
	}
}

func (nb *NotificationBuilder) WithChannel(channel waitlist.Channel) *NotificationBuilder {
	nb.notification.Channel = channel
	return nb
}

// WithOffer copies recipient, slot and deadline details from an offer
func (nb *NotificationBuilder) WithOffer(offer waitlist.Offer) *NotificationBuilder {
	n := nb.notification
	n.EntryID = offer.EntryID
	n.SlotID = offer.SlotID
	n.RecipientName = offer.CustomerName
	n.RecipientEmail = offer.Contact.Email
	n.RecipientPhone = offer.Contact.Phone
	n.PushToken = offer.Contact.PushToken
	n.RespondBy = offer.RespondBy
	n.Subject = offerSubject(offer)
	n.TemplateData = map[string]interface{}{
		"date":       offer.Date,
		"time":       offer.Time,
		"table_id":   offer.TableID,
		"party_size": offer.PartySize,
		"respond_by": offer.RespondBy.Format(time.RFC3339),
		"entry_id":   offer.EntryID.String(),
	}
	return nb
}

func (nb *NotificationBuilder) Build() *OfferNotification {
	return nb.notification
}

func offerSubject(offer waitlist.Offer) string {
	return fmt.Sprintf("A table for %d is available on %s at %s", offer.PartySize, offer.Date, offer.Time)
}

// GetPartitionKey keeps every message about one entry on one partition
func (n *OfferNotification) GetPartitionKey() string {
	return n.EntryID.String()
}

func (n *OfferNotification) ToJSON() ([]byte, error) {
	return json.Marshal(n)
}

func (n *OfferNotification) IsExpired(now time.Time) bool {
	return !n.RespondBy.IsZero() && !now.Before(n.RespondBy)
}

func (n *OfferNotification) MarkSent(now time.Time) {
	n.Status = NotificationStatusSent
	n.SentAt = &now
	n.UpdatedAt = now
}

func (n *OfferNotification) MarkFailed(now time.Time, err error) {
	n.Status = NotificationStatusFailed
	n.UpdatedAt = now

	errorStr := err.Error()
	n.LastError = &errorStr
}
