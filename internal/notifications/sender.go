package notifications

import (
	"context"
	"errors"
	"time"

	"tablewait/internal/waitlist"
	"tablewait/pkg/logger"
)

var ErrMissingRecipient = errors.New("offer has no address for this channel")

// QueueSender hands each channel's offer to the notification queue.
// A send succeeds once the broker has accepted the message.
type QueueSender struct {
	producer NotificationProducer
	now      func() time.Time
}

var _ waitlist.Sender = (*QueueSender)(nil)

func NewQueueSender(producer NotificationProducer) *QueueSender {
	return &QueueSender{
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *QueueSender) SendEmail(ctx context.Context, offer waitlist.Offer) error {
	if offer.Contact.Email == "" {
		return ErrMissingRecipient
	}
	return s.publish(ctx, waitlist.ChannelEmail, offer)
}

func (s *QueueSender) SendSMS(ctx context.Context, offer waitlist.Offer) error {
	if offer.Contact.Phone == "" {
		return ErrMissingRecipient
	}
	return s.publish(ctx, waitlist.ChannelSMS, offer)
}

func (s *QueueSender) SendPush(ctx context.Context, offer waitlist.Offer) error {
	if offer.Contact.PushToken == "" {
		return ErrMissingRecipient
	}
	return s.publish(ctx, waitlist.ChannelPush, offer)
}

func (s *QueueSender) publish(ctx context.Context, channel waitlist.Channel, offer waitlist.Offer) error {
	notification := NewNotificationBuilder(s.now()).
		WithChannel(channel).
		WithOffer(offer).
		Build()
	return s.producer.PublishNotification(ctx, notification)
}

// LogSender writes offers to the log; used when no broker is configured
type LogSender struct {
	log *logger.Logger
}

var _ waitlist.Sender = (*LogSender)(nil)

func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.GetDefault()
	}
	return &LogSender{log: log.WithComponent("notifications.log_sender")}
}

func (s *LogSender) SendEmail(ctx context.Context, offer waitlist.Offer) error {
	return s.write(ctx, waitlist.ChannelEmail, offer.Contact.Email, offer)
}

func (s *LogSender) SendSMS(ctx context.Context, offer waitlist.Offer) error {
	return s.write(ctx, waitlist.ChannelSMS, offer.Contact.Phone, offer)
}

func (s *LogSender) SendPush(ctx context.Context, offer waitlist.Offer) error {
	return s.write(ctx, waitlist.ChannelPush, offer.Contact.PushToken, offer)
}

func (s *LogSender) write(ctx context.Context, channel waitlist.Channel, address string, offer waitlist.Offer) error {
	if address == "" {
		return ErrMissingRecipient
	}
	s.log.InfoWithContext(ctx, "Table offer", map[string]interface{}{
		"channel":    string(channel),
		"entry_id":   offer.EntryID.String(),
		"slot_id":    offer.SlotID.String(),
		"date":       offer.Date,
		"time":       offer.Time,
		"respond_by": offer.RespondBy.Format(time.RFC3339),
	})
	return nil
}
