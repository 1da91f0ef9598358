package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tablewait/internal/waitlist"
	"tablewait/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOffer() waitlist.Offer {
	return waitlist.Offer{
		EntryID:      uuid.New(),
		SlotID:       uuid.New(),
		CustomerName: "Ada",
		Contact: waitlist.Contact{
			Email:      "ada@example.com",
			Phone:      "+15550100",
			EmailOptIn: true,
			SMSOptIn:   true,
		},
		Date:      "2026-10-20",
		Time:      "19:30",
		TableID:   "T4",
		PartySize: 4,
		RespondBy: time.Date(2026, 10, 20, 18, 15, 0, 0, time.UTC),
	}
}

func newMockQueueSender(t *testing.T) (*QueueSender, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	config := DefaultKafkaProducerConfig()
	producer := NewKafkaNotificationProducerWith(mockProducer, config, logger.NewDiscard())
	return NewQueueSender(producer), mockProducer
}

func TestQueueSender_PublishesOfferPerChannel(t *testing.T) {
	sender, mockProducer := newMockQueueSender(t)
	offer := testOffer()

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var n OfferNotification
		if err := json.Unmarshal(val, &n); err != nil {
			return err
		}
		if n.Channel != waitlist.ChannelEmail || n.EntryID != offer.EntryID {
			return errors.New("unexpected email notification")
		}
		if n.Status != NotificationStatusQueued {
			return errors.New("notification should be queued")
		}
		return nil
	})
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var n OfferNotification
		if err := json.Unmarshal(val, &n); err != nil {
			return err
		}
		if n.Channel != waitlist.ChannelSMS || n.RecipientPhone != offer.Contact.Phone {
			return errors.New("unexpected sms notification")
		}
		return nil
	})

	require.NoError(t, sender.SendEmail(context.Background(), offer))
	require.NoError(t, sender.SendSMS(context.Background(), offer))
	require.NoError(t, mockProducer.Close())
}

func TestQueueSender_MissingAddressSkipsBroker(t *testing.T) {
	sender, mockProducer := newMockQueueSender(t)

	err := sender.SendPush(context.Background(), testOffer())

	assert.ErrorIs(t, err, ErrMissingRecipient)
	require.NoError(t, mockProducer.Close())
}

func TestQueueSender_BrokerFailure(t *testing.T) {
	sender, mockProducer := newMockQueueSender(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := sender.SendEmail(context.Background(), testOffer())

	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestQueueSender_CancelledContext(t *testing.T) {
	sender, mockProducer := newMockQueueSender(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sender.SendEmail(ctx, testOffer())

	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mockProducer.Close())
}

func TestLogSender(t *testing.T) {
	sender := NewLogSender(logger.NewDiscard())
	offer := testOffer()

	assert.NoError(t, sender.SendEmail(context.Background(), offer))
	assert.NoError(t, sender.SendSMS(context.Background(), offer))
	assert.ErrorIs(t, sender.SendPush(context.Background(), offer), ErrMissingRecipient)
}

func TestNotificationBuilder_WithOffer(t *testing.T) {
	now := time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)
	offer := testOffer()

	n := NewNotificationBuilder(now).
		WithChannel(waitlist.ChannelEmail).
		WithOffer(offer).
		Build()

	assert.Equal(t, NotificationTypeTableOffer, n.Type)
	assert.Equal(t, NotificationStatusPending, n.Status)
	assert.Equal(t, offer.EntryID.String(), n.GetPartitionKey())
	assert.Equal(t, "A table for 4 is available on 2026-10-20 at 19:30", n.Subject)
	assert.Equal(t, "T4", n.TemplateData["table_id"])
	assert.False(t, n.IsExpired(now))
	assert.True(t, n.IsExpired(offer.RespondBy))

	n.MarkFailed(now, errors.New("boom"))
	assert.Equal(t, NotificationStatusFailed, n.Status)
	require.NotNil(t, n.LastError)
	assert.Equal(t, "boom", *n.LastError)

	n.MarkSent(now)
	assert.Equal(t, NotificationStatusSent, n.Status)
	require.NotNil(t, n.SentAt)
}
