package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tablewait/internal/waitlist"
	"tablewait/pkg/logger"

	"github.com/IBM/sarama"
)

type NotificationConsumer interface {
	StartConsumers(ctx context.Context, numWorkers int) error
	Stop() error
	HealthCheck(ctx context.Context) error
}

type ConsumerConfig struct {
	Brokers              []string
	GroupID              string
	Topics               []string
	SessionTimeoutMs     int
	HeartbeatMs          int
	RetryBackoffMs       int
	MaxProcessingTime    time.Duration
	AutoCommit           bool
	OffsetOldest         bool
	MaxRetries           int
	RetryBackoffDuration time.Duration
}

func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:              []string{"localhost:9092"},
		GroupID:              "tablewait-notification-workers",
		Topics:               []string{"waitlist-offers"},
		SessionTimeoutMs:     30000,
		HeartbeatMs:          3000,
		RetryBackoffMs:       100,
		MaxProcessingTime:    5 * time.Minute,
		AutoCommit:           true,
		OffsetOldest:         false,
		MaxRetries:           3,
		RetryBackoffDuration: time.Second,
	}
}

type KafkaNotificationConsumer struct {
	consumerGroup sarama.ConsumerGroup
	config        *ConsumerConfig
	deliverers    map[waitlist.Channel]Deliverer
	log           *logger.Logger
	workers       sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewKafkaNotificationConsumer(config *ConsumerConfig, deliverers map[waitlist.Channel]Deliverer, log *logger.Logger) (*KafkaNotificationConsumer, error) {
	saramaConfig := sarama.NewConfig()

	saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMs) * time.Millisecond
	saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatMs) * time.Millisecond
	saramaConfig.Consumer.Retry.Backoff = time.Duration(config.RetryBackoffMs) * time.Millisecond
	saramaConfig.Consumer.MaxProcessingTime = config.MaxProcessingTime
	saramaConfig.Consumer.Return.Errors = true

	if config.OffsetOldest {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if config.AutoCommit {
		saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
		saramaConfig.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second
	}

	consumerGroup, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	if log == nil {
		log = logger.GetDefault()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &KafkaNotificationConsumer{
		consumerGroup: consumerGroup,
		config:        config,
		deliverers:    deliverers,
		log:           log.WithComponent("notifications.consumer"),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func (knc *KafkaNotificationConsumer) StartConsumers(ctx context.Context, numWorkers int) error {
	knc.log.Info("Starting notification consumer workers", "workers", numWorkers, "topics", knc.config.Topics)

	go knc.handleErrors()

	for i := 0; i < numWorkers; i++ {
		knc.workers.Add(1)
		go func(workerID int) {
			defer knc.workers.Done()
			knc.runWorker(ctx, workerID)
		}(i)
	}
	return nil
}

func (knc *KafkaNotificationConsumer) runWorker(ctx context.Context, workerID int) {
	handler := newConsumerGroupHandler(knc.config, knc.deliverers, workerID, knc.log)

	for {
		select {
		case <-ctx.Done():
			return
		case <-knc.ctx.Done():
			return
		default:
			if err := knc.consumerGroup.Consume(ctx, knc.config.Topics, handler); err != nil {
				knc.log.Warn("Error consuming messages", "worker", workerID, "error", err.Error())
				time.Sleep(time.Second)
			}
		}
	}
}

func (knc *KafkaNotificationConsumer) handleErrors() {
	for err := range knc.consumerGroup.Errors() {
		knc.log.Warn("Consumer group error", "error", err.Error())
	}
}

func (knc *KafkaNotificationConsumer) Stop() error {
	knc.cancel()

	if err := knc.consumerGroup.Close(); err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	knc.workers.Wait()
	return nil
}

func (knc *KafkaNotificationConsumer) HealthCheck(ctx context.Context) error {
	select {
	case <-knc.ctx.Done():
		return fmt.Errorf("consumer context is cancelled")
	default:
		if len(knc.deliverers) == 0 {
			return fmt.Errorf("no deliverers configured")
		}
		return nil
	}
}

type ConsumerGroupHandler struct {
	config     *ConsumerConfig
	deliverers map[waitlist.Channel]Deliverer
	workerID   int
	log        *logger.Logger
	now        func() time.Time
}

func newConsumerGroupHandler(config *ConsumerConfig, deliverers map[waitlist.Channel]Deliverer, workerID int, log *logger.Logger) *ConsumerGroupHandler {
	return &ConsumerGroupHandler{
		config:     config,
		deliverers: deliverers,
		workerID:   workerID,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := h.processMessage(session.Context(), message); err != nil {
				h.log.Warn("Error processing notification", "worker", h.workerID, "offset", message.Offset, "error", err.Error())
			}
			// Failed offers are not redelivered; the waitlist deadline moves on without them
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *ConsumerGroupHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var notification OfferNotification
	if err := json.Unmarshal(message.Value, &notification); err != nil {
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	if notification.IsExpired(h.now()) {
		notification.Status = NotificationStatusExpired
		h.log.DebugWithContext(ctx, "Offer notification past its deadline, skipping", map[string]interface{}{
			"entry_id": notification.EntryID.String(),
		})
		return nil
	}

	deliverer, ok := h.deliverers[notification.Channel]
	if !ok {
		return fmt.Errorf("no deliverer for channel %s", notification.Channel)
	}

	notification.Status = NotificationStatusSending
	if err := h.executeWithRetry(ctx, deliverer, &notification); err != nil {
		notification.MarkFailed(h.now(), err)
		return err
	}

	notification.MarkSent(h.now())
	return nil
}

func (h *ConsumerGroupHandler) executeWithRetry(ctx context.Context, deliverer Deliverer, notification *OfferNotification) error {
	maxRetries := h.config.MaxRetries
	backoff := h.config.RetryBackoffDuration

	for attempt := 0; ; attempt++ {
		err := deliverer.Deliver(ctx, notification)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		notification.RetryCount = attempt + 1
		delay := backoff * time.Duration(1<<attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
