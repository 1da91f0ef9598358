package notifications

import (
	"context"
	"fmt"
	"sync"

	"tablewait/internal/shared/config"
	"tablewait/internal/waitlist"
	"tablewait/pkg/logger"
)

// Service owns the offer delivery pipeline: the sender the waitlist engine
// calls, and the queue workers that turn queued offers into emails and texts.
type Service interface {
	Sender() waitlist.Sender
	Start(ctx context.Context) error
	Stop() error
	HealthCheck(ctx context.Context) error
}

type notificationService struct {
	cfg      config.KafkaConfig
	sender   waitlist.Sender
	producer NotificationProducer
	consumer NotificationConsumer
	log      *logger.Logger

	// State
	isRunning bool
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewService builds the pipeline from configuration. Without Kafka offers are
// written to the log, which keeps local development broker free.
func NewService(cfg *config.Config, log *logger.Logger) (Service, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	log = log.WithComponent("notifications")

	ctx, cancel := context.WithCancel(context.Background())
	ns := &notificationService{
		cfg:    cfg.Kafka,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	if !cfg.Kafka.Enabled {
		ns.sender = NewLogSender(log)
		log.Info("Kafka disabled, offers will be logged")
		return ns, nil
	}

	producerConfig := DefaultKafkaProducerConfig()
	producerConfig.Brokers = cfg.Kafka.Brokers
	producerConfig.NotificationTopic = cfg.Kafka.OfferTopic

	producer, err := NewKafkaNotificationProducer(producerConfig, log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create notification producer: %w", err)
	}
	ns.producer = producer
	ns.sender = NewQueueSender(producer)

	if !cfg.Kafka.RunConsumer {
		return ns, nil
	}

	deliverers, err := buildDeliverers(cfg.Email, log)
	if err != nil {
		cancel()
		producer.Close()
		return nil, err
	}

	consumerConfig := DefaultConsumerConfig()
	consumerConfig.Brokers = cfg.Kafka.Brokers
	consumerConfig.Topics = []string{cfg.Kafka.OfferTopic}
	consumerConfig.GroupID = cfg.Kafka.ConsumerGroupID

	consumer, err := NewKafkaNotificationConsumer(consumerConfig, deliverers, log)
	if err != nil {
		cancel()
		producer.Close()
		return nil, fmt.Errorf("failed to create notification consumer: %w", err)
	}
	ns.consumer = consumer

	log.Info("Notification pipeline initialized", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.OfferTopic)
	return ns, nil
}

// buildDeliverers maps channels to their gateways; email falls back to the log
// when SMTP is not configured
func buildDeliverers(cfg config.EmailConfig, log *logger.Logger) (map[waitlist.Channel]Deliverer, error) {
	logDeliverer := NewLogDeliverer(log)
	deliverers := map[waitlist.Channel]Deliverer{
		waitlist.ChannelEmail: logDeliverer,
		waitlist.ChannelSMS:   logDeliverer,
		waitlist.ChannelPush:  logDeliverer,
	}
	if cfg.SMTPHost == "" {
		return deliverers, nil
	}

	smtpService, err := NewSMTPEmailService(&SMTPConfig{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
		UseTLS:    cfg.UseTLS,
	}, log)
	if err != nil {
		return nil, err
	}
	deliverers[waitlist.ChannelEmail] = smtpService
	return deliverers, nil
}

func (ns *notificationService) Sender() waitlist.Sender {
	return ns.sender
}

func (ns *notificationService) Start(ctx context.Context) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.isRunning {
		return fmt.Errorf("notification service is already running")
	}

	if ns.consumer != nil {
		if err := ns.consumer.StartConsumers(ns.ctx, ns.cfg.ConsumerWorkers); err != nil {
			return fmt.Errorf("failed to start consumers: %w", err)
		}
	}

	ns.isRunning = true
	ns.log.Info("Notification service started")
	return nil
}

func (ns *notificationService) Stop() error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if !ns.isRunning {
		return nil
	}

	ns.cancel()

	if ns.consumer != nil {
		if err := ns.consumer.Stop(); err != nil {
			ns.log.Warn("Error stopping consumer", "error", err.Error())
		}
	}
	if ns.producer != nil {
		if err := ns.producer.Close(); err != nil {
			ns.log.Warn("Error closing producer", "error", err.Error())
		}
	}

	ns.isRunning = false
	ns.log.Info("Notification service stopped")
	return nil
}

func (ns *notificationService) HealthCheck(ctx context.Context) error {
	ns.mu.RLock()
	isRunning := ns.isRunning
	ns.mu.RUnlock()

	if !isRunning {
		return fmt.Errorf("notification service is not running")
	}

	if ns.producer != nil {
		if err := ns.producer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("producer health check failed: %w", err)
		}
	}
	if ns.consumer != nil {
		if err := ns.consumer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("consumer health check failed: %w", err)
		}
	}
	return nil
}
