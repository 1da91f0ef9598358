// Package eventbus forwards waitlist domain events to RabbitMQ so other
// services can follow offers without polling the API.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tablewait/internal/shared/config"
	"tablewait/internal/waitlist"
	"tablewait/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes events to a durable topic exchange, routed by event type.
// Events are buffered and sent from a single goroutine so the engine never waits on the broker.
type RabbitPublisher struct {
	exchange string
	conn     *amqp.Connection
	ch       amqpChannel
	queue    chan waitlist.Event
	log      *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRabbitPublisher dials the broker and declares the exchange
func NewRabbitPublisher(cfg config.RabbitMQConfig, log *logger.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // kind
		true,         // durable
		false,        // autoDelete
		false,        // internal
		false,        // noWait
		nil,          // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	p := newRabbitPublisher(ch, cfg.Exchange, cfg.QueueSize, log)
	p.conn = conn
	return p, nil
}

func newRabbitPublisher(ch amqpChannel, exchange string, queueSize int, log *logger.Logger) *RabbitPublisher {
	if log == nil {
		log = logger.GetDefault()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &RabbitPublisher{
		exchange: exchange,
		ch:       ch,
		queue:    make(chan waitlist.Event, queueSize),
		log:      log.WithComponent("eventbus.rabbitmq"),
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Handle is a waitlist.EventHandler; it drops the event when the buffer is full
func (p *RabbitPublisher) Handle(ctx context.Context, event waitlist.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}
	select {
	case p.queue <- event:
	default:
		p.log.WarnWithContext(ctx, "Event buffer full, dropping event", map[string]interface{}{
			"event_type": string(event.Type),
			"entry_id":   event.EntryID.String(),
		})
	}
}

func (p *RabbitPublisher) run() {
	defer p.wg.Done()

	for event := range p.queue {
		msg, err := encodeEvent(event)
		if err != nil {
			p.log.Error("Failed to encode event", "event_type", string(event.Type), "error", err.Error())
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.ch.PublishWithContext(ctx,
			p.exchange,         // exchange
			string(event.Type), // routing key
			false,              // mandatory
			false,              // immediate
			msg,
		)
		cancel()
		if err != nil {
			p.log.Warn("Failed to publish event", "event_type", string(event.Type), "error", err.Error())
		}
	}
}

// Close drains buffered events and closes the channel and connection
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()

	var firstErr error
	if err := p.ch.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close channel: %w", err)
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return firstErr
}

func encodeEvent(event waitlist.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Type:         string(event.Type),
		Timestamp:    event.OccurredAt,
		Body:         body,
	}, nil
}
