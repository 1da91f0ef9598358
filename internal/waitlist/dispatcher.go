package waitlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tablewait/pkg/logger"
	"tablewait/pkg/metrics"

	"github.com/google/uuid"
)

// Offer is the payload handed to the delivery collaborator
type Offer struct {
	EntryID      uuid.UUID `json:"entry_id"`
	SlotID       uuid.UUID `json:"slot_id"`
	CustomerName string    `json:"customer_name"`
	Contact      Contact   `json:"contact"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	TableID      string    `json:"table_id"`
	PartySize    int       `json:"party_size"`
	RespondBy    time.Time `json:"respond_by"`
}

// Sender delivers offers; the engine does not care how
type Sender interface {
	SendEmail(ctx context.Context, offer Offer) error
	SendSMS(ctx context.Context, offer Offer) error
	SendPush(ctx context.Context, offer Offer) error
}

// DispatcherConfig holds delivery concurrency and retry settings
type DispatcherConfig struct {
	Workers      int
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	SendTimeout  time.Duration
}

// DefaultDispatcherConfig returns default dispatcher configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:      4,
		QueueSize:    256,
		MaxRetries:   2,
		RetryBackoff: 500 * time.Millisecond,
		SendTimeout:  10 * time.Second,
	}
}

// DispatchReport summarizes one send of an offer
type DispatchReport struct {
	EntryID   uuid.UUID             `json:"entry_id"`
	Attempts  []NotificationAttempt `json:"attempts"`
	Delivered int                   `json:"delivered"`
}

type dispatchJob struct {
	entry *WaitlistEntry
	slot  *AvailableSlot
}

// NotificationDispatcher sends offers off the matching path on its own workers
type NotificationDispatcher struct {
	sender Sender
	repo   Repository
	events Publisher
	clock  Clock
	config DispatcherConfig
	log    *logger.Logger

	mu       sync.RWMutex
	jobs     chan dispatchJob
	started  bool
	stopped  bool
	workers  sync.WaitGroup
	inflight sync.WaitGroup
}

// NewNotificationDispatcher creates a dispatcher; call Start to run its workers
func NewNotificationDispatcher(sender Sender, repo Repository, events Publisher, clock Clock, config DispatcherConfig, log *logger.Logger) *NotificationDispatcher {
	if events == nil {
		events = nopPublisher{}
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &NotificationDispatcher{
		sender: sender,
		repo:   repo,
		events: events,
		clock:  clock,
		config: config,
		log:    log.WithComponent("waitlist.dispatcher"),
		jobs:   make(chan dispatchJob, config.QueueSize),
	}
}

// Start launches the worker pool
func (d *NotificationDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true

	workers := d.config.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.workers.Add(1)
		go d.worker()
	}
}

// Stop drains queued sends and waits for the workers to exit
func (d *NotificationDispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.workers.Wait()
	d.inflight.Wait()
}

// Wait blocks until every dispatched send has finished
func (d *NotificationDispatcher) Wait() {
	d.inflight.Wait()
}

func (d *NotificationDispatcher) worker() {
	defer d.workers.Done()
	for job := range d.jobs {
		d.run(job)
	}
}

// Dispatch queues an offer for delivery without blocking the caller
func (d *NotificationDispatcher) Dispatch(entry *WaitlistEntry, slot *AvailableSlot) {
	job := dispatchJob{entry: entry.Clone(), slot: slot}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.log.Warn("Dispatcher stopped, offer not sent", "entry_id", entry.ID.String())
		return
	}

	d.inflight.Add(1)
	if !d.started {
		go d.run(job)
		return
	}
	select {
	case d.jobs <- job:
	default:
		d.log.Warn("Dispatch queue full, sending on a dedicated goroutine", "entry_id", entry.ID.String())
		go d.run(job)
	}
}

func (d *NotificationDispatcher) run(job dispatchJob) {
	defer d.inflight.Done()

	ctx := context.Background()
	if _, err := d.Send(ctx, job.entry, job.slot); err != nil {
		d.log.DebugWithContext(ctx, "Offer dispatch finished with failure", map[string]interface{}{
			"entry_id": job.entry.ID.String(),
			"error":    err.Error(),
		})
	}
}

// Send delivers the offer on every opted-in channel and records one attempt per channel.
// It returns a DeliveryFailure only when no channel succeeded.
func (d *NotificationDispatcher) Send(ctx context.Context, entry *WaitlistEntry, slot *AvailableSlot) (*DispatchReport, error) {
	offer := newOffer(entry, slot)
	report := &DispatchReport{EntryID: entry.ID}

	channels := entry.Contact.Channels()
	if len(channels) == 0 {
		failure := &DeliveryFailure{EntryID: entry.ID, Err: ErrNoDeliveryChannels}
		d.alert(ctx, entry, slot, 0, failure)
		return report, failure
	}

	var failures []error
	for _, channel := range channels {
		attempt, err := d.deliver(ctx, channel, offer)
		report.Attempts = append(report.Attempts, attempt)
		if err != nil {
			failures = append(failures, &DeliveryFailure{EntryID: entry.ID, Channel: channel, Err: err})
			d.log.WarnWithContext(ctx, "Offer channel failed", map[string]interface{}{
				"entry_id":    entry.ID.String(),
				"channel":     string(channel),
				"retry_count": attempt.RetryCount,
				"error":       err.Error(),
			})
			continue
		}
		report.Delivered++
	}

	if err := d.repo.CreateNotificationAttempts(ctx, report.Attempts); err != nil {
		d.log.ErrorWithContext(ctx, "Failed to record notification attempts", persistenceError("record attempts", err), map[string]interface{}{
			"entry_id": entry.ID.String(),
		})
	}

	if report.Delivered == 0 {
		failure := &DeliveryFailure{EntryID: entry.ID, Err: errors.Join(failures...)}
		d.alert(ctx, entry, slot, len(channels), failure)
		return report, failure
	}
	return report, nil
}

// deliver tries one channel with exponential backoff between retries
func (d *NotificationDispatcher) deliver(ctx context.Context, channel Channel, offer Offer) (NotificationAttempt, error) {
	attempt := NotificationAttempt{
		ID:      uuid.New(),
		EntryID: offer.EntryID,
		SlotID:  offer.SlotID,
		Channel: channel,
	}

	var err error
retries:
	for retry := 0; retry <= d.config.MaxRetries; retry++ {
		if retry > 0 {
			backoff := d.config.RetryBackoff * time.Duration(1<<uint(retry-1))
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break retries
			case <-time.After(backoff):
			}
		}

		attempt.RetryCount = retry
		if err = d.sendOnce(ctx, channel, offer); err == nil {
			break
		}
	}

	attempt.AttemptedAt = d.clock.Now()
	attempt.Outcome = DeliverySent
	if err != nil {
		attempt.Outcome = DeliveryFailed
		msg := err.Error()
		attempt.Error = &msg
	}
	metrics.DeliveryAttemptsTotal.WithLabelValues(string(channel), string(attempt.Outcome)).Inc()
	return attempt, err
}

func (d *NotificationDispatcher) sendOnce(ctx context.Context, channel Channel, offer Offer) error {
	if d.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.SendTimeout)
		defer cancel()
	}

	switch channel {
	case ChannelEmail:
		return d.sender.SendEmail(ctx, offer)
	case ChannelSMS:
		return d.sender.SendSMS(ctx, offer)
	case ChannelPush:
		return d.sender.SendPush(ctx, offer)
	default:
		return fmt.Errorf("unsupported channel %s", channel)
	}
}

// alert escalates an offer that reached the customer on no channel; the offer itself stands
func (d *NotificationDispatcher) alert(ctx context.Context, entry *WaitlistEntry, slot *AvailableSlot, channels int, failure *DeliveryFailure) {
	metrics.OfferDeliveryFailuresTotal.Inc()
	d.log.LogDeliveryFailure(ctx, entry.ID.String(), channels, failure)

	slotID := slot.ID
	d.events.Publish(ctx, Event{
		Type:       EventOfferDeliveryFailed,
		EntryID:    entry.ID,
		SlotID:     &slotID,
		Date:       entry.Date,
		Status:     entry.Status,
		Deadline:   cloneTime(entry.OfferDeadline),
		Reason:     failure.Error(),
		OccurredAt: d.clock.Now(),
	})
}

func newOffer(entry *WaitlistEntry, slot *AvailableSlot) Offer {
	respondBy := slot.AvailableUntil
	if entry.OfferDeadline != nil {
		respondBy = *entry.OfferDeadline
	}
	return Offer{
		EntryID:      entry.ID,
		SlotID:       slot.ID,
		CustomerName: entry.CustomerName,
		Contact:      entry.Contact,
		Date:         slot.Date,
		Time:         slot.Time,
		TableID:      slot.TableID,
		PartySize:    entry.PartySize,
		RespondBy:    respondBy,
	}
}
