package waitlist

import (
	"context"
	"sync"
	"time"

	"tablewait/pkg/logger"
)

// JobProcessor handles background jobs for waitlist operations
type JobProcessor struct {
	service Service
	config  *JobConfig
	log     *logger.Logger
	done    chan struct{}

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	lastRuns map[string]time.Time
}

// JobConfig contains configuration for background jobs
type JobConfig struct {
	AbandonSweepInterval time.Duration
	ReconcileInterval    time.Duration
	BatchSize            int
}

// DefaultJobConfig returns default job configuration
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		AbandonSweepInterval: 1 * time.Minute,
		ReconcileInterval:    1 * time.Minute,
		BatchSize:            100,
	}
}

// NewJobProcessor creates a new job processor
func NewJobProcessor(service Service, config *JobConfig, log *logger.Logger) *JobProcessor {
	if config == nil {
		config = DefaultJobConfig()
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &JobProcessor{
		service:  service,
		config:   config,
		log:      log.WithComponent("waitlist.jobs"),
		done:     make(chan struct{}),
		lastRuns: make(map[string]time.Time),
	}
}

// Start starts all background jobs
func (jp *JobProcessor) Start(ctx context.Context) {
	jp.log.Info("Starting waitlist background jobs")
	jp.setRunning(true)

	if jp.config.AbandonSweepInterval > 0 {
		go jp.startAbandonSweeper(ctx)
	}
	if jp.config.ReconcileInterval > 0 {
		go jp.startOfferReconciler(ctx)
	}
}

// Stop stops all background jobs
func (jp *JobProcessor) Stop() {
	jp.stopOnce.Do(func() {
		jp.log.Info("Stopping waitlist background jobs")
		jp.setRunning(false)
		close(jp.done)
	})
}

func (jp *JobProcessor) setRunning(running bool) {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	jp.running = running
}

func (jp *JobProcessor) recordRun(job string) {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	jp.lastRuns[job] = time.Now()
}

// startAbandonSweeper cancels entries whose customers stopped waiting
func (jp *JobProcessor) startAbandonSweeper(ctx context.Context) {
	ticker := time.NewTicker(jp.config.AbandonSweepInterval)
	defer ticker.Stop()

	jp.log.Info("Started abandoned entry sweeper", "interval", jp.config.AbandonSweepInterval.String())

	for {
		select {
		case <-ticker.C:
			jp.sweepAbandoned(ctx)
		case <-jp.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (jp *JobProcessor) sweepAbandoned(ctx context.Context) {
	swept, err := jp.service.SweepAbandoned(ctx, jp.config.BatchSize)
	jp.recordRun("abandon_sweep")
	if err != nil {
		jp.log.ErrorWithContext(ctx, "Error sweeping abandoned entries", err, nil)
		return
	}

	if swept > 0 {
		jp.log.Info("Cancelled abandoned waitlist entries", "count", swept)
	}
}

// startOfferReconciler re-arms offers that have no timer in this process
func (jp *JobProcessor) startOfferReconciler(ctx context.Context) {
	ticker := time.NewTicker(jp.config.ReconcileInterval)
	defer ticker.Stop()

	jp.log.Info("Started offer reconciler", "interval", jp.config.ReconcileInterval.String())

	for {
		select {
		case <-ticker.C:
			jp.reconcileOffers(ctx)
		case <-jp.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (jp *JobProcessor) reconcileOffers(ctx context.Context) {
	armed, err := jp.service.ReconcileOffers(ctx)
	jp.recordRun("offer_reconcile")
	if err != nil {
		jp.log.ErrorWithContext(ctx, "Error reconciling offers", err, nil)
		return
	}

	if armed > 0 {
		jp.log.Info("Re-armed outstanding offers", "count", armed)
	}
}

// GetJobStatus reports job configuration, whether the jobs run, and when each last ran
func (jp *JobProcessor) GetJobStatus() map[string]interface{} {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	status := "stopped"
	if jp.running {
		status = "running"
	}
	lastRuns := make(map[string]string, len(jp.lastRuns))
	for job, at := range jp.lastRuns {
		lastRuns[job] = at.UTC().Format(time.RFC3339)
	}

	return map[string]interface{}{
		"abandon_sweep_interval": jp.config.AbandonSweepInterval.String(),
		"reconcile_interval":     jp.config.ReconcileInterval.String(),
		"batch_size":             jp.config.BatchSize,
		"status":                 status,
		"last_runs":              lastRuns,
	}
}
