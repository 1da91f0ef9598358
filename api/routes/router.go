// api/routes/router.go
package routes

import (
	"context"
	"net/http"
	"time"

	"tablewait/internal/eventbus"
	"tablewait/internal/notifications"
	"tablewait/internal/shared/config"
	"tablewait/internal/shared/database"
	"tablewait/internal/shared/middleware"
	"tablewait/internal/waitlist"
	"tablewait/pkg/cache"
	"tablewait/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router holds all route dependencies
type Router struct {
	config   *config.Config
	db       *database.DB
	notifier notifications.Service
	log      *logger.Logger

	// Built by SetupRoutes, owned for start/stop
	waitlistService waitlist.Service
	jobs            *waitlist.JobProcessor
	eventPublisher  *eventbus.RabbitPublisher
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, db *database.DB, notifier notifications.Service, log *logger.Logger) *Router {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Router{
		config:   cfg,
		db:       db,
		notifier: notifier,
		log:      log,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check and basic info endpoints
	r.setupHealthRoutes(engine)

	// API routes
	api := engine.Group(r.config.GetAPIBasePath())
	{
		r.setupWaitlistRoutes(api)
	}
}

// Start runs the waitlist engine and its background jobs
func (r *Router) Start(ctx context.Context) error {
	if r.waitlistService == nil {
		return nil
	}
	if err := r.waitlistService.Start(ctx); err != nil {
		return err
	}
	r.jobs.Start(ctx)
	return nil
}

// Stop halts jobs, timers and delivery workers, then flushes buffered events
func (r *Router) Stop() {
	if r.jobs != nil {
		r.jobs.Stop()
	}
	if r.waitlistService != nil {
		r.waitlistService.Stop()
	}
	if r.eventPublisher != nil {
		if err := r.eventPublisher.Close(); err != nil {
			r.log.Warn("Error closing event publisher", "error", err.Error())
		}
	}
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		// Perform health checks
		if err := r.db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"timestamp": time.Now(),
				"service":   "tablewait",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "tablewait",
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.APIVersion,
		})
	})

	engine.GET("/status", func(c *gin.Context) {
		notifications := "operational"
		if r.notifier != nil {
			if err := r.notifier.HealthCheck(c.Request.Context()); err != nil {
				notifications = err.Error()
			}
		}
		var jobs map[string]interface{}
		if r.jobs != nil {
			jobs = r.jobs.GetJobStatus()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        "operational",
			"api_version":   r.config.APIVersion,
			"notifications": notifications,
			"jobs":          jobs,
			"timestamp":     time.Now(),
		})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// setupWaitlistRoutes configures the waitlist engine and its routes
func (r *Router) setupWaitlistRoutes(rg *gin.RouterGroup) {
	wcfg := r.config.Waitlist

	// Initialize waitlist dependencies
	repo := waitlist.NewRepository(r.db.GetSQL())
	bus := waitlist.NewBus(r.log)
	bus.Subscribe(waitlist.LogSubscriber(r.log))

	if r.config.RabbitMQ.Enabled {
		publisher, err := eventbus.NewRabbitPublisher(r.config.RabbitMQ, r.log)
		if err != nil {
			r.log.Warn("RabbitMQ unavailable, domain events stay in-process", "error", err.Error())
		} else {
			bus.Subscribe(publisher.Handle)
			r.eventPublisher = publisher
		}
	}

	deps := waitlist.Dependencies{
		Events: bus,
		Logger: r.log,
	}
	if redisClient := r.db.GetRedis(); redisClient != nil {
		if wcfg.LockBackend == "redis" {
			deps.Locker = waitlist.NewRedisLocker(redisClient, wcfg.LockTTL, r.log)
		}
		if wcfg.StatsCacheTTL > 0 {
			deps.StatsCache = cache.NewService(redisClient, r.log)
		}
	}
	if deps.Locker == nil {
		deps.Locker = waitlist.NewLocalLocker()
	}

	var sender waitlist.Sender
	if r.notifier != nil {
		sender = r.notifier.Sender()
	} else {
		sender = notifications.NewLogSender(r.log)
	}

	serviceConfig := &waitlist.ServiceConfig{
		ConfirmationWindow: wcfg.ConfirmationWindow,
		RequeueOnExpiry:    wcfg.RequeueOnExpiry,
		StatsCacheTTL:      wcfg.StatsCacheTTL,
		Registry: waitlist.RegistryConfig{
			MaxPartySize:             wcfg.MaxPartySize,
			DefaultMaxWait:           wcfg.DefaultMaxWait,
			EstimatedWaitPerPosition: wcfg.EstimatedWaitPerPosition,
			LockTimeout:              wcfg.LockTimeout,
			Location:                 r.config.Location(),
		},
		Dispatcher: waitlist.DispatcherConfig{
			Workers:      wcfg.DispatchWorkers,
			QueueSize:    wcfg.DispatchQueueSize,
			MaxRetries:   wcfg.DeliveryRetries,
			RetryBackoff: wcfg.RetryBackoff,
			SendTimeout:  wcfg.SendTimeout,
		},
	}

	waitlistService := waitlist.NewService(repo, sender, deps, serviceConfig)
	waitlistController := waitlist.NewController(waitlistService)

	r.waitlistService = waitlistService
	r.jobs = waitlist.NewJobProcessor(waitlistService, &waitlist.JobConfig{
		AbandonSweepInterval: wcfg.AbandonSweepInterval,
		ReconcileInterval:    wcfg.ReconcileInterval,
		BatchSize:            100,
	}, r.log)

	// Staff routes need a valid token with a staff role
	staffAuth := []gin.HandlerFunc{
		middleware.JWTAuthWithConfig(r.config),
		middleware.RequireRoles(middleware.RoleStaff, middleware.RoleAdmin),
	}

	// Setup waitlist routes
	waitlist.SetupWaitlistRoutes(rg, waitlistController, staffAuth...)
}
