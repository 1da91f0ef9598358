package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EntriesAddedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_entries_added_total",
			Help: "Total number of waitlist entries created, by priority tier",
		},
		[]string{"priority"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_transitions_total",
			Help: "Total number of successful entry status transitions",
		},
		[]string{"from", "to"},
	)

	MatchOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_match_outcomes_total",
			Help: "Slot matching outcomes (matched, no_match, unavailable, pending, error)",
		},
		[]string{"outcome"},
	)

	MatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waitlist_match_duration_seconds",
			Help:    "Duration of a slot matching decision including lock wait",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_delivery_attempts_total",
			Help: "Notification attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	OfferDeliveryFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "waitlist_offer_delivery_failures_total",
			Help: "Offers that failed on every opted-in channel",
		},
	)

	PendingExpirations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "waitlist_pending_expirations",
			Help: "Number of armed offer expiration timers",
		},
	)

	SlotsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "waitlist_slots_dropped_total",
			Help: "Slots released without a confirmed offer",
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(EntriesAddedTotal)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(MatchOutcomesTotal)
	prometheus.MustRegister(MatchDuration)
	prometheus.MustRegister(DeliveryAttemptsTotal)
	prometheus.MustRegister(OfferDeliveryFailuresTotal)
	prometheus.MustRegister(PendingExpirations)
	prometheus.MustRegister(SlotsDroppedTotal)
}
