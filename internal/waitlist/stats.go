package waitlist

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"tablewait/internal/shared/constants"
	"tablewait/pkg/cache"
	"tablewait/pkg/logger"
)

const defaultTopTimeSlots = 5

// TimeSlotDemand counts how many entries asked for a time
type TimeSlotDemand struct {
	Time     string `json:"time"`
	Requests int    `json:"requests"`
}

// Stats is the read-side summary for a date range
type Stats struct {
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`

	TotalEntries int `json:"total_entries"`
	Waiting      int `json:"waiting"`
	Notified     int `json:"notified"`
	Confirmed    int `json:"confirmed"`
	Expired      int `json:"expired"`
	Cancelled    int `json:"cancelled"`

	AvgTimeToNotifySeconds  *float64 `json:"avg_time_to_notify_seconds,omitempty"`
	P90TimeToNotifySeconds  *float64 `json:"p90_time_to_notify_seconds,omitempty"`
	AvgTimeToConfirmSeconds *float64 `json:"avg_time_to_confirm_seconds,omitempty"`
	// confirmed / (confirmed + expired); nil when no offer has resolved yet
	ConversionRate *float64 `json:"conversion_rate,omitempty"`

	BusiestTimeSlots    []TimeSlotDemand `json:"busiest_time_slots"`
	TerminalTransitions int              `json:"terminal_transitions"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

// StatsAggregator derives Stats from the entry set and the transition log
type StatsAggregator struct {
	repo     Repository
	clock    Clock
	cache    cache.Service
	cacheTTL time.Duration
	topN     int
	log      *logger.Logger
}

// NewStatsAggregator creates an aggregator; a nil cache or zero ttl disables caching
func NewStatsAggregator(repo Repository, clock Clock, statsCache cache.Service, cacheTTL time.Duration, log *logger.Logger) *StatsAggregator {
	if log == nil {
		log = logger.GetDefault()
	}
	return &StatsAggregator{
		repo:     repo,
		clock:    clock,
		cache:    statsCache,
		cacheTTL: cacheTTL,
		topN:     defaultTopTimeSlots,
		log:      log.WithComponent("waitlist.stats"),
	}
}

// Compute returns stats for the inclusive date range; empty bounds are open
func (s *StatsAggregator) Compute(ctx context.Context, fromDate, toDate string) (*Stats, error) {
	if err := validateRange(fromDate, toDate); err != nil {
		return nil, err
	}

	if s.cache == nil || s.cacheTTL <= 0 {
		return s.compute(ctx, fromDate, toDate)
	}

	var stats Stats
	key := constants.BuildWaitlistStatsKey(fromDate, toDate)
	err := s.cache.GetOrSet(ctx, key, s.cacheTTL, func() (interface{}, error) {
		return s.compute(ctx, fromDate, toDate)
	}, &stats)
	if err != nil {
		var perr *PersistenceError
		if errors.As(err, &perr) {
			return nil, perr
		}
		s.log.WarnWithContext(ctx, "Stats cache unavailable, computing directly", map[string]interface{}{
			"error": err.Error(),
		})
		return s.compute(ctx, fromDate, toDate)
	}
	return &stats, nil
}

func (s *StatsAggregator) compute(ctx context.Context, fromDate, toDate string) (*Stats, error) {
	entries, err := s.repo.ListEntries(ctx, EntryFilter{FromDate: fromDate, ToDate: toDate})
	if err != nil {
		return nil, persistenceError("list entries for stats", err)
	}
	transitions, err := s.repo.ListTransitions(ctx, fromDate, toDate)
	if err != nil {
		return nil, persistenceError("list transitions for stats", err)
	}

	stats := &Stats{
		FromDate:     fromDate,
		ToDate:       toDate,
		TotalEntries: len(entries),
		GeneratedAt:  s.clock.Now(),
	}

	notifiedAt := make(map[string]time.Time, len(entries))
	var notifyWaits []float64
	demand := make(map[string]int)

	for i := range entries {
		entry := &entries[i]
		switch entry.Status {
		case StatusWaiting:
			stats.Waiting++
		case StatusNotified:
			stats.Notified++
		case StatusConfirmed:
			stats.Confirmed++
		case StatusExpired:
			stats.Expired++
		case StatusCancelled:
			stats.Cancelled++
		}

		if entry.NotifiedAt != nil {
			notifiedAt[entry.ID.String()] = *entry.NotifiedAt
			notifyWaits = append(notifyWaits, entry.NotifiedAt.Sub(entry.CreatedAt).Seconds())
		}

		if len(entry.TimeSlots) == 0 {
			demand[AnyTime]++
		}
		for _, t := range entry.TimeSlots {
			demand[t]++
		}
	}

	var confirmWaits []float64
	for _, record := range transitions {
		if !record.ToStatus.IsTerminal() {
			continue
		}
		stats.TerminalTransitions++
		if record.ToStatus != StatusConfirmed {
			continue
		}
		if at, ok := notifiedAt[record.EntryID.String()]; ok {
			confirmWaits = append(confirmWaits, record.OccurredAt.Sub(at).Seconds())
		}
	}

	stats.AvgTimeToNotifySeconds = mean(notifyWaits)
	stats.P90TimeToNotifySeconds = percentile(notifyWaits, 0.9)
	stats.AvgTimeToConfirmSeconds = mean(confirmWaits)

	if resolved := stats.Confirmed + stats.Expired; resolved > 0 {
		rate := float64(stats.Confirmed) / float64(resolved)
		stats.ConversionRate = &rate
	}

	stats.BusiestTimeSlots = topDemand(demand, s.topN)
	return stats, nil
}

func validateRange(fromDate, toDate string) error {
	verr := &ValidationError{}
	if fromDate != "" {
		if _, err := time.Parse(DateLayout, fromDate); err != nil {
			verr.add("from", "must match format "+DateLayout)
		}
	}
	if toDate != "" {
		if _, err := time.Parse(DateLayout, toDate); err != nil {
			verr.add("to", "must match format "+DateLayout)
		}
	}
	if len(verr.Fields) == 0 && fromDate != "" && toDate != "" && fromDate > toDate {
		verr.add("from", "must not be after to")
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	return &avg
}

// percentile uses the nearest-rank method
func percentile(values []float64, p float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	value := sorted[rank-1]
	return &value
}

func topDemand(demand map[string]int, n int) []TimeSlotDemand {
	out := make([]TimeSlotDemand, 0, len(demand))
	for t, count := range demand {
		out = append(out, TimeSlotDemand{Time: t, Requests: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Time < out[j].Time
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
