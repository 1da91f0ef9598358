package waitlist

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tablewait/pkg/cache"
	"tablewait/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	fetches int
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string][]byte)}
}

func (c *mapCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.values[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = data
	return nil
}

func (c *mapCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fetcher func() (interface{}, error), dest interface{}) error {
	if err := c.Get(ctx, key, dest); err == nil {
		return nil
	}

	c.mu.Lock()
	c.fetches++
	c.mu.Unlock()

	value, err := fetcher()
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.Get(ctx, key, dest)
}

func seedStatsData(t *testing.T, repo *MemoryRepository) {
	t.Helper()
	ctx := context.Background()

	create := func(name, date string, slots TimeSlots) uuid.UUID {
		entry := &WaitlistEntry{
			ID:           uuid.New(),
			CustomerName: name,
			Contact:      Contact{Email: name + "@example.com"},
			Date:         date,
			TimeSlots:    slots,
			PartySize:    2,
			Priority:     PriorityMedium,
			Status:       StatusWaiting,
			CreatedAt:    testStart,
			UpdatedAt:    testStart,
		}
		require.NoError(t, repo.CreateEntry(ctx, entry))
		return entry.ID
	}
	change := func(id uuid.UUID, from, to Status, after time.Duration) {
		swapped, err := repo.ChangeStatus(ctx, id, StatusChange{From: from, To: to, At: testStart.Add(after)})
		require.NoError(t, err)
		require.True(t, swapped)
	}

	confirmed := create("confirmed", testDate, TimeSlots{"19:00", "19:30"})
	change(confirmed, StatusWaiting, StatusNotified, 10*time.Minute)
	change(confirmed, StatusNotified, StatusConfirmed, 20*time.Minute)

	expired := create("expired", testDate, TimeSlots{"19:00"})
	change(expired, StatusWaiting, StatusNotified, 30*time.Minute)
	change(expired, StatusNotified, StatusExpired, 45*time.Minute)

	create("waiting", "2026-10-18", TimeSlots{"20:00"})

	cancelled := create("cancelled", testDate, nil)
	change(cancelled, StatusWaiting, StatusCancelled, 5*time.Minute)

	create("later", "2026-10-20", TimeSlots{"21:00"})
}

func TestStatsAggregator_Compute(t *testing.T) {
	repo := NewMemoryRepository()
	seedStatsData(t, repo)
	aggregator := NewStatsAggregator(repo, newFakeClock(testStart), nil, 0, logger.NewDiscard())

	stats, err := aggregator.Compute(context.Background(), testDate, "2026-10-18")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TotalEntries)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 0, stats.Notified)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 3, stats.TerminalTransitions)

	require.NotNil(t, stats.AvgTimeToNotifySeconds)
	assert.InDelta(t, 1200, *stats.AvgTimeToNotifySeconds, 0.001)
	require.NotNil(t, stats.P90TimeToNotifySeconds)
	assert.InDelta(t, 1800, *stats.P90TimeToNotifySeconds, 0.001)
	require.NotNil(t, stats.AvgTimeToConfirmSeconds)
	assert.InDelta(t, 600, *stats.AvgTimeToConfirmSeconds, 0.001)
	require.NotNil(t, stats.ConversionRate)
	assert.InDelta(t, 0.5, *stats.ConversionRate, 0.001)

	assert.Equal(t, []TimeSlotDemand{
		{Time: "19:00", Requests: 2},
		{Time: AnyTime, Requests: 1},
		{Time: "19:30", Requests: 1},
		{Time: "20:00", Requests: 1},
	}, stats.BusiestTimeSlots)
}

func TestStatsAggregator_EmptyRange(t *testing.T) {
	aggregator := NewStatsAggregator(NewMemoryRepository(), newFakeClock(testStart), nil, 0, logger.NewDiscard())

	stats, err := aggregator.Compute(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
	assert.Nil(t, stats.AvgTimeToNotifySeconds)
	assert.Nil(t, stats.ConversionRate)
	assert.Empty(t, stats.BusiestTimeSlots)
}

func TestStatsAggregator_RangeValidation(t *testing.T) {
	aggregator := NewStatsAggregator(NewMemoryRepository(), newFakeClock(testStart), nil, 0, logger.NewDiscard())

	_, err := aggregator.Compute(context.Background(), "2026-10-18", testDate)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "from")

	_, err = aggregator.Compute(context.Background(), "", "Oct 18")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "to")
}

func TestStatsAggregator_UsesCache(t *testing.T) {
	repo := NewMemoryRepository()
	seedStatsData(t, repo)
	statsCache := newMapCache()
	aggregator := NewStatsAggregator(repo, newFakeClock(testStart), statsCache, time.Minute, logger.NewDiscard())

	first, err := aggregator.Compute(context.Background(), testDate, testDate)
	require.NoError(t, err)
	second, err := aggregator.Compute(context.Background(), testDate, testDate)
	require.NoError(t, err)

	assert.Equal(t, 1, statsCache.fetches)
	assert.Equal(t, first.TotalEntries, second.TotalEntries)
	assert.Equal(t, first.BusiestTimeSlots, second.BusiestTimeSlots)
}

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}
	assert.InDelta(t, 9, *percentile(values, 0.9), 0.001)
	assert.InDelta(t, 1, *percentile(values, 0), 0.001)
	assert.Nil(t, percentile(nil, 0.9))
}
