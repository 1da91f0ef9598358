package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"tablewait/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	Total int    `json:"total"`
	Date  string `json:"date"`
}

// unreachableClient points at a closed port so every command fails fast
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestGetOrSet_FallsBackToFetcherWhenRedisIsDown(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	svc := NewService(client, logger.NewDiscard())

	calls := 0
	var got report
	err := svc.GetOrSet(context.Background(), "stats:test", time.Minute, func() (interface{}, error) {
		calls++
		return report{Total: 3, Date: "2026-10-20"}, nil
	}, &got)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, report{Total: 3, Date: "2026-10-20"}, got)
}

func TestGetOrSet_WrapsFetcherError(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	svc := NewService(client, logger.NewDiscard())
	sentinel := errors.New("database down")

	var got report
	err := svc.GetOrSet(context.Background(), "stats:test", time.Minute, func() (interface{}, error) {
		return nil, sentinel
	}, &got)

	assert.ErrorIs(t, err, sentinel)
}

func TestGet_ConnectionErrorIsNotAMiss(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	svc := NewService(client, logger.NewDiscard())

	var got report
	err := svc.Get(context.Background(), "stats:test", &got)

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss))
}
