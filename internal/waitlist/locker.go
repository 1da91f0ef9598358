package waitlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tablewait/internal/shared/constants"
	"tablewait/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes matching decisions per reservation date
type Locker interface {
	// Lock blocks until the key is held or ctx is done
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker serializes within a single process
type LocalLocker struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{gates: make(map[string]chan struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	gate, ok := l.gates[key]
	if !ok {
		gate = make(chan struct{}, 1)
		l.gates[key] = gate
	}
	l.mu.Unlock()

	select {
	case gate <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-gate }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}
}

// releaseScript deletes the lock only when it is still owned by the caller's token
const releaseScript = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`

// RedisLocker serializes across instances sharing one Redis
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
	log        *logger.Logger
}

// NewRedisLocker creates a distributed locker; ttl bounds how long a crashed holder blocks others
func NewRedisLocker(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = constants.TTL_WAITLIST_DATE_LOCK
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &RedisLocker{
		client:     client,
		ttl:        ttl,
		retryDelay: 25 * time.Millisecond,
		log:        log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := constants.BuildWaitlistDateLockKey(key)
	token := uuid.NewString()

	for {
		acquired, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", lockKey, err)
		}
		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", lockKey, ctx.Err())
		case <-time.After(l.retryDelay):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.client.Eval(releaseCtx, releaseScript, []string{lockKey}, token).Err(); err != nil {
				l.log.ErrorWithContext(releaseCtx, "Failed to release date lock", err, map[string]interface{}{
					"lock_key": lockKey,
				})
			}
		})
	}, nil
}
