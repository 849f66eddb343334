package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Default Redis lock settings.
const (
	DefaultTTL        = 30 * time.Second
	DefaultRetryDelay = 100 * time.Millisecond
	DefaultKeyPrefix  = "position-ledger:lock:"
)

// RedisLocker is a Locker backed by Redis SET NX PX, shared between processes.
type RedisLocker struct {
	client     redis.Cmdable
	ttl        time.Duration
	retryDelay time.Duration
	prefix     string
	logger     logrus.FieldLogger
	newToken   func() string
}

// NewRedisLocker creates a RedisLocker with default settings.
func NewRedisLocker(client redis.Cmdable, logger logrus.FieldLogger) *RedisLocker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisLocker{
		client:     client,
		ttl:        DefaultTTL,
		retryDelay: DefaultRetryDelay,
		prefix:     DefaultKeyPrefix,
		logger:     logger,
		newToken:   uuid.NewString,
	}
}

// WithTTL sets the lock expiry. Holders must finish within it.
func (l *RedisLocker) WithTTL(ttl time.Duration) *RedisLocker {
	l.ttl = ttl
	return l
}

// Acquire polls SET NX until it succeeds or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := l.newToken()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx %s: %w", fullKey, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-time.After(l.retryDelay):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must work after the caller's ctx is cancelled
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.client.Eval(relCtx, releaseScript, []string{fullKey}, token).Err(); err != nil {
				l.logger.WithError(err).WithField("key", fullKey).Warn("failed to release redis lock")
			}
		})
	}, nil
}

var _ Locker = (*RedisLocker)(nil)
