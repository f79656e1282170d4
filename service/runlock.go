package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"logwarden/core"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RunLock makes a pass single-flight. TryLock never waits: if another holder
// has the lock it returns core.ErrRunInProgress.
type RunLock interface {
	TryLock(ctx context.Context) (unlock func(), err error)
}

// LocalLock serializes passes within one process.
type LocalLock struct {
	mu sync.Mutex
}

// NewLocalLock creates an in-process run lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// TryLock implements RunLock.
func (l *LocalLock) TryLock(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, core.ErrRunInProgress
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired holder cannot release a lock someone else acquired since.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock serializes passes across every process sharing one Redis. The
// key expires after ttl so a crashed holder cannot block passes forever.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedisLock creates a Redis-backed run lock on key.
func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration, logger *zap.SugaredLogger) *RedisLock {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl, logger: logger}
}

// TryLock implements RunLock.
func (l *RedisLock) TryLock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, core.ErrRunInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
				l.logger.Warnw("Failed to release run lock", "key", l.key, "error", err)
			}
		})
	}, nil
}
