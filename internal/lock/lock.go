package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

var ErrBusy = errors.New("resource is locked by another request")

// Locker serializes work on one key across server processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func ProductKey(productID int64) string {
	return fmt.Sprintf("pompaku:lock:product:%d", productID)
}

type NoopLocker struct{}

func (NoopLocker) Acquire(_ context.Context, _ string) (func(), error) {
	return func() {}, nil
}

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker holds each lock for ttl and waits up to wait for a busy key.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, wait time.Duration) *RedisLocker {
	return &RedisLocker{client: redislock.New(client), ttl: ttl, wait: wait}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	obtainCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lk, err := l.client.Obtain(obtainCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = lk.Release(releaseCtx)
	}, nil
}
