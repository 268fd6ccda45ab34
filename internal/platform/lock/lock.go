// Package lock provides short lived advisory locks backed by Redis so that
// concurrent sales never interleave FIFO consumption of the same batches.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/importdesk/importdesk/internal/shared"
)

// ErrBusy is returned when a key stays held by another owner past the retry budget.
var ErrBusy = errors.New("lock: resource busy")

// Config tunes lock lifetime and contention handling.
type Config struct {
	TTL           time.Duration
	RetryInterval time.Duration
	RetryLimit    int
}

// Locker obtains sets of keys atomically from the caller's point of view.
// A nil *Locker is valid and never blocks.
type Locker struct {
	client *redislock.Client
	cfg    Config
	logger *slog.Logger
}

// New wires a Locker onto an existing redis client.
func New(rdb *redis.Client, cfg Config, logger *slog.Logger) *Locker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{client: redislock.New(rdb), cfg: cfg, logger: logger}
}

// Release frees every lock obtained by Acquire.
type Release func()

// Acquire obtains all keys in sorted order so that callers locking overlapping
// sets cannot deadlock each other. Already obtained keys are released when a
// later key cannot be obtained.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	if l == nil || len(keys) == 0 {
		return func() {}, nil
	}
	ordered := slices.Clone(keys)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	held := make([]*redislock.Lock, 0, len(ordered))
	release := func() {
		releaseCtx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("lock release failed", slog.String("key", held[i].Key()), slog.Any("error", err))
			}
		}
	}

	opts := &redislock.Options{RetryStrategy: l.retryStrategy()}
	for _, key := range ordered {
		lk, err := l.client.Obtain(ctx, key, l.cfg.TTL, opts)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, shared.Conflict(ErrBusy, "stock for %s is being updated, retry shortly", key)
			}
			return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
		}
		held = append(held, lk)
	}
	return release, nil
}

func (l *Locker) retryStrategy() redislock.RetryStrategy {
	if l.cfg.RetryLimit <= 0 {
		return redislock.NoRetry()
	}
	return redislock.LimitRetry(redislock.LinearBackoff(l.cfg.RetryInterval), l.cfg.RetryLimit)
}
