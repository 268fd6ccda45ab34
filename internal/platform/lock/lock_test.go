package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/importdesk/importdesk/internal/shared"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Config{TTL: time.Second}, nil), mr
}

func TestAcquireExcludesSecondOwner(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()
	keyA := shared.StockLockKey("GD1-8471-1", 1)
	keyB := shared.StockLockKey("GD1-8471-2", 1)

	release, err := locker.Acquire(ctx, keyB, keyA, keyA)
	require.NoError(t, err)
	require.True(t, mr.Exists(keyA))
	require.True(t, mr.Exists(keyB))

	_, err = locker.Acquire(ctx, keyA)
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, err, shared.ErrConflict)

	release()
	require.False(t, mr.Exists(keyA))

	again, err := locker.Acquire(ctx, keyA)
	require.NoError(t, err)
	again()
}

func TestAcquireReleasesPartialSet(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()
	keyA := shared.StockLockKey("A", 2)
	keyB := shared.StockLockKey("B", 2)

	holdB, err := locker.Acquire(ctx, keyB)
	require.NoError(t, err)
	defer holdB()

	_, err = locker.Acquire(ctx, keyA, keyB)
	require.ErrorIs(t, err, ErrBusy)
	require.False(t, mr.Exists(keyA))
}

func TestNilLockerIsNoop(t *testing.T) {
	var locker *Locker
	release, err := locker.Acquire(context.Background(), "anything")
	require.NoError(t, err)
	release()
}
