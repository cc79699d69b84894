package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *AggregateLocker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAggregateLocker(client, time.Minute)
}

func TestAggregateLockerExclusion(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	key := ExpenseLockKey(uuid.New())

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key)
	require.True(t, IsKind(err, KindConflict))

	release()
	release2, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestAggregateLockerIndependentKeys(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	releaseA, err := locker.Acquire(ctx, LoanLockKey(uuid.New()))
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := locker.Acquire(ctx, CotisationLockKey(uuid.New()))
	require.NoError(t, err)
	defer releaseB()
}

func TestNilLockerNoops(t *testing.T) {
	var locker *AggregateLocker
	release, err := locker.Acquire(context.Background(), "whatever")
	require.NoError(t, err)
	release()
}
