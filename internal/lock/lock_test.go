package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	release, err := l.Acquire(ctx, "cashout:aggregate", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "cashout:aggregate", time.Minute)
	require.ErrorIs(t, err, ErrNotAcquired)

	_, err = l.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	_, err = l.Acquire(ctx, "cashout:aggregate", time.Minute)
	require.NoError(t, err)
}

func TestLocalLockerExpires(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	staleRelease, err := l.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = l.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)

	// the expired holder must not release the new one
	require.NoError(t, staleRelease(ctx))
	_, err = l.Acquire(ctx, "job", time.Second)
	require.ErrorIs(t, err, ErrNotAcquired)
}
