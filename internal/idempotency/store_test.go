package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/ikwen/paygate/internal/testutil/memstore"
	"github.com/stretchr/testify/require"
)

func TestReserveFinalizeLookup(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, memstore.New(), time.Hour)

	_, err := store.Lookup(ctx, "k1", "hash")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Reserve(ctx, "k1", "hash", "POST", "/v1/charges")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Reserve(ctx, "k1", "hash", "POST", "/v1/charges")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Lookup(ctx, "k1", "hash")
	require.ErrorIs(t, err, ErrInProgress)

	rec, err := store.Finalize(ctx, "k1", "hash", 201, []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	require.Equal(t, 201, rec.Status)

	rec, err = store.Lookup(ctx, "k1", "hash")
	require.NoError(t, err)
	require.Equal(t, "postgres", rec.ServedBy)
	require.JSONEq(t, `{"ok":true}`, string(rec.Body))

	_, err = store.Lookup(ctx, "k1", "other")
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestWaitForCompletion(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, memstore.New(), time.Hour)

	ok, err := store.Reserve(ctx, "k2", "hash", "POST", "/v1/charges")
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(120 * time.Millisecond)
		_, _ = store.Finalize(context.Background(), "k2", "hash", 200, []byte(`{}`), "application/json")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	rec, err := store.WaitForCompletion(waitCtx, "k2", "hash")
	require.NoError(t, err)
	require.Equal(t, 200, rec.Status)
}

func TestWaitForCompletionHonoursContext(t *testing.T) {
	store := NewStore(nil, memstore.New(), time.Hour)
	_, err := store.Reserve(context.Background(), "k3", "hash", "POST", "/v1/charges")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err = store.WaitForCompletion(ctx, "k3", "hash")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFinalizeUnknownKey(t *testing.T) {
	store := NewStore(nil, memstore.New(), time.Hour)
	_, err := store.Finalize(context.Background(), "missing", "hash", 200, nil, "application/json")
	require.ErrorIs(t, err, ErrNotFound)
}
