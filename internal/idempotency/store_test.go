package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(client, nil, Config{ProcessingTTL: time.Minute, ProcessedTTL: time.Hour})
}

func TestStore_IsProcessed_FalseInitially(t *testing.T) {
	store := newTestStore(t)
	processed, err := store.IsProcessed(context.Background(), "key-1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestStore_Claim_Succeeds(t *testing.T) {
	store := newTestStore(t)
	err := store.Claim(context.Background(), "key-1")
	assert.NoError(t, err)
}

func TestStore_Claim_FailsWhenAlreadyClaimed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Claim(context.Background(), "key-1"))

	err := store.Claim(context.Background(), "key-1")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestStore_Claim_FailsWhenAlreadyProcessed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Claim(context.Background(), "key-1"))
	require.NoError(t, store.Commit(context.Background(), "key-1", "payment.paid", "orders-service"))

	err := store.Claim(context.Background(), "key-1")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestStore_Commit_MarksProcessed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Claim(context.Background(), "key-1"))
	require.NoError(t, store.Commit(context.Background(), "key-1", "payment.paid", "orders-service"))

	processed, err := store.IsProcessed(context.Background(), "key-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestStore_Release_ClearsClaimWithoutMarkingProcessed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Claim(context.Background(), "key-1"))
	require.NoError(t, store.Release(context.Background(), "key-1"))

	processed, err := store.IsProcessed(context.Background(), "key-1")
	require.NoError(t, err)
	assert.False(t, processed)

	// Released claim should allow re-claiming.
	assert.NoError(t, store.Claim(context.Background(), "key-1"))
}

func TestStore_Cleanup_NoopWithoutDB(t *testing.T) {
	store := newTestStore(t)
	rows, err := store.Cleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}
