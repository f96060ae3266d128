package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve_FirstClaimWinsWithinTTL(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRedisIdempotencyStore(client, time.Minute)

	ok, err := store.Reserve(context.Background(), "req-abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(context.Background(), "req-abc")
	require.NoError(t, err)
	assert.False(t, ok, "replayed key inside the window must be rejected")

	ok, err = store.Reserve(context.Background(), "req-def")
	require.NoError(t, err)
	assert.True(t, ok, "distinct keys do not collide")
}

func TestReserve_KeyExpiresAfterTTL(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewRedisIdempotencyStore(client, time.Minute)

	ok, err := store.Reserve(context.Background(), "req-abc")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = store.Reserve(context.Background(), "req-abc")
	require.NoError(t, err)
	assert.True(t, ok, "key is reclaimable once the TTL has passed")
}

func TestRelease_MakesKeyReusable(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRedisIdempotencyStore(client, time.Minute)

	ok, err := store.Reserve(context.Background(), "req-abc")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(context.Background(), "req-abc"))

	ok, err = store.Reserve(context.Background(), "req-abc")
	require.NoError(t, err)
	assert.True(t, ok, "a released key can be reserved again")
}
