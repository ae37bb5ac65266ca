package redisx

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestIdempotency_ClaimCompleteReplay(t *testing.T) {
	_, rdb := setupRedis(t)
	idem := NewIdempotency(rdb)
	ctx := t.Context()

	claimed, id, err := idem.Claim(ctx, "7:abc")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Zero(t, id)

	claimed, id, err = idem.Claim(ctx, "7:abc")
	require.NoError(t, err)
	assert.False(t, claimed, "second claim while in flight")
	assert.Zero(t, id)

	require.NoError(t, idem.Complete(ctx, "7:abc", 42))

	claimed, id, err = idem.Claim(ctx, "7:abc")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(42), id)
}

func TestIdempotency_ReleaseFreesKey(t *testing.T) {
	_, rdb := setupRedis(t)
	idem := NewIdempotency(rdb)
	ctx := t.Context()

	_, _, err := idem.Claim(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, idem.Release(ctx, "k"))

	claimed, _, err := idem.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotency_PendingExpires(t *testing.T) {
	mr, rdb := setupRedis(t)
	idem := NewIdempotency(rdb)
	ctx := t.Context()

	_, _, err := idem.Claim(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(TTLIdempotencyPending + time.Second)

	claimed, _, err := idem.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestLocker(t *testing.T) {
	mr, rdb := setupRedis(t)
	l := NewLocker(rdb)
	ctx := t.Context()

	release, ok, err := l.TryLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("lock:sweeper"))

	_, ok, err = l.TryLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_ReleaseAfterTakeoverKeepsNewOwner(t *testing.T) {
	mr, rdb := setupRedis(t)
	l := NewLocker(rdb)
	ctx := t.Context()

	release, ok, err := l.TryLock(ctx, "sweeper", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("lock:sweeper"), "stale release must not drop the new lease")
}

func TestStatusCache(t *testing.T) {
	mr, rdb := setupRedis(t)
	c := NewStatusCache(rdb)
	ctx := t.Context()

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.Set(ctx, 1, StatusEntry{Status: orders.StatusPaid, UserID: 9, UpdatedAt: at}))

	e, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusEntry{Status: orders.StatusPaid, UserID: 9, UpdatedAt: at}, e)
	assert.Equal(t, TTLStatusCache, mr.TTL("order_status:1"))

	require.NoError(t, c.Invalidate(ctx, 1))
	_, ok, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusCache_OlderWriteLoses(t *testing.T) {
	mr, rdb := setupRedis(t)
	c := NewStatusCache(rdb)
	ctx := t.Context()
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, c.Set(ctx, 1, StatusEntry{Status: orders.StatusPaid, UserID: 9, UpdatedAt: at}))
	require.NoError(t, c.Set(ctx, 1, StatusEntry{Status: orders.StatusCreated, UserID: 9, UpdatedAt: at.Add(-time.Second)}))

	e, _, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, e.Status)

	require.NoError(t, c.Set(ctx, 1, StatusEntry{Status: orders.StatusConfirmed, UserID: 9, UpdatedAt: at.Add(time.Second)}))
	e, _, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, e.Status)

	// a corrupt entry is replaced rather than blocking writes
	require.NoError(t, mr.Set("order_status:2", "{not json"))
	require.NoError(t, c.Set(ctx, 2, StatusEntry{Status: orders.StatusPaid, UserID: 9, UpdatedAt: at}))
	e, ok, err := c.Get(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.StatusPaid, e.Status)
}

func TestDedup(t *testing.T) {
	_, rdb := setupRedis(t)
	d := NewDedup(rdb, "projector")
	ctx := t.Context()

	seen, err := d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "ev-1"))

	seen, err = d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)
}
