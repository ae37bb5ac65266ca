package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

type StatusEntry struct {
	Status    orders.Status `json:"status"`
	UserID    int64         `json:"user_id"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache is the read-optimized order status projection.
type StatusCache struct {
	rdb redis.UniversalClient
}

func NewStatusCache(rdb redis.UniversalClient) *StatusCache { return &StatusCache{rdb: rdb} }

const statusSetAttempts = 5

func (c *StatusCache) Get(ctx context.Context, orderID int64) (StatusEntry, bool, error) {
	return getStatus(ctx, c.rdb, fmt.Sprintf(KeyOrderStatus, orderID))
}

// Set stores e unless the cached entry is newer. The check and the write
// run under WATCH so a concurrent writer forces a re-read.
func (c *StatusCache) Set(ctx context.Context, orderID int64, e StatusEntry) error {
	key := fmt.Sprintf(KeyOrderStatus, orderID)
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		cur, found, err := getStatus(ctx, tx, key)
		if err != nil && !errors.Is(err, errBadEntry) {
			return err
		}
		if found && cur.UpdatedAt.After(e.UpdatedAt) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, TTLStatusCache)
			return nil
		})
		return err
	}

	for range statusSetAttempts {
		err = c.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("status cache set %d: %w", orderID, err)
}

var errBadEntry = errors.New("decode status entry")

func getStatus(ctx context.Context, rdb redis.Cmdable, key string) (StatusEntry, bool, error) {
	s, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return StatusEntry{}, false, fmt.Errorf("%w: %w", errBadEntry, err)
	}
	return e, true, nil
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// Dedup remembers processed event ids per consuming service.
type Dedup struct {
	rdb     redis.Cmdable
	service string
}

func NewDedup(rdb redis.Cmdable, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.rdb, fmt.Sprintf(KeyDedup, d.service, eventID))
}

func (d *Dedup) Mark(ctx context.Context, eventID string) error {
	return d.rdb.Set(ctx, fmt.Sprintf(KeyDedup, d.service, eventID), "1", TTLDedup).Err()
}
