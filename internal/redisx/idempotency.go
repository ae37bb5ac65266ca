package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const pending = "pending"

// Idempotency stores which order a checkout idempotency key produced.
type Idempotency struct {
	rdb redis.Cmdable
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency { return &Idempotency{rdb: rdb} }

// Claim places a short-lived placeholder on the key. When the key is taken
// it reports the stored order id, or 0 while the first request is running.
func (i *Idempotency) Claim(ctx context.Context, key string) (bool, int64, error) {
	k := fmt.Sprintf(KeyIdemCheckout, key)
	ok, err := i.rdb.SetNX(ctx, k, pending, TTLIdempotencyPending).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}

	v, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; reported as in progress so the client retries
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if v == pending {
		return false, 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false, 0, fmt.Errorf("idempotency value %q: %w", v, err)
	}
	return false, id, nil
}

func (i *Idempotency) Complete(ctx context.Context, key string, orderID int64) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemCheckout, key), orderID, TTLIdempotency).Err()
}

func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemCheckout, key)).Err()
}
