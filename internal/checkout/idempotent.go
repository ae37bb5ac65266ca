package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

// ErrInProgress is returned when a request with the same idempotency key is
// still being processed.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// Claims records which order an idempotency key produced.
type Claims interface {
	// Claim reserves key. It returns claimed=false with the order id of an
	// earlier completed request, or with orderID=0 while one is in flight.
	Claim(ctx context.Context, key string) (claimed bool, orderID int64, err error)
	Complete(ctx context.Context, key string, orderID int64) error
	Release(ctx context.Context, key string) error
}

// Idempotent runs Checkout at most once per (caller, key) when c.Claims is
// set. A replay returns the order created the first time with replayed=true.
// A failed checkout frees the key so the client can retry.
func (c *Coordinator) Idempotent(ctx context.Context, caller orders.Caller, key string, req Request) (_ orders.Order, replayed bool, err error) {
	claims := c.Claims
	if key == "" || claims == nil {
		o, err := c.Checkout(ctx, caller, req)
		return o, false, err
	}
	scoped := fmt.Sprintf("%d:%s", caller.UserID, key)

	claimed, orderID, err := claims.Claim(ctx, scoped)
	if err != nil {
		return orders.Order{}, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if !claimed {
		if orderID == 0 {
			return orders.Order{}, false, ErrInProgress
		}
		o, err := c.Store.Queries().GetOrder(ctx, orderID)
		return o, true, err
	}

	o, err := c.Checkout(ctx, caller, req)
	if err != nil {
		if rerr := claims.Release(context.WithoutCancel(ctx), scoped); rerr != nil {
			c.Log.ErrorContext(ctx, "release idempotency key", "key", scoped, "error", rerr)
		}
		return orders.Order{}, false, err
	}
	if err := claims.Complete(ctx, scoped, o.ID); err != nil {
		c.Log.ErrorContext(ctx, "complete idempotency key", "key", scoped, "order_id", o.ID, "error", err)
	}
	return o, false, nil
}
