package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

type Canceller struct {
	Store    *orders.Store
	Producer string
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Cancel cancels the order and returns its reserved stock. Only the owner or
// an admin may cancel. Shipped and delivered orders are refused with
// orders.ErrInvalidState. Cancelling a cancelled order returns it unchanged.
func (c *Canceller) Cancel(ctx context.Context, caller orders.Caller, orderID int64) (orders.Order, error) {
	reason := ReasonUser
	type result struct {
		released []orders.ItemQty
		changed  bool
	}

	res, err := orders.InTx(ctx, c.Store, func(q *orders.Queries) (result, error) {
		o, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return result{}, err
		}
		if !caller.CanAccess(o.UserID) {
			return result{}, orders.ErrForbidden
		}
		if o.Status == orders.StatusCancelled {
			return result{}, nil
		}
		if !o.Status.Cancellable() {
			return result{}, fmt.Errorf("order %d is %s: %w", o.ID, o.Status, orders.ErrInvalidState)
		}
		if caller.UserID != o.UserID {
			reason = ReasonAdmin
		}

		released, err := releaseHeld(ctx, q, o.ID, orders.ReservationReleased)
		if err != nil {
			return result{}, err
		}
		if _, err := q.UpdateOrderStatus(ctx, o.ID, o.Status, orders.StatusCancelled); err != nil {
			return result{}, err
		}
		err = q.EnqueueEvent(ctx, orders.EventOrderCancelled, c.Producer, o.ID, orders.OrderCancelledPayload{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Status:      orders.StatusCancelled,
			Reason:      reason,
			Released:    released,
		})
		return result{released: released, changed: true}, err
	})
	if err != nil {
		return orders.Order{}, err
	}

	if res.changed {
		c.Metrics.Cancellations.WithLabelValues(reason).Inc()
		c.Metrics.ReservationChanges.WithLabelValues(string(orders.ReservationReleased)).Add(float64(len(res.released)))
		c.Log.InfoContext(ctx, "order cancelled",
			"order_id", orderID, "reason", reason, "released", len(res.released))
	}
	return c.Store.Queries().GetOrder(ctx, orderID)
}
