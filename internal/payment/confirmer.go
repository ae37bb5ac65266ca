// Package payment applies payment gateway callbacks to orders.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

type Confirmer struct {
	Store    *orders.Store
	Producer string
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Confirm marks a CREATED order PAID, records the payment reference and
// confirms its pending reservations. Stock is not touched. Any other status
// yields orders.ErrAlreadyProcessed.
func (c *Confirmer) Confirm(ctx context.Context, orderNumber, reference string) (orders.Order, error) {
	if strings.TrimSpace(orderNumber) == "" || strings.TrimSpace(reference) == "" {
		return orders.Order{}, fmt.Errorf("orderNumber and paymentReference are required: %w", orders.ErrInvalidInput)
	}

	type result struct {
		id        int64
		confirmed int64
	}
	res, err := orders.InTx(ctx, c.Store, func(q *orders.Queries) (result, error) {
		o, err := q.LockOrderByNumber(ctx, orderNumber)
		if err != nil {
			return result{}, err
		}
		if o.Status != orders.StatusCreated {
			return result{}, fmt.Errorf("order %s is %s: %w", orderNumber, o.Status, orders.ErrAlreadyProcessed)
		}

		info := o.PaymentInfo
		info.Reference = reference
		ok, err := q.MarkPaid(ctx, o.ID, info)
		if err != nil {
			return result{}, err
		}
		if !ok {
			return result{}, orders.ErrAlreadyProcessed
		}

		n, err := q.ConfirmPending(ctx, o.ID)
		if err != nil {
			return result{}, err
		}

		err = q.EnqueueEvent(ctx, orders.EventOrderPaid, c.Producer, o.ID, orders.OrderPaidPayload{
			OrderID:          o.ID,
			OrderNumber:      o.OrderNumber,
			Status:           orders.StatusPaid,
			PaymentReference: reference,
		})
		return result{id: o.ID, confirmed: n}, err
	})
	if err != nil {
		return orders.Order{}, err
	}

	c.Metrics.ReservationChanges.WithLabelValues(string(orders.ReservationConfirmed)).Add(float64(res.confirmed))
	c.Log.InfoContext(ctx, "payment confirmed",
		"order_id", res.id, "order_number", orderNumber, "reservations", res.confirmed)
	return c.Store.Queries().GetOrder(ctx, res.id)
}
