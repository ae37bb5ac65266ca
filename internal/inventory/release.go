// Package inventory gives reserved stock back: on cancellation and when a
// reservation outlives its payment window.
package inventory

import (
	"context"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

const (
	ReasonUser    = "CANCELLED_BY_USER"
	ReasonAdmin   = "CANCELLED_BY_ADMIN"
	ReasonExpired = "RESERVATION_EXPIRED"
)

// releaseHeld moves every reservation of the order that still holds stock
// to `to` and credits its quantity back. Each move is conditional on the
// current status, so a reservation already handled by a concurrent writer is
// skipped and never credited twice.
func releaseHeld(ctx context.Context, q *orders.Queries, orderID int64, to orders.ReservationStatus) ([]orders.ItemQty, error) {
	rs, err := q.ReservationsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var released []orders.ItemQty
	for _, r := range rs {
		if !r.Status.HoldsStock() {
			continue
		}
		ok, err := q.TransitionReservation(ctx, r.ID, to, orders.ReservationPending, orders.ReservationConfirmed)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := q.Increase(ctx, r.VariantID, r.Quantity); err != nil {
			return nil, err
		}
		released = append(released, orders.ItemQty{VariantID: r.VariantID, Qty: r.Quantity})
	}
	return released, nil
}
