package orders

import (
	"context"
	"time"
)

// VariantStock owns per-variant available quantity.
type VariantStock interface {
	// TryDecrease subtracts qty only if that much is available. It reports
	// false, without writing anything, otherwise.
	TryDecrease(ctx context.Context, variantID int64, qty int) (bool, error)
	// Increase adds qty back unconditionally. Callers guard against double credit.
	Increase(ctx context.Context, variantID int64, qty int) error
}

// CouponLedger owns remaining uses and the validity window of each coupon.
type CouponLedger interface {
	// LockAndValidate locks the coupon row until the enclosing transaction
	// ends and checks it can be redeemed at now.
	LockAndValidate(ctx context.Context, code string, now time.Time) (Coupon, error)
	// DecrementUse consumes one use. false means the last use was taken.
	DecrementUse(ctx context.Context, couponID int64) (bool, error)
}

// ReservationStore records which order holds which stock.
type ReservationStore interface {
	InsertReservation(ctx context.Context, r Reservation) (Reservation, error)
	ReservationsByOrder(ctx context.Context, orderID int64) ([]Reservation, error)
	// TransitionReservation moves a reservation from one of the given states
	// to `to`. false means another writer got there first.
	TransitionReservation(ctx context.Context, id int64, to ReservationStatus, from ...ReservationStatus) (bool, error)
	DueReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
}
