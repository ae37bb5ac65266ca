package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
	ErrAlreadyProcessed  = fmt.Errorf("%w: order already processed", ErrInvalidState)
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidCoupon     = errors.New("invalid coupon")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRetryable         = errors.New("temporarily unavailable, retry later")

	ErrCouponNotFound     = fmt.Errorf("%w: not found", ErrInvalidCoupon)
	ErrCouponInactive     = fmt.Errorf("%w: inactive", ErrInvalidCoupon)
	ErrCouponExpired      = fmt.Errorf("%w: expired", ErrInvalidCoupon)
	ErrCouponExhausted    = fmt.Errorf("%w: no uses left", ErrInvalidCoupon)
	ErrCouponBelowMinimum = fmt.Errorf("%w: order below minimum amount", ErrInvalidCoupon)
	ErrCouponRaceLost     = fmt.Errorf("%w: redeemed concurrently", ErrInvalidCoupon)
	ErrCouponTooLarge     = fmt.Errorf("%w: discount exceeds order total", ErrInvalidCoupon)
)

// InsufficientStockError names the variant that could not be decremented.
type InsufficientStockError struct {
	SKU string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s", e.SKU)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
