// Package checkout turns a cart into an order in one unit of work.
package checkout

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
)

type Request struct {
	ShippingAddressID int64
	PaymentMethod     string
	CouponCode        string
	Note              string
}

func (r Request) validate() error {
	if r.ShippingAddressID <= 0 {
		return fmt.Errorf("shippingAddressId is required: %w", orders.ErrInvalidInput)
	}
	if strings.TrimSpace(r.PaymentMethod) == "" {
		return fmt.Errorf("paymentMethod is required: %w", orders.ErrInvalidInput)
	}
	return nil
}

type Coordinator struct {
	Store          *orders.Store
	Shipping       pricing.ShippingQuoter
	Currency       string
	ReservationTTL time.Duration
	Producer       string
	Claims         Claims // optional, enables Idempotent
	Metrics        *metrics.Metrics
	Log            *slog.Logger
	Now            func() time.Time
}

// Checkout validates the caller's cart, address and coupon, prices the order,
// takes stock for every line and records the order with one PENDING
// reservation per line. Any failure leaves no trace. The cart is not cleared.
func (c *Coordinator) Checkout(ctx context.Context, caller orders.Caller, req Request) (orders.Order, error) {
	if err := req.validate(); err != nil {
		return orders.Order{}, err
	}
	req.CouponCode = strings.TrimSpace(req.CouponCode)

	start := time.Now()
	created, err := orders.InTx(ctx, c.Store, func(q *orders.Queries) (orders.Order, error) {
		return c.checkout(ctx, q, caller, req)
	})
	c.Metrics.Checkouts.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		c.Log.WarnContext(ctx, "checkout failed",
			"user_id", caller.UserID, "status", outcome(err), "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return orders.Order{}, err
	}

	c.Metrics.ReservationChanges.WithLabelValues(string(orders.ReservationPending)).Add(float64(len(created.Items)))
	c.Log.InfoContext(ctx, "checkout completed",
		"user_id", caller.UserID, "order_id", created.ID, "order_number", created.OrderNumber,
		"total", created.TotalAmount.String(), "duration_ms", time.Since(start).Milliseconds())

	return c.Store.Queries().GetOrder(ctx, created.ID)
}

func (c *Coordinator) checkout(ctx context.Context, q *orders.Queries, caller orders.Caller, req Request) (orders.Order, error) {
	now := c.now()

	cart, err := q.FindCart(ctx, caller.UserID)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.Order{}, orders.ErrEmptyCart
	}
	if err != nil {
		return orders.Order{}, err
	}
	if len(cart.Items) == 0 {
		return orders.Order{}, orders.ErrEmptyCart
	}

	addr, err := q.GetAddress(ctx, req.ShippingAddressID)
	if err != nil {
		return orders.Order{}, err
	}
	if addr.UserID != caller.UserID {
		return orders.Order{}, fmt.Errorf("address %d: %w", addr.ID, orders.ErrForbidden)
	}

	var coupon *orders.Coupon
	if req.CouponCode != "" {
		cp, err := q.LockAndValidate(ctx, req.CouponCode, now)
		if err != nil {
			return orders.Order{}, err
		}
		coupon = &cp
	}

	items := slices.Clone(cart.Items)
	slices.SortFunc(items, func(a, b orders.CartItem) int { return cmp.Compare(a.VariantID, b.VariantID) })

	fee, err := c.Shipping.Quote(ctx, addr)
	if err != nil {
		return orders.Order{}, fmt.Errorf("shipping quote: %w", err)
	}
	quote := pricing.Price(lo.Map(items, func(it orders.CartItem, _ int) pricing.Line {
		return pricing.Line{UnitPrice: it.Price, Quantity: it.Quantity}
	}), coupon, fee)

	if coupon != nil && quote.Subtotal.LessThan(coupon.MinOrderAmount) {
		return orders.Order{}, orders.ErrCouponBelowMinimum
	}
	if quote.Total.IsNegative() {
		return orders.Order{}, orders.ErrCouponTooLarge
	}

	for _, it := range items {
		ok, err := q.TryDecrease(ctx, it.VariantID, it.Quantity)
		if err != nil {
			return orders.Order{}, err
		}
		if !ok {
			return orders.Order{}, &orders.InsufficientStockError{SKU: it.VariantSKU}
		}
	}

	o := orders.Order{
		OrderNumber:     NewOrderNumber(),
		UserID:          caller.UserID,
		Status:          orders.StatusCreated,
		Subtotal:        quote.Subtotal,
		ShippingFee:     quote.ShippingFee,
		DiscountAmount:  quote.Discount,
		TotalAmount:     quote.Total,
		Currency:        c.Currency,
		ShippingAddress: addr,
		PaymentInfo:     orders.PaymentInfo{Method: req.PaymentMethod},
		Note:            req.Note,
		Items: lo.Map(items, func(it orders.CartItem, _ int) orders.OrderItem {
			return orders.OrderItem{
				ProductID: it.ProductID,
				VariantID: it.VariantID,
				Quantity:  it.Quantity,
				Price:     it.Price,
			}
		}),
	}
	if coupon != nil {
		o.CouponID = &coupon.ID
	}
	o, err = q.InsertOrder(ctx, o)
	if err != nil {
		return orders.Order{}, err
	}

	expiresAt := now.Add(c.ReservationTTL)
	for _, it := range items {
		if _, err := q.InsertReservation(ctx, orders.Reservation{
			VariantID: it.VariantID,
			OrderID:   o.ID,
			Quantity:  it.Quantity,
			Status:    orders.ReservationPending,
			ExpiresAt: expiresAt,
		}); err != nil {
			return orders.Order{}, err
		}
	}

	if coupon != nil {
		ok, err := q.DecrementUse(ctx, coupon.ID)
		if err != nil {
			return orders.Order{}, err
		}
		if !ok {
			return orders.Order{}, orders.ErrCouponRaceLost
		}
	}

	err = q.EnqueueEvent(ctx, orders.EventOrderCreated, c.Producer, o.ID, orders.OrderCreatedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Status:      o.Status,
		Items: lo.Map(items, func(it orders.CartItem, _ int) orders.ItemQty {
			return orders.ItemQty{VariantID: it.VariantID, Qty: it.Quantity}
		}),
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
	})
	if err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// NewOrderNumber returns "ORD" followed by a ULID, sortable by creation time.
func NewOrderNumber() string {
	return "ORD" + ulid.Make().String()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, orders.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, orders.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, orders.ErrInvalidCoupon):
		return "invalid_coupon"
	case errors.Is(err, orders.ErrForbidden):
		return "forbidden"
	case errors.Is(err, orders.ErrNotFound):
		return "not_found"
	case errors.Is(err, orders.ErrRetryable):
		return "retryable"
	}
	return "error"
}
