// Package cart manages the per-user shopping cart checkout reads from.
package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Summary is a cart with its amounts. Shipping is not included.
type Summary struct {
	Cart       orders.Cart
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	CouponCode string
}

type Service struct {
	Store *orders.Store
	Now   func() time.Time
}

func (s *Service) Get(ctx context.Context, caller orders.Caller) (Summary, error) {
	c, err := s.Store.Queries().FindOrCreateCart(ctx, caller.UserID)
	if err != nil {
		return Summary{}, err
	}
	return summarize(c, nil), nil
}

// AddItem adds qty of the variant, merging with an existing line. The price
// snapshot is refreshed and the combined quantity checked against stock.
func (s *Service) AddItem(ctx context.Context, caller orders.Caller, variantID int64, qty int) (Summary, error) {
	if qty <= 0 {
		return Summary{}, fmt.Errorf("quantity must be positive: %w", orders.ErrInvalidInput)
	}
	return s.mutate(ctx, caller, func(q *orders.Queries, c orders.Cart) error {
		v, err := q.GetVariant(ctx, variantID)
		if err != nil {
			return err
		}
		want := qty
		if existing, ok := lo.Find(c.Items, func(it orders.CartItem) bool { return it.VariantID == variantID }); ok {
			want += existing.Quantity
		}
		if want > v.Stock {
			return &orders.InsufficientStockError{SKU: v.SKU}
		}
		return q.SaveCartItem(ctx, c.ID, v.ID, want, v.Price)
	})
}

// UpdateItem sets the quantity of one of the caller's cart lines.
func (s *Service) UpdateItem(ctx context.Context, caller orders.Caller, itemID int64, qty int) (Summary, error) {
	if qty <= 0 {
		return Summary{}, fmt.Errorf("quantity must be positive: %w", orders.ErrInvalidInput)
	}
	return s.mutate(ctx, caller, func(q *orders.Queries, c orders.Cart) error {
		it, err := ownedItem(ctx, q, caller, itemID)
		if err != nil {
			return err
		}
		v, err := q.GetVariant(ctx, it.VariantID)
		if err != nil {
			return err
		}
		if qty > v.Stock {
			return &orders.InsufficientStockError{SKU: v.SKU}
		}
		return q.SaveCartItem(ctx, it.CartID, v.ID, qty, v.Price)
	})
}

func (s *Service) RemoveItem(ctx context.Context, caller orders.Caller, itemID int64) (Summary, error) {
	return s.mutate(ctx, caller, func(q *orders.Queries, _ orders.Cart) error {
		if _, err := ownedItem(ctx, q, caller, itemID); err != nil {
			return err
		}
		return q.DeleteCartItem(ctx, itemID)
	})
}

func (s *Service) Clear(ctx context.Context, caller orders.Caller) (Summary, error) {
	return s.mutate(ctx, caller, func(q *orders.Queries, c orders.Cart) error {
		return q.ClearCart(ctx, c.ID)
	})
}

// Preview prices the cart with a coupon without redeeming it.
func (s *Service) Preview(ctx context.Context, caller orders.Caller, code string) (Summary, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Summary{}, fmt.Errorf("couponCode is required: %w", orders.ErrInvalidInput)
	}
	q := s.Store.Queries()

	c, err := q.FindCart(ctx, caller.UserID)
	if err != nil {
		return Summary{}, err
	}
	coupon, err := q.FindCoupon(ctx, code)
	if err != nil {
		return Summary{}, err
	}
	if err := coupon.Validate(s.now()); err != nil {
		return Summary{}, err
	}

	sum := summarize(c, &coupon)
	if sum.Subtotal.LessThan(coupon.MinOrderAmount) {
		return Summary{}, orders.ErrCouponBelowMinimum
	}
	return sum, nil
}

func (s *Service) mutate(ctx context.Context, caller orders.Caller, fn func(q *orders.Queries, c orders.Cart) error) (Summary, error) {
	c, err := orders.InTx(ctx, s.Store, func(q *orders.Queries) (orders.Cart, error) {
		c, err := q.FindOrCreateCart(ctx, caller.UserID)
		if err != nil {
			return orders.Cart{}, err
		}
		if err := fn(q, c); err != nil {
			return orders.Cart{}, err
		}
		return q.FindCart(ctx, caller.UserID)
	})
	if err != nil {
		return Summary{}, err
	}
	return summarize(c, nil), nil
}

func ownedItem(ctx context.Context, q *orders.Queries, caller orders.Caller, itemID int64) (orders.CartItem, error) {
	it, owner, err := q.GetCartItem(ctx, itemID)
	if err != nil {
		return orders.CartItem{}, err
	}
	if owner != caller.UserID {
		return orders.CartItem{}, orders.ErrForbidden
	}
	return it, nil
}

func summarize(c orders.Cart, coupon *orders.Coupon) Summary {
	quote := pricing.Price(lo.Map(c.Items, func(it orders.CartItem, _ int) pricing.Line {
		return pricing.Line{UnitPrice: it.Price, Quantity: it.Quantity}
	}), coupon, decimal.Zero)

	sum := Summary{Cart: c, Subtotal: quote.Subtotal, Discount: quote.Discount, Total: quote.Total}
	if coupon != nil && !quote.Subtotal.LessThan(coupon.MinOrderAmount) {
		sum.CouponCode = coupon.Code
	}
	return sum
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
