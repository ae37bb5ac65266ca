// Package pricing computes order amounts. It performs no I/O.
package pricing

import (
	"context"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Quote struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
}

// Price returns subtotal, discount, shipping fee and total for the lines.
// The total is not clamped: a fixed discount larger than the order yields a
// negative total, and callers decide what to do with it.
func Price(lines []Line, coupon *orders.Coupon, shippingFee decimal.Decimal) Quote {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	discount := Discount(subtotal, coupon)
	return Quote{
		Subtotal:    subtotal,
		Discount:    discount,
		ShippingFee: shippingFee,
		Total:       subtotal.Add(shippingFee).Sub(discount),
	}
}

// Discount is zero without a coupon or below its minimum order amount.
// Percentages round half up to two decimals.
func Discount(subtotal decimal.Decimal, coupon *orders.Coupon) decimal.Decimal {
	if coupon == nil || subtotal.LessThan(coupon.MinOrderAmount) {
		return decimal.Zero
	}
	switch coupon.Type {
	case orders.CouponFixedAmount:
		return coupon.Amount
	case orders.CouponPercentage:
		return subtotal.Mul(coupon.Amount).Div(hundred).Round(2)
	}
	return decimal.Zero
}

// ShippingQuoter supplies the shipping fee for an address.
type ShippingQuoter interface {
	Quote(ctx context.Context, addr orders.Address) (decimal.Decimal, error)
}

// FlatRate charges the same fee everywhere.
type FlatRate struct {
	Fee decimal.Decimal
}

func (f FlatRate) Quote(context.Context, orders.Address) (decimal.Decimal, error) {
	return f.Fee, nil
}
