package pgtest

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Coordinator is a checkout coordinator over store with free shipping.
func Coordinator(store *orders.Store) *checkout.Coordinator {
	return &checkout.Coordinator{
		Store:          store,
		Shipping:       pricing.FlatRate{Fee: decimal.Zero},
		Currency:       "VND",
		ReservationTTL: 30 * time.Minute,
		Producer:       "checkout-api",
		Metrics:        metrics.New(prometheus.NewRegistry()),
		Log:            DiscardLogger(),
	}
}

// PlaceOrder seeds a shopper and checks their cart out, returning the
// shopper and the CREATED order.
func PlaceOrder(ctx context.Context, store *orders.Store, stock, qty int) (Shopper, orders.Order, error) {
	sh, err := SeedShopper(ctx, store.DB, stock, decimal.NewFromInt(1000), qty)
	if err != nil {
		return sh, orders.Order{}, err
	}
	o, err := Coordinator(store).Checkout(ctx, orders.Caller{UserID: sh.UserID}, checkout.Request{
		ShippingAddressID: sh.AddressID, PaymentMethod: "BANK_TRANSFER",
	})
	return sh, o, err
}

// PlaceBasketOrder is PlaceOrder for a cart with one line per Line.
func PlaceBasketOrder(ctx context.Context, store *orders.Store, lines ...Line) (Basket, orders.Order, error) {
	b, err := SeedBasket(ctx, store.DB, lines...)
	if err != nil {
		return b, orders.Order{}, err
	}
	o, err := Coordinator(store).Checkout(ctx, orders.Caller{UserID: b.UserID}, checkout.Request{
		ShippingAddressID: b.AddressID, PaymentMethod: "BANK_TRANSFER",
	})
	return b, o, err
}

// Expire moves every reservation of the order into the past.
func Expire(ctx context.Context, pool *pgxpool.Pool, orderID int64) error {
	_, err := pool.Exec(ctx,
		`UPDATE stock_reservations SET expires_at = now() - interval '1 minute' WHERE order_id = $1`, orderID)
	return err
}

func SetStatus(ctx context.Context, pool *pgxpool.Pool, orderID int64, s orders.Status) error {
	_, err := pool.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, s)
	return err
}
