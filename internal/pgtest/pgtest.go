// Package pgtest starts a throwaway PostgreSQL for integration tests and
// seeds the catalog rows they need.
package pgtest

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/postgres"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/goleak"
)

// Start runs postgres:16-alpine, applies the migrations and returns a pool.
// Callers close the pool and terminate the container.
func Start(ctx context.Context) (testcontainers.Container, *pgxpool.Pool, error) {
	c, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres: %w", err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return c, nil, err
	}
	pool, err := postgres.Connect(ctx, dsn, 16)
	if err != nil {
		return c, nil, err
	}
	if err := postgres.Migrate(pool); err != nil {
		pool.Close()
		return c, nil, err
	}
	return c, pool, nil
}

func SeedUser(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	var id int64
	err := pool.QueryRow(ctx,
		`INSERT INTO users(email, full_name) VALUES ($1, $2) RETURNING id`,
		gofakeit.UUID()+"@example.com", gofakeit.Name()).Scan(&id)
	return id, err
}

func SeedAddress(ctx context.Context, pool *pgxpool.Pool, userID int64) (int64, error) {
	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO addresses(user_id, recipient_name, phone, address_line, ward, district, city, postal_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		userID, gofakeit.Name(), gofakeit.Phone(), gofakeit.Street(), "Ward 1", "District 1",
		gofakeit.City(), gofakeit.Zip()).Scan(&id)
	return id, err
}

// SeedVariant inserts a product with a single variant.
func SeedVariant(ctx context.Context, pool *pgxpool.Pool, stock int, price decimal.Decimal) (int64, error) {
	var productID, id int64
	err := pool.QueryRow(ctx,
		`INSERT INTO products(sku, name) VALUES ($1, $2) RETURNING id`,
		"P-"+gofakeit.UUID(), gofakeit.ProductName()).Scan(&productID)
	if err != nil {
		return 0, err
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO product_variants(product_id, sku, stock, price, attributes)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		productID, "V-"+gofakeit.UUID(), stock, price,
		map[string]string{"color": gofakeit.Color(), "size": "M"}).Scan(&id)
	return id, err
}

type Coupon struct {
	Type     string
	Amount   decimal.Decimal
	Minimum  decimal.Decimal
	UsesLeft int
	From     time.Time
	To       time.Time
	Inactive bool
}

// SeedCoupon inserts a coupon with a random code and returns the code.
func SeedCoupon(ctx context.Context, pool *pgxpool.Pool, s Coupon) (string, error) {
	if s.From.IsZero() {
		s.From = time.Now().Add(-time.Hour)
	}
	if s.To.IsZero() {
		s.To = time.Now().Add(time.Hour)
	}
	code := "C" + gofakeit.LetterN(10)
	_, err := pool.Exec(ctx, `
		INSERT INTO coupons(code, type, amount, min_order_amount, max_uses, uses_left, valid_from, valid_to, is_active)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8)`,
		code, s.Type, s.Amount, s.Minimum, s.UsesLeft, s.From, s.To, !s.Inactive)
	return code, err
}

// AddCartItem puts variantID into the user's cart at the variant's current price.
func AddCartItem(ctx context.Context, pool *pgxpool.Pool, userID, variantID int64, qty int) error {
	_, err := pool.Exec(ctx, `
		WITH c AS (
			INSERT INTO carts(user_id) VALUES ($1)
			ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
			RETURNING id
		)
		INSERT INTO cart_items(cart_id, variant_id, quantity, price)
		SELECT c.id, v.id, $3, v.price FROM c, product_variants v WHERE v.id = $2
		ON CONFLICT (cart_id, variant_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		userID, variantID, qty)
	return err
}

func Stock(ctx context.Context, pool *pgxpool.Pool, variantID int64) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `SELECT stock FROM product_variants WHERE id = $1`, variantID).Scan(&n)
	return n, err
}

func UsesLeft(ctx context.Context, pool *pgxpool.Pool, code string) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `SELECT uses_left FROM coupons WHERE code = $1`, code).Scan(&n)
	return n, err
}

func Count(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) (int, error) {
	var n int
	err := pool.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

// Shopper is a user with an address and one variant already in their cart.
type Shopper struct {
	UserID    int64
	AddressID int64
	VariantID int64
}

func SeedShopper(ctx context.Context, pool *pgxpool.Pool, stock int, price decimal.Decimal, qty int) (Shopper, error) {
	var (
		s   Shopper
		err error
	)
	if s.UserID, err = SeedUser(ctx, pool); err != nil {
		return s, err
	}
	if s.AddressID, err = SeedAddress(ctx, pool, s.UserID); err != nil {
		return s, err
	}
	if s.VariantID, err = SeedVariant(ctx, pool, stock, price); err != nil {
		return s, err
	}
	return s, AddCartItem(ctx, pool, s.UserID, s.VariantID, qty)
}

// SeedBuyer is a user with an address and an empty cart.
func SeedBuyer(ctx context.Context, pool *pgxpool.Pool) (Shopper, error) {
	var (
		s   Shopper
		err error
	)
	if s.UserID, err = SeedUser(ctx, pool); err != nil {
		return s, err
	}
	s.AddressID, err = SeedAddress(ctx, pool, s.UserID)
	return s, err
}

// Line is one cart line backed by a fresh variant.
type Line struct {
	Stock int
	Qty   int
	Price decimal.Decimal
}

// Basket is a buyer with one cart line per seeded variant. VariantIDs follow
// the order of the lines, which is also the order they were added to the cart.
type Basket struct {
	UserID     int64
	AddressID  int64
	VariantIDs []int64
}

func SeedBasket(ctx context.Context, pool *pgxpool.Pool, lines ...Line) (Basket, error) {
	sh, err := SeedBuyer(ctx, pool)
	if err != nil {
		return Basket{}, err
	}
	b := Basket{UserID: sh.UserID, AddressID: sh.AddressID}
	for _, l := range lines {
		price := l.Price
		if price.IsZero() {
			price = decimal.NewFromInt(1000)
		}
		id, err := SeedVariant(ctx, pool, l.Stock, price)
		if err != nil {
			return b, err
		}
		if err := AddCartItem(ctx, pool, b.UserID, id, l.Qty); err != nil {
			return b, err
		}
		b.VariantIDs = append(b.VariantIDs, id)
	}
	return b, nil
}

// IgnoreContainerRuntime lists goroutines the Docker client keeps alive
// between tests; pass them to goleak.VerifyNone.
func IgnoreContainerRuntime() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreAnyFunction("internal/poll.runtime_pollWait"),
	}
}
