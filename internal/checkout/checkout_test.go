package checkout_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-orders/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/pgtest"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
	"github.com/ariefcatur/go-checkout-orders/internal/redisx"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"go.uber.org/goleak"
)

type checkoutSuite struct {
	suite.Suite

	container testcontainers.Container
	pool      *pgxpool.Pool
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	co        *checkout.Coordinator
}

func TestCheckoutSuite(t *testing.T) {
	defer goleak.VerifyNone(t, pgtest.IgnoreContainerRuntime()...)

	suite.Run(t, new(checkoutSuite))
}

func (s *checkoutSuite) SetupSuite() {
	var err error
	s.container, s.pool, err = pgtest.Start(s.T().Context())
	s.Require().NoError(err)

	s.mr, err = miniredis.Run()
	s.Require().NoError(err)
	s.rdb = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})

	s.co = &checkout.Coordinator{
		Store:          orders.NewStore(s.pool, 2*time.Second, 5),
		Shipping:       pricing.FlatRate{Fee: decimal.RequireFromString("30000")},
		Currency:       "VND",
		ReservationTTL: 30 * time.Minute,
		Producer:       "checkout-api",
		Claims:         redisx.NewIdempotency(s.rdb),
		Metrics:        metrics.New(prometheus.NewRegistry()),
		Log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (s *checkoutSuite) TearDownSuite() {
	ctx := s.T().Context()
	if s.rdb != nil {
		s.NoError(s.rdb.Close())
	}
	if s.mr != nil {
		s.mr.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.NoError(s.container.Terminate(ctx))
	}
}

func (s *checkoutSuite) shopper(stock int, price string, qty int) pgtest.Shopper {
	sh, err := pgtest.SeedShopper(s.T().Context(), s.pool, stock, decimal.RequireFromString(price), qty)
	s.Require().NoError(err)
	return sh
}

func (s *checkoutSuite) coupon(c pgtest.Coupon) string {
	code, err := pgtest.SeedCoupon(s.T().Context(), s.pool, c)
	s.Require().NoError(err)
	return code
}

func (s *checkoutSuite) count(query string, args ...any) int {
	n, err := pgtest.Count(s.T().Context(), s.pool, query, args...)
	s.Require().NoError(err)
	return n
}

func (s *checkoutSuite) TestCheckout_WithPercentageCoupon() {
	t := s.T()
	ctx := t.Context()

	sh := s.shopper(10, "250000", 2)
	code := s.coupon(pgtest.Coupon{Type: "PERCENTAGE", Amount: decimal.NewFromInt(10), UsesLeft: 5})

	o, err := s.co.Checkout(ctx, orders.Caller{UserID: sh.UserID}, checkout.Request{
		ShippingAddressID: sh.AddressID, PaymentMethod: "COD", CouponCode: code, Note: "leave at door",
	})
	require.NoError(t, err)

	assert.Equal(t, orders.StatusCreated, o.Status)
	assert.Regexp(t, `^ORD[0-9A-Z]{26}$`, o.OrderNumber)
	assert.Equal(t, "VND", o.Currency)
	assert.Equal(t, "leave at door", o.Note)
	assert.Equal(t, "COD", o.PaymentInfo.Method)
	assert.NotEmpty(t, o.UserName)

	money := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
	want := []decimal.Decimal{
		decimal.RequireFromString("500000"),
		decimal.RequireFromString("50000"),
		decimal.RequireFromString("30000"),
		decimal.RequireFromString("480000"),
	}
	got := []decimal.Decimal{o.Subtotal, o.DiscountAmount, o.ShippingFee, o.TotalAmount}
	assert.True(t, cmp.Equal(want, got, money), cmp.Diff(want, got, money))

	require.Len(t, o.Items, 1)
	assert.Equal(t, sh.VariantID, o.Items[0].VariantID)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.NotEmpty(t, o.Items[0].VariantSKU)

	stock, err := pgtest.Stock(ctx, s.pool, sh.VariantID)
	require.NoError(t, err)
	assert.Equal(t, 8, stock)

	left, err := pgtest.UsesLeft(ctx, s.pool, code)
	require.NoError(t, err)
	assert.Equal(t, 4, left)

	rs, err := orders.New(s.pool).ReservationsByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, orders.ReservationPending, rs[0].Status)
	assert.Equal(t, 2, rs[0].Quantity)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), rs[0].ExpiresAt, time.Minute)

	assert.Equal(t, 1, s.count(`SELECT count(*) FROM outbox WHERE topic = $1 AND key = $2`,
		orders.TopicOrderCreated, orders.PartitionKey(o.ID)))

	// the cart survives checkout
	assert.Equal(t, 1, s.count(`SELECT count(*) FROM cart_items ci JOIN carts c ON c.id = ci.cart_id WHERE c.user_id = $1`, sh.UserID))
}

func (s *checkoutSuite) TestCheckout_RejectionsLeaveNoTrace() {
	ctx := s.T().Context()

	expired := s.coupon(pgtest.Coupon{
		Type: "FIXED_AMOUNT", Amount: decimal.NewFromInt(10000), UsesLeft: 5,
		From: time.Now().Add(-48 * time.Hour), To: time.Now().Add(-24 * time.Hour),
	})
	inactive := s.coupon(pgtest.Coupon{Type: "FIXED_AMOUNT", Amount: decimal.NewFromInt(1), UsesLeft: 5, Inactive: true})
	exhausted := s.coupon(pgtest.Coupon{Type: "FIXED_AMOUNT", Amount: decimal.NewFromInt(1), UsesLeft: 0})
	minimum := s.coupon(pgtest.Coupon{Type: "FIXED_AMOUNT", Amount: decimal.NewFromInt(1), Minimum: decimal.NewFromInt(1_000_000), UsesLeft: 5})
	huge := s.coupon(pgtest.Coupon{Type: "FIXED_AMOUNT", Amount: decimal.NewFromInt(10_000_000), UsesLeft: 5})

	tests := []struct {
		name    string
		coupon  string
		stock   int
		qty     int
		wantErr error
	}{
		{name: "expired coupon", coupon: expired, stock: 5, qty: 1, wantErr: orders.ErrCouponExpired},
		{name: "inactive coupon", coupon: inactive, stock: 5, qty: 1, wantErr: orders.ErrCouponInactive},
		{name: "exhausted coupon", coupon: exhausted, stock: 5, qty: 1, wantErr: orders.ErrCouponExhausted},
		{name: "unknown coupon", coupon: "NOPE", stock: 5, qty: 1, wantErr: orders.ErrCouponNotFound},
		{name: "below minimum", coupon: minimum, stock: 5, qty: 1, wantErr: orders.ErrCouponBelowMinimum},
		{name: "discount beyond total", coupon: huge, stock: 5, qty: 1, wantErr: orders.ErrCouponTooLarge},
		{name: "insufficient stock", stock: 1, qty: 2, wantErr: orders.ErrInsufficientStock},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			t := s.T()
			sh := s.shopper(tt.stock, "100000", tt.qty)

			_, err := s.co.Checkout(ctx, orders.Caller{UserID: sh.UserID}, checkout.Request{
				ShippingAddressID: sh.AddressID, PaymentMethod: "COD", CouponCode: tt.coupon,
			})
			require.ErrorIs(t, err, tt.wantErr)

			stock, err := pgtest.Stock(ctx, s.pool, sh.VariantID)
			require.NoError(t, err)
			assert.Equal(t, tt.stock, stock)
			assert.Zero(t, s.count(`SELECT count(*) FROM orders WHERE user_id = $1`, sh.UserID))
			assert.Zero(t, s.count(`SELECT count(*) FROM stock_reservations WHERE variant_id = $1`, sh.VariantID))
		})
	}

	left, err := pgtest.UsesLeft(ctx, s.pool, minimum)
	s.Require().NoError(err)
	s.Equal(5, left)
}

func (s *checkoutSuite) TestCheckout_InsufficientStockNamesSKU() {
	t := s.T()
	sh := s.shopper(1, "100", 3)

	_, err := s.co.Checkout(t.Context(), orders.Caller{UserID: sh.UserID}, checkout.Request{
		ShippingAddressID: sh.AddressID, PaymentMethod: "COD",
	})
	var stockErr *orders.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.NotEmpty(t, stockErr.SKU)
}

func (s *checkoutSuite) TestCheckout_EmptyCart() {
	t := s.T()
	ctx := t.Context()

	uid, err := pgtest.SeedUser(ctx, s.pool)
	require.NoError(t, err)
	addr, err := pgtest.SeedAddress(ctx, s.pool, uid)
	require.NoError(t, err)

	_, err = s.co.Checkout(ctx, orders.Caller{UserID: uid}, checkout.Request{ShippingAddressID: addr, PaymentMethod: "COD"})
	assert.ErrorIs(t, err, orders.ErrEmptyCart)
}

func (s *checkoutSuite) TestCheckout_AddressOfAnotherUser() {
	t := s.T()
	ctx := t.Context()

	sh := s.shopper(5, "100", 1)
	other, err := pgtest.SeedUser(ctx, s.pool)
	require.NoError(t, err)
	foreign, err := pgtest.SeedAddress(ctx, s.pool, other)
	require.NoError(t, err)

	_, err = s.co.Checkout(ctx, orders.Caller{UserID: sh.UserID}, checkout.Request{ShippingAddressID: foreign, PaymentMethod: "COD"})
	assert.ErrorIs(t, err, orders.ErrForbidden)

	_, err = s.co.Checkout(ctx, orders.Caller{UserID: sh.UserID}, checkout.Request{ShippingAddressID: 1 << 40, PaymentMethod: "COD"})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	_, err = s.co.Checkout(ctx, orders.Caller{UserID: sh.UserID}, checkout.Request{ShippingAddressID: sh.AddressID})
	assert.ErrorIs(t, err, orders.ErrInvalidInput)
}

// Stock 3, two buyers wanting 2 each: exactly one wins.
func (s *checkoutSuite) TestCheckout_ConcurrentBuyersNeverOversell() {
	t := s.T()
	ctx := t.Context()

	variant, err := pgtest.SeedVariant(ctx, s.pool, 3, decimal.NewFromInt(100))
	require.NoError(t, err)

	const buyers = 2
	type buyer struct{ user, addr int64 }
	bs := make([]buyer, buyers)
	for i := range bs {
		bs[i].user, err = pgtest.SeedUser(ctx, s.pool)
		require.NoError(t, err)
		bs[i].addr, err = pgtest.SeedAddress(ctx, s.pool, bs[i].user)
		require.NoError(t, err)
		require.NoError(t, pgtest.AddCartItem(ctx, s.pool, bs[i].user, variant, 2))
	}

	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i, b := range bs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.co.Checkout(ctx, orders.Caller{UserID: b.user}, checkout.Request{ShippingAddressID: b.addr, PaymentMethod: "COD"})
		}()
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, orders.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)

	stock, err := pgtest.Stock(ctx, s.pool, variant)
	require.NoError(t, err)
	assert.Equal(t, 1, stock)
}

// The lower variant id is decremented first; the second line then runs short
// and the first decrement must roll back with it.
func (s *checkoutSuite) TestCheckout_LaterLineShortRollsBackEarlierLines() {
	t := s.T()
	ctx := t.Context()

	b, err := pgtest.SeedBasket(ctx, s.pool,
		pgtest.Line{Stock: 5, Qty: 2},
		pgtest.Line{Stock: 1, Qty: 3},
	)
	require.NoError(t, err)
	first, second := b.VariantIDs[0], b.VariantIDs[1]
	require.Less(t, first, second)

	_, err = s.co.Checkout(ctx, orders.Caller{UserID: b.UserID}, checkout.Request{ShippingAddressID: b.AddressID, PaymentMethod: "COD"})
	var stockErr *orders.InsufficientStockError
	require.True(t, errors.As(err, &stockErr), "got %v", err)
	var secondSKU string
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT sku FROM product_variants WHERE id = $1`, second).Scan(&secondSKU))
	assert.Equal(t, secondSKU, stockErr.SKU)

	for id, want := range map[int64]int{first: 5, second: 1} {
		stock, err := pgtest.Stock(ctx, s.pool, id)
		require.NoError(t, err)
		assert.Equal(t, want, stock, "variant %d", id)
	}
	assert.Zero(t, s.count(`SELECT count(*) FROM orders WHERE user_id = $1`, b.UserID))
	assert.Zero(t, s.count(`SELECT count(*) FROM stock_reservations WHERE variant_id = ANY($1)`, b.VariantIDs))
}

// Carts holding the same two variants, added in opposite orders, check out
// concurrently. Lines are taken in ascending variant id so no attempt
// deadlocks; the store gets a single attempt so a deadlock would surface.
func (s *checkoutSuite) TestCheckout_OppositeCartOrdersDoNotDeadlock() {
	t := s.T()
	ctx := t.Context()

	const buyers = 8
	a, err := pgtest.SeedVariant(ctx, s.pool, buyers, decimal.NewFromInt(100))
	require.NoError(t, err)
	b, err := pgtest.SeedVariant(ctx, s.pool, buyers, decimal.NewFromInt(100))
	require.NoError(t, err)

	shoppers := make([]pgtest.Shopper, buyers)
	for i := range shoppers {
		shoppers[i], err = pgtest.SeedBuyer(ctx, s.pool)
		require.NoError(t, err)
		first, second := a, b
		if i%2 == 1 {
			first, second = b, a
		}
		require.NoError(t, pgtest.AddCartItem(ctx, s.pool, shoppers[i].UserID, first, 1))
		require.NoError(t, pgtest.AddCartItem(ctx, s.pool, shoppers[i].UserID, second, 1))
	}

	co := pgtest.Coordinator(orders.NewStore(s.pool, 5*time.Second, 1))

	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i, sh := range shoppers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = co.Checkout(ctx, orders.Caller{UserID: sh.UserID}, checkout.Request{ShippingAddressID: sh.AddressID, PaymentMethod: "COD"})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "buyer %d", i)
	}
	for _, id := range []int64{a, b} {
		stock, err := pgtest.Stock(ctx, s.pool, id)
		require.NoError(t, err)
		assert.Zero(t, stock)
		assert.Equal(t, buyers, s.count(`SELECT count(*) FROM stock_reservations WHERE variant_id = $1 AND status = 'PENDING'`, id))
	}
}

// A coupon with one use left, redeemed concurrently: exactly one order uses it.
func (s *checkoutSuite) TestCheckout_LastCouponUse() {
	t := s.T()
	ctx := t.Context()

	code := s.coupon(pgtest.Coupon{Type: "FIXED_AMOUNT", Amount: decimal.NewFromInt(10), UsesLeft: 1})

	const buyers = 4
	shoppers := make([]pgtest.Shopper, buyers)
	for i := range shoppers {
		shoppers[i] = s.shopper(5, "100", 1)
	}

	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i, sh := range shoppers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.co.Checkout(ctx, orders.Caller{UserID: sh.UserID}, checkout.Request{
				ShippingAddressID: sh.AddressID, PaymentMethod: "COD", CouponCode: code,
			})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, orders.ErrInvalidCoupon)
	}
	assert.Equal(t, 1, ok)

	left, err := pgtest.UsesLeft(ctx, s.pool, code)
	require.NoError(t, err)
	assert.Zero(t, left)
	assert.Equal(t, 1, s.count(`SELECT count(*) FROM orders o JOIN coupons c ON c.id = o.coupon_id WHERE c.code = $1`, code))
}

func (s *checkoutSuite) TestIdempotent_ReplaysFirstOrder() {
	t := s.T()
	ctx := t.Context()

	sh := s.shopper(5, "100", 1)
	caller := orders.Caller{UserID: sh.UserID}
	req := checkout.Request{ShippingAddressID: sh.AddressID, PaymentMethod: "COD"}

	first, replayed, err := s.co.Idempotent(ctx, caller, "key-1", req)
	require.NoError(t, err)
	assert.False(t, replayed)

	again, replayed, err := s.co.Idempotent(ctx, caller, "key-1", req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)

	stock, err := pgtest.Stock(ctx, s.pool, sh.VariantID)
	require.NoError(t, err)
	assert.Equal(t, 4, stock)
	assert.Equal(t, 1, s.count(`SELECT count(*) FROM orders WHERE user_id = $1`, sh.UserID))

	// a fresh key checks out again
	_, replayed, err = s.co.Idempotent(ctx, caller, "key-2", req)
	require.NoError(t, err)
	assert.False(t, replayed)
}

func (s *checkoutSuite) TestIdempotent_FailureFreesKey() {
	t := s.T()
	ctx := t.Context()

	sh := s.shopper(0, "100", 1)
	caller := orders.Caller{UserID: sh.UserID}
	req := checkout.Request{ShippingAddressID: sh.AddressID, PaymentMethod: "COD"}

	_, _, err := s.co.Idempotent(ctx, caller, "retry-me", req)
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	_, err = s.pool.Exec(ctx, `UPDATE product_variants SET stock = 5 WHERE id = $1`, sh.VariantID)
	require.NoError(t, err)

	_, replayed, err := s.co.Idempotent(ctx, caller, "retry-me", req)
	require.NoError(t, err)
	assert.False(t, replayed)
}
