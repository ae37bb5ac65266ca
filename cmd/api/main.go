package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/cart"
	"github.com/ariefcatur/go-checkout-orders/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders/internal/config"
	"github.com/ariefcatur/go-checkout-orders/internal/httpx"
	"github.com/ariefcatur/go-checkout-orders/internal/inventory"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/payment"
	"github.com/ariefcatur/go-checkout-orders/internal/postgres"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
	"github.com/ariefcatur/go-checkout-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := cfg.Logger()
	slog.SetDefault(log)

	// money goes over the wire as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Error("db connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		log.Error("db migrate", "error", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	store := orders.NewStore(db, cfg.LockTimeout, cfg.CheckoutAttempts)

	// Services
	coordinator := &checkout.Coordinator{
		Store:          store,
		Shipping:       pricing.FlatRate{Fee: cfg.ShippingFee},
		Currency:       cfg.Currency.String(),
		ReservationTTL: cfg.ReservationTTL,
		Producer:       cfg.ServiceName,
		Claims:         redisx.NewIdempotency(rdb),
		Metrics:        m,
		Log:            log,
	}
	confirmer := &payment.Confirmer{Store: store, Producer: cfg.ServiceName, Metrics: m, Log: log}
	canceller := &inventory.Canceller{Store: store, Producer: cfg.ServiceName, Metrics: m, Log: log}
	queries := &orders.Service{Store: store, Producer: cfg.ServiceName, Log: log}
	carts := &cart.Service{Store: store}

	// Handlers
	router := httpx.NewRouter(m, metrics.Handler(prometheus.DefaultGatherer), cfg.RequestTimeout)
	(&httpx.OrdersHandler{
		Checkouts: coordinator,
		Payments:  confirmer,
		Cancels:   canceller,
		Orders:    queries,
		Cache:     redisx.NewStatusCache(rdb),
		Timeout:   cfg.RequestTimeout,
		Log:       log,
	}).Register(router)
	(&httpx.CartHandler{Carts: carts, Timeout: cfg.RequestTimeout, Log: log}).Register(router)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			cancel()
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
}
