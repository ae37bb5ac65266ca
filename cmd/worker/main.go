package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/config"
	"github.com/ariefcatur/go-checkout-orders/internal/httpx"
	"github.com/ariefcatur/go-checkout-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-checkout-orders/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/outbox"
	"github.com/ariefcatur/go-checkout-orders/internal/postgres"
	"github.com/ariefcatur/go-checkout-orders/internal/projection"
	"github.com/ariefcatur/go-checkout-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// The worker runs the background side of checkout: the reservation expiry
// sweeper, the outbox relay and the order status projection.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	cfg.ServiceName += "-worker"
	log := cfg.Logger()
	slog.SetDefault(log)

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

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	store := orders.NewStore(db, cfg.LockTimeout, cfg.CheckoutAttempts)

	prod := kafkax.NewProducer(cfg.KafkaBrokers)
	defer prod.Close()

	sweeper := &inventory.Sweeper{
		Store:    store,
		Lock:     redisx.NewLocker(rdb),
		Interval: cfg.SweepInterval,
		Batch:    cfg.SweepBatch,
		Producer: cfg.ServiceName,
		Metrics:  m,
		Log:      log.With("component", "sweeper"),
	}
	relay := &outbox.Relay{
		Store:     store,
		Publisher: prod,
		Interval:  cfg.OutboxInterval,
		Batch:     cfg.OutboxBatch,
		Metrics:   m,
		Log:       log.With("component", "outbox"),
	}
	projector := &projection.Projector{
		Cache:   redisx.NewStatusCache(rdb),
		Dedup:   redisx.NewDedup(rdb, cfg.KafkaGroup),
		Metrics: m,
		Log:     log.With("component", "projection"),
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, orders.AllTopics, cfg.ConsumerWorkers, log)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("started", "component", name)
			if err := fn(ctx); err != nil {
				log.Error("stopped", "component", name, "error", err)
				cancel()
			}
		}()
	}
	run("sweeper", sweeper.Run)
	run("outbox", relay.Run)
	run("projection", func(ctx context.Context) error { return cons.Start(ctx, projector.Handle) })

	// metrics + health
	router := httpx.NewRouter(nil, metrics.Handler(prometheus.DefaultGatherer), cfg.RequestTimeout)
	srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listen", "error", err)
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
	cancel()
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
}
