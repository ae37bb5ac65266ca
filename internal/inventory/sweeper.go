package inventory

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/samber/lo"
)

// Locker grants a lease to a single worker at a time.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

const sweeperLock = "expiry-sweeper"

// Sweeper expires PENDING reservations whose payment window has passed,
// returns their stock and cancels orders left unpaid.
type Sweeper struct {
	Store    *orders.Store
	Lock     Locker // optional
	Interval time.Duration
	Batch    int
	Producer string
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Now      func() time.Time
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.tick(ctx); err != nil && ctx.Err() == nil {
				s.Log.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) (int, error) {
	if s.Lock == nil {
		return s.SweepOnce(ctx)
	}
	release, ok, err := s.Lock.TryLock(ctx, sweeperLock, s.Interval)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.Log.DebugContext(ctx, "sweep skipped, another worker holds the lock")
		return 0, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.Log.WarnContext(ctx, "release sweeper lock", "error", err)
		}
	}()
	return s.SweepOnce(ctx)
}

// SweepOnce handles one batch of due reservations, one transaction per
// order, and reports how many reservations it expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.now()

	due, err := s.Store.Queries().DueReservations(ctx, now, s.batch())
	if err != nil {
		return 0, err
	}
	byOrder := lo.GroupBy(due, func(r orders.Reservation) int64 { return r.OrderID })
	ids := lo.Keys(byOrder)
	slices.Sort(ids)

	expired := 0
	for _, id := range ids {
		n, err := s.expireOrder(ctx, id, byOrder[id])
		if err != nil {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			s.Log.ErrorContext(ctx, "expire reservations", "order_id", id, "error", err)
			continue
		}
		expired += n
	}

	s.Metrics.SweepRuns.Inc()
	s.Metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if expired > 0 {
		s.Log.InfoContext(ctx, "reservations expired",
			"count", expired, "orders", len(ids), "duration_ms", time.Since(start).Milliseconds())
	}
	return expired, nil
}

func (s *Sweeper) expireOrder(ctx context.Context, orderID int64, due []orders.Reservation) (int, error) {
	type result struct {
		expired   int
		cancelled bool
		released  int
	}
	res, err := orders.InTx(ctx, s.Store, func(q *orders.Queries) (result, error) {
		var res result

		o, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return res, err
		}

		var returned []orders.ItemQty
		for _, r := range due {
			ok, err := q.TransitionReservation(ctx, r.ID, orders.ReservationExpired, orders.ReservationPending)
			if err != nil {
				return res, err
			}
			if !ok {
				continue
			}
			if err := q.Increase(ctx, r.VariantID, r.Quantity); err != nil {
				return res, err
			}
			if err := q.EnqueueEvent(ctx, orders.EventReservationExpired, s.Producer, orderID, orders.ReservationExpiredPayload{
				OrderID: orderID, ReservationID: r.ID, VariantID: r.VariantID, Qty: r.Quantity,
			}); err != nil {
				return res, err
			}
			returned = append(returned, orders.ItemQty{VariantID: r.VariantID, Qty: r.Quantity})
			res.expired++
		}

		// Only an unpaid order is cancelled; paid orders hold CONFIRMED
		// reservations the sweeper never touches.
		if res.expired == 0 || o.Status != orders.StatusCreated {
			return res, nil
		}
		rest, err := releaseHeld(ctx, q, orderID, orders.ReservationReleased)
		if err != nil {
			return res, err
		}
		res.released = len(rest)
		if _, err := q.UpdateOrderStatus(ctx, orderID, o.Status, orders.StatusCancelled); err != nil {
			return res, err
		}
		res.cancelled = true
		return res, q.EnqueueEvent(ctx, orders.EventOrderCancelled, s.Producer, orderID, orders.OrderCancelledPayload{
			OrderID:     orderID,
			OrderNumber: o.OrderNumber,
			Status:      orders.StatusCancelled,
			Reason:      ReasonExpired,
			Released:    append(returned, rest...),
		})
	})
	if err != nil {
		return 0, err
	}

	s.Metrics.ReservationChanges.WithLabelValues(string(orders.ReservationExpired)).Add(float64(res.expired))
	if res.released > 0 {
		s.Metrics.ReservationChanges.WithLabelValues(string(orders.ReservationReleased)).Add(float64(res.released))
	}
	if res.cancelled {
		s.Metrics.Cancellations.WithLabelValues(ReasonExpired).Inc()
	}
	return res.expired, nil
}

func (s *Sweeper) batch() int {
	if s.Batch <= 0 {
		return 100
	}
	return s.Batch
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
