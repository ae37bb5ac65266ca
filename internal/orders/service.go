package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Service answers order queries and applies admin status changes.
type Service struct {
	Store    *Store
	Producer string
	Log      *slog.Logger

	statusReads singleflight.Group // collapses concurrent cache-miss reads per order
}

func (s *Service) Get(ctx context.Context, caller Caller, id int64) (Order, error) {
	o, err := s.Store.Queries().GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !caller.CanAccess(o.UserID) {
		return Order{}, ErrForbidden
	}
	return o, nil
}

// Status reads only the status columns. Used as the cache fallback.
// Concurrent reads of one order share a query that outlives any single caller.
func (s *Service) Status(ctx context.Context, caller Caller, id int64) (StatusView, error) {
	v, err, _ := s.statusReads.Do(strconv.FormatInt(id, 10), func() (any, error) {
		return s.Store.Queries().GetOrderStatus(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return StatusView{}, err
	}
	view := v.(StatusView)
	if !caller.CanAccess(view.UserID) {
		return StatusView{}, ErrForbidden
	}
	return view, nil
}

func (s *Service) ListMine(ctx context.Context, caller Caller, page, size int) (Page[Order], error) {
	page, size = NormalizePage(page, size)
	return s.Store.Queries().ListOrders(ctx, caller.UserID, page, size)
}

func (s *Service) ListAll(ctx context.Context, caller Caller, page, size int) (Page[Order], error) {
	if !caller.Admin {
		return Page[Order]{}, ErrForbidden
	}
	page, size = NormalizePage(page, size)
	return s.Store.Queries().ListOrders(ctx, 0, page, size)
}

// Advance moves an order forward along the fulfilment path. Payment and
// cancellation have their own operations and are refused here.
func (s *Service) Advance(ctx context.Context, caller Caller, id int64, to Status) (Order, error) {
	if !caller.Admin {
		return Order{}, ErrForbidden
	}
	if !to.Valid() {
		return Order{}, fmt.Errorf("unknown status %q: %w", to, ErrInvalidInput)
	}
	if to == StatusCancelled || to == StatusPaid {
		return Order{}, fmt.Errorf("status %s has its own operation: %w", to, ErrInvalidState)
	}

	_, err := InTx(ctx, s.Store, func(q *Queries) (struct{}, error) {
		o, err := q.LockOrder(ctx, id)
		if err != nil {
			return struct{}{}, err
		}
		if !CanTransition(o.Status, to) {
			return struct{}{}, fmt.Errorf("%s -> %s: %w", o.Status, to, ErrInvalidState)
		}
		if _, err := q.UpdateOrderStatus(ctx, id, o.Status, to); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, q.EnqueueEvent(ctx, EventOrderStatusChanged, s.Producer, id, OrderStatusChangedPayload{
			OrderID: id, OrderNumber: o.OrderNumber, From: o.Status, Status: to,
		})
	})
	if err != nil {
		return Order{}, err
	}
	s.Log.InfoContext(ctx, "order status advanced", "order_id", id, "status", to)
	return s.Store.Queries().GetOrder(ctx, id)
}

func NormalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
