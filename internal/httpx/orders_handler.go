package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
)

type Checkouts interface {
	Idempotent(ctx context.Context, caller orders.Caller, key string, req checkout.Request) (orders.Order, bool, error)
}

type Payments interface {
	Confirm(ctx context.Context, orderNumber, reference string) (orders.Order, error)
}

type Cancellations interface {
	Cancel(ctx context.Context, caller orders.Caller, orderID int64) (orders.Order, error)
}

type OrderQueries interface {
	Get(ctx context.Context, caller orders.Caller, id int64) (orders.Order, error)
	Status(ctx context.Context, caller orders.Caller, id int64) (orders.StatusView, error)
	ListMine(ctx context.Context, caller orders.Caller, page, size int) (orders.Page[orders.Order], error)
	ListAll(ctx context.Context, caller orders.Caller, page, size int) (orders.Page[orders.Order], error)
	Advance(ctx context.Context, caller orders.Caller, id int64, to orders.Status) (orders.Order, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID int64) (redisx.StatusEntry, bool, error)
	Set(ctx context.Context, orderID int64, e redisx.StatusEntry) error
}

const HeaderIdempotencyKey = "Idempotency-Key"

type OrdersHandler struct {
	Checkouts Checkouts
	Payments  Payments
	Cancels   Cancellations
	Orders    OrderQueries
	Cache     StatusCache
	Timeout   time.Duration
	Log       *slog.Logger
}

// Register mounts the order routes. The payment webhook sits outside
// Authenticate; every other route needs a caller.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders/{id}/confirm-payment", h.confirmPayment)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate)
		r.Post("/checkout", h.checkout)
		r.Get("/orders", h.listAll)
		r.Get("/orders/my-orders", h.listMine)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)
		r.Post("/orders/{id}/cancel", h.cancel)
		r.Post("/orders/{id}/status", h.advance)
	})
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithTimeout(r.Context(), 5*time.Second)
	}
	return context.WithTimeout(r.Context(), h.Timeout)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ShippingAddressID <= 0 || req.PaymentMethod == "" {
		writeMsg(w, http.StatusBadRequest, "shippingAddressId and paymentMethod are required")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, replayed, err := h.Checkouts.Idempotent(ctx, caller, r.Header.Get(HeaderIdempotencyKey), checkout.Request{
		ShippingAddressID: req.ShippingAddressID,
		PaymentMethod:     req.PaymentMethod,
		CouponCode:        req.CouponCode,
		Note:              req.Note,
	})
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}

	h.cacheStatus(ctx, o)
	code := http.StatusCreated
	if replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, toOrderResp(o))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.Get(ctx, caller, id)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

// getStatus serves from the Redis projection and falls back to PostgreSQL.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	// 1) cache
	if e, found, err := h.Cache.Get(ctx, id); err == nil && found && e.UserID != 0 {
		if !caller.CanAccess(e.UserID) {
			writeErr(w, r, h.Log, orders.ErrForbidden)
			return
		}
		at := e.UpdatedAt
		writeJSON(w, http.StatusOK, OrderStatusResp{OrderID: id, Status: e.Status, UpdatedAt: &at, Cached: true})
		return
	} else if err != nil {
		h.Log.WarnContext(ctx, "status cache read", "order_id", id, "error", err)
	}

	// 2) fallback DB
	v, err := h.Orders.Status(ctx, caller, id)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	// stamped with the row's updated_at so a concurrent newer write wins
	if err := h.Cache.Set(ctx, id, redisx.StatusEntry{Status: v.Status, UserID: v.UserID, UpdatedAt: v.UpdatedAt}); err != nil {
		h.Log.WarnContext(ctx, "status cache write", "order_id", id, "error", err)
	}
	at := v.UpdatedAt
	writeJSON(w, http.StatusOK, OrderStatusResp{OrderID: id, Status: v.Status, UpdatedAt: &at})
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	page, size := pageParams(r)

	ctx, cancel := h.ctx(r)
	defer cancel()

	p, err := h.Orders.ListMine(ctx, caller, page, size)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResp(p))
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	page, size := pageParams(r)

	ctx, cancel := h.ctx(r)
	defer cancel()

	p, err := h.Orders.ListAll(ctx, caller, page, size)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResp(p))
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Cancels.Cancel(ctx, caller, id)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) advance(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AdvanceStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeMsg(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.Advance(ctx, caller, id, req.Status)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

// confirmPayment is the payment gateway callback; {id} carries the order number.
func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "id")
	ref := r.URL.Query().Get("paymentReference")
	if orderNumber == "" || ref == "" {
		writeMsg(w, http.StatusBadRequest, "order number and paymentReference are required")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Payments.Confirm(ctx, orderNumber, ref)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

// cacheStatus writes through so reads right after a change see it before
// the projection catches up.
func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	err := h.Cache.Set(ctx, o.ID, redisx.StatusEntry{Status: o.Status, UserID: o.UserID, UpdatedAt: o.UpdatedAt})
	if err != nil {
		h.Log.WarnContext(ctx, "status cache write", "order_id", o.ID, "error", err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeMsg(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	return orders.NormalizePage(page, size)
}
