package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/cart"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

type Carts interface {
	Get(ctx context.Context, caller orders.Caller) (cart.Summary, error)
	AddItem(ctx context.Context, caller orders.Caller, variantID int64, qty int) (cart.Summary, error)
	UpdateItem(ctx context.Context, caller orders.Caller, itemID int64, qty int) (cart.Summary, error)
	RemoveItem(ctx context.Context, caller orders.Caller, itemID int64) (cart.Summary, error)
	Clear(ctx context.Context, caller orders.Caller) (cart.Summary, error)
	Preview(ctx context.Context, caller orders.Caller, code string) (cart.Summary, error)
}

type CartHandler struct {
	Carts   Carts
	Timeout time.Duration
	Log     *slog.Logger
}

func (h *CartHandler) Register(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Use(Authenticate)
		r.Get("/", h.get)
		r.Delete("/", h.clear)
		r.Post("/items", h.addItem)
		r.Put("/items/{id}", h.updateItem)
		r.Delete("/items/{id}", h.removeItem)
		r.Post("/apply-coupon", h.applyCoupon)
	})
}

func (h *CartHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithTimeout(r.Context(), 5*time.Second)
	}
	return context.WithTimeout(r.Context(), h.Timeout)
}

func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request, s cart.Summary, err error) {
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResp(s))
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	s, err := h.Carts.Get(ctx, caller)
	h.respond(w, r, s, err)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	s, err := h.Carts.Clear(ctx, caller)
	h.respond(w, r, s, err)
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	var req AddCartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VariantID <= 0 || req.Quantity <= 0 {
		writeMsg(w, http.StatusBadRequest, "variantId and a positive quantity are required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	s, err := h.Carts.AddItem(ctx, caller, req.VariantID, req.Quantity)
	h.respond(w, r, s, err)
}

func (h *CartHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateCartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		writeMsg(w, http.StatusBadRequest, "a positive quantity is required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	s, err := h.Carts.UpdateItem(ctx, caller, id, req.Quantity)
	h.respond(w, r, s, err)
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	s, err := h.Carts.RemoveItem(ctx, caller, id)
	h.respond(w, r, s, err)
}

func (h *CartHandler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	var req ApplyCouponReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CouponCode == "" {
		writeMsg(w, http.StatusBadRequest, "couponCode is required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	s, err := h.Carts.Preview(ctx, caller, req.CouponCode)
	h.respond(w, r, s, err)
}
