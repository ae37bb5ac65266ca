package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-checkout-orders/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidInput),
		errors.Is(err, orders.ErrInvalidCoupon),
		errors.Is(err, orders.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInvalidState),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, checkout.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, orders.ErrRetryable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	code := statusFor(err)
	switch {
	case code == http.StatusInternalServerError:
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeMsg(w, code, "internal error")
		return
	case code == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		writeMsg(w, code, orders.ErrRetryable.Error())
		return
	}
	writeMsg(w, code, err.Error())
}
