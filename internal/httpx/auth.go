package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

// Identity is established upstream by the gateway, which forwards it in
// these headers.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
	RoleAdmin       = "ADMIN"
)

type callerKey struct{}

// Authenticate rejects requests without a valid caller and stores the caller
// in the request context.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err != nil || id <= 0 {
			writeMsg(w, http.StatusUnauthorized, "missing or invalid "+HeaderUserID)
			return
		}
		caller := orders.Caller{UserID: id, Admin: hasRole(r.Header.Get(HeaderUserRoles), RoleAdmin)}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func WithCaller(ctx context.Context, c orders.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func callerFrom(ctx context.Context) (orders.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(orders.Caller)
	return c, ok
}

func hasRole(header, role string) bool {
	for _, r := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(r), "ROLE_"), role) {
			return true
		}
	}
	return false
}
