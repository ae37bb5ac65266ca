package redisx

import "time"

const (
	// Checkout idempotency: idem:checkout:{user_id}:{key} -> "pending" | order_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "user_id": ..., "updated_at": "..."}
	KeyOrderStatus = "order_status:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Worker leases: lock:{name} -> owner token
	KeyLock = "lock:%s"
)

var (
	TTLIdempotency        = 24 * time.Hour
	TTLIdempotencyPending = 2 * time.Minute
	TTLStatusCache        = 5 * time.Minute
	TTLDedup              = 48 * time.Hour
)
