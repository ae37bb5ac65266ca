package orders

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaid          = "OrderPaid"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventReservationExpired = "ReservationExpired"
)

// topicFor maps an event type to the topic it is published on.
var topicFor = map[string]string{
	EventOrderCreated:       TopicOrderCreated,
	EventOrderPaid:          TopicOrderPaid,
	EventOrderCancelled:     TopicOrderCancelled,
	EventOrderStatusChanged: TopicOrderStatusChanged,
	EventReservationExpired: TopicReservationExpired,
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Topic returns the topic this envelope belongs on.
func (e Envelope) Topic() string { return topicFor[e.EventType] }

func NewEnvelope(eventType, producer string, orderID int64, payload any) (Envelope, error) {
	if _, ok := topicFor[eventType]; !ok {
		return Envelope{}, fmt.Errorf("unknown event type %q", eventType)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: strconv.FormatInt(orderID, 10),
		Payload:       b,
	}, nil
}

// ---- payloads ----

type ItemQty struct {
	VariantID int64 `json:"variant_id"`
	Qty       int   `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	Status      Status          `json:"status"`
	Items       []ItemQty       `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

type OrderPaidPayload struct {
	OrderID          int64  `json:"order_id"`
	OrderNumber      string `json:"order_number"`
	Status           Status `json:"status"`
	PaymentReference string `json:"payment_reference"`
}

type OrderCancelledPayload struct {
	OrderID     int64     `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason"` // CANCELLED_BY_USER | CANCELLED_BY_ADMIN | RESERVATION_EXPIRED
	Released    []ItemQty `json:"released,omitempty"`
}

type OrderStatusChangedPayload struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	From        Status `json:"from"`
	Status      Status `json:"status"`
}

type ReservationExpiredPayload struct {
	OrderID       int64 `json:"order_id"`
	ReservationID int64 `json:"reservation_id"`
	VariantID     int64 `json:"variant_id"`
	Qty           int   `json:"qty"`
}

// StatusOf extracts the order id and resulting status carried by an event.
// Events that do not move the order status report ok=false.
func StatusOf(env Envelope) (orderID int64, status Status, ok bool, err error) {
	var p struct {
		OrderID int64  `json:"order_id"`
		Status  Status `json:"status"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return 0, "", false, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	if p.Status == "" {
		return p.OrderID, "", false, nil
	}
	return p.OrderID, p.Status, true, nil
}
