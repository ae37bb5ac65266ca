package kafka

import (
	"encoding/json"
	"testing"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := orders.NewEnvelope(orders.EventOrderCreated, "checkout-api", 9, orders.OrderCreatedPayload{
		OrderID:     9,
		OrderNumber: "ORD9",
		UserID:      3,
		Status:      orders.StatusCreated,
		Items:       []orders.ItemQty{{VariantID: 1, Qty: 2}},
		TotalAmount: decimal.RequireFromString("120.50"),
		Currency:    "USD",
	})
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := DecodeEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, orders.TopicOrderCreated, got.Topic())

	p, err := UnwrapPayload[orders.OrderCreatedPayload](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.UserID)
	assert.True(t, p.TotalAmount.Equal(decimal.RequireFromString("120.5")))
	assert.Equal(t, []orders.ItemQty{{VariantID: 1, Qty: 2}}, p.Items)

	_, err = DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestHeader(t *testing.T) {
	m := kafka.Message{Headers: []kafka.Header{
		{Key: HeaderEventType, Value: []byte("OrderPaid")},
		{Key: HeaderEventVersion, Value: []byte("1")},
	}}
	assert.Equal(t, "OrderPaid", Header(m, HeaderEventType))
	assert.Equal(t, "1", Header(m, HeaderEventVersion))
	assert.Empty(t, Header(m, "x-missing"))
}
