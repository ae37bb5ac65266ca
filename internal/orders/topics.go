package orders

import "strconv"

const (
	TopicOrderCreated       = "order.created"
	TopicOrderPaid          = "order.paid"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderStatusChanged = "order.status.changed"
	TopicReservationExpired = "order.reservation.expired"
)

// AllTopics is what the status projection subscribes to.
var AllTopics = []string{
	TopicOrderCreated,
	TopicOrderPaid,
	TopicOrderCancelled,
	TopicOrderStatusChanged,
	TopicReservationExpired,
}

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID int64) string { return strconv.FormatInt(orderID, 10) }
