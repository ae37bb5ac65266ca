// Package outbox publishes events recorded in the outbox table to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/samber/lo"
	kafkago "github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(ctx context.Context, msgs ...kafkago.Message) error
}

// Relay moves pending outbox records to Kafka. Delivery is at least once:
// a crash between publish and commit re-sends the batch, and consumers
// dedup by event id.
type Relay struct {
	Store     *orders.Store
	Publisher Publisher
	Interval  time.Duration
	Batch     int
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := r.Flush(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.Metrics.OutboxFailures.Inc()
						r.Log.ErrorContext(ctx, "outbox flush failed", "error", err)
					}
					break
				}
				if n < r.batch() {
					break
				}
			}
		}
	}
}

// Flush publishes one batch and marks it sent, returning its size.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	return orders.InTx(ctx, r.Store, func(q *orders.Queries) (int, error) {
		recs, err := q.FetchPending(ctx, r.batch())
		if err != nil || len(recs) == 0 {
			return 0, err
		}

		msgs := lo.Map(recs, func(rec orders.OutboxRecord, _ int) kafkago.Message {
			return toMessage(rec)
		})
		if err := r.Publisher.Publish(ctx, msgs...); err != nil {
			return 0, err
		}
		if err := q.MarkSent(ctx, lo.Map(recs, func(rec orders.OutboxRecord, _ int) int64 { return rec.ID })); err != nil {
			return 0, err
		}

		r.Metrics.OutboxPublished.Add(float64(len(recs)))
		r.Log.DebugContext(ctx, "outbox published", "count", len(recs))
		return len(recs), nil
	})
}

func toMessage(rec orders.OutboxRecord) kafkago.Message {
	var head struct {
		EventType    string `json:"event_type"`
		EventVersion int    `json:"event_version"`
	}
	_ = json.Unmarshal(rec.Payload, &head)

	return kafkago.Message{
		Topic: rec.Topic,
		Key:   []byte(rec.Key),
		Value: rec.Payload,
		Time:  rec.CreatedAt,
		Headers: []kafkago.Header{
			{Key: kafka.HeaderEventType, Value: []byte(head.EventType)},
			{Key: kafka.HeaderEventVersion, Value: []byte(fmtVersion(head.EventVersion))},
			{Key: "x-event-id", Value: []byte(rec.EventID)},
		},
	}
}

func fmtVersion(v int) string {
	if v <= 0 {
		v = 1
	}
	return strconv.Itoa(v)
}

func (r *Relay) batch() int {
	if r.Batch <= 0 {
		return 100
	}
	return r.Batch
}
