// Package projection keeps the Redis order status cache in step with order events.
package projection

import (
	"context"
	"log/slog"

	"github.com/ariefcatur/go-checkout-orders/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
)

type Projector struct {
	Cache   *redisx.StatusCache
	Dedup   *redisx.Dedup
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// Handle applies one event. Redelivered events are skipped by event id and
// events older than the cached entry are ignored.
func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafka.DecodeEnvelope(m.Value)
	if err != nil {
		p.Log.WarnContext(ctx, "dropping undecodable event", "topic", m.Topic, "offset", m.Offset, "error", err)
		return nil
	}

	seen, err := p.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	orderID, status, ok, err := orders.StatusOf(env)
	if err != nil {
		p.Log.WarnContext(ctx, "dropping event with bad payload", "event_id", env.EventID, "error", err)
		return nil
	}
	if ok {
		if err := p.apply(ctx, env, orderID, status); err != nil {
			return err
		}
		p.Metrics.ProjectionApplied.WithLabelValues(env.EventType).Inc()
	}
	return p.Dedup.Mark(ctx, env.EventID)
}

func (p *Projector) apply(ctx context.Context, env orders.Envelope, orderID int64, status orders.Status) error {
	cur, found, err := p.Cache.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if found && cur.UpdatedAt.After(env.OccurredAt) {
		return nil
	}

	userID := cur.UserID
	if env.EventType == orders.EventOrderCreated {
		created, err := kafka.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		userID = created.UserID
	}
	if userID == 0 {
		// owner unknown: drop the entry so readers go to PostgreSQL
		return p.Cache.Invalidate(ctx, orderID)
	}

	p.Log.DebugContext(ctx, "order status projected", "order_id", orderID, "status", status, "event_type", env.EventType)
	return p.Cache.Set(ctx, orderID, redisx.StatusEntry{Status: status, UserID: userID, UpdatedAt: env.OccurredAt})
}
