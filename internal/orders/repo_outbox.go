package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type OutboxRecord struct {
	ID        int64
	EventID   string
	Topic     string
	Key       string
	Payload   json.RawMessage
	CreatedAt time.Time
	SentAt    *time.Time
}

// Enqueue stores env in the outbox. Called inside the transaction that made
// the change the event describes.
func (q *Queries) Enqueue(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("q.Enqueue: %w", err)
	}
	orderID, _ := strconv.ParseInt(env.CorrelationID, 10, 64)
	_, err = q.db.Exec(ctx, `
		INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`,
		env.EventID, env.Topic(), PartitionKey(orderID), data)
	if err != nil {
		return fmt.Errorf("q.Enqueue: %w", err)
	}
	return nil
}

// EnqueueEvent builds an envelope for payload and stores it.
func (q *Queries) EnqueueEvent(ctx context.Context, eventType, producer string, orderID int64, payload any) error {
	env, err := NewEnvelope(eventType, producer, orderID, payload)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, env)
}

// FetchPending locks up to limit unsent records; concurrent relays skip them.
func (q *Queries) FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, event_id, topic, key, payload, created_at, sent_at
		FROM outbox WHERE sent_at IS NULL
		ORDER BY id LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("q.FetchPending: %w", err)
	}
	defer rows.Close()

	var out []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("q.FetchPending: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("q.FetchPending: %w", err)
	}
	return out, nil
}

func (q *Queries) MarkSent(ctx context.Context, ids []int64) error {
	if _, err := q.db.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("q.MarkSent: %w", err)
	}
	return nil
}
