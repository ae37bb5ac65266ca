package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
)

const selectReservation = `
	SELECT id, variant_id, order_id, quantity, status, expires_at, created_at, updated_at
	FROM stock_reservations`

func scanReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.VariantID, &r.OrderID, &r.Quantity, &r.Status,
			&r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) InsertReservation(ctx context.Context, r Reservation) (Reservation, error) {
	err := q.db.QueryRow(ctx, `
		INSERT INTO stock_reservations(variant_id, order_id, quantity, status, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		r.VariantID, r.OrderID, r.Quantity, r.Status, r.ExpiresAt).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Reservation{}, fmt.Errorf("q.InsertReservation: %w", err)
	}
	return r, nil
}

func (q *Queries) ReservationsByOrder(ctx context.Context, orderID int64) ([]Reservation, error) {
	rows, err := q.db.Query(ctx, selectReservation+` WHERE order_id = $1 ORDER BY variant_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("q.ReservationsByOrder: %w", err)
	}
	out, err := scanReservations(rows)
	if err != nil {
		return nil, fmt.Errorf("q.ReservationsByOrder: %w", err)
	}
	return out, nil
}

func (q *Queries) TransitionReservation(ctx context.Context, id int64, to ReservationStatus, from ...ReservationStatus) (bool, error) {
	allowed := lo.Filter(from, func(s ReservationStatus, _ int) bool {
		return CanTransitionReservation(s, to)
	})
	if len(allowed) == 0 {
		return false, fmt.Errorf("q.TransitionReservation: no valid transition to %s: %w", to, ErrInvalidState)
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE stock_reservations SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)`,
		id, to, lo.Map(allowed, func(s ReservationStatus, _ int) string { return string(s) }))
	if err != nil {
		return false, fmt.Errorf("q.TransitionReservation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConfirmPending moves every PENDING reservation of the order to CONFIRMED.
func (q *Queries) ConfirmPending(ctx context.Context, orderID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE stock_reservations SET status = 'CONFIRMED', updated_at = now()
		WHERE order_id = $1 AND status = 'PENDING'`, orderID)
	if err != nil {
		return 0, fmt.Errorf("q.ConfirmPending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DueReservations lists PENDING reservations whose hold ran out before now,
// oldest first.
func (q *Queries) DueReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	rows, err := q.db.Query(ctx, selectReservation+`
		WHERE status = 'PENDING' AND expires_at < $1
		ORDER BY expires_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("q.DueReservations: %w", err)
	}
	out, err := scanReservations(rows)
	if err != nil {
		return nil, fmt.Errorf("q.DueReservations: %w", err)
	}
	return out, nil
}
