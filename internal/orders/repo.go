package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries holds every SQL statement of the service. Bound to a pool it runs
// each statement on its own, bound to a pgx.Tx it joins the transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries { return &Queries{db: db} }

var (
	_ VariantStock     = (*Queries)(nil)
	_ CouponLedger     = (*Queries)(nil)
	_ ReservationStore = (*Queries)(nil)
)

type Store struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration // SET LOCAL lock_timeout for every unit of work
	Attempts    int           // total tries for transient failures
}

func NewStore(db *pgxpool.Pool, lockTimeout time.Duration, attempts int) *Store {
	if attempts < 1 {
		attempts = 1
	}
	return &Store{DB: db, LockTimeout: lockTimeout, Attempts: attempts}
}

// Queries returns statements bound to the pool, for reads outside a unit of work.
func (s *Store) Queries() *Queries { return New(s.DB) }

// InTx runs fn as one unit of work. Transient failures (serialization,
// deadlock, lock timeout, lost connection) roll back and re-run fn up to
// s.Attempts times; running out of tries yields ErrRetryable.
func InTx[T any](ctx context.Context, s *Store, fn func(q *Queries) (T, error)) (T, error) {
	var out T

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.Attempts-1)), ctx)

	err := backoff.Retry(func() error {
		v, err := withTx(ctx, s.DB, s.LockTimeout, fn)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}, policy)
	if err != nil {
		var zero T
		if IsTransient(err) {
			return zero, fmt.Errorf("%w: %w", ErrRetryable, err)
		}
		return zero, err
	}
	return out, nil
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func withTx[T any](ctx context.Context, db beginner, lockTimeout time.Duration, fn func(q *Queries) (T, error)) (_ T, txErr error) {
	var zero T

	tx, err := db.Begin(ctx)
	if err != nil {
		return zero, err
	}

	defer func() {
		if txErr != nil {
			rollbackErr := tx.Rollback(ctx)
			if rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
				txErr = errors.Join(txErr, fmt.Errorf("tx.Rollback: %w", rollbackErr))
			}
		}
	}()

	if lockTimeout > 0 {
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", lockTimeout.Milliseconds())); err != nil {
			return zero, fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	result, err := fn(New(tx))
	if err != nil {
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, err
	}
	return result, nil
}

// IsTransient reports whether err is worth retrying in a fresh transaction.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
