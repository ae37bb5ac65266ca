package orders

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const selectCoupon = `
	SELECT id, code, type, amount, min_order_amount, max_uses, uses_left, valid_from, valid_to, is_active
	FROM coupons WHERE code = $1`

func scanCoupon(row interface{ Scan(...any) error }) (Coupon, error) {
	var c Coupon
	err := row.Scan(&c.ID, &c.Code, &c.Type, &c.Amount, &c.MinOrderAmount,
		&c.MaxUses, &c.UsesLeft, &c.ValidFrom, &c.ValidTo, &c.Active)
	return c, err
}

// FindCoupon reads a coupon without locking it. Used for cart previews.
func (q *Queries) FindCoupon(ctx context.Context, code string) (Coupon, error) {
	c, err := scanCoupon(q.db.QueryRow(ctx, selectCoupon, code))
	if err != nil {
		if errors.Is(notFound(err, "coupon"), ErrNotFound) {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, fmt.Errorf("q.FindCoupon: %w", err)
	}
	return c, nil
}

func (q *Queries) LockAndValidate(ctx context.Context, code string, now time.Time) (Coupon, error) {
	c, err := scanCoupon(q.db.QueryRow(ctx, selectCoupon+` FOR UPDATE`, code))
	if err != nil {
		if errors.Is(notFound(err, "coupon"), ErrNotFound) {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, fmt.Errorf("q.LockAndValidate: %w", err)
	}
	if err := c.Validate(now); err != nil {
		return Coupon{}, err
	}
	return c, nil
}

func (q *Queries) DecrementUse(ctx context.Context, couponID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE coupons SET uses_left = uses_left - 1
		WHERE id = $1 AND uses_left > 0`, couponID)
	if err != nil {
		return false, fmt.Errorf("q.DecrementUse: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
