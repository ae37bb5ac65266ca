package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
)

const selectOrder = `
	SELECT o.id, o.order_number, o.user_id, u.full_name, o.status, o.subtotal, o.shipping_fee,
	       o.discount_amount, o.total_amount, o.currency, o.coupon_id, o.shipping_address,
	       o.payment_info, o.note, o.created_at, o.updated_at
	FROM orders o
	JOIN users u ON u.id = o.user_id`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.UserName, &o.Status, &o.Subtotal, &o.ShippingFee,
		&o.DiscountAmount, &o.TotalAmount, &o.Currency, &o.CouponID, &o.ShippingAddress,
		&o.PaymentInfo, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// InsertOrder writes the order header and its items. ID and timestamps are
// filled in on the returned copy.
func (q *Queries) InsertOrder(ctx context.Context, o Order) (Order, error) {
	if len(o.Items) == 0 {
		return Order{}, fmt.Errorf("q.InsertOrder: no items in order: %w", ErrInvalidInput)
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO orders(order_number, user_id, status, subtotal, shipping_fee, discount_amount,
		                   total_amount, currency, coupon_id, shipping_address, payment_info, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		o.OrderNumber, o.UserID, o.Status, o.Subtotal, o.ShippingFee, o.DiscountAmount,
		o.TotalAmount, o.Currency, o.CouponID, o.ShippingAddress, o.PaymentInfo, o.Note).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("q.InsertOrder: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		// catalog names are copied so later product edits leave the order as placed
		if err := q.db.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, variant_id, quantity, price,
			                        product_name, product_sku, variant_sku, variant_attributes)
			SELECT $1, $2, v.id, $4, $5, p.name, p.sku, v.sku, v.attributes
			FROM product_variants v
			JOIN products p ON p.id = v.product_id
			WHERE v.id = $3
			RETURNING id, product_name, product_sku, variant_sku, variant_attributes`,
			o.ID, it.ProductID, it.VariantID, it.Quantity, it.Price).
			Scan(&it.ID, &it.ProductName, &it.ProductSKU, &it.VariantSKU, &it.VariantAttributes); err != nil {
			return Order{}, fmt.Errorf("q.InsertOrder: item %d: %w", it.VariantID, notFound(err, "variant"))
		}
	}
	return o, nil
}

func (q *Queries) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, selectOrder+` WHERE o.id = $1`, id))
	if err != nil {
		return Order{}, fmt.Errorf("q.GetOrder: %w", notFound(err, "order"))
	}
	if err := q.attachItems(ctx, []*Order{&o}); err != nil {
		return Order{}, fmt.Errorf("q.GetOrder: %w", err)
	}
	return o, nil
}

// LockOrder takes the order row lock for the rest of the transaction.
// Items are not loaded.
func (q *Queries) LockOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, selectOrder+` WHERE o.id = $1 FOR UPDATE OF o`, id))
	if err != nil {
		return Order{}, fmt.Errorf("q.LockOrder: %w", notFound(err, "order"))
	}
	return o, nil
}

func (q *Queries) LockOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, selectOrder+` WHERE o.order_number = $1 FOR UPDATE OF o`, orderNumber))
	if err != nil {
		return Order{}, fmt.Errorf("q.LockOrderByNumber: %w", notFound(err, "order"))
	}
	return o, nil
}

func (q *Queries) GetOrderStatus(ctx context.Context, id int64) (StatusView, error) {
	var v StatusView
	err := q.db.QueryRow(ctx, `SELECT status, user_id, updated_at FROM orders WHERE id = $1`, id).
		Scan(&v.Status, &v.UserID, &v.UpdatedAt)
	if err != nil {
		return StatusView{}, fmt.Errorf("q.GetOrderStatus: %w", notFound(err, "order"))
	}
	return v, nil
}

// UpdateOrderStatus moves the order from `from` to `to`. false means the
// order was no longer in `from`.
func (q *Queries) UpdateOrderStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("q.UpdateOrderStatus: %s -> %s: %w", from, to, ErrInvalidState)
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = clock_timestamp()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("q.UpdateOrderStatus: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaid moves a CREATED order to PAID and stores the payment info.
func (q *Queries) MarkPaid(ctx context.Context, id int64, info PaymentInfo) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE orders SET status = 'PAID', payment_info = $2, updated_at = clock_timestamp()
		WHERE id = $1 AND status = 'CREATED'`, id, info)
	if err != nil {
		return false, fmt.Errorf("q.MarkPaid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListOrders pages through orders newest first. userID == 0 lists every user.
func (q *Queries) ListOrders(ctx context.Context, userID int64, page, size int) (Page[Order], error) {
	var total int64
	if err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM orders WHERE $1::bigint = 0 OR user_id = $1`, userID).Scan(&total); err != nil {
		return Page[Order]{}, fmt.Errorf("q.ListOrders: count: %w", err)
	}

	rows, err := q.db.Query(ctx, selectOrder+`
		WHERE $1::bigint = 0 OR o.user_id = $1
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $2 OFFSET $3`, userID, size, page*size)
	if err != nil {
		return Page[Order]{}, fmt.Errorf("q.ListOrders: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return Page[Order]{}, fmt.Errorf("q.ListOrders: %w", err)
	}

	ptrs := make([]*Order, len(list))
	for i := range list {
		ptrs[i] = &list[i]
	}
	if err := q.attachItems(ctx, ptrs); err != nil {
		return Page[Order]{}, fmt.Errorf("q.ListOrders: %w", err)
	}
	return NewPage(list, page, size, total), nil
}

func (q *Queries) attachItems(ctx context.Context, list []*Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := lo.Map(list, func(o *Order, _ int) int64 { return o.ID })

	rows, err := q.db.Query(ctx, `
		SELECT i.id, i.order_id, i.product_id, i.product_name, i.product_sku, i.variant_id,
		       i.variant_sku, i.variant_attributes, i.quantity, i.price
		FROM order_items i
		WHERE i.order_id = ANY($1)
		ORDER BY i.order_id, i.id`, ids)
	if err != nil {
		return fmt.Errorf("order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OrderItem, error) {
		var it OrderItem
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductSKU,
			&it.VariantID, &it.VariantSKU, &it.VariantAttributes, &it.Quantity, &it.Price)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("order items: %w", err)
	}

	byOrder := lo.GroupBy(items, func(it OrderItem) int64 { return it.OrderID })
	for _, o := range list {
		o.Items = byOrder[o.ID]
	}
	return nil
}
