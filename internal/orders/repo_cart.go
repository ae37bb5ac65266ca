package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (q *Queries) FindCart(ctx context.Context, userID int64) (Cart, error) {
	var c Cart
	err := q.db.QueryRow(ctx, `
		SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Cart{}, fmt.Errorf("q.FindCart: %w", notFound(err, "cart"))
	}

	rows, err := q.db.Query(ctx, `
		SELECT i.id, i.cart_id, i.variant_id, v.sku, v.product_id, p.name, i.quantity, i.price
		FROM cart_items i
		JOIN product_variants v ON v.id = i.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE i.cart_id = $1
		ORDER BY i.variant_id`, c.ID)
	if err != nil {
		return Cart{}, fmt.Errorf("q.FindCart: items: %w", err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return Cart{}, fmt.Errorf("q.FindCart: items: %w", err)
	}
	return c, nil
}

func scanCartItem(row pgx.CollectableRow) (CartItem, error) {
	var it CartItem
	err := row.Scan(&it.ID, &it.CartID, &it.VariantID, &it.VariantSKU, &it.ProductID,
		&it.ProductName, &it.Quantity, &it.Price)
	return it, err
}

// FindOrCreateCart returns the user's cart, creating an empty one on first use.
func (q *Queries) FindOrCreateCart(ctx context.Context, userID int64) (Cart, error) {
	if _, err := q.db.Exec(ctx, `
		INSERT INTO carts(user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return Cart{}, fmt.Errorf("q.FindOrCreateCart: %w", err)
	}
	return q.FindCart(ctx, userID)
}

// GetCartItem returns the item and the id of the user owning its cart.
func (q *Queries) GetCartItem(ctx context.Context, itemID int64) (CartItem, int64, error) {
	var (
		it    CartItem
		owner int64
	)
	err := q.db.QueryRow(ctx, `
		SELECT i.id, i.cart_id, i.variant_id, v.sku, v.product_id, p.name, i.quantity, i.price, c.user_id
		FROM cart_items i
		JOIN carts c ON c.id = i.cart_id
		JOIN product_variants v ON v.id = i.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE i.id = $1`, itemID).
		Scan(&it.ID, &it.CartID, &it.VariantID, &it.VariantSKU, &it.ProductID, &it.ProductName,
			&it.Quantity, &it.Price, &owner)
	if err != nil {
		return CartItem{}, 0, fmt.Errorf("q.GetCartItem: %w", notFound(err, "cart item"))
	}
	return it, owner, nil
}

// SaveCartItem sets the quantity and price snapshot of a variant in the cart,
// inserting the line if it is not there yet.
func (q *Queries) SaveCartItem(ctx context.Context, cartID, variantID int64, qty int, price decimal.Decimal) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO cart_items(cart_id, variant_id, quantity, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, variant_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, price = EXCLUDED.price, updated_at = now()`,
		cartID, variantID, qty, price)
	if err != nil {
		return fmt.Errorf("q.SaveCartItem: %w", err)
	}
	return q.touchCart(ctx, cartID)
}

func (q *Queries) DeleteCartItem(ctx context.Context, itemID int64) error {
	var cartID int64
	err := q.db.QueryRow(ctx, `DELETE FROM cart_items WHERE id = $1 RETURNING cart_id`, itemID).Scan(&cartID)
	if err != nil {
		return fmt.Errorf("q.DeleteCartItem: %w", notFound(err, "cart item"))
	}
	return q.touchCart(ctx, cartID)
}

func (q *Queries) ClearCart(ctx context.Context, cartID int64) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("q.ClearCart: %w", err)
	}
	return q.touchCart(ctx, cartID)
}

func (q *Queries) touchCart(ctx context.Context, cartID int64) error {
	if _, err := q.db.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
