package orders

import (
	"context"
	"fmt"
)

const selectVariant = `
	SELECT v.id, v.product_id, p.name, p.sku, v.sku, v.stock, v.price, v.attributes, v.version, v.updated_at
	FROM product_variants v
	JOIN products p ON p.id = v.product_id`

func scanVariant(row interface{ Scan(...any) error }) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.ProductSKU, &v.SKU,
		&v.Stock, &v.Price, &v.Attributes, &v.Version, &v.UpdatedAt)
	return v, err
}

func (q *Queries) GetVariant(ctx context.Context, id int64) (Variant, error) {
	v, err := scanVariant(q.db.QueryRow(ctx, selectVariant+` WHERE v.id = $1`, id))
	if err != nil {
		return Variant{}, fmt.Errorf("q.GetVariant: %w", notFound(err, "variant"))
	}
	return v, nil
}

func (q *Queries) TryDecrease(ctx context.Context, variantID int64, qty int) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE product_variants
		SET stock = stock - $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND stock >= $2`, variantID, qty)
	if err != nil {
		return false, fmt.Errorf("q.TryDecrease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) Increase(ctx context.Context, variantID int64, qty int) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE product_variants
		SET stock = stock + $2, version = version + 1, updated_at = now()
		WHERE id = $1`, variantID, qty)
	if err != nil {
		return fmt.Errorf("q.Increase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("q.Increase: variant %d: %w", variantID, ErrNotFound)
	}
	return nil
}
