package orders

import (
	"context"
	"fmt"
)

func (q *Queries) GetAddress(ctx context.Context, id int64) (Address, error) {
	var a Address
	err := q.db.QueryRow(ctx, `
		SELECT id, user_id, recipient_name, phone, address_line, ward, district, city, postal_code
		FROM addresses WHERE id = $1`, id).
		Scan(&a.ID, &a.UserID, &a.RecipientName, &a.Phone, &a.AddressLine, &a.Ward, &a.District, &a.City, &a.PostalCode)
	if err != nil {
		return Address{}, fmt.Errorf("q.GetAddress: %w", notFound(err, "address"))
	}
	return a, nil
}

func (q *Queries) GetUserName(ctx context.Context, id int64) (string, error) {
	var name string
	if err := q.db.QueryRow(ctx, `SELECT full_name FROM users WHERE id = $1`, id).Scan(&name); err != nil {
		return "", fmt.Errorf("q.GetUserName: %w", notFound(err, "user"))
	}
	return name, nil
}
