package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iurnickita/keyvend/internal/model"
)

func (store *store) BuyerGet(ctx context.Context, id int64) (model.Buyer, error) {
	buyer := model.Buyer{ID: id}
	err := store.queryRow(ctx, "SELECT role FROM buyers WHERE id = $1", id).Scan(&buyer.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) { // покупателя еще нет - обычный
			buyer.Role = model.BuyerRoleNormal
			return buyer, nil
		}
		return model.Buyer{}, fmt.Errorf("get buyer: %w", err)
	}
	return buyer, nil
}

func (store *store) BuyerSetRole(ctx context.Context, id int64, role string) error {
	_, err := store.exec(ctx,
		"INSERT INTO buyers (id, role, updated_at)"+
			" VALUES ($1, $2, $3)"+
			" ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at",
		id,
		role,
		store.clock.Now())
	if err != nil {
		return fmt.Errorf("set buyer role: %w", err)
	}
	return nil
}
