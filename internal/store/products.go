package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iurnickita/keyvend/internal/model"
)

func (store *store) ProductGet(ctx context.Context, variant string) (model.Product, error) {
	var product model.Product
	err := store.queryRow(ctx,
		"SELECT variant, price_usd FROM products WHERE variant = $1",
		variant).Scan(&product.Variant, &product.PriceUSD)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Product{}, ErrNotFound
		}
		return model.Product{}, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

func (store *store) ProductList(ctx context.Context) ([]model.Product, error) {
	rows, err := store.query(ctx, "SELECT variant, price_usd FROM products ORDER BY price_usd")
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	var products []model.Product
	for rows.Next() {
		var product model.Product
		if err := rows.Scan(&product.Variant, &product.PriceUSD); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}
