package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iurnickita/keyvend/internal/model"
)

const keyColumns = "id, variant, payload, status, order_id, allocated_at"

func scanKey(row pgx.Row) (model.KeyRecord, error) {
	var key model.KeyRecord
	err := row.Scan(&key.ID,
		&key.Data.Variant,
		&key.Data.Payload,
		&key.Data.Status,
		&key.Data.OrderID,
		&key.Data.AllocatedAt)
	return key, err
}

func (store *store) KeyAdd(ctx context.Context, variant string, payloads [][]byte) error {
	return store.withTx(ctx, func(ctx context.Context) error {
		for _, payload := range payloads {
			_, err := store.exec(ctx,
				"INSERT INTO keys (variant, payload, status) VALUES ($1, $2, $3)",
				variant,
				payload,
				model.KeyStatusAvailable)
			if err != nil {
				return fmt.Errorf("add key: %w", err)
			}
		}
		return nil
	})
}

func (store *store) KeyAllocate(ctx context.Context, variant string, orderID int64) (model.KeyRecord, error) {
	var key model.KeyRecord
	err := store.withTx(ctx, func(ctx context.Context) error {
		// Ключ уже выдан этому заказу (повтор после сбоя) - возвращаем его же
		owned, err := scanKey(store.queryRow(ctx,
			"SELECT "+keyColumns+" FROM keys WHERE order_id = $1", orderID))
		if err == nil {
			key = owned
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("find owned key: %w", err)
		}

		// Выбор и пометка ключа под блокировкой строки
		free, err := scanKey(store.queryRow(ctx,
			"SELECT "+keyColumns+" FROM keys"+
				" WHERE variant = $1"+
				"   AND status = $2"+
				" ORDER BY id"+
				" LIMIT 1"+
				" FOR UPDATE SKIP LOCKED",
			variant,
			model.KeyStatusAvailable))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotAvailable
			}
			return fmt.Errorf("select key: %w", err)
		}

		now := store.clock.Now()
		_, err = store.exec(ctx,
			"UPDATE keys"+
				" SET status = $1, order_id = $2, allocated_at = $3"+
				" WHERE id = $4",
			model.KeyStatusUsed,
			orderID,
			now,
			free.ID)
		if err != nil {
			return err
		}
		free.Data.Status = model.KeyStatusUsed
		free.Data.OrderID = &orderID
		free.Data.AllocatedAt = &now
		key = free
		return nil
	})
	if err != nil {
		// Параллельная выдача тому же заказу: уникальный индекс по order_id
		// не дает взять второй ключ, отдаем победивший
		if isUniqueViolation(err) {
			return store.KeyGetByOrder(ctx, orderID)
		}
		if errors.Is(err, ErrNotAvailable) {
			return model.KeyRecord{}, ErrNotAvailable
		}
		return model.KeyRecord{}, fmt.Errorf("allocate key: %w", err)
	}
	return key, nil
}

func (store *store) KeyGetByOrder(ctx context.Context, orderID int64) (model.KeyRecord, error) {
	key, err := scanKey(store.queryRow(ctx,
		"SELECT "+keyColumns+" FROM keys WHERE order_id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.KeyRecord{}, ErrNotFound
		}
		return model.KeyRecord{}, fmt.Errorf("get key by order: %w", err)
	}
	return key, nil
}

func (store *store) KeyAvailableCount(ctx context.Context, variant string) (int, error) {
	var count int
	err := store.queryRow(ctx,
		"SELECT COUNT(*) FROM keys WHERE variant = $1 AND status = $2",
		variant,
		model.KeyStatusAvailable).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count keys: %w", err)
	}
	return count, nil
}

func (store *store) KeyListOrphaned(ctx context.Context) ([]model.KeyRecord, error) {
	rows, err := store.query(ctx,
		"SELECT k.id, k.variant, k.payload, k.status, k.order_id, k.allocated_at"+
			" FROM keys k"+
			" JOIN orders o ON o.id = k.order_id"+
			" WHERE o.status = $1",
		model.OrderStatusExpired)
	if err != nil {
		return nil, fmt.Errorf("list orphaned keys: %w", err)
	}
	defer rows.Close()
	var keys []model.KeyRecord
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
