package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/keyvend/internal/model"
)

const orderColumns = "id, buyer, variant, price_usd, price_usdt, method, destination, payment_ref," +
	" status, created_at, expires_at, paid_at"

func scanOrder(row pgx.Row) (model.Order, error) {
	var order model.Order
	err := row.Scan(&order.ID,
		&order.Data.Buyer,
		&order.Data.Variant,
		&order.Data.PriceUSD,
		&order.Data.PriceUSDT,
		&order.Data.Method,
		&order.Data.Destination,
		&order.Data.PaymentRef,
		&order.Data.Status,
		&order.Data.CreatedAt,
		&order.Data.ExpiresAt,
		&order.Data.PaidAt)
	return order, err
}

func (store *store) OrderCreate(ctx context.Context, order model.Order) (model.Order, error) {
	now := store.clock.Now()
	order.Data.Status = model.OrderStatusPending
	order.Data.CreatedAt = now
	order.Data.ExpiresAt = now.Add(store.ttl)
	order.Data.PaidAt = nil

	err := store.withTx(ctx, func(ctx context.Context) error {
		if order.Data.Destination != "" {
			// Создание заказов на один адрес идет по очереди до конца транзакции
			if _, err := store.exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", order.Data.Destination); err != nil {
				return err
			}
			busy, err := store.amountBusy(ctx, order.Data.Destination, order.Data.PriceUSDT, now)
			if err != nil {
				return err
			}
			if busy {
				return ErrAlreadyExists
			}
		}

		// Идентификатор выдает последовательность, он строго возрастает
		return store.queryRow(ctx,
			"INSERT INTO orders (buyer, variant, price_usd, price_usdt, method, destination, payment_ref,"+
				" status, created_at, expires_at)"+
				" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)"+
				" RETURNING id",
			order.Data.Buyer,
			order.Data.Variant,
			order.Data.PriceUSD,
			order.Data.PriceUSDT,
			order.Data.Method,
			order.Data.Destination,
			order.Data.PaymentRef,
			order.Data.Status,
			order.Data.CreatedAt,
			order.Data.ExpiresAt).Scan(&order.ID)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) || isUniqueViolation(err) {
			return model.Order{}, ErrAlreadyExists
		}
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// amountBusy: сумма на адрес занята ожидающим заказом или истекшим в окне поздней оплаты
func (store *store) amountBusy(ctx context.Context, destination string, amount decimal.Decimal, now time.Time) (bool, error) {
	var busy bool
	err := store.queryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM orders"+
			" WHERE destination = $1"+
			"   AND price_usdt = $2"+
			"   AND (status = $3 OR (status = $4 AND expires_at > $5)))",
		destination,
		amount,
		model.OrderStatusPending,
		model.OrderStatusExpired,
		now.Add(-store.grace)).Scan(&busy)
	return busy, err
}

func (store *store) OrderGet(ctx context.Context, id int64) (model.Order, error) {
	order, err := scanOrder(store.queryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, ErrNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (store *store) OrderTransition(ctx context.Context, id int64, from []string, to string, paidAt *time.Time) error {
	// Условие на текущий статус в самом UPDATE - строка блокируется,
	// из конкурирующих вызовов изменение применит только один
	tag, err := store.exec(ctx,
		"UPDATE orders"+
			" SET status = $1,"+
			"     paid_at = COALESCE($2, paid_at)"+
			" WHERE id = $3"+
			"   AND status = ANY($4)",
		to,
		paidAt,
		id,
		from)
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Ничего не обновлено: заказа нет или статус уже другой
	var exists bool
	err = store.queryRow(ctx, "SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (store *store) OrderListNonTerminal(ctx context.Context, graceCutoff time.Time) ([]model.Order, error) {
	rows, err := store.query(ctx,
		"SELECT "+orderColumns+" FROM orders"+
			" WHERE status = $1"+
			"    OR (status = $2 AND expires_at > $3)",
		model.OrderStatusPending,
		model.OrderStatusExpired,
		graceCutoff)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return collectOrders(rows)
}

func (store *store) OrderClaimNotice(ctx context.Context, id int64, kind string) (bool, error) {
	tag, err := store.exec(ctx,
		"INSERT INTO order_notices (order_id, kind, sent_at)"+
			" VALUES ($1, $2, $3)"+
			" ON CONFLICT (order_id, kind) DO NOTHING",
		id,
		kind,
		store.clock.Now())
	if err != nil {
		return false, fmt.Errorf("claim notice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (store *store) OrderListConfirmedWithoutKey(ctx context.Context) ([]model.Order, error) {
	rows, err := store.query(ctx,
		"SELECT "+orderColumns+" FROM orders o"+
			" WHERE o.status = $1"+
			"   AND o.variant <> $2"+
			"   AND NOT EXISTS (SELECT 1 FROM keys k WHERE k.order_id = o.id)",
		model.OrderStatusConfirmed,
		model.VariantTopUp)
	if err != nil {
		return nil, fmt.Errorf("list confirmed orders: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
