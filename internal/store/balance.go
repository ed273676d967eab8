package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/keyvend/internal/model"
)

const (
	directionCredit     = "credit"
	directionDebit      = "debit"
	directionAdjustment = "adjustment"
)

const balanceColumns = "buyer, operation, timestamp, difference, balance, purchase_order"

func scanBalance(row pgx.Row) (model.Balance, error) {
	var balanceRow model.Balance
	err := row.Scan(&balanceRow.Key.Buyer,
		&balanceRow.Key.Operation,
		&balanceRow.Data.Timestamp,
		&balanceRow.Data.Difference,
		&balanceRow.Data.Balance,
		&balanceRow.Data.Order)
	return balanceRow, err
}

func (store *store) BalanceGetActual(ctx context.Context, buyer int64) (model.Balance, error) {
	//Получение актуального баланса
	balanceRow, err := scanBalance(store.queryRow(ctx,
		"SELECT "+balanceColumns+
			" FROM balance"+
			" WHERE buyer = $1"+
			" ORDER BY operation DESC"+
			" LIMIT 1",
		buyer))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) { // если нет строки - ок, баланс нулевой
			return model.Balance{Key: model.BalanceKey{Buyer: buyer}}, nil
		}
		return model.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return balanceRow, nil
}

func (store *store) BalanceGetHistory(ctx context.Context, buyer int64) ([]model.Balance, error) {
	rows, err := store.query(ctx,
		"SELECT "+balanceColumns+
			" FROM balance"+
			" WHERE buyer = $1"+
			" ORDER BY operation",
		buyer)
	if err != nil {
		return nil, fmt.Errorf("balance history: %w", err)
	}
	defer rows.Close()
	var history []model.Balance
	for rows.Next() {
		balanceRow, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, balanceRow)
	}
	return history, rows.Err()
}

func (store *store) BalanceIncrease(ctx context.Context, buyer int64, order int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrAmountIncorrect
	}
	_, err := store.balanceApply(ctx, buyer, order, amount, directionCredit)
	return err
}

func (store *store) BalanceDecrease(ctx context.Context, buyer int64, order int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrAmountIncorrect
	}
	_, err := store.balanceApply(ctx, buyer, order, amount.Neg(), directionDebit)
	return err
}

// BalanceAdjust - ручная корректировка, без заказа (purchase_order = 0) и без защиты от повтора
func (store *store) BalanceAdjust(ctx context.Context, buyer int64, amount decimal.Decimal) (model.Balance, error) {
	if amount.IsZero() {
		return model.Balance{}, ErrAmountIncorrect
	}
	return store.balanceApply(ctx, buyer, 0, amount, directionAdjustment)
}

func (store *store) balanceApply(ctx context.Context, buyer int64, order int64, difference decimal.Decimal, direction string) (model.Balance, error) {
	var applied model.Balance
	err := store.withTx(ctx, func(ctx context.Context) error {
		//Блокировка баланса пользователя до конца транзакции
		if _, err := store.exec(ctx, "SELECT pg_advisory_xact_lock($1)", buyer); err != nil {
			return err
		}

		balanceRow, err := store.BalanceGetActual(ctx, buyer)
		if err != nil {
			return err
		}

		//Проверка достаточно средств
		newBalance := balanceRow.Data.Balance.Add(difference)
		if newBalance.IsNegative() {
			return ErrInsufficientFunds
		}

		//Запись обновленного баланса
		applied, err = scanBalance(store.queryRow(ctx,
			"INSERT INTO balance (buyer, timestamp, difference, balance, purchase_order, direction)"+
				" VALUES ($1, $2, $3, $4, $5, $6)"+
				" RETURNING "+balanceColumns,
			buyer,
			store.clock.Now(),
			difference,
			newBalance,
			order,
			direction))
		return err
	})
	if err != nil {
		// Операция по этому заказу уже проведена
		if isUniqueViolation(err) {
			return model.Balance{}, ErrDuplicateRequest
		}
		if errors.Is(err, ErrInsufficientFunds) {
			return model.Balance{}, ErrInsufficientFunds
		}
		return model.Balance{}, fmt.Errorf("balance %s: %w", direction, err)
	}
	return applied, nil
}

func (store *store) BalanceHasDebit(ctx context.Context, order int64) (bool, error) {
	var exists bool
	err := store.queryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM balance WHERE purchase_order = $1 AND direction = $2)",
		order,
		directionDebit).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("balance debit: %w", err)
	}
	return exists, nil
}
