package balance

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/store"
)

type Balance interface {
	// Increase credits buyer for order. A repeated credit for the same order
	// is not applied again and reports applied=false.
	Increase(ctx context.Context, buyer int64, order int64, amount decimal.Decimal) (applied bool, err error)
	Decrease(ctx context.Context, buyer int64, order int64, amount decimal.Decimal) error
	Get(ctx context.Context, buyer int64) (model.Balance, error)
	GetHistory(ctx context.Context, buyer int64) ([]model.Balance, error)
	// Adjust applies a signed manual correction not tied to any order.
	Adjust(ctx context.Context, buyer int64, amount decimal.Decimal) (model.Balance, error)
	// Paid reports whether order has been paid from a balance.
	Paid(ctx context.Context, order int64) (bool, error)
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyPaid       = errors.New("order already paid from balance")
	ErrAmountIncorrect   = errors.New("amount incorrect")
)

type balance struct {
	store store.BalanceStore
}

func NewBalance(store store.BalanceStore) Balance {
	balance := balance{store: store}
	return &balance
}

func (balance *balance) Get(ctx context.Context, buyer int64) (model.Balance, error) {
	return balance.store.BalanceGetActual(ctx, buyer)
}

func (balance *balance) GetHistory(ctx context.Context, buyer int64) ([]model.Balance, error) {
	return balance.store.BalanceGetHistory(ctx, buyer)
}

func (balance *balance) Increase(ctx context.Context, buyer int64, order int64, amount decimal.Decimal) (bool, error) {
	err := balance.store.BalanceIncrease(ctx, buyer, order, amount)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRequest) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (balance *balance) Decrease(ctx context.Context, buyer int64, order int64, amount decimal.Decimal) error {
	err := balance.store.BalanceDecrease(ctx, buyer, order, amount)
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, store.ErrDuplicateRequest):
		return ErrAlreadyPaid
	}
	return err
}

func (balance *balance) Adjust(ctx context.Context, buyer int64, amount decimal.Decimal) (model.Balance, error) {
	applied, err := balance.store.BalanceAdjust(ctx, buyer, amount)
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return model.Balance{}, ErrInsufficientFunds
	case errors.Is(err, store.ErrAmountIncorrect):
		return model.Balance{}, ErrAmountIncorrect
	}
	return applied, err
}

func (balance *balance) Paid(ctx context.Context, order int64) (bool, error) {
	return balance.store.BalanceHasDebit(ctx, order)
}
