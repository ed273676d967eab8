package memstore

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/store"
)

// Журнал событий

func (m *memStore) EventRecord(_ context.Context, event model.Event) error {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.clock.Now()
	}
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) EventList(_ context.Context, limit int) ([]model.Event, error) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	events := make([]model.Event, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(events) < limit; i-- {
		events = append(events, m.events[i])
	}
	return events, nil
}

// Баланс

const (
	directionCredit     = "credit"
	directionDebit      = "debit"
	directionAdjustment = "adjustment"
)

func (m *memStore) BalanceGetActual(_ context.Context, buyer int64) (model.Balance, error) {
	m.balanceMu.Lock()
	defer m.balanceMu.Unlock()
	return m.actual(buyer), nil
}

func (m *memStore) actual(buyer int64) model.Balance {
	for i := len(m.balance) - 1; i >= 0; i-- {
		if m.balance[i].Key.Buyer == buyer {
			return m.balance[i]
		}
	}
	return model.Balance{Key: model.BalanceKey{Buyer: buyer}}
}

func (m *memStore) BalanceGetHistory(_ context.Context, buyer int64) ([]model.Balance, error) {
	m.balanceMu.Lock()
	defer m.balanceMu.Unlock()

	var history []model.Balance
	for _, b := range m.balance {
		if b.Key.Buyer == buyer {
			history = append(history, b)
		}
	}
	return history, nil
}

func (m *memStore) BalanceIncrease(_ context.Context, buyer int64, order int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return store.ErrAmountIncorrect
	}
	_, err := m.balanceApply(buyer, order, amount, directionCredit)
	return err
}

func (m *memStore) BalanceDecrease(_ context.Context, buyer int64, order int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return store.ErrAmountIncorrect
	}
	_, err := m.balanceApply(buyer, order, amount.Neg(), directionDebit)
	return err
}

func (m *memStore) BalanceAdjust(_ context.Context, buyer int64, amount decimal.Decimal) (model.Balance, error) {
	if amount.IsZero() {
		return model.Balance{}, store.ErrAmountIncorrect
	}
	return m.balanceApply(buyer, 0, amount, directionAdjustment)
}

func (m *memStore) balanceApply(buyer int64, order int64, difference decimal.Decimal, direction string) (model.Balance, error) {
	m.balanceMu.Lock()
	defer m.balanceMu.Unlock()

	// корректировки повторяются, операции по заказу - нет
	once := direction != directionAdjustment
	if once && m.applied[order][direction] {
		return model.Balance{}, store.ErrDuplicateRequest
	}
	current := m.actual(buyer)
	newBalance := current.Data.Balance.Add(difference)
	if newBalance.IsNegative() {
		return model.Balance{}, store.ErrInsufficientFunds
	}

	row := model.Balance{
		Key: model.BalanceKey{Buyer: buyer, Operation: int64(len(m.balance) + 1)},
		Data: model.BalanceData{
			Timestamp:  m.clock.Now(),
			Difference: difference,
			Balance:    newBalance,
			Order:      order,
		},
	}
	m.balance = append(m.balance, row)
	if once {
		if m.applied[order] == nil {
			m.applied[order] = make(map[string]bool)
		}
		m.applied[order][direction] = true
	}
	return row, nil
}

func (m *memStore) BalanceHasDebit(_ context.Context, order int64) (bool, error) {
	m.balanceMu.Lock()
	defer m.balanceMu.Unlock()
	return m.applied[order][directionDebit], nil
}

// Каталог

func (m *memStore) ProductGet(_ context.Context, variant string) (model.Product, error) {
	product, ok := m.products[variant]
	if !ok {
		return model.Product{}, store.ErrNotFound
	}
	return product, nil
}

func (m *memStore) ProductList(_ context.Context) ([]model.Product, error) {
	products := make([]model.Product, 0, len(m.products))
	for _, p := range m.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].PriceUSD.LessThan(products[j].PriceUSD)
	})
	return products, nil
}

// Покупатели

func (m *memStore) BuyerGet(_ context.Context, id int64) (model.Buyer, error) {
	m.buyersMu.Lock()
	defer m.buyersMu.Unlock()

	role, ok := m.buyers[id]
	if !ok {
		role = model.BuyerRoleNormal
	}
	return model.Buyer{ID: id, Role: role}, nil
}

func (m *memStore) BuyerSetRole(_ context.Context, id int64, role string) error {
	m.buyersMu.Lock()
	defer m.buyersMu.Unlock()
	m.buyers[id] = role
	return nil
}
