// Package memstore is an in-process implementation of store.Store.
// Orders are guarded by one mutex; every key variant has its own mutex
// over its free list, so allocations for different variants never wait
// on each other.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/keyvend/internal/clock"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/store"
)

type variantKeys struct {
	mu   sync.Mutex
	free []int64
	keys map[int64]*model.KeyRecord
}

type keyRef struct {
	variant string
	id      int64
}

type memStore struct {
	clock clock.Clock
	ttl   time.Duration
	grace time.Duration

	ordersMu sync.Mutex
	orders   map[int64]model.Order
	notices  map[int64]map[string]time.Time
	lastID   int64

	variantsMu sync.Mutex
	variants   map[string]*variantKeys
	lastKeyID  int64

	ownersMu sync.Mutex
	owners   map[int64]keyRef

	eventsMu sync.Mutex
	events   []model.Event

	balanceMu sync.Mutex
	balance   []model.Balance
	applied   map[int64]map[string]bool

	buyersMu sync.Mutex
	buyers   map[int64]string

	products map[string]model.Product
}

// New: нулевые ttl и grace заменяются значениями по умолчанию
func New(clk clock.Clock, ttl time.Duration, grace time.Duration) store.Store {
	if ttl <= 0 {
		ttl = store.DefaultOrderTTL
	}
	if grace <= 0 {
		grace = store.DefaultGraceWindow
	}
	return &memStore{
		clock:    clk,
		ttl:      ttl,
		grace:    grace,
		buyers:   make(map[int64]string),
		orders:   make(map[int64]model.Order),
		notices:  make(map[int64]map[string]time.Time),
		variants: make(map[string]*variantKeys),
		owners:   make(map[int64]keyRef),
		applied:  make(map[int64]map[string]bool),
		products: map[string]model.Product{
			"Basic":   {Variant: "Basic", PriceUSD: decimal.NewFromInt(50)},
			"Pro":     {Variant: "Pro", PriceUSD: decimal.NewFromInt(99)},
			"Premium": {Variant: "Premium", PriceUSD: decimal.NewFromInt(150)},
		},
	}
}

func (m *memStore) Close() {}

// Заказы

func (m *memStore) OrderCreate(_ context.Context, order model.Order) (model.Order, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()

	now := m.clock.Now()
	if order.Data.Destination != "" && m.amountBusy(order.Data.Destination, order.Data.PriceUSDT, now) {
		return model.Order{}, store.ErrAlreadyExists
	}
	m.lastID++
	order.ID = m.lastID
	order.Data.Status = model.OrderStatusPending
	order.Data.CreatedAt = now
	order.Data.ExpiresAt = now.Add(m.ttl)
	order.Data.PaidAt = nil
	m.orders[order.ID] = order
	return order, nil
}

// amountBusy вызывается под ordersMu
func (m *memStore) amountBusy(destination string, amount decimal.Decimal, now time.Time) bool {
	cutoff := now.Add(-m.grace)
	for _, order := range m.orders {
		if order.Data.Destination != destination || !order.Data.PriceUSDT.Equal(amount) {
			continue
		}
		switch order.Data.Status {
		case model.OrderStatusPending:
			return true
		case model.OrderStatusExpired:
			if order.Data.ExpiresAt.After(cutoff) {
				return true
			}
		}
	}
	return false
}

func (m *memStore) OrderGet(_ context.Context, id int64) (model.Order, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return model.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (m *memStore) OrderTransition(_ context.Context, id int64, from []string, to string, paidAt *time.Time) error {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(from, order.Data.Status) {
		return store.ErrConflict
	}
	order.Data.Status = to
	if paidAt != nil {
		t := *paidAt
		order.Data.PaidAt = &t
	}
	m.orders[id] = order
	return nil
}

func (m *memStore) OrderListNonTerminal(_ context.Context, graceCutoff time.Time) ([]model.Order, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()

	var orders []model.Order
	for _, order := range m.orders {
		switch order.Data.Status {
		case model.OrderStatusPending:
			orders = append(orders, order)
		case model.OrderStatusExpired:
			if order.Data.ExpiresAt.After(graceCutoff) {
				orders = append(orders, order)
			}
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (m *memStore) OrderClaimNotice(_ context.Context, id int64, kind string) (bool, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()

	if _, ok := m.orders[id]; !ok {
		return false, store.ErrNotFound
	}
	sent, ok := m.notices[id]
	if !ok {
		sent = make(map[string]time.Time)
		m.notices[id] = sent
	}
	if _, ok := sent[kind]; ok {
		return false, nil
	}
	sent[kind] = m.clock.Now()
	return true, nil
}

func (m *memStore) OrderListConfirmedWithoutKey(ctx context.Context) ([]model.Order, error) {
	m.ordersMu.Lock()
	var confirmed []model.Order
	for _, order := range m.orders {
		if order.Data.Status == model.OrderStatusConfirmed && !order.IsTopUp() {
			confirmed = append(confirmed, order)
		}
	}
	m.ordersMu.Unlock()

	m.ownersMu.Lock()
	defer m.ownersMu.Unlock()
	var orders []model.Order
	for _, order := range confirmed {
		if _, ok := m.owners[order.ID]; !ok {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}
