package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/keyvend/internal/clock"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/store/config"
	"github.com/iurnickita/keyvend/internal/store/migrations"
)

// DefaultOrderTTL - время жизни неоплаченного заказа
const DefaultOrderTTL = 30 * time.Minute

// DefaultGraceWindow - сколько истекший заказ еще ждет поздней оплаты
const DefaultGraceWindow = 6 * time.Hour

type OrderStore interface {
	// OrderCreate rejects with ErrAlreadyExists an order whose destination and
	// settlement amount equal those of a Pending order or an Expired order
	// still inside the grace window: one transfer must match one order.
	OrderCreate(ctx context.Context, order model.Order) (model.Order, error)
	OrderGet(ctx context.Context, id int64) (model.Order, error)
	// OrderTransition is a compare-and-set: it applies only while the current
	// status is one of from, otherwise ErrConflict and nothing is written.
	OrderTransition(ctx context.Context, id int64, from []string, to string, paidAt *time.Time) error
	// OrderListNonTerminal returns Pending orders and Expired orders with
	// expires_at after graceCutoff.
	OrderListNonTerminal(ctx context.Context, graceCutoff time.Time) ([]model.Order, error)
	// OrderClaimNotice marks a single-fire notice as sent; false if it already was.
	OrderClaimNotice(ctx context.Context, id int64, kind string) (bool, error)
	OrderListConfirmedWithoutKey(ctx context.Context) ([]model.Order, error)
}

type KeyStore interface {
	KeyAdd(ctx context.Context, variant string, payloads [][]byte) error
	// KeyAllocate returns the key already owned by orderID or marks one
	// Available key of variant as Used by orderID. ErrNotAvailable when the
	// variant is exhausted.
	KeyAllocate(ctx context.Context, variant string, orderID int64) (model.KeyRecord, error)
	KeyGetByOrder(ctx context.Context, orderID int64) (model.KeyRecord, error)
	KeyAvailableCount(ctx context.Context, variant string) (int, error)
	// KeyListOrphaned returns Used keys whose order is Expired.
	KeyListOrphaned(ctx context.Context) ([]model.KeyRecord, error)
}

type EventLog interface {
	EventRecord(ctx context.Context, event model.Event) error
	EventList(ctx context.Context, limit int) ([]model.Event, error)
}

type BalanceStore interface {
	BalanceGetActual(ctx context.Context, buyer int64) (model.Balance, error)
	BalanceGetHistory(ctx context.Context, buyer int64) ([]model.Balance, error)
	// BalanceIncrease credits buyer once per order; a repeated credit returns ErrDuplicateRequest.
	BalanceIncrease(ctx context.Context, buyer int64, order int64, amount decimal.Decimal) error
	BalanceDecrease(ctx context.Context, buyer int64, order int64, amount decimal.Decimal) error
	// BalanceAdjust applies a signed manual correction not tied to an order.
	BalanceAdjust(ctx context.Context, buyer int64, amount decimal.Decimal) (model.Balance, error)
	BalanceHasDebit(ctx context.Context, order int64) (bool, error)
}

type ProductStore interface {
	ProductGet(ctx context.Context, variant string) (model.Product, error)
	ProductList(ctx context.Context) ([]model.Product, error)
}

type BuyerStore interface {
	// BuyerGet never fails with ErrNotFound: an unknown buyer is Normal.
	BuyerGet(ctx context.Context, id int64) (model.Buyer, error)
	BuyerSetRole(ctx context.Context, id int64, role string) error
}

type Store interface {
	OrderStore
	KeyStore
	EventLog
	BalanceStore
	ProductStore
	BuyerStore
	Close()
}

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("status conflict")
	ErrNotAvailable      = errors.New("no key available")
	ErrAlreadyExists     = errors.New("already exists")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrAmountIncorrect   = errors.New("amount value is incorrect")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type store struct {
	pool  *pgxpool.Pool
	clock clock.Clock
	ttl   time.Duration
	grace time.Duration
}

func NewStore(ctx context.Context, cfg config.Config, clk clock.Clock) (Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	// Схема создается при старте, как и раньше
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	ttl := cfg.OrderTTL
	if ttl <= 0 {
		ttl = DefaultOrderTTL
	}
	grace := cfg.GraceWindow
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &store{
		pool:  pool,
		clock: clk,
		ttl:   ttl,
		grace: grace,
	}, nil
}

func (store *store) Close() {
	store.pool.Close()
}
