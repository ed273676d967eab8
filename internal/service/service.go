package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/balance"
	"github.com/iurnickita/keyvend/internal/clock"
	"github.com/iurnickita/keyvend/internal/inventory"
	"github.com/iurnickita/keyvend/internal/metrics"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/notify"
	"github.com/iurnickita/keyvend/internal/payment"
	"github.com/iurnickita/keyvend/internal/service/config"
	"github.com/iurnickita/keyvend/internal/store"
)

type Service interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (model.Order, error)
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	// Fulfil allocates a key (or credits a top-up) and confirms the order
	// from one of the given statuses. Never allocates twice for one order.
	Fulfil(ctx context.Context, order model.Order, from []string, kind string) (model.Order, error)
	// Approve confirms an Expired order after a late payment. The caller has
	// already verified the administrator.
	Approve(ctx context.Context, id int64) (model.Order, error)
	// Audit reports invariant violations. Nothing is corrected.
	Audit(ctx context.Context) ([]Anomaly, error)

	AddKeys(ctx context.Context, variant string, keys []string) (int, error)
	AvailableCount(ctx context.Context, variant string) (int, error)
	Events(ctx context.Context, limit int) ([]model.Event, error)
	GetBalance(ctx context.Context, buyer int64) (model.Balance, error)
	BalanceHistory(ctx context.Context, buyer int64) ([]model.Balance, error)
	// AdjustBalance applies a signed correction made by an administrator.
	AdjustBalance(ctx context.Context, buyer int64, amount decimal.Decimal) (model.Balance, error)
	// AssignRole stores the buyer role; Reseller prices get the discount.
	AssignRole(ctx context.Context, buyer int64, role string) error
	Products(ctx context.Context) ([]model.Product, error)
}

var (
	ErrInsufficientData  = errors.New("insufficient data")
	ErrOrderNotFound     = errors.New("order not found")
	ErrUnknownVariant    = errors.New("unknown variant")
	ErrUnknownMethod     = errors.New("unknown payment method")
	ErrTopUpTooSmall     = errors.New("top-up amount below minimum")
	ErrNotApprovable     = errors.New("order is not expired")
	ErrAlreadyConfirmed  = errors.New("order already confirmed")
	ErrNoKeyAvailable    = errors.New("no key available")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrphanedKey       = errors.New("key allocated to an unconfirmed order")
	ErrNoFreeAmount      = errors.New("no free usdt amount for deposit address")
	ErrUnknownRole       = errors.New("unknown buyer role")
	ErrAmountIncorrect   = errors.New("amount incorrect")
)

var (
	defaultMinTopUp         = decimal.NewFromInt(50)
	defaultResellerDiscount = decimal.NewFromFloat(0.2)
)

// Deps are the collaborators of the service.
type Deps struct {
	Store     store.Store
	Inventory inventory.Inventory
	Balance   balance.Balance
	PayLinks  payment.PayLinks
	Rates     payment.RateSource
	Notifier  notify.Notifier
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

type service struct {
	cfg       config.Config
	store     store.Store
	inventory inventory.Inventory
	balance   balance.Balance
	links     payment.PayLinks
	rates     payment.RateSource
	notifier  notify.Notifier
	clock     clock.Clock
	metrics   *metrics.Metrics
	zaplog    *zap.Logger
	tag       func() decimal.Decimal
}

func NewService(cfg config.Config, deps Deps, zaplog *zap.Logger) Service {
	if cfg.MinTopUp.IsZero() {
		cfg.MinTopUp = defaultMinTopUp
	}
	if cfg.ResellerDiscount.IsZero() {
		cfg.ResellerDiscount = defaultResellerDiscount
	}
	service := service{
		cfg:       cfg,
		store:     deps.Store,
		inventory: deps.Inventory,
		balance:   deps.Balance,
		links:     deps.PayLinks,
		rates:     deps.Rates,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		zaplog:    zaplog.Named("service"),
		tag:       usdtTag,
	}
	return &service
}

func (service *service) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	order, err := service.store.OrderGet(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Order{}, ErrOrderNotFound
	}
	return order, err
}

func (service *service) AddKeys(ctx context.Context, variant string, keys []string) (int, error) {
	if variant == "" || variant == model.VariantTopUp {
		return 0, ErrUnknownVariant
	}
	if _, err := service.store.ProductGet(ctx, variant); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnknownVariant
		}
		return 0, err
	}
	count, err := service.inventory.AddKeys(ctx, variant, keys)
	if errors.Is(err, inventory.ErrNoKeys) {
		return 0, ErrInsufficientData
	}
	return count, err
}

func (service *service) AvailableCount(ctx context.Context, variant string) (int, error) {
	return service.inventory.AvailableCount(ctx, variant)
}

func (service *service) Events(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return service.store.EventList(ctx, limit)
}

func (service *service) GetBalance(ctx context.Context, buyer int64) (model.Balance, error) {
	if buyer == 0 {
		return model.Balance{}, ErrInsufficientData
	}
	return service.balance.Get(ctx, buyer)
}

func (service *service) BalanceHistory(ctx context.Context, buyer int64) ([]model.Balance, error) {
	if buyer == 0 {
		return nil, ErrInsufficientData
	}
	return service.balance.GetHistory(ctx, buyer)
}

func (service *service) AdjustBalance(ctx context.Context, buyer int64, amount decimal.Decimal) (model.Balance, error) {
	if buyer == 0 {
		return model.Balance{}, ErrInsufficientData
	}
	adjusted, err := service.balance.Adjust(ctx, buyer, amount)
	switch {
	case errors.Is(err, balance.ErrInsufficientFunds):
		return model.Balance{}, ErrInsufficientFunds
	case errors.Is(err, balance.ErrAmountIncorrect):
		return model.Balance{}, ErrAmountIncorrect
	case err != nil:
		return model.Balance{}, err
	}

	service.record(ctx, model.Event{
		Kind:    model.EventBalanceAdjusted,
		BuyerID: int64Ptr(buyer),
		Details: fmt.Sprintf("%s, balance %s", amount.String(), adjusted.Data.Balance.String()),
	})
	service.zaplog.Info("balance adjusted",
		zap.Int64("buyer", buyer),
		zap.String("amount", amount.String()),
		zap.String("balance", adjusted.Data.Balance.String()))
	return adjusted, nil
}

func (service *service) AssignRole(ctx context.Context, buyer int64, role string) error {
	if buyer == 0 {
		return ErrInsufficientData
	}
	switch role {
	case model.BuyerRoleNormal, model.BuyerRoleReseller:
	default:
		return ErrUnknownRole
	}
	if err := service.store.BuyerSetRole(ctx, buyer, role); err != nil {
		return err
	}

	service.record(ctx, model.Event{
		Kind:    model.EventRoleAssigned,
		BuyerID: int64Ptr(buyer),
		Details: role,
	})
	service.zaplog.Info("role assigned", zap.Int64("buyer", buyer), zap.String("role", role))
	return nil
}

func (service *service) Products(ctx context.Context) ([]model.Product, error) {
	return service.store.ProductList(ctx)
}

// record пишет событие в журнал; ошибка журнала не прерывает обработку
func (service *service) record(ctx context.Context, event model.Event) {
	if err := service.store.EventRecord(ctx, event); err != nil {
		service.zaplog.Error("record event failed", zap.String("kind", event.Kind), zap.Error(err))
	}
}

// notify - доставка не гарантируется, повторы вне ядра
func (service *service) notify(ctx context.Context, to notify.Recipient, kind string, payload notify.Payload) {
	if err := service.notifier.Notify(ctx, to, kind, payload); err != nil {
		service.zaplog.Warn("notify failed",
			zap.String("to", to.String()),
			zap.String("kind", kind),
			zap.Int64("order", payload.OrderID),
			zap.Error(err))
	}
}

func payloadFor(order model.Order) notify.Payload {
	amount := order.Data.PriceUSDT
	if order.Data.Method == model.PaymentMethodBalance {
		amount = order.Data.PriceUSD
	}
	return notify.Payload{
		OrderID:     order.ID,
		BuyerID:     order.Data.Buyer,
		Variant:     order.Data.Variant,
		Method:      order.Data.Method,
		Destination: order.Data.Destination,
		Amount:      amount,
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
