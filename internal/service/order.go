package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/balance"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/notify"
	"github.com/iurnickita/keyvend/internal/payment"
	"github.com/iurnickita/keyvend/internal/store"
)

// PlaceOrderRequest - заказ от покупателя. Amount задается только для TopUp.
// Скидка берется из роли покупателя.
type PlaceOrderRequest struct {
	Buyer   int64
	Variant string
	Method  string
	Amount  decimal.Decimal
}

// Сумма USDT округляется до центов, затем получает метку 0.000001..0.009999,
// чтобы переводы на общий адрес различались. Занятая метка выбирается заново.
const (
	usdtPlaces   = 2
	tagExp       = -6
	tagMaxMicros = 9999
	tagAttempts  = 20
)

func (service *service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (model.Order, error) {
	if req.Buyer == 0 || req.Variant == "" || req.Method == "" {
		return model.Order{}, ErrInsufficientData
	}
	switch req.Method {
	case model.PaymentMethodUSDT, model.PaymentMethodBinancePay, model.PaymentMethodBalance:
	default:
		return model.Order{}, ErrUnknownMethod
	}

	priceUSD, err := service.price(ctx, req)
	if err != nil {
		return model.Order{}, err
	}

	var order model.Order
	order.Data.Buyer = req.Buyer
	order.Data.Variant = req.Variant
	order.Data.Method = req.Method
	order.Data.PriceUSD = priceUSD

	switch req.Method {
	case model.PaymentMethodUSDT:
		if service.cfg.DepositAddress == "" {
			return model.Order{}, fmt.Errorf("usdt deposit address is not configured")
		}
		order.Data.PriceUSDT = service.toUSDT(ctx, priceUSD)
		order.Data.Destination = service.cfg.DepositAddress
	case model.PaymentMethodBinancePay:
		order.Data.PriceUSDT = service.toUSDT(ctx, priceUSD)
		order.Data.PaymentRef = payment.NewTradeNo()
		link, err := service.links.CreateLink(ctx, order.Data.PaymentRef, order.Data.PriceUSDT, req.Variant)
		if err != nil {
			return model.Order{}, fmt.Errorf("create pay link: %w", err)
		}
		order.Data.Destination = link
	case model.PaymentMethodBalance:
		order.Data.PriceUSDT = priceUSD
		current, err := service.balance.Get(ctx, req.Buyer)
		if err != nil {
			return model.Order{}, err
		}
		if current.Data.Balance.LessThan(priceUSD) {
			return model.Order{}, ErrInsufficientFunds
		}
	}

	order, err = service.createOrder(ctx, order)
	if err != nil {
		return model.Order{}, err
	}

	// Списание с баланса привязано к номеру заказа, поэтому после создания
	if req.Method == model.PaymentMethodBalance {
		if err := service.balance.Decrease(ctx, req.Buyer, order.ID, priceUSD); err != nil {
			service.abandon(ctx, order)
			if errors.Is(err, balance.ErrInsufficientFunds) {
				return model.Order{}, ErrInsufficientFunds
			}
			return model.Order{}, err
		}
	}

	service.record(ctx, model.Event{
		Kind:    model.EventOrderCreated,
		OrderID: int64Ptr(order.ID),
		BuyerID: int64Ptr(order.Data.Buyer),
		Details: fmt.Sprintf("%s via %s for %s", order.Data.Variant, order.Data.Method, order.Data.PriceUSDT.String()),
	})
	service.notify(ctx, notify.Operator, model.EventOrderCreated, payloadFor(order))
	service.zaplog.Info("order placed",
		zap.Int64("order", order.ID),
		zap.Int64("buyer", order.Data.Buyer),
		zap.String("variant", order.Data.Variant),
		zap.String("method", order.Data.Method))
	return order, nil
}

func (service *service) price(ctx context.Context, req PlaceOrderRequest) (decimal.Decimal, error) {
	if req.Variant == model.VariantTopUp {
		if req.Method == model.PaymentMethodBalance {
			return decimal.Zero, ErrUnknownMethod
		}
		if req.Amount.LessThan(service.cfg.MinTopUp) {
			return decimal.Zero, ErrTopUpTooSmall
		}
		return req.Amount, nil
	}

	product, err := service.store.ProductGet(ctx, req.Variant)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, ErrUnknownVariant
		}
		return decimal.Zero, err
	}
	buyer, err := service.store.BuyerGet(ctx, req.Buyer)
	if err != nil {
		return decimal.Zero, err
	}
	price := product.PriceUSD
	if buyer.Role == model.BuyerRoleReseller {
		price = price.Mul(decimal.NewFromInt(1).Sub(service.cfg.ResellerDiscount)).Round(usdtPlaces)
	}
	return price, nil
}

func (service *service) toUSDT(ctx context.Context, usd decimal.Decimal) decimal.Decimal {
	rate := service.rates.USDTRate(ctx)
	return usd.Div(rate).Round(usdtPlaces)
}

// createOrder: для USDT к сумме добавляется метка, не занятая другим заказом на этот адрес
func (service *service) createOrder(ctx context.Context, order model.Order) (model.Order, error) {
	if order.Data.Method != model.PaymentMethodUSDT {
		return service.store.OrderCreate(ctx, order)
	}
	base := order.Data.PriceUSDT
	for range tagAttempts {
		order.Data.PriceUSDT = base.Add(service.tag())
		created, err := service.store.OrderCreate(ctx, order)
		if !errors.Is(err, store.ErrAlreadyExists) {
			return created, err
		}
		service.zaplog.Debug("usdt amount busy", zap.String("amount", order.Data.PriceUSDT.String()))
	}
	return model.Order{}, ErrNoFreeAmount
}

func usdtTag() decimal.Decimal {
	return decimal.New(rand.Int64N(tagMaxMicros)+1, tagExp)
}

// abandon закрывает заказ, который не удалось оплатить с баланса
func (service *service) abandon(ctx context.Context, order model.Order) {
	err := service.store.OrderTransition(ctx, order.ID, []string{model.OrderStatusPending}, model.OrderStatusExpired, nil)
	if err != nil {
		service.zaplog.Warn("abandon order failed", zap.Int64("order", order.ID), zap.Error(err))
	}
}
