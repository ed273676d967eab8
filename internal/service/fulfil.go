package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/inventory"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/notify"
	"github.com/iurnickita/keyvend/internal/store"
)

func (service *service) Fulfil(ctx context.Context, order model.Order, from []string, kind string) (model.Order, error) {
	now := service.clock.Now()

	// Сначала ключ (или зачисление), потом подтверждение.
	// Повторный вызов для того же заказа вернет тот же ключ.
	var key string
	if order.IsTopUp() {
		applied, err := service.balance.Increase(ctx, order.Data.Buyer, order.ID, order.Data.PriceUSD)
		if err != nil {
			return model.Order{}, fmt.Errorf("credit balance: %w", err)
		}
		if applied {
			service.record(ctx, model.Event{
				Kind:    model.EventBalanceCredited,
				OrderID: int64Ptr(order.ID),
				BuyerID: int64Ptr(order.Data.Buyer),
				Details: fmt.Sprintf("Credited %s USD", order.Data.PriceUSD.String()),
			})
		}
	} else {
		var err error
		key, err = service.inventory.Allocate(ctx, order.Data.Variant, order.ID)
		if err != nil {
			if errors.Is(err, inventory.ErrNotAvailable) {
				return model.Order{}, ErrNoKeyAvailable
			}
			return model.Order{}, fmt.Errorf("allocate key: %w", err)
		}
	}

	err := service.store.OrderTransition(ctx, order.ID, from, model.OrderStatusConfirmed, &now)
	if errors.Is(err, store.ErrConflict) {
		return service.resolveConflict(ctx, order)
	}
	if err != nil {
		// ключ остается за заказом, следующий проход подтвердит его без новой выдачи
		return model.Order{}, fmt.Errorf("confirm order: %w", err)
	}
	order.Data.Status = model.OrderStatusConfirmed
	order.Data.PaidAt = &now

	service.record(ctx, model.Event{
		Kind:    kind,
		OrderID: int64Ptr(order.ID),
		BuyerID: int64Ptr(order.Data.Buyer),
		Details: fmt.Sprintf("%s confirmed via %s", order.Data.Variant, order.Data.Method),
	})

	payload := payloadFor(order)
	if order.IsTopUp() {
		payload.Amount = order.Data.PriceUSD
		service.notify(ctx, notify.Buyer(order.Data.Buyer), model.EventBalanceCredited, payload)
	} else {
		buyerPayload := payload
		buyerPayload.Key = key
		service.notify(ctx, notify.Buyer(order.Data.Buyer), kind, buyerPayload)
	}
	service.notify(ctx, notify.Operator, kind, payload)

	service.zaplog.Info("order confirmed",
		zap.Int64("order", order.ID),
		zap.String("variant", order.Data.Variant),
		zap.String("kind", kind))
	return order, nil
}

// resolveConflict: подтверждение не прошло CAS. Ключ уже закреплен за заказом
// и повторно не выдается.
func (service *service) resolveConflict(ctx context.Context, order model.Order) (model.Order, error) {
	current, err := service.store.OrderGet(ctx, order.ID)
	if err != nil {
		return model.Order{}, fmt.Errorf("reread order: %w", err)
	}
	if current.Data.Status == model.OrderStatusConfirmed {
		return current, ErrAlreadyConfirmed
	}

	kind := model.EventOrphanedKey
	if order.IsTopUp() {
		kind = model.EventInvariantViolation
	}
	service.metrics.IncAnomaly(AnomalyOrphanedKey)
	service.zaplog.Error("allocated to unconfirmed order",
		zap.String("anomaly", AnomalyOrphanedKey),
		zap.Int64("order", order.ID),
		zap.String("status", current.Data.Status))
	service.record(ctx, model.Event{
		Kind:    kind,
		OrderID: int64Ptr(order.ID),
		BuyerID: int64Ptr(order.Data.Buyer),
		Details: fmt.Sprintf("Confirm conflict, order is %s", current.Data.Status),
	})
	payload := payloadFor(current)
	payload.Details = "Manual reconciliation required"
	service.notify(ctx, notify.Operator, kind, payload)
	return current, ErrOrphanedKey
}

func (service *service) Approve(ctx context.Context, id int64) (model.Order, error) {
	order, err := service.GetOrder(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	switch order.Data.Status {
	case model.OrderStatusConfirmed:
		return order, ErrAlreadyConfirmed
	case model.OrderStatusExpired:
	default:
		return order, ErrNotApprovable
	}

	confirmed, err := service.Fulfil(ctx, order, []string{model.OrderStatusExpired}, model.EventLatePaymentApproved)
	if err != nil {
		return confirmed, err
	}
	service.zaplog.Info("late payment approved", zap.Int64("order", id))
	return confirmed, nil
}
