package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/clock"
	"github.com/iurnickita/keyvend/internal/inventory"
	"github.com/iurnickita/keyvend/internal/metrics"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/notify"
	"github.com/iurnickita/keyvend/internal/payment"
	"github.com/iurnickita/keyvend/internal/reconciler/config"
	"github.com/iurnickita/keyvend/internal/service"
	"github.com/iurnickita/keyvend/internal/store"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultGraceWindow  = 6 * time.Hour
	DefaultReminderLead = 5 * time.Minute
)

// Reconciler drives orders through their lifecycle against payment state.
// A single active reconciler per database is assumed.
type Reconciler interface {
	// RunForever runs a pass immediately and then every interval until ctx is done.
	RunForever(ctx context.Context) error
	// RunOnce is one full independent pass over the non-terminal orders.
	RunOnce(ctx context.Context) error
}

type Deps struct {
	Orders    store.OrderStore
	Events    store.EventLog
	Inventory inventory.Inventory
	Oracle    payment.Oracle
	Service   service.Service
	Notifier  notify.Notifier
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

type reconciler struct {
	cfg       config.Config
	orders    store.OrderStore
	events    store.EventLog
	inventory inventory.Inventory
	oracle    payment.Oracle
	service   service.Service
	notifier  notify.Notifier
	clock     clock.Clock
	metrics   *metrics.Metrics
	zaplog    *zap.Logger

	passes int
}

func NewReconciler(cfg config.Config, deps Deps, zaplog *zap.Logger) Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = DefaultReminderLead
	}
	return &reconciler{
		cfg:       cfg,
		orders:    deps.Orders,
		events:    deps.Events,
		inventory: deps.Inventory,
		oracle:    deps.Oracle,
		service:   deps.Service,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		zaplog:    zaplog.Named("reconciler"),
	}
}

func (r *reconciler) RunForever(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			r.zaplog.Warn("reconcile pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *reconciler) RunOnce(ctx context.Context) error {
	start := time.Now()
	log := r.zaplog.With(zap.String("run_id", uuid.NewString()))
	defer func() {
		r.metrics.ObserveCycle(time.Since(start))
	}()

	now := r.clock.Now()
	orders, err := r.orders.OrderListNonTerminal(ctx, now.Add(-r.cfg.GraceWindow))
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}

	// Ошибка одного заказа не останавливает проход
	var passErr error
	for _, order := range orders {
		if err := r.processSafe(ctx, order, log); err != nil {
			r.metrics.IncOutcome(metrics.OutcomeError)
			log.Warn("order reconcile failed", zap.Int64("order", order.ID), zap.Error(err))
			passErr = errors.Join(passErr, fmt.Errorf("order %d: %w", order.ID, err))
		}
	}

	r.passes++
	if r.cfg.AuditEvery > 0 && r.passes%r.cfg.AuditEvery == 0 {
		r.audit(ctx, log)
	}

	log.Debug("reconcile pass done", zap.Int("orders", len(orders)), zap.Duration("duration", time.Since(start)))
	return passErr
}

func (r *reconciler) processSafe(ctx context.Context, order model.Order, log *zap.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	switch order.Data.Status {
	case model.OrderStatusPending:
		return r.processPending(ctx, order, log)
	case model.OrderStatusExpired:
		return r.processExpired(ctx, order, log)
	}
	return nil
}

func (r *reconciler) processPending(ctx context.Context, order model.Order, log *zap.Logger) error {
	// Ключ уже выдан, а подтверждение не записано (сбой между шагами):
	// оплата была проверена, подтверждаем без новой выдачи
	if !order.IsTopUp() {
		_, owned, err := r.inventory.Owned(ctx, order.ID)
		if err != nil {
			return err
		}
		if owned {
			log.Info("recovering order with allocated key", zap.Int64("order", order.ID))
			return r.confirm(ctx, order, metrics.OutcomeRecovered, log)
		}
	}

	now := r.clock.Now()

	// 1. истечение срока
	if !now.Before(order.Data.ExpiresAt) {
		return r.expire(ctx, order, log)
	}

	// 2. напоминание, однократно
	remaining := order.Data.ExpiresAt.Sub(now)
	if remaining <= r.cfg.ReminderLead && order.Data.Method != model.PaymentMethodBalance {
		claimed, err := r.orders.OrderClaimNotice(ctx, order.ID, model.NoticeReminder)
		if err != nil {
			return err
		}
		if claimed {
			r.metrics.IncOutcome(metrics.OutcomeReminded)
			r.notify(ctx, notify.Buyer(order.Data.Buyer), notify.KindReminder, order, "")
		}
	}

	// 3. проверка оплаты
	if !r.oracle.IsPaid(ctx, payment.QueryFor(order)) {
		return nil
	}
	return r.confirm(ctx, order, metrics.OutcomeConfirmed, log)
}

func (r *reconciler) expire(ctx context.Context, order model.Order, log *zap.Logger) error {
	err := r.orders.OrderTransition(ctx, order.ID, []string{model.OrderStatusPending}, model.OrderStatusExpired, nil)
	if errors.Is(err, store.ErrConflict) {
		// заказ уже перевел другой участник
		log.Debug("expire conflict", zap.Int64("order", order.ID))
		return nil
	}
	if err != nil {
		return err
	}

	r.metrics.IncOutcome(metrics.OutcomeExpired)
	log.Info("order expired", zap.Int64("order", order.ID))
	r.record(ctx, model.Event{
		Kind:    model.EventOrderExpired,
		OrderID: &order.ID,
		BuyerID: &order.Data.Buyer,
		Details: fmt.Sprintf("%s order expired unpaid", order.Data.Variant),
	})
	r.notify(ctx, notify.Operator, model.EventOrderExpired, order, "")
	return nil
}

func (r *reconciler) confirm(ctx context.Context, order model.Order, outcome string, log *zap.Logger) error {
	_, err := r.service.Fulfil(ctx, order, []string{model.OrderStatusPending}, model.EventPaymentReceived)
	switch {
	case err == nil:
		r.metrics.IncOutcome(outcome)
		return nil
	case errors.Is(err, service.ErrNoKeyAvailable):
		r.noKey(ctx, order, log)
		return nil
	case errors.Is(err, service.ErrAlreadyConfirmed), errors.Is(err, service.ErrOrphanedKey):
		// исход уже записан в журнал сервисом
		return nil
	}
	return err
}

// noKey: заказ остается Pending и повторяется каждый проход, оператор
// оповещается один раз
func (r *reconciler) noKey(ctx context.Context, order model.Order, log *zap.Logger) {
	r.metrics.IncOutcome(metrics.OutcomeNoKey)
	log.Warn("no key available for paid order",
		zap.Int64("order", order.ID),
		zap.String("variant", order.Data.Variant))

	claimed, err := r.orders.OrderClaimNotice(ctx, order.ID, model.NoticeNoKey)
	if err != nil {
		log.Warn("claim notice failed", zap.Int64("order", order.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	r.record(ctx, model.Event{
		Kind:    model.EventNoKeyAvailable,
		OrderID: &order.ID,
		BuyerID: &order.Data.Buyer,
		Details: fmt.Sprintf("No %s key for paid order", order.Data.Variant),
	})
	r.notify(ctx, notify.Operator, model.EventNoKeyAvailable, order, "")
}

func (r *reconciler) processExpired(ctx context.Context, order model.Order, log *zap.Logger) error {
	// 4-5. поздняя оплата проверяется только в пределах окна
	now := r.clock.Now()
	if !order.Data.ExpiresAt.After(now.Add(-r.cfg.GraceWindow)) {
		return nil
	}
	if !r.oracle.IsPaid(ctx, payment.QueryFor(order)) {
		return nil
	}

	// Автоподтверждения нет: только оператор через Approve
	claimed, err := r.orders.OrderClaimNotice(ctx, order.ID, model.NoticeLatePayment)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	r.metrics.IncOutcome(metrics.OutcomeLatePayment)
	log.Info("late payment detected", zap.Int64("order", order.ID))
	r.record(ctx, model.Event{
		Kind:    model.EventLatePayment,
		OrderID: &order.ID,
		BuyerID: &order.Data.Buyer,
		Details: fmt.Sprintf("Late payment for %s order, awaiting approval", order.Data.Variant),
	})
	r.notify(ctx, notify.Operator, model.EventLatePayment, order, "")
	return nil
}

func (r *reconciler) audit(ctx context.Context, log *zap.Logger) {
	anomalies, err := r.service.Audit(ctx)
	if err != nil {
		log.Warn("audit failed", zap.Error(err))
		return
	}
	if len(anomalies) == 0 {
		return
	}
	r.notify(ctx, notify.Operator, model.EventInvariantViolation, model.Order{},
		fmt.Sprintf("%d anomalies require manual reconciliation", len(anomalies)))
}

func (r *reconciler) record(ctx context.Context, event model.Event) {
	if err := r.events.EventRecord(ctx, event); err != nil {
		r.zaplog.Error("record event failed", zap.String("kind", event.Kind), zap.Error(err))
	}
}

func (r *reconciler) notify(ctx context.Context, to notify.Recipient, kind string, order model.Order, details string) {
	payload := notify.Payload{
		OrderID:     order.ID,
		BuyerID:     order.Data.Buyer,
		Variant:     order.Data.Variant,
		Method:      order.Data.Method,
		Destination: order.Data.Destination,
		Amount:      order.Data.PriceUSDT,
		Details:     details,
	}
	if err := r.notifier.Notify(ctx, to, kind, payload); err != nil {
		r.zaplog.Warn("notify failed", zap.String("to", to.String()), zap.String("kind", kind), zap.Error(err))
	}
}
