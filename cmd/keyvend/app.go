package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/auth"
	"github.com/iurnickita/keyvend/internal/balance"
	"github.com/iurnickita/keyvend/internal/clock"
	"github.com/iurnickita/keyvend/internal/config"
	"github.com/iurnickita/keyvend/internal/inventory"
	"github.com/iurnickita/keyvend/internal/logger"
	"github.com/iurnickita/keyvend/internal/metrics"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/notify"
	"github.com/iurnickita/keyvend/internal/payment"
	"github.com/iurnickita/keyvend/internal/reconciler"
	"github.com/iurnickita/keyvend/internal/service"
	"github.com/iurnickita/keyvend/internal/store"
	"github.com/iurnickita/keyvend/internal/store/memstore"
)

var ErrNoSealSecret = errors.New("KEY_SEAL_SECRET is required")

// app - собранные компоненты процесса
type app struct {
	cfg        config.Config
	zaplog     *zap.Logger
	store      store.Store
	registry   *prometheus.Registry
	inventory  inventory.Inventory
	service    service.Service
	reconciler reconciler.Reconciler
	auth       auth.Auth
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return nil, err
	}

	clk := clock.NewSystem()

	var st store.Store
	if cfg.Store.DBDsn == "" {
		// без базы - только для локального запуска, состояние теряется при рестарте
		zaplog.Warn("DATABASE_URI is empty, using in-memory store")
		st = memstore.New(clk, cfg.Store.OrderTTL, cfg.Store.GraceWindow)
	} else {
		if cfg.Inventory.SealSecret == "" {
			return nil, ErrNoSealSecret
		}
		st, err = store.NewStore(ctx, cfg.Store, clk)
		if err != nil {
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var notifier notify.Notifier
	if cfg.Notify.TelegramToken != "" {
		notifier = notify.NewTelegram(cfg.Notify)
	} else {
		notifier = notify.NewLogNotifier(zaplog)
	}

	inv := inventory.NewInventory(st, st, inventory.NewSealer(cfg.Inventory.SealSecret), cfg.Inventory.LowWaterMark, m, zaplog)
	bal := balance.NewBalance(st)
	binancePay := payment.NewBinancePay(cfg.Payment.BinancePayURL, cfg.Payment.BinancePayAPIKey, cfg.Payment.BinancePaySecret)

	oracle := payment.NewOracle(map[string]payment.Provider{
		model.PaymentMethodUSDT:       payment.NewTronProvider(cfg.Payment.TronGridURL, cfg.Payment.TronGridAPIKey, cfg.Payment.USDTContract),
		model.PaymentMethodBinancePay: binancePay,
		model.PaymentMethodBalance:    payment.NewBalanceProvider(bal),
	}, cfg.Payment.OracleTimeout, m, zaplog)

	svc := service.NewService(cfg.Service, service.Deps{
		Store:     st,
		Inventory: inv,
		Balance:   bal,
		PayLinks:  binancePay,
		Rates:     payment.NewRateClient(cfg.Payment.RateURL, zaplog),
		Notifier:  notifier,
		Clock:     clk,
		Metrics:   m,
	}, zaplog)

	rec := reconciler.NewReconciler(cfg.Reconciler, reconciler.Deps{
		Orders:    st,
		Events:    st,
		Inventory: inv,
		Oracle:    oracle,
		Service:   svc,
		Notifier:  notifier,
		Clock:     clk,
		Metrics:   m,
	}, zaplog)

	return &app{
		cfg:        cfg,
		zaplog:     zaplog,
		store:      st,
		registry:   registry,
		inventory:  inv,
		service:    svc,
		reconciler: rec,
		auth:       auth.NewAuth(cfg.Auth),
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	_ = a.zaplog.Sync()
}
