package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/balance"
	"github.com/iurnickita/keyvend/internal/clock"
	"github.com/iurnickita/keyvend/internal/metrics"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/store/memstore"
)

type providerFunc func(ctx context.Context, q Query) (bool, error)

func (f providerFunc) IsPaid(ctx context.Context, q Query) (bool, error) {
	return f(ctx, q)
}

func TestOracle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	oracle := NewOracle(map[string]Provider{
		"paid": providerFunc(func(context.Context, Query) (bool, error) { return true, nil }),
		"down": providerFunc(func(context.Context, Query) (bool, error) { return false, errors.New("connection refused") }),
		"slow": providerFunc(func(ctx context.Context, _ Query) (bool, error) {
			<-ctx.Done()
			return true, ctx.Err()
		}),
	}, 50*time.Millisecond, m, zap.NewNop())

	ctx := context.Background()
	require.True(t, oracle.IsPaid(ctx, Query{Method: "paid"}))
	require.False(t, oracle.IsPaid(ctx, Query{Method: "unknown"}))

	// ошибка и таймаут - "не оплачено", без паники и ошибки
	require.False(t, oracle.IsPaid(ctx, Query{Method: "down"}))

	start := time.Now()
	require.False(t, oracle.IsPaid(ctx, Query{Method: "slow"}))
	require.Less(t, time.Since(start), 2*time.Second)

	families, err := registry.Gather()
	require.NoError(t, err)
	var errorsSeen float64
	for _, family := range families {
		if family.GetName() != "keyvend_reconciler_order_outcomes_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetValue() == metrics.OutcomeOracleError {
					errorsSeen = metric.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, float64(2), errorsSeen)
}

func TestQueryFor(t *testing.T) {
	var order model.Order
	order.ID = 5
	order.Data.Method = model.PaymentMethodUSDT
	order.Data.Destination = "TXdeposit"
	order.Data.PriceUSD = decimal.NewFromInt(99)
	order.Data.PriceUSDT = decimal.RequireFromString("99.12")
	order.Data.CreatedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	q := QueryFor(order)
	require.Equal(t, int64(5), q.OrderID)
	require.Equal(t, "TXdeposit", q.Destination)
	require.True(t, q.Amount.Equal(decimal.RequireFromString("99.12")))
	require.Equal(t, order.Data.CreatedAt, q.Since)
}

func TestBalanceProvider(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)), 0, 0)
	bal := balance.NewBalance(st)
	provider := NewBalanceProvider(bal)

	_, err := bal.Increase(ctx, 7, 1, decimal.NewFromInt(100))
	require.NoError(t, err)

	paid, err := provider.IsPaid(ctx, Query{OrderID: 2})
	require.NoError(t, err)
	require.False(t, paid)

	require.NoError(t, bal.Decrease(ctx, 7, 2, decimal.NewFromInt(50)))
	paid, err = provider.IsPaid(ctx, Query{OrderID: 2})
	require.NoError(t, err)
	require.True(t, paid)
}

func TestRateClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tether", r.URL.Query().Get("ids"))
		require.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tether":{"usd":0.9995}}`))
	}))
	defer srv.Close()

	rate := NewRateClient(srv.URL, zap.NewNop()).USDTRate(context.Background())
	require.True(t, rate.Equal(decimal.RequireFromString("0.9995")), rate.String())

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	rate = NewRateClient(down.URL, zap.NewNop()).USDTRate(context.Background())
	require.True(t, rate.Equal(decimal.NewFromInt(1)))
}
