package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/auth"
	authconfig "github.com/iurnickita/keyvend/internal/auth/config"
	"github.com/iurnickita/keyvend/internal/balance"
	"github.com/iurnickita/keyvend/internal/clock"
	"github.com/iurnickita/keyvend/internal/inventory"
	"github.com/iurnickita/keyvend/internal/metrics"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/notify"
	"github.com/iurnickita/keyvend/internal/service"
	svcconfig "github.com/iurnickita/keyvend/internal/service/config"
	"github.com/iurnickita/keyvend/internal/store"
	"github.com/iurnickita/keyvend/internal/store/memstore"
)

type parRate struct{}

func (parRate) USDTRate(context.Context) decimal.Decimal {
	return decimal.NewFromInt(1)
}

type testServer struct {
	router *http.ServeMux
	st     store.Store
	admin  string
	bot    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New(clk, 0, 0)
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	svc := service.NewService(svcconfig.Config{DepositAddress: "TXdeposit"}, service.Deps{
		Store:     st,
		Inventory: inventory.NewInventory(st, st, inventory.NewSealer("test-secret"), 0, m, zap.NewNop()),
		Balance:   balance.NewBalance(st),
		Rates:     parRate{},
		Notifier:  notify.NewLogNotifier(zap.NewNop()),
		Clock:     clk,
		Metrics:   m,
	}, zap.NewNop())

	a := auth.NewAuth(authconfig.Config{JWTSecret: "secret"})
	admin, err := a.IssueToken("ops", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	bot, err := a.IssueToken("bot", auth.RoleService, time.Hour)
	require.NoError(t, err)

	return &testServer{
		router: newHandler(a, svc, registry, zap.NewNop()).newRouter(),
		st:     st,
		admin:  admin,
		bot:    bot,
	}
}

func (s *testServer) do(t *testing.T, method string, target string, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func TestOrders(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/orders", s.bot, `{"buyer":1001,"variant":"Pro","method":"USDT"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var created OrderJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, int64(1), created.ID)
	require.Equal(t, model.OrderStatusPending, created.Status)
	require.Equal(t, "TXdeposit", created.Destination)
	require.True(t, created.PriceUSD.Equal(decimal.NewFromInt(99)))

	w = s.do(t, http.MethodGet, "/api/orders/1", s.bot, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got OrderJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, created.ID, got.ID)
	require.True(t, created.PriceUSDT.Equal(got.PriceUSDT))

	tests := []struct {
		name   string
		method string
		target string
		token  string
		body   string
		code   int
	}{
		{name: "no token", method: http.MethodPost, target: "/api/orders", body: `{}`, code: http.StatusUnauthorized},
		{name: "bad json", method: http.MethodPost, target: "/api/orders", token: s.bot, body: `{`, code: http.StatusBadRequest},
		{name: "missing buyer", method: http.MethodPost, target: "/api/orders", token: s.bot, body: `{"variant":"Pro","method":"USDT"}`, code: http.StatusBadRequest},
		{name: "unknown variant", method: http.MethodPost, target: "/api/orders", token: s.bot, body: `{"buyer":1,"variant":"Ultra","method":"USDT"}`, code: http.StatusUnprocessableEntity},
		{name: "no funds", method: http.MethodPost, target: "/api/orders", token: s.bot, body: `{"buyer":1,"variant":"Pro","method":"Balance"}`, code: http.StatusPaymentRequired},
		{name: "small top-up", method: http.MethodPost, target: "/api/orders", token: s.bot, body: `{"buyer":1,"variant":"TopUp","method":"USDT","amount":"10"}`, code: http.StatusBadRequest},
		{name: "unknown order", method: http.MethodGet, target: "/api/orders/77", token: s.bot, code: http.StatusNotFound},
		{name: "bad order id", method: http.MethodGet, target: "/api/orders/abc", token: s.bot, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.target, tt.token, tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestBalance(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.st.BalanceIncrease(context.Background(), 1001, 500, decimal.NewFromInt(120)))

	w := s.do(t, http.MethodGet, "/api/buyers/1001/balance", s.bot, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got GetBalanceJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, int64(1001), got.Buyer)
	require.True(t, got.Balance.Equal(decimal.NewFromInt(120)))

	w = s.do(t, http.MethodGet, "/api/buyers/0/balance", s.bot, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminKeys(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/admin/keys/Pro", s.bot, "PRO-0001")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/keys/Pro", s.admin, "PRO-0001\nPRO-0002\n\nPRO-0003\n")
	require.Equal(t, http.StatusCreated, w.Code)
	var keys KeysJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &keys))
	require.Equal(t, KeysJSONResponse{Variant: "Pro", Available: 3}, keys)

	w = s.do(t, http.MethodGet, "/api/admin/keys/Pro", s.admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"variant":"Pro","available":3}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/admin/keys/Ultra", s.admin, "X-1")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodPost, "/api/admin/keys/Pro", s.admin, "\n\n")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminApprove(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/orders", s.bot, `{"buyer":1001,"variant":"Basic","method":"USDT"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/orders/1/approve", s.bot, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodPost, "/api/admin/orders/1/approve", s.admin, "")
	require.Equal(t, http.StatusConflict, w.Code)
	w = s.do(t, http.MethodPost, "/api/admin/orders/9/approve", s.admin, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, s.st.OrderTransition(ctx, 1, []string{model.OrderStatusPending}, model.OrderStatusExpired, nil))
	w = s.do(t, http.MethodPost, "/api/admin/orders/1/approve", s.admin, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/keys/Basic", s.admin, "BAS-0001")
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodPost, "/api/admin/orders/1/approve", s.admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	var approved OrderJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &approved))
	require.Equal(t, model.OrderStatusConfirmed, approved.Status)
	require.NotNil(t, approved.PaidAt)

	w = s.do(t, http.MethodPost, "/api/admin/orders/1/approve", s.admin, "")
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminEventsAndAnomalies(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/admin/anomalies", s.admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[]`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/orders", s.bot, `{"buyer":1001,"variant":"Pro","method":"USDT"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.st.OrderTransition(ctx, 1, []string{model.OrderStatusPending}, model.OrderStatusConfirmed, &now))

	w = s.do(t, http.MethodGet, "/api/admin/anomalies", s.admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	var anomalies []service.Anomaly
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &anomalies))
	require.Len(t, anomalies, 1)
	require.Equal(t, service.AnomalyConfirmedWithoutKey, anomalies[0].Kind)

	w = s.do(t, http.MethodGet, "/api/admin/events?limit=10", s.admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	var events []EventJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	require.Equal(t, model.EventOrderCreated, events[0].Kind)
	require.Equal(t, int64(1), *events[0].OrderID)

	w = s.do(t, http.MethodGet, "/api/admin/events?limit=-1", s.admin, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `keyvend_anomalies_total{kind="confirmed_without_key"} 1`)
}

func TestAdminBuyers(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/api/admin/buyers/1001/role", s.bot, `{"role":"Reseller"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodPut, "/api/admin/buyers/1001/role", s.admin, `{"role":"Partner"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPut, "/api/admin/buyers/1001/role", s.admin, `{"role":"Reseller"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// цена со скидкой по роли из хранилища
	w = s.do(t, http.MethodPost, "/api/orders", s.bot, `{"buyer":1001,"variant":"Pro","method":"USDT"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created OrderJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.True(t, created.PriceUSD.Equal(decimal.RequireFromString("79.2")), created.PriceUSD.String())

	w = s.do(t, http.MethodGet, "/api/buyers/1001/balance/history", s.bot, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/buyers/1001/balance", s.admin, `{"amount":"-1"}`)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	w = s.do(t, http.MethodPost, "/api/admin/buyers/1001/balance", s.admin, `{"amount":"0"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/api/admin/buyers/1001/balance", s.admin, `{"amount":"75.5"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"buyer":1001,"balance":"75.5"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/buyers/1001/balance/history", s.bot, "")
	require.Equal(t, http.StatusOK, w.Code)
	var history []BalanceOperationJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	require.True(t, history[0].Difference.Equal(decimal.RequireFromString("75.5")))
	require.Zero(t, history[0].Order)

	w = s.do(t, http.MethodGet, "/api/admin/events", s.admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	var events []EventJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	kinds := make([]string, 0, len(events))
	for _, event := range events {
		kinds = append(kinds, event.Kind)
	}
	require.Equal(t, []string{model.EventBalanceAdjusted, model.EventOrderCreated, model.EventRoleAssigned}, kinds)
}

func TestProducts(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/products", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/products", s.bot, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[{"variant":"Basic","price_usd":"50"},{"variant":"Pro","price_usd":"99"},{"variant":"Premium","price_usd":"150"}]`, w.Body.String())
}
