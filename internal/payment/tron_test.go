package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const trc20Response = `{
	"success": true,
	"data": [
		{"transaction_id": "t1", "from": "TXbuyer", "to": "TXdeposit", "type": "Transfer", "value": "49990000",
		 "block_timestamp": 1740830400000, "token_info": {"address": "TRusdt", "decimals": 6}},
		{"transaction_id": "t2", "from": "TXbuyer", "to": "TXdeposit", "type": "Transfer", "value": "99001234",
		 "block_timestamp": 1740830460000, "token_info": {"address": "TRusdt", "decimals": 6}},
		{"transaction_id": "t3", "from": "TXbuyer", "to": "TXdeposit", "type": "Approval", "value": "150000000",
		 "block_timestamp": 1740830460000, "token_info": {"address": "TRusdt", "decimals": 6}}
	]
}`

func TestTronProvider(t *testing.T) {
	since := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/accounts/TXdeposit/transactions/trc20", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("only_confirmed"))
		require.Equal(t, "true", r.URL.Query().Get("only_to"))
		require.Equal(t, "TRusdt", r.URL.Query().Get("contract_address"))
		require.Equal(t, "1740830400000", r.URL.Query().Get("min_timestamp"))
		require.Equal(t, "api-key", r.Header.Get("TRON-PRO-API-KEY"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(trc20Response))
	}))
	defer srv.Close()

	provider := NewTronProvider(srv.URL, "api-key", "TRusdt")
	query := Query{Method: "USDT", Destination: "TXdeposit", Since: since}

	tests := []struct {
		name   string
		amount string
		paid   bool
	}{
		{name: "exact tagged amount", amount: "99.001234", paid: true},
		{name: "untagged amount", amount: "99", paid: false},
		{name: "approval is not a transfer", amount: "150", paid: false},
		{name: "other transfer", amount: "49.99", paid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := query
			q.Amount = decimal.RequireFromString(tt.amount)
			paid, err := provider.IsPaid(context.Background(), q)
			require.NoError(t, err)
			require.Equal(t, tt.paid, paid)
		})
	}
}

func TestTronProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	provider := NewTronProvider(srv.URL, "", "TRusdt")
	_, err := provider.IsPaid(context.Background(), Query{Destination: "TXdeposit", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)

	// без адреса запрос не выполняется
	paid, err := provider.IsPaid(context.Background(), Query{Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.False(t, paid)
}
