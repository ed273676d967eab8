package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/notify/config"
)

func TestRender(t *testing.T) {
	payload := Payload{
		OrderID:     17,
		BuyerID:     1001,
		Variant:     "Pro",
		Method:      model.PaymentMethodUSDT,
		Destination: "TXdeposit",
		Amount:      decimal.RequireFromString("99.004217"),
	}

	tests := []struct {
		name     string
		kind     string
		payload  func(p Payload) Payload
		contains []string
	}{
		{
			name:     "order created",
			kind:     model.EventOrderCreated,
			contains: []string{"#17", "Pro", "99.004217 USDT", "via USDT"},
		},
		{
			name:     "reminder",
			kind:     KindReminder,
			contains: []string{"#17", "99.004217 USDT", "TXdeposit"},
		},
		{
			name: "key delivery",
			kind: model.EventPaymentReceived,
			payload: func(p Payload) Payload {
				p.Key = "AAAA-BBBB-CCCC"
				return p
			},
			contains: []string{"#17", "AAAA-BBBB-CCCC"},
		},
		{
			name:     "operator confirmation",
			kind:     model.EventLatePaymentApproved,
			contains: []string{"#17", "confirmed", "1001"},
		},
		{
			name:     "late payment",
			kind:     model.EventLatePayment,
			contains: []string{"expired order #17", "Approve"},
		},
		{
			name: "balance in usd",
			kind: model.EventOrderCreated,
			payload: func(p Payload) Payload {
				p.Method = model.PaymentMethodBalance
				p.Amount = decimal.NewFromInt(99)
				return p
			},
			contains: []string{"99 USD", "via Balance"},
		},
		{
			name: "details appended",
			kind: model.EventOrphanedKey,
			payload: func(p Payload) Payload {
				p.Details = "key 3 allocated, order confirmed elsewhere"
				return p
			},
			contains: []string{"OrphanedKey: order #17", "\nkey 3 allocated"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := payload
			if tt.payload != nil {
				p = tt.payload(p)
			}
			text := Render(tt.kind, p)
			for _, want := range tt.contains {
				require.Contains(t, text, want)
			}
		})
	}
}

func TestRecipient(t *testing.T) {
	require.Equal(t, "operator", Operator.String())
	require.Equal(t, "buyer:42", Buyer(42).String())
	require.Equal(t, "approve_key_17", ApproveAction(17))
}

func TestLogNotifier(t *testing.T) {
	err := NewLogNotifier(zap.NewNop()).Notify(context.Background(), Operator, model.EventLatePayment, Payload{OrderID: 1})
	require.NoError(t, err)
}

func TestTelegram(t *testing.T) {
	var messages []telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		var msg telegramMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		messages = append(messages, msg)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegram(config.Config{TelegramToken: "token", TelegramAPIURL: srv.URL, OperatorChatID: 555})
	ctx := context.Background()
	payload := Payload{OrderID: 9, BuyerID: 1001, Variant: "Basic"}

	require.NoError(t, n.Notify(ctx, Buyer(1001), model.EventOrderExpired, payload))
	require.NoError(t, n.Notify(ctx, Operator, model.EventLatePayment, payload))
	require.NoError(t, n.Notify(ctx, Operator, model.EventNoKeyAvailable, payload))

	require.Len(t, messages, 3)

	require.Equal(t, int64(1001), messages[0].ChatID)
	require.Nil(t, messages[0].ReplyMarkup)

	require.Equal(t, int64(555), messages[1].ChatID)
	require.NotNil(t, messages[1].ReplyMarkup)
	require.Equal(t, "approve_key_9", messages[1].ReplyMarkup.InlineKeyboard[0][0].CallbackData)

	require.Equal(t, int64(555), messages[2].ChatID)
	require.Nil(t, messages[2].ReplyMarkup)
}

func TestTelegramFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	n := NewTelegram(config.Config{TelegramToken: "token", TelegramAPIURL: srv.URL})
	err := n.Notify(context.Background(), Buyer(1), model.EventOrderExpired, Payload{OrderID: 1})
	require.ErrorContains(t, err, "bot was blocked")
}
