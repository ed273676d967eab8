package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/model"
)

// Recipient is either the buyer of an order or the operator channel.
type Recipient struct {
	Operator bool
	Buyer    int64
}

// Operator - канал оператора
var Operator = Recipient{Operator: true}

func Buyer(id int64) Recipient {
	return Recipient{Buyer: id}
}

func (r Recipient) String() string {
	if r.Operator {
		return "operator"
	}
	return fmt.Sprintf("buyer:%d", r.Buyer)
}

// KindReminder - напоминание покупателю перед истечением заказа
const KindReminder = "Reminder"

// Payload is the structured content of a notification.
type Payload struct {
	OrderID     int64
	BuyerID     int64
	Variant     string
	Method      string
	Destination string
	Amount      decimal.Decimal
	Key         string
	Details     string
}

// Notifier delivers events to buyers and the operator. The core decides
// what and to whom, the implementation decides how.
type Notifier interface {
	Notify(ctx context.Context, to Recipient, kind string, payload Payload) error
}

// ApproveAction is the callback the operator presses to approve a late payment.
func ApproveAction(orderID int64) string {
	return fmt.Sprintf("approve_key_%d", orderID)
}

// Render builds the human-readable text of a notification.
func Render(kind string, p Payload) string {
	var b strings.Builder
	switch kind {
	case model.EventOrderCreated:
		fmt.Fprintf(&b, "New order #%d: %s for %s %s via %s", p.OrderID, p.Variant, p.Amount.String(), currency(p.Method), p.Method)
	case model.EventOrderExpired:
		fmt.Fprintf(&b, "Order #%d (%s) expired unpaid", p.OrderID, p.Variant)
	case KindReminder:
		fmt.Fprintf(&b, "Order #%d expires in less than 5 minutes. Pay %s %s to %s", p.OrderID, p.Amount.String(), currency(p.Method), p.Destination)
	case model.EventPaymentReceived, model.EventLatePaymentApproved:
		if p.Key != "" {
			fmt.Fprintf(&b, "Payment received for order #%d. Your %s key:\n%s", p.OrderID, p.Variant, p.Key)
		} else {
			fmt.Fprintf(&b, "Order #%d (%s) confirmed for buyer %d", p.OrderID, p.Variant, p.BuyerID)
		}
	case model.EventLatePayment:
		fmt.Fprintf(&b, "Late payment detected for expired order #%d (%s, buyer %d). Approve to issue a key.", p.OrderID, p.Variant, p.BuyerID)
	case model.EventNoKeyAvailable:
		fmt.Fprintf(&b, "Order #%d is paid but no %s key is available", p.OrderID, p.Variant)
	case model.EventBalanceCredited:
		fmt.Fprintf(&b, "Balance topped up by %s USD (order #%d)", p.Amount.String(), p.OrderID)
	default:
		fmt.Fprintf(&b, "%s: order #%d", kind, p.OrderID)
	}
	if p.Details != "" {
		b.WriteString("\n")
		b.WriteString(p.Details)
	}
	return b.String()
}

func currency(method string) string {
	if method == model.PaymentMethodBalance {
		return "USD"
	}
	return "USDT"
}

type logNotifier struct {
	zaplog *zap.Logger
}

// NewLogNotifier only logs notifications. Used when no chat transport is configured.
func NewLogNotifier(zaplog *zap.Logger) Notifier {
	return &logNotifier{zaplog: zaplog.Named("notify")}
}

func (n *logNotifier) Notify(_ context.Context, to Recipient, kind string, payload Payload) error {
	n.zaplog.Info("notification",
		zap.String("to", to.String()),
		zap.String("kind", kind),
		zap.Int64("order", payload.OrderID))
	return nil
}
