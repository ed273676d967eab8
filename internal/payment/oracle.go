package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/metrics"
	"github.com/iurnickita/keyvend/internal/model"
)

// DefaultOracleTimeout bounds one payment check.
const DefaultOracleTimeout = 5 * time.Second

// Query describes the payment expected for one order.
type Query struct {
	OrderID     int64
	Method      string
	Destination string
	PaymentRef  string
	Amount      decimal.Decimal
	Since       time.Time
}

func QueryFor(order model.Order) Query {
	return Query{
		OrderID:     order.ID,
		Method:      order.Data.Method,
		Destination: order.Data.Destination,
		PaymentRef:  order.Data.PaymentRef,
		Amount:      order.Data.PriceUSDT,
		Since:       order.Data.CreatedAt,
	}
}

// Provider checks one payment method. Errors are transient failures.
type Provider interface {
	IsPaid(ctx context.Context, q Query) (bool, error)
}

// Oracle answers whether an order's payment has been observed. It never
// fails: a timeout or provider error is reported as unpaid.
type Oracle interface {
	IsPaid(ctx context.Context, q Query) bool
}

var ErrUnknownMethod = errors.New("unknown payment method")

type oracle struct {
	providers map[string]Provider
	timeout   time.Duration
	metrics   *metrics.Metrics
	zaplog    *zap.Logger
}

func NewOracle(providers map[string]Provider, timeout time.Duration, m *metrics.Metrics, zaplog *zap.Logger) Oracle {
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &oracle{
		providers: providers,
		timeout:   timeout,
		metrics:   m,
		zaplog:    zaplog.Named("oracle"),
	}
}

func (o *oracle) IsPaid(ctx context.Context, q Query) bool {
	provider, ok := o.providers[q.Method]
	if !ok {
		o.zaplog.Warn("payment check skipped", zap.Int64("order", q.OrderID), zap.Error(ErrUnknownMethod),
			zap.String("method", q.Method))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	paid, err := provider.IsPaid(ctx, q)
	if err != nil {
		// повтор на следующем проходе
		o.metrics.IncOutcome(metrics.OutcomeOracleError)
		o.zaplog.Warn("payment check failed",
			zap.Int64("order", q.OrderID),
			zap.String("method", q.Method),
			zap.Error(err))
		return false
	}
	return paid
}
