package payment

import (
	"context"

	"github.com/iurnickita/keyvend/internal/balance"
)

type balanceProvider struct {
	balance balance.Balance
}

// NewBalanceProvider treats an order as paid once its price has been debited
// from the buyer's balance.
func NewBalanceProvider(balance balance.Balance) Provider {
	return &balanceProvider{balance: balance}
}

func (p *balanceProvider) IsPaid(ctx context.Context, q Query) (bool, error) {
	return p.balance.Paid(ctx, q.OrderID)
}
