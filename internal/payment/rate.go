package payment

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateSource returns the USD price of one USDT.
type RateSource interface {
	USDTRate(ctx context.Context) decimal.Decimal
}

// JSON ответ CoinGecko simple/price
type rateAnswer struct {
	Tether struct {
		USD decimal.Decimal `json:"usd"`
	} `json:"tether"`
}

type rateClient struct {
	client *resty.Client
	url    string
	zaplog *zap.Logger
}

func NewRateClient(url string, zaplog *zap.Logger) RateSource {
	return &rateClient{
		client: resty.New(),
		url:    url,
		zaplog: zaplog.Named("rate"),
	}
}

// USDTRate falls back to 1.0 when the rate service is unavailable.
func (c *rateClient) USDTRate(ctx context.Context) decimal.Decimal {
	fallback := decimal.NewFromInt(1)

	var answer rateAnswer
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"ids": "tether", "vs_currencies": "usd"}).
		SetResult(&answer).
		Get(c.url)
	if err != nil {
		c.zaplog.Warn("rate request failed", zap.Error(err))
		return fallback
	}
	if resp.StatusCode() != http.StatusOK || !answer.Tether.USD.IsPositive() {
		c.zaplog.Warn("rate request status", zap.Int("code", resp.StatusCode()))
		return fallback
	}
	return answer.Tether.USD
}
