package payment

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// JSON ответ TronGrid по TRC-20 переводам
type trc20Answer struct {
	Success bool            `json:"success"`
	Data    []trc20Transfer `json:"data"`
}
type trc20Transfer struct {
	TransactionID  string `json:"transaction_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Type           string `json:"type"`
	Value          string `json:"value"`
	BlockTimestamp int64  `json:"block_timestamp"`
	TokenInfo      struct {
		Address  string `json:"address"`
		Decimals int32  `json:"decimals"`
	} `json:"token_info"`
}

type tronProvider struct {
	client   *resty.Client
	contract string
}

// NewTronProvider checks confirmed USDT (TRC-20) transfers to the order's
// deposit address through the TronGrid API.
func NewTronProvider(serviceAddr string, apiKey string, contract string) Provider {
	client := resty.New().SetBaseURL(serviceAddr)
	if apiKey != "" {
		client.SetHeader("TRON-PRO-API-KEY", apiKey)
	}
	return &tronProvider{client: client, contract: contract}
}

func (p *tronProvider) IsPaid(ctx context.Context, q Query) (bool, error) {
	if q.Destination == "" {
		return false, nil
	}

	var answer trc20Answer
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("address", q.Destination).
		SetQueryParams(map[string]string{
			"only_to":          "true",
			"only_confirmed":   "true",
			"contract_address": p.contract,
			"min_timestamp":    strconv.FormatInt(q.Since.UnixMilli(), 10),
			"limit":            "200",
		}).
		SetResult(&answer).
		Get("/v1/accounts/{address}/transactions/trc20")
	if err != nil {
		return false, err
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("trongrid request status: %d", resp.StatusCode())
	}
	if !answer.Success {
		return false, fmt.Errorf("trongrid answer not successful")
	}

	for _, t := range answer.Data {
		if t.Type != "Transfer" || t.To != q.Destination {
			continue
		}
		if p.contract != "" && t.TokenInfo.Address != p.contract {
			continue
		}
		value, err := decimal.NewFromString(t.Value)
		if err != nil {
			continue
		}
		// Сумма заказа уникальна, сравниваем точно
		if value.Shift(-t.TokenInfo.Decimals).Equal(q.Amount) {
			return true, nil
		}
	}
	return false, nil
}
