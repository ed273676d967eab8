package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	binancePayStatusSuccess = "SUCCESS"
	binancePayOrderPaid     = "PAID"
)

// PayLinks creates third-party checkout links.
type PayLinks interface {
	CreateLink(ctx context.Context, ref string, amount decimal.Decimal, description string) (string, error)
}

// JSON запросы и ответы Binance Pay
type binancePayAnswer struct {
	Status       string          `json:"status"`
	Code         string          `json:"code"`
	Data         json.RawMessage `json:"data"`
	ErrorMessage string          `json:"errorMessage"`
}
type binancePayCreateRequest struct {
	Env struct {
		TerminalType string `json:"terminalType"`
	} `json:"env"`
	MerchantTradeNo string            `json:"merchantTradeNo"`
	OrderAmount     string            `json:"orderAmount"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description"`
	GoodsDetails    []binancePayGoods `json:"goodsDetails"`
}
type binancePayGoods struct {
	GoodsType        string `json:"goodsType"`
	GoodsCategory    string `json:"goodsCategory"`
	ReferenceGoodsID string `json:"referenceGoodsId"`
	GoodsName        string `json:"goodsName"`
}
type binancePayCreateData struct {
	PrepayID    string `json:"prepayId"`
	CheckoutURL string `json:"checkoutUrl"`
}
type binancePayQueryRequest struct {
	MerchantTradeNo string `json:"merchantTradeNo"`
}
type binancePayQueryData struct {
	MerchantTradeNo string `json:"merchantTradeNo"`
	Status          string `json:"status"`
}

// BinancePay is both the pay-link provider and its payment checker.
type BinancePay interface {
	Provider
	PayLinks
}

type binancePay struct {
	client *resty.Client
	apiKey string
	secret string
	now    func() time.Time
}

func NewBinancePay(serviceAddr string, apiKey string, secret string) BinancePay {
	return &binancePay{
		client: resty.New().SetBaseURL(serviceAddr),
		apiKey: apiKey,
		secret: secret,
		now:    time.Now,
	}
}

// NewTradeNo returns a merchant trade number accepted by Binance Pay.
func NewTradeNo() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (p *binancePay) CreateLink(ctx context.Context, ref string, amount decimal.Decimal, description string) (string, error) {
	req := binancePayCreateRequest{
		MerchantTradeNo: ref,
		OrderAmount:     amount.StringFixed(2),
		Currency:        "USDT",
		Description:     description,
	}
	req.Env.TerminalType = "WEB"
	req.GoodsDetails = []binancePayGoods{{
		GoodsType:        "02",
		GoodsCategory:    "Z000",
		ReferenceGoodsID: ref,
		GoodsName:        description,
	}}

	var data binancePayCreateData
	if err := p.call(ctx, "/binancepay/openapi/v3/order", req, &data); err != nil {
		return "", err
	}
	if data.CheckoutURL == "" {
		return "", fmt.Errorf("binance pay: empty checkout url")
	}
	return data.CheckoutURL, nil
}

func (p *binancePay) IsPaid(ctx context.Context, q Query) (bool, error) {
	if q.PaymentRef == "" {
		return false, nil
	}
	var data binancePayQueryData
	err := p.call(ctx, "/binancepay/openapi/v2/order/query", binancePayQueryRequest{MerchantTradeNo: q.PaymentRef}, &data)
	if err != nil {
		return false, err
	}
	return data.Status == binancePayOrderPaid, nil
}

func (p *binancePay) call(ctx context.Context, path string, body any, data any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(p.now().UnixMilli(), 10)
	nonce := NewTradeNo()

	var answer binancePayAnswer
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("BinancePay-Timestamp", timestamp).
		SetHeader("BinancePay-Nonce", nonce).
		SetHeader("BinancePay-Certificate-SN", p.apiKey).
		SetHeader("BinancePay-Signature", p.sign(timestamp, nonce, payload)).
		SetBody(payload).
		SetResult(&answer).
		SetError(&answer).
		Post(path)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK || answer.Status != binancePayStatusSuccess {
		return fmt.Errorf("binance pay request status: %d %s %s", resp.StatusCode(), answer.Code, answer.ErrorMessage)
	}
	return json.Unmarshal(answer.Data, data)
}

// sign: HMAC-SHA512 от "timestamp\nnonce\nbody\n", hex в верхнем регистре
func (p *binancePay) sign(timestamp string, nonce string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(p.secret))
	mac.Write([]byte(timestamp + "\n" + nonce + "\n"))
	mac.Write(payload)
	mac.Write([]byte("\n"))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
