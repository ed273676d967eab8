package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/service"
)

type OrderJSONResponse struct {
	ID          int64           `json:"id"`
	Buyer       int64           `json:"buyer"`
	Variant     string          `json:"variant"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	PriceUSDT   decimal.Decimal `json:"price_usdt"`
	Method      string          `json:"method"`
	Destination string          `json:"destination,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

func orderJSON(order model.Order) OrderJSONResponse {
	return OrderJSONResponse{
		ID:          order.ID,
		Buyer:       order.Data.Buyer,
		Variant:     order.Data.Variant,
		PriceUSD:    order.Data.PriceUSD,
		PriceUSDT:   order.Data.PriceUSDT,
		Method:      order.Data.Method,
		Destination: order.Data.Destination,
		Status:      order.Data.Status,
		CreatedAt:   order.Data.CreatedAt,
		ExpiresAt:   order.Data.ExpiresAt,
		PaidAt:      order.Data.PaidAt,
	}
}

type PostOrderJSONRequest struct {
	Buyer   int64           `json:"buyer"`
	Variant string          `json:"variant"`
	Method  string          `json:"method"`
	Amount  decimal.Decimal `json:"amount"`
}

func (h *handler) PostOrder(w http.ResponseWriter, r *http.Request) {
	var req PostOrderJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), service.PlaceOrderRequest{
		Buyer:   req.Buyer,
		Variant: req.Variant,
		Method:  req.Method,
		Amount:  req.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData),
			errors.Is(err, service.ErrUnknownMethod),
			errors.Is(err, service.ErrTopUpTooSmall):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrUnknownVariant):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, service.ErrInsufficientFunds):
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		case errors.Is(err, service.ErrNoFreeAmount):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, orderJSON(order))
}

func (h *handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad order id", http.StatusBadRequest)
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

type GetBalanceJSONResponse struct {
	Buyer   int64           `json:"buyer"`
	Balance decimal.Decimal `json:"balance"`
}

func (h *handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	buyer, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad buyer id", http.StatusBadRequest)
		return
	}
	balance, err := h.service.GetBalance(r.Context(), buyer)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientData) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, GetBalanceJSONResponse{Buyer: buyer, Balance: balance.Data.Balance})
}
