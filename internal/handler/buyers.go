package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/auth"
	"github.com/iurnickita/keyvend/internal/service"
)

type BalanceOperationJSONResponse struct {
	Operation  int64           `json:"operation"`
	Timestamp  time.Time       `json:"timestamp"`
	Difference decimal.Decimal `json:"difference"`
	Balance    decimal.Decimal `json:"balance"`
	Order      int64           `json:"order,omitempty"`
}

func (h *handler) GetBalanceHistory(w http.ResponseWriter, r *http.Request) {
	buyer, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad buyer id", http.StatusBadRequest)
		return
	}
	history, err := h.service.BalanceHistory(r.Context(), buyer)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientData) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(history) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	response := make([]BalanceOperationJSONResponse, 0, len(history))
	for _, b := range history {
		response = append(response, BalanceOperationJSONResponse{
			Operation:  b.Key.Operation,
			Timestamp:  b.Data.Timestamp,
			Difference: b.Data.Difference,
			Balance:    b.Data.Balance,
			Order:      b.Data.Order,
		})
	}
	h.writeJSON(w, http.StatusOK, response)
}

type ProductJSONResponse struct {
	Variant  string          `json:"variant"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

func (h *handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.Products(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]ProductJSONResponse, 0, len(products))
	for _, p := range products {
		response = append(response, ProductJSONResponse{Variant: p.Variant, PriceUSD: p.PriceUSD})
	}
	h.writeJSON(w, http.StatusOK, response)
}

type PutRoleJSONRequest struct {
	Role string `json:"role"`
}

func (h *handler) PutRole(w http.ResponseWriter, r *http.Request) {
	buyer, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad buyer id", http.StatusBadRequest)
		return
	}
	var req PutRoleJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.service.AssignRole(r.Context(), buyer, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData),
			errors.Is(err, service.ErrUnknownRole):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.zaplog.Info("role assigned",
		zap.Int64("buyer", buyer),
		zap.String("role", req.Role),
		zap.String("admin", r.Header.Get(auth.HeaderSubjectKey)))
	w.WriteHeader(http.StatusOK)
}

// PostBalanceAdjustJSONRequest: amount со знаком, отрицательная сумма списывает
type PostBalanceAdjustJSONRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *handler) PostBalanceAdjust(w http.ResponseWriter, r *http.Request) {
	buyer, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad buyer id", http.StatusBadRequest)
		return
	}
	var req PostBalanceAdjustJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	balance, err := h.service.AdjustBalance(r.Context(), buyer, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData),
			errors.Is(err, service.ErrAmountIncorrect):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrInsufficientFunds):
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.zaplog.Info("balance adjusted",
		zap.Int64("buyer", buyer),
		zap.String("amount", req.Amount.String()),
		zap.String("admin", r.Header.Get(auth.HeaderSubjectKey)))
	h.writeJSON(w, http.StatusOK, GetBalanceJSONResponse{Buyer: buyer, Balance: balance.Data.Balance})
}
