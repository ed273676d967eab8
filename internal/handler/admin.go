package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/auth"
	"github.com/iurnickita/keyvend/internal/service"
)

func (h *handler) PostApprove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad order id", http.StatusBadRequest)
		return
	}

	order, err := h.service.Approve(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrNotApprovable),
			errors.Is(err, service.ErrAlreadyConfirmed),
			errors.Is(err, service.ErrOrphanedKey):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, service.ErrNoKeyAvailable):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.zaplog.Info("order approved",
		zap.Int64("order", id),
		zap.String("admin", r.Header.Get(auth.HeaderSubjectKey)))
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

type KeysJSONResponse struct {
	Variant   string `json:"variant"`
	Available int    `json:"available"`
}

// PostKeys: тело запроса - ключи, по одному в строке
func (h *handler) PostKeys(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	variant := r.PathValue("variant")

	available, err := h.service.AddKeys(r.Context(), variant, strings.Split(string(body), "\n"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrUnknownVariant):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, KeysJSONResponse{Variant: variant, Available: available})
}

func (h *handler) GetKeys(w http.ResponseWriter, r *http.Request) {
	variant := r.PathValue("variant")
	available, err := h.service.AvailableCount(r.Context(), variant)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, KeysJSONResponse{Variant: variant, Available: available})
}

type EventJSONResponse struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	OrderID   *int64    `json:"order_id,omitempty"`
	BuyerID   *int64    `json:"buyer_id,omitempty"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.service.Events(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	eventsJSON := make([]EventJSONResponse, 0, len(events))
	for _, event := range events {
		eventsJSON = append(eventsJSON, EventJSONResponse{
			ID:        event.ID,
			Kind:      event.Kind,
			OrderID:   event.OrderID,
			BuyerID:   event.BuyerID,
			Details:   event.Details,
			CreatedAt: event.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, eventsJSON)
}

func (h *handler) GetAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.service.Audit(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if anomalies == nil {
		anomalies = []service.Anomaly{}
	}
	h.writeJSON(w, http.StatusOK, anomalies)
}
