package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	AnomalyOrphanedKey         = "orphaned_key"
	AnomalyConfirmedWithoutKey = "confirmed_without_key"
)

type Anomaly struct {
	Kind    string `json:"kind"`
	OrderID int64  `json:"order_id"`
	KeyID   int64  `json:"key_id,omitempty"`
	Details string `json:"details"`
}

func (service *service) Audit(ctx context.Context) ([]Anomaly, error) {
	var anomalies []Anomaly

	keys, err := service.store.KeyListOrphaned(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orphaned keys: %w", err)
	}
	for _, key := range keys {
		var orderID int64
		if key.Data.OrderID != nil {
			orderID = *key.Data.OrderID
		}
		anomalies = append(anomalies, Anomaly{
			Kind:    AnomalyOrphanedKey,
			OrderID: orderID,
			KeyID:   key.ID,
			Details: fmt.Sprintf("%s key used by an expired order", key.Data.Variant),
		})
	}

	orders, err := service.store.OrderListConfirmedWithoutKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("list confirmed orders without key: %w", err)
	}
	for _, order := range orders {
		anomalies = append(anomalies, Anomaly{
			Kind:    AnomalyConfirmedWithoutKey,
			OrderID: order.ID,
			Details: fmt.Sprintf("%s order confirmed without a key", order.Data.Variant),
		})
	}

	for _, a := range anomalies {
		service.metrics.IncAnomaly(a.Kind)
		service.zaplog.Error("invariant violation",
			zap.String("anomaly", a.Kind),
			zap.Int64("order", a.OrderID),
			zap.Int64("key", a.KeyID))
	}
	return anomalies, nil
}
