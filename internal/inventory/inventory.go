package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/metrics"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/store"
)

// DefaultLowWaterMark - порог остатка ключей для оповещения
const DefaultLowWaterMark = 2

type Inventory interface {
	// AddKeys stores one Available key per non-empty line and returns the
	// available count after insertion.
	AddKeys(ctx context.Context, variant string, keys []string) (int, error)
	// Allocate hands out the key owned by orderID, or a fresh one.
	// ErrNotAvailable is an expected outcome, not a failure.
	Allocate(ctx context.Context, variant string, orderID int64) (string, error)
	// Owned reports the key already allocated to orderID, if any.
	Owned(ctx context.Context, orderID int64) (string, bool, error)
	AvailableCount(ctx context.Context, variant string) (int, error)
}

var (
	ErrNotAvailable = errors.New("no key available")
	ErrNoKeys       = errors.New("no keys given")
)

type inventory struct {
	keys     store.KeyStore
	events   store.EventLog
	sealer   Sealer
	lowWater int
	metrics  *metrics.Metrics
	zaplog   *zap.Logger
}

func NewInventory(keys store.KeyStore, events store.EventLog, sealer Sealer, lowWater int, m *metrics.Metrics, zaplog *zap.Logger) Inventory {
	if lowWater <= 0 {
		lowWater = DefaultLowWaterMark
	}
	return &inventory{
		keys:     keys,
		events:   events,
		sealer:   sealer,
		lowWater: lowWater,
		metrics:  m,
		zaplog:   zaplog.Named("inventory"),
	}
}

func (inv *inventory) AddKeys(ctx context.Context, variant string, keys []string) (int, error) {
	var payloads [][]byte
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		sealed, err := inv.sealer.Seal([]byte(key))
		if err != nil {
			return 0, fmt.Errorf("seal key: %w", err)
		}
		payloads = append(payloads, sealed)
	}
	if len(payloads) == 0 {
		return 0, ErrNoKeys
	}

	if err := inv.keys.KeyAdd(ctx, variant, payloads); err != nil {
		return 0, err
	}
	inv.record(ctx, model.Event{
		Kind:    model.EventKeysAdded,
		Details: fmt.Sprintf("Added %d %s keys", len(payloads), variant),
	})

	count, err := inv.checkLevel(ctx, variant)
	if err != nil {
		return 0, err
	}
	inv.zaplog.Info("keys added",
		zap.String("variant", variant),
		zap.Int("added", len(payloads)),
		zap.Int("available", count))
	return count, nil
}

func (inv *inventory) Allocate(ctx context.Context, variant string, orderID int64) (string, error) {
	key, err := inv.keys.KeyAllocate(ctx, variant, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotAvailable) {
			return "", ErrNotAvailable
		}
		return "", err
	}

	// Остаток после выдачи - только для оповещения, ошибка не мешает выдаче
	if _, err := inv.checkLevel(ctx, variant); err != nil {
		inv.zaplog.Warn("count keys failed", zap.String("variant", variant), zap.Error(err))
	}
	return inv.open(key)
}

func (inv *inventory) Owned(ctx context.Context, orderID int64) (string, bool, error) {
	key, err := inv.keys.KeyGetByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	payload, err := inv.open(key)
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

func (inv *inventory) AvailableCount(ctx context.Context, variant string) (int, error) {
	return inv.keys.KeyAvailableCount(ctx, variant)
}

func (inv *inventory) open(key model.KeyRecord) (string, error) {
	plain, err := inv.sealer.Open(key.Data.Payload)
	if err != nil {
		return "", fmt.Errorf("open key %d: %w", key.ID, err)
	}
	return string(plain), nil
}

func (inv *inventory) checkLevel(ctx context.Context, variant string) (int, error) {
	count, err := inv.keys.KeyAvailableCount(ctx, variant)
	if err != nil {
		return 0, err
	}
	inv.metrics.SetKeysAvailable(variant, count)
	if count <= inv.lowWater {
		inv.zaplog.Warn("low inventory", zap.String("variant", variant), zap.Int("available", count))
		inv.record(ctx, model.Event{
			Kind:    model.EventLowInventory,
			Details: fmt.Sprintf("Only %d %s keys left", count, variant),
		})
	}
	return count, nil
}

func (inv *inventory) record(ctx context.Context, event model.Event) {
	if err := inv.events.EventRecord(ctx, event); err != nil {
		inv.zaplog.Error("record event failed", zap.String("kind", event.Kind), zap.Error(err))
	}
}
