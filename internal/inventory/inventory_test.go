package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/keyvend/internal/clock"
	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/store"
	"github.com/iurnickita/keyvend/internal/store/memstore"
)

func newTestInventory(t *testing.T) (Inventory, store.Store) {
	t.Helper()
	st := memstore.New(clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)), 0, 0)
	return NewInventory(st, st, NewSealer("test-secret"), 0, nil, zap.NewNop()), st
}

func countEvents(t *testing.T, st store.Store, kind string) int {
	t.Helper()
	events, err := st.EventList(context.Background(), 1000)
	require.NoError(t, err)
	var n int
	for _, event := range events {
		if event.Kind == kind {
			n++
		}
	}
	return n
}

func TestAddKeys(t *testing.T) {
	ctx := context.Background()
	inv, st := newTestInventory(t)

	count, err := inv.AddKeys(ctx, "Pro", []string{"AAA-111", "", "  BBB-222  ", "CCC-333", "DDD-444"})
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.Equal(t, 1, countEvents(t, st, model.EventKeysAdded))
	require.Zero(t, countEvents(t, st, model.EventLowInventory))

	_, err = inv.AddKeys(ctx, "Pro", []string{"", "   "})
	require.ErrorIs(t, err, ErrNoKeys)

	// при низком остатке после пополнения - оповещение
	count, err = inv.AddKeys(ctx, "Basic", []string{"EEE-555"})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 1, countEvents(t, st, model.EventLowInventory))
}

func TestAllocate(t *testing.T) {
	ctx := context.Background()
	inv, st := newTestInventory(t)

	_, err := inv.AddKeys(ctx, "Pro", []string{"AAA-111", "BBB-222", "CCC-333", "DDD-444"})
	require.NoError(t, err)

	key, err := inv.Allocate(ctx, "Pro", 1)
	require.NoError(t, err)
	require.Equal(t, "AAA-111", key)
	require.Zero(t, countEvents(t, st, model.EventLowInventory))

	// повтор для того же заказа - тот же ключ
	again, err := inv.Allocate(ctx, "Pro", 1)
	require.NoError(t, err)
	require.Equal(t, key, again)

	owned, ok, err := inv.Owned(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, key, owned)

	_, ok, err = inv.Owned(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	// остаток 2 - низкий уровень
	_, err = inv.Allocate(ctx, "Pro", 2)
	require.NoError(t, err)
	require.Equal(t, 1, countEvents(t, st, model.EventLowInventory))

	count, err := inv.AvailableCount(ctx, "Pro")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// payload в хранилище зашифрован
	record, err := st.KeyGetByOrder(ctx, 1)
	require.NoError(t, err)
	require.NotContains(t, string(record.Data.Payload), "AAA-111")

	_, err = inv.Allocate(ctx, "Premium", 3)
	require.ErrorIs(t, err, ErrNotAvailable)
}

func TestAllocateConcurrent(t *testing.T) {
	ctx := context.Background()
	inv, _ := newTestInventory(t)

	_, err := inv.AddKeys(ctx, "Pro", []string{"k1", "k2", "k3", "k4", "k5"})
	require.NoError(t, err)

	const callers = 25
	keys := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys[i], errs[i] = inv.Allocate(ctx, "Pro", int64(i+1))
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	var notAvailable int
	for i, err := range errs {
		if err == ErrNotAvailable {
			notAvailable++
			continue
		}
		require.NoError(t, err)
		require.False(t, seen[keys[i]])
		seen[keys[i]] = true
	}
	require.Len(t, seen, 5)
	require.Equal(t, callers-5, notAvailable)
}

func TestSealer(t *testing.T) {
	sealer := NewSealer("secret")

	sealed, err := sealer.Seal([]byte("AAA-111"))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "AAA-111")

	plain, err := sealer.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "AAA-111", string(plain))

	// одинаковые ключи шифруются по-разному
	sealedAgain, err := sealer.Seal([]byte("AAA-111"))
	require.NoError(t, err)
	require.NotEqual(t, sealed, sealedAgain)

	_, err = NewSealer("other").Open(sealed)
	require.ErrorIs(t, err, ErrSealBroken)

	sealed[len(sealed)-1] ^= 0xff
	_, err = sealer.Open(sealed)
	require.ErrorIs(t, err, ErrSealBroken)

	_, err = sealer.Open([]byte("short"))
	require.ErrorIs(t, err, ErrSealBroken)
}
