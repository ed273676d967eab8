package memstore

import (
	"context"
	"sort"

	"github.com/iurnickita/keyvend/internal/model"
	"github.com/iurnickita/keyvend/internal/store"
)

func (m *memStore) variant(name string) *variantKeys {
	m.variantsMu.Lock()
	defer m.variantsMu.Unlock()

	v, ok := m.variants[name]
	if !ok {
		v = &variantKeys{keys: make(map[int64]*model.KeyRecord)}
		m.variants[name] = v
	}
	return v
}

func (m *memStore) nextKeyIDs(n int) int64 {
	m.variantsMu.Lock()
	defer m.variantsMu.Unlock()

	first := m.lastKeyID + 1
	m.lastKeyID += int64(n)
	return first
}

func (m *memStore) KeyAdd(_ context.Context, variant string, payloads [][]byte) error {
	v := m.variant(variant)
	id := m.nextKeyIDs(len(payloads))

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, payload := range payloads {
		v.keys[id] = &model.KeyRecord{
			ID: id,
			Data: model.KeyRecordData{
				Variant: variant,
				Payload: append([]byte(nil), payload...),
				Status:  model.KeyStatusAvailable,
			},
		}
		v.free = append(v.free, id)
		id++
	}
	return nil
}

func (m *memStore) owner(orderID int64) (keyRef, bool) {
	m.ownersMu.Lock()
	defer m.ownersMu.Unlock()
	ref, ok := m.owners[orderID]
	return ref, ok
}

func (m *memStore) KeyAllocate(_ context.Context, variant string, orderID int64) (model.KeyRecord, error) {
	if ref, ok := m.owner(orderID); ok {
		return m.keyCopy(ref)
	}

	v := m.variant(variant)
	v.mu.Lock()
	// Повторная проверка под блокировкой варианта
	if ref, ok := m.owner(orderID); ok {
		v.mu.Unlock()
		return m.keyCopy(ref)
	}
	if len(v.free) == 0 {
		v.mu.Unlock()
		return model.KeyRecord{}, store.ErrNotAvailable
	}

	id := v.free[0]
	v.free = v.free[1:]
	now := m.clock.Now()
	key := v.keys[id]
	key.Data.Status = model.KeyStatusUsed
	key.Data.OrderID = &orderID
	key.Data.AllocatedAt = &now

	m.ownersMu.Lock()
	m.owners[orderID] = keyRef{variant: variant, id: id}
	m.ownersMu.Unlock()

	allocated := copyKey(key)
	v.mu.Unlock()
	return allocated, nil
}

func (m *memStore) KeyGetByOrder(_ context.Context, orderID int64) (model.KeyRecord, error) {
	ref, ok := m.owner(orderID)
	if !ok {
		return model.KeyRecord{}, store.ErrNotFound
	}
	return m.keyCopy(ref)
}

func (m *memStore) KeyAvailableCount(_ context.Context, variant string) (int, error) {
	v := m.variant(variant)
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.free), nil
}

func (m *memStore) KeyListOrphaned(_ context.Context) ([]model.KeyRecord, error) {
	m.ordersMu.Lock()
	expired := make(map[int64]bool)
	for id, order := range m.orders {
		if order.Data.Status == model.OrderStatusExpired {
			expired[id] = true
		}
	}
	m.ordersMu.Unlock()

	m.ownersMu.Lock()
	var refs []keyRef
	for orderID, ref := range m.owners {
		if expired[orderID] {
			refs = append(refs, ref)
		}
	}
	m.ownersMu.Unlock()

	keys := make([]model.KeyRecord, 0, len(refs))
	for _, ref := range refs {
		key, err := m.keyCopy(ref)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

func (m *memStore) keyCopy(ref keyRef) (model.KeyRecord, error) {
	v := m.variant(ref.variant)
	v.mu.Lock()
	defer v.mu.Unlock()
	key, ok := v.keys[ref.id]
	if !ok {
		return model.KeyRecord{}, store.ErrNotFound
	}
	return copyKey(key), nil
}

func copyKey(key *model.KeyRecord) model.KeyRecord {
	c := *key
	c.Data.Payload = append([]byte(nil), key.Data.Payload...)
	if key.Data.OrderID != nil {
		id := *key.Data.OrderID
		c.Data.OrderID = &id
	}
	if key.Data.AllocatedAt != nil {
		at := *key.Data.AllocatedAt
		c.Data.AllocatedAt = &at
	}
	return c
}
