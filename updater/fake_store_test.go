package updater

import (
	"context"
	"fmt"

	"grafsys/domain"
)

type fakeStore struct {
	orders   map[string]domain.OrderEntity
	version  int
	replaces int
	// conflict runs before a replace and makes it fail with
	// ErrConcurrencyConflict while it returns true.
	conflict func(f *fakeStore) bool
	getErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]domain.OrderEntity{}}
}

func (f *fakeStore) stamp(ent domain.OrderEntity) {
	f.version++
	ent.ETag = fmt.Sprintf("v%d", f.version)
	f.orders[ent.RowKey] = ent
}

func (f *fakeStore) GetOrder(ctx context.Context, id string) (*domain.OrderEntity, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	ent, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	return &ent, nil
}

func (f *fakeStore) InsertOrder(ctx context.Context, ent domain.OrderEntity) error {
	if _, ok := f.orders[ent.RowKey]; ok {
		return domain.ErrOrderExists
	}
	f.stamp(ent)
	return nil
}

func (f *fakeStore) ReplaceOrder(ctx context.Context, ent domain.OrderEntity) error {
	if f.conflict != nil && f.conflict(f) {
		return domain.ErrConcurrencyConflict
	}
	cur, ok := f.orders[ent.RowKey]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if ent.ETag != "" && ent.ETag != cur.ETag {
		return domain.ErrConcurrencyConflict
	}
	f.replaces++
	f.stamp(ent)
	return nil
}

func (f *fakeStore) DeleteOrder(ctx context.Context, id string) error {
	delete(f.orders, id)
	return nil
}

func (f *fakeStore) order(id string) domain.Order {
	ent, ok := f.orders[id]
	if !ok {
		return domain.Order{}
	}
	o, err := ent.Order()
	if err != nil {
		panic(err)
	}
	return o
}
