package statestore

import (
	"context"
	"time"
)

// timeoutStore bounds every operation of an inner Store.
type timeoutStore struct {
	inner Store
	d     time.Duration
}

// WithTimeout returns a view of s in which every call runs under a context
// deadline of d. A non-positive d returns s unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{inner: s, d: d}
}

func (t *timeoutStore) Get(ctx context.Context, key string) (Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Get(ctx, key)
}

func (t *timeoutStore) Put(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Put(ctx, rec)
}

func (t *timeoutStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Delete(ctx, key)
}

func (t *timeoutStore) List(ctx context.Context, prefix string, notBefore time.Time) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.List(ctx, prefix, notBefore)
}
