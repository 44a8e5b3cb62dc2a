package statestore

import (
	"context"
	"strings"
	"time"
)

// scoped prefixes every key with a namespace.
type scoped struct {
	inner  Store
	prefix string
}

// Scoped returns a view of s in which every key is transparently prefixed
// with ns + "/". Keys returned by List have the prefix stripped.
func Scoped(s Store, ns string) Store {
	return &scoped{inner: s, prefix: ns + "/"}
}

func (s *scoped) Get(ctx context.Context, key string) (Record, bool, error) {
	rec, ok, err := s.inner.Get(ctx, s.prefix+key)
	if err != nil || !ok {
		return Record{}, ok, err
	}
	rec.Key = key
	return rec, true, nil
}

func (s *scoped) Put(ctx context.Context, rec Record) error {
	rec.Key = s.prefix + rec.Key
	return s.inner.Put(ctx, rec)
}

func (s *scoped) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

func (s *scoped) List(ctx context.Context, prefix string, notBefore time.Time) ([]Record, error) {
	recs, err := s.inner.List(ctx, s.prefix+prefix, notBefore)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Key = strings.TrimPrefix(recs[i].Key, s.prefix)
	}
	return recs, nil
}
