package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"warden/pkg/protocol"
)

// Record is one stored value with its write time.
type Record struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// Store is a minimal key-value store with read-time expiry filtering.
// Implementations must be safe for concurrent use within a process.
type Store interface {
	// Get returns the record for key and whether it exists.
	Get(ctx context.Context, key string) (Record, bool, error)
	// Put writes rec. A zero UpdatedAt is stamped with the current time.
	Put(ctx context.Context, rec Record) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns records whose key starts with prefix and whose UpdatedAt
	// is not before notBefore (zero disables the filter), sorted by key.
	List(ctx context.Context, prefix string, notBefore time.Time) ([]Record, error)
}

// Fresh reports whether a timestamp t is within ttl of now.
func Fresh(now, t time.Time, ttl time.Duration) bool {
	return now.Sub(t) <= ttl
}

// Cutoff returns the notBefore value for a List call honoring ttl.
func Cutoff(now time.Time, ttl time.Duration) time.Time {
	return now.Add(-ttl)
}

// GetJSON decodes the value at key into v. It reports false when the key is
// absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	rec, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(rec.Value, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and writes it at key with timestamp at.
func PutJSON(ctx context.Context, s Store, key string, v any, at time.Time) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, Record{Key: key, Value: b, UpdatedAt: at})
}

// Incr adds one to the integer counter stored at key and returns the new
// value. The read-modify-write is not atomic across processes.
func Incr(ctx context.Context, s Store, key string) (int64, error) {
	var n int64
	if _, err := GetJSON(ctx, s, key, &n); err != nil {
		n = 0
	}
	n++
	if err := PutJSON(ctx, s, key, n, time.Time{}); err != nil {
		return 0, err
	}
	return n, nil
}

// Counters returns every integer counter stored under prefix, keyed by the
// remainder of the key.
func Counters(ctx context.Context, s Store, prefix string) (map[string]int64, error) {
	recs, err := s.List(ctx, prefix, time.Time{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(recs))
	for _, r := range recs {
		var n int64
		if err := json.Unmarshal(r.Value, &n); err != nil {
			continue
		}
		out[strings.TrimPrefix(r.Key, prefix)] = n
	}
	return out, nil
}

// Prune deletes records under prefix older than notBefore and returns how
// many were removed.
func Prune(ctx context.Context, s Store, prefix string, notBefore time.Time) (int, error) {
	all, err := s.List(ctx, prefix, time.Time{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range all {
		if !r.UpdatedAt.Before(notBefore) {
			continue
		}
		if err := s.Delete(ctx, r.Key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// keep reports whether rec passes a List filter.
func keep(rec Record, prefix string, notBefore time.Time) bool {
	if !strings.HasPrefix(rec.Key, prefix) {
		return false
	}
	return notBefore.IsZero() || !rec.UpdatedAt.Before(notBefore)
}

// CountMetric bumps the metrics/<name> counter in s. A nil store or a failed
// write is ignored: counters are best effort.
func CountMetric(ctx context.Context, s Store, name string) {
	if s == nil {
		return
	}
	_, _ = Incr(ctx, s, protocol.KeyMetrics+name)
}
