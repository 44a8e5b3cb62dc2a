package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"warden/pkg/protocol"
	"warden/pkg/statestore"
)

// CacheBackend keeps claims under claims/<id> in a project-scoped state
// store. Records are stamped with the claim's creation time so the store's
// notBefore cutoff doubles as the expiry filter.
type CacheBackend struct {
	store statestore.Store
}

// NewCacheBackend creates a CacheBackend over a project-scoped store.
func NewCacheBackend(store statestore.Store) *CacheBackend {
	return &CacheBackend{store: store}
}

// Name implements Backend.
func (b *CacheBackend) Name() string { return "cache" }

// Insert implements Backend.
func (b *CacheBackend) Insert(ctx context.Context, c protocol.Claim) error {
	c.Status = protocol.ClaimActive
	return statestore.PutJSON(ctx, b.store, protocol.KeyClaims+c.ID, c, c.CreatedAt)
}

func (b *CacheBackend) list(ctx context.Context, notBefore time.Time) ([]protocol.Claim, error) {
	recs, err := b.store.List(ctx, protocol.KeyClaims, notBefore)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Claim, 0, len(recs))
	for _, r := range recs {
		var c protocol.Claim
		if err := json.Unmarshal(r.Value, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.Key, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Active implements Backend.
func (b *CacheBackend) Active(ctx context.Context, notBefore time.Time) ([]protocol.Claim, error) {
	all, err := b.list(ctx, notBefore)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Status == protocol.ClaimActive {
			out = append(out, c)
		}
	}
	return out, nil
}

// Release implements Backend.
func (b *CacheBackend) Release(ctx context.Context, ownerID, claimID string, _ time.Time) (int, error) {
	return b.releaseWhere(ctx, time.Time{}, func(c protocol.Claim) bool {
		return c.OwnerID == ownerID && (claimID == protocol.ReleaseAll || c.ID == claimID)
	})
}

// Expire implements Backend.
func (b *CacheBackend) Expire(ctx context.Context, notBefore, _ time.Time) (int, error) {
	return b.releaseWhere(ctx, time.Time{}, func(c protocol.Claim) bool {
		return c.CreatedAt.Before(notBefore)
	})
}

func (b *CacheBackend) releaseWhere(ctx context.Context, notBefore time.Time, match func(protocol.Claim) bool) (int, error) {
	all, err := b.Active(ctx, notBefore)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range all {
		if !match(c) {
			continue
		}
		c.Status = protocol.ClaimReleased
		if err := statestore.PutJSON(ctx, b.store, protocol.KeyClaims+c.ID, c, c.CreatedAt); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
