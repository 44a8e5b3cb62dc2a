// Package claims is the lease-based file-claim registry. A claim grants one
// owner write intent over a set of normalized paths for a fixed TTL; two
// owners may never hold overlapping active claims.
//
// Claims are written to a durable backend (SQLite) and fall back to the
// ephemeral state store when it is unavailable. Reads union both backends so
// claims taken in degraded mode still block. Expiry is evaluated at read time.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/logging"
	"warden/pkg/eventlog"
	"warden/pkg/pathutil"
	"warden/pkg/protocol"
	"warden/pkg/statestore"
)

// DefaultTTL is the claim lifetime used when Options.TTL is zero.
const DefaultTTL = 30 * time.Minute

// Options configures a Registry.
type Options struct {
	// Root is the project root relative paths are resolved against.
	Root string
	// TTL is the claim lifetime. Default: DefaultTTL.
	TTL time.Duration
	// Logger receives degraded-mode and fail-open warnings.
	Logger *slog.Logger
	// Metrics receives metrics/<name> counters. Optional.
	Metrics statestore.Store
	// Events records claims, conflicts and releases. Optional.
	Events *eventlog.Recorder
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Coverage describes the claim covering a path.
type Coverage struct {
	Covered     bool
	Owner       string
	Description string
	ClaimID     string
	Path        string
}

// WriteCheck is the result of checking a set of write targets for one owner.
type WriteCheck struct {
	// Conflict is set when a target overlaps another owner's active claim.
	Conflict *protocol.ClaimConflictError
	// Uncovered lists targets not covered by the owner's own claims.
	Uncovered []string
}

// Registry is the claim registry for one project.
type Registry struct {
	primary Backend // nil when SQLite is unavailable
	cache   Backend

	root    string
	ttl     time.Duration
	log     *slog.Logger
	metrics statestore.Store
	events  *eventlog.Recorder
	nowFunc func() time.Time

	mu sync.Mutex
}

// New creates a Registry. primary may be nil to run cache-only.
func New(primary, cache Backend, opts Options) *Registry {
	r := &Registry{
		primary: primary,
		cache:   cache,
		root:    opts.Root,
		ttl:     opts.TTL,
		log:     logging.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
		events:  opts.Events,
		nowFunc: opts.Now,
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.nowFunc == nil {
		r.nowFunc = time.Now
	}
	return r
}

// TTL returns the claim lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

func (r *Registry) backends() []Backend {
	var out []Backend
	if r.primary != nil {
		out = append(out, r.primary)
	}
	if r.cache != nil {
		out = append(out, r.cache)
	}
	return out
}

// Claim normalizes files and takes a claim for ownerID. It returns a
// *protocol.ClaimConflictError when a file overlaps another owner's active
// claim. Overlap with the owner's own claims is allowed.
func (r *Registry) Claim(ctx context.Context, ownerID, description string, files []string) (string, error) {
	norm := pathutil.NormalizeAll(r.root, files)
	if len(norm) == 0 {
		return "", errors.New("claim: no files given")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.active(ctx)
	if err != nil {
		// Nothing readable: take the claim without a conflict check.
		r.failOpen(ctx, "claim", err)
	}
	for _, c := range active {
		if c.OwnerID == ownerID {
			continue
		}
		if want, _, ok := pathutil.FirstOverlap(norm, c.Files); ok {
			conflict := &protocol.ClaimConflictError{
				OwnerID:                ownerID,
				ConflictingOwner:       c.OwnerID,
				ConflictingDescription: c.Description,
				ConflictingClaimID:     c.ID,
				Path:                   want,
			}
			r.record(ctx, protocol.EventClaimConflict, ownerID, conflict.Error())
			return "", conflict
		}
	}

	claim := protocol.Claim{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Files:       norm,
		Description: description,
		CreatedAt:   r.nowFunc().UTC(),
		Status:      protocol.ClaimActive,
	}
	if err := r.insert(ctx, claim); err != nil {
		return "", err
	}
	r.record(ctx, protocol.EventClaim, ownerID, claim)
	return claim.ID, nil
}

// insert writes durable-first, falling back to the cache.
func (r *Registry) insert(ctx context.Context, c protocol.Claim) error {
	if r.primary != nil {
		err := r.primary.Insert(ctx, c)
		if err == nil {
			return nil
		}
		r.degraded(ctx, "insert", r.primary.Name(), err)
	}
	if r.cache == nil {
		return &protocol.StoreUnavailableError{Store: "cache", Op: "insert", Err: errors.New("no cache backend")}
	}
	if err := r.cache.Insert(ctx, c); err != nil {
		return &protocol.StoreUnavailableError{Store: r.cache.Name(), Op: "insert", Err: err}
	}
	return nil
}

// Release marks the owner's claim claimID, or all of its claims when claimID
// is protocol.ReleaseAll or empty, released. It returns how many were
// released across both backends.
func (r *Registry) Release(ctx context.Context, ownerID, claimID string) (int, error) {
	if claimID == "" {
		claimID = protocol.ReleaseAll
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc().UTC()
	total, failures := 0, 0
	var lastErr error
	for _, b := range r.backends() {
		n, err := b.Release(ctx, ownerID, claimID, now)
		if err != nil {
			failures++
			lastErr = err
			r.degraded(ctx, "release", b.Name(), err)
			continue
		}
		total += n
	}
	if failures > 0 && failures == len(r.backends()) {
		return 0, &protocol.StoreUnavailableError{Store: "all", Op: "release", Err: lastErr}
	}
	r.record(ctx, protocol.EventRelease, ownerID, map[string]any{"claim_id": claimID, "released": total})
	return total, nil
}

// Active returns every unexpired active claim, deduplicated by id and
// ordered by creation time.
func (r *Registry) Active(ctx context.Context) ([]protocol.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active(ctx)
}

// active unions both backends. It fails only when every backend fails.
func (r *Registry) active(ctx context.Context) ([]protocol.Claim, error) {
	notBefore := statestore.Cutoff(r.nowFunc(), r.ttl)
	seen := make(map[string]struct{})
	var (
		out      []protocol.Claim
		failures int
		lastErr  error
	)
	backends := r.backends()
	for _, b := range backends {
		claims, err := b.Active(ctx, notBefore)
		if err != nil {
			failures++
			lastErr = err
			r.degraded(ctx, "read", b.Name(), err)
			continue
		}
		for _, c := range claims {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	if len(backends) == 0 || failures == len(backends) {
		if lastErr == nil {
			lastErr = errors.New("no backend configured")
		}
		return nil, &protocol.StoreUnavailableError{Store: "all", Op: "read", Err: lastErr}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// IsCovered reports the first active claim overlapping path. When no backend
// is readable the path reads as not covered.
func (r *Registry) IsCovered(ctx context.Context, path string) Coverage {
	target := pathutil.Normalize(r.root, path)
	active, err := r.Active(ctx)
	if err != nil {
		r.failOpen(ctx, "is_covered", err)
		return Coverage{Path: target}
	}
	return coverage(active, target, "")
}

// CheckWrite checks write targets for ownerID with a single read: the first
// target overlapping another owner's claim is reported as a conflict, and
// targets without a covering claim of the owner's own are listed.
func (r *Registry) CheckWrite(ctx context.Context, ownerID string, paths []string) WriteCheck {
	targets := pathutil.NormalizeAll(r.root, paths)
	active, err := r.Active(ctx)
	if err != nil {
		r.failOpen(ctx, "check_write", err)
		return WriteCheck{}
	}

	var res WriteCheck
	for _, t := range targets {
		if other := coverage(active, t, ownerID); other.Covered && res.Conflict == nil {
			res.Conflict = &protocol.ClaimConflictError{
				OwnerID:                ownerID,
				ConflictingOwner:       other.Owner,
				ConflictingDescription: other.Description,
				ConflictingClaimID:     other.ClaimID,
				Path:                   t,
			}
		}
		if !ownedBy(active, t, ownerID) {
			res.Uncovered = append(res.Uncovered, t)
		}
	}
	return res
}

// Expire releases claims past the TTL in every backend. Reads already ignore
// them; this keeps the durable table tidy.
func (r *Registry) Expire(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc().UTC()
	notBefore := statestore.Cutoff(now, r.ttl)
	total := 0
	for _, b := range r.backends() {
		n, err := b.Expire(ctx, notBefore, now)
		if err != nil {
			return total, fmt.Errorf("expire %s claims: %w", b.Name(), err)
		}
		total += n
	}
	return total, nil
}

// coverage returns the first claim overlapping target whose owner is not
// exclude.
func coverage(active []protocol.Claim, target, exclude string) Coverage {
	for _, c := range active {
		if exclude != "" && c.OwnerID == exclude {
			continue
		}
		for _, f := range c.Files {
			if pathutil.Overlaps(f, target) {
				return Coverage{Covered: true, Owner: c.OwnerID, Description: c.Description, ClaimID: c.ID, Path: target}
			}
		}
	}
	return Coverage{Path: target}
}

func ownedBy(active []protocol.Claim, target, ownerID string) bool {
	for _, c := range active {
		if c.OwnerID != ownerID {
			continue
		}
		for _, f := range c.Files {
			if pathutil.Contains(f, target) {
				return true
			}
		}
	}
	return false
}

func (r *Registry) degraded(ctx context.Context, op, store string, err error) {
	r.log.Warn("claim store unavailable", "op", op, "store", store, "error", err)
	statestore.CountMetric(ctx, r.metrics, protocol.MetricStoreUnavailable)
}

func (r *Registry) failOpen(ctx context.Context, op string, err error) {
	r.log.Warn("claim check failed open", "op", op, "error", err)
	statestore.CountMetric(ctx, r.metrics, protocol.MetricFailOpen)
	r.record(ctx, protocol.EventFailOpen, "", map[string]string{"op": op, "error": err.Error()})
}

func (r *Registry) record(ctx context.Context, typ, workerID string, payload any) {
	if err := r.events.Record(ctx, eventlog.Entry{Type: typ, WorkerID: workerID, Payload: payload}); err != nil {
		r.log.Debug("record event", "type", typ, "error", err)
	}
}
