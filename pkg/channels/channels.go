// Package channels assigns each worker a messaging channel. Every worker
// may always post to the main channel; any other post must target its own
// assignment.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warden/internal/logging"
	"warden/pkg/protocol"
	"warden/pkg/statestore"
)

// DefaultTTL is the assignment lifetime used when Options.TTL is zero.
const DefaultTTL = 30 * time.Minute

// Options configures a Registry.
type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// Registry stores channel assignments for one project.
type Registry struct {
	store   statestore.Store
	ttl     time.Duration
	log     *slog.Logger
	nowFunc func() time.Time
}

// New creates a Registry over a project-scoped store.
func New(store statestore.Store, opts Options) *Registry {
	r := &Registry{store: store, ttl: opts.TTL, log: logging.OrDiscard(opts.Logger), nowFunc: opts.Now}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.nowFunc == nil {
		r.nowFunc = time.Now
	}
	return r
}

// Assign sets workerID's channel. An empty channel assigns main.
func (r *Registry) Assign(ctx context.Context, workerID, channel string) error {
	if workerID == "" {
		return errors.New("assign channel: empty worker id")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = protocol.MainChannel
	}
	a := protocol.ChannelAssignment{WorkerID: workerID, Channel: channel, CreatedAt: r.nowFunc().UTC()}
	if err := statestore.PutJSON(ctx, r.store, protocol.KeyChannels+workerID, a, a.CreatedAt); err != nil {
		return fmt.Errorf("assign channel %s to %s: %w", channel, workerID, err)
	}
	return nil
}

// Get returns workerID's channel, or main when the assignment is missing,
// expired or unreadable.
func (r *Registry) Get(ctx context.Context, workerID string) string {
	var a protocol.ChannelAssignment
	ok, err := statestore.GetJSON(ctx, r.store, protocol.KeyChannels+workerID, &a)
	if err != nil {
		r.log.Warn("channel lookup failed, using main", "worker", workerID, "error", err)
		return protocol.MainChannel
	}
	if !ok || a.Channel == "" || !statestore.Fresh(r.nowFunc(), a.CreatedAt, r.ttl) {
		return protocol.MainChannel
	}
	return a.Channel
}

// CheckPost returns a *protocol.ProtocolViolationError when workerID may not
// post to channel.
func (r *Registry) CheckPost(ctx context.Context, workerID, channel string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" || channel == protocol.MainChannel {
		return nil
	}
	assigned := r.Get(ctx, workerID)
	if channel == assigned {
		return nil
	}
	return &protocol.ProtocolViolationError{
		WorkerID: workerID,
		Rule:     protocol.RuleChannel,
		Detail: fmt.Sprintf("worker %s is assigned to channel %q; post to %q or %q instead of %q",
			workerID, assigned, assigned, protocol.MainChannel, channel),
	}
}

// Prune deletes expired assignments and returns how many were removed.
func (r *Registry) Prune(ctx context.Context) (int, error) {
	return statestore.Prune(ctx, r.store, protocol.KeyChannels, statestore.Cutoff(r.nowFunc(), r.ttl))
}
