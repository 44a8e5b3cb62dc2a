package tracker

import (
	"context"
	"fmt"
	"time"

	"warden/pkg/protocol"
	"warden/pkg/statestore"
)

func stateKey(workerID string) string { return protocol.KeyProtocol + workerID }

func (t *Tracker) load(ctx context.Context, workerID string) (protocol.ProtocolState, error) {
	var st protocol.ProtocolState
	if _, err := statestore.GetJSON(ctx, t.store, stateKey(workerID), &st); err != nil {
		return protocol.ProtocolState{}, fmt.Errorf("load protocol state: %w", err)
	}
	return st, nil
}

func (t *Tracker) save(ctx context.Context, workerID string, st protocol.ProtocolState) error {
	return statestore.PutJSON(ctx, t.store, stateKey(workerID), st, time.Time{})
}

// State returns the stored protocol state of workerID. A worker with no
// state yet has the zero state.
func (t *Tracker) State(ctx context.Context, workerID string) (protocol.ProtocolState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx, workerID)
}

// Reset clears the protocol state of workerID.
func (t *Tracker) Reset(ctx context.Context, workerID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.store.Delete(ctx, stateKey(workerID)); err != nil {
		return fmt.Errorf("reset protocol state of %s: %w", workerID, err)
	}
	return nil
}

// Workers lists worker ids that have protocol state.
func (t *Tracker) Workers(ctx context.Context) ([]string, error) {
	recs, err := t.store.List(ctx, protocol.KeyProtocol, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list protocol state: %w", err)
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Key[len(protocol.KeyProtocol):])
	}
	return out, nil
}
