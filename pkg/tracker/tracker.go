// Package tracker is the per-worker protocol state machine. It enforces the
// announce, claim, research, act sequence plus periodic broadcast and
// help-request checks, consulting the claim registry for writes and the
// channel registry for message posts.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"warden/internal/logging"
	"warden/pkg/claims"
	"warden/pkg/classifier"
	"warden/pkg/config"
	"warden/pkg/eventlog"
	"warden/pkg/protocol"
	"warden/pkg/statestore"
)

// Event is one classified tool call.
type Event struct {
	Verdict       classifier.Verdict
	WorkersActive bool
	// WorkerID overrides Verdict.WorkerID when set.
	WorkerID string
	Tool     string
	Category protocol.Category
	// Paths are write targets or claim files.
	Paths       []string
	Description string
	// ClaimID selects the claim to release; empty releases all.
	ClaimID string
	// Channel is the channel named in the call's arguments, if any.
	Channel string
	// Broadcast is set when a message check includes broadcasts.
	Broadcast bool
	// PostChannel is the target of a message post; empty when the call is
	// not a post.
	PostChannel string
}

func (e Event) workerID() string {
	if e.WorkerID != "" {
		return e.WorkerID
	}
	return e.Verdict.WorkerID
}

// ClaimRegistry is the part of the claim registry the tracker uses.
type ClaimRegistry interface {
	Claim(ctx context.Context, ownerID, description string, files []string) (string, error)
	Release(ctx context.Context, ownerID, claimID string) (int, error)
	CheckWrite(ctx context.Context, ownerID string, paths []string) claims.WriteCheck
}

// ChannelRegistry is the part of the channel registry the tracker uses.
type ChannelRegistry interface {
	Get(ctx context.Context, workerID string) string
	CheckPost(ctx context.Context, workerID, channel string) error
}

// Options configures a Tracker.
type Options struct {
	Thresholds config.Thresholds
	// Tools names the tools of each category, used in remedial messages.
	Tools   map[string][]string
	Logger  *slog.Logger
	Metrics statestore.Store
	Events  *eventlog.Recorder
}

// Tracker evaluates tool calls against per-worker protocol state held in a
// project-scoped store.
type Tracker struct {
	store    statestore.Store
	claims   ClaimRegistry
	channels ChannelRegistry

	th      config.Thresholds
	tools   map[string][]string
	log     *slog.Logger
	metrics statestore.Store
	events  *eventlog.Recorder

	mu sync.Mutex
}

// New creates a Tracker. Zero thresholds take their defaults.
func New(store statestore.Store, cr ClaimRegistry, ch ChannelRegistry, opts Options) *Tracker {
	th := opts.Thresholds
	def := config.Default()
	if th.SearchLimit <= 0 {
		th.SearchLimit = def.Thresholds.SearchLimit
	}
	if th.BroadcastEvery <= 0 {
		th.BroadcastEvery = def.Thresholds.BroadcastEvery
	}
	if th.HelpEvery <= 0 {
		th.HelpEvery = def.Thresholds.HelpEvery
	}
	tools := opts.Tools
	if tools == nil {
		tools = def.Tools
	}
	return &Tracker{
		store:    store,
		claims:   cr,
		channels: ch,
		th:       th,
		tools:    tools,
		log:      logging.OrDiscard(opts.Logger),
		metrics:  opts.Metrics,
		events:   opts.Events,
	}
}

// Gate evaluates ev and returns the decision.
func (t *Tracker) Gate(ctx context.Context, ev Event) protocol.Decision {
	d, _ := t.Evaluate(ctx, ev)
	return d
}

// Evaluate evaluates ev. On a deny it also returns the typed cause: a
// *protocol.ProtocolViolationError or *protocol.ClaimConflictError.
func (t *Tracker) Evaluate(ctx context.Context, ev Event) (protocol.Decision, error) {
	if !ev.Verdict.IsWorker() || !ev.WorkersActive {
		return protocol.Allowed(), nil
	}
	id := ev.workerID()
	if id == "" {
		t.log.Warn("worker verdict without worker id, allowing", "tool", ev.Tool)
		return protocol.Allowed(), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.load(ctx, id)
	if err != nil {
		t.log.Warn("protocol state unreadable, failing open", "worker", id, "tool", ev.Tool, "error", err)
		statestore.CountMetric(ctx, t.metrics, protocol.MetricFailOpen)
		t.record(ctx, protocol.EventFailOpen, id, ev.Tool, err.Error())
		return protocol.Allowed(), nil
	}

	d, cause := t.gate(ctx, id, &st, ev)
	if ctx.Err() != nil {
		// The caller has already answered; committing now would diverge from it.
		t.log.Warn("evaluation outlived its budget, state not saved", "worker", id, "tool", ev.Tool)
		return protocol.Allowed(), nil
	}
	if cause != nil {
		st.BlockedCount++
		d = protocol.Denied(cause.Error())
		statestore.CountMetric(ctx, t.metrics, protocol.MetricDenied)
		t.record(ctx, protocol.EventDeny, id, ev.Tool, cause.Error())
		t.log.Info("denied", "worker", id, "tool", ev.Tool, "reason", cause.Error())
	}
	if err := t.save(ctx, id, st); err != nil {
		t.log.Warn("protocol state not saved", "worker", id, "error", err)
	}
	return d, cause
}

// gate runs the ordered checks. A non-nil error is the deny cause.
func (t *Tracker) gate(ctx context.Context, id string, st *protocol.ProtocolState, ev Event) (protocol.Decision, error) {
	switch ev.Category {
	case protocol.CatAnnounce:
		st.Announced = true
		return protocol.AllowedWithNote(t.announceNote(ctx, id, ev.Channel)), nil
	case protocol.CatClaim:
		st.Claimed = true
		return protocol.AllowedWithNote(t.claim(ctx, id, ev)), nil
	case protocol.CatRelease:
		st.Claimed = false
		t.release(ctx, id, ev.ClaimID)
		return protocol.Allowed(), nil
	case protocol.CatResearch:
		st.UsedResearchTool = true
		st.SearchCount = 0
		return protocol.Allowed(), nil
	case protocol.CatBroadcastCheck:
		if ev.Broadcast {
			st.ToolUsageCount = 0
			return protocol.Allowed(), nil
		}
	case protocol.CatHelpCheck:
		st.HelpToolUsageCount = 0
		return protocol.Allowed(), nil
	}

	if !st.Announced {
		return protocol.Decision{}, t.violation(id, ev.Tool, protocol.RuleAnnounce, nil,
			fmt.Sprintf("must announce first: call %s before %s", t.toolFor(protocol.CatAnnounce), ev.Tool))
	}

	st.ToolUsageCount++
	st.HelpToolUsageCount++

	if st.ToolUsageCount >= t.th.BroadcastEvery {
		return protocol.Decision{}, t.violation(id, ev.Tool, protocol.RuleBroadcast, nil,
			fmt.Sprintf("must check broadcasts: call %s before using %s", t.toolFor(protocol.CatBroadcastCheck), ev.Tool))
	}
	if st.HelpToolUsageCount >= t.th.HelpEvery {
		return protocol.Decision{}, t.violation(id, ev.Tool, protocol.RuleHelp, nil,
			fmt.Sprintf("must check for help requests: call %s before using %s", t.toolFor(protocol.CatHelpCheck), ev.Tool))
	}

	if ev.PostChannel != "" && t.channels != nil {
		if err := t.channels.CheckPost(ctx, id, ev.PostChannel); err != nil {
			var pv *protocol.ProtocolViolationError
			if errors.As(err, &pv) {
				pv.Tool = ev.Tool
			}
			return protocol.Decision{}, err
		}
	}

	switch ev.Category {
	case protocol.CatBasicSearch:
		st.SearchCount++
		if st.SearchCount > t.th.SearchLimit && !st.UsedResearchTool {
			return protocol.Decision{}, t.violation(id, ev.Tool, protocol.RuleResearch, []string{"research"},
				fmt.Sprintf("use ResearchTool instead of repeated basic search: call %s before another %s",
					t.toolFor(protocol.CatResearch), ev.Tool))
		}
		return protocol.Allowed(), nil

	case protocol.CatWrite:
		return t.write(ctx, id, st, ev)

	case protocol.CatFullCompliance:
		if missing := st.Missing(); len(missing) > 0 {
			return protocol.Decision{}, t.violation(id, ev.Tool, protocol.RuleFullCompliance, missing,
				fmt.Sprintf("%s requires the full protocol: %s first", ev.Tool, t.remedy(missing)))
		}
		return protocol.Allowed(), nil
	}

	if !st.UsedResearchTool && st.SearchCount > 0 {
		return protocol.AllowedWithNote(fmt.Sprintf(
			"reminder: prefer %s over basic search for exploring the codebase", t.toolFor(protocol.CatResearch))), nil
	}
	return protocol.Allowed(), nil
}

func (t *Tracker) write(ctx context.Context, id string, st *protocol.ProtocolState, ev Event) (protocol.Decision, error) {
	var check claims.WriteCheck
	if t.claims != nil && len(ev.Paths) > 0 {
		check = t.claims.CheckWrite(ctx, id, ev.Paths)
		if check.Conflict != nil {
			c := check.Conflict
			return protocol.Decision{}, t.violation(id, ev.Tool, protocol.RuleClaimConflict, nil,
				fmt.Sprintf("%s; coordinate with %s or wait for the claim to be released before %s",
					c.Error(), c.ConflictingOwner, ev.Tool))
		}
	}

	if missing := st.Missing(); len(missing) > 0 {
		target := "the target files"
		if len(ev.Paths) > 0 {
			target = strings.Join(ev.Paths, ", ")
		}
		return protocol.Decision{}, t.violation(id, ev.Tool, protocol.RuleWritePrereqs, missing,
			fmt.Sprintf("%s covering %s before %s", t.remedy(missing), target, ev.Tool))
	}

	if len(check.Uncovered) > 0 {
		return protocol.AllowedWithNote(fmt.Sprintf(
			"%s not covered by your claims; call %s to claim them",
			strings.Join(check.Uncovered, ", "), t.toolFor(protocol.CatClaim))), nil
	}
	return protocol.Allowed(), nil
}

func (t *Tracker) claim(ctx context.Context, id string, ev Event) string {
	if t.claims == nil || len(ev.Paths) == 0 {
		return ""
	}
	_, err := t.claims.Claim(ctx, id, ev.Description, ev.Paths)
	var conflict *protocol.ClaimConflictError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &conflict):
		return fmt.Sprintf("claim conflict: %s. Writes there will be denied until %s releases it or it expires.",
			conflict.Error(), conflict.ConflictingOwner)
	default:
		t.log.Warn("claim not recorded", "worker", id, "error", err)
		return "claim could not be recorded; continuing without it"
	}
}

func (t *Tracker) release(ctx context.Context, id, claimID string) {
	if t.claims == nil {
		return
	}
	if _, err := t.claims.Release(ctx, id, claimID); err != nil {
		t.log.Warn("release failed", "worker", id, "claim", claimID, "error", err)
	}
}

func (t *Tracker) announceNote(ctx context.Context, id, requested string) string {
	if t.channels == nil {
		return ""
	}
	assigned := t.channels.Get(ctx, id)
	if requested != "" && requested != assigned && requested != protocol.MainChannel {
		return fmt.Sprintf("you are assigned to channel %q; post to %q or %q", assigned, assigned, protocol.MainChannel)
	}
	if assigned == protocol.MainChannel {
		return ""
	}
	return fmt.Sprintf("assigned channel: %s", assigned)
}

// remedy turns missing protocol steps into the tools that complete them.
func (t *Tracker) remedy(missing []string) string {
	steps := make([]string, 0, len(missing))
	for _, m := range missing {
		switch m {
		case "announce":
			steps = append(steps, "call "+t.toolFor(protocol.CatAnnounce))
		case "claim":
			steps = append(steps, "call "+t.toolFor(protocol.CatClaim))
		case "research":
			steps = append(steps, "call "+t.toolFor(protocol.CatResearch))
		}
	}
	return strings.Join(steps, ", then ")
}

func (t *Tracker) toolFor(c protocol.Category) string {
	if names := t.tools[string(c)]; len(names) > 0 {
		return names[0]
	}
	return string(c)
}

func (t *Tracker) violation(id, tool string, rule protocol.Rule, missing []string, detail string) error {
	return &protocol.ProtocolViolationError{WorkerID: id, Tool: tool, Rule: rule, Missing: missing, Detail: detail}
}

func (t *Tracker) record(ctx context.Context, typ, id, tool, payload string) {
	if err := t.events.Record(ctx, eventlog.Entry{Type: typ, WorkerID: id, Tool: tool, Payload: payload}); err != nil {
		t.log.Debug("record event", "type", typ, "error", err)
	}
}
