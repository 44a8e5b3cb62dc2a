// Package hook is warden's interception boundary. It decodes Claude Code hook
// payloads, classifies the calling session, routes worker tool calls through
// the protocol tracker and encodes the decision.
//
// Handle never fails: malformed input, store errors, panics and budget
// overruns all produce the allow response. Every such fail-open is logged
// and counted.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"warden/internal/logging"
	"warden/pkg/channels"
	"warden/pkg/claims"
	"warden/pkg/classifier"
	"warden/pkg/config"
	"warden/pkg/eventlog"
	"warden/pkg/project"
	"warden/pkg/protocol"
	"warden/pkg/statestore"
	"warden/pkg/tracker"
	"warden/pkg/workers"
)

// Env is the per-project set of components one decision needs.
type Env struct {
	Project    project.Project
	Claims     *claims.Registry
	Workers    *workers.Registry
	Channels   *channels.Registry
	Classifier *classifier.Classifier
	Tracker    *tracker.Tracker
	// Store is the project-scoped state store. It also holds the
	// metrics/<name> counters.
	Store  statestore.Store
	Events *eventlog.Recorder
}

// EnvFunc resolves the Env for the project containing cwd.
type EnvFunc func(ctx context.Context, cwd string) (*Env, error)

// Options configures a Handler.
type Options struct {
	// Config supplies the tool map, spawn tool and decision budget.
	Config *config.Config
	Logger *slog.Logger
	// Getenv reads the spawn-time marker. Default: os.Getenv.
	Getenv func(string) string
}

// Handler turns hook payloads into hook responses.
type Handler struct {
	env       EnvFunc
	tools     ToolMap
	postTools map[string]bool
	spawnTool string
	budget    time.Duration
	log       *slog.Logger
	getenv    func(string) string
}

// New creates a Handler.
func New(env EnvFunc, opts Options) *Handler {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	h := &Handler{
		env:       env,
		tools:     NewToolMap(cfg.Tools),
		postTools: make(map[string]bool, len(cfg.PostTools)),
		spawnTool: cfg.SpawnTool,
		budget:    cfg.DecisionBudget.D(),
		log:       logging.OrDiscard(opts.Logger),
		getenv:    opts.Getenv,
	}
	for _, t := range cfg.PostTools {
		h.postTools[t] = true
	}
	if h.budget <= 0 {
		h.budget = config.Default().DecisionBudget.D()
	}
	if h.getenv == nil {
		h.getenv = os.Getenv
	}
	return h
}

// Handle processes one hook payload and returns the JSON response.
func (h *Handler) Handle(ctx context.Context, input []byte) []byte {
	var in Input
	if err := json.Unmarshal(input, &in); err != nil {
		h.log.Warn("malformed hook input, allowing", "error", err)
		return AllowJSON()
	}

	ctx, cancel := context.WithTimeout(ctx, h.budget)
	defer cancel()

	var resolved atomic.Pointer[Env]
	done := make(chan protocol.Decision, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("hook panic, allowing", "tool", in.ToolName, "panic", fmt.Sprint(r))
				done <- protocol.Allowed()
			}
		}()
		done <- h.decide(ctx, in, &resolved)
	}()

	select {
	case d := <-done:
		return Encode(d)
	case <-ctx.Done():
		h.log.Warn("decision budget exceeded, allowing", "tool", in.ToolName, "budget", h.budget)
		if env := resolved.Load(); env != nil {
			go func() {
				bg, cancel := context.WithTimeout(context.Background(), h.budget)
				defer cancel()
				statestore.CountMetric(bg, env.Store, protocol.MetricBudgetExceeded)
			}()
		}
		return AllowJSON()
	}
}

func (h *Handler) decide(ctx context.Context, in Input, resolved *atomic.Pointer[Env]) protocol.Decision {
	env, err := h.env(ctx, in.Cwd)
	if err != nil {
		h.log.Warn("project state unavailable, allowing", "cwd", in.Cwd, "error", err)
		return protocol.Allowed()
	}
	resolved.Store(env)

	switch in.HookEventName {
	case EventSessionStart:
		h.sessionStart(ctx, env, in)
		return protocol.Allowed()
	case EventPreToolUse, "":
	default:
		return protocol.Allowed()
	}

	verdict := env.Classifier.Classify(ctx, classifier.Session{SessionID: in.SessionID, Marker: h.marker(in)})
	if !verdict.IsWorker() && in.ToolName != "" && in.ToolName == h.spawnTool {
		return h.spawn(ctx, env, in)
	}

	ev := h.event(in, verdict, env.Workers.AnyActive(ctx))
	return env.Tracker.Gate(ctx, ev)
}

// marker reads the spawn-time identity from the environment or the call.
func (h *Handler) marker(in Input) classifier.Marker {
	m := classifier.Marker{
		Token: h.getenv(protocol.EnvWorkerToken),
		Role:  h.getenv(protocol.EnvRole),
	}
	if tok := str(in.ToolInput, tokenField); tok != "" {
		m.Token = tok
	}
	return m
}

// event builds the tracker event for a classified tool call.
func (h *Handler) event(in Input, v classifier.Verdict, active bool) tracker.Event {
	ti := in.ToolInput
	cat := h.tools.Category(in.ToolName)
	ev := tracker.Event{
		Verdict:       v,
		WorkersActive: active,
		Tool:          in.ToolName,
		Category:      cat,
		Description:   str(ti, "description"),
		ClaimID:       str(ti, "claim_id"),
		Channel:       str(ti, "channel"),
	}
	if cat == protocol.CatWrite || cat == protocol.CatClaim {
		ev.Paths = targetPaths(ti)
	}
	if cat == protocol.CatBroadcastCheck {
		ev.Broadcast = true
		for _, k := range []string{"include_broadcasts", "broadcast"} {
			if b, ok := flag(ti, k); ok {
				ev.Broadcast = b
				break
			}
		}
	}
	if h.postTools[in.ToolName] {
		ev.PostChannel = ev.Channel
		if ev.PostChannel == "" {
			ev.PostChannel = protocol.MainChannel
		}
	}
	return ev
}

// spawn registers the worker a supervisor is about to start and injects its
// token into the spawn prompt. A prompt that already carries a token, and
// any registration failure, allow the spawn unchanged.
func (h *Handler) spawn(ctx context.Context, env *Env, in Input) protocol.Decision {
	if prompt, _ := in.ToolInput["prompt"].(string); strings.Contains(prompt, tokenField) {
		h.log.Debug("spawn prompt already carries a token, leaving it", "session", in.SessionID)
		return protocol.Allowed()
	}
	if in.SessionID != "" {
		if err := env.Workers.RegisterSupervisor(ctx, in.SessionID); err != nil {
			h.log.Warn("supervisor not registered", "session", in.SessionID, "error", err)
		}
	}

	w := workers.NewActive(str(in.ToolInput, "subagent_type"), str(in.ToolInput, "description"))
	if err := env.Workers.Register(ctx, w); err != nil {
		h.log.Warn("worker not registered, spawning unenforced", "error", err)
		statestore.CountMetric(ctx, env.Store, protocol.MetricFailOpen)
		return protocol.Allowed()
	}

	channel := str(in.ToolInput, "channel")
	if channel == "" {
		channel = protocol.MainChannel
	}
	if err := env.Channels.Assign(ctx, w.WorkerID, channel); err != nil {
		h.log.Warn("channel not assigned", "worker", w.WorkerID, "error", err)
	}

	if err := env.Events.Record(ctx, eventlog.Entry{
		Type:     protocol.EventSpawn,
		WorkerID: w.WorkerID,
		Tool:     in.ToolName,
		Payload:  map[string]string{"kind": w.Kind, "description": w.Description, "channel": channel},
	}); err != nil {
		h.log.Debug("record spawn", "error", err)
	}
	h.log.Info("worker spawned", "worker", w.WorkerID, "kind", w.Kind, "channel", channel)

	updated := maps.Clone(in.ToolInput)
	if updated == nil {
		updated = map[string]any{}
	}
	prompt, _ := in.ToolInput["prompt"].(string)
	updated["prompt"] = prompt + tokenInstructions(w.WorkerID, w.Token, channel)
	return protocol.Decision{Allow: true, UpdatedInput: updated}
}

// sessionStart registers an unmarked session as supervisor while no worker
// is active.
func (h *Handler) sessionStart(ctx context.Context, env *Env, in Input) {
	if in.SessionID == "" || !h.marker(in).Empty() || env.Workers.AnyActive(ctx) {
		return
	}
	if err := env.Workers.RegisterSupervisor(ctx, in.SessionID); err != nil {
		h.log.Warn("supervisor not registered", "session", in.SessionID, "error", err)
	}
}
