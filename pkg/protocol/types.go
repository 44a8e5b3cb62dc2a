package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a tool call for protocol gating.
type Category string

// Tool categories. OtherAllowed is the zero-risk default for unmapped tools.
const (
	CatAnnounce       Category = "announce"
	CatClaim          Category = "claim"
	CatRelease        Category = "release"
	CatResearch       Category = "research"
	CatBasicSearch    Category = "basic_search"
	CatBroadcastCheck Category = "broadcast_check"
	CatHelpCheck      Category = "help_check"
	CatWrite          Category = "write"
	CatFullCompliance Category = "full_compliance"
	CatOtherAllowed   Category = "other"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CatAnnounce, CatClaim, CatRelease, CatResearch, CatBasicSearch,
		CatBroadcastCheck, CatHelpCheck, CatWrite, CatFullCompliance, CatOtherAllowed:
		return true
	default:
		return false
	}
}

// Role is the classifier's verdict for a calling session.
type Role string

// Role constants.
const (
	RoleSupervisor Role = "supervisor"
	RoleWorker     Role = "worker"
)

// ClaimStatus is the lifecycle status of a claim row.
type ClaimStatus string

// Claim status constants.
const (
	ClaimActive   ClaimStatus = "active"
	ClaimReleased ClaimStatus = "released"
)

// Claim is a time-bounded lease granting one owner write intent over a set of
// paths. Files are stored normalized and absolute.
type Claim struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Files       []string    `json:"files"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	Status      ClaimStatus `json:"status"`
}

// ExpiredAt reports whether the claim is past ttl at now.
func (c Claim) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CreatedAt) > ttl
}

// ProtocolState is the per-worker compliance state.
type ProtocolState struct {
	Announced          bool `json:"announced"`
	Claimed            bool `json:"claimed"`
	UsedResearchTool   bool `json:"used_research_tool"`
	SearchCount        int  `json:"search_count"`
	ToolUsageCount     int  `json:"tool_usage_count"`
	HelpToolUsageCount int  `json:"help_tool_usage_count"`
	BlockedCount       int  `json:"blocked_count"`
}

// Missing returns the protocol steps not yet completed, in protocol order.
func (s ProtocolState) Missing() []string {
	var out []string
	if !s.Announced {
		out = append(out, "announce")
	}
	if !s.Claimed {
		out = append(out, "claim")
	}
	if !s.UsedResearchTool {
		out = append(out, "research")
	}
	return out
}

// ChannelAssignment is a worker's messaging scope.
type ChannelAssignment struct {
	WorkerID  string    `json:"worker_id"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveWorker marks a spawned worker. Its presence is the sole signal that
// enforcement applies to the project.
type ActiveWorker struct {
	WorkerID    string    `json:"worker_id"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	SpawnedAt   time.Time `json:"spawned_at"`
	LastSeenAt  time.Time `json:"last_seen_at,omitzero"`
	Token       string    `json:"token,omitempty"`
}

// FreshAt returns the most recent liveness timestamp.
func (w ActiveWorker) FreshAt() time.Time {
	if w.LastSeenAt.After(w.SpawnedAt) {
		return w.LastSeenAt
	}
	return w.SpawnedAt
}

// SessionBinding ties a calling session to the worker whose token it
// presented, so its token-less calls are attributed to the same worker.
type SessionBinding struct {
	SessionID string    `json:"session_id"`
	WorkerID  string    `json:"worker_id"`
	BoundAt   time.Time `json:"bound_at"`
}

// SupervisorRecord names the session registered as the project's supervisor.
type SupervisorRecord struct {
	SessionID    string    `json:"session_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Decision is the outcome of gating one tool call.
type Decision struct {
	Allow        bool
	Reason       string         // remedial instruction when denied
	Note         string         // informational note attached to an allow
	UpdatedInput map[string]any // rewritten tool input (spawn injection)
}

// Allowed returns a plain allow decision.
func Allowed() Decision { return Decision{Allow: true} }

// AllowedWithNote returns an allow decision carrying note.
func AllowedWithNote(note string) Decision { return Decision{Allow: true, Note: note} }

// Denied returns a deny decision with the given reason.
func Denied(reason string) Decision { return Decision{Reason: reason} }

// String renders the decision for logs.
func (d Decision) String() string {
	if d.Allow {
		if d.Note != "" {
			return fmt.Sprintf("allow (%s)", d.Note)
		}
		return "allow"
	}
	return "deny: " + d.Reason
}

// JoinNotes concatenates non-empty notes with a blank line.
func JoinNotes(notes ...string) string {
	var parts []string
	for _, n := range notes {
		if n = strings.TrimSpace(n); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "\n\n")
}
