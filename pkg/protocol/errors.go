package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClassificationAmbiguous is logged when a session is classified as a
// worker by exclusion because no explicit spawn-time marker was found. It
// never blocks a call.
var ErrClassificationAmbiguous = errors.New("no explicit worker marker; classified by exclusion")

// ClaimConflictError reports an overlapping active claim held by a different
// owner.
type ClaimConflictError struct {
	OwnerID                string // the owner attempting the claim or write
	ConflictingOwner       string
	ConflictingDescription string
	ConflictingClaimID     string
	Path                   string // the requested path that overlaps
}

func (e *ClaimConflictError) Error() string {
	desc := e.ConflictingDescription
	if desc == "" {
		desc = "no description"
	}
	return fmt.Sprintf("%s is claimed by %s (%s)", e.Path, e.ConflictingOwner, desc)
}

// Rule names the protocol step a violation refers to.
type Rule string

// Protocol rules, in the order they are checked.
const (
	RuleAnnounce       Rule = "announce"
	RuleBroadcast      Rule = "broadcast"
	RuleHelp           Rule = "help"
	RuleChannel        Rule = "channel"
	RuleResearch       Rule = "research"
	RuleClaimConflict  Rule = "claim_conflict"
	RuleWritePrereqs   Rule = "write_prerequisites"
	RuleFullCompliance Rule = "full_compliance"
)

// ProtocolViolationError reports a tool used out of the required order. Its
// message is the remedial instruction shown to the worker.
type ProtocolViolationError struct {
	WorkerID string
	Tool     string
	Rule     Rule
	Missing  []string // protocol steps still required
	Detail   string   // rule-specific remedial text
}

func (e *ProtocolViolationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Detail)
	if len(e.Missing) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "(missing: %s)", strings.Join(e.Missing, ", "))
	}
	return b.String()
}

// StoreUnavailableError reports an unreachable backend. It is logged and
// counted, never surfaced to the worker.
type StoreUnavailableError struct {
	Store string // "sqlite", "cache"
	Op    string
	Err   error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable during %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }
