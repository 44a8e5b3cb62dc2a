package protocol

// Event represents a row in the events SQLite table.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Project   string `json:"project"`
	WorkerID  string `json:"worker_id"`
	Tool      string `json:"tool"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}

// Event types written to the events table.
const (
	EventDeny          = "deny"
	EventClaim         = "claim"
	EventClaimConflict = "claim_conflict"
	EventRelease       = "release"
	EventFailOpen      = "fail_open"
	EventSpawn         = "spawn"
)
