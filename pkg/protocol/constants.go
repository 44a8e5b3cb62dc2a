package protocol

// Directory, key and channel constants used throughout warden.
const (
	// WardenDir is both the user-level home (~/.warden) and the per-project
	// config directory (<project>/.warden).
	WardenDir = ".warden"

	// MainChannel is the channel every worker may always post to.
	MainChannel = "main"

	// ReleaseAll is the claim id that releases every active claim of an owner.
	ReleaseAll = "all"

	// NamespaceLen is the number of hex characters kept from the project hash.
	NamespaceLen = 12
)

// Key prefixes inside a project-scoped state store.
const (
	KeyClaims     = "claims/"
	KeyProtocol   = "protocol/"
	KeyChannels   = "channels/"
	KeyWorkers    = "workers/"
	KeySessions   = "sessions/"
	KeyMetrics    = "metrics/"
	KeySupervisor = "supervisor"
)

// Counter names for fail-open and degraded-mode observability.
const (
	MetricFailOpen         = "fail_open"
	MetricStoreUnavailable = "store_unavailable"
	MetricAmbiguous        = "classification_ambiguous"
	MetricDenied           = "denied"
	MetricBudgetExceeded   = "budget_exceeded"
)

// Environment markers attached to a worker process at spawn time.
const (
	EnvWorkerToken = "WARDEN_WORKER_TOKEN"
	EnvRole        = "WARDEN_ROLE"
)
