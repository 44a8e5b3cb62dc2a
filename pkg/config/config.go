// Package config loads warden's thresholds, budgets and tool mapping from
// <project>/.warden/config.yaml or config.toml, with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"warden/internal/logging"
	"warden/pkg/protocol"
)

// Config file names inside <project>/.warden. YAML wins when both exist.
const (
	YAMLFile = "config.yaml"
	TOMLFile = "config.toml"
)

// Environment overrides.
const (
	EnvClaimTTL       = "WARDEN_CLAIM_TTL"
	EnvWorkerTTL      = "WARDEN_WORKER_TTL"
	EnvChannelTTL     = "WARDEN_CHANNEL_TTL"
	EnvDecisionBudget = "WARDEN_DECISION_BUDGET"
	EnvLogLevel       = "WARDEN_LOG_LEVEL"
	EnvStateStore     = "WARDEN_STATE_STORE"
)

// Backends for per-project protocol state.
const (
	StateStoreFile   = "file"
	StateStoreSQLite = "sqlite"
)

// Duration is a time.Duration that reads and writes as "30m" style text.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Thresholds are the protocol gating limits.
type Thresholds struct {
	SearchLimit    int      `yaml:"search_limit" toml:"search_limit"`
	BroadcastEvery int      `yaml:"broadcast_every" toml:"broadcast_every"`
	HelpEvery      int      `yaml:"help_every" toml:"help_every"`
	ClaimTTL       Duration `yaml:"claim_ttl" toml:"claim_ttl"`
	ChannelTTL     Duration `yaml:"channel_ttl" toml:"channel_ttl"`
	WorkerTTL      Duration `yaml:"worker_ttl" toml:"worker_ttl"`
}

// Config is the full warden configuration.
type Config struct {
	Thresholds     Thresholds `yaml:"thresholds" toml:"thresholds"`
	DecisionBudget Duration   `yaml:"decision_budget" toml:"decision_budget"`
	StoreTimeout   Duration   `yaml:"store_timeout" toml:"store_timeout"`
	LogLevel       string     `yaml:"log_level" toml:"log_level"`
	// StateStore selects where tracker, worker and channel records live:
	// JSON shards in the state dir or the kv table of the shared database.
	StateStore string `yaml:"state_store" toml:"state_store"`

	// Tools maps a category name to the tool names in it. Categories named
	// in a config file replace the defaults for that category only.
	Tools map[string][]string `yaml:"tools" toml:"tools"`
	// PostTools are message-posting tools subject to the channel gate.
	PostTools []string `yaml:"post_tools" toml:"post_tools"`
	// SpawnTool is the tool the supervisor uses to start a worker.
	SpawnTool string `yaml:"spawn_tool" toml:"spawn_tool"`

	// Source is the file the config was read from, empty for defaults.
	Source string `yaml:"-" toml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Thresholds: Thresholds{
			SearchLimit:    3,
			BroadcastEvery: 5,
			HelpEvery:      8,
			ClaimTTL:       Duration(30 * time.Minute),
			ChannelTTL:     Duration(30 * time.Minute),
			WorkerTTL:      Duration(10 * time.Minute),
		},
		DecisionBudget: Duration(500 * time.Millisecond),
		StoreTimeout:   Duration(200 * time.Millisecond),
		LogLevel:       logging.LevelInfo,
		StateStore:     StateStoreFile,
		Tools:          DefaultTools(),
		PostTools:      []string{"mcp__team__send_message"},
		SpawnTool:      "Task",
	}
}

// DefaultTools returns the default category to tool-name table.
func DefaultTools() map[string][]string {
	return map[string][]string{
		string(protocol.CatAnnounce):       {"mcp__team__announce"},
		string(protocol.CatClaim):          {"mcp__team__claim_files"},
		string(protocol.CatRelease):        {"mcp__team__release_files"},
		string(protocol.CatResearch):       {"mcp__team__find_code", "mcp__team__find_memory"},
		string(protocol.CatBasicSearch):    {"Grep", "Glob"},
		string(protocol.CatBroadcastCheck): {"mcp__team__read_messages"},
		string(protocol.CatHelpCheck):      {"mcp__team__get_help_requests"},
		string(protocol.CatWrite):          {"Write", "Edit", "MultiEdit", "NotebookEdit"},
		string(protocol.CatFullCompliance): {"Bash", "Task"},
	}
}

// Dir returns <projectRoot>/.warden.
func Dir(projectRoot string) string {
	return filepath.Join(projectRoot, protocol.WardenDir)
}

// Load reads the project config, falling back to defaults when no file
// exists, then applies environment overrides and validates the result.
func Load(projectRoot string) (*Config, error) {
	cfg := Default()

	if projectRoot != "" {
		if err := cfg.loadFile(projectRoot); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays config.yaml, or config.toml when no YAML file exists.
func (c *Config) loadFile(projectRoot string) error {
	dir := Dir(projectRoot)
	candidates := []struct {
		name      string
		unmarshal func([]byte, any) error
	}{
		{YAMLFile, yaml.Unmarshal},
		{TOMLFile, toml.Unmarshal},
	}

	for _, cand := range candidates {
		path := filepath.Join(dir, cand.name)
		//nolint:gosec // path is constructed from projectRoot parameter
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		tools := c.Tools
		c.Tools = nil
		if err := cand.unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for cat, names := range c.Tools {
			tools[cat] = names
		}
		c.Tools = tools
		c.Source = path
		return nil
	}
	return nil
}

func (c *Config) applyEnv() error {
	durations := []struct {
		env string
		dst *Duration
	}{
		{EnvClaimTTL, &c.Thresholds.ClaimTTL},
		{EnvWorkerTTL, &c.Thresholds.WorkerTTL},
		{EnvChannelTTL, &c.Thresholds.ChannelTTL},
		{EnvDecisionBudget, &c.DecisionBudget},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.env))
		if v == "" {
			continue
		}
		if err := d.dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = strings.ToUpper(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStateStore)); v != "" {
		c.StateStore = strings.ToLower(v)
	}
	return nil
}

// Validate rejects non-positive thresholds, unknown backends and unknown
// tool categories.
func (c *Config) Validate() error {
	ints := []struct {
		name string
		v    int
	}{
		{"search_limit", c.Thresholds.SearchLimit},
		{"broadcast_every", c.Thresholds.BroadcastEvery},
		{"help_every", c.Thresholds.HelpEvery},
	}
	for _, i := range ints {
		if i.v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", i.name, i.v)
		}
	}

	durs := []struct {
		name string
		v    Duration
	}{
		{"claim_ttl", c.Thresholds.ClaimTTL},
		{"channel_ttl", c.Thresholds.ChannelTTL},
		{"worker_ttl", c.Thresholds.WorkerTTL},
		{"decision_budget", c.DecisionBudget},
		{"store_timeout", c.StoreTimeout},
	}
	for _, d := range durs {
		if d.v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", d.name, d.v.D())
		}
	}

	switch c.StateStore {
	case StateStoreFile, StateStoreSQLite:
	default:
		return fmt.Errorf("config: state_store must be %q or %q, got %q", StateStoreFile, StateStoreSQLite, c.StateStore)
	}

	for cat := range c.Tools {
		if !protocol.Category(cat).Valid() {
			return fmt.Errorf("config: unknown tool category %q", cat)
		}
	}
	return nil
}

// BuildYAML renders cfg as a commented config.yaml.
func BuildYAML(cfg *Config) string {
	var b strings.Builder

	b.WriteString("# warden coordination settings.\n")
	b.WriteString("# Environment overrides: " + strings.Join([]string{
		EnvClaimTTL, EnvWorkerTTL, EnvChannelTTL, EnvDecisionBudget, EnvLogLevel, EnvStateStore,
	}, ", ") + "\n")
	b.WriteString("thresholds:\n")
	fmt.Fprintf(&b, "  search_limit: %d\n", cfg.Thresholds.SearchLimit)
	fmt.Fprintf(&b, "  broadcast_every: %d\n", cfg.Thresholds.BroadcastEvery)
	fmt.Fprintf(&b, "  help_every: %d\n", cfg.Thresholds.HelpEvery)
	fmt.Fprintf(&b, "  claim_ttl: %s\n", cfg.Thresholds.ClaimTTL.D())
	fmt.Fprintf(&b, "  channel_ttl: %s\n", cfg.Thresholds.ChannelTTL.D())
	fmt.Fprintf(&b, "  worker_ttl: %s\n", cfg.Thresholds.WorkerTTL.D())
	fmt.Fprintf(&b, "decision_budget: %s\n", cfg.DecisionBudget.D())
	fmt.Fprintf(&b, "store_timeout: %s\n", cfg.StoreTimeout.D())
	fmt.Fprintf(&b, "log_level: %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "state_store: %s\n", cfg.StateStore)
	fmt.Fprintf(&b, "spawn_tool: %s\n", strconv.Quote(cfg.SpawnTool))
	writeList(&b, "post_tools", "", cfg.PostTools)

	cats := make([]string, 0, len(cfg.Tools))
	for cat := range cfg.Tools {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	b.WriteString("tools:\n")
	for _, cat := range cats {
		writeList(&b, cat, "  ", cfg.Tools[cat])
	}
	return b.String()
}

func writeList(b *strings.Builder, key, indent string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s%s: []\n", indent, key)
		return
	}
	fmt.Fprintf(b, "%s%s:\n", indent, key)
	for _, item := range items {
		fmt.Fprintf(b, "%s  - %s\n", indent, strconv.Quote(item))
	}
}

// Write renders cfg to <projectRoot>/.warden/config.yaml. An existing file
// is left alone unless force is set. It reports whether the file was written.
func Write(projectRoot string, cfg *Config, force bool) (string, bool, error) {
	dir := Dir(projectRoot)
	path := filepath.Join(dir, YAMLFile)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, false, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return path, false, fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(BuildYAML(cfg)), 0o644); err != nil { //nolint:gosec // config is not secret
		return path, false, fmt.Errorf("write %s: %w", path, err)
	}
	return path, true, nil
}
