package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"warden/internal/wiring"
	"warden/pkg/config"
	"warden/pkg/project"
	"warden/pkg/protocol"
)

// setupProject isolates warden's paths under temp dirs and returns a
// project root.
func setupProject(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(wiring.EnvHome, home)
	t.Setenv(wiring.EnvDBPath, "")
	t.Setenv(wiring.EnvStateDir, filepath.Join(home, "state"))
	t.Setenv(wiring.EnvLogDir, "")
	t.Setenv(project.EnvProjectPath, "")
	for _, k := range []string{config.EnvClaimTTL, config.EnvWorkerTTL, config.EnvChannelTTL, config.EnvDecisionBudget, config.EnvLogLevel, config.EnvStateStore} {
		t.Setenv(k, "")
	}
	return t.TempDir()
}

// run executes the root command against root and returns its output.
func run(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--project=" + root}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, root string, args ...string) string {
	t.Helper()
	out, err := run(t, root, args...)
	if err != nil {
		t.Fatalf("warden %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

var workerRE = regexp.MustCompile(`worker (w-[0-9a-f]{8})`)

func spawnWorker(t *testing.T, root string, args ...string) string {
	t.Helper()
	out := mustRun(t, root, append([]string{"spawn", "--kind", "impl"}, args...)...)
	m := workerRE.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no worker id in spawn output %q", out)
	}
	return m[1]
}

func TestVersion(t *testing.T) {
	out := mustRun(t, t.TempDir(), "--version")
	if !strings.HasPrefix(out, "warden ") {
		t.Errorf("--version = %q, want warden <version>", out)
	}
}

func TestInit(t *testing.T) {
	root := setupProject(t)

	out := mustRun(t, root, "init")
	if !strings.Contains(out, "wrote "+filepath.Join(root, ".warden", "config.yaml")) {
		t.Errorf("first init = %q, want config written", out)
	}
	if !strings.Contains(out, "state.db") {
		t.Errorf("init output missing database path: %q", out)
	}

	if out := mustRun(t, root, "init"); !strings.Contains(out, "kept existing") {
		t.Errorf("second init = %q, want kept existing", out)
	}
	if out := mustRun(t, root, "init", "--force"); !strings.Contains(out, "wrote ") {
		t.Errorf("init --force = %q, want config rewritten", out)
	}

	cfg, err := config.Load(root)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if cfg.Source == "" {
		t.Error("written config was not picked up by Load")
	}
}

func TestClaimCoveredRelease(t *testing.T) {
	root := setupProject(t)
	target := filepath.Join(root, "src", "a.go")

	id := strings.TrimSpace(mustRun(t, root, "claim", "--owner", "w-1", "--desc", "refactor", target))
	if id == "" {
		t.Fatal("claim printed no id")
	}

	out := mustRun(t, root, "covered", target)
	if !strings.Contains(out, "covered by w-1") || !strings.Contains(out, id) {
		t.Errorf("covered = %q, want covered by w-1 claim %s", out, id)
	}

	// The parent directory overlaps the claimed file.
	if _, err := run(t, root, "claim", "--owner", "w-2", filepath.Join(root, "src")); err == nil ||
		!strings.Contains(err.Error(), "claimed by w-1") {
		t.Errorf("overlapping claim error = %v, want claimed by w-1", err)
	}

	if out := mustRun(t, root, "claims"); !strings.Contains(out, "w-1") || !strings.Contains(out, filepath.Join("src", "a.go")) {
		t.Errorf("claims = %q, want w-1 and src/a.go", out)
	}

	if out := mustRun(t, root, "release", "--owner", "w-1"); !strings.Contains(out, "released 1 claim(s)") {
		t.Errorf("release = %q", out)
	}
	if out := mustRun(t, root, "covered", target); !strings.Contains(out, "not covered") {
		t.Errorf("covered after release = %q, want not covered", out)
	}
}

func TestClaimRequiresOwner(t *testing.T) {
	root := setupProject(t)
	if _, err := run(t, root, "claim", filepath.Join(root, "a.go")); err == nil {
		t.Error("claim without --owner succeeded")
	}
}

func TestSpawnWorkersChannelsState(t *testing.T) {
	root := setupProject(t)

	id := spawnWorker(t, root, "--desc", "build ui", "--channel", "frontend")

	out := mustRun(t, root, "workers")
	if !strings.Contains(out, id) || !strings.Contains(out, "frontend") || !strings.Contains(out, "build ui") {
		t.Errorf("workers = %q, want %s on frontend", out, id)
	}
	if out := mustRun(t, root, "channel", "get", id); strings.TrimSpace(out) != "frontend" {
		t.Errorf("channel get = %q, want frontend", out)
	}
	mustRun(t, root, "channel", "assign", id, "backend")
	if out := mustRun(t, root, "channel", "get", id); strings.TrimSpace(out) != "backend" {
		t.Errorf("channel get after assign = %q, want backend", out)
	}
	if out := mustRun(t, root, "channel", "get", "w-unknown"); strings.TrimSpace(out) != protocol.MainChannel {
		t.Errorf("channel get unknown = %q, want main", out)
	}

	if out := mustRun(t, root, "heartbeat", id); !strings.Contains(out, "alive") {
		t.Errorf("heartbeat = %q", out)
	}
	if _, err := run(t, root, "heartbeat", "w-unknown"); err == nil {
		t.Error("heartbeat of unknown worker succeeded")
	}

	out = mustRun(t, root, "state", id)
	if !strings.Contains(out, "announced: false") || !strings.Contains(out, "missing: announce, claim, research") {
		t.Errorf("state = %q, want fresh state", out)
	}
	if out := mustRun(t, root, "state", id, "--reset"); !strings.Contains(out, "reset") {
		t.Errorf("state --reset = %q", out)
	}
}

func TestSpawnRunsCommandAsWorker(t *testing.T) {
	root := setupProject(t)

	out := mustRun(t, root, "spawn", "--kind", "impl", "--", "sh", "-c", `echo "child token $WARDEN_WORKER_TOKEN"`)
	m := regexp.MustCompile(protocol.EnvWorkerToken + `=(\S+)`).FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("spawn output missing token: %q", out)
	}
	if !strings.Contains(out, "child token "+m[1]) {
		t.Errorf("child did not see its token: %q", out)
	}

	// The worker is removed once the command exits.
	if out := mustRun(t, root, "workers"); !strings.Contains(out, "(none)") {
		t.Errorf("workers after child exit = %q, want none", out)
	}
}

func TestSupervisor(t *testing.T) {
	root := setupProject(t)

	if out := mustRun(t, root, "supervisor"); !strings.Contains(out, "no supervisor") {
		t.Errorf("supervisor = %q, want none", out)
	}
	mustRun(t, root, "supervisor", "--session", "sess-1")
	if out := mustRun(t, root, "supervisor"); !strings.Contains(out, "supervisor sess-1") {
		t.Errorf("supervisor = %q, want sess-1", out)
	}
}

func TestStatus(t *testing.T) {
	root := setupProject(t)
	id := spawnWorker(t, root)
	mustRun(t, root, "claim", "--owner", id, filepath.Join(root, "a.go"))

	out := mustRun(t, root, "status")
	for _, want := range []string{"project " + root, "workers", id, "claims", "a.go", "counters"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestEvents(t *testing.T) {
	root := setupProject(t)
	mustRun(t, root, "claim", "--owner", "w-1", filepath.Join(root, "a.go"))
	mustRun(t, root, "release", "--owner", "w-1")

	out := mustRun(t, root, "events", "--type", protocol.EventClaim)
	if !strings.Contains(out, protocol.EventClaim) || !strings.Contains(out, "w-1") {
		t.Errorf("events --type claim = %q", out)
	}
	if strings.Contains(out, protocol.EventRelease) {
		t.Errorf("type filter leaked release events: %q", out)
	}

	if out := mustRun(t, root, "events", "--worker", "w-none"); !strings.Contains(out, "(none)") {
		t.Errorf("events for unknown worker = %q, want none", out)
	}
}

func TestEvents_NoDatabase(t *testing.T) {
	root := setupProject(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(wiring.EnvDBPath, filepath.Join(blocker, "state.db"))

	_, err := run(t, root, "events")
	if err == nil || !strings.Contains(err.Error(), "event log unavailable") {
		t.Errorf("events without a database: err = %v", err)
	}
}

func TestGC(t *testing.T) {
	root := setupProject(t)
	t.Setenv(config.EnvWorkerTTL, "50ms")
	t.Setenv(config.EnvChannelTTL, "50ms")

	spawnWorker(t, root, "--channel", "frontend")
	time.Sleep(100 * time.Millisecond)

	out := mustRun(t, root, "gc")
	if !strings.Contains(out, "pruned 1 worker(s), 1 channel(s)") {
		t.Errorf("gc = %q, want one worker and one channel pruned", out)
	}
	if out := mustRun(t, root, "gc"); !strings.Contains(out, "pruned 0 worker(s)") {
		t.Errorf("second gc = %q, want nothing pruned", out)
	}
}

func TestHookCmd_MalformedInputAllows(t *testing.T) {
	setupProject(t)
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("not json"))
	cmd.SetArgs([]string{"hook"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("hook: %v", err)
	}
	if out.String() != "{}" {
		t.Errorf("hook output = %q, want {}", out.String())
	}
}
