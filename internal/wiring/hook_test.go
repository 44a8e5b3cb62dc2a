package wiring

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"warden/pkg/config"
	"warden/pkg/project"
)

func hookEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvHome, dir)
	t.Setenv(EnvDBPath, "")
	t.Setenv(EnvStateDir, filepath.Join(dir, "state"))
	t.Setenv(EnvLogDir, "")
	t.Setenv(project.EnvProjectPath, "")
	t.Setenv(config.EnvLogLevel, "")
	return t.TempDir()
}

func runHook(t *testing.T, payload map[string]any) string {
	t.Helper()
	in, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return string(RunHook(context.Background(), in))
}

var tokenRE = regexp.MustCompile(`"warden_token": "([0-9a-f-]{36})"`)

// TestRunHook_AcrossProcesses runs each call through a fresh Stack, the way
// separate hook processes see the state.
func TestRunHook_AcrossProcesses(t *testing.T) {
	for _, backend := range []string{config.StateStoreFile, config.StateStoreSQLite} {
		t.Run(backend, func(t *testing.T) {
			root := hookEnv(t)
			t.Setenv(config.EnvStateStore, backend)
			acrossProcesses(t, root)
		})
	}
}

func acrossProcesses(t *testing.T, root string) {
	t.Helper()

	if got := string(RunHook(context.Background(), []byte("garbage"))); got != "{}" {
		t.Errorf("malformed input = %s, want {}", got)
	}

	spawn := runHook(t, map[string]any{
		"hook_event_name": "PreToolUse",
		"session_id":      "sup",
		"cwd":             root,
		"tool_name":       "Task",
		"tool_input":      map[string]any{"prompt": "go", "subagent_type": "impl"},
	})
	var resp struct {
		HookSpecificOutput struct {
			UpdatedInput map[string]any `json:"updatedInput"`
		} `json:"hookSpecificOutput"`
	}
	if err := json.Unmarshal([]byte(spawn), &resp); err != nil {
		t.Fatalf("decode spawn response %s: %v", spawn, err)
	}
	prompt, _ := resp.HookSpecificOutput.UpdatedInput["prompt"].(string)
	m := tokenRE.FindStringSubmatch(prompt)
	if m == nil {
		t.Fatalf("no token in spawned prompt %q", prompt)
	}

	deny := runHook(t, map[string]any{
		"hook_event_name": "PreToolUse",
		"session_id":      "child",
		"cwd":             root,
		"tool_name":       "Write",
		"tool_input":      map[string]any{"file_path": filepath.Join(root, "a.go"), "warden_token": m[1]},
	})
	if !strings.Contains(deny, `"permissionDecision":"deny"`) {
		t.Errorf("unannounced worker Write = %s, want deny", deny)
	}

	other := t.TempDir()
	allow := runHook(t, map[string]any{
		"hook_event_name": "PreToolUse",
		"session_id":      "child",
		"cwd":             other,
		"tool_name":       "Write",
		"tool_input":      map[string]any{"file_path": filepath.Join(other, "a.go")},
	})
	if allow != "{}" {
		t.Errorf("Write in a project without workers = %s, want {}", allow)
	}
}
