package hook

import (
	"encoding/json"
	"fmt"
	"strings"

	"warden/pkg/protocol"
)

// Hook event names handled by warden.
const (
	EventPreToolUse   = "PreToolUse"
	EventSessionStart = "SessionStart"
)

// Input is the JSON payload Claude Code sends on stdin.
type Input struct {
	HookEventName string         `json:"hook_event_name"`
	SessionID     string         `json:"session_id"`
	Cwd           string         `json:"cwd"`
	ToolName      string         `json:"tool_name"`
	ToolInput     map[string]any `json:"tool_input"`
}

// specificOutput is the hookSpecificOutput object of a PreToolUse response.
type specificOutput struct {
	HookEventName            string         `json:"hookEventName"`
	PermissionDecision       string         `json:"permissionDecision"`
	PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             map[string]any `json:"updatedInput,omitempty"`
}

// response is the JSON written to stdout.
type response struct {
	HookSpecificOutput *specificOutput `json:"hookSpecificOutput,omitempty"`
	SystemMessage      string          `json:"systemMessage,omitempty"`
}

// allowJSON is the pre-encoded allow response (empty JSON object).
var allowJSON = []byte("{}")

// AllowJSON returns the plain allow response.
func AllowJSON() []byte { return append([]byte(nil), allowJSON...) }

// Encode renders d as a hook response.
func Encode(d protocol.Decision) []byte {
	var resp response
	switch {
	case !d.Allow:
		resp.HookSpecificOutput = &specificOutput{
			HookEventName:            EventPreToolUse,
			PermissionDecision:       "deny",
			PermissionDecisionReason: d.Reason,
		}
	case d.UpdatedInput != nil:
		resp.HookSpecificOutput = &specificOutput{
			HookEventName:      EventPreToolUse,
			PermissionDecision: "allow",
			UpdatedInput:       d.UpdatedInput,
		}
		resp.SystemMessage = d.Note
	case d.Note != "":
		resp.SystemMessage = d.Note
	default:
		return AllowJSON()
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return AllowJSON()
	}
	return out
}

// str returns the trimmed string value of key, or "".
func str(in map[string]any, key string) string {
	s, _ := in[key].(string)
	return strings.TrimSpace(s)
}

// strs returns key as a string list, accepting a single string or an array.
func strs(in map[string]any, key string) []string {
	switch v := in[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// flag returns key as a bool and whether it was present.
func flag(in map[string]any, key string) (bool, bool) {
	switch v := in[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

// pathKeys are the tool_input keys that name target files.
var pathKeys = []string{"file_path", "notebook_path", "path", "files", "paths", "file_paths"}

// targetPaths collects every file named by a tool input.
func targetPaths(in map[string]any) []string {
	var out []string
	for _, k := range pathKeys {
		out = append(out, strs(in, k)...)
	}
	return out
}

// tokenField is the tool_input key carrying a worker token.
const tokenField = "warden_token"

// tokenInstructions is appended to a spawned worker's prompt.
func tokenInstructions(workerID, token, channel string) string {
	return fmt.Sprintf("\n\n---\nwarden: you are worker %s on channel %q.\n"+
		"Pass %q: %q in the arguments of every team tool call, and run shell commands with %s=%s set.\n"+
		"Once a call carries the token, your other tool calls in this session are attributed to you.\n"+
		"Follow the protocol: announce, claim the files you will edit, research, then act.",
		workerID, channel, tokenField, token, protocol.EnvWorkerToken, token)
}
