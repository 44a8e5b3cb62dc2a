// Binary warden-hook is the Claude Code hook that enforces the warden
// coordination protocol. Register it for PreToolUse and SessionStart.
//
// Protocol: reads the hook JSON from stdin, writes the decision to stdout.
//   - Allow:           {}
//   - Allow with note: {"systemMessage":"..."}
//   - Deny:            {"hookSpecificOutput":{"permissionDecision":"deny",...}}
//
// Every failure path writes the allow response. Logs go to
// $WARDEN_LOG_DIR/warden.log, never to stdout.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"warden/internal/wiring"
	"warden/pkg/hook"
)

func main() {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden-hook: failed to read stdin: %v\n", err)
		writeOut(os.Stdout, hook.AllowJSON())
		return
	}
	writeOut(os.Stdout, wiring.RunHook(context.Background(), input))
}

// writeOut writes data to w, logging any write error to stderr.
func writeOut(w io.Writer, data []byte) {
	if _, err := w.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "warden-hook: stdout write error: %v\n", err)
	}
}
