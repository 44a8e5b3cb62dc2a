package main

import (
	"io"

	"warden/internal/wiring"
	"warden/pkg/hook"

	"github.com/spf13/cobra"
)

// newHookCmd creates the "warden hook" subcommand.
func newHookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hook",
		Short: "Handle one Claude Code hook call (stdin JSON to stdout JSON)",
		Long: "Reads a PreToolUse or SessionStart payload on stdin and writes the decision on stdout.\n" +
			"Every failure is answered with the allow response. Same as the warden-hook binary.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := hook.AllowJSON()
			if input, err := io.ReadAll(cmd.InOrStdin()); err == nil {
				out = wiring.RunHook(cmd.Context(), input)
			}
			_, err := cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
