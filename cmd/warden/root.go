package main

import (
	"fmt"

	"warden/internal/version"

	"github.com/spf13/cobra"
)

// flagProject overrides the project root for every subcommand.
const flagProject = "project"

// newRootCmd creates the root warden command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Coordination protocol enforcement for concurrent AI workers",
		Long: "warden gates the tool calls of AI worker sessions that share one codebase.\n" +
			"Workers must announce, claim files, research and check messages before acting;\n" +
			"the supervisor session is never gated.",
		Version:       fmt.Sprintf("warden %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().String(flagProject, "", "project root (default: $WARDEN_PROJECT_PATH or the working directory)")

	cmd.AddCommand(
		newHookCmd(),
		newInitCmd(),
		newClaimCmd(),
		newReleaseCmd(),
		newCoveredCmd(),
		newClaimsCmd(),
		newSpawnCmd(),
		newWorkersCmd(),
		newHeartbeatCmd(),
		newChannelCmd(),
		newSupervisorCmd(),
		newStateCmd(),
		newStatusCmd(),
		newEventsCmd(),
		newGCCmd(),
	)

	return cmd
}
