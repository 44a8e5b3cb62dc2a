package main

import (
	"fmt"

	"warden/internal/wiring"
	"warden/pkg/config"
	"warden/pkg/project"
	"warden/pkg/statestore"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "warden init" subcommand.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default project config and create the state database",
		Long: "Writes <project>/.warden/config.yaml with the default thresholds and tool mapping,\n" +
			"creates the state directory and applies the SQLite schema.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, _ := cmd.Flags().GetString(flagProject)
			p, err := project.Resolve(root)
			if err != nil {
				return fmt.Errorf("resolve project: %w", err)
			}
			w := cmd.OutOrStdout()

			path, wrote, err := config.Write(p.Root, config.Default(), force)
			if err != nil {
				return err
			}
			if wrote {
				fmt.Fprintf(w, "wrote %s\n", path)
			} else {
				fmt.Fprintf(w, "kept existing %s (use --force to overwrite)\n", path)
			}

			paths, err := wiring.ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			if _, err := statestore.NewFileStore(paths.StateDir); err != nil {
				return fmt.Errorf("create state dir: %w", err)
			}
			fmt.Fprintf(w, "state dir %s\n", paths.StateDir)

			db, err := wiring.OpenDB(cmd.Context(), paths.DBPath, 0)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			_ = db.Close()
			fmt.Fprintf(w, "database %s\n", paths.DBPath)
			fmt.Fprintf(w, "project %s namespace %s\n", p.Root, p.Namespace)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
