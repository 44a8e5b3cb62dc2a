package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// absPaths resolves command-line paths against the working directory.
func absPaths(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, p := range in {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

// newClaimCmd creates the "warden claim" subcommand.
func newClaimCmd() *cobra.Command {
	var owner, desc string

	cmd := &cobra.Command{
		Use:   "claim <files...>",
		Short: "Claim files for a worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := absPaths(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.env.Claims.Claim(cmd.Context(), owner, desc, files)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "worker id taking the claim")
	cmd.Flags().StringVar(&desc, "desc", "", "what the claim is for")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

// newReleaseCmd creates the "warden release" subcommand.
func newReleaseCmd() *cobra.Command {
	var owner, id string

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release a worker's claims (all of them unless --id is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.env.Claims.Release(cmd.Context(), owner, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d claim(s)\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "worker id whose claims to release")
	cmd.Flags().StringVar(&id, "id", "", "release only this claim")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

// newCoveredCmd creates the "warden covered" subcommand.
func newCoveredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "covered <path>",
		Short: "Show which active claim covers a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cov := a.env.Claims.IsCovered(cmd.Context(), paths[0])
			w := cmd.OutOrStdout()
			if !cov.Covered {
				fmt.Fprintf(w, "%s: not covered\n", cov.Path)
				return nil
			}
			fmt.Fprintf(w, "%s: covered by %s (claim %s)", cov.Path, cov.Owner, cov.ClaimID)
			if cov.Description != "" {
				fmt.Fprintf(w, ": %s", cov.Description)
			}
			fmt.Fprintln(w)
			return nil
		},
	}
}

// newClaimsCmd creates the "warden claims" subcommand.
func newClaimsCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "claims",
		Short: "List active claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p := newPrinter(cmd.OutOrStdout())
			render := func() error {
				p.clear()
				return printClaims(cmd, a, p)
			}
			if watch {
				return watchLoop(cmd.Context(), a.log, watchDirs(a), defaultPollInterval, render)
			}
			return render()
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render on state changes")

	return cmd
}

func printClaims(cmd *cobra.Command, a *app, p *printer) error {
	active, err := a.env.Claims.Active(cmd.Context())
	if err != nil {
		return err
	}
	now := time.Now()
	rows := make([][]string, 0, len(active))
	for _, c := range active {
		rows = append(rows, []string{
			c.ID, c.OwnerID, relFiles(a.project.Root, c.Files), age(now, c.CreatedAt), c.Description,
		})
	}
	p.table([]string{"ID", "OWNER", "FILES", "AGE", "DESCRIPTION"}, rows)
	return nil
}

// relFiles lists files relative to root where possible.
func relFiles(root string, files []string) string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if rel, err := filepath.Rel(root, f); err == nil && !strings.HasPrefix(rel, "..") {
			f = rel
		}
		out = append(out, f)
	}
	return strings.Join(out, ", ")
}
