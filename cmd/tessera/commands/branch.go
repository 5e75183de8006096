// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/tessera-data/tessera/cmd/tessera/cli"
	"github.com/tessera-data/tessera/lib/refs"
	"github.com/tessera-data/tessera/lib/repository"
)

type refEntry struct {
	Name      string    `json:"name"`
	Snapshot  string    `json:"snapshot"`
	Version   uint64    `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func refEntries(list []refs.Ref) []refEntry {
	entries := make([]refEntry, 0, len(list))
	for _, ref := range list {
		entries = append(entries, refEntry{
			Name:      ref.Name,
			Snapshot:  ref.Snapshot.String(),
			Version:   ref.Version,
			UpdatedAt: ref.UpdatedAt,
		})
	}
	return entries
}

// writeRefs prints references as a table.
func (e *env) writeRefs(list []refs.Ref) error {
	tw := tabwriter.NewWriter(e.stdout, 2, 0, 3, ' ', 0)
	for _, ref := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ref.Name, shortID(ref.Snapshot), humanize.Time(ref.UpdatedAt))
	}
	return tw.Flush()
}

func branchCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:    "branch",
		Summary: "List, create and delete branches",
		Subcommands: []*cli.Command{
			branchListCommand(e),
			branchCreateCommand(e),
			branchDeleteCommand(e),
		},
	}
}

func branchListCommand(e *env) *cli.Command {
	var (
		flags  repoFlags
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "list",
		Summary: "List branches",
		Usage:   "tessera branch list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("list", &flags)
			flagSet.BoolVar(&output.OutputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 0, 0, "tessera branch list [flags]"); err != nil {
				return err
			}
			repo, _, err := e.open(ctx, &flags, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			branches, err := repo.ListBranches(ctx)
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(e.stdout, refEntries(branches)); done {
				return err
			}
			return e.writeRefs(branches)
		},
	}
}

func branchCreateCommand(e *env) *cli.Command {
	var flags repoFlags
	return &cli.Command{
		Name:        "create",
		Summary:     "Create a branch",
		Description: `Create a branch at a revision (default "main").`,
		Usage:       "tessera branch create <name> [revision] [flags]",
		Flags:       func() *pflag.FlagSet { return newFlagSet("create", &flags) },
		Examples: []cli.Example{
			{Description: "Branch from the v1.0 tag", Command: "tessera branch create hotfix v1.0"},
		},
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 1, 2, "tessera branch create <name> [revision] [flags]"); err != nil {
				return err
			}
			revision := repository.DefaultBranch
			if len(args) == 2 {
				revision = args[1]
			}
			repo, _, err := e.open(ctx, &flags, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			at, err := repo.Resolve(ctx, revision)
			if err != nil {
				return err
			}
			if err := repo.CreateBranch(ctx, args[0], at); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Created branch %s at %s\n", args[0], shortID(at))
			return nil
		},
	}
}

func branchDeleteCommand(e *env) *cli.Command {
	var flags repoFlags
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a branch",
		Description: `Delete a branch. Its snapshots stay readable by identifier until
garbage collection removes the unreachable ones.`,
		Usage: "tessera branch delete <name> [flags]",
		Flags: func() *pflag.FlagSet { return newFlagSet("delete", &flags) },
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 1, 1, "tessera branch delete <name> [flags]"); err != nil {
				return err
			}
			repo, _, err := e.open(ctx, &flags, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.DeleteBranch(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Deleted branch %s\n", args[0])
			return nil
		},
	}
}
