// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/tessera-data/tessera/cmd/tessera/cli"
)

type diffEntry struct {
	Kind  string   `json:"kind"`
	Path  string   `json:"path"`
	Coord []uint32 `json:"coord,omitempty"`
}

func diffCommand(e *env) *cli.Command {
	var (
		flags  repoFlags
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "diff",
		Summary: "Show the changes between two revisions",
		Usage:   "tessera diff <from> <to> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("diff", &flags)
			flagSet.BoolVar(&output.OutputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Changes on dev since it branched from v1.0", Command: "tessera diff v1.0 dev"},
		},
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 2, 2, "tessera diff <from> <to> [flags]"); err != nil {
				return err
			}
			repo, _, err := e.open(ctx, &flags, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			from, err := repo.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			to, err := repo.Resolve(ctx, args[1])
			if err != nil {
				return err
			}
			changes, err := repo.Diff(ctx, from, to)
			if err != nil {
				return err
			}

			entries := make([]diffEntry, 0, len(changes))
			for _, change := range changes {
				entries = append(entries, diffEntry{Kind: change.Kind.String(), Path: change.Path, Coord: change.Coord})
			}
			if done, err := output.EmitJSON(e.stdout, entries); done {
				return err
			}
			for _, change := range changes {
				fmt.Fprintln(e.stdout, change)
			}
			return nil
		},
	}
}
