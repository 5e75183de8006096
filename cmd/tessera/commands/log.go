// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/pflag"

	"github.com/tessera-data/tessera/cmd/tessera/cli"
	"github.com/tessera-data/tessera/lib/repository"
)

type logEntry struct {
	ID         string            `json:"id"`
	Parent     string            `json:"parent,omitempty"`
	Message    string            `json:"message"`
	Author     string            `json:"author,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Properties map[string]string `json:"properties,omitempty"`
}

func logCommand(e *env) *cli.Command {
	var (
		flags  repoFlags
		output cli.JSONOutput
		limit  int
	)
	return &cli.Command{
		Name:    "log",
		Summary: "Show snapshot history",
		Description: `Show the history of a revision (a snapshot identifier, branch or
tag; default "main"), newest first. History expired by garbage
collection ends the listing early.`,
		Usage: "tessera log [revision] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("log", &flags)
			flagSet.IntVarP(&limit, "limit", "n", 0, "show at most this many snapshots (0 for all)")
			flagSet.BoolVar(&output.OutputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 0, 1, "tessera log [revision] [flags]"); err != nil {
				return err
			}
			revision := repository.DefaultBranch
			if len(args) == 1 {
				revision = args[0]
			}
			repo, logger, err := e.open(ctx, &flags, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			tip, err := repo.Resolve(ctx, revision)
			if err != nil {
				return err
			}
			var entries []logEntry
			for entry, err := range repo.Ancestors(ctx, tip) {
				if errors.Is(err, repository.ErrNotFound) && len(entries) > 0 {
					logger.Info("history truncated by garbage collection", "after", entries[len(entries)-1].ID)
					break
				}
				if err != nil {
					return err
				}
				snap := entry.Snapshot
				logged := logEntry{
					ID:         entry.ID.String(),
					Message:    snap.Message,
					Author:     snap.Author,
					Timestamp:  snap.Timestamp,
					Properties: snap.Properties,
				}
				if !snap.IsRoot() {
					logged.Parent = snap.Parent.String()
				}
				entries = append(entries, logged)
				if limit > 0 && len(entries) == limit {
					break
				}
			}

			if done, err := output.EmitJSON(e.stdout, entries); done {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintf(e.stdout, "snapshot %s\n", entry.ID)
				if entry.Author != "" {
					fmt.Fprintf(e.stdout, "Author: %s\n", entry.Author)
				}
				fmt.Fprintf(e.stdout, "Date:   %s\n", entry.Timestamp.Format(time.RFC3339))
				for _, key := range slices.Sorted(maps.Keys(entry.Properties)) {
					fmt.Fprintf(e.stdout, "%s: %s\n", key, entry.Properties[key])
				}
				fmt.Fprintf(e.stdout, "\n    %s\n\n", entry.Message)
			}
			return nil
		},
	}
}
