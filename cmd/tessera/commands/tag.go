// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/tessera-data/tessera/cmd/tessera/cli"
	"github.com/tessera-data/tessera/lib/repository"
)

func tagCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:    "tag",
		Summary: "List, create and delete tags",
		Subcommands: []*cli.Command{
			tagListCommand(e),
			tagCreateCommand(e),
			tagDeleteCommand(e),
		},
	}
}

func tagListCommand(e *env) *cli.Command {
	var (
		flags  repoFlags
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "list",
		Summary: "List tags",
		Usage:   "tessera tag list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("list", &flags)
			flagSet.BoolVar(&output.OutputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 0, 0, "tessera tag list [flags]"); err != nil {
				return err
			}
			repo, _, err := e.open(ctx, &flags, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			tags, err := repo.ListTags(ctx)
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(e.stdout, refEntries(tags)); done {
				return err
			}
			return e.writeRefs(tags)
		},
	}
}

func tagCreateCommand(e *env) *cli.Command {
	var flags repoFlags
	return &cli.Command{
		Name:    "create",
		Summary: "Tag a revision",
		Description: `Tag a revision (default "main"). Tags never move, and the name of a
deleted tag cannot be reused.`,
		Usage: "tessera tag create <name> [revision] [flags]",
		Flags: func() *pflag.FlagSet { return newFlagSet("create", &flags) },
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 1, 2, "tessera tag create <name> [revision] [flags]"); err != nil {
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
			if err := repo.CreateTag(ctx, args[0], at); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Created tag %s at %s\n", args[0], shortID(at))
			return nil
		},
	}
}

func tagDeleteCommand(e *env) *cli.Command {
	var flags repoFlags
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a tag",
		Usage:   "tessera tag delete <name> [flags]",
		Flags:   func() *pflag.FlagSet { return newFlagSet("delete", &flags) },
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 1, 1, "tessera tag delete <name> [flags]"); err != nil {
				return err
			}
			repo, _, err := e.open(ctx, &flags, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.DeleteTag(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Deleted tag %s\n", args[0])
			return nil
		},
	}
}
