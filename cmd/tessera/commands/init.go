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

func initCommand(e *env) *cli.Command {
	var flags repoFlags
	return &cli.Command{
		Name:    "init",
		Summary: "Create an empty repository",
		Description: `Create an empty repository in the configured storage: a root
snapshot with no nodes and a "main" branch pointing at it. Fails if the
storage already holds a repository.`,
		Usage: "tessera init [flags]",
		Flags: func() *pflag.FlagSet { return newFlagSet("init", &flags) },
		Examples: []cli.Example{
			{Description: "Initialize a local repository", Command: "tessera init --path ./data"},
		},
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 0, 0, "tessera init [flags]"); err != nil {
				return err
			}
			repo, _, err := e.open(ctx, &flags, true)
			if err != nil {
				return err
			}
			defer repo.Close()

			main, err := repo.Branch(ctx, repository.DefaultBranch)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Initialized repository; %s at %s\n", main.Name, main.Snapshot)
			return nil
		},
	}
}
