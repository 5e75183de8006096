// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/tessera-data/tessera/cmd/tessera/cli"
)

func gcCommand(e *env) *cli.Command {
	var (
		flags  repoFlags
		output cli.JSONOutput
		dryRun bool
	)
	return &cli.Command{
		Name:    "gc",
		Summary: "Delete unreachable objects",
		Description: `Delete content objects no branch or tag can reach. Objects younger
than gc.safety_window are kept so that commits still in flight are not
broken; with gc.retention set, history older than the retention period
is expired as well.`,
		Usage: "tessera gc [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("gc", &flags)
			flagSet.BoolVarP(&dryRun, "dry-run", "n", false, "report what would be deleted without deleting")
			flagSet.BoolVar(&output.OutputJSON, "json", false, "output the report as JSON")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "See what a collection would delete", Command: "tessera gc --dry-run"},
		},
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 0, 0, "tessera gc [flags]"); err != nil {
				return err
			}
			repo, _, err := e.open(ctx, &flags, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			report, err := repo.GarbageCollect(ctx, dryRun)
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(e.stdout, report); done {
				return err
			}
			fmt.Fprintln(e.stdout, report)
			if report.Failed > 0 {
				return fmt.Errorf("%d deletes failed; run gc again to retry", report.Failed)
			}
			return nil
		},
	}
}
