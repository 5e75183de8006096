// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"io"

	"github.com/tessera-data/tessera/cmd/tessera/cli"
)

// Root returns the tessera command tree writing results to stdout and
// help and logs to stderr.
func Root(stdout, stderr io.Writer) *cli.Command {
	e := &env{stdout: stdout, stderr: stderr}
	return &cli.Command{
		Name: "tessera",
		Description: `Administer a Tessera repository: versioned, transactional storage
for chunked arrays in an object store.`,
		Output: stderr,
		Subcommands: []*cli.Command{
			initCommand(e),
			logCommand(e),
			lsCommand(e),
			diffCommand(e),
			branchCommand(e),
			tagCommand(e),
			gcCommand(e),
		},
	}
}
