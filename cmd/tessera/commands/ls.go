// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/tessera-data/tessera/cmd/tessera/cli"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/repository"
	"github.com/tessera-data/tessera/lib/snapshot"
)

type listedNode struct {
	Path       string   `json:"path"`
	Kind       string   `json:"kind"`
	Shape      []uint64 `json:"shape,omitempty"`
	ChunkShape []uint64 `json:"chunk_shape,omitempty"`
}

func lsCommand(e *env) *cli.Command {
	var (
		flags  repoFlags
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "ls",
		Summary: "List the nodes under a path",
		Usage:   "tessera ls [revision] [path] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("ls", &flags)
			flagSet.BoolVar(&output.OutputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "List the root group of main", Command: "tessera ls"},
			{Command: "tessera ls v1.0 /climate"},
		},
		Run: func(ctx context.Context, args []string) error {
			if err := expectArgs(args, 0, 2, "tessera ls [revision] [path] [flags]"); err != nil {
				return err
			}
			revision, path := repository.DefaultBranch, snapshot.RootPath
			if len(args) > 0 {
				revision = args[0]
			}
			if len(args) > 1 {
				path = args[1]
			}
			repo, _, err := e.open(ctx, &flags, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			id, err := repo.Resolve(ctx, revision)
			if err != nil {
				return err
			}
			s, err := repo.ReadonlyAt(ctx, id)
			if err != nil {
				return err
			}
			names, err := s.List(ctx, path)
			if err != nil {
				return err
			}
			nodes := make([]listedNode, 0, len(names))
			for _, name := range names {
				child := snapshot.JoinPath(path, name)
				node, err := s.Node(ctx, child)
				if err != nil {
					return err
				}
				listed := listedNode{Path: child, Kind: "group"}
				if node.Kind == format.NodeArray {
					listed.Kind = "array"
					listed.Shape = node.Shape
					listed.ChunkShape = node.ChunkShape
				}
				nodes = append(nodes, listed)
			}

			if done, err := output.EmitJSON(e.stdout, nodes); done {
				return err
			}
			tw := tabwriter.NewWriter(e.stdout, 2, 0, 3, ' ', 0)
			for _, node := range nodes {
				if node.Kind == "array" {
					fmt.Fprintf(tw, "%s\t%s\t%v\t%v\n", node.Path, node.Kind, node.Shape, node.ChunkShape)
				} else {
					fmt.Fprintf(tw, "%s\t%s\t\t\n", node.Path, node.Kind)
				}
			}
			return tw.Flush()
		},
	}
}
