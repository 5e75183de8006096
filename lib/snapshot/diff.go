// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"fmt"

	"github.com/tessera-data/tessera/lib/format"
)

// ChangeKind classifies one difference between two trees.
type ChangeKind uint8

const (
	// NodeAdded: a node exists at Path only in the newer tree. Its
	// descendants are not listed separately.
	NodeAdded ChangeKind = iota + 1

	// NodeDeleted: a node exists at Path only in the older tree.
	NodeDeleted

	// MetadataChanged: the node at Path changed attributes, array
	// metadata, shape or kind.
	MetadataChanged

	// ChunkChanged: the chunk at Coord of the array at Path was
	// added, removed or rewritten.
	ChunkChanged
)

func (k ChangeKind) String() string {
	switch k {
	case NodeAdded:
		return "added"
	case NodeDeleted:
		return "deleted"
	case MetadataChanged:
		return "metadata"
	case ChunkChanged:
		return "chunk"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Change is one difference between two snapshots.
type Change struct {
	Kind  ChangeKind
	Path  string
	Coord format.Coord
}

func (c Change) String() string {
	if c.Kind == ChunkChanged {
		return fmt.Sprintf("%s %s%s", c.Kind, c.Path, c.Coord)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Path)
}

// Diff returns the changes that turn snapshot from into snapshot to.
// Subtrees with equal identifiers are skipped without being loaded, and
// arrays whose manifests are equal are not compared chunk by chunk.
func (s *Store) Diff(ctx context.Context, from, to format.ObjectID) ([]Change, error) {
	before, err := s.Get(ctx, from)
	if err != nil {
		return nil, err
	}
	after, err := s.Get(ctx, to)
	if err != nil {
		return nil, err
	}
	var changes []Change
	if err := s.diffNodes(ctx, RootPath, before.Root, after.Root, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// DiffRoots compares two trees by root node identifier.
func (s *Store) DiffRoots(ctx context.Context, fromRoot, toRoot format.ObjectID) ([]Change, error) {
	var changes []Change
	if err := s.diffNodes(ctx, RootPath, fromRoot, toRoot, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *Store) diffNodes(ctx context.Context, path string, fromID, toID format.ObjectID, changes *[]Change) error {
	if fromID == toID {
		return nil
	}
	from, err := s.GetNode(ctx, fromID)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	to, err := s.GetNode(ctx, toID)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}

	if from.Kind != to.Kind {
		// A group replaced by an array (or the reverse) is a new node
		// at the same path.
		*changes = append(*changes, Change{Kind: NodeDeleted, Path: path}, Change{Kind: NodeAdded, Path: path})
		return nil
	}
	if !from.SameContent(to) {
		*changes = append(*changes, Change{Kind: MetadataChanged, Path: path})
	}

	if from.Kind == format.NodeArray {
		if from.Manifest == to.Manifest {
			return nil
		}
		chunks, err := s.manifests.Diff(ctx, from.Manifest, to.Manifest)
		if err != nil {
			return fmt.Errorf("comparing chunks of %s: %w", path, err)
		}
		for _, chunk := range chunks {
			*changes = append(*changes, Change{Kind: ChunkChanged, Path: path, Coord: chunk.Coord})
		}
		return nil
	}

	i, j := 0, 0
	for i < len(from.Children) || j < len(to.Children) {
		switch {
		case j == len(to.Children) || (i < len(from.Children) && from.Children[i].Name < to.Children[j].Name):
			*changes = append(*changes, Change{Kind: NodeDeleted, Path: JoinPath(path, from.Children[i].Name)})
			i++
		case i == len(from.Children) || from.Children[i].Name > to.Children[j].Name:
			*changes = append(*changes, Change{Kind: NodeAdded, Path: JoinPath(path, to.Children[j].Name)})
			j++
		default:
			if err := s.diffNodes(ctx, JoinPath(path, from.Children[i].Name), from.Children[i].ID, to.Children[j].ID, changes); err != nil {
				return err
			}
			i++
			j++
		}
	}
	return nil
}
