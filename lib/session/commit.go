// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/tessera-data/tessera/lib/conflict"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/manifest"
	"github.com/tessera-data/tessera/lib/snapshot"
)

// Commit writes the session's edits as a new snapshot and moves the
// branch to it, rebasing over disjoint concurrent commits.
//
// On success the session is Committed. Overlapping changes or an
// exhausted retry budget leave it Conflicted, with an error matching
// conflict.ErrConflict or conflict.ErrRetryExhausted. Any other failure,
// typically object-store I/O, returns it to Open with its edits intact
// so the caller can retry.
func (s *Session) Commit(ctx context.Context, message string) (format.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return format.ObjectID{}, err
	}
	if !s.hasChanges() {
		return format.ObjectID{}, ErrNoChanges
	}

	s.transition(Committing)
	start := time.Now()
	ours := s.changeSet()
	id, err := s.config.Resolver.Commit(ctx, s.branch, s.base, ours, func(ctx context.Context, parent format.ObjectID) (format.ObjectID, error) {
		return s.build(ctx, parent, message)
	})
	switch {
	case err == nil:
		s.transition(Committed)
		s.committed = id
		s.logger.Info("session committed",
			"branch", s.branch,
			"snapshot", id.Short(),
			"base", s.base.Short(),
			"changes", len(ours),
			"duration", time.Since(start),
		)
		return id, nil

	case errors.Is(err, conflict.ErrConflict), errors.Is(err, conflict.ErrRetryExhausted):
		s.transition(Conflicted)
		s.logger.Warn("session commit conflicted", "branch", s.branch, "error", err)
		return format.ObjectID{}, err

	default:
		s.transition(Open)
		s.logger.Warn("session commit failed", "branch", s.branch, "error", err)
		return format.ObjectID{}, err
	}
}

// changeSet describes the session's edits as tree changes against its
// base, for conflict classification.
func (s *Session) changeSet() []snapshot.Change {
	var changes []snapshot.Change
	for path, change := range s.nodes {
		if change.deleted {
			changes = append(changes, snapshot.Change{Kind: snapshot.NodeDeleted, Path: path})
		}
		switch {
		case change.node == nil:
		case change.fresh:
			changes = append(changes, snapshot.Change{Kind: snapshot.NodeAdded, Path: path})
		default:
			changes = append(changes, snapshot.Change{Kind: snapshot.MetadataChanged, Path: path})
		}
	}
	for path, edits := range s.chunks {
		for _, edit := range edits {
			changes = append(changes, snapshot.Change{Kind: snapshot.ChunkChanged, Path: path, Coord: edit.Coord})
		}
	}
	return changes
}

func depth(path string) int {
	if path == snapshot.RootPath {
		return 0
	}
	return strings.Count(path, "/")
}

// build applies the session's edits on top of the snapshot parent and
// writes the result. It runs once per commit attempt; on a rebase,
// parent is the newer branch tip and array manifests are merged into
// the tip's manifests.
func (s *Session) build(ctx context.Context, parent format.ObjectID, message string) (format.ObjectID, error) {
	parentSnapshot, err := s.config.Snapshots.Get(ctx, parent)
	if err != nil {
		return format.ObjectID{}, err
	}
	root := parentSnapshot.Root

	var edits []snapshot.TreeEdit
	for _, path := range slices.Sorted(maps.Keys(s.nodes)) {
		if s.nodes[path].deleted {
			edits = append(edits, snapshot.DeleteNode(path))
		}
	}

	puts := make(map[string]bool, len(s.nodes)+len(s.chunks))
	for path, change := range s.nodes {
		if change.node != nil {
			puts[path] = true
		}
	}
	for path := range s.chunks {
		puts[path] = true
	}
	order := slices.Collect(maps.Keys(puts))
	slices.SortFunc(order, func(a, b string) int {
		return cmp.Or(cmp.Compare(depth(a), depth(b)), strings.Compare(a, b))
	})

	for _, path := range order {
		change := s.nodes[path]
		var node *format.Node
		if change != nil && change.node != nil {
			node = change.node.Clone()
		} else {
			current, _, err := s.config.Snapshots.Node(ctx, root, path)
			if err != nil {
				return format.ObjectID{}, fmt.Errorf("array %s: %w", path, err)
			}
			node = current.Clone()
		}
		if node.Kind == format.NodeArray {
			if node.Manifest, err = s.buildManifest(ctx, root, path, change, node); err != nil {
				return format.ObjectID{}, err
			}
		}
		edits = append(edits, snapshot.PutNode(path, node))
	}

	properties := maps.Clone(s.properties)
	return s.config.Snapshots.CommitTree(ctx, snapshot.CommitRequest{
		Parent:     parent,
		Edits:      edits,
		Message:    message,
		Author:     s.config.Author,
		Properties: properties,
	})
}

// buildManifest returns the manifest of the array at path after the
// session's edits, starting from the array's manifest under root.
func (s *Session) buildManifest(ctx context.Context, root format.ObjectID, path string, change *nodeChange, node *format.Node) (format.ObjectID, error) {
	manifests := s.config.Snapshots.Manifests()
	bounds := format.BoundsOf(node)

	var base format.ObjectID
	if change == nil || !change.fresh {
		current, _, err := s.config.Snapshots.Node(ctx, root, path)
		if err != nil {
			return format.ObjectID{}, fmt.Errorf("array %s: %w", path, err)
		}
		if current.Kind == format.NodeArray {
			base = current.Manifest
			if shrinks(current.Shape, node.Shape) {
				if base, err = manifests.Trim(ctx, base, bounds); err != nil {
					return format.ObjectID{}, fmt.Errorf("trimming %s: %w", path, err)
				}
			}
		}
	}

	pending := s.chunks[path]
	if len(pending) == 0 {
		return base, nil
	}
	edits := slices.Collect(maps.Values(pending))
	slices.SortFunc(edits, func(a, b manifest.Edit) int { return a.Coord.Compare(b.Coord) })
	id, err := manifests.MergeEdit(ctx, base, edits, bounds)
	if err != nil {
		return format.ObjectID{}, fmt.Errorf("writing manifest of %s: %w", path, err)
	}
	return id, nil
}

func shrinks(before, after []uint64) bool {
	if len(before) != len(after) {
		return true
	}
	for i := range before {
		if after[i] < before[i] {
			return true
		}
	}
	return false
}
