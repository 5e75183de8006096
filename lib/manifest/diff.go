// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"fmt"

	"github.com/tessera-data/tessera/lib/format"
)

// ChunkChange is one coordinate whose reference differs between two
// manifests. Before is the zero ChunkRef when the chunk was added,
// After when it was removed.
type ChunkChange struct {
	Coord  format.Coord
	Before format.ChunkRef
	After  format.ChunkRef
}

// Added reports whether the chunk did not exist before.
func (c ChunkChange) Added() bool { return c.Before.Kind == 0 }

// Removed reports whether the chunk no longer exists.
func (c ChunkChange) Removed() bool { return c.After.Kind == 0 }

// Diff returns the chunks whose references differ between manifests a
// and b, in coordinate order. Shards present in both manifests are
// identical by construction and are never fetched.
func (s *Store) Diff(ctx context.Context, a, b format.ObjectID) ([]ChunkChange, error) {
	if a == b {
		return nil, nil
	}
	before, err := s.Get(ctx, a)
	if err != nil {
		return nil, err
	}
	after, err := s.Get(ctx, b)
	if err != nil {
		return nil, err
	}

	shared := make(map[format.ObjectID]bool)
	inBefore := make(map[format.ObjectID]bool, len(before.Shards))
	for _, shard := range before.Shards {
		inBefore[shard.ID] = true
	}
	for _, shard := range after.Shards {
		if inBefore[shard.ID] {
			shared[shard.ID] = true
		}
	}

	left, err := s.unsharedEntries(ctx, before, shared)
	if err != nil {
		return nil, err
	}
	right, err := s.unsharedEntries(ctx, after, shared)
	if err != nil {
		return nil, err
	}

	var changes []ChunkChange
	i, j := 0, 0
	for i < len(left) || j < len(right) {
		switch {
		case j == len(right) || (i < len(left) && left[i].Coord.Compare(right[j].Coord) < 0):
			changes = append(changes, ChunkChange{Coord: left[i].Coord, Before: left[i].Ref})
			i++
		case i == len(left) || left[i].Coord.Compare(right[j].Coord) > 0:
			changes = append(changes, ChunkChange{Coord: right[j].Coord, After: right[j].Ref})
			j++
		default:
			if !left[i].Ref.Equal(right[j].Ref) {
				changes = append(changes, ChunkChange{Coord: left[i].Coord, Before: left[i].Ref, After: right[j].Ref})
			}
			i++
			j++
		}
	}
	return changes, nil
}

// unsharedEntries concatenates the entries of every shard not in
// shared. Shards cover disjoint increasing ranges, so the result is
// sorted.
func (s *Store) unsharedEntries(ctx context.Context, manifest *format.Manifest, shared map[format.ObjectID]bool) ([]format.ManifestEntry, error) {
	var entries []format.ManifestEntry
	for _, ref := range manifest.Shards {
		if shared[ref.ID] {
			continue
		}
		shard, err := s.shard(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("loading shard %s: %w", ref.ID.Short(), err)
		}
		entries = append(entries, shard.Entries...)
	}
	return entries, nil
}
