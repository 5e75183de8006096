// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sort"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/format"
)

// ErrInvalidCoordinate is returned when an edit addresses a chunk
// outside the array's chunk grid.
var ErrInvalidCoordinate = errors.New("manifest: invalid chunk coordinate")

// DefaultShardSize is the maximum number of entries per shard.
const DefaultShardSize = 4096

// Edit is one change to a manifest: set Coord to Ref, or remove it.
type Edit struct {
	Coord  format.Coord
	Ref    format.ChunkRef
	Delete bool
}

// Set returns an edit that points coord at ref.
func Set(coord format.Coord, ref format.ChunkRef) Edit {
	return Edit{Coord: coord, Ref: ref}
}

// Remove returns an edit that deletes coord.
func Remove(coord format.Coord) Edit {
	return Edit{Coord: coord, Delete: true}
}

// Store reads and writes manifests through the object layer.
type Store struct {
	objects   *cas.Store
	shardSize int
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithShardSize sets the maximum entries per shard.
func WithShardSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.shardSize = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New returns a manifest Store.
func New(objects *cas.Store, options ...Option) *Store {
	store := &Store{
		objects:   objects,
		shardSize: DefaultShardSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(store)
	}
	return store
}

// Get loads a manifest root. The zero identifier yields an empty
// manifest.
func (s *Store) Get(ctx context.Context, id format.ObjectID) (*format.Manifest, error) {
	if id.IsZero() {
		return &format.Manifest{}, nil
	}
	return cas.Load[format.Manifest](ctx, s.objects, format.KindManifest, id)
}

func (s *Store) shard(ctx context.Context, id format.ObjectID) (*format.Shard, error) {
	return cas.Load[format.Shard](ctx, s.objects, format.KindShard, id)
}

// Create writes a manifest holding entries and returns its identifier.
// No entries yields the zero identifier.
func (s *Store) Create(ctx context.Context, entries []format.ManifestEntry, bounds format.Bounds) (format.ObjectID, error) {
	edits := make([]Edit, len(entries))
	for i, entry := range entries {
		edits[i] = Set(entry.Coord, entry.Ref)
	}
	return s.MergeEdit(ctx, format.ObjectID{}, edits, bounds)
}

// Lookup returns the reference stored for coord.
func (s *Store) Lookup(ctx context.Context, id format.ObjectID, coord format.Coord) (format.ChunkRef, bool, error) {
	manifest, err := s.Get(ctx, id)
	if err != nil {
		return format.ChunkRef{}, false, err
	}
	index := shardFor(manifest.Shards, coord)
	if index == len(manifest.Shards) || manifest.Shards[index].First.Compare(coord) > 0 {
		return format.ChunkRef{}, false, nil
	}
	shard, err := s.shard(ctx, manifest.Shards[index].ID)
	if err != nil {
		return format.ChunkRef{}, false, err
	}
	ref, found := shard.Find(coord)
	return ref, found, nil
}

// shardFor returns the index of the first shard whose Last is at or
// after coord, or len(shards).
func shardFor(shards []format.ShardRef, coord format.Coord) int {
	return sort.Search(len(shards), func(i int) bool {
		return shards[i].Last.Compare(coord) >= 0
	})
}

// MergeEdit applies edits to the manifest base and returns the new
// manifest identifier. Every edit coordinate is checked against bounds
// first; one bad coordinate rejects the whole batch with
// ErrInvalidCoordinate and writes nothing. When several edits name the
// same coordinate the last one wins.
func (s *Store) MergeEdit(ctx context.Context, base format.ObjectID, edits []Edit, bounds format.Bounds) (format.ObjectID, error) {
	if err := bounds.Validate(); err != nil {
		return format.ObjectID{}, fmt.Errorf("%w: %v", ErrInvalidCoordinate, err)
	}
	for _, edit := range edits {
		if err := bounds.Check(edit.Coord); err != nil {
			return format.ObjectID{}, fmt.Errorf("%w: %v", ErrInvalidCoordinate, err)
		}
		if !edit.Delete {
			if err := edit.Ref.Validate(); err != nil {
				return format.ObjectID{}, fmt.Errorf("chunk %s: %w", edit.Coord, err)
			}
		}
	}
	return s.merge(ctx, base, edits)
}

// Trim removes every entry outside bounds, as needed after an array
// shrinks. The zero identifier is returned when nothing remains.
func (s *Store) Trim(ctx context.Context, base format.ObjectID, bounds format.Bounds) (format.ObjectID, error) {
	var removals []Edit
	for entry, err := range s.Entries(ctx, base) {
		if err != nil {
			return format.ObjectID{}, err
		}
		if bounds.Check(entry.Coord) != nil {
			removals = append(removals, Remove(entry.Coord))
		}
	}
	return s.merge(ctx, base, removals)
}

func (s *Store) merge(ctx context.Context, base format.ObjectID, edits []Edit) (format.ObjectID, error) {
	if len(edits) == 0 {
		return base, nil
	}
	manifest, err := s.Get(ctx, base)
	if err != nil {
		return format.ObjectID{}, fmt.Errorf("loading base manifest: %w", err)
	}
	edits = normalize(edits)

	// Route each edit to the shard whose range it falls in; edits past
	// the last shard extend it.
	shards := manifest.Shards
	routed := make(map[int][]Edit)
	for _, edit := range edits {
		index := shardFor(shards, edit.Coord)
		if index == len(shards) && index > 0 {
			index--
		}
		routed[index] = append(routed[index], edit)
	}

	var result []format.ShardRef
	rewritten := 0
	for index := 0; index < max(len(shards), 1); index++ {
		shardEdits, touched := routed[index]
		if !touched {
			if index < len(shards) {
				result = append(result, shards[index])
			}
			continue
		}

		var current []format.ManifestEntry
		if index < len(shards) {
			shard, err := s.shard(ctx, shards[index].ID)
			if err != nil {
				return format.ObjectID{}, fmt.Errorf("loading shard %s: %w", shards[index].ID.Short(), err)
			}
			current = shard.Entries
		}

		refs, err := s.writeShards(ctx, apply(current, shardEdits))
		if err != nil {
			return format.ObjectID{}, err
		}
		result = append(result, refs...)
		rewritten++
	}

	if len(result) == 0 {
		return format.ObjectID{}, nil
	}
	id, err := cas.Save(ctx, s.objects, format.KindManifest, &format.Manifest{Shards: result})
	if err != nil {
		return format.ObjectID{}, fmt.Errorf("writing manifest: %w", err)
	}
	s.logger.Debug("merged manifest",
		"base", base.Short(),
		"manifest", id.Short(),
		"edits", len(edits),
		"shards", len(result),
		"shards_rewritten", rewritten,
	)
	return id, nil
}

// normalize sorts edits by coordinate and keeps the last edit for each
// coordinate.
func normalize(edits []Edit) []Edit {
	sorted := slices.Clone(edits)
	slices.SortStableFunc(sorted, func(a, b Edit) int { return a.Coord.Compare(b.Coord) })
	out := sorted[:0]
	for i, edit := range sorted {
		if i+1 < len(sorted) && sorted[i+1].Coord.Equal(edit.Coord) {
			continue
		}
		out = append(out, edit)
	}
	return out
}

// apply merges sorted, deduplicated edits into sorted entries.
func apply(entries []format.ManifestEntry, edits []Edit) []format.ManifestEntry {
	out := make([]format.ManifestEntry, 0, len(entries)+len(edits))
	i, j := 0, 0
	for i < len(entries) || j < len(edits) {
		switch {
		case j == len(edits) || (i < len(entries) && entries[i].Coord.Compare(edits[j].Coord) < 0):
			out = append(out, entries[i])
			i++
		case i == len(entries) || entries[i].Coord.Compare(edits[j].Coord) > 0:
			if !edits[j].Delete {
				out = append(out, format.ManifestEntry{Coord: edits[j].Coord.Clone(), Ref: edits[j].Ref})
			}
			j++
		default:
			if !edits[j].Delete {
				out = append(out, format.ManifestEntry{Coord: entries[i].Coord, Ref: edits[j].Ref})
			}
			i++
			j++
		}
	}
	return out
}

// writeShards splits entries into shards of at most shardSize and
// writes them. No entries writes nothing.
func (s *Store) writeShards(ctx context.Context, entries []format.ManifestEntry) ([]format.ShardRef, error) {
	var refs []format.ShardRef
	for chunk := range slices.Chunk(entries, s.shardSize) {
		id, err := cas.Save(ctx, s.objects, format.KindShard, &format.Shard{Entries: chunk})
		if err != nil {
			return nil, fmt.Errorf("writing shard: %w", err)
		}
		refs = append(refs, format.ShardRef{
			ID:    id,
			First: chunk[0].Coord,
			Last:  chunk[len(chunk)-1].Coord,
			Count: len(chunk),
		})
	}
	return refs, nil
}

// Entries iterates every entry of a manifest in coordinate order,
// loading one shard at a time. Iteration stops after the first error.
func (s *Store) Entries(ctx context.Context, id format.ObjectID) iter.Seq2[format.ManifestEntry, error] {
	return func(yield func(format.ManifestEntry, error) bool) {
		manifest, err := s.Get(ctx, id)
		if err != nil {
			yield(format.ManifestEntry{}, err)
			return
		}
		for _, ref := range manifest.Shards {
			shard, err := s.shard(ctx, ref.ID)
			if err != nil {
				yield(format.ManifestEntry{}, fmt.Errorf("loading shard %s: %w", ref.ID.Short(), err))
				return
			}
			for _, entry := range shard.Entries {
				if !yield(entry, nil) {
					return
				}
			}
		}
	}
}
