// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/snapshot"
)

// lookup returns the node at path as the session sees it. The result
// must not be modified.
func (s *Session) lookup(ctx context.Context, path string) (*format.Node, error) {
	if err := snapshot.ValidatePath(path); err != nil {
		return nil, err
	}
	if change, ok := s.nodes[path]; ok {
		if change.node == nil {
			return nil, fmt.Errorf("%w: %s", snapshot.ErrNoSuchNode, path)
		}
		return change.node, nil
	}
	if s.hiddenByAncestor(path) {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrNoSuchNode, path)
	}
	node, _, err := s.config.Snapshots.Node(ctx, s.baseRoot, path)
	return node, err
}

// hiddenByAncestor reports whether a group above path was deleted or
// replaced in this session, so the base tree below it is gone.
func (s *Session) hiddenByAncestor(path string) bool {
	for current := path; current != snapshot.RootPath; {
		current, _ = snapshot.ParentPath(current)
		if change, ok := s.nodes[current]; ok && (change.deleted || change.fresh) {
			return true
		}
	}
	return false
}

// Node returns a copy of the node at path. Groups are returned without
// their members; use List.
func (s *Session) Node(ctx context.Context, path string) (*format.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, err := s.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	out := node.Clone()
	out.Children = nil
	return out, nil
}

// List returns the names of the members of the group at path, sorted.
func (s *Session) List(ctx context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, err := s.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	if node.Kind != format.NodeGroup {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrNotGroup, path)
	}

	members := make(map[string]bool)
	if change, ok := s.nodes[path]; !ok || !change.fresh {
		// The group exists in the base tree and keeps its members.
		base, _, err := s.config.Snapshots.Node(ctx, s.baseRoot, path)
		if err != nil {
			return nil, err
		}
		for _, child := range base.Children {
			members[child.Name] = true
		}
	}
	for other, change := range s.nodes {
		if other == snapshot.RootPath {
			continue
		}
		parent, name := snapshot.ParentPath(other)
		if parent != path {
			continue
		}
		members[name] = change.node != nil
	}

	var names []string
	for name, present := range members {
		if present {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// ChunkRef returns the reference stored for coord of the array at path,
// or an error matching ErrNoSuchChunk.
func (s *Session) ChunkRef(ctx context.Context, path string, coord format.Coord) (format.ChunkRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkRef(ctx, path, coord)
}

func (s *Session) chunkRef(ctx context.Context, path string, coord format.Coord) (format.ChunkRef, error) {
	node, err := s.array(ctx, path, coord)
	if err != nil {
		return format.ChunkRef{}, err
	}
	if edit, ok := s.chunks[path][coord.Key()]; ok {
		if edit.Delete {
			return format.ChunkRef{}, fmt.Errorf("%w: %s%s", ErrNoSuchChunk, path, coord)
		}
		return edit.Ref, nil
	}

	// Fresh arrays carry the zero manifest; updated ones keep the
	// base manifest.
	ref, found, err := s.config.Snapshots.Manifests().Lookup(ctx, node.Manifest, coord)
	if err != nil {
		return format.ChunkRef{}, fmt.Errorf("looking up %s%s: %w", path, coord, err)
	}
	if !found {
		return format.ChunkRef{}, fmt.Errorf("%w: %s%s", ErrNoSuchChunk, path, coord)
	}
	return ref, nil
}

// ReadChunk returns the payload of the chunk at coord. Virtual
// references are read from the configured virtual store.
func (s *Session) ReadChunk(ctx context.Context, path string, coord format.Coord) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, err := s.chunkRef(ctx, path, coord)
	if err != nil {
		return nil, err
	}
	if ref.Kind != format.RefVirtual {
		return s.config.Objects.ReadRange(ctx, ref)
	}
	if s.config.Virtual == nil {
		return nil, fmt.Errorf("%w: %s (no virtual chunk store configured)", cas.ErrUnmanaged, ref)
	}
	data, err := s.config.Virtual.GetRange(ctx, ref.Location, int64(ref.Offset), int64(ref.Length))
	if err != nil {
		return nil, fmt.Errorf("reading virtual chunk %s%s: %w", path, coord, err)
	}
	return data, nil
}
