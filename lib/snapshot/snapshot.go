// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/clock"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/manifest"
	"github.com/tessera-data/tessera/lib/objectstore"
)

var (
	// ErrNoSuchNode is returned when a path does not name a node. It
	// matches objectstore.ErrNotFound.
	ErrNoSuchNode = fmt.Errorf("snapshot: no such node: %w", objectstore.ErrNotFound)

	// ErrNotGroup is returned when a path component that must be a
	// group names an array.
	ErrNotGroup = errors.New("snapshot: not a group")
)

// Store reads and writes snapshots and tree nodes.
type Store struct {
	objects   *cas.Store
	manifests *manifest.Store
	clock     clock.Clock
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for commit timestamps.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clock.OrReal(clk) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New returns a snapshot Store. manifests is used by Diff to compare
// array contents.
func New(objects *cas.Store, manifests *manifest.Store, options ...Option) *Store {
	store := &Store{
		objects:   objects,
		manifests: manifests,
		clock:     clock.Real(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(store)
	}
	return store
}

// Manifests returns the manifest store used for array contents.
func (s *Store) Manifests() *manifest.Store { return s.manifests }

// Get loads a snapshot. The result is shared and read-only.
func (s *Store) Get(ctx context.Context, id format.ObjectID) (*format.Snapshot, error) {
	snapshot, err := cas.Load[format.Snapshot](ctx, s.objects, format.KindSnapshot, id)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", id.Short(), err)
	}
	return snapshot, nil
}

// GetNode loads a tree node. The result is shared and read-only.
func (s *Store) GetNode(ctx context.Context, id format.ObjectID) (*format.Node, error) {
	return cas.Load[format.Node](ctx, s.objects, format.KindNode, id)
}

// Node resolves path under the root node rootID and returns the node
// and its identifier.
func (s *Store) Node(ctx context.Context, rootID format.ObjectID, path string) (*format.Node, format.ObjectID, error) {
	components, err := SplitPath(path)
	if err != nil {
		return nil, format.ObjectID{}, err
	}
	id := rootID
	node, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, format.ObjectID{}, err
	}
	for i, name := range components {
		if node.Kind != format.NodeGroup {
			return nil, format.ObjectID{}, fmt.Errorf("%w: %s", ErrNoSuchNode, path)
		}
		childID, ok := node.Child(name)
		if !ok {
			return nil, format.ObjectID{}, fmt.Errorf("%w: %s", ErrNoSuchNode, path)
		}
		id = childID
		if node, err = s.GetNode(ctx, id); err != nil {
			return nil, format.ObjectID{}, fmt.Errorf("loading %s: %w", "/"+strings.Join(components[:i+1], "/"), err)
		}
	}
	return node, id, nil
}

// CreateRoot writes the first snapshot of a repository: an empty root
// group with no parent.
func (s *Store) CreateRoot(ctx context.Context, message, author string) (format.ObjectID, error) {
	rootID, err := cas.Save(ctx, s.objects, format.KindNode, &format.Node{Kind: format.NodeGroup})
	if err != nil {
		return format.ObjectID{}, fmt.Errorf("writing root node: %w", err)
	}
	return s.writeSnapshot(ctx, &format.Snapshot{
		Version:   format.SnapshotVersion,
		Root:      rootID,
		Message:   message,
		Author:    author,
		Timestamp: s.clock.Now().UTC(),
	})
}

func (s *Store) writeSnapshot(ctx context.Context, snapshot *format.Snapshot) (format.ObjectID, error) {
	id, err := cas.Save(ctx, s.objects, format.KindSnapshot, snapshot)
	if err != nil {
		return format.ObjectID{}, fmt.Errorf("writing snapshot: %w", err)
	}
	s.logger.Debug("wrote snapshot", "snapshot", id.Short(), "parent", snapshot.Parent.Short(), "root", snapshot.Root.Short())
	return id, nil
}

// Entry is one element of a history walk.
type Entry struct {
	ID       format.ObjectID
	Snapshot *format.Snapshot
}

// Ancestors yields the snapshot id, then its parent, and so on to the
// repository root. The sequence is lazy and can be ranged over any
// number of times. It ends after the first error, which is yielded.
func (s *Store) Ancestors(ctx context.Context, id format.ObjectID) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		current := id
		for !current.IsZero() {
			snapshot, err := s.Get(ctx, current)
			if err != nil {
				yield(Entry{ID: current}, err)
				return
			}
			if !yield(Entry{ID: current, Snapshot: snapshot}, nil) {
				return
			}
			current = snapshot.Parent
		}
	}
}

// CommitRequest describes a new snapshot relative to Parent.
type CommitRequest struct {
	Parent     format.ObjectID
	Edits      []TreeEdit
	Message    string
	Author     string
	Properties map[string]string

	// Time is the commit timestamp; zero uses the store's clock.
	Time time.Time
}

// CommitTree applies req.Edits to the parent snapshot's tree and writes
// a new snapshot. It returns the new snapshot identifier.
func (s *Store) CommitTree(ctx context.Context, req CommitRequest) (format.ObjectID, error) {
	parent, err := s.Get(ctx, req.Parent)
	if err != nil {
		return format.ObjectID{}, err
	}

	tree, err := newTree(ctx, s, parent.Root)
	if err != nil {
		return format.ObjectID{}, err
	}
	for _, edit := range req.Edits {
		if err := tree.apply(ctx, edit); err != nil {
			return format.ObjectID{}, err
		}
	}
	rootID, written, err := tree.write(ctx)
	if err != nil {
		return format.ObjectID{}, err
	}

	timestamp := req.Time
	if timestamp.IsZero() {
		timestamp = s.clock.Now()
	}
	id, err := s.writeSnapshot(ctx, &format.Snapshot{
		Version:    format.SnapshotVersion,
		Parent:     req.Parent,
		Root:       rootID,
		Message:    req.Message,
		Author:     req.Author,
		Timestamp:  timestamp.UTC(),
		Properties: maps.Clone(req.Properties),
	})
	if err != nil {
		return format.ObjectID{}, err
	}
	s.logger.Debug("committed tree",
		"snapshot", id.Short(),
		"parent", req.Parent.Short(),
		"edits", len(req.Edits),
		"nodes_written", written,
	)
	return id, nil
}

// Walk visits every node reachable from rootID depth-first, parents
// before children and children in name order. Returning ErrSkipChildren
// from fn for a group skips its members.
func (s *Store) Walk(ctx context.Context, rootID format.ObjectID, fn func(path string, id format.ObjectID, node *format.Node) error) error {
	return s.walk(ctx, RootPath, rootID, fn)
}

// ErrSkipChildren tells Walk not to descend into the current group.
var ErrSkipChildren = errors.New("snapshot: skip children")

func (s *Store) walk(ctx context.Context, path string, id format.ObjectID, fn func(string, format.ObjectID, *format.Node) error) error {
	node, err := s.GetNode(ctx, id)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	if err := fn(path, id, node); err != nil {
		if errors.Is(err, ErrSkipChildren) {
			return nil
		}
		return err
	}
	for _, child := range node.Children {
		if err := s.walk(ctx, JoinPath(path, child.Name), child.ID, fn); err != nil {
			return err
		}
	}
	return nil
}
