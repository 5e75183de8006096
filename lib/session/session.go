// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/conflict"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/manifest"
	"github.com/tessera-data/tessera/lib/objectstore"
	"github.com/tessera-data/tessera/lib/snapshot"
)

// DefaultInlineThreshold is the payload size below which chunks are
// stored inside manifests rather than as chunk objects.
const DefaultInlineThreshold = 512

var (
	// ErrReadOnly is returned for edits and commits on a session
	// opened at a snapshot or tag.
	ErrReadOnly = errors.New("session: read-only session")

	// ErrNotOpen is returned for edits and commits on a session that
	// is no longer Open.
	ErrNotOpen = errors.New("session: session is not open")

	// ErrNoChanges is returned when committing a session without
	// edits. The session stays Open.
	ErrNoChanges = errors.New("session: nothing to commit")

	// ErrNodeExists is returned when creating a node at an occupied
	// path.
	ErrNodeExists = errors.New("session: node already exists")

	// ErrNotArray is returned for chunk operations on groups.
	ErrNotArray = errors.New("session: not an array")

	// ErrIncompatibleShape is returned when an update changes an
	// array's rank or chunk shape.
	ErrIncompatibleShape = errors.New("session: incompatible array shape")

	// ErrNoSuchChunk is returned when reading an unwritten chunk. It
	// matches objectstore.ErrNotFound.
	ErrNoSuchChunk = fmt.Errorf("session: no such chunk: %w", objectstore.ErrNotFound)
)

// ArrayMetadata describes an array. Metadata and Attributes are opaque
// to the engine.
type ArrayMetadata struct {
	Shape      []uint64
	ChunkShape []uint64
	Metadata   []byte
	Attributes []byte
}

// Config holds a session's collaborators.
type Config struct {
	Snapshots *snapshot.Store
	Objects   *cas.Store

	// Resolver runs the commit loop. Read-only sessions leave it nil.
	Resolver *conflict.Resolver

	// Virtual serves reads of virtual chunk references, whose
	// locations are keys in this store. Nil makes such reads fail with
	// cas.ErrUnmanaged.
	Virtual objectstore.Store

	Author string

	// InlineThreshold is the size below which chunk payloads are
	// inlined. Zero uses DefaultInlineThreshold; negative disables
	// inlining.
	InlineThreshold int

	Logger *slog.Logger
}

// nodeChange is the session's edit of one path.
type nodeChange struct {
	// node is the new content, without children. Nil when the path
	// is only deleted.
	node *format.Node

	// deleted is set when the node the base tree holds at this path
	// is removed.
	deleted bool

	// fresh is set when node does not extend base content: arrays
	// start with no chunks and groups with no members.
	fresh bool
}

// Session is a transaction against one branch, or a read-only view of
// one snapshot. Methods are safe for concurrent use; calls are
// serialized.
type Session struct {
	id       uuid.UUID
	config   Config
	branch   string
	base     format.ObjectID
	baseRoot format.ObjectID
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	committed  format.ObjectID
	nodes      map[string]*nodeChange
	chunks     map[string]map[string]manifest.Edit
	properties map[string]string
}

// Writable opens a session that commits to branch, based on the
// snapshot base.
func Writable(ctx context.Context, config Config, branch string, base format.ObjectID) (*Session, error) {
	if branch == "" {
		return nil, errors.New("session: writable session needs a branch")
	}
	if config.Resolver == nil {
		return nil, errors.New("session: writable session needs a conflict resolver")
	}
	return open(ctx, config, branch, base)
}

// ReadOnly opens a session that can only read the snapshot at id.
func ReadOnly(ctx context.Context, config Config, id format.ObjectID) (*Session, error) {
	return open(ctx, config, "", id)
}

func open(ctx context.Context, config Config, branch string, base format.ObjectID) (*Session, error) {
	if config.Snapshots == nil || config.Objects == nil {
		return nil, errors.New("session: snapshot store and object store are required")
	}
	if config.InlineThreshold == 0 {
		config.InlineThreshold = DefaultInlineThreshold
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	snap, err := config.Snapshots.Get(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("opening session at %s: %w", base.Short(), err)
	}

	id := uuid.New()
	session := &Session{
		id:       id,
		config:   config,
		branch:   branch,
		base:     base,
		baseRoot: snap.Root,
		logger:   config.Logger.With("session", id.String()),
		state:    Open,
	}
	session.reset()
	session.logger.Debug("session opened", "branch", branch, "base", base.Short())
	return session, nil
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Branch returns the branch the session commits to, or "" for
// read-only sessions.
func (s *Session) Branch() string { return s.branch }

// ReadOnly reports whether the session rejects edits.
func (s *Session) ReadOnly() bool { return s.branch == "" }

// Base returns the snapshot the session was opened at.
func (s *Session) Base() format.ObjectID { return s.base }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the committed snapshot once the session is
// Committed, and the zero identifier before.
func (s *Session) Snapshot() format.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func (s *Session) transition(next State) {
	if !s.state.CanTransition(next) {
		panic(fmt.Sprintf("session: invalid transition %s -> %s", s.state, next))
	}
	s.logger.Debug("session state", "from", s.state.String(), "to", next.String())
	s.state = next
}

// editable reports why the session cannot take edits, if it cannot.
func (s *Session) editable() error {
	if s.ReadOnly() {
		return ErrReadOnly
	}
	if s.state != Open {
		return fmt.Errorf("%w: session is %s", ErrNotOpen, s.state)
	}
	return nil
}

func (s *Session) reset() {
	s.nodes = make(map[string]*nodeChange)
	s.chunks = make(map[string]map[string]manifest.Edit)
	s.properties = nil
}

// Reset discards every edit. The session stays Open at its base.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	s.reset()
	return nil
}

// Abandon discards the session. Chunk objects it already uploaded stay
// until garbage collection. Abandoning twice is a no-op.
func (s *Session) Abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Abandoned {
		return nil
	}
	if !s.state.CanTransition(Abandoned) {
		return fmt.Errorf("%w: cannot abandon a %s session", ErrNotOpen, s.state)
	}
	s.transition(Abandoned)
	s.reset()
	return nil
}

// SetProperty records a key-value pair in the commit's properties.
func (s *Session) SetProperty(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	if s.properties == nil {
		s.properties = make(map[string]string)
	}
	s.properties[key] = value
	return nil
}

// HasChanges reports whether the session holds uncommitted edits.
func (s *Session) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasChanges()
}

func (s *Session) hasChanges() bool {
	return len(s.nodes) > 0 || len(s.chunks) > 0
}

// ChangedPaths returns every path the session edited, sorted.
func (s *Session) ChangedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := slices.Collect(maps.Keys(s.nodes))
	for path := range s.chunks {
		if _, ok := s.nodes[path]; !ok {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	return paths
}

// create records a new node at path after checking that the path is
// free and its parent is a group.
func (s *Session) create(ctx context.Context, path string, node *format.Node) error {
	if err := s.editable(); err != nil {
		return err
	}
	if err := snapshot.ValidatePath(path); err != nil {
		return err
	}
	if path == snapshot.RootPath {
		return fmt.Errorf("%w: %s", ErrNodeExists, path)
	}
	_, err := s.lookup(ctx, path)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrNodeExists, path)
	}
	if !errors.Is(err, objectstore.ErrNotFound) {
		return err
	}

	parentPath, _ := snapshot.ParentPath(path)
	parent, err := s.lookup(ctx, parentPath)
	if err != nil {
		return fmt.Errorf("parent of %s: %w", path, err)
	}
	if parent.Kind != format.NodeGroup {
		return fmt.Errorf("%w: %s (parent of %s)", snapshot.ErrNotGroup, parentPath, path)
	}

	change, ok := s.nodes[path]
	if !ok {
		change = &nodeChange{}
		s.nodes[path] = change
	}
	change.node = node
	change.fresh = true
	return nil
}

// update replaces the content of an existing node, keeping its
// children and chunks.
func (s *Session) update(path string, node *format.Node) {
	node.Children = nil
	if change, ok := s.nodes[path]; ok {
		change.node = node
		return
	}
	s.nodes[path] = &nodeChange{node: node}
}

// CreateGroup adds an empty group at path.
func (s *Session) CreateGroup(ctx context.Context, path string, attributes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(ctx, path, &format.Node{Kind: format.NodeGroup, Attributes: bytes.Clone(attributes)})
}

// CreateArray adds an array without chunks at path.
func (s *Session) CreateArray(ctx context.Context, path string, metadata ArrayMetadata) error {
	bounds := format.Bounds{Shape: metadata.Shape, ChunkShape: metadata.ChunkShape}
	if err := bounds.Validate(); err != nil {
		return fmt.Errorf("array %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(ctx, path, &format.Node{
		Kind:       format.NodeArray,
		Shape:      slices.Clone(metadata.Shape),
		ChunkShape: slices.Clone(metadata.ChunkShape),
		Metadata:   bytes.Clone(metadata.Metadata),
		Attributes: bytes.Clone(metadata.Attributes),
	})
}

// SetAttributes replaces the user attributes of a group or array.
func (s *Session) SetAttributes(ctx context.Context, path string, attributes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	node, err := s.lookup(ctx, path)
	if err != nil {
		return err
	}
	updated := node.Clone()
	updated.Attributes = bytes.Clone(attributes)
	s.update(path, updated)
	return nil
}

// UpdateArray changes an array's shape and opaque metadata. Rank and
// chunk shape are fixed at creation; an empty ChunkShape keeps the
// current one. Attributes in metadata are ignored; use SetAttributes.
// Shrinking drops chunks that fall outside the new shape.
func (s *Session) UpdateArray(ctx context.Context, path string, metadata ArrayMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	node, err := s.lookup(ctx, path)
	if err != nil {
		return err
	}
	if node.Kind != format.NodeArray {
		return fmt.Errorf("%w: %s", ErrNotArray, path)
	}
	if len(metadata.Shape) != len(node.Shape) {
		return fmt.Errorf("%w: %s has rank %d, update has rank %d", ErrIncompatibleShape, path, len(node.Shape), len(metadata.Shape))
	}
	if len(metadata.ChunkShape) > 0 && !slices.Equal(metadata.ChunkShape, node.ChunkShape) {
		return fmt.Errorf("%w: chunk shape of %s cannot change", ErrIncompatibleShape, path)
	}

	updated := node.Clone()
	updated.Shape = slices.Clone(metadata.Shape)
	updated.Metadata = bytes.Clone(metadata.Metadata)
	s.update(path, updated)

	bounds := format.BoundsOf(updated)
	for key, edit := range s.chunks[path] {
		if bounds.Check(edit.Coord) != nil {
			delete(s.chunks[path], key)
		}
	}
	if len(s.chunks[path]) == 0 {
		delete(s.chunks, path)
	}
	return nil
}

// DeleteNode removes the node at path with everything below it,
// including the session's own edits there. The root cannot be deleted.
func (s *Session) DeleteNode(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	if path == snapshot.RootPath {
		return fmt.Errorf("%w: the root group cannot be deleted", snapshot.ErrInvalidPath)
	}
	if _, err := s.lookup(ctx, path); err != nil {
		return err
	}

	for other := range s.nodes {
		if other != path && snapshot.IsAncestor(path, other) {
			delete(s.nodes, other)
		}
	}
	for other := range s.chunks {
		if snapshot.IsAncestor(path, other) {
			delete(s.chunks, other)
		}
	}

	change, ok := s.nodes[path]
	switch {
	case !ok:
		s.nodes[path] = &nodeChange{deleted: true}
	case change.fresh && !change.deleted:
		// Created by this session; nothing in the base to remove.
		delete(s.nodes, path)
	default:
		change.node = nil
		change.fresh = false
		change.deleted = true
	}
	return nil
}

// array returns the array at path and checks coord against its grid.
func (s *Session) array(ctx context.Context, path string, coord format.Coord) (*format.Node, error) {
	node, err := s.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	if node.Kind != format.NodeArray {
		return nil, fmt.Errorf("%w: %s", ErrNotArray, path)
	}
	if err := format.BoundsOf(node).Check(coord); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", manifest.ErrInvalidCoordinate, path, err)
	}
	return node, nil
}

func (s *Session) setChunk(path string, edit manifest.Edit) {
	edits, ok := s.chunks[path]
	if !ok {
		edits = make(map[string]manifest.Edit)
		s.chunks[path] = edits
	}
	edit.Coord = edit.Coord.Clone()
	edits[edit.Coord.Key()] = edit
}

// WriteChunk stores data as the chunk at coord of the array at path.
// Payloads at or above the inline threshold are uploaded immediately.
func (s *Session) WriteChunk(ctx context.Context, path string, coord format.Coord, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	if _, err := s.array(ctx, path, coord); err != nil {
		return err
	}

	var ref format.ChunkRef
	if len(data) < s.config.InlineThreshold {
		ref = format.Inline(data)
	} else {
		var err error
		if ref, err = s.config.Objects.PutChunk(ctx, data); err != nil {
			return fmt.Errorf("writing chunk %s%s: %w", path, coord, err)
		}
	}
	s.setChunk(path, manifest.Set(coord, ref))
	return nil
}

// SetVirtualRef points the chunk at coord at length bytes from offset
// in an external location the repository does not manage.
func (s *Session) SetVirtualRef(ctx context.Context, path string, coord format.Coord, location string, offset, length uint64) error {
	ref := format.Virtual(location, offset, length)
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("chunk %s%s: %w", path, coord, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	if _, err := s.array(ctx, path, coord); err != nil {
		return err
	}
	s.setChunk(path, manifest.Set(coord, ref))
	return nil
}

// DeleteChunk removes the chunk at coord. Deleting an unwritten chunk
// is not an error.
func (s *Session) DeleteChunk(ctx context.Context, path string, coord format.Coord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	if _, err := s.array(ctx, path, coord); err != nil {
		return err
	}
	s.setChunk(path, manifest.Remove(coord))
	return nil
}
