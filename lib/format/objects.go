// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"time"
)

// NodeKind distinguishes groups from arrays. Values are persisted.
type NodeKind uint8

const (
	NodeGroup NodeKind = 1
	NodeArray NodeKind = 2
)

func (k NodeKind) String() string {
	switch k {
	case NodeGroup:
		return "group"
	case NodeArray:
		return "array"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Node is one entry of the namespace tree. Attributes and Metadata are
// opaque to the engine (Zarr user attributes and array metadata).
type Node struct {
	Kind       NodeKind `cbor:"kind"`
	Attributes []byte   `cbor:"attributes,omitempty"`

	// Array fields.
	Metadata   []byte   `cbor:"metadata,omitempty"`
	Shape      []uint64 `cbor:"shape,omitempty"`
	ChunkShape []uint64 `cbor:"chunk_shape,omitempty"`
	Manifest   ObjectID `cbor:"manifest"`

	// Group fields. Sorted by name.
	Children []Child `cbor:"children,omitempty"`
}

// Child names one member of a group.
type Child struct {
	Name string   `cbor:"name"`
	ID   ObjectID `cbor:"id"`
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	out := *n
	out.Attributes = bytes.Clone(n.Attributes)
	out.Metadata = bytes.Clone(n.Metadata)
	out.Shape = slices.Clone(n.Shape)
	out.ChunkShape = slices.Clone(n.ChunkShape)
	out.Children = slices.Clone(n.Children)
	return &out
}

// Child returns the identifier of the named child.
func (n *Node) Child(name string) (ObjectID, bool) {
	index := sort.Search(len(n.Children), func(i int) bool { return n.Children[i].Name >= name })
	if index < len(n.Children) && n.Children[index].Name == name {
		return n.Children[index].ID, true
	}
	return ObjectID{}, false
}

// SetChild inserts or replaces a child, keeping Children sorted.
func (n *Node) SetChild(name string, id ObjectID) {
	index := sort.Search(len(n.Children), func(i int) bool { return n.Children[i].Name >= name })
	if index < len(n.Children) && n.Children[index].Name == name {
		n.Children[index].ID = id
		return
	}
	n.Children = slices.Insert(n.Children, index, Child{Name: name, ID: id})
}

// RemoveChild deletes a child by name. It reports whether it existed.
func (n *Node) RemoveChild(name string) bool {
	index := sort.Search(len(n.Children), func(i int) bool { return n.Children[i].Name >= name })
	if index < len(n.Children) && n.Children[index].Name == name {
		n.Children = slices.Delete(n.Children, index, index+1)
		return true
	}
	return false
}

// SameContent reports whether two nodes carry the same user-visible
// content (kind, attributes, array metadata and shape), ignoring
// children and manifests.
func (n *Node) SameContent(other *Node) bool {
	return n.Kind == other.Kind &&
		bytes.Equal(n.Attributes, other.Attributes) &&
		bytes.Equal(n.Metadata, other.Metadata) &&
		slices.Equal(n.Shape, other.Shape) &&
		slices.Equal(n.ChunkShape, other.ChunkShape)
}

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is an immutable commit: a namespace root plus history.
type Snapshot struct {
	Version    int               `cbor:"version"`
	Parent     ObjectID          `cbor:"parent"`
	Root       ObjectID          `cbor:"root"`
	Message    string            `cbor:"message"`
	Author     string            `cbor:"author,omitempty"`
	Timestamp  time.Time         `cbor:"timestamp"`
	Properties map[string]string `cbor:"properties,omitempty"`
}

// IsRoot reports whether the snapshot has no parent.
func (s *Snapshot) IsRoot() bool {
	return s.Parent.IsZero()
}

// Manifest is the root of one array's chunk index: an ordered list of
// shards with disjoint, increasing coordinate ranges.
type Manifest struct {
	Shards []ShardRef `cbor:"shards,omitempty"`
}

// ShardRef describes one shard of a manifest.
type ShardRef struct {
	ID    ObjectID `cbor:"id"`
	First Coord    `cbor:"first"`
	Last  Coord    `cbor:"last"`
	Count int      `cbor:"count"`
}

// Len returns the total number of entries across all shards.
func (m *Manifest) Len() int {
	total := 0
	for _, shard := range m.Shards {
		total += shard.Count
	}
	return total
}

// Shard is a sorted run of manifest entries.
type Shard struct {
	Entries []ManifestEntry `cbor:"entries"`
}

// ManifestEntry maps one chunk coordinate to its reference.
type ManifestEntry struct {
	Coord Coord    `cbor:"coord"`
	Ref   ChunkRef `cbor:"ref"`
}

// Find binary-searches the shard for coord.
func (s *Shard) Find(coord Coord) (ChunkRef, bool) {
	index := sort.Search(len(s.Entries), func(i int) bool {
		return s.Entries[i].Coord.Compare(coord) >= 0
	})
	if index < len(s.Entries) && s.Entries[index].Coord.Equal(coord) {
		return s.Entries[index].Ref, true
	}
	return ChunkRef{}, false
}
