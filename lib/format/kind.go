// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package format

import "fmt"

// Kind identifies the type of an immutable object. Kind values are
// recorded in object frames and must not be renumbered.
type Kind uint8

const (
	KindSnapshot Kind = 1
	KindNode     Kind = 2
	KindManifest Kind = 3
	KindShard    Kind = 4
	KindChunk    Kind = 5
)

type kindInfo struct {
	name   string
	prefix string
	domain domainKey
}

var kinds = map[Kind]kindInfo{
	KindSnapshot: {"snapshot", "snapshots/", newDomainKey("tessera.object.snapshot")},
	KindNode:     {"node", "nodes/", newDomainKey("tessera.object.node")},
	KindManifest: {"manifest", "manifests/", newDomainKey("tessera.object.manifest")},
	KindShard:    {"shard", "shards/", newDomainKey("tessera.object.shard")},
	KindChunk:    {"chunk", "chunks/", newDomainKey("tessera.object.chunk")},
}

// ContentKinds lists every kind in sweep order: the garbage collector
// deletes roots before the objects they reference, so an interrupted
// sweep never leaves a reachable snapshot pointing at deleted nodes.
var ContentKinds = []Kind{KindSnapshot, KindNode, KindManifest, KindShard, KindChunk}

// String returns the kind name.
func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Prefix returns the store key prefix for objects of this kind.
func (k Kind) Prefix() string {
	if info, ok := kinds[k]; ok {
		return info.prefix
	}
	panic(fmt.Sprintf("format: prefix of unknown kind %d", uint8(k)))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}
