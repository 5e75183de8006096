// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package format defines Tessera's immutable on-store data model and
// its identifiers.
//
// Every immutable object has a [Kind] (snapshot, node, manifest,
// shard, chunk) and an [ObjectID]: the BLAKE3 keyed hash of the
// object's canonical bytes under a kind-specific domain key. Domain
// separation means identical bytes stored as two different kinds never
// share an identifier. Objects live in the store under
// "<kind>s/<hex id>" (see [ObjectKey]).
//
// Structured objects are CBOR-encoded (lib/codec) and wrapped in a
// small frame that records the kind and the compression codec (none,
// LZ4, zstd). Identifiers are computed over the uncompressed canonical
// bytes, so switching codecs never changes an object's identity.
// Chunk payloads are stored raw and unframed so physical chunk
// references can address byte ranges inside them directly.
//
// The namespace is a tree of content-addressed [Node] values: groups
// list their children by identifier and arrays point at a [Manifest].
// A [Snapshot] names a root node and its parent snapshot. Because
// nodes are content-addressed, two snapshots that differ in one array
// share every other subtree by identifier.
package format
