// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest maintains the chunk index of an array: the mapping
// from chunk coordinate to [format.ChunkRef].
//
// A manifest is a content-addressed root listing shards; each shard is
// a content-addressed sorted run of entries covering a disjoint
// coordinate range. [Store.MergeEdit] is copy-on-write at shard
// granularity: shards no edit falls into are reused by identifier, so
// a commit touching a handful of chunks in a million-chunk array
// writes a handful of shards, and snapshots share everything else.
//
// The zero [format.ObjectID] is the empty manifest of an array that
// has no chunks yet.
package manifest
