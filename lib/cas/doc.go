// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package cas is the content-addressed object layer. Every immutable
// repository object (snapshot, node, manifest, shard, chunk) is stored
// under a key derived from the BLAKE3 digest of its canonical bytes,
// so identical content always produces the identical identifier and
// writes are idempotent.
//
// Structured objects are CBOR-encoded with [codec.Marshal] and wrapped
// in a [format] frame that may compress the body; the digest covers
// the uncompressed canonical body, so the compression setting never
// changes identifiers. Chunks are stored raw so that physical chunk
// references can address byte ranges of the stored object.
//
// Reads verify the digest. Bytes that do not hash to the requested
// identifier, fail to decompress, or fail to decode are reported as
// [ErrCorrupt].
//
// An optional [Cache] holds decoded structured objects. Objects
// returned from the cache are shared and must not be modified.
package cas
