// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Tessera's canonical CBOR encoding.
//
// Every immutable repository object (snapshots, tree nodes, manifests,
// manifest shards) and every reference record is serialized through
// this package. Content addresses are digests of the encoded bytes, so
// the encoder must be deterministic: it uses Core Deterministic
// Encoding (RFC 8949 §4.2) with sorted map keys, smallest integer
// encoding and no indefinite-length items. The same logical value
// always produces identical bytes, and therefore the same identifier.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Timestamps are encoded as RFC 3339 strings with nanosecond
// precision so that a decoded snapshot re-encodes to the same bytes.
//
// Repository types use `cbor` struct tags. They are never serialized
// as JSON.
package codec
