// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectstore defines the object-store collaborator Tessera is
// built on, and adapters for concrete stores.
//
// The contract is deliberately small, matching what cloud object
// stores actually offer: whole-object and ranged reads, unconditional
// writes, a create-if-absent write, listing by prefix, and idempotent
// deletes. There is no rename, no append and no multi-key transaction.
// Listings may be stale on eventually-consistent stores.
//
// [Store.PutIfAbsent] is the one primitive the repository's
// correctness rests on: branch updates are serialized by creating the
// next version key of a reference, and only one writer can create it.
// Adapters report through [Capabilities] whether their create is truly
// atomic. When it is not, reference updates degrade to last-writer-wins
// inside a check-then-write window (see lib/refs).
//
// Adapters:
//
//   - [Memory]: ordered in-process map (google/btree). Tests and
//     embedding.
//   - [Filesystem]: a directory tree. Writes go to a temp file and are
//     published by rename; create-if-absent uses a no-replace rename.
//   - [Bolt]: a single bbolt database file; creates are transactional.
//   - [S3]: Amazon S3 or a compatible service via aws-sdk-go, with
//     If-None-Match conditional PUTs.
//
// Decorators: [WithTimeout] bounds each call, [NewEncrypted] seals
// every object with XChaCha20-Poly1305.
package objectstore
