// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package refs stores the only mutable state of a repository: branch
// and tag references to snapshots.
//
// Object stores offer create-if-absent but no compare-and-swap, so
// branches are never overwritten. Every update writes a new immutable
// version object under
//
//	refs/branch.<name>/<inverted version>.cbor
//
// with create-if-absent. Versions are inverted so the newest sorts
// first in a listing. An update that observed version v pointing at
// the expected snapshot and then creates version v+1 is an atomic
// compare-and-swap: of two writers racing for v+1 exactly one create
// succeeds. A stale listing can only make an update fail spuriously,
// never lose one. Deleting a branch writes a tombstone version.
//
// Tags live at refs/tag.<name>/ref.cbor and are created once. Deleting
// a tag adds refs/tag.<name>/deleted.cbor; the name stays reserved, so
// a tag can never be re-pointed.
//
// When the object store cannot create atomically
// (objectstore.Capabilities.AtomicCreate is false) the same protocol
// degrades to last-writer-wins inside a check-then-write window. The
// store logs a warning and reports [Store.Degraded].
package refs
