// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements transactions over a repository.
//
// A Session is opened at a base snapshot and accumulates edits in
// memory: new and updated groups and arrays, deletions, and chunk
// writes. Chunk payloads are uploaded eagerly as content-addressed
// objects (or inlined when small), since they are immutable whether or
// not the session commits. Reads see the base snapshot with the
// session's own edits applied.
//
// Commit turns the edits into manifests and a tree on top of the
// branch tip and moves the branch with a conditional update, rebasing
// through package conflict when other commits landed first. The
// lifecycle is an explicit [State]:
//
//	Open ──Commit──▶ Committing ──▶ Committed
//	  │                   │    └──▶ Conflicted ──Abandon──▶ Abandoned
//	  │                   └─(I/O error)─▶ Open
//	  └──Abandon──▶ Abandoned
//
// Sessions opened at a snapshot or tag rather than a branch are read
// only and reject edits with [ErrReadOnly].
package session
