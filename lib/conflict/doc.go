// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package conflict decides whether a commit whose branch moved
// underneath it can be rebased, and runs the optimistic commit loop.
//
// Two change sets overlap when a node-level change (add, delete,
// metadata) in one touches a path equal to, above, or below any change
// in the other, or when both rewrite the same chunk of the same array.
// Chunk writes to different coordinates of one array never overlap.
//
// The loop builds a snapshot on the observed tip and asks the
// reference store to move the branch from that tip. When the branch
// has moved, the loop diffs the old tip against the new one; a
// disjoint change set is rebuilt on the new tip and retried, an
// overlapping one fails with [*ConflictError]. Retries are bounded by
// a count and by a deadline, and running out of either fails with
// [*RetryExhaustedError].
package conflict
