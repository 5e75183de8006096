// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package gc reclaims content objects no retained reference can reach.
//
// The mark phase starts from every branch tip and live tag, follows
// snapshot parents, and walks each snapshot's tree through nodes,
// manifests and shards to the chunk objects they reference. Subtrees
// and manifests shared between snapshots are visited once. With a
// retention period, ancestors older than the cut-off are not followed;
// tips and tagged snapshots are always kept.
//
// The sweep phase lists each content namespace and deletes unmarked
// objects. Objects younger than the safety window are never deleted:
// a session may have uploaded them for a commit that has not yet moved
// its branch. Delete failures are logged and counted and the next run
// retries them; running the collector twice in a row deletes nothing
// the second time.
package gc
