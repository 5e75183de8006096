// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot builds and reads the immutable namespace tree and
// commit history.
//
// A snapshot names a root group node and its parent snapshot. Nodes
// are content-addressed, so a commit rewrites only the nodes on edited
// paths (and their ancestors) and every untouched subtree is shared by
// identifier with the parent snapshot. [Store.CommitTree] loads nodes
// lazily: a commit that edits one array in a tree of thousands reads
// and writes one root-to-leaf path.
//
// Paths are absolute and slash-separated: "/" is the root group,
// "/weather/temperature" an array inside the weather group.
package snapshot
