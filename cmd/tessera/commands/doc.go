// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the tessera command tree. Every command opens
// the repository described by the YAML config named by --config or
// TESSERA_CONFIG; --path opens a filesystem repository without a config
// file.
package commands
