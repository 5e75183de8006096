// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Tessera
// repositories and tools.
//
// Configuration is loaded from a single file specified by either the
// TESSERA_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no file search and no ~/.config discovery:
// the file named is the only source of configuration.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production is stricter: the S3 adapter
// must use conditional writes.
//
// Path fields support ${HOME}, ${TESSERA_ROOT} and ${VAR:-default}
// expansion after loading.
//
// Key exports:
//
//   - [Config] -- master struct with Storage, Repository, Cache, GC, Logging
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Tessera packages.
package config
