// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the tessera binary:
// a tree of [Command] values dispatched by name, pflag flag sets parsed
// per command, help output, and typo suggestions for unknown commands
// and flags.
package cli
