// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package objectstore

func renameNoReplace(from, to string) error {
	return linkNoReplace(from, to)
}
