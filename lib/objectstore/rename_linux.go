// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package objectstore

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// renameNoReplace moves from to to, failing with fs.ErrExist if to
// already exists. Filesystems without RENAME_NOREPLACE support fall
// back to link+unlink, which has the same atomicity.
func renameNoReplace(from, to string) error {
	err := unix.Renameat2(unix.AT_FDCWD, from, unix.AT_FDCWD, to, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return fs.ErrExist
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS):
		return linkNoReplace(from, to)
	default:
		return err
	}
}
