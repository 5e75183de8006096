// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// RootPath is the path of the root group.
const RootPath = "/"

// ErrInvalidPath is returned for malformed node paths.
var ErrInvalidPath = errors.New("snapshot: invalid node path")

// SplitPath validates path and returns its components. The root has
// none.
func SplitPath(path string) ([]string, error) {
	if path == RootPath {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	components := strings.Split(path[1:], "/")
	for _, component := range components {
		if component == "" || component == "." || component == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return components, nil
}

// ValidatePath reports whether path is well formed.
func ValidatePath(path string) error {
	_, err := SplitPath(path)
	return err
}

// JoinPath appends a child name to a parent path.
func JoinPath(parent, name string) string {
	if parent == RootPath {
		return RootPath + name
	}
	return parent + "/" + name
}

// ParentPath returns the parent of path and the final component. The
// root has no parent; ParentPath("/") returns ("/", "").
func ParentPath(path string) (string, string) {
	index := strings.LastIndex(path, "/")
	if index <= 0 {
		return RootPath, path[index+1:]
	}
	return path[:index], path[index+1:]
}

// IsAncestor reports whether ancestor is path or one of its ancestors,
// comparing whole components: "/a" is an ancestor of "/a/b" but not of
// "/ab".
func IsAncestor(ancestor, path string) bool {
	if ancestor == path || ancestor == RootPath {
		return true
	}
	return strings.HasPrefix(path, ancestor) && path[len(ancestor)] == '/'
}

// Related reports whether one path is the other or an ancestor of it.
func Related(a, b string) bool {
	return IsAncestor(a, b) || IsAncestor(b, a)
}
