// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// tmpDir holds in-flight writes inside the store root. It is never
// listed.
const tmpDir = ".tmp"

// Filesystem is a Store rooted at a local directory. Each key is a
// file at the corresponding relative path.
//
// Writes land in a temp file first and are published with a rename,
// so readers never observe a partially written object. PutIfAbsent
// publishes with a rename that refuses to replace an existing file,
// which makes it atomic across processes sharing the directory.
type Filesystem struct {
	root string
}

// NewFilesystem creates a Filesystem store rooted at root, creating the
// directory if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	for _, dir := range []string{root, filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *Filesystem) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, &IOError{Op: "get", Key: key, Err: err}
	}
	return data, nil
}

func (f *Filesystem) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, &IOError{Op: "get", Key: key, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, &IOError{Op: "get", Key: key, Err: err}
	}
	if offset < 0 || length < 0 || offset+length < offset || offset+length > info.Size() {
		return nil, fmt.Errorf("%w: %s [%d,+%d) of %d bytes", ErrInvalidRange, key, offset, length, info.Size())
	}
	buffer := make([]byte, length)
	if _, err := file.ReadAt(buffer, offset); err != nil {
		return nil, &IOError{Op: "get", Key: key, Err: err}
	}
	return buffer, nil
}

func (f *Filesystem) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return f.publish(key, data, os.Rename)
}

func (f *Filesystem) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := f.publish(key, data, renameNoReplace)
	if errors.Is(err, fs.ErrExist) {
		return preconditionFailed(key)
	}
	return err
}

// publish writes data to a temp file and moves it into place with
// rename. The temp file is removed on every failure path.
func (f *Filesystem) publish(key string, data []byte, rename func(from, to string) error) error {
	finalPath := f.path(key)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return &IOError{Op: "put", Key: key, Err: err}
	}

	tmpFile, err := os.CreateTemp(filepath.Join(f.root, tmpDir), "object-*")
	if err != nil {
		return &IOError{Op: "put", Key: key, Err: err}
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return &IOError{Op: "put", Key: key, Err: err}
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return &IOError{Op: "put", Key: key, Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		return &IOError{Op: "put", Key: key, Err: err}
	}

	if err := rename(tmpPath, finalPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return &IOError{Op: "put", Key: key, Err: err}
	}
	success = true
	return nil
}

func (f *Filesystem) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ValidateKey(key); err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectInfo{}, notFound(key)
	}
	if err != nil {
		return ObjectInfo{}, &IOError{Op: "stat", Key: key, Err: err}
	}
	return ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

// List walks the deepest directory fully named by prefix and filters
// the remaining partial segment by string prefix.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	walkRoot := f.root
	if slash := strings.LastIndex(prefix, "/"); slash >= 0 {
		walkRoot = f.path(prefix[:slash])
	}

	var results []ObjectInfo
	err := filepath.WalkDir(walkRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		relative, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relative)
		if entry.IsDir() {
			if key == tmpDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Deleted between readdir and stat.
			return nil
		}
		if err != nil {
			return err
		}
		results = append(results, ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, &IOError{Op: "list", Key: prefix, Err: err}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (f *Filesystem) Capabilities() Capabilities {
	return Capabilities{AtomicCreate: true}
}

func (f *Filesystem) Close() error { return nil }
