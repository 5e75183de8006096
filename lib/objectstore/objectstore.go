// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("objectstore: not found")

	// ErrPreconditionFailed is returned by PutIfAbsent when the key
	// already exists.
	ErrPreconditionFailed = errors.New("objectstore: precondition failed")

	// ErrInvalidRange is returned by GetRange when the requested
	// range does not lie inside the object.
	ErrInvalidRange = errors.New("objectstore: invalid byte range")

	// ErrIntegrity is returned when stored bytes fail an integrity
	// check inside the adapter chain (for example AEAD
	// authentication in the encrypting decorator).
	ErrIntegrity = errors.New("objectstore: integrity check failed")

	// ErrInvalidKey is returned for keys that are empty, absolute or
	// contain "." / ".." segments.
	ErrInvalidKey = errors.New("objectstore: invalid key")
)

// IOError wraps a failure of the underlying store. The repository does
// not retry these; retries belong to the adapter's client.
type IOError struct {
	Op  string
	Key string
	Err error
}

func (err *IOError) Error() string {
	if err.Key == "" {
		return fmt.Sprintf("objectstore: %s: %v", err.Op, err.Err)
	}
	return fmt.Sprintf("objectstore: %s %s: %v", err.Op, err.Key, err.Err)
}

func (err *IOError) Unwrap() error { return err.Err }

// IsIOError reports whether err is (or wraps) an IOError.
func IsIOError(err error) bool {
	var ioError *IOError
	return errors.As(err, &ioError)
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Capabilities describes guarantees an adapter can make.
type Capabilities struct {
	// AtomicCreate is true when PutIfAbsent is a single atomic
	// operation: of any number of concurrent creates of one key,
	// exactly one succeeds.
	AtomicCreate bool
}

// Store is the object-store collaborator.
//
// Keys are slash-separated relative paths. All methods are safe for
// concurrent use.
type Store interface {
	// Get returns the full contents of key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetRange returns length bytes starting at offset. The range
	// must lie inside the object (ErrInvalidRange otherwise).
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Put writes key unconditionally.
	Put(ctx context.Context, key string, data []byte) error

	// PutIfAbsent writes key only if it does not exist, and returns
	// ErrPreconditionFailed otherwise.
	PutIfAbsent(ctx context.Context, key string, data []byte) error

	// Stat returns metadata for key, or ErrNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// List returns every object whose key starts with prefix, sorted
	// by key. Eventually-consistent stores may omit recent writes.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Capabilities reports the adapter's guarantees.
	Capabilities() Capabilities

	// Close releases resources held by the adapter.
	Close() error
}

// ValidateKey rejects keys no adapter can store safely.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// notFound wraps ErrNotFound with the key.
func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// preconditionFailed wraps ErrPreconditionFailed with the key.
func preconditionFailed(key string) error {
	return fmt.Errorf("%w: %s already exists", ErrPreconditionFailed, key)
}

// sliceRange checks offset/length against data and returns a copy of
// the range.
func sliceRange(key string, data []byte, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length < offset || offset+length > int64(len(data)) {
		return nil, fmt.Errorf("%w: %s [%d,+%d) of %d bytes", ErrInvalidRange, key, offset, length, len(data))
	}
	out := make([]byte, length)
	copy(out, data[offset:offset+length])
	return out, nil
}

// isSentinel reports whether err carries one of the package's
// semantic errors, which adapters return unwrapped by IOError.
func isSentinel(err error) bool {
	for _, sentinel := range []error{ErrNotFound, ErrPreconditionFailed, ErrInvalidRange, ErrInvalidKey, ErrIntegrity} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
