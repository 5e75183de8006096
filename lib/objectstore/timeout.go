// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"time"
)

// Timeout bounds every call to the wrapped store with a deadline.
// Deadline expiry surfaces as an IOError wrapping
// context.DeadlineExceeded from the inner adapter.
type Timeout struct {
	inner   Store
	timeout time.Duration
}

// WithTimeout wraps inner. A non-positive timeout returns inner
// unchanged.
func WithTimeout(inner Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return inner
	}
	return &Timeout{inner: inner, timeout: timeout}
}

func (t *Timeout) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Get(ctx, key)
}

func (t *Timeout) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.GetRange(ctx, key, offset, length)
}

func (t *Timeout) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Put(ctx, key, data)
}

func (t *Timeout) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.PutIfAbsent(ctx, key, data)
}

func (t *Timeout) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Stat(ctx, key)
}

// List gets the same budget as a single request even though it may
// page; callers listing very large prefixes should raise the timeout.
func (t *Timeout) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.List(ctx, prefix)
}

func (t *Timeout) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Delete(ctx, key)
}

func (t *Timeout) Capabilities() Capabilities { return t.inner.Capabilities() }

func (t *Timeout) Close() error { return t.inner.Close() }
