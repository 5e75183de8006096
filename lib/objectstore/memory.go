// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/tessera-data/tessera/lib/clock"
)

type memoryItem struct {
	key      string
	data     []byte
	modified time.Time
}

func memoryLess(a, b memoryItem) bool { return a.key < b.key }

// Memory is an in-process Store. Keys are held in a B-tree so listing
// by prefix is an ordered range scan, like the real object stores it
// stands in for.
type Memory struct {
	mu    sync.RWMutex
	tree  *btree.BTreeG[memoryItem]
	clock clock.Clock
}

// NewMemory returns an empty Memory store. A nil clock uses real time;
// tests pass a fake clock to control LastModified.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		tree:  btree.NewG(16, memoryLess),
		clock: clock.OrReal(clk),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &IOError{Op: "get", Key: key, Err: err}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.tree.Get(memoryItem{key: key})
	if !ok {
		return nil, notFound(key)
	}
	return bytes.Clone(item.data), nil
}

func (m *Memory) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &IOError{Op: "get", Key: key, Err: err}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.tree.Get(memoryItem{key: key})
	if !ok {
		return nil, notFound(key)
	}
	return sliceRange(key, item.data, offset, length)
}

func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &IOError{Op: "put", Key: key, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.ReplaceOrInsert(memoryItem{key: key, data: bytes.Clone(data), modified: m.clock.Now()})
	return nil
}

func (m *Memory) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &IOError{Op: "put", Key: key, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tree.Has(memoryItem{key: key}) {
		return preconditionFailed(key)
	}
	m.tree.ReplaceOrInsert(memoryItem{key: key, data: bytes.Clone(data), modified: m.clock.Now()})
	return nil
}

func (m *Memory) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, &IOError{Op: "stat", Key: key, Err: err}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.tree.Get(memoryItem{key: key})
	if !ok {
		return ObjectInfo{}, notFound(key)
	}
	return ObjectInfo{Key: key, Size: int64(len(item.data)), LastModified: item.modified}, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, &IOError{Op: "list", Key: prefix, Err: err}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []ObjectInfo
	m.tree.AscendGreaterOrEqual(memoryItem{key: prefix}, func(item memoryItem) bool {
		if !strings.HasPrefix(item.key, prefix) {
			return false
		}
		results = append(results, ObjectInfo{Key: item.key, Size: int64(len(item.data)), LastModified: item.modified})
		return true
	})
	return results, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &IOError{Op: "delete", Key: key, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.Delete(memoryItem{key: key})
	return nil
}

func (m *Memory) Capabilities() Capabilities {
	return Capabilities{AtomicCreate: true}
}

func (m *Memory) Close() error { return nil }

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}
