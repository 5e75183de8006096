// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// testConformance runs the behavior every Store adapter must share.
// newStore returns a fresh, empty store for each subtest.
func testConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		if _, err := store.Get(ctx, "chunks/missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get: expected ErrNotFound, got %v", err)
		}
		if _, err := store.Stat(ctx, "chunks/missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Stat: expected ErrNotFound, got %v", err)
		}
		if _, err := store.GetRange(ctx, "chunks/missing", 0, 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRange: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("put and get", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		data := []byte("chunk payload")
		if err := store.Put(ctx, "chunks/aa/one", data); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := store.Get(ctx, "chunks/aa/one")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("Get = %q, want %q", got, data)
		}

		info, err := store.Stat(ctx, "chunks/aa/one")
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if info.Key != "chunks/aa/one" || info.Size != int64(len(data)) {
			t.Errorf("Stat = %+v", info)
		}

		// Put overwrites.
		if err := store.Put(ctx, "chunks/aa/one", []byte("v2")); err != nil {
			t.Fatalf("Put overwrite: %v", err)
		}
		got, _ = store.Get(ctx, "chunks/aa/one")
		if string(got) != "v2" {
			t.Errorf("after overwrite Get = %q", got)
		}
	})

	t.Run("empty object", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		if err := store.Put(ctx, "chunks/empty", nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := store.Get(ctx, "chunks/empty")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Get = %q, want empty", got)
		}
	})

	t.Run("returned bytes are not aliased", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		data := []byte("abc")
		if err := store.Put(ctx, "k", data); err != nil {
			t.Fatalf("Put: %v", err)
		}
		data[0] = 'X'
		got, _ := store.Get(ctx, "k")
		got[1] = 'Y'
		again, _ := store.Get(ctx, "k")
		if string(again) != "abc" {
			t.Errorf("stored bytes changed through caller slices: %q", again)
		}
	})

	t.Run("put if absent", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		if err := store.PutIfAbsent(ctx, "refs/branch.main/1", []byte("first")); err != nil {
			t.Fatalf("first PutIfAbsent: %v", err)
		}
		err := store.PutIfAbsent(ctx, "refs/branch.main/1", []byte("second"))
		if !errors.Is(err, ErrPreconditionFailed) {
			t.Fatalf("second PutIfAbsent: expected ErrPreconditionFailed, got %v", err)
		}
		got, _ := store.Get(ctx, "refs/branch.main/1")
		if string(got) != "first" {
			t.Errorf("PutIfAbsent overwrote existing object: %q", got)
		}
	})

	t.Run("get range", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		if err := store.Put(ctx, "chunks/r", []byte("0123456789")); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := store.GetRange(ctx, "chunks/r", 3, 4)
		if err != nil {
			t.Fatalf("GetRange: %v", err)
		}
		if string(got) != "3456" {
			t.Errorf("GetRange(3,4) = %q", got)
		}

		got, err = store.GetRange(ctx, "chunks/r", 10, 0)
		if err != nil {
			t.Fatalf("GetRange empty at end: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("GetRange(10,0) = %q", got)
		}

		for _, r := range [][2]int64{{8, 5}, {11, 0}, {-1, 2}, {0, -1}} {
			if _, err := store.GetRange(ctx, "chunks/r", r[0], r[1]); !errors.Is(err, ErrInvalidRange) {
				t.Errorf("GetRange(%d,%d): expected ErrInvalidRange, got %v", r[0], r[1], err)
			}
		}
	})

	t.Run("list", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		keys := []string{
			"snapshots/bb",
			"snapshots/aa",
			"snapshotsx/zz",
			"refs/branch.main/0001.cbor",
			"refs/branch.main/0000.cbor",
			"refs/branch.mainline/0000.cbor",
			"refs/tag.v1/ref.cbor",
		}
		for _, key := range keys {
			if err := store.Put(ctx, key, []byte(key)); err != nil {
				t.Fatalf("Put(%s): %v", key, err)
			}
		}

		assertKeys := func(prefix string, want ...string) {
			t.Helper()
			infos, err := store.List(ctx, prefix)
			if err != nil {
				t.Fatalf("List(%q): %v", prefix, err)
			}
			var got []string
			for _, info := range infos {
				got = append(got, info.Key)
				if info.Size != int64(len(info.Key)) {
					t.Errorf("List(%q): %s size %d, want %d", prefix, info.Key, info.Size, len(info.Key))
				}
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("List(%q) = %v, want %v", prefix, got, want)
			}
		}

		assertKeys("snapshots/", "snapshots/aa", "snapshots/bb")
		assertKeys("refs/branch.main/", "refs/branch.main/0000.cbor", "refs/branch.main/0001.cbor")
		assertKeys("refs/branch.", "refs/branch.main/0000.cbor", "refs/branch.main/0001.cbor", "refs/branch.mainline/0000.cbor")
		assertKeys("refs/tag.", "refs/tag.v1/ref.cbor")
		assertKeys("manifests/")
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		if err := store.Put(ctx, "nodes/x", []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := store.Delete(ctx, "nodes/x"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Get(ctx, "nodes/x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("after Delete Get: expected ErrNotFound, got %v", err)
		}
		if err := store.Delete(ctx, "nodes/x"); err != nil {
			t.Errorf("second Delete should be a no-op, got %v", err)
		}
		// The key is free again for create.
		if err := store.PutIfAbsent(ctx, "nodes/x", []byte("y")); err != nil {
			t.Errorf("PutIfAbsent after Delete: %v", err)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		for _, key := range []string{"", "/abs", "a//b", "a/../b", "trailing/"} {
			if err := store.Put(ctx, key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Put(%q): expected ErrInvalidKey, got %v", key, err)
			}
		}
	})

	t.Run("concurrent create", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		if !store.Capabilities().AtomicCreate {
			t.Skip("adapter does not provide atomic create")
		}

		const writers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.PutIfAbsent(ctx, "refs/branch.main/race", []byte{byte(i)})
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrPreconditionFailed):
				default:
					t.Errorf("writer %d: %v", i, err)
				}
			}()
		}
		wg.Wait()
		if got := wins.Load(); got != 1 {
			t.Errorf("%d concurrent creates succeeded, want exactly 1", got)
		}
	})
}
