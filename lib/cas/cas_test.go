// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/objectstore"
)

func newTestStore(t *testing.T, options ...Option) (*Store, *objectstore.Memory) {
	t.Helper()
	objects := objectstore.NewMemory(nil)
	return New(objects, options...), objects
}

func TestPutBlobIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, objects := newTestStore(t)

	payload := []byte("identical payload")
	first, err := store.PutBlob(ctx, format.KindChunk, payload)
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	second, err := store.PutBlob(ctx, format.KindChunk, bytes.Clone(payload))
	if err != nil {
		t.Fatalf("second PutBlob: %v", err)
	}
	if first != second {
		t.Errorf("identical payloads produced %s and %s", first, second)
	}
	if first != format.Hash(format.KindChunk, payload) {
		t.Error("identifier is not the chunk-domain digest")
	}
	if objects.Len() != 1 {
		t.Errorf("store holds %d objects, want 1", objects.Len())
	}
}

func TestRoundtripAllCompressions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	snapshot := &format.Snapshot{
		Version:   format.SnapshotVersion,
		Root:      format.Hash(format.KindNode, []byte("root")),
		Message:   "first commit",
		Author:    "test",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}

	var ids []format.ObjectID
	for _, compression := range []format.Compression{format.CompressionNone, format.CompressionLZ4, format.CompressionZstd} {
		store, _ := newTestStore(t, WithCompression(compression))
		id, err := store.PutObject(ctx, format.KindSnapshot, snapshot)
		if err != nil {
			t.Fatalf("%s: PutObject: %v", compression, err)
		}
		var got format.Snapshot
		if err := store.GetObject(ctx, format.KindSnapshot, id, &got); err != nil {
			t.Fatalf("%s: GetObject: %v", compression, err)
		}
		if got.Message != snapshot.Message || got.Root != snapshot.Root || !got.Timestamp.Equal(snapshot.Timestamp) {
			t.Errorf("%s: roundtrip = %+v", compression, got)
		}
		ids = append(ids, id)
	}
	// The digest covers the uncompressed body.
	if ids[0] != ids[1] || ids[1] != ids[2] {
		t.Errorf("identifiers differ across codecs: %v", ids)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	_, err := store.GetBlob(context.Background(), format.KindNode, format.Hash(format.KindNode, []byte("absent")))
	if !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTamperedObjectIsCorrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("chunk", func(t *testing.T) {
		t.Parallel()
		store, objects := newTestStore(t)
		id, err := store.PutBlob(ctx, format.KindChunk, []byte("original chunk"))
		if err != nil {
			t.Fatalf("PutBlob: %v", err)
		}
		if err := objects.Put(ctx, format.ObjectKey(format.KindChunk, id), []byte("tampered chunk")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if _, err := store.GetBlob(ctx, format.KindChunk, id); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("structured", func(t *testing.T) {
		t.Parallel()
		store, objects := newTestStore(t)
		id, err := store.PutObject(ctx, format.KindNode, &format.Node{Kind: format.NodeGroup})
		if err != nil {
			t.Fatalf("PutObject: %v", err)
		}
		other, err := store.PutObject(ctx, format.KindNode, &format.Node{Kind: format.NodeGroup, Attributes: []byte("x")})
		if err != nil {
			t.Fatalf("PutObject: %v", err)
		}
		// Valid frame, wrong content.
		swapped, _ := objects.Get(ctx, format.ObjectKey(format.KindNode, other))
		if err := objects.Put(ctx, format.ObjectKey(format.KindNode, id), swapped); err != nil {
			t.Fatalf("Put: %v", err)
		}
		var node format.Node
		if err := store.GetObject(ctx, format.KindNode, id, &node); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("garbage frame", func(t *testing.T) {
		t.Parallel()
		store, objects := newTestStore(t)
		id := format.Hash(format.KindManifest, []byte("whatever"))
		if err := objects.Put(ctx, format.ObjectKey(format.KindManifest, id), []byte("not a frame")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if _, err := store.GetBlob(ctx, format.KindManifest, id); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("encrypted store authentication failure", func(t *testing.T) {
		t.Parallel()
		inner := objectstore.NewMemory(nil)
		encrypted, err := objectstore.NewEncrypted(inner, bytes.Repeat([]byte{9}, objectstore.KeySize))
		if err != nil {
			t.Fatalf("NewEncrypted: %v", err)
		}
		store := New(encrypted)
		id, err := store.PutBlob(ctx, format.KindChunk, []byte("sealed"))
		if err != nil {
			t.Fatalf("PutBlob: %v", err)
		}
		key := format.ObjectKey(format.KindChunk, id)
		sealed, _ := inner.Get(ctx, key)
		sealed[len(sealed)-1] ^= 1
		if err := inner.Put(ctx, key, sealed); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if _, err := store.GetBlob(ctx, format.KindChunk, id); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})
}

func TestHashCollisionDetected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, objects := newTestStore(t)

	payload := []byte("sixteen byte val")
	id := format.Hash(format.KindChunk, payload)
	// Plant a different-sized object under the identifier.
	if err := objects.Put(ctx, format.ObjectKey(format.KindChunk, id), []byte("short")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.PutBlob(ctx, format.KindChunk, payload); !errors.Is(err, ErrHashCollision) {
		t.Errorf("expected ErrHashCollision, got %v", err)
	}
}

func TestExistingObjectWithOtherCodecIsNotACollision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := objectstore.NewMemory(nil)
	node := &format.Node{Kind: format.NodeGroup, Attributes: bytes.Repeat([]byte("attr "), 200)}

	first, err := New(objects, WithCompression(format.CompressionZstd)).PutObject(ctx, format.KindNode, node)
	if err != nil {
		t.Fatalf("PutObject zstd: %v", err)
	}
	second, err := New(objects, WithCompression(format.CompressionNone)).PutObject(ctx, format.KindNode, node)
	if err != nil {
		t.Fatalf("PutObject none over zstd: %v", err)
	}
	if first != second {
		t.Errorf("identifiers differ: %s vs %s", first, second)
	}
}

func TestReadRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, objects := newTestStore(t)

	ref, err := store.PutChunk(ctx, []byte("0123456789"))
	if err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	data, err := store.ReadRange(ctx, ref)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(data) != "0123456789" {
		t.Errorf("ReadRange = %q", data)
	}

	// A sub-range of a larger object, as written by packing writers.
	if err := objects.Put(ctx, "chunks/packed", []byte("xxxxPAYLOADyyyy")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	packed := format.Physical("chunks/packed", 4, 7, format.Hash(format.KindChunk, []byte("PAYLOAD")))
	data, err = store.ReadRange(ctx, packed)
	if err != nil {
		t.Fatalf("ReadRange packed: %v", err)
	}
	if string(data) != "PAYLOAD" {
		t.Errorf("ReadRange packed = %q", data)
	}

	bad := packed
	bad.Offset = 3
	if _, err := store.ReadRange(ctx, bad); !errors.Is(err, ErrCorrupt) {
		t.Errorf("checksum mismatch: expected ErrCorrupt, got %v", err)
	}

	past := packed
	past.Length = 100
	if _, err := store.ReadRange(ctx, past); !errors.Is(err, ErrCorrupt) {
		t.Errorf("range past end: expected ErrCorrupt, got %v", err)
	}

	inline, err := store.ReadRange(ctx, format.Inline([]byte("tiny")))
	if err != nil || string(inline) != "tiny" {
		t.Errorf("ReadRange inline = %q, %v", inline, err)
	}

	if _, err := store.ReadRange(ctx, format.Virtual("s3://bucket/file.nc", 0, 10)); !errors.Is(err, ErrUnmanaged) {
		t.Errorf("virtual: expected ErrUnmanaged, got %v", err)
	}
}

func TestLoadSaveUsesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache, err := NewCache(1 << 20)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	t.Cleanup(cache.Close)
	store, objects := newTestStore(t, WithCache(cache))

	node := &format.Node{Kind: format.NodeArray, Shape: []uint64{10}, ChunkShape: []uint64{3}}
	id, err := Save(ctx, store, format.KindNode, node)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	cache.Wait()

	// Remove the backing object: a cached read still succeeds.
	if err := objects.Delete(ctx, format.ObjectKey(format.KindNode, id)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	loaded, err := Load[format.Node](ctx, store, format.KindNode, id)
	if err != nil {
		t.Fatalf("Load from cache: %v", err)
	}
	if loaded != node {
		t.Error("Load did not return the cached value")
	}
	if stats := cache.Stats(); stats.Hits == 0 {
		t.Errorf("expected a cache hit, got %+v", stats)
	}
}

// rangeCounter counts ranged reads reaching the backend.
type rangeCounter struct {
	objectstore.Store
	calls atomic.Int64
}

func (r *rangeCounter) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	r.calls.Add(1)
	return r.Store.GetRange(ctx, key, offset, length)
}

func TestReadRangeUsesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache, err := NewCache(1 << 20)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	t.Cleanup(cache.Close)
	objects := &rangeCounter{Store: objectstore.NewMemory(nil)}
	store := New(objects, WithCache(cache))

	payload := bytes.Repeat([]byte("chunk-bytes "), 4096/12)
	ref, err := store.PutChunk(ctx, payload)
	if err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	cache.Wait()

	for i := range 3 {
		data, err := store.ReadRange(ctx, ref)
		if err != nil {
			t.Fatalf("ReadRange %d: %v", i, err)
		}
		if !bytes.Equal(data, payload) {
			t.Fatalf("ReadRange %d returned different bytes", i)
		}
		// Callers own the returned slice.
		data[0] ^= 0xff
		cache.Wait()
	}
	if calls := objects.calls.Load(); calls != 1 {
		t.Fatalf("backend ranged reads for 3 reads of one chunk = %d, want 1 (writes must not prime the cache)", calls)
	}

	// A different range of the same object is a separate entry.
	half := ref
	half.Length = ref.Length / 2
	half.Checksum = format.Hash(format.KindChunk, payload[:half.Length])
	if _, err := store.ReadRange(ctx, half); err != nil {
		t.Fatalf("ReadRange half: %v", err)
	}
	if calls := objects.calls.Load(); calls != 2 {
		t.Fatalf("backend ranged reads after a second range = %d, want 2", calls)
	}
}

func TestLoadWithoutCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	id, err := Save(ctx, store, format.KindManifest, &format.Manifest{})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	manifest, err := Load[format.Manifest](ctx, store, format.KindManifest, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if manifest.Len() != 0 {
		t.Errorf("Len = %d", manifest.Len())
	}

	exists, err := store.Exists(ctx, format.KindManifest, id)
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v", exists, err)
	}
	exists, err = store.Exists(ctx, format.KindManifest, format.ObjectID{1})
	if err != nil || exists {
		t.Errorf("Exists(missing) = %v, %v", exists, err)
	}
}
