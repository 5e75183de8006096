// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/clock"
	"github.com/tessera-data/tessera/lib/conflict"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/manifest"
	"github.com/tessera-data/tessera/lib/objectstore"
	"github.com/tessera-data/tessera/lib/refs"
	"github.com/tessera-data/tessera/lib/snapshot"
)

var errInjected = errors.New("injected failure")

// flakyStore fails writes under a key prefix while failing is set.
type flakyStore struct {
	objectstore.Store
	prefix  string
	failing atomic.Bool
}

func (f *flakyStore) fail(key string) error {
	if f.failing.Load() && strings.HasPrefix(key, f.prefix) {
		return &objectstore.IOError{Op: "put", Key: key, Err: errInjected}
	}
	return nil
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	if err := f.fail(key); err != nil {
		return err
	}
	return f.Store.Put(ctx, key, data)
}

func (f *flakyStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := f.fail(key); err != nil {
		return err
	}
	return f.Store.PutIfAbsent(ctx, key, data)
}

// fataler is the part of testing.TB the fixture needs; *rapid.T
// provides it too.
type fataler interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

type fixture struct {
	objects   *flakyStore
	content   *cas.Store
	snapshots *snapshot.Store
	refs      *refs.Store
	resolver  *conflict.Resolver
	root      format.ObjectID
	virtual   objectstore.Store
}

func newFixture(t fataler) *fixture {
	t.Helper()
	ctx := context.Background()
	fake := clock.Fake(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	objects := &flakyStore{Store: objectstore.NewMemory(fake), prefix: format.KindSnapshot.Prefix()}
	content := cas.New(objects)
	snapshots := snapshot.New(content, manifest.New(content, manifest.WithShardSize(4)), snapshot.WithClock(fake))
	references := refs.New(objects, refs.WithClock(fake))

	root, err := snapshots.CreateRoot(ctx, "initial commit", "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := references.CreateBranch(ctx, "main", root); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		objects:   objects,
		content:   content,
		snapshots: snapshots,
		refs:      references,
		resolver:  conflict.New(snapshots, references),
		root:      root,
		virtual:   objectstore.NewMemory(fake),
	}
}

func (f *fixture) config() Config {
	return Config{
		Snapshots:       f.snapshots,
		Objects:         f.content,
		Resolver:        f.resolver,
		Virtual:         f.virtual,
		Author:          "test",
		InlineThreshold: 4,
	}
}

func (f *fixture) tip(t fataler) format.ObjectID {
	t.Helper()
	ref, err := f.refs.ReadBranch(context.Background(), "main")
	if err != nil {
		t.Fatal(err)
	}
	return ref.Snapshot
}

// writable opens a session on main at the current tip.
func (f *fixture) writable(t fataler) *Session {
	t.Helper()
	s, err := Writable(context.Background(), f.config(), "main", f.tip(t))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (f *fixture) readOnly(t fataler, id format.ObjectID) *Session {
	t.Helper()
	s, err := ReadOnly(context.Background(), f.config(), id)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// commit runs edit in a fresh session on main and commits it.
func (f *fixture) commit(t fataler, message string, edit func(*Session) error) format.ObjectID {
	t.Helper()
	s := f.writable(t)
	if err := edit(s); err != nil {
		t.Fatalf("%s: %v", message, err)
	}
	id, err := s.Commit(context.Background(), message)
	if err != nil {
		t.Fatalf("%s: commit: %v", message, err)
	}
	return id
}

func vector(length uint64) ArrayMetadata {
	return ArrayMetadata{Shape: []uint64{length}, ChunkShape: []uint64{1}, Metadata: []byte(`{"dtype":"u1"}`)}
}

func coord(indices ...uint32) format.Coord { return format.Coord(indices) }
