// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/clock"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/manifest"
	"github.com/tessera-data/tessera/lib/objectstore"
)

// countingStore counts node reads.
type countingStore struct {
	objectstore.Store
	nodeGets atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasPrefix(key, format.KindNode.Prefix()) {
		c.nodeGets.Add(1)
	}
	return c.Store.Get(ctx, key)
}

type fixture struct {
	store   *Store
	objects *countingStore
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	objects := &countingStore{Store: objectstore.NewMemory(nil)}
	contentStore := cas.New(objects)
	fake := clock.Fake(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	return &fixture{
		store:   New(contentStore, manifest.New(contentStore), WithClock(fake)),
		objects: objects,
		clock:   fake,
	}
}

func group() *format.Node { return &format.Node{Kind: format.NodeGroup} }

func array(attributes string) *format.Node {
	return &format.Node{Kind: format.NodeArray, Shape: []uint64{10}, ChunkShape: []uint64{3}, Attributes: []byte(attributes)}
}

func (f *fixture) commit(t *testing.T, parent format.ObjectID, message string, edits ...TreeEdit) format.ObjectID {
	t.Helper()
	f.clock.Advance(time.Minute)
	id, err := f.store.CommitTree(context.Background(), CommitRequest{Parent: parent, Edits: edits, Message: message, Author: "test"})
	if err != nil {
		t.Fatalf("CommitTree(%s): %v", message, err)
	}
	return id
}

func (f *fixture) node(t *testing.T, snapshotID format.ObjectID, path string) (*format.Node, format.ObjectID) {
	t.Helper()
	ctx := context.Background()
	snapshot, err := f.store.Get(ctx, snapshotID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	node, id, err := f.store.Node(ctx, snapshot.Root, path)
	if err != nil {
		t.Fatalf("Node(%s): %v", path, err)
	}
	return node, id
}

func TestCreateRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.CreateRoot(ctx, "Repository initialized", "tessera")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	snapshot, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !snapshot.IsRoot() || snapshot.Message != "Repository initialized" {
		t.Errorf("root snapshot = %+v", snapshot)
	}
	root, _ := f.node(t, id, "/")
	if root.Kind != format.NodeGroup || len(root.Children) != 0 {
		t.Errorf("root node = %+v", root)
	}
}

func TestAncestorsReproducesCommitOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	rootID, err := f.store.CreateRoot(ctx, "init", "test")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	ids := []format.ObjectID{rootID}
	for i := range 5 {
		ids = append(ids, f.commit(t, ids[len(ids)-1], fmt.Sprintf("commit %d", i),
			PutNode(fmt.Sprintf("/g%d", i), group())))
	}

	// Ranged twice: the sequence is restartable.
	for pass := range 2 {
		var walked []format.ObjectID
		for entry, err := range f.store.Ancestors(ctx, ids[len(ids)-1]) {
			if err != nil {
				t.Fatalf("Ancestors: %v", err)
			}
			walked = append(walked, entry.ID)
		}
		if len(walked) != len(ids) {
			t.Fatalf("pass %d: walked %d snapshots, want %d", pass, len(walked), len(ids))
		}
		for i := range walked {
			if walked[i] != ids[len(ids)-1-i] {
				t.Errorf("pass %d: position %d = %s, want %s", pass, i, walked[i].Short(), ids[len(ids)-1-i].Short())
			}
		}
	}

	// Early exit stops the walk.
	count := 0
	for range f.store.Ancestors(ctx, ids[len(ids)-1]) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("break after 2 visited %d", count)
	}
}

func TestAncestorsSurfacesMissingHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	rootID, _ := f.store.CreateRoot(ctx, "init", "test")
	tip := f.commit(t, rootID, "one", PutNode("/a", group()))
	if err := f.objects.Delete(ctx, format.ObjectKey(format.KindSnapshot, rootID)); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var lastErr error
	count := 0
	for _, err := range f.store.Ancestors(ctx, tip) {
		if err != nil {
			lastErr = err
			break
		}
		count++
	}
	if count != 1 || !errors.Is(lastErr, objectstore.ErrNotFound) {
		t.Errorf("visited %d then %v; want 1 then ErrNotFound", count, lastErr)
	}
}

func TestCommitTreeSharesUntouchedSubtrees(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	rootID, _ := f.store.CreateRoot(ctx, "init", "test")
	var edits []TreeEdit
	edits = append(edits, PutNode("/left", group()), PutNode("/right", group()))
	for i := range 20 {
		edits = append(edits, PutNode(fmt.Sprintf("/right/a%02d", i), array("")))
	}
	edits = append(edits, PutNode("/left/x", array("x")))
	base := f.commit(t, rootID, "populate", edits...)

	f.objects.nodeGets.Store(0)
	next := f.commit(t, base, "edit left", PutNode("/left/x", array("x2")))

	// Only the root and /left are loaded. The replaced /left/x and
	// everything under /right are not.
	if gets := f.objects.nodeGets.Load(); gets != 2 {
		t.Errorf("commit loaded %d nodes, want 2", gets)
	}

	_, rightBefore := f.node(t, base, "/right")
	_, rightAfter := f.node(t, next, "/right")
	if rightBefore != rightAfter {
		t.Error("untouched subtree /right was rewritten")
	}
	_, leftBefore := f.node(t, base, "/left")
	_, leftAfter := f.node(t, next, "/left")
	if leftBefore == leftAfter {
		t.Error("edited subtree /left kept its identifier")
	}
	x, _ := f.node(t, next, "/left/x")
	if string(x.Attributes) != "x2" {
		t.Errorf("/left/x attributes = %q", x.Attributes)
	}
}

func TestCommitTreeEditSemantics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	rootID, _ := f.store.CreateRoot(ctx, "init", "test")
	base := f.commit(t, rootID, "populate",
		PutNode("/g", group()),
		PutNode("/g/a", array("a")),
		PutNode("/g/b", array("b")),
	)

	t.Run("group over group keeps members", func(t *testing.T) {
		updated := &format.Node{Kind: format.NodeGroup, Attributes: []byte(`{"title":"new"}`)}
		next := f.commit(t, base, "retitle", PutNode("/g", updated))
		node, _ := f.node(t, next, "/g")
		if string(node.Attributes) != `{"title":"new"}` || len(node.Children) != 2 {
			t.Errorf("/g = %+v", node)
		}
	})

	t.Run("array over group replaces subtree", func(t *testing.T) {
		next := f.commit(t, base, "replace", PutNode("/g", array("now an array")))
		node, _ := f.node(t, next, "/g")
		if node.Kind != format.NodeArray || len(node.Children) != 0 {
			t.Errorf("/g = %+v", node)
		}
		snapshot, _ := f.store.Get(ctx, next)
		if _, _, err := f.store.Node(ctx, snapshot.Root, "/g/a"); !errors.Is(err, ErrNoSuchNode) {
			t.Errorf("/g/a should be gone, got %v", err)
		}
	})

	t.Run("delete removes subtree", func(t *testing.T) {
		next := f.commit(t, base, "delete", DeleteNode("/g/a"))
		node, _ := f.node(t, next, "/g")
		if len(node.Children) != 1 || node.Children[0].Name != "b" {
			t.Errorf("/g children = %+v", node.Children)
		}
	})

	t.Run("delete then recreate in one commit", func(t *testing.T) {
		next := f.commit(t, base, "recreate", DeleteNode("/g"), PutNode("/g", group()), PutNode("/g/c", array("c")))
		node, _ := f.node(t, next, "/g")
		if len(node.Children) != 1 || node.Children[0].Name != "c" {
			t.Errorf("/g children = %+v", node.Children)
		}
	})

	t.Run("root attributes", func(t *testing.T) {
		next := f.commit(t, base, "root attrs", PutNode("/", &format.Node{Kind: format.NodeGroup, Attributes: []byte("root")}))
		node, _ := f.node(t, next, "/")
		if string(node.Attributes) != "root" || len(node.Children) != 1 {
			t.Errorf("root = %+v", node)
		}
	})

	failures := []struct {
		name string
		edit TreeEdit
		want error
	}{
		{"missing parent", PutNode("/missing/a", array("")), ErrNoSuchNode},
		{"parent is array", PutNode("/g/a/child", array("")), ErrNotGroup},
		{"delete missing", DeleteNode("/g/zzz"), ErrNoSuchNode},
		{"delete root", DeleteNode("/"), ErrInvalidPath},
		{"bad path", PutNode("g", group()), ErrInvalidPath},
	}
	for _, failure := range failures {
		_, err := f.store.CommitTree(ctx, CommitRequest{Parent: base, Edits: []TreeEdit{failure.edit}})
		if !errors.Is(err, failure.want) {
			t.Errorf("%s: expected %v, got %v", failure.name, failure.want, err)
		}
	}
}

func TestCommitTreeRecordsMetadata(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	rootID, _ := f.store.CreateRoot(ctx, "init", "test")
	properties := map[string]string{"pipeline": "nightly"}
	id, err := f.store.CommitTree(ctx, CommitRequest{
		Parent:     rootID,
		Message:    "metadata",
		Author:     "alice",
		Properties: properties,
	})
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}
	properties["pipeline"] = "mutated"

	snapshot, _ := f.store.Get(ctx, id)
	if snapshot.Parent != rootID || snapshot.Author != "alice" || snapshot.Properties["pipeline"] != "nightly" {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if !snapshot.Timestamp.Equal(f.clock.Now()) {
		t.Errorf("timestamp %s, want %s", snapshot.Timestamp, f.clock.Now())
	}
}

func TestWalk(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	rootID, _ := f.store.CreateRoot(ctx, "init", "test")
	id := f.commit(t, rootID, "tree",
		PutNode("/b", group()),
		PutNode("/a", array("")),
		PutNode("/b/z", array("")),
		PutNode("/b/y", group()),
		PutNode("/b/y/deep", array("")),
	)
	snapshot, _ := f.store.Get(ctx, id)

	var visited []string
	err := f.store.Walk(ctx, snapshot.Root, func(path string, _ format.ObjectID, node *format.Node) error {
		visited = append(visited, path)
		if path == "/b/y" {
			return ErrSkipChildren
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if got := strings.Join(visited, " "); got != "/ /a /b /b/y /b/z" {
		t.Errorf("Walk order = %s", got)
	}
}
