// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package conflict

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/manifest"
	"github.com/tessera-data/tessera/lib/objectstore"
	"github.com/tessera-data/tessera/lib/refs"
	"github.com/tessera-data/tessera/lib/snapshot"
)

func node(path string, kind snapshot.ChangeKind) snapshot.Change {
	return snapshot.Change{Kind: kind, Path: path}
}

func chunk(path string, coord ...uint32) snapshot.Change {
	return snapshot.Change{Kind: snapshot.ChunkChanged, Path: path, Coord: format.Coord(coord)}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ours   []snapshot.Change
		theirs []snapshot.Change
		want   []string
	}{
		{
			name:   "disjoint groups",
			ours:   []snapshot.Change{node("/a", snapshot.NodeAdded)},
			theirs: []snapshot.Change{node("/b", snapshot.NodeAdded)},
		},
		{
			name:   "same node",
			ours:   []snapshot.Change{node("/a", snapshot.MetadataChanged)},
			theirs: []snapshot.Change{node("/a", snapshot.MetadataChanged)},
			want:   []string{"/a"},
		},
		{
			name:   "sibling with shared prefix",
			ours:   []snapshot.Change{node("/ab", snapshot.NodeAdded)},
			theirs: []snapshot.Change{node("/a", snapshot.NodeDeleted)},
		},
		{
			name:   "their delete above our chunk",
			ours:   []snapshot.Change{chunk("/g/x", 1)},
			theirs: []snapshot.Change{node("/g", snapshot.NodeDeleted)},
			want:   []string{"/g/x"},
		},
		{
			name:   "our delete above their chunk",
			ours:   []snapshot.Change{node("/g", snapshot.NodeDeleted)},
			theirs: []snapshot.Change{chunk("/g/x", 1)},
			want:   []string{"/g"},
		},
		{
			name:   "different chunks of one array",
			ours:   []snapshot.Change{chunk("/x", 0), chunk("/x", 1)},
			theirs: []snapshot.Change{chunk("/x", 2)},
		},
		{
			name:   "same chunk",
			ours:   []snapshot.Change{chunk("/x", 0, 1), chunk("/x", 1, 0)},
			theirs: []snapshot.Change{chunk("/x", 1, 0)},
			want:   []string{"/x"},
		},
		{
			name:   "chunk against metadata of its array",
			ours:   []snapshot.Change{chunk("/x", 3)},
			theirs: []snapshot.Change{node("/x", snapshot.MetadataChanged)},
			want:   []string{"/x"},
		},
		{
			name: "duplicates collapse",
			ours: []snapshot.Change{
				node("/x", snapshot.MetadataChanged),
				chunk("/x", 1),
				node("/y", snapshot.NodeAdded),
			},
			theirs: []snapshot.Change{chunk("/x", 1), node("/y", snapshot.NodeAdded)},
			want:   []string{"/x", "/y"},
		},
		{
			name:   "root metadata touches everything",
			ours:   []snapshot.Change{chunk("/deep/array", 0)},
			theirs: []snapshot.Change{node("/", snapshot.MetadataChanged)},
			want:   []string{"/deep/array"},
		},
		{
			name: "nothing landed",
			ours: []snapshot.Change{node("/a", snapshot.NodeAdded)},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(test.ours, test.theirs)
			if !slices.Equal(got, test.want) {
				t.Fatalf("Classify = %v, want %v", got, test.want)
			}
		})
	}
}

type harness struct {
	snapshots *snapshot.Store
	refs      *refs.Store
	root      format.ObjectID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	objects := objectstore.NewMemory(nil)
	content := cas.New(objects)
	snapshots := snapshot.New(content, manifest.New(content))
	references := refs.New(objects)
	root, err := snapshots.CreateRoot(ctx, "init", "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := references.CreateBranch(ctx, "main", root); err != nil {
		t.Fatal(err)
	}
	return &harness{snapshots: snapshots, refs: references, root: root}
}

// builder commits a group at each path on top of whatever parent the
// loop hands it.
func (h *harness) builder(paths ...string) Build {
	return func(ctx context.Context, parent format.ObjectID) (format.ObjectID, error) {
		var edits []snapshot.TreeEdit
		for _, path := range paths {
			edits = append(edits, snapshot.PutNode(path, &format.Node{Kind: format.NodeGroup}))
		}
		return h.snapshots.CommitTree(ctx, snapshot.CommitRequest{Parent: parent, Edits: edits, Message: strings.Join(paths, ",")})
	}
}

// advance commits paths directly to main, as a concurrent session would.
func (h *harness) advance(t *testing.T, paths ...string) format.ObjectID {
	t.Helper()
	ctx := context.Background()
	tip, err := h.refs.ReadBranch(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	id, err := h.builder(paths...)(ctx, tip.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.refs.ConditionalUpdate(ctx, "main", tip.Snapshot, id); err != nil {
		t.Fatal(err)
	}
	return id
}

func (h *harness) tip(t *testing.T) format.ObjectID {
	t.Helper()
	ref, err := h.refs.ReadBranch(context.Background(), "main")
	if err != nil {
		t.Fatal(err)
	}
	return ref.Snapshot
}

func TestCommitWithoutContention(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resolver := New(h.snapshots, h.refs)
	id, err := resolver.Commit(context.Background(), "main", h.root, []snapshot.Change{node("/a", snapshot.NodeAdded)}, h.builder("/a"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if h.tip(t) != id {
		t.Fatal("branch does not point at the new snapshot")
	}
}

func TestCommitRebasesDisjointChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	theirs := h.advance(t, "/b")

	resolver := New(h.snapshots, h.refs)
	id, err := resolver.Commit(ctx, "main", h.root, []snapshot.Change{node("/a", snapshot.NodeAdded)}, h.builder("/a"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	committed, err := h.snapshots.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if committed.Parent != theirs {
		t.Fatalf("rebased parent = %s, want %s", committed.Parent.Short(), theirs.Short())
	}
	for _, path := range []string{"/a", "/b"} {
		if _, _, err := h.snapshots.Node(ctx, committed.Root, path); err != nil {
			t.Errorf("Node(%s) after rebase: %v", path, err)
		}
	}
}

func TestCommitReportsOverlap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	theirs := h.advance(t, "/a", "/a/inner")

	resolver := New(h.snapshots, h.refs)
	_, err := resolver.Commit(context.Background(), "main", h.root, []snapshot.Change{node("/a", snapshot.NodeAdded)}, h.builder("/a"))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Commit = %v, want *ConflictError", err)
	}
	if !slices.Equal(conflict.Paths, []string{"/a"}) || conflict.Tip != theirs {
		t.Fatalf("conflict = %+v", conflict)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Fatal("content conflict matched ErrRetryExhausted")
	}
	if h.tip(t) != theirs {
		t.Fatal("losing commit moved the branch")
	}
}

func TestCommitRetryLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Every attempt loses to a fresh disjoint commit.
	var attempts int
	build := func(ctx context.Context, parent format.ObjectID) (format.ObjectID, error) {
		attempts++
		h.advance(t, "/other"+strings.Repeat("x", attempts))
		return h.builder("/mine")(ctx, parent)
	}

	resolver := New(h.snapshots, h.refs, WithRetryLimit(3))
	_, err := resolver.Commit(context.Background(), "main", h.root, []snapshot.Change{node("/mine", snapshot.NodeAdded)}, build)
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Commit = %v, want *RetryExhaustedError", err)
	}
	if exhausted.Attempts != 3 || attempts != 3 {
		t.Fatalf("attempts = %d (reported %d), want 3", attempts, exhausted.Attempts)
	}
	if !errors.Is(err, ErrRetryExhausted) || errors.Is(err, ErrConflict) {
		t.Fatalf("error matching wrong: %v", err)
	}
}

func TestCommitTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	build := func(ctx context.Context, parent format.ObjectID) (format.ObjectID, error) {
		<-ctx.Done()
		return format.ObjectID{}, ctx.Err()
	}
	resolver := New(h.snapshots, h.refs, WithTimeout(time.Millisecond))
	_, err := resolver.Commit(context.Background(), "main", h.root, nil, build)
	if !errors.Is(err, ErrRetryExhausted) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Commit = %v, want retry exhaustion by deadline", err)
	}
}

func TestCommitCallerCancellationPassesThrough(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	build := func(ctx context.Context, parent format.ObjectID) (format.ObjectID, error) {
		return format.ObjectID{}, ctx.Err()
	}
	_, err := New(h.snapshots, h.refs).Commit(ctx, "main", h.root, nil, build)
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Commit = %v, want plain cancellation", err)
	}
}

func TestCommitToDeletedBranch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	if err := h.refs.DeleteBranch(ctx, "main", h.root); err != nil {
		t.Fatal(err)
	}
	_, err := New(h.snapshots, h.refs).Commit(ctx, "main", h.root, nil, h.builder("/a"))
	if !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("Commit = %v, want ErrNotFound", err)
	}
}

// flakyRefStore, once armed, loses the next branch create and then
// fails every branch listing.
type flakyRefStore struct {
	objectstore.Store
	mu    sync.Mutex
	armed bool
	lost  bool
}

func (s *flakyRefStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed && strings.HasPrefix(key, refs.Prefix) {
		s.lost = true
		return objectstore.ErrPreconditionFailed
	}
	return s.Store.PutIfAbsent(ctx, key, data)
}

func (s *flakyRefStore) List(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	s.mu.Lock()
	lost := s.lost
	s.mu.Unlock()
	if lost && strings.HasPrefix(prefix, refs.Prefix) {
		return nil, &objectstore.IOError{Op: "list", Key: prefix, Err: errors.New("connection reset")}
	}
	return s.Store.List(ctx, prefix)
}

func TestCommitSurfacesRefReadFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := &flakyRefStore{Store: objectstore.NewMemory(nil)}
	content := cas.New(objects)
	snapshots := snapshot.New(content, manifest.New(content))
	references := refs.New(objects)
	root, err := snapshots.CreateRoot(ctx, "init", "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := references.CreateBranch(ctx, "main", root); err != nil {
		t.Fatal(err)
	}
	h := &harness{snapshots: snapshots, refs: references, root: root}

	objects.mu.Lock()
	objects.armed = true
	objects.mu.Unlock()

	_, err = New(snapshots, references).Commit(ctx, "main", root, nil, h.builder("/a"))
	if !objectstore.IsIOError(err) {
		t.Fatalf("Commit = %v, want the listing's IOError", err)
	}
	if errors.Is(err, objectstore.ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Commit = %v, misreported as a reference outcome", err)
	}
}
