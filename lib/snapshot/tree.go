// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/format"
)

// TreeEdit is one change to the namespace tree. Edits apply in order.
//
// A put (Delete false) stores Node at Path. The parent must exist and
// be a group. Putting a group where a group exists keeps the existing
// members; the Children of Node are ignored. Putting over a node of
// the other kind replaces it and drops any former subtree. Arrays
// carry their final manifest identifier.
type TreeEdit struct {
	Path   string
	Delete bool
	Node   *format.Node
}

// PutNode returns an edit storing node at path.
func PutNode(path string, node *format.Node) TreeEdit {
	return TreeEdit{Path: path, Node: node}
}

// DeleteNode returns an edit removing path and its subtree.
func DeleteNode(path string) TreeEdit {
	return TreeEdit{Path: path, Delete: true}
}

// mutableNode is a working copy of a node on an edited path. Only
// nodes on edited paths are ever loaded.
type mutableNode struct {
	id       format.ObjectID
	node     *format.Node
	children map[string]*mutableNode
	dirty    bool
}

type tree struct {
	store *Store
	root  *mutableNode
}

func newTree(ctx context.Context, store *Store, rootID format.ObjectID) (*tree, error) {
	root, err := store.loadMutable(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("loading root node: %w", err)
	}
	return &tree{store: store, root: root}, nil
}

func (s *Store) loadMutable(ctx context.Context, id format.ObjectID) (*mutableNode, error) {
	node, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	// Cached nodes are shared; edit a private copy.
	return &mutableNode{id: id, node: node.Clone()}, nil
}

// child returns the working copy of a member, loading it on first use.
func (t *tree) child(ctx context.Context, parent *mutableNode, name string) (*mutableNode, bool, error) {
	if loaded, ok := parent.children[name]; ok {
		return loaded, true, nil
	}
	id, ok := parent.node.Child(name)
	if !ok {
		return nil, false, nil
	}
	loaded, err := t.store.loadMutable(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if parent.children == nil {
		parent.children = make(map[string]*mutableNode)
	}
	parent.children[name] = loaded
	return loaded, true, nil
}

// parentOf walks to the group holding the last component of path,
// marking every node on the way dirty.
func (t *tree) parentOf(ctx context.Context, path string, components []string) (*mutableNode, error) {
	current := t.root
	current.dirty = true
	for i, name := range components[:len(components)-1] {
		next, ok, err := t.child(ctx, current, name)
		if err != nil {
			return nil, err
		}
		prefix := "/" + strings.Join(components[:i+1], "/")
		if !ok {
			return nil, fmt.Errorf("%w: parent %s of %s", ErrNoSuchNode, prefix, path)
		}
		if next.node.Kind != format.NodeGroup {
			return nil, fmt.Errorf("%w: %s (parent of %s)", ErrNotGroup, prefix, path)
		}
		next.dirty = true
		current = next
	}
	return current, nil
}

func (t *tree) apply(ctx context.Context, edit TreeEdit) error {
	components, err := SplitPath(edit.Path)
	if err != nil {
		return err
	}

	if len(components) == 0 {
		if edit.Delete {
			return fmt.Errorf("%w: the root group cannot be deleted", ErrInvalidPath)
		}
		if edit.Node == nil || edit.Node.Kind != format.NodeGroup {
			return fmt.Errorf("%w: the root must be a group", ErrNotGroup)
		}
		t.root.node.Attributes = edit.Node.Attributes
		t.root.dirty = true
		return nil
	}

	parent, err := t.parentOf(ctx, edit.Path, components)
	if err != nil {
		return err
	}
	name := components[len(components)-1]

	if edit.Delete {
		if !parent.node.RemoveChild(name) {
			return fmt.Errorf("%w: %s", ErrNoSuchNode, edit.Path)
		}
		delete(parent.children, name)
		return nil
	}

	if edit.Node == nil {
		return fmt.Errorf("snapshot: put of %s has no node", edit.Path)
	}
	replacement := &mutableNode{node: edit.Node.Clone(), dirty: true}
	if replacement.node.Kind == format.NodeGroup {
		replacement.node.Children = nil
		existing, ok, err := t.child(ctx, parent, name)
		if err != nil {
			return err
		}
		if ok && existing.node.Kind == format.NodeGroup {
			replacement.node.Children = existing.node.Children
			replacement.children = existing.children
		}
	}
	if parent.children == nil {
		parent.children = make(map[string]*mutableNode)
	}
	parent.children[name] = replacement
	// A placeholder entry keeps Children sorted and present until the
	// real identifier is known at write time.
	parent.node.SetChild(name, format.ObjectID{})
	return nil
}

// write stores every dirty node bottom-up and returns the new root
// identifier and the number of nodes written.
func (t *tree) write(ctx context.Context) (format.ObjectID, int, error) {
	written := 0
	var visit func(path string, m *mutableNode) (format.ObjectID, error)
	visit = func(path string, m *mutableNode) (format.ObjectID, error) {
		if !m.dirty {
			return m.id, nil
		}
		for name, child := range m.children {
			id, err := visit(JoinPath(path, name), child)
			if err != nil {
				return format.ObjectID{}, err
			}
			m.node.SetChild(name, id)
		}
		id, err := cas.Save(ctx, t.store.objects, format.KindNode, m.node)
		if err != nil {
			return format.ObjectID{}, fmt.Errorf("writing node %s: %w", path, err)
		}
		written++
		return id, nil
	}
	id, err := visit(RootPath, t.root)
	return id, written, err
}
