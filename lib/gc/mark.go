// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/objectstore"
	"github.com/tessera-data/tessera/lib/snapshot"
)

// root is one retained reference target.
type root struct {
	name     string
	snapshot format.ObjectID
}

func (c *Collector) roots(ctx context.Context) ([]root, error) {
	branches, err := c.refs.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := c.refs.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	roots := make([]root, 0, len(branches)+len(tags))
	for _, branch := range branches {
		roots = append(roots, root{name: "branch " + branch.Name, snapshot: branch.Snapshot})
	}
	for _, tag := range tags {
		roots = append(roots, root{name: "tag " + tag.Name, snapshot: tag.Snapshot})
	}
	return roots, nil
}

func (c *Collector) mark(ctx context.Context, now time.Time, report *Report) (*marks, error) {
	roots, err := c.roots(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	report.Roots = len(roots)

	var cutoff time.Time
	if c.options.Retention > 0 {
		cutoff = now.Add(-c.options.Retention)
	}

	m := &marks{reachable: make(map[string]struct{})}
	for _, r := range roots {
		if err := c.markHistory(ctx, r, cutoff, m, report); err != nil {
			return nil, fmt.Errorf("%s: %w", r.name, err)
		}
	}
	return m, nil
}

// markHistory marks a root snapshot and its ancestors down to the
// retention cut-off or the first snapshot already marked.
func (c *Collector) markHistory(ctx context.Context, r root, cutoff time.Time, m *marks, report *Report) error {
	first := true
	for entry, err := range c.snapshots.Ancestors(ctx, r.snapshot) {
		if err != nil {
			if !first && errors.Is(err, objectstore.ErrNotFound) {
				// An earlier collection expired the rest of this
				// history.
				c.logger.Debug("history truncated", "root", r.name, "snapshot", entry.ID.Short())
				return nil
			}
			return err
		}
		isRoot := first
		first = false

		if !isRoot && !cutoff.IsZero() && entry.Snapshot.Timestamp.Before(cutoff) {
			report.Expired++
			return nil
		}
		if !m.add(format.KindSnapshot, entry.ID) {
			return nil
		}
		report.Snapshots++
		if err := c.markTree(ctx, entry.Snapshot.Root, m); err != nil {
			return fmt.Errorf("snapshot %s: %w", entry.ID.Short(), err)
		}
	}
	return nil
}

// markTree marks every node, manifest, shard and managed chunk
// reachable from a root node. Subtrees already marked are skipped.
func (c *Collector) markTree(ctx context.Context, rootID format.ObjectID, m *marks) error {
	return c.snapshots.Walk(ctx, rootID, func(path string, id format.ObjectID, node *format.Node) error {
		if !m.add(format.KindNode, id) {
			return snapshot.ErrSkipChildren
		}
		if node.Kind == format.NodeArray {
			if err := c.markManifest(ctx, node.Manifest, m); err != nil {
				return fmt.Errorf("array %s: %w", path, err)
			}
		}
		return nil
	})
}

func (c *Collector) markManifest(ctx context.Context, id format.ObjectID, m *marks) error {
	if id.IsZero() || !m.add(format.KindManifest, id) {
		return nil
	}
	manifest, err := c.snapshots.Manifests().Get(ctx, id)
	if err != nil {
		return err
	}
	for _, ref := range manifest.Shards {
		if !m.add(format.KindShard, ref.ID) {
			continue
		}
		shard, err := cas.Load[format.Shard](ctx, c.objects, format.KindShard, ref.ID)
		if err != nil {
			return fmt.Errorf("shard %s: %w", ref.ID.Short(), err)
		}
		for _, entry := range shard.Entries {
			if chunk, ok := entry.Ref.ManagedChunk(); ok {
				m.add(format.KindChunk, chunk)
			}
		}
	}
	return nil
}
