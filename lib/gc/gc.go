// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package gc

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/clock"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/refs"
	"github.com/tessera-data/tessera/lib/snapshot"
)

// Defaults for Options.
const (
	DefaultSafetyWindow = 24 * time.Hour
	DefaultConcurrency  = 8
)

// Options tunes a Collector.
type Options struct {
	// SafetyWindow is the minimum age of a deletable object. Zero
	// uses DefaultSafetyWindow.
	SafetyWindow time.Duration

	// Retention, when positive, stops history traversal at ancestors
	// older than now minus Retention.
	Retention time.Duration

	// Concurrency bounds parallel deletes. Zero uses
	// DefaultConcurrency.
	Concurrency int

	// DeleteRate limits deletes per second. Zero is unlimited.
	DeleteRate float64

	// DryRun reports what would be deleted without deleting.
	DryRun bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Report summarizes one collection.
type Report struct {
	DryRun bool

	// Roots counts branch tips and tags.
	Roots int

	// Snapshots counts retained snapshots; Expired counts ancestors
	// left out by the retention period.
	Snapshots int
	Expired   int

	// Reachable counts marked content objects of every kind.
	Reachable int

	// Scanned counts listed content objects.
	Scanned int

	// Young counts unreachable objects kept by the safety window.
	Young int

	// Deleted counts deleted objects (would-be deletions in a dry
	// run) and DeletedBytes their stored size.
	Deleted      int
	DeletedBytes int64

	// Failed counts deletes that returned an error.
	Failed int

	Duration time.Duration
}

func (r *Report) String() string {
	verb := "deleted"
	if r.DryRun {
		verb = "would delete"
	}
	return fmt.Sprintf("%d roots, %d snapshots (%d expired), %d reachable of %d objects; %s %d objects (%s), kept %d young, %d failures",
		r.Roots, r.Snapshots, r.Expired, r.Reachable, r.Scanned,
		verb, r.Deleted, humanize.Bytes(uint64(r.DeletedBytes)), r.Young, r.Failed)
}

// Collector runs garbage collection over one repository.
type Collector struct {
	objects   *cas.Store
	snapshots *snapshot.Store
	refs      *refs.Store
	options   Options
	clock     clock.Clock
	logger    *slog.Logger
}

// New returns a Collector.
func New(objects *cas.Store, snapshots *snapshot.Store, references *refs.Store, options Options) *Collector {
	if options.SafetyWindow == 0 {
		options.SafetyWindow = DefaultSafetyWindow
	}
	if options.Concurrency <= 0 {
		options.Concurrency = DefaultConcurrency
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{
		objects:   objects,
		snapshots: snapshots,
		refs:      references,
		options:   options,
		clock:     clock.OrReal(options.Clock),
		logger:    logger,
	}
}

// Run performs one mark and sweep. Sweep failures are counted in the
// report, not returned; errors are returned only when marking fails or
// ctx ends, since deleting without a complete mark is unsafe.
func (c *Collector) Run(ctx context.Context) (*Report, error) {
	start := c.clock.Now()
	report := &Report{DryRun: c.options.DryRun}

	marks, err := c.mark(ctx, start, report)
	if err != nil {
		return report, fmt.Errorf("gc mark: %w", err)
	}
	report.Reachable = len(marks.reachable)

	if err := c.sweep(ctx, start, marks, report); err != nil {
		return report, fmt.Errorf("gc sweep: %w", err)
	}
	report.Duration = c.clock.Now().Sub(start)

	c.logger.Info("garbage collection finished",
		"dry_run", report.DryRun,
		"roots", report.Roots,
		"snapshots", report.Snapshots,
		"expired", report.Expired,
		"reachable", report.Reachable,
		"scanned", report.Scanned,
		"deleted", report.Deleted,
		"deleted_bytes", humanize.Bytes(uint64(report.DeletedBytes)),
		"young", report.Young,
		"failed", report.Failed,
	)
	return report, nil
}

func (c *Collector) sweep(ctx context.Context, now time.Time, marks *marks, report *Report) error {
	limit := rate.Inf
	if c.options.DeleteRate > 0 {
		limit = rate.Limit(c.options.DeleteRate)
	}
	limiter := rate.NewLimiter(limit, c.options.Concurrency)
	store := c.objects.Objects()

	var (
		deleted      atomic.Int64
		deletedBytes atomic.Int64
		failed       atomic.Int64
	)
	for _, kind := range format.ContentKinds {
		infos, err := store.List(ctx, kind.Prefix())
		if err != nil {
			return fmt.Errorf("listing %s objects: %w", kind, err)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(c.options.Concurrency)
		for _, info := range infos {
			report.Scanned++
			if _, _, err := format.ParseObjectKey(info.Key); err != nil {
				c.logger.Debug("skipping foreign key", "key", info.Key)
				continue
			}
			if marks.has(info.Key) {
				continue
			}
			if now.Sub(info.LastModified) < c.options.SafetyWindow {
				report.Young++
				continue
			}
			if c.options.DryRun {
				deleted.Add(1)
				deletedBytes.Add(info.Size)
				continue
			}

			group.Go(func() error {
				if err := limiter.Wait(groupCtx); err != nil {
					return err
				}
				if err := store.Delete(groupCtx, info.Key); err != nil {
					if groupCtx.Err() != nil {
						return err
					}
					failed.Add(1)
					c.logger.Warn("gc delete failed", "key", info.Key, "error", err)
					return nil
				}
				deleted.Add(1)
				deletedBytes.Add(info.Size)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			report.Deleted, report.DeletedBytes, report.Failed = int(deleted.Load()), deletedBytes.Load(), int(failed.Load())
			return err
		}
		c.logger.Debug("swept namespace", "kind", kind.String(), "objects", len(infos))
	}

	report.Deleted, report.DeletedBytes, report.Failed = int(deleted.Load()), deletedBytes.Load(), int(failed.Load())
	return nil
}

// marks is the reachable set, keyed by object store key.
type marks struct {
	reachable map[string]struct{}
}

func (m *marks) has(key string) bool {
	_, ok := m.reachable[key]
	return ok
}

// add marks (kind, id) and reports whether it was new.
func (m *marks) add(kind format.Kind, id format.ObjectID) bool {
	key := format.ObjectKey(kind, id)
	if _, ok := m.reachable[key]; ok {
		return false
	}
	m.reachable[key] = struct{}{}
	return true
}
