// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/refs"
	"github.com/tessera-data/tessera/lib/snapshot"
)

// Defaults for the commit loop.
const (
	DefaultRetryLimit = 5
	DefaultTimeout    = 2 * time.Minute
)

var (
	// ErrConflict is matched by *ConflictError.
	ErrConflict = errors.New("conflict: overlapping concurrent changes")

	// ErrRetryExhausted is matched by *RetryExhaustedError.
	ErrRetryExhausted = errors.New("conflict: commit retries exhausted")
)

// ConflictError reports a commit whose changes overlap changes that
// landed on the branch after the session's base snapshot.
type ConflictError struct {
	Branch string

	// Tip is the branch head the commit lost against.
	Tip format.ObjectID

	// Paths are the session's changed paths that overlap, sorted.
	Paths []string
}

func (err *ConflictError) Error() string {
	return fmt.Sprintf("conflict: branch %q at %s has concurrent changes to %s",
		err.Branch, err.Tip.Short(), strings.Join(err.Paths, ", "))
}

// Is makes errors.Is(err, ErrConflict) hold.
func (err *ConflictError) Is(target error) bool { return target == ErrConflict }

// RetryExhaustedError reports a commit that kept losing races against
// non-overlapping commits until its retry budget ran out. Err is the
// last failure, a deadline error when the budget was time.
type RetryExhaustedError struct {
	Branch   string
	Attempts int
	Err      error
}

func (err *RetryExhaustedError) Error() string {
	return fmt.Sprintf("conflict: gave up committing to branch %q after %d attempts: %v",
		err.Branch, err.Attempts, err.Err)
}

func (err *RetryExhaustedError) Unwrap() error { return err.Err }

// Is makes errors.Is(err, ErrRetryExhausted) hold.
func (err *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// Classify returns the paths of ours that overlap theirs, sorted and
// without duplicates. It is pure and does no I/O.
func Classify(ours, theirs []snapshot.Change) []string {
	if len(ours) == 0 || len(theirs) == 0 {
		return nil
	}

	var (
		theirNodes  = make(map[string]bool)
		theirPaths  = make(map[string]bool)
		theirChunks = make(map[string]bool)
	)
	for _, change := range theirs {
		theirPaths[change.Path] = true
		if change.Kind == snapshot.ChunkChanged {
			theirChunks[chunkKey(change)] = true
		} else {
			theirNodes[change.Path] = true
		}
	}

	var overlapping []string
	for _, change := range ours {
		if overlaps(change, theirNodes, theirPaths, theirChunks) {
			overlapping = append(overlapping, change.Path)
		}
	}
	slices.Sort(overlapping)
	return slices.Compact(overlapping)
}

func overlaps(change snapshot.Change, theirNodes, theirPaths, theirChunks map[string]bool) bool {
	if change.Kind == snapshot.ChunkChanged {
		if theirChunks[chunkKey(change)] {
			return true
		}
		// A node-level change to the array or any group above it.
		for path := change.Path; ; {
			if theirNodes[path] {
				return true
			}
			if path == snapshot.RootPath {
				return false
			}
			path, _ = snapshot.ParentPath(path)
		}
	}
	for path := range theirPaths {
		if snapshot.Related(change.Path, path) {
			return true
		}
	}
	return false
}

func chunkKey(change snapshot.Change) string {
	return change.Path + "\x00" + change.Coord.Key()
}

// Resolver runs the commit loop for one repository.
type Resolver struct {
	snapshots  *snapshot.Store
	refs       *refs.Store
	retryLimit int
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRetryLimit bounds how many times a commit is attempted. Values
// below one are ignored.
func WithRetryLimit(limit int) Option {
	return func(r *Resolver) {
		if limit > 0 {
			r.retryLimit = limit
		}
	}
}

// WithTimeout bounds the wall time of the whole loop. Zero disables
// the deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) { r.timeout = timeout }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// New returns a Resolver.
func New(snapshots *snapshot.Store, references *refs.Store, options ...Option) *Resolver {
	resolver := &Resolver{
		snapshots:  snapshots,
		refs:       references,
		retryLimit: DefaultRetryLimit,
		timeout:    DefaultTimeout,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(resolver)
	}
	return resolver
}

// Check compares ours, a change set made against base, with what
// landed between base and tip. It returns nil when a rebase is safe
// and a *ConflictError otherwise.
func (r *Resolver) Check(ctx context.Context, branch string, base, tip format.ObjectID, ours []snapshot.Change) error {
	theirs, err := r.snapshots.Diff(ctx, base, tip)
	if err != nil {
		return fmt.Errorf("comparing %s with tip %s: %w", base.Short(), tip.Short(), err)
	}
	if paths := Classify(ours, theirs); len(paths) > 0 {
		return &ConflictError{Branch: branch, Tip: tip, Paths: paths}
	}
	return nil
}

// Build writes a snapshot holding the session's changes on top of
// parent and returns its identifier.
type Build func(ctx context.Context, parent format.ObjectID) (format.ObjectID, error)

// Commit moves branch from base to a snapshot produced by build,
// rebasing onto newer tips as long as their changes are disjoint from
// ours. It returns the snapshot the branch now points at.
func (r *Resolver) Commit(ctx context.Context, branch string, base format.ObjectID, ours []snapshot.Change, build Build) (format.ObjectID, error) {
	loopCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		loopCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	parent := base
	var lastErr error
	for attempt := 1; attempt <= r.retryLimit; attempt++ {
		id, err := build(loopCtx, parent)
		if err != nil {
			return format.ObjectID{}, r.deadline(ctx, loopCtx, branch, attempt, err)
		}

		err = r.refs.ConditionalUpdate(loopCtx, branch, parent, id)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("commit rebased",
					"branch", branch,
					"snapshot", id.Short(),
					"base", base.Short(),
					"attempts", attempt,
				)
			}
			return id, nil
		}

		var moved *refs.ConflictError
		if !errors.As(err, &moved) {
			return format.ObjectID{}, r.deadline(ctx, loopCtx, branch, attempt, err)
		}
		if moved.Actual.IsZero() {
			return format.ObjectID{}, fmt.Errorf("branch %q was deleted during commit: %w", branch, refs.ErrRefNotFound)
		}

		// The snapshot just written is now garbage; collection removes it.
		if err := r.Check(loopCtx, branch, parent, moved.Actual, ours); err != nil {
			return format.ObjectID{}, r.deadline(ctx, loopCtx, branch, attempt, err)
		}
		r.logger.Debug("branch moved, rebasing",
			"branch", branch,
			"attempt", attempt,
			"from", parent.Short(),
			"to", moved.Actual.Short(),
		)
		parent = moved.Actual
		lastErr = err
	}
	return format.ObjectID{}, &RetryExhaustedError{Branch: branch, Attempts: r.retryLimit, Err: lastErr}
}

// deadline turns failures caused by the loop's own deadline into
// RetryExhaustedError and passes everything else through.
func (r *Resolver) deadline(ctx, loopCtx context.Context, branch string, attempt int, err error) error {
	if ctx.Err() == nil && errors.Is(loopCtx.Err(), context.DeadlineExceeded) {
		return &RetryExhaustedError{Branch: branch, Attempts: attempt, Err: loopCtx.Err()}
	}
	return err
}
