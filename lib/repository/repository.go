// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/tessera-data/tessera/lib/cas"
	"github.com/tessera-data/tessera/lib/clock"
	"github.com/tessera-data/tessera/lib/config"
	"github.com/tessera-data/tessera/lib/conflict"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/gc"
	"github.com/tessera-data/tessera/lib/manifest"
	"github.com/tessera-data/tessera/lib/objectstore"
	"github.com/tessera-data/tessera/lib/refs"
	"github.com/tessera-data/tessera/lib/session"
	"github.com/tessera-data/tessera/lib/snapshot"
)

// DefaultBranch is the branch Create makes.
const DefaultBranch = "main"

var (
	// ErrNotFound matches every missing-object, missing-node and
	// missing-reference error the repository returns.
	ErrNotFound = objectstore.ErrNotFound

	// ErrAlreadyExists is returned by Create on initialized storage
	// and when creating a taken branch or tag name.
	ErrAlreadyExists = refs.ErrAlreadyExists

	// ErrNotRepository is returned by Open when the storage holds no
	// branches. It matches ErrNotFound.
	ErrNotRepository = fmt.Errorf("repository: storage holds no repository: %w", objectstore.ErrNotFound)
)

// settings collects the options.
type settings struct {
	logger          *slog.Logger
	clock           clock.Clock
	author          string
	compression     format.Compression
	cacheBytes      int64
	shardSize       int
	inlineThreshold int
	retryLimit      int
	commitTimeout   time.Duration
	virtual         objectstore.Store
	gc              gc.Options
}

// Option configures a Repository.
type Option func(*settings)

// WithLogger sets the logger for the repository and its layers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithClock sets the clock for snapshot timestamps, reference updates
// and garbage collection.
func WithClock(clk clock.Clock) Option {
	return func(s *settings) { s.clock = clk }
}

// WithAuthor sets the author recorded on commits.
func WithAuthor(author string) Option {
	return func(s *settings) { s.author = author }
}

// WithCacheBytes enables the decoded-object cache with the given
// budget. Zero or less disables it.
func WithCacheBytes(maxBytes int64) Option {
	return func(s *settings) { s.cacheBytes = maxBytes }
}

// WithVirtualStore sets the store virtual chunk references are read
// from.
func WithVirtualStore(store objectstore.Store) Option {
	return func(s *settings) { s.virtual = store }
}

// WithInlineThreshold sets the size below which chunks are inlined in
// manifests. Negative disables inlining.
func WithInlineThreshold(threshold int) Option {
	return func(s *settings) { s.inlineThreshold = threshold }
}

// WithRetryLimit bounds commit attempts.
func WithRetryLimit(limit int) Option {
	return func(s *settings) { s.retryLimit = limit }
}

// WithConfig applies the repository, cache and gc sections of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) {
		repo := cfg.Repository
		s.author = repo.Author
		s.retryLimit = repo.CommitRetryLimit
		s.commitTimeout = repo.CommitTimeout
		s.shardSize = repo.ManifestShardSize
		s.inlineThreshold = repo.InlineChunkThreshold
		if s.inlineThreshold == 0 {
			s.inlineThreshold = -1
		}
		if compression, err := format.ParseCompression(repo.Compression); err == nil {
			s.compression = compression
		}
		s.cacheBytes = 0
		if cfg.Cache.IsEnabled() {
			s.cacheBytes = cfg.Cache.MaxBytes
		}
		s.gc = gc.Options{
			SafetyWindow: cfg.GC.SafetyWindow,
			Retention:    cfg.GC.Retention,
			Concurrency:  cfg.GC.Concurrency,
			DeleteRate:   cfg.GC.DeleteRate,
		}
	}
}

// OpenStorage builds the object store adapter chain cfg describes.
func OpenStorage(cfg *config.Config, logger *slog.Logger) (objectstore.Store, error) {
	return objectstore.Open(cfg.Storage, logger)
}

// Repository is a handle on one repository. It is safe for concurrent
// use; sessions opened from it are independent.
type Repository struct {
	objects   objectstore.Store
	content   *cas.Store
	snapshots *snapshot.Store
	refs      *refs.Store
	resolver  *conflict.Resolver
	settings  settings
	logger    *slog.Logger
}

func newRepository(objects objectstore.Store, options []Option) (*Repository, error) {
	s := settings{
		logger:          slog.New(slog.DiscardHandler),
		clock:           clock.Real(),
		compression:     format.CompressionZstd,
		shardSize:       manifest.DefaultShardSize,
		inlineThreshold: session.DefaultInlineThreshold,
		retryLimit:      conflict.DefaultRetryLimit,
		commitTimeout:   conflict.DefaultTimeout,
	}
	for _, option := range options {
		option(&s)
	}

	casOptions := []cas.Option{cas.WithCompression(s.compression), cas.WithLogger(s.logger)}
	if s.cacheBytes > 0 {
		cache, err := cas.NewCache(s.cacheBytes)
		if err != nil {
			return nil, err
		}
		casOptions = append(casOptions, cas.WithCache(cache))
	}
	content := cas.New(objects, casOptions...)
	manifests := manifest.New(content, manifest.WithShardSize(s.shardSize), manifest.WithLogger(s.logger))
	snapshots := snapshot.New(content, manifests, snapshot.WithClock(s.clock), snapshot.WithLogger(s.logger))
	references := refs.New(objects, refs.WithClock(s.clock), refs.WithLogger(s.logger))
	resolver := conflict.New(snapshots, references,
		conflict.WithRetryLimit(s.retryLimit),
		conflict.WithTimeout(s.commitTimeout),
		conflict.WithLogger(s.logger),
	)
	return &Repository{
		objects:   objects,
		content:   content,
		snapshots: snapshots,
		refs:      references,
		resolver:  resolver,
		settings:  s,
		logger:    s.logger,
	}, nil
}

// Create initializes a repository in objects: an empty root snapshot
// and the main branch pointing at it.
func Create(ctx context.Context, objects objectstore.Store, options ...Option) (*Repository, error) {
	repo, err := newRepository(objects, options)
	if err != nil {
		return nil, err
	}
	branches, err := repo.refs.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	if len(branches) > 0 {
		return nil, fmt.Errorf("%w: storage already holds a repository", ErrAlreadyExists)
	}

	root, err := repo.snapshots.CreateRoot(ctx, "Repository initialized", repo.settings.author)
	if err != nil {
		return nil, fmt.Errorf("creating root snapshot: %w", err)
	}
	if err := repo.refs.CreateBranch(ctx, DefaultBranch, root); err != nil {
		return nil, fmt.Errorf("creating branch %s: %w", DefaultBranch, err)
	}
	repo.logger.Info("repository created", "snapshot", root.Short(), "branch", DefaultBranch)
	return repo, nil
}

// Open opens an existing repository in objects.
func Open(ctx context.Context, objects objectstore.Store, options ...Option) (*Repository, error) {
	repo, err := newRepository(objects, options)
	if err != nil {
		return nil, err
	}
	branches, err := repo.refs.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	if len(branches) == 0 {
		return nil, ErrNotRepository
	}
	return repo, nil
}

// Close releases the cache and the object store.
func (r *Repository) Close() error {
	if cache := r.content.Cache(); cache != nil {
		cache.Close()
	}
	return r.objects.Close()
}

// Degraded reports whether concurrent branch updates are only
// best-effort on this storage.
func (r *Repository) Degraded() bool { return r.refs.Degraded() }

func (r *Repository) sessionConfig() session.Config {
	return session.Config{
		Snapshots:       r.snapshots,
		Objects:         r.content,
		Resolver:        r.resolver,
		Virtual:         r.settings.virtual,
		Author:          r.settings.author,
		InlineThreshold: r.settings.inlineThreshold,
		Logger:          r.logger,
	}
}

// Writable opens a session that commits to branch, based on its
// current tip.
func (r *Repository) Writable(ctx context.Context, branch string) (*session.Session, error) {
	ref, err := r.refs.ReadBranch(ctx, branch)
	if err != nil {
		return nil, err
	}
	return session.Writable(ctx, r.sessionConfig(), branch, ref.Snapshot)
}

// ReadonlyAt opens a read-only session at a snapshot.
func (r *Repository) ReadonlyAt(ctx context.Context, id format.ObjectID) (*session.Session, error) {
	return session.ReadOnly(ctx, r.sessionConfig(), id)
}

// ReadonlyBranch opens a read-only session at a branch's current tip.
func (r *Repository) ReadonlyBranch(ctx context.Context, branch string) (*session.Session, error) {
	ref, err := r.refs.ReadBranch(ctx, branch)
	if err != nil {
		return nil, err
	}
	return r.ReadonlyAt(ctx, ref.Snapshot)
}

// ReadonlyTag opens a read-only session at a tag.
func (r *Repository) ReadonlyTag(ctx context.Context, tag string) (*session.Session, error) {
	ref, err := r.refs.ReadTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	return r.ReadonlyAt(ctx, ref.Snapshot)
}

// Resolve turns a revision into a snapshot identifier. A revision is a
// full hexadecimal snapshot identifier, a branch name or a tag name,
// tried in that order.
func (r *Repository) Resolve(ctx context.Context, revision string) (format.ObjectID, error) {
	if id, err := format.ParseObjectID(revision); err == nil {
		if _, err := r.snapshots.Get(ctx, id); err != nil {
			return format.ObjectID{}, err
		}
		return id, nil
	}
	if refs.ValidateName(revision) != nil {
		return format.ObjectID{}, fmt.Errorf("%w: revision %q", ErrNotFound, revision)
	}
	branch, err := r.refs.ReadBranch(ctx, revision)
	if err == nil {
		return branch.Snapshot, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return format.ObjectID{}, err
	}
	tag, err := r.refs.ReadTag(ctx, revision)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return format.ObjectID{}, fmt.Errorf("%w: no snapshot, branch or tag named %q", ErrNotFound, revision)
		}
		return format.ObjectID{}, err
	}
	return tag.Snapshot, nil
}

// Snapshot loads a snapshot.
func (r *Repository) Snapshot(ctx context.Context, id format.ObjectID) (*format.Snapshot, error) {
	return r.snapshots.Get(ctx, id)
}

// Ancestors yields id and its ancestors, newest first. After garbage
// collection with a retention period the sequence can end with an
// error matching ErrNotFound where history was expired.
func (r *Repository) Ancestors(ctx context.Context, id format.ObjectID) iter.Seq2[snapshot.Entry, error] {
	return r.snapshots.Ancestors(ctx, id)
}

// Diff lists the changes between two snapshots.
func (r *Repository) Diff(ctx context.Context, from, to format.ObjectID) ([]snapshot.Change, error) {
	return r.snapshots.Diff(ctx, from, to)
}

// GarbageCollect runs one collection. The configured gc settings apply
// unless dryRun overrides DryRun.
func (r *Repository) GarbageCollect(ctx context.Context, dryRun bool) (*gc.Report, error) {
	options := r.settings.gc
	options.DryRun = dryRun
	options.Clock = r.settings.clock
	options.Logger = r.logger
	return gc.New(r.content, r.snapshots, r.refs, options).Run(ctx)
}

// CollectWith runs one collection with explicit options.
func (r *Repository) CollectWith(ctx context.Context, options gc.Options) (*gc.Report, error) {
	if options.Clock == nil {
		options.Clock = r.settings.clock
	}
	if options.Logger == nil {
		options.Logger = r.logger
	}
	return gc.New(r.content, r.snapshots, r.refs, options).Run(ctx)
}
