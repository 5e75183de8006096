// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package refs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tessera-data/tessera/lib/clock"
	"github.com/tessera-data/tessera/lib/codec"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/objectstore"
)

// Prefix is the key namespace holding references.
const Prefix = "refs/"

const (
	branchPrefix = Prefix + "branch."
	tagPrefix    = Prefix + "tag."
	tagRefFile   = "ref.cbor"
	tagTombstone = "deleted.cbor"
)

var (
	// ErrRefNotFound is returned for branches and tags that do not
	// exist or were deleted. It matches objectstore.ErrNotFound.
	ErrRefNotFound = fmt.Errorf("refs: reference not found: %w", objectstore.ErrNotFound)

	// ErrAlreadyExists is returned when creating a tag or branch
	// whose name is taken. Deleted tag names stay taken.
	ErrAlreadyExists = errors.New("refs: reference already exists")

	// ErrConflict is matched by *ConflictError.
	ErrConflict = errors.New("refs: conflicting reference update")

	// ErrInvalidName is returned for unusable branch or tag names.
	ErrInvalidName = errors.New("refs: invalid reference name")
)

// ConflictError reports a conditional update whose expectation did not
// hold. Actual is the zero identifier when the branch does not exist.
type ConflictError struct {
	Name     string
	Expected format.ObjectID
	Actual   format.ObjectID
}

func (err *ConflictError) Error() string {
	return fmt.Sprintf("refs: branch %q moved: expected %s, found %s",
		err.Name, describeTarget(err.Expected), describeTarget(err.Actual))
}

// Is makes errors.Is(err, ErrConflict) hold.
func (err *ConflictError) Is(target error) bool { return target == ErrConflict }

func describeTarget(id format.ObjectID) string {
	if id.IsZero() {
		return "nothing"
	}
	return id.Short()
}

// Kind distinguishes branches from tags.
type Kind uint8

const (
	Branch Kind = iota + 1
	Tag
)

func (k Kind) String() string {
	switch k {
	case Branch:
		return "branch"
	case Tag:
		return "tag"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Ref is a named pointer to a snapshot.
type Ref struct {
	Name     string
	Kind     Kind
	Snapshot format.ObjectID

	// Version counts updates of a branch, starting at 1. Tags are
	// always version 1.
	Version   uint64
	UpdatedAt time.Time

	// Deleted is only set in BranchHistory, for tombstones.
	Deleted bool
}

// record is the persisted form of one reference version.
type record struct {
	Snapshot  format.ObjectID `cbor:"snapshot"`
	Deleted   bool            `cbor:"deleted,omitempty"`
	UpdatedAt time.Time       `cbor:"updated_at"`
}

// ValidateName checks a branch or tag name. Names are single key
// segments: no slashes, whitespace or control characters, and no
// leading dot.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// Store reads and updates references in an object store.
type Store struct {
	objects objectstore.Store
	clock   clock.Clock
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for UpdatedAt.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clock.OrReal(clk) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New returns a reference Store over objects.
func New(objects objectstore.Store, options ...Option) *Store {
	store := &Store{
		objects: objects,
		clock:   clock.Real(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(store)
	}
	if store.Degraded() {
		store.logger.Warn("object store lacks atomic create; concurrent branch updates may be lost")
	}
	return store
}

// Degraded reports whether branch updates are only best-effort
// because the object store cannot create atomically.
func (s *Store) Degraded() bool {
	return !s.objects.Capabilities().AtomicCreate
}

// versionName encodes v so that newer versions sort first.
func versionName(version uint64) string {
	return fmt.Sprintf("%016x.cbor", ^version)
}

func parseVersionName(name string) (uint64, bool) {
	hex, ok := strings.CutSuffix(name, ".cbor")
	if !ok || len(hex) != 16 {
		return 0, false
	}
	inverted, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return ^inverted, true
}

func branchDir(name string) string { return branchPrefix + name + "/" }

func tagDir(name string) string { return tagPrefix + name + "/" }

func (s *Store) readRecord(ctx context.Context, key string) (record, error) {
	data, err := s.objects.Get(ctx, key)
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := codec.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decoding reference %s: %w", key, err)
	}
	return rec, nil
}

func (s *Store) encode(snapshot format.ObjectID, deleted bool) ([]byte, error) {
	return codec.Marshal(record{Snapshot: snapshot, Deleted: deleted, UpdatedAt: s.clock.Now().UTC()})
}

// branchState is the newest version of a branch as currently listed.
// Version 0 means the branch was never created.
type branchState struct {
	version uint64
	record  record
}

func (state branchState) live() bool { return state.version > 0 && !state.record.Deleted }

func (state branchState) target() format.ObjectID {
	if !state.live() {
		return format.ObjectID{}
	}
	return state.record.Snapshot
}

func (s *Store) branchVersions(ctx context.Context, name string) ([]uint64, error) {
	infos, err := s.objects.List(ctx, branchDir(name))
	if err != nil {
		return nil, fmt.Errorf("listing branch %q: %w", name, err)
	}
	var versions []uint64
	for _, info := range infos {
		if version, ok := parseVersionName(strings.TrimPrefix(info.Key, branchDir(name))); ok {
			versions = append(versions, version)
		}
	}
	// Listing order is newest first already; sort anyway so adapters
	// that return unsorted pages cannot break it.
	slices.Sort(versions)
	slices.Reverse(versions)
	return versions, nil
}

func (s *Store) currentBranch(ctx context.Context, name string) (branchState, error) {
	versions, err := s.branchVersions(ctx, name)
	if err != nil {
		return branchState{}, err
	}
	if len(versions) == 0 {
		return branchState{}, nil
	}
	rec, err := s.readRecord(ctx, branchDir(name)+versionName(versions[0]))
	if err != nil {
		return branchState{}, fmt.Errorf("reading branch %q: %w", name, err)
	}
	return branchState{version: versions[0], record: rec}, nil
}

// ReadBranch returns the current target of a branch.
func (s *Store) ReadBranch(ctx context.Context, name string) (Ref, error) {
	if err := ValidateName(name); err != nil {
		return Ref{}, err
	}
	state, err := s.currentBranch(ctx, name)
	if err != nil {
		return Ref{}, err
	}
	if !state.live() {
		return Ref{}, fmt.Errorf("%w: branch %q", ErrRefNotFound, name)
	}
	return Ref{
		Name:      name,
		Kind:      Branch,
		Snapshot:  state.record.Snapshot,
		Version:   state.version,
		UpdatedAt: state.record.UpdatedAt,
	}, nil
}

// ConditionalUpdate moves branch name from expected to next. A zero
// expected means the branch must not exist. Any other current target
// fails with *ConflictError carrying the actual target.
func (s *Store) ConditionalUpdate(ctx context.Context, name string, expected, next format.ObjectID) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if next.IsZero() {
		return errors.New("refs: cannot point a branch at the zero snapshot")
	}
	return s.writeBranch(ctx, name, expected, next, false)
}

func (s *Store) writeBranch(ctx context.Context, name string, expected, next format.ObjectID, deleted bool) error {
	state, err := s.currentBranch(ctx, name)
	if err != nil {
		return err
	}
	if actual := state.target(); actual != expected {
		return &ConflictError{Name: name, Expected: expected, Actual: actual}
	}

	data, err := s.encode(next, deleted)
	if err != nil {
		return err
	}
	version := state.version + 1
	err = s.objects.PutIfAbsent(ctx, branchDir(name)+versionName(version), data)
	if errors.Is(err, objectstore.ErrPreconditionFailed) {
		// Another writer created this version first.
		s.logger.Info("branch update lost race", "branch", name, "version", version)
		latest, readErr := s.currentBranch(ctx, name)
		if readErr != nil {
			s.logger.Warn("re-reading branch after lost race failed",
				"branch", name,
				"version", version,
				"error", readErr,
			)
			return fmt.Errorf("re-reading branch %q after losing version %d: %w", name, version, readErr)
		}
		return &ConflictError{Name: name, Expected: expected, Actual: latest.target()}
	}
	if err != nil {
		return fmt.Errorf("writing branch %q version %d: %w", name, version, err)
	}

	s.logger.Debug("branch updated",
		"branch", name,
		"version", version,
		"snapshot", next.Short(),
		"deleted", deleted,
	)
	return nil
}

// CreateBranch creates branch name at snapshot. An existing live branch
// fails with ErrAlreadyExists; a deleted name can be reused.
func (s *Store) CreateBranch(ctx context.Context, name string, snapshot format.ObjectID) error {
	err := s.ConditionalUpdate(ctx, name, format.ObjectID{}, snapshot)
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: branch %q", ErrAlreadyExists, name)
	}
	return err
}

// DeleteBranch removes a branch by writing a tombstone version. It is
// conditional on the branch still pointing at expected, so a commit
// that lands concurrently makes the delete fail instead of being
// silently discarded.
func (s *Store) DeleteBranch(ctx context.Context, name string, expected format.ObjectID) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if expected.IsZero() {
		return fmt.Errorf("%w: branch %q", ErrRefNotFound, name)
	}
	return s.writeBranch(ctx, name, expected, format.ObjectID{}, true)
}

// BranchHistory returns every version of a branch, newest first,
// including tombstones.
func (s *Store) BranchHistory(ctx context.Context, name string) ([]Ref, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	versions, err := s.branchVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: branch %q", ErrRefNotFound, name)
	}
	history := make([]Ref, 0, len(versions))
	for _, version := range versions {
		rec, err := s.readRecord(ctx, branchDir(name)+versionName(version))
		if err != nil {
			return nil, fmt.Errorf("reading branch %q version %d: %w", name, version, err)
		}
		history = append(history, Ref{
			Name:      name,
			Kind:      Branch,
			Snapshot:  rec.Snapshot,
			Version:   version,
			UpdatedAt: rec.UpdatedAt,
			Deleted:   rec.Deleted,
		})
	}
	return history, nil
}

// ListBranches returns every live branch sorted by name.
func (s *Store) ListBranches(ctx context.Context) ([]Ref, error) {
	names, err := s.names(ctx, branchPrefix)
	if err != nil {
		return nil, err
	}
	var branches []Ref
	for _, name := range names {
		ref, err := s.ReadBranch(ctx, name)
		if errors.Is(err, ErrRefNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		branches = append(branches, ref)
	}
	return branches, nil
}

// names returns the distinct reference names under prefix, sorted.
func (s *Store) names(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	var names []string
	for _, info := range infos {
		name, _, ok := strings.Cut(strings.TrimPrefix(info.Key, prefix), "/")
		if !ok || ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	// "main.v2/" sorts before "main/", so key order is not name order.
	slices.Sort(names)
	return slices.Compact(names), nil
}
