// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package refs

import (
	"context"
	"errors"
	"fmt"

	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/objectstore"
)

// CreateTag points a new tag at snapshot. Tags are write-once: an
// existing or deleted tag name fails with ErrAlreadyExists.
func (s *Store) CreateTag(ctx context.Context, name string, snapshot format.ObjectID) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if snapshot.IsZero() {
		return errors.New("refs: cannot tag the zero snapshot")
	}
	data, err := s.encode(snapshot, false)
	if err != nil {
		return err
	}
	err = s.objects.PutIfAbsent(ctx, tagDir(name)+tagRefFile, data)
	if errors.Is(err, objectstore.ErrPreconditionFailed) {
		return fmt.Errorf("%w: tag %q", ErrAlreadyExists, name)
	}
	if err != nil {
		return fmt.Errorf("writing tag %q: %w", name, err)
	}
	s.logger.Debug("tag created", "tag", name, "snapshot", snapshot.Short())
	return nil
}

// ReadTag returns the snapshot a tag points at.
func (s *Store) ReadTag(ctx context.Context, name string) (Ref, error) {
	if err := ValidateName(name); err != nil {
		return Ref{}, err
	}
	rec, err := s.readRecord(ctx, tagDir(name)+tagRefFile)
	if errors.Is(err, objectstore.ErrNotFound) {
		return Ref{}, fmt.Errorf("%w: tag %q", ErrRefNotFound, name)
	}
	if err != nil {
		return Ref{}, fmt.Errorf("reading tag %q: %w", name, err)
	}

	deleted, err := s.tagDeleted(ctx, name)
	if err != nil {
		return Ref{}, err
	}
	if deleted {
		return Ref{}, fmt.Errorf("%w: tag %q was deleted", ErrRefNotFound, name)
	}
	return Ref{Name: name, Kind: Tag, Snapshot: rec.Snapshot, Version: 1, UpdatedAt: rec.UpdatedAt}, nil
}

func (s *Store) tagDeleted(ctx context.Context, name string) (bool, error) {
	_, err := s.objects.Stat(ctx, tagDir(name)+tagTombstone)
	if errors.Is(err, objectstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking tag %q: %w", name, err)
	}
	return true, nil
}

// DeleteTag retires a tag. Its snapshot stops being a garbage
// collection root; the name can never be reused.
func (s *Store) DeleteTag(ctx context.Context, name string) error {
	if _, err := s.ReadTag(ctx, name); err != nil {
		return err
	}
	data, err := s.encode(format.ObjectID{}, true)
	if err != nil {
		return err
	}
	err = s.objects.PutIfAbsent(ctx, tagDir(name)+tagTombstone, data)
	if err != nil && !errors.Is(err, objectstore.ErrPreconditionFailed) {
		return fmt.Errorf("deleting tag %q: %w", name, err)
	}
	s.logger.Debug("tag deleted", "tag", name)
	return nil
}

// ListTags returns every live tag sorted by name.
func (s *Store) ListTags(ctx context.Context) ([]Ref, error) {
	names, err := s.names(ctx, tagPrefix)
	if err != nil {
		return nil, err
	}
	var tags []Ref
	for _, name := range names {
		ref, err := s.ReadTag(ctx, name)
		if errors.Is(err, ErrRefNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tags = append(tags, ref)
	}
	return tags, nil
}
