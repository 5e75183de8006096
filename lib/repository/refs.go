// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"

	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/refs"
)

// CreateBranch creates a branch at an existing snapshot.
func (r *Repository) CreateBranch(ctx context.Context, name string, at format.ObjectID) error {
	if _, err := r.snapshots.Get(ctx, at); err != nil {
		return fmt.Errorf("branch %s target: %w", name, err)
	}
	if err := r.refs.CreateBranch(ctx, name, at); err != nil {
		return err
	}
	r.logger.Info("branch created", "branch", name, "snapshot", at.Short())
	return nil
}

// Branch returns a branch reference.
func (r *Repository) Branch(ctx context.Context, name string) (refs.Ref, error) {
	return r.refs.ReadBranch(ctx, name)
}

// ListBranches returns every branch sorted by name.
func (r *Repository) ListBranches(ctx context.Context) ([]refs.Ref, error) {
	return r.refs.ListBranches(ctx)
}

// BranchHistory returns every version of a branch, newest first.
func (r *Repository) BranchHistory(ctx context.Context, name string) ([]refs.Ref, error) {
	return r.refs.BranchHistory(ctx, name)
}

// ResetBranch points a branch at another existing snapshot, provided it
// still points at expected.
func (r *Repository) ResetBranch(ctx context.Context, name string, expected, to format.ObjectID) error {
	if _, err := r.snapshots.Get(ctx, to); err != nil {
		return fmt.Errorf("branch %s target: %w", name, err)
	}
	if err := r.refs.ConditionalUpdate(ctx, name, expected, to); err != nil {
		return err
	}
	r.logger.Info("branch reset", "branch", name, "from", expected.Short(), "to", to.Short())
	return nil
}

// DeleteBranch deletes a branch at its current tip. A commit landing
// concurrently makes the delete fail with a refs.ConflictError.
func (r *Repository) DeleteBranch(ctx context.Context, name string) error {
	ref, err := r.refs.ReadBranch(ctx, name)
	if err != nil {
		return err
	}
	if err := r.refs.DeleteBranch(ctx, name, ref.Snapshot); err != nil {
		return err
	}
	r.logger.Info("branch deleted", "branch", name, "snapshot", ref.Snapshot.Short())
	return nil
}

// CreateTag tags an existing snapshot. Tag names are never reused.
func (r *Repository) CreateTag(ctx context.Context, name string, at format.ObjectID) error {
	if _, err := r.snapshots.Get(ctx, at); err != nil {
		return fmt.Errorf("tag %s target: %w", name, err)
	}
	if err := r.refs.CreateTag(ctx, name, at); err != nil {
		return err
	}
	r.logger.Info("tag created", "tag", name, "snapshot", at.Short())
	return nil
}

// Tag returns a tag reference.
func (r *Repository) Tag(ctx context.Context, name string) (refs.Ref, error) {
	return r.refs.ReadTag(ctx, name)
}

// ListTags returns every live tag sorted by name.
func (r *Repository) ListTags(ctx context.Context) ([]refs.Ref, error) {
	return r.refs.ListTags(ctx)
}

// DeleteTag deletes a tag; the name stays reserved.
func (r *Repository) DeleteTag(ctx context.Context, name string) error {
	if err := r.refs.DeleteTag(ctx, name); err != nil {
		return err
	}
	r.logger.Info("tag deleted", "tag", name)
	return nil
}
