// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package repository ties the storage layers together into the Go API
// of a Tessera repository: creating and opening repositories, opening
// writable and read-only sessions, managing branches and tags,
// browsing history, and collecting garbage.
//
//	objects, _ := repository.OpenStorage(cfg, logger)
//	repo, _ := repository.Open(ctx, objects, repository.WithConfig(cfg))
//	s, _ := repo.Writable(ctx, "main")
//	s.CreateArray(ctx, "/temperature", session.ArrayMetadata{...})
//	s.WriteChunk(ctx, "/temperature", format.Coord{0, 0}, payload)
//	id, err := s.Commit(ctx, "first readings")
package repository
