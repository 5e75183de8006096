// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tessera-data/tessera/lib/codec"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/objectstore"
)

var (
	// ErrCorrupt is returned when stored bytes do not match their
	// identifier or cannot be decoded.
	ErrCorrupt = errors.New("cas: corrupt object")

	// ErrHashCollision is returned when an object already stored under
	// an identifier disagrees in size with the bytes being written.
	// It indicates a digest collision or a damaged store and is never
	// expected in practice.
	ErrHashCollision = errors.New("cas: existing object disagrees with new content")

	// ErrUnmanaged is returned by ReadRange for virtual references,
	// which point outside the repository.
	ErrUnmanaged = errors.New("cas: reference is not managed by the repository")
)

// Store reads and writes content-addressed objects.
type Store struct {
	objects     objectstore.Store
	compression format.Compression
	cache       *Cache
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCompression sets the codec for structured objects. Default zstd.
func WithCompression(compression format.Compression) Option {
	return func(s *Store) { s.compression = compression }
}

// WithCache enables the decoded-object cache. A nil cache disables it.
func WithCache(cache *Cache) Option {
	return func(s *Store) { s.cache = cache }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New returns a Store over objects.
func New(objects objectstore.Store, options ...Option) *Store {
	store := &Store{
		objects:     objects,
		compression: format.CompressionZstd,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(store)
	}
	return store
}

// Objects returns the underlying object store.
func (s *Store) Objects() objectstore.Store { return s.objects }

// Cache returns the decoded-object cache, or nil.
func (s *Store) Cache() *Cache { return s.cache }

// PutBlob stores payload as an object of kind and returns its
// identifier. Chunks are stored as-is; every other kind is framed.
// Writing content that already exists is a no-op.
func (s *Store) PutBlob(ctx context.Context, kind format.Kind, payload []byte) (format.ObjectID, error) {
	if !kind.Valid() {
		return format.ObjectID{}, fmt.Errorf("cas: invalid kind %d", kind)
	}
	id := format.Hash(kind, payload)
	stored := payload
	if kind != format.KindChunk {
		frame, err := format.EncodeFrame(kind, s.compression, payload)
		if err != nil {
			return format.ObjectID{}, fmt.Errorf("framing %s %s: %w", kind, id.Short(), err)
		}
		stored = frame
	}

	if err := s.put(ctx, kind, id, len(payload), stored); err != nil {
		return format.ObjectID{}, err
	}
	return id, nil
}

// PutObject encodes value canonically and stores it as kind.
func (s *Store) PutObject(ctx context.Context, kind format.Kind, value any) (format.ObjectID, error) {
	body, err := codec.Marshal(value)
	if err != nil {
		return format.ObjectID{}, fmt.Errorf("encoding %s: %w", kind, err)
	}
	return s.PutBlob(ctx, kind, body)
}

// put writes stored under the key for (kind, id) unless it exists.
// bodySize is the uncompressed size, used to sanity-check an existing
// object.
func (s *Store) put(ctx context.Context, kind format.Kind, id format.ObjectID, bodySize int, stored []byte) error {
	key := format.ObjectKey(kind, id)
	err := s.objects.PutIfAbsent(ctx, key, stored)
	if err == nil {
		s.logger.Debug("stored object", "kind", kind.String(), "id", id.Short(), "bytes", len(stored))
		return nil
	}
	if !errors.Is(err, objectstore.ErrPreconditionFailed) {
		return fmt.Errorf("writing %s %s: %w", kind, id.Short(), err)
	}

	existing, err := s.existingSize(ctx, kind, key)
	if err != nil {
		return fmt.Errorf("checking existing %s %s: %w", kind, id.Short(), err)
	}
	if existing != bodySize {
		s.logger.Error("content identifier collision",
			"kind", kind.String(), "id", id.String(), "existing_bytes", existing, "new_bytes", bodySize)
		return fmt.Errorf("%w: %s %s holds %d bytes, new content has %d", ErrHashCollision, kind, id, existing, bodySize)
	}
	return nil
}

// existingSize returns the uncompressed body size of a stored object.
func (s *Store) existingSize(ctx context.Context, kind format.Kind, key string) (int, error) {
	if kind == format.KindChunk {
		info, err := s.objects.Stat(ctx, key)
		if err != nil {
			return 0, err
		}
		return int(info.Size), nil
	}
	header, err := s.objects.GetRange(ctx, key, 0, format.FrameHeaderSize)
	if err != nil {
		return 0, err
	}
	_, size, err := format.FrameHeader(header)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return size, nil
}

// GetBlob fetches the canonical bytes of (kind, id) and verifies their
// digest.
func (s *Store) GetBlob(ctx context.Context, kind format.Kind, id format.ObjectID) ([]byte, error) {
	stored, err := s.objects.Get(ctx, format.ObjectKey(kind, id))
	if err != nil {
		if errors.Is(err, objectstore.ErrIntegrity) {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrCorrupt, kind, id.Short(), err)
		}
		return nil, fmt.Errorf("reading %s %s: %w", kind, id.Short(), err)
	}

	body := stored
	if kind != format.KindChunk {
		frameKind, decoded, err := format.DecodeFrame(stored)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrCorrupt, kind, id.Short(), err)
		}
		if frameKind != kind {
			return nil, fmt.Errorf("%w: %s %s: frame holds a %s", ErrCorrupt, kind, id.Short(), frameKind)
		}
		body = decoded
	}

	if actual := format.Hash(kind, body); actual != id {
		s.logger.Warn("object failed digest verification",
			"kind", kind.String(), "id", id.String(), "actual", actual.String())
		return nil, fmt.Errorf("%w: %s %s hashes to %s", ErrCorrupt, kind, id.Short(), actual.Short())
	}
	return body, nil
}

// GetObject fetches (kind, id), verifies it and decodes it into out.
// It bypasses the cache; see Load for cached reads.
func (s *Store) GetObject(ctx context.Context, kind format.Kind, id format.ObjectID, out any) error {
	body, err := s.GetBlob(ctx, kind, id)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %v", ErrCorrupt, kind, id.Short(), err)
	}
	return nil
}

// Exists reports whether (kind, id) is stored. It does not verify the
// content.
func (s *Store) Exists(ctx context.Context, kind format.Kind, id format.ObjectID) (bool, error) {
	_, err := s.objects.Stat(ctx, format.ObjectKey(kind, id))
	if errors.Is(err, objectstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s %s: %w", kind, id.Short(), err)
	}
	return true, nil
}

// PutChunk stores a chunk payload and returns a physical reference to
// the whole object.
func (s *Store) PutChunk(ctx context.Context, payload []byte) (format.ChunkRef, error) {
	id, err := s.PutBlob(ctx, format.KindChunk, payload)
	if err != nil {
		return format.ChunkRef{}, err
	}
	return format.Physical(format.ObjectKey(format.KindChunk, id), 0, uint64(len(payload)), id), nil
}

// ReadRange resolves a physical or inline chunk reference and verifies
// the payload against the reference checksum.
func (s *Store) ReadRange(ctx context.Context, ref format.ChunkRef) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var data []byte
	switch ref.Kind {
	case format.RefInline:
		data = bytes.Clone(ref.Data)
	case format.RefPhysical:
		if cached, ok := s.cache.getRange(ref.Key, ref.Offset, ref.Length); ok {
			return cached, nil
		}
		var err error
		data, err = s.objects.GetRange(ctx, ref.Key, int64(ref.Offset), int64(ref.Length))
		if err != nil {
			if errors.Is(err, objectstore.ErrIntegrity) || errors.Is(err, objectstore.ErrInvalidRange) {
				return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, ref, err)
			}
			return nil, fmt.Errorf("reading %s: %w", ref, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnmanaged, ref)
	}

	if !ref.Checksum.IsZero() {
		if actual := format.Hash(format.KindChunk, data); actual != ref.Checksum {
			return nil, fmt.Errorf("%w: %s hashes to %s", ErrCorrupt, ref, actual.Short())
		}
	}
	if ref.Kind == format.RefPhysical {
		s.cache.setRange(ref.Key, ref.Offset, ref.Length, data)
	}
	return data, nil
}

// Load fetches and decodes a structured object, consulting the cache
// first. The returned value may be shared with other callers and must
// be treated as read-only.
func Load[T any](ctx context.Context, s *Store, kind format.Kind, id format.ObjectID) (*T, error) {
	if cached, ok := s.cache.get(kind, id); ok {
		if value, ok := cached.(*T); ok {
			return value, nil
		}
	}

	body, err := s.GetBlob(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	value := new(T)
	if err := codec.Unmarshal(body, value); err != nil {
		return nil, fmt.Errorf("%w: decoding %s %s: %v", ErrCorrupt, kind, id.Short(), err)
	}
	s.cache.set(kind, id, value, len(body))
	return value, nil
}

// Save encodes and stores value, and primes the cache with it. Save
// takes ownership of value: the caller must not modify it afterwards.
func Save[T any](ctx context.Context, s *Store, kind format.Kind, value *T) (format.ObjectID, error) {
	body, err := codec.Marshal(value)
	if err != nil {
		return format.ObjectID{}, fmt.Errorf("encoding %s: %w", kind, err)
	}
	id, err := s.PutBlob(ctx, kind, body)
	if err != nil {
		return format.ObjectID{}, err
	}
	s.cache.set(kind, id, value, len(body))
	return id, nil
}
