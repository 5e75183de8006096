// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"bytes"
	"errors"
	"fmt"
)

// RefKind discriminates the ChunkRef variants. Values are persisted.
type RefKind uint8

const (
	// RefPhysical points at bytes inside an object managed by the
	// repository (normally a content-addressed chunk object).
	RefPhysical RefKind = 1

	// RefVirtual points at bytes in an external location the
	// repository does not manage and never deletes.
	RefVirtual RefKind = 2

	// RefInline carries the payload inside the manifest itself.
	RefInline RefKind = 3
)

func (k RefKind) String() string {
	switch k {
	case RefPhysical:
		return "physical"
	case RefVirtual:
		return "virtual"
	case RefInline:
		return "inline"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ChunkRef locates the payload of one chunk. Exactly the fields of
// its Kind are set. ChunkRefs are immutable once part of a written
// manifest.
type ChunkRef struct {
	Kind     RefKind  `cbor:"kind"`
	Key      string   `cbor:"key,omitempty"`
	Location string   `cbor:"location,omitempty"`
	Offset   uint64   `cbor:"offset,omitempty"`
	Length   uint64   `cbor:"length,omitempty"`
	Checksum ObjectID `cbor:"checksum"`
	Data     []byte   `cbor:"data,omitempty"`
}

// Physical returns a reference to length bytes at offset inside the
// managed object key. checksum is the chunk-domain hash of exactly
// those bytes.
func Physical(key string, offset, length uint64, checksum ObjectID) ChunkRef {
	return ChunkRef{Kind: RefPhysical, Key: key, Offset: offset, Length: length, Checksum: checksum}
}

// Virtual returns a reference into an external, unmanaged location.
func Virtual(location string, offset, length uint64) ChunkRef {
	return ChunkRef{Kind: RefVirtual, Location: location, Offset: offset, Length: length}
}

// Inline returns a reference that embeds data.
func Inline(data []byte) ChunkRef {
	return ChunkRef{Kind: RefInline, Data: bytes.Clone(data), Length: uint64(len(data)), Checksum: Hash(KindChunk, data)}
}

// Validate checks the variant invariants.
func (r ChunkRef) Validate() error {
	switch r.Kind {
	case RefPhysical:
		if r.Key == "" {
			return errors.New("physical chunk reference has no key")
		}
		if r.Offset+r.Length < r.Offset {
			return errors.New("physical chunk reference byte range overflows")
		}
	case RefVirtual:
		if r.Location == "" {
			return errors.New("virtual chunk reference has no location")
		}
		if r.Offset+r.Length < r.Offset {
			return errors.New("virtual chunk reference byte range overflows")
		}
	case RefInline:
		if uint64(len(r.Data)) != r.Length {
			return fmt.Errorf("inline chunk reference length %d does not match %d data bytes", r.Length, len(r.Data))
		}
	default:
		return fmt.Errorf("unknown chunk reference kind %d", r.Kind)
	}
	return nil
}

// Equal reports whether two references are identical.
func (r ChunkRef) Equal(other ChunkRef) bool {
	return r.Kind == other.Kind &&
		r.Key == other.Key &&
		r.Location == other.Location &&
		r.Offset == other.Offset &&
		r.Length == other.Length &&
		r.Checksum == other.Checksum &&
		bytes.Equal(r.Data, other.Data)
}

// ManagedChunk returns the chunk identifier of a physical reference
// into the repository's chunk namespace. Physical references to other
// keys and all virtual or inline references return false.
func (r ChunkRef) ManagedChunk() (ObjectID, bool) {
	if r.Kind != RefPhysical {
		return ObjectID{}, false
	}
	kind, id, err := ParseObjectKey(r.Key)
	if err != nil || kind != KindChunk {
		return ObjectID{}, false
	}
	return id, true
}

func (r ChunkRef) String() string {
	switch r.Kind {
	case RefPhysical:
		return fmt.Sprintf("physical(%s@%d+%d)", r.Key, r.Offset, r.Length)
	case RefVirtual:
		return fmt.Sprintf("virtual(%s@%d+%d)", r.Location, r.Offset, r.Length)
	case RefInline:
		return fmt.Sprintf("inline(%d bytes)", len(r.Data))
	default:
		return r.Kind.String()
	}
}
