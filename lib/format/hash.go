// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// ObjectID is a 32-byte BLAKE3 digest identifying an immutable object.
// The zero value means "no object" (the parent of a root snapshot, an
// array without chunks).
type ObjectID [32]byte

// IsZero reports whether id is the zero identifier.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// String returns the 64-character hex form.
func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 12 hex characters, for logs and CLI output.
func (id ObjectID) Short() string {
	return hex.EncodeToString(id[:6])
}

// ParseObjectID parses a 64-character hex string.
func ParseObjectID(hexString string) (ObjectID, error) {
	var id ObjectID
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return id, fmt.Errorf("parsing object id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("object id is %d bytes, want %d", len(decoded), len(id))
	}
	copy(id[:], decoded)
	return id, nil
}

// domainKey is a 32-byte key for BLAKE3 keyed hashing.
type domainKey [32]byte

// newDomainKey zero-pads an ASCII domain name to 32 bytes. Readable
// names keep the keys recognizable in hex dumps. Changing a name
// invalidates every identifier of that kind.
func newDomainKey(name string) domainKey {
	var key domainKey
	if len(name) > len(key) {
		panic("format: domain name too long: " + name)
	}
	copy(key[:], name)
	return key
}

// Hash computes the kind-domain identifier of data.
func Hash(kind Kind, data []byte) ObjectID {
	info, ok := kinds[kind]
	if !ok {
		panic(fmt.Sprintf("format: hash of unknown kind %d", kind))
	}
	hasher, err := blake3.NewKeyed(info.domain[:])
	if err != nil {
		// NewKeyed only fails for a key that is not 32 bytes, which
		// domainKey rules out.
		panic("format: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var id ObjectID
	copy(id[:], hasher.Sum(nil))
	return id
}

// ObjectKey returns the store key of an object: "<kind prefix><hex>".
func ObjectKey(kind Kind, id ObjectID) string {
	return kind.Prefix() + id.String()
}

// ParseObjectKey splits a store key produced by ObjectKey back into
// its kind and identifier.
func ParseObjectKey(key string) (Kind, ObjectID, error) {
	for kind, info := range kinds {
		if rest, ok := strings.CutPrefix(key, info.prefix); ok {
			id, err := ParseObjectID(rest)
			if err != nil {
				return 0, ObjectID{}, fmt.Errorf("key %q: %w", key, err)
			}
			return kind, id, nil
		}
	}
	return 0, ObjectID{}, fmt.Errorf("key %q is not in a content namespace", key)
}
