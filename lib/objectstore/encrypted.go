// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of the storage encryption key.
const KeySize = 32

// encryptedVersion is the first byte of every encrypted object. It is
// part of the AAD, so rewriting it fails authentication.
const encryptedVersion byte = 0x01

// EncryptedOverhead is the bytes added per object: 1 (version) + 24
// (nonce) + 16 (tag).
const EncryptedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var hkdfInfoObjects = []byte("tessera.objectstore.enc.v1")

// Encrypted is a Store decorator that seals every object with
// XChaCha20-Poly1305 under a key derived from the configured master
// key. The object key is authenticated, so swapping two ciphertexts
// in the bucket is detected as ErrIntegrity.
//
// Ranged reads decrypt the whole object. Chunk ranges written by the
// repository are whole objects anyway; virtual references point at
// external files and bypass this store.
type Encrypted struct {
	inner Store
	aead  cipher.AEAD
}

// NewEncrypted wraps inner. masterKey must be KeySize bytes.
func NewEncrypted(inner Store, masterKey []byte) (*Encrypted, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("objectstore: encryption key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, hkdfInfoObjects), derived); err != nil {
		return nil, fmt.Errorf("deriving object encryption key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return &Encrypted{inner: inner, aead: aead}, nil
}

func buildObjectAAD(key string) []byte {
	aad := make([]byte, 1+len(key))
	aad[0] = encryptedVersion
	copy(aad[1:], key)
	return aad
}

func (e *Encrypted) seal(key string, plaintext []byte) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}
	output := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+e.aead.Overhead())
	output[0] = encryptedVersion
	copy(output[1:], nonce[:])
	return e.aead.Seal(output, nonce[:], plaintext, buildObjectAAD(key)), nil
}

func (e *Encrypted) open(key string, sealed []byte) ([]byte, error) {
	if len(sealed) < EncryptedOverhead {
		return nil, fmt.Errorf("%w: %s: encrypted object too short (%d bytes)", ErrIntegrity, key, len(sealed))
	}
	if sealed[0] != encryptedVersion {
		return nil, fmt.Errorf("%w: %s: unsupported encryption version %#x", ErrIntegrity, key, sealed[0])
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := e.aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], buildObjectAAD(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIntegrity, key, err)
	}
	return plaintext, nil
}

func (e *Encrypted) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.open(key, sealed)
}

func (e *Encrypted) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	plaintext, err := e.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return sliceRange(key, plaintext, offset, length)
}

func (e *Encrypted) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	sealed, err := e.seal(key, data)
	if err != nil {
		return &IOError{Op: "put", Key: key, Err: err}
	}
	return e.inner.Put(ctx, key, sealed)
}

func (e *Encrypted) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	sealed, err := e.seal(key, data)
	if err != nil {
		return &IOError{Op: "put", Key: key, Err: err}
	}
	return e.inner.PutIfAbsent(ctx, key, sealed)
}

func (e *Encrypted) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := e.inner.Stat(ctx, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	return plainInfo(info), nil
}

func (e *Encrypted) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	infos, err := e.inner.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		infos[i] = plainInfo(infos[i])
	}
	return infos, nil
}

// plainInfo reports the plaintext size. Objects too short to be valid
// ciphertext report zero; reading them fails with ErrIntegrity.
func plainInfo(info ObjectInfo) ObjectInfo {
	info.Size = max(info.Size-EncryptedOverhead, 0)
	return info
}

func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

func (e *Encrypted) Capabilities() Capabilities { return e.inner.Capabilities() }

func (e *Encrypted) Close() error { return e.inner.Close() }

// ParseKey decodes a key file's contents: either KeySize raw bytes or
// 2*KeySize hex characters (surrounding whitespace ignored).
func ParseKey(contents []byte) ([]byte, error) {
	if len(contents) == KeySize {
		return contents, nil
	}
	trimmed := bytes.TrimSpace(contents)
	if len(trimmed) == 2*KeySize {
		key := make([]byte, KeySize)
		if _, err := hex.Decode(key, trimmed); err == nil {
			return key, nil
		}
	}
	return nil, errors.New("objectstore: key file must hold 32 raw bytes or 64 hex characters")
}
