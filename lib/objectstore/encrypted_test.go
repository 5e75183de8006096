// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"
)

func testKey(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, KeySize)
}

func newTestEncrypted(t *testing.T, inner Store, fill byte) *Encrypted {
	t.Helper()
	store, err := NewEncrypted(inner, testKey(fill))
	if err != nil {
		t.Fatalf("NewEncrypted: %v", err)
	}
	return store
}

func TestEncryptedConformance(t *testing.T) {
	t.Parallel()
	testConformance(t, func(t *testing.T) Store {
		return newTestEncrypted(t, NewMemory(nil), 0x42)
	})
}

func TestEncryptedCiphertextAtRest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := NewMemory(nil)
	store := newTestEncrypted(t, inner, 0x01)

	plaintext := []byte("temperature chunk 0,0,0")
	if err := store.Put(ctx, "chunks/c1", plaintext); err != nil {
		t.Fatalf("Put: %v", err)
	}
	sealed, err := inner.Get(ctx, "chunks/c1")
	if err != nil {
		t.Fatalf("inner Get: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("plaintext visible in stored object")
	}
	if len(sealed) != len(plaintext)+EncryptedOverhead {
		t.Errorf("sealed size %d, want %d", len(sealed), len(plaintext)+EncryptedOverhead)
	}

	info, err := store.Stat(ctx, "chunks/c1")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != int64(len(plaintext)) {
		t.Errorf("Stat size %d, want plaintext size %d", info.Size, len(plaintext))
	}
}

func TestEncryptedDetectsTampering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("flipped byte", func(t *testing.T) {
		t.Parallel()
		inner := NewMemory(nil)
		store := newTestEncrypted(t, inner, 0x01)
		if err := store.Put(ctx, "nodes/n", []byte("node body")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		sealed, _ := inner.Get(ctx, "nodes/n")
		sealed[len(sealed)-1] ^= 0xff
		if err := inner.Put(ctx, "nodes/n", sealed); err != nil {
			t.Fatalf("inner Put: %v", err)
		}
		if _, err := store.Get(ctx, "nodes/n"); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
	})

	t.Run("swapped objects", func(t *testing.T) {
		t.Parallel()
		inner := NewMemory(nil)
		store := newTestEncrypted(t, inner, 0x01)
		if err := store.Put(ctx, "nodes/a", []byte("a")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := store.Put(ctx, "nodes/b", []byte("b")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		sealedA, _ := inner.Get(ctx, "nodes/a")
		if err := inner.Put(ctx, "nodes/b", sealedA); err != nil {
			t.Fatalf("inner Put: %v", err)
		}
		if _, err := store.Get(ctx, "nodes/b"); !errors.Is(err, ErrIntegrity) {
			t.Errorf("ciphertext moved to another key should fail, got %v", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		t.Parallel()
		inner := NewMemory(nil)
		writer := newTestEncrypted(t, inner, 0x01)
		reader := newTestEncrypted(t, inner, 0x02)
		if err := writer.Put(ctx, "nodes/a", []byte("a")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if _, err := reader.Get(ctx, "nodes/a"); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()
		inner := NewMemory(nil)
		store := newTestEncrypted(t, inner, 0x01)
		if err := inner.Put(ctx, "nodes/short", []byte{0x01, 0x02}); err != nil {
			t.Fatalf("inner Put: %v", err)
		}
		if _, err := store.Get(ctx, "nodes/short"); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
	})
}

func TestParseKey(t *testing.T) {
	t.Parallel()

	raw := testKey(0x07)
	got, err := ParseKey(raw)
	if err != nil || !bytes.Equal(got, raw) {
		t.Errorf("raw key: got %x, %v", got, err)
	}

	got, err = ParseKey([]byte(hex.EncodeToString(raw) + "\n"))
	if err != nil || !bytes.Equal(got, raw) {
		t.Errorf("hex key: got %x, %v", got, err)
	}

	if _, err := ParseKey([]byte("too short")); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewEncrypted(NewMemory(nil), []byte("short")); err == nil {
		t.Error("NewEncrypted should reject a short key")
	}
}
