// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sampleRecord struct {
	Name     string            `cbor:"name"`
	Parent   [32]byte          `cbor:"parent"`
	Shape    []uint64          `cbor:"shape,omitempty"`
	Labels   map[string]string `cbor:"labels,omitempty"`
	Created  time.Time         `cbor:"created"`
	Metadata []byte            `cbor:"metadata,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	t.Parallel()

	original := sampleRecord{
		Name:     "temperature",
		Parent:   [32]byte{1, 2, 3},
		Shape:    []uint64{10, 20},
		Labels:   map[string]string{"units": "K"},
		Created:  time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC),
		Metadata: []byte(`{"zarr_format":3}`),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Name != original.Name || decoded.Parent != original.Parent {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
	if !decoded.Created.Equal(original.Created) {
		t.Errorf("created = %v, want %v (sub-second precision lost?)", decoded.Created, original.Created)
	}
	if !bytes.Equal(decoded.Metadata, original.Metadata) {
		t.Errorf("metadata = %q, want %q", decoded.Metadata, original.Metadata)
	}
	if decoded.Labels["units"] != "K" {
		t.Errorf("labels = %v", decoded.Labels)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	// Map iteration order is randomized; canonical encoding must
	// still produce identical bytes on every call.
	record := sampleRecord{
		Name:   "a",
		Labels: map[string]string{"z": "1", "a": "2", "m": "3", "b": "4"},
	}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(record)
		if err != nil {
			t.Fatalf("Marshal %d: %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestReencodeIsStable(t *testing.T) {
	t.Parallel()

	original := sampleRecord{
		Name:    "stable",
		Created: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
	data, err := Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	again, err := Marshal(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Errorf("decode+encode changed bytes:\n%x\n%x", data, again)
	}
}

func TestByteArrayEncodesAsByteString(t *testing.T) {
	t.Parallel()

	data, err := Marshal(sampleRecord{Parent: [32]byte{0xff}})
	if err != nil {
		t.Fatal(err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatal(err)
	}
	// Diagnostic notation renders byte strings as h'…'.
	if !strings.Contains(notation, "h'ff") {
		t.Errorf("parent not encoded as byte string: %s", notation)
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	t.Parallel()

	var record sampleRecord
	if err := Unmarshal([]byte{0xff, 0xfe, 0xfd}, &record); err == nil {
		t.Error("expected error decoding invalid CBOR")
	}
}
