// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Unix-seconds timestamps (the CBOR default) would drop the
	// sub-second part of commit times and break re-encoding.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Attribute blobs are opaque bytes, but callers that decode
		// into any still get string-keyed maps.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Objects are written by this package only; a repeated key
		// means the bytes were not produced by a canonical encoder.
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for
// data. Used by the CLI to dump raw repository objects.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
