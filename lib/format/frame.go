// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec of a framed object body. Values
// are recorded in frames and must not be renumbered.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a codec name as used in configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Frame layout:
//
//	magic[4] "TSRA" | version[1] | kind[1] | codec[1] | size[4] (uncompressed, big-endian) | body
const (
	frameMagic   = "TSRA"
	frameVersion = 1

	// FrameHeaderSize is the fixed frame prefix read by FrameHeader.
	FrameHeaderSize = 4 + 1 + 1 + 1 + 4
)

// ErrInvalidFrame is returned when stored bytes are not a well-formed
// frame or the body fails to decompress.
var ErrInvalidFrame = errors.New("format: invalid object frame")

var errIncompressible = errors.New("incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("format: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("format: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeFrame wraps a canonical body. If the codec does not shrink the
// body it is stored uncompressed and the frame records CompressionNone.
func EncodeFrame(kind Kind, compression Compression, body []byte) ([]byte, error) {
	if uint64(len(body)) > math.MaxUint32 {
		return nil, fmt.Errorf("object body of %d bytes exceeds frame limit", len(body))
	}

	payload, actual, err := compress(body, compression)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, FrameHeaderSize, FrameHeaderSize+len(payload))
	copy(frame, frameMagic)
	frame[4] = frameVersion
	frame[5] = byte(kind)
	frame[6] = byte(actual)
	binary.BigEndian.PutUint32(frame[7:], uint32(len(body)))
	return append(frame, payload...), nil
}

// DecodeFrame validates a frame and returns its kind and uncompressed
// body.
func DecodeFrame(frame []byte) (Kind, []byte, error) {
	kind, size, err := FrameHeader(frame)
	if err != nil {
		return 0, nil, err
	}
	body, err := decompress(frame[FrameHeaderSize:], Compression(frame[6]), size)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return kind, body, nil
}

// FrameHeader parses the fixed prefix of a frame and returns the kind
// and uncompressed body size without decompressing anything.
func FrameHeader(header []byte) (Kind, int, error) {
	if len(header) < FrameHeaderSize || string(header[:4]) != frameMagic {
		return 0, 0, fmt.Errorf("%w: bad header", ErrInvalidFrame)
	}
	if header[4] != frameVersion {
		return 0, 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidFrame, header[4])
	}
	kind := Kind(header[5])
	if !kind.Valid() {
		return 0, 0, fmt.Errorf("%w: unknown kind %d", ErrInvalidFrame, header[5])
	}
	return kind, int(binary.BigEndian.Uint32(header[7:])), nil
}

func compress(body []byte, compression Compression) ([]byte, Compression, error) {
	var (
		out []byte
		err error
	)
	switch compression {
	case CompressionNone:
		return body, CompressionNone, nil
	case CompressionLZ4:
		out, err = compressLZ4(body)
	case CompressionZstd:
		out = zstdEncoder.EncodeAll(body, nil)
		if len(out) >= len(body) {
			err = errIncompressible
		}
	default:
		return nil, 0, fmt.Errorf("unsupported compression %d", compression)
	}
	if errors.Is(err, errIncompressible) {
		return body, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, compression, nil
}

func compressLZ4(body []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(body)))
	written, err := lz4.CompressBlock(body, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(body) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompress(payload []byte, compression Compression, size int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("body is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %d", compression)
	}
}
