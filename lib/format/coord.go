// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Coord is a chunk coordinate: one index per array dimension, in the
// chunk grid (not element space). Coordinates order lexicographically.
type Coord []uint32

// Compare returns -1, 0 or +1. A coordinate that is a strict prefix of
// another sorts first.
func (c Coord) Compare(other Coord) int {
	for i := 0; i < len(c) && i < len(other); i++ {
		switch {
		case c[i] < other[i]:
			return -1
		case c[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(c) < len(other):
		return -1
	case len(c) > len(other):
		return 1
	}
	return 0
}

// Equal reports whether c and other name the same chunk.
func (c Coord) Equal(other Coord) bool {
	return c.Compare(other) == 0
}

// Key returns a compact string usable as a map key. Keys of distinct
// coordinates are distinct, including across ranks.
func (c Coord) Key() string {
	buffer := make([]byte, 0, 4*len(c))
	for _, index := range c {
		buffer = binary.BigEndian.AppendUint32(buffer, index)
	}
	return string(buffer)
}

// CoordFromKey inverts Key.
func CoordFromKey(key string) Coord {
	coord := make(Coord, len(key)/4)
	for i := range coord {
		coord[i] = binary.BigEndian.Uint32([]byte(key[4*i : 4*i+4]))
	}
	return coord
}

// Clone returns a copy that does not alias c.
func (c Coord) Clone() Coord {
	if c == nil {
		return nil
	}
	out := make(Coord, len(c))
	copy(out, c)
	return out
}

// String formats the coordinate as "(3,7)".
func (c Coord) String() string {
	parts := make([]string, len(c))
	for i, index := range c {
		parts[i] = strconv.FormatUint(uint64(index), 10)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// ParseCoord parses "3,7", "(3,7)" or "" (the single chunk of a
// zero-dimensional array).
func ParseCoord(text string) (Coord, error) {
	text = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(text), "("), ")")
	if text == "" {
		return Coord{}, nil
	}
	fields := strings.Split(text, ",")
	coord := make(Coord, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseUint(strings.TrimSpace(field), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing coordinate %q: %w", text, err)
		}
		coord[i] = uint32(value)
	}
	return coord, nil
}

// ErrOutOfBounds is returned by Bounds.Check for coordinates outside
// the chunk grid.
var ErrOutOfBounds = errors.New("format: chunk coordinate outside array shape")

// Bounds describes the chunk grid of an array: its element shape and
// chunk shape. An empty ChunkShape means one element per chunk.
type Bounds struct {
	Shape      []uint64
	ChunkShape []uint64
}

// BoundsOf returns the grid bounds of an array node.
func BoundsOf(node *Node) Bounds {
	return Bounds{Shape: node.Shape, ChunkShape: node.ChunkShape}
}

// Validate checks that the chunk shape is usable with the shape.
func (b Bounds) Validate() error {
	if len(b.ChunkShape) != 0 && len(b.ChunkShape) != len(b.Shape) {
		return fmt.Errorf("chunk shape has %d dimensions, shape has %d", len(b.ChunkShape), len(b.Shape))
	}
	for i, size := range b.ChunkShape {
		if size == 0 {
			return fmt.Errorf("chunk shape dimension %d is zero", i)
		}
	}
	return nil
}

// Grid returns the number of chunks along each dimension:
// ceil(shape / chunk shape).
func (b Bounds) Grid() []uint64 {
	grid := make([]uint64, len(b.Shape))
	for i, size := range b.Shape {
		chunk := uint64(1)
		if len(b.ChunkShape) == len(b.Shape) && b.ChunkShape[i] > 0 {
			chunk = b.ChunkShape[i]
		}
		grid[i] = size / chunk
		if size%chunk != 0 {
			grid[i]++
		}
	}
	return grid
}

// Check returns an error wrapping ErrOutOfBounds when coord has the
// wrong rank or an index past the end of the chunk grid.
func (b Bounds) Check(coord Coord) error {
	grid := b.Grid()
	if len(coord) != len(grid) {
		return fmt.Errorf("%w: %s has rank %d, array has rank %d", ErrOutOfBounds, coord, len(coord), len(grid))
	}
	for i, index := range coord {
		if uint64(index) >= grid[i] {
			return fmt.Errorf("%w: %s index %d is past grid size %d", ErrOutOfBounds, coord, index, grid[i])
		}
	}
	return nil
}
