// Copyright (C) 2024 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package ckey implements the byte-comparable compound-key codec used
// by the B+ tree index manager. A CompoundKey encodes a sequence of
// (value, direction) components such that plain lexicographic byte
// comparison of two encoded keys agrees with the per-component value
// order (and the reverse of it, for descending components).
package ckey

import (
	"bytes"
	"math"

	"github.com/viewgraph/viewgraph/value"
)

// Direction controls whether a component's encoded bytes are inverted.
type Direction uint8

const (
	Asc Direction = iota
	Desc
)

// MaxKeySize bounds the length of an encoded key. Components that
// would push an encoding past this bound are silently truncated: the
// caller is responsible for choosing indexed fields that fit (see
// spec: "Fails silently by truncation past a fixed max key size").
const MaxKeySize = 512

// tag bytes, in value.Kind order, so cross-type comparison falls out
// of plain byte comparison.
const (
	tagNull   byte = 0
	tagBool   byte = 1
	tagInt    byte = 2
	tagNumber byte = 3
	tagString byte = 4
)

// Key is an encoded, byte-comparable compound key.
type Key []byte

// Component is one (value, direction) pair to encode.
type Component struct {
	Value value.Value
	Dir   Direction
}

// Builder accumulates encoded components into a single Key, honoring
// MaxKeySize by truncating further appends once the budget is spent.
type Builder struct {
	buf bytes.Buffer
}

func (b *Builder) Len() int { return b.buf.Len() }

// Append encodes one component, inverting its bytes if Dir is Desc.
func (b *Builder) Append(c Component) *Builder {
	start := b.buf.Len()
	if start >= MaxKeySize {
		return b
	}
	encodeValue(&b.buf, c.Value)
	if c.Dir == Desc {
		invertFrom(b.buf.Bytes(), start)
	}
	if b.buf.Len() > MaxKeySize {
		b.buf.Truncate(MaxKeySize)
	}
	return b
}

// AppendNodeID appends a raw ascending 8-byte NodeId suffix, used to
// make every encoded index key unique.
func (b *Builder) AppendNodeID(id uint64) *Builder {
	start := b.buf.Len()
	if start >= MaxKeySize {
		return b
	}
	var tmp [8]byte
	putUint64(tmp[:], id)
	b.buf.Write(tmp[:])
	if b.buf.Len() > MaxKeySize {
		b.buf.Truncate(MaxKeySize)
	}
	return b
}

// Bytes returns the encoded key built so far. The returned slice
// aliases the builder's internal buffer and must be copied if the
// builder is reused.
func (b *Builder) Bytes() Key { return Key(b.buf.Bytes()) }

// Key returns an independent copy of the encoded key.
func (b *Builder) Key() Key {
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

func invertFrom(buf []byte, start int) {
	for i := start; i < len(buf); i++ {
		buf[i] = ^buf[i]
	}
}

func putUint64(dst []byte, v uint64) {
	dst[0] = byte(v >> 56)
	dst[1] = byte(v >> 48)
	dst[2] = byte(v >> 40)
	dst[3] = byte(v >> 32)
	dst[4] = byte(v >> 24)
	dst[5] = byte(v >> 16)
	dst[6] = byte(v >> 8)
	dst[7] = byte(v)
}

func encodeValue(buf *bytes.Buffer, v value.Value) {
	switch v.Kind() {
	case value.Null:
		buf.WriteByte(tagNull)
	case value.Bool:
		buf.WriteByte(tagBool)
		if v.Bool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.Int:
		buf.WriteByte(tagInt)
		var tmp [8]byte
		// Flip the sign bit so two's-complement negative values sort
		// below positive values under unsigned byte comparison.
		putUint64(tmp[:], uint64(v.Int())^(uint64(1)<<63))
		buf.Write(tmp[:])
	case value.Number:
		buf.WriteByte(tagNumber)
		bits := math.Float64bits(v.Number())
		if bits&(uint64(1)<<63) != 0 {
			// negative (or NaN with sign bit set): invert every bit
			bits = ^bits
		} else {
			// positive: flip just the sign bit
			bits ^= uint64(1) << 63
		}
		var tmp [8]byte
		putUint64(tmp[:], bits)
		buf.Write(tmp[:])
	case value.String:
		buf.WriteByte(tagString)
		s := v.Raw()
		for i := 0; i < len(s); i++ {
			if s[i] == 0x00 {
				buf.WriteByte(0x00)
				buf.WriteByte(0x01)
			} else {
				buf.WriteByte(s[i])
			}
		}
		buf.WriteByte(0x00)
		buf.WriteByte(0x00)
	}
}

// EncodeFull encodes a complete index key: the indexed field
// components followed by the node's own id ascending, guaranteeing
// uniqueness even when the indexed fields collide across nodes.
func EncodeFull(components []Component, nodeID uint64) Key {
	var b Builder
	for _, c := range components {
		b.Append(c)
	}
	b.AppendNodeID(nodeID)
	return b.Key()
}

// EncodePartial encodes a prefix of component values with no trailing
// node id, used to build range-scan bounds.
func EncodePartial(components []Component) Key {
	var b Builder
	for _, c := range components {
		b.Append(c)
	}
	return b.Key()
}

// EncodeEdgePrefix encodes a prefix whose first component is an edge
// field's target NodeId, used for cross-entity (edge-prefixed)
// coverage scans.
func EncodeEdgePrefix(targetID uint64, dir Direction) Key {
	var b Builder
	b.Append(Component{Value: value.NewInt(int64(targetID)), Dir: dir})
	return b.Key()
}

// HasPrefix reports whether k starts with prefix.
func HasPrefix(k Key, prefix Key) bool {
	return len(k) >= len(prefix) && bytes.Equal(k[:len(prefix)], prefix)
}

// Compare is plain lexicographic byte comparison; it is the whole
// point of the encoding that this agrees with component value order.
func Compare(a, b Key) int { return bytes.Compare(a, b) }

// Min returns the lexicographically smaller key.
func Min(a, b Key) Key {
	if Compare(a, b) <= 0 {
		return a
	}
	return b
}

// Max returns the lexicographically larger key.
func Max(a, b Key) Key {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// PrefixUpperBound returns the smallest key that is strictly greater
// than every key having prefix p, or nil if p is all 0xFF bytes (no
// finite upper bound exists, i.e. the scan should run to the end of
// the tree).
func PrefixUpperBound(p Key) Key {
	out := make(Key, len(p))
	copy(out, p)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
