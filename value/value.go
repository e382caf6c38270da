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

// Package value implements the tagged scalar type shared by node
// properties, rollup results, query filter literals and index keys.
package value

import (
	"fmt"
	"math"
)

// Kind tags the dynamic type of a Value. The ordering of the
// constants is load-bearing: it is the cross-type total order
// required by the compound-key codec (null < bool < int < number < string).
type Kind uint8

const (
	Null Kind = iota
	Bool
	Int
	Number
	String
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Number:
		return "number"
	case String:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a totally-ordered tagged scalar. The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Null_ is the canonical null value.
var Null_ = Value{kind: Null}

func NewNull() Value { return Value{kind: Null} }

func NewBool(b bool) Value {
	v := Value{kind: Bool}
	if b {
		v.i = 1
	}
	return v
}

func NewInt(i int64) Value { return Value{kind: Int, i: i} }

func NewNumber(f float64) Value { return Value{kind: Number, f: f} }

func NewString(s string) Value { return Value{kind: String, s: s} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == Null }

func (v Value) Bool() bool { return v.i != 0 }

func (v Value) Int() int64 { return v.i }

func (v Value) Number() float64 { return v.f }

func (v Value) String() string {
	switch v.kind {
	case Null:
		return "null"
	case Bool:
		return fmt.Sprintf("%v", v.i != 0)
	case Int:
		return fmt.Sprintf("%d", v.i)
	case Number:
		return fmt.Sprintf("%g", v.f)
	case String:
		return v.s
	default:
		return ""
	}
}

// Raw returns the string payload of a String value without formatting;
// callers that already checked Kind()==String should prefer this over
// String(), which is a Stringer-style rendering for all kinds.
func (v Value) Raw() string { return v.s }

// Equal reports whether v and o are the same kind and payload. NaN
// numbers are equal to themselves under Equal (unlike IEEE-754 ==),
// matching Compare's total order.
func (v Value) Equal(o Value) bool {
	return Compare(v, o) == 0
}

// Compare implements the total order: null < bool < int < number <
// string across tags; within a tag, the natural order, except that
// NaN numbers sort above every other number (including +Inf).
func Compare(a, b Value) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case Null:
		return 0
	case Bool:
		return compareInt(a.i, b.i)
	case Int:
		return compareInt(a.i, b.i)
	case Number:
		return compareFloat(a.f, b.f)
	case String:
		if a.s < b.s {
			return -1
		}
		if a.s > b.s {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareFloat orders NaN as greater than every other float, including
// +Inf, matching the CompoundKey codec's bit-level encoding of number.
func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less is a convenience wrapper around Compare for use as a sort
// comparator.
func Less(a, b Value) bool { return Compare(a, b) < 0 }
