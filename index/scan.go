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

package index

import (
	"github.com/viewgraph/viewgraph/btree"
	"github.com/viewgraph/viewgraph/ckey"
	"github.com/viewgraph/viewgraph/store"
)

// Scan wraps a btree.Iterator, bounded either by a coverage's
// equality/range prefix (bounded range mode) or by a target NodeId's
// edge prefix (cross-entity prefix mode). It supports O(log n)
// SkipToPosition, which the view layer's viewport loader requires for
// O(log n + height) first render (spec §4.4 "Scan iterator").
type Scan struct {
	it *btree.Iterator[store.NodeID]
}

// Bounds computes the [low, high) byte range a coverage's consumed
// equality prefix plus optional range filter selects. Values of the
// range filter are translated to inclusive/exclusive bounds using
// ckey.PrefixUpperBound, since the underlying tree range is always
// half-open.
func (c Coverage) Bounds() (low, high ckey.Key) {
	var eqBuilder ckey.Builder
	fields := c.Index.Def.Fields
	for i := 0; i < len(c.consumedEquality); i++ {
		f := fields[c.nestedOffset+i]
		eqBuilder.Append(ckey.Component{Value: c.consumedEquality[i].Value, Dir: f.Dir})
	}
	prefix := eqBuilder.Key()

	if !c.HasRange {
		return prefix, ckey.PrefixUpperBound(prefix)
	}

	rangeFieldIdx := c.nestedOffset + len(c.consumedEquality)
	dir := fields[rangeFieldIdx].Dir

	var rb ckey.Builder
	rb.Append(ckey.Component{Value: c.RangeValue, Dir: dir})
	rangeBytes := rb.Key()

	concat := func(a, b ckey.Key) ckey.Key {
		out := make(ckey.Key, 0, len(a)+len(b))
		out = append(out, a...)
		out = append(out, b...)
		return out
	}
	exact := concat(prefix, rangeBytes)

	// a descending component is byte-inverted, so the op's key-order
	// sense flips: "greater value" means "smaller key".
	op := c.RangeOp
	if dir == ckey.Desc {
		switch op {
		case Gt:
			op = Lt
		case Gte:
			op = Lte
		case Lt:
			op = Gt
		case Lte:
			op = Gte
		}
	}

	switch op {
	case Gte:
		return exact, ckey.PrefixUpperBound(prefix)
	case Gt:
		return ckey.PrefixUpperBound(exact), ckey.PrefixUpperBound(prefix)
	case Lte:
		return prefix, ckey.PrefixUpperBound(exact)
	case Lt:
		return prefix, exact
	default:
		return prefix, ckey.PrefixUpperBound(prefix)
	}
}

// NewScan opens a Scan over a coverage's selected range.
func NewScan(c Coverage) *Scan {
	low, high := c.Bounds()
	return &Scan{it: c.Index.Tree().Range(btree.Key(low), btree.Key(high))}
}

// NewEdgePrefixScan opens a Scan over every key whose first component
// is targetID, used for a cross-entity index's nested coverage scans
// where the first component has already been consumed as the edge
// equality prefix; callers that need an edge-prefix-only scan (no
// further coverage) can use this directly.
func NewEdgePrefixScan(idx *Index, targetID uint64, dir ckey.Direction) *Scan {
	prefix := ckey.EncodeEdgePrefix(targetID, dir)
	return &Scan{it: idx.Tree().PrefixScan(btree.Key(prefix))}
}

// Next yields the next NodeId in scan order.
func (s *Scan) Next() (store.NodeID, bool) {
	e, ok := s.it.Next()
	if !ok {
		return 0, false
	}
	return e.Value, true
}

// SkipToPosition repositions the scan at its p-th entry in O(log n).
func (s *Scan) SkipToPosition(p int) { s.it.SkipToPosition(p) }

// Skip advances the scan by n entries in O(log n).
func (s *Scan) Skip(n int) { s.it.Skip(n) }

// RemainingCount returns how many entries remain to be yielded.
func (s *Scan) RemainingCount() int { return s.it.RemainingCount() }
