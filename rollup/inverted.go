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

// Package rollup implements the derived-field cache (spec §4.5) and
// its supporting inverted edge index (spec §4.6): target id -> the
// set of incoming edge references, which turns cascade invalidation
// into an O(S) walk over sources instead of an O(N) scan of the
// graph.
package rollup

import (
	"github.com/viewgraph/viewgraph/kgmap"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
)

// SourceRef identifies one incoming edge reference held in a target's
// bucket.
type SourceRef struct {
	Source     store.NodeID
	SourceType schema.TypeID
	Edge       schema.EdgeID
}

func sourceRefEqual(a, b SourceRef) bool { return a == b }

// InvertedIndex maps target id -> incoming edge references.
type InvertedIndex struct {
	buckets *kgmap.Map[store.NodeID, SourceRef]
}

// NewInvertedIndex constructs an empty index.
func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{buckets: kgmap.New[store.NodeID, SourceRef]()}
}

// OnLink appends {source,type,edge} to target's bucket if not already
// present (idempotent per spec §4.6).
func (ix *InvertedIndex) OnLink(source store.NodeID, sourceType schema.TypeID, edge schema.EdgeID, target store.NodeID) {
	ix.buckets.Add(target, SourceRef{Source: source, SourceType: sourceType, Edge: edge}, sourceRefEqual)
}

// OnUnlink removes the first matching tuple from target's bucket;
// empty buckets are dropped.
func (ix *InvertedIndex) OnUnlink(source store.NodeID, edge schema.EdgeID, target store.NodeID) {
	ix.buckets.Remove(target, func(r SourceRef) bool {
		return r.Source == source && r.Edge == edge
	})
}

// RemoveSource strips id from every bucket's source field.
func (ix *InvertedIndex) RemoveSource(id store.NodeID) {
	ix.buckets.RemoveAllWhere(func(_ store.NodeID, r SourceRef) bool {
		return r.Source == id
	})
}

// RemoveTarget drops the whole bucket for id.
func (ix *InvertedIndex) RemoveTarget(id store.NodeID) {
	ix.buckets.RemoveKey(id)
}

// Sources returns every incoming edge reference for target. The
// returned slice aliases internal storage and must not be mutated.
func (ix *InvertedIndex) Sources(target store.NodeID) []SourceRef {
	return ix.buckets.Get(target)
}
