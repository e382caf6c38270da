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

// Package index implements the B+-tree-backed index manager (spec
// §4.4): one btree.Tree per schema-declared index, maintained on every
// store lifecycle event, plus coverage selection for (filters, sorts)
// pairs and a scan iterator the view layer drives for viewport loads.
package index

import (
	"github.com/viewgraph/viewgraph/btree"
	"github.com/viewgraph/viewgraph/ckey"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
	"github.com/viewgraph/viewgraph/value"
)

// Op is a filter comparison operator.
type Op uint8

const (
	Eq Op = iota
	Gt
	Gte
	Lt
	Lte
)

func isRangeOp(op Op) bool { return op == Gt || op == Gte || op == Lt || op == Lte }

// Filter is one flat (field, op, value) predicate.
type Filter struct {
	Field string
	Op    Op
	Value value.Value
}

// Matches reports whether v satisfies the filter.
func (f Filter) Matches(v value.Value) bool {
	c := value.Compare(v, f.Value)
	switch f.Op {
	case Eq:
		return c == 0
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	default:
		return false
	}
}

// SortSpec is one flat (field, direction) ordering term.
type SortSpec struct {
	Field string
	Dir   ckey.Direction
}

// Index pairs a schema-declared definition with its backing tree and
// the last encoded key per node, which is required to remove a node's
// stale key before re-inserting it at a new position when an indexed
// field changes (spec §4.4: "remove old key, insert new key").
type Index struct {
	Def    schema.IndexDef
	TypeID schema.TypeID
	tree   *btree.Tree[store.NodeID]
	last   map[store.NodeID]ckey.Key
}

// Tree exposes the backing ordered map for scan construction.
func (idx *Index) Tree() *btree.Tree[store.NodeID] { return idx.tree }

func newIndex(typeID schema.TypeID, def schema.IndexDef) *Index {
	return &Index{
		Def:    def,
		TypeID: typeID,
		tree:   btree.New[store.NodeID](0),
		last:   make(map[store.NodeID]ckey.Key),
	}
}

// fieldValue resolves one index field's current component value on n.
// Edge-kind fields contribute the first target's NodeId (spec §3),
// or Null if the edge currently has no targets, so the node stays in
// the index rather than being omitted.
func fieldValue(n *store.Node, f schema.IndexField) value.Value {
	switch f.Kind {
	case schema.FieldEdge:
		tl := n.Targets(f.EdgeID)
		if tl == nil || tl.Len() == 0 {
			return value.NewNull()
		}
		return value.NewInt(int64(tl.At(0)))
	default:
		v, _ := n.Field(f.Name)
		return v
	}
}

func (idx *Index) keyFor(n *store.Node) ckey.Key {
	comps := make([]ckey.Component, len(idx.Def.Fields))
	for i, f := range idx.Def.Fields {
		comps[i] = ckey.Component{Value: fieldValue(n, f), Dir: f.Dir}
	}
	return ckey.EncodeFull(comps, uint64(n.ID()))
}

// reencode removes the node's previously recorded key (if any) and
// inserts its freshly computed key, keeping idx.last in sync.
func (idx *Index) reencode(n *store.Node) {
	if old, ok := idx.last[n.ID()]; ok {
		idx.tree.Remove(btree.Key(old))
	}
	k := idx.keyFor(n)
	idx.tree.Insert(btree.Key(k), n.ID())
	idx.last[n.ID()] = k
}

func (idx *Index) remove(id store.NodeID) {
	if old, ok := idx.last[id]; ok {
		idx.tree.Remove(btree.Key(old))
		delete(idx.last, id)
	}
}

func (idx *Index) referencesEdge(edgeID schema.EdgeID) bool {
	for _, f := range idx.Def.Fields {
		if f.Kind == schema.FieldEdge && f.EdgeID == edgeID {
			return true
		}
	}
	return false
}

func (idx *Index) referencesProperty(name string) bool {
	for _, f := range idx.Def.Fields {
		if f.Kind == schema.FieldProperty && f.Name == name {
			return true
		}
	}
	return false
}

// Manager owns every schema-declared index, one btree per index.
type Manager struct {
	schema  *schema.Schema
	byType  map[schema.TypeID][]*Index
}

// NewManager builds an empty Index (tree) for every index declared on
// every type in s.
func NewManager(s *schema.Schema) *Manager {
	m := &Manager{schema: s, byType: make(map[schema.TypeID][]*Index)}
	for _, td := range s.Types() {
		for _, def := range td.Indexes {
			m.byType[td.ID] = append(m.byType[td.ID], newIndex(td.ID, def))
		}
	}
	return m
}

// Indexes returns every index declared on typeID.
func (m *Manager) Indexes(typeID schema.TypeID) []*Index { return m.byType[typeID] }

// OnInsert encodes and inserts n into every index of its type.
func (m *Manager) OnInsert(n *store.Node) {
	for _, idx := range m.byType[n.TypeID()] {
		idx.reencode(n)
	}
}

// OnUpdate re-encodes n in every index of its type whose fields
// include a property that changed between old and the current state.
func (m *Manager) OnUpdate(n, old *store.Node) {
	for _, idx := range m.byType[n.TypeID()] {
		changed := false
		for _, f := range idx.Def.Fields {
			if f.Kind != schema.FieldProperty {
				continue
			}
			ov, _ := old.Field(f.Name)
			nv, _ := n.Field(f.Name)
			if !ov.Equal(nv) {
				changed = true
				break
			}
		}
		if changed {
			idx.reencode(n)
		}
	}
}

// OnLink/OnUnlink re-encode n in every index of its type that
// includes edgeID as a field, since the edge's first target (and
// therefore the key component) may have changed.
func (m *Manager) OnLink(n *store.Node, edgeID schema.EdgeID)   { m.reencodeEdge(n, edgeID) }
func (m *Manager) OnUnlink(n *store.Node, edgeID schema.EdgeID) { m.reencodeEdge(n, edgeID) }

func (m *Manager) reencodeEdge(n *store.Node, edgeID schema.EdgeID) {
	for _, idx := range m.byType[n.TypeID()] {
		if idx.referencesEdge(edgeID) {
			idx.reencode(n)
		}
	}
}

// OnDelete removes n from every index of its type.
func (m *Manager) OnDelete(n *store.Node) {
	for _, idx := range m.byType[n.TypeID()] {
		idx.remove(n.ID())
	}
}

// Coverage describes one index's applicability to a (filters, sorts)
// pair (spec §4.4 / GLOSSARY).
type Coverage struct {
	Index          *Index
	EqualityPrefix int
	HasRange       bool
	RangeField     string
	RangeOp        Op
	RangeValue     value.Value
	SortSuffix     int
	PostFilters    []Filter
	Score          int

	consumedEquality []Filter // in field order, for Bounds()
	nestedOffset     int      // 0 normally, 1 when the first field was consumed matching a reverse edge
}

// computeCoverage scores fields[offset:] against filters/sorts,
// following spec §4.4 steps 1-4 exactly.
func computeCoverage(idx *Index, offset int, filters []Filter, sorts []SortSpec) Coverage {
	fields := idx.Def.Fields
	consumed := make([]bool, len(filters))
	i := offset
	var eqFilters []Filter
	equalityPrefix := 0
	for i < len(fields) {
		f := fields[i]
		matched := false
		for fi, filt := range filters {
			if consumed[fi] {
				continue
			}
			if filt.Field == f.Name && filt.Op == Eq {
				consumed[fi] = true
				eqFilters = append(eqFilters, filt)
				equalityPrefix++
				i++
				matched = true
				break
			}
		}
		if !matched {
			break
		}
	}

	hasRange := false
	var rangeFilter Filter
	if i < len(fields) {
		f := fields[i]
		for fi, filt := range filters {
			if consumed[fi] {
				continue
			}
			if filt.Field == f.Name && isRangeOp(filt.Op) {
				consumed[fi] = true
				hasRange = true
				rangeFilter = filt
				i++
				break
			}
		}
	}

	sortSuffix := 0
	si := 0
	for i < len(fields) && si < len(sorts) {
		f := fields[i]
		s := sorts[si]
		if s.Field == f.Name && s.Dir == f.Dir {
			sortSuffix++
			i++
			si++
		} else {
			break
		}
	}

	var post []Filter
	for fi, filt := range filters {
		if !consumed[fi] {
			post = append(post, filt)
		}
	}

	score := 100*equalityPrefix + 10*sortSuffix
	if hasRange {
		score += 50
	}

	return Coverage{
		Index:            idx,
		EqualityPrefix:   equalityPrefix,
		HasRange:         hasRange,
		RangeField:       rangeFilter.Field,
		RangeOp:          rangeFilter.Op,
		RangeValue:       rangeFilter.Value,
		SortSuffix:       sortSuffix,
		PostFilters:      post,
		Score:            score,
		consumedEquality: eqFilters,
		nestedOffset:     offset,
	}
}

// SelectIndex picks the highest-scoring index declared on typeID for
// (filters, sorts), or ok=false if the type has no indexes (the view
// layer surfaces this as no-index-coverage).
func (m *Manager) SelectIndex(typeID schema.TypeID, filters []Filter, sorts []SortSpec) (Coverage, bool) {
	return m.selectFrom(m.byType[typeID], 0, filters, sorts, nil)
}

// SelectNestedIndex picks the highest-scoring cross-entity index
// declared on targetType whose first field is the edge reverseEdge
// (spec §4.4 "Nested coverage"). Coverage is scored on the remaining
// fields.
func (m *Manager) SelectNestedIndex(targetType schema.TypeID, reverseEdgeID schema.EdgeID, filters []Filter, sorts []SortSpec) (Coverage, bool) {
	var candidates []*Index
	for _, idx := range m.byType[targetType] {
		if len(idx.Def.Fields) == 0 {
			continue
		}
		first := idx.Def.Fields[0]
		if first.Kind == schema.FieldEdge && first.EdgeID == reverseEdgeID {
			candidates = append(candidates, idx)
		}
	}
	return m.selectFrom(candidates, 1, filters, sorts, nil)
}

func (m *Manager) selectFrom(candidates []*Index, offset int, filters []Filter, sorts []SortSpec, _ any) (Coverage, bool) {
	var best Coverage
	found := false
	for _, idx := range candidates {
		c := computeCoverage(idx, offset, filters, sorts)
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	return best, found
}
