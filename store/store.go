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

package store

import (
	"fmt"

	"github.com/viewgraph/viewgraph/ckey"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/value"
)

// Store owns all Node values for a graph. The zero Store is not
// ready to use; construct with New.
type Store struct {
	schema *schema.Schema
	nodes  map[NodeID]*Node
	nextID NodeID
}

// New constructs an empty Store bound to schema s.
func New(s *schema.Schema) *Store {
	return &Store{schema: s, nodes: make(map[NodeID]*Node)}
}

// Schema returns the store's bound schema.
func (s *Store) Schema() *schema.Schema { return s.schema }

// Get returns the node for id, or nil if it doesn't exist (or was
// deleted).
func (s *Store) Get(id NodeID) *Node { return s.nodes[id] }

// Snapshot returns a pre-mutation copy of id's node suitable for use
// as an "old" value in index/tracker diffing around a single-field
// SetProperty call (spec §9: the reactive path's dynamic set_property
// needs the same old/new diffing Update gets from its own internal
// snapshot).
func (s *Store) Snapshot(id NodeID) *Node {
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	return n.snapshot()
}

// Insert allocates a new node of the given type, with no properties
// set. typeID must be a valid schema type id.
func (s *Store) Insert(typeID schema.TypeID) (*Node, error) {
	if _, ok := s.schema.TypeByID(typeID); !ok {
		return nil, fmt.Errorf("store: unknown type id %d", typeID)
	}
	id := s.nextID
	s.nextID++
	n := newNode(id, typeID)
	s.nodes[id] = n
	return n, nil
}

// Update merges props into the node's property map (last write
// wins per key) and returns the pre-update snapshot for the caller
// to diff against (index maintenance, rollup invalidation, change
// tracking all need the old values).
func (s *Store) Update(id NodeID, props map[string]value.Value) (old *Node, cur *Node, err error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, nil, fmt.Errorf("store: node-not-found: %d", id)
	}
	old = n.snapshot()
	for k, v := range props {
		n.props[k] = v
	}
	return old, n, nil
}

// SetProperty sets a single property, returning the previous value
// (or ok=false if it was unset) for the reactive path, which must use
// exactly this dynamic form (design note §9: "the reactive path must
// use" set_property, not an anytype struct update).
func (s *Store) SetProperty(id NodeID, name string, v value.Value) (old value.Value, hadOld bool, err error) {
	n, ok := s.nodes[id]
	if !ok {
		return value.Value{}, false, fmt.Errorf("store: node-not-found: %d", id)
	}
	old, hadOld = n.props[name]
	n.props[name] = v
	return old, hadOld, nil
}

// SetRollup overwrites a rollup value; only the rollup cache calls
// this.
func (s *Store) SetRollup(id NodeID, name string, v value.Value) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("store: node-not-found: %d", id)
	}
	n.rolls[name] = v
	return nil
}

// edgeDef resolves edgeName on typeID, or an error.
func (s *Store) edgeDef(typeID schema.TypeID, edgeName string) (schema.EdgeDef, error) {
	td, ok := s.schema.TypeByID(typeID)
	if !ok {
		return schema.EdgeDef{}, fmt.Errorf("store: unknown type id %d", typeID)
	}
	ed, ok := td.Edge(edgeName)
	if !ok {
		return schema.EdgeDef{}, fmt.Errorf("store: edge-not-found: %q on type %q", edgeName, td.Name)
	}
	return ed, nil
}

// targetListFor lazily creates the target list for edgeID on node n,
// picking a sort-property comparator if the schema declares one
// (spec §4.3: "on first link for an edge with a sort spec, initialise
// the target list with a comparator closing over (store, property,
// direction); otherwise initialise by NodeId").
func (s *Store) targetListFor(n *Node, ed schema.EdgeDef) *TargetList {
	tl := n.edges[ed.ID]
	if tl != nil {
		return tl
	}
	if ed.Sort != nil {
		prop := ed.Sort.Property
		dir := ed.Sort.Dir
		tl = newSortedTargetList(func(a, b NodeID) int {
			va, _ := s.Field(a, prop)
			vb, _ := s.Field(b, prop)
			c := value.Compare(va, vb)
			if dir == ckey.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
			return compareNodeID(a, b)
		})
	} else {
		tl = newDefaultTargetList()
	}
	n.edges[ed.ID] = tl
	return tl
}

// Link links src -> tgt via edgeName, and the symmetric reverse
// edge tgt -> src. Returns the resolved EdgeID (the caller uses it to
// notify the index manager / tracker / rollup cache) plus whether the
// link was newly created (Link is idempotent: linking an existing
// pair is a no-op that reports created=false).
func (s *Store) Link(src NodeID, edgeName string, tgt NodeID) (edgeID schema.EdgeID, created bool, err error) {
	sn, ok := s.nodes[src]
	if !ok {
		return 0, false, fmt.Errorf("store: node-not-found: %d", src)
	}
	tn, ok := s.nodes[tgt]
	if !ok {
		return 0, false, fmt.Errorf("store: node-not-found: %d", tgt)
	}
	ed, err := s.edgeDef(sn.typeID, edgeName)
	if err != nil {
		return 0, false, err
	}
	if ed.TargetID != tn.typeID {
		return 0, false, fmt.Errorf("store: edge-target-not-found: %q expects type %d, got %d", edgeName, ed.TargetID, tn.typeID)
	}
	fwd := s.targetListFor(sn, ed)
	if fwd.Contains(tgt) {
		return ed.ID, false, nil
	}
	fwd.set.Insert(tgt)

	revDef := schema.EdgeDef{ID: ed.ReverseID, Sort: nil}
	// the reverse edge may itself declare a sort spec; resolve it
	// properly rather than assuming unsorted.
	if td, ok := s.schema.TypeByID(tn.typeID); ok {
		for _, e := range td.Edges {
			if e.ID == ed.ReverseID {
				revDef = e
				break
			}
		}
	}
	revList := s.targetListFor(tn, revDef)
	revList.set.Insert(src)

	return ed.ID, true, nil
}

// Unlink removes both directions of an existing link. Reports
// whether a link was actually removed.
func (s *Store) Unlink(src NodeID, edgeName string, tgt NodeID) (edgeID schema.EdgeID, removed bool, err error) {
	sn, ok := s.nodes[src]
	if !ok {
		return 0, false, fmt.Errorf("store: node-not-found: %d", src)
	}
	tn, ok := s.nodes[tgt]
	if !ok {
		return 0, false, fmt.Errorf("store: node-not-found: %d", tgt)
	}
	ed, err := s.edgeDef(sn.typeID, edgeName)
	if err != nil {
		return 0, false, err
	}
	fwd := sn.edges[ed.ID]
	if fwd == nil || !fwd.Contains(tgt) {
		return ed.ID, false, nil
	}
	fwd.set.Remove(tgt)
	if rev := tn.edges[ed.ReverseID]; rev != nil {
		rev.set.Remove(src)
	}
	return ed.ID, true, nil
}

// Delete removes a node entirely. The caller must already have
// emitted unlink notifications for every incoming edge — spec §4.3:
// "delete is permitted only after callers have emitted unlink
// notifications"; the edges themselves may still be in place.
// Delete itself silently detaches every edge the node still holds
// (which, through reverse entries, includes its incoming edges) from
// each other endpoint's list (pure bookkeeping to preserve the
// reverse-edge invariant) without emitting any events, since spec
// §4.7 explicitly excludes outgoing edges from the delete protocol's
// notifications.
func (s *Store) Delete(id NodeID) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("store: node-not-found: %d", id)
	}
	for edgeID, tl := range n.edges {
		for _, tgt := range tl.All() {
			tn := s.nodes[tgt]
			if tn == nil {
				continue
			}
			revID := s.reverseOf(n.typeID, edgeID)
			if rev := tn.edges[revID]; rev != nil {
				rev.set.Remove(id)
			}
		}
	}
	delete(s.nodes, id)
	return nil
}

func (s *Store) reverseOf(typeID schema.TypeID, edgeID schema.EdgeID) schema.EdgeID {
	td, ok := s.schema.TypeByID(typeID)
	if !ok {
		return 0
	}
	for _, e := range td.Edges {
		if e.ID == edgeID {
			return e.ReverseID
		}
	}
	return 0
}

// RepositionTarget re-sorts target within src's edgeID target list in
// place, used after target's sort property changed (spec §4.8 "Edge
// target re-sort"). No-op if src has no loaded target list for
// edgeID, or target isn't currently in it.
func (s *Store) RepositionTarget(src NodeID, edgeID schema.EdgeID, target NodeID) {
	sn, ok := s.nodes[src]
	if !ok {
		return
	}
	tl := sn.edges[edgeID]
	if tl == nil {
		return
	}
	if idx, ok := tl.IndexOf(target); ok {
		tl.set.Reposition(idx)
	}
}

// Field resolves a property-or-rollup by name on node id.
func (s *Store) Field(id NodeID, name string) (value.Value, bool) {
	n := s.nodes[id]
	if n == nil {
		return value.Value{}, false
	}
	return n.Field(name)
}

// Count returns the number of live nodes.
func (s *Store) Count() int { return len(s.nodes) }
