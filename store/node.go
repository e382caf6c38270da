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

// Package store owns every Node value and its raw property, rollup
// and edge storage. It has no knowledge of indexes, rollup
// computation or the change tracker; those are separate observers
// wired together by the root graphdb package, matching the
// layering the teacher uses between db (storage) and plan/vm
// (query execution).
package store

import (
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/sortedset"
	"github.com/viewgraph/viewgraph/value"
)

// NodeID is the store-assigned, monotonically increasing, never
// reused node identifier.
type NodeID uint64

func compareNodeID(a, b NodeID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// TargetList is an edge's sorted target list: ordered either by
// target NodeId (the default) or by a (property, direction) pair on
// the target with ties broken by NodeId. A nil *TargetList (what
// Node.Targets returns for an edge never linked) reads as empty.
type TargetList struct {
	set *sortedset.Set[NodeID]
}

func newDefaultTargetList() *TargetList {
	return &TargetList{set: sortedset.New(compareNodeID)}
}

func newSortedTargetList(cmp func(a, b NodeID) int) *TargetList {
	return &TargetList{set: sortedset.New(cmp)}
}

func (l *TargetList) Len() int {
	if l == nil {
		return 0
	}
	return l.set.Len()
}
func (l *TargetList) At(i int) NodeID { return l.set.At(i) }
func (l *TargetList) Contains(id NodeID) bool {
	if l == nil {
		return false
	}
	return l.set.Contains(id)
}
func (l *TargetList) IndexOf(id NodeID) (int, bool) { return l.set.IndexOf(id) }
func (l *TargetList) All() []NodeID {
	if l == nil {
		return nil
	}
	return l.set.All()
}

// Node is the sole owner of a node's properties, rollup values and
// edges. Callers must go through Store to mutate it; Node itself
// exposes only reads plus the narrow mutation helpers Store needs.
type Node struct {
	id     NodeID
	typeID schema.TypeID
	props  map[string]value.Value
	rolls  map[string]value.Value
	edges  map[schema.EdgeID]*TargetList
}

func newNode(id NodeID, typeID schema.TypeID) *Node {
	return &Node{
		id:     id,
		typeID: typeID,
		props:  make(map[string]value.Value),
		rolls:  make(map[string]value.Value),
		edges:  make(map[schema.EdgeID]*TargetList),
	}
}

func (n *Node) ID() NodeID           { return n.id }
func (n *Node) TypeID() schema.TypeID { return n.typeID }

// Property returns a property value directly (not falling back to
// rollups); most callers want Field instead.
func (n *Node) Property(name string) (value.Value, bool) {
	v, ok := n.props[name]
	return v, ok
}

// Rollup returns a cached rollup value directly.
func (n *Node) Rollup(name string) (value.Value, bool) {
	v, ok := n.rolls[name]
	return v, ok
}

// Field resolves name as a property first, falling back to a rollup
// of the same name if no property is declared with it (spec §3:
// "rollup-value map ... overrides property lookup only when absent
// from properties").
func (n *Node) Field(name string) (value.Value, bool) {
	if v, ok := n.props[name]; ok {
		return v, true
	}
	v, ok := n.rolls[name]
	return v, ok
}

// Properties returns a defensive copy of the property map, used to
// build an "old node" snapshot before an update.
func (n *Node) Properties() map[string]value.Value {
	out := make(map[string]value.Value, len(n.props))
	for k, v := range n.props {
		out[k] = v
	}
	return out
}

// Rollups returns a defensive copy of the rollup-value map.
func (n *Node) Rollups() map[string]value.Value {
	out := make(map[string]value.Value, len(n.rolls))
	for k, v := range n.rolls {
		out[k] = v
	}
	return out
}

// Targets returns the target list for edgeID, or nil if the edge has
// never been linked.
func (n *Node) Targets(edgeID schema.EdgeID) *TargetList {
	return n.edges[edgeID]
}

// HasEdge reports whether edgeID has at least one target.
func (n *Node) HasEdge(edgeID schema.EdgeID) bool {
	tl := n.edges[edgeID]
	return tl != nil && tl.Len() > 0
}

// snapshot returns a shallow copy of n suitable for use as an
// "old_node" in on_update/on_link/on_unlink notifications: property
// and rollup maps are copied (so later mutation of n doesn't alter
// the snapshot) but edge target lists are shared by reference,
// since edge mutations go through explicit Link/Unlink notifications
// instead of being diffed from a snapshot.
func (n *Node) snapshot() *Node {
	cp := &Node{
		id:     n.id,
		typeID: n.typeID,
		props:  n.Properties(),
		rolls:  n.Rollups(),
		edges:  n.edges,
	}
	return cp
}
