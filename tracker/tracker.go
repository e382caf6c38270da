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

// Package tracker implements the change tracker (spec §4.7): the
// central event bus between the store/index/rollup layer and view
// subscriptions. It does not itself decide whether a node matches a
// subscription's query predicate -- that decision belongs to the
// subscription's owner (the view layer) -- it only fans the typed
// edit events out to every subscription registered by type-id or by
// participating node-id, and to the separate per-node watch registry.
package tracker

import (
	"log"

	"github.com/viewgraph/viewgraph/kgmap"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
)

// Subscription is a view's (or a nested level's) registration with
// the tracker (spec §3 "Subscription"). A subscription interested in
// a whole type's root-level events sets TypeID (and leaves NodeIDs
// empty); a subscription interested in a specific parent's nested
// edge (or a virtual root) sets NodeIDs instead (or both).
type Subscription struct {
	TypeID  schema.TypeID
	HasType bool
	NodeIDs []store.NodeID

	OnInsert func(n *store.Node)
	OnUpdate func(n, old *store.Node)
	OnLink   func(src store.NodeID, edgeID schema.EdgeID, tgt store.NodeID)
	OnUnlink func(src store.NodeID, edgeID schema.EdgeID, tgt store.NodeID)
	OnDelete func(n *store.Node)

	id uint64
}

// NodeWatch is a per-node application-level observer (spec §4.7
// "Per-node watches"), independent of any view.
type NodeWatch struct {
	OnUpdate func(n, old *store.Node)
	OnLink   func(src store.NodeID, edgeID schema.EdgeID, tgt store.NodeID)
	OnUnlink func(src store.NodeID, edgeID schema.EdgeID, tgt store.NodeID)
	OnDelete func(n *store.Node)

	id     uint64
	nodeID store.NodeID
}

// Tracker is the central pub/sub bus. The zero Tracker is not ready
// to use; construct with New.
type Tracker struct {
	log *log.Logger

	byType map[schema.TypeID][]*Subscription
	byNode *kgmap.Map[store.NodeID, *Subscription]

	watches *kgmap.Map[store.NodeID, *NodeWatch]

	nextSubID   uint64
	nextWatchID uint64
}

// New constructs an empty Tracker. logger receives panics caught from
// callbacks and other non-fatal diagnostics; pass nil to use
// log.Default().
func New(logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		log:     logger,
		byType:  make(map[schema.TypeID][]*Subscription),
		byNode:  kgmap.New[store.NodeID, *Subscription](),
		watches: kgmap.New[store.NodeID, *NodeWatch](),
	}
}

// Register adds sub to the registries implied by its TypeID/NodeIDs
// and assigns it an id, returned for later Unregister.
func (t *Tracker) Register(sub *Subscription) uint64 {
	t.nextSubID++
	sub.id = t.nextSubID
	if sub.HasType {
		t.byType[sub.TypeID] = append(t.byType[sub.TypeID], sub)
	}
	for _, id := range sub.NodeIDs {
		t.byNode.Add(id, sub, func(a, b *Subscription) bool { return a == b })
	}
	return sub.id
}

// Unregister prunes sub from every registry it appears in, synchronously
// (spec §5: "on view drop, the tracker's registry is pruned
// synchronously").
func (t *Tracker) Unregister(sub *Subscription) {
	if sub.HasType {
		list := t.byType[sub.TypeID]
		for i, s := range list {
			if s == sub {
				t.byType[sub.TypeID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(t.byType[sub.TypeID]) == 0 {
			delete(t.byType, sub.TypeID)
		}
	}
	for _, id := range sub.NodeIDs {
		t.byNode.Remove(id, func(s *Subscription) bool { return s == sub })
	}
}

// AddNodeID registers sub as additionally interested in id (used when
// a view expands a new node and needs its nested subscription to
// start watching that node's id).
func (t *Tracker) AddNodeID(sub *Subscription, id store.NodeID) {
	sub.NodeIDs = append(sub.NodeIDs, id)
	t.byNode.Add(id, sub, func(a, b *Subscription) bool { return a == b })
}

// RemoveNodeID undoes AddNodeID.
func (t *Tracker) RemoveNodeID(sub *Subscription, id store.NodeID) {
	for i, nid := range sub.NodeIDs {
		if nid == id {
			sub.NodeIDs = append(sub.NodeIDs[:i], sub.NodeIDs[i+1:]...)
			break
		}
	}
	t.byNode.Remove(id, func(s *Subscription) bool { return s == sub })
}

// WatchNode registers a per-node observer, independent of any view,
// and returns a handle for UnwatchNode.
func (t *Tracker) WatchNode(id store.NodeID, w *NodeWatch) uint64 {
	t.nextWatchID++
	w.id = t.nextWatchID
	w.nodeID = id
	t.watches.Add(id, w, func(a, b *NodeWatch) bool { return a == b })
	return w.id
}

// UnwatchNode removes a watch previously installed by WatchNode.
func (t *Tracker) UnwatchNode(id store.NodeID, handle uint64) {
	t.watches.Remove(id, func(w *NodeWatch) bool { return w.id == handle })
}

// safe invokes fn, catching and logging any panic so a misbehaving
// callback cannot corrupt tracker dispatch for the remaining
// subscribers (spec §7: "an exception inside a callback must not
// corrupt the tracker -- it is caught and logged").
func (t *Tracker) safe(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Printf("tracker: recovered panic in %s callback: %v", what, r)
		}
	}()
	fn()
}

// NotifyInsert dispatches an insert event to every subscription
// registered for n's type.
func (t *Tracker) NotifyInsert(n *store.Node) {
	for _, sub := range t.byType[n.TypeID()] {
		if sub.OnInsert != nil {
			t.safe("on_insert", func() { sub.OnInsert(n) })
		}
	}
}

// NotifyUpdate dispatches to subscriptions on n's type and on n's id,
// plus any node watch on n.
func (t *Tracker) NotifyUpdate(n, old *store.Node) {
	for _, sub := range t.byType[n.TypeID()] {
		if sub.OnUpdate != nil {
			t.safe("on_update", func() { sub.OnUpdate(n, old) })
		}
	}
	for _, sub := range t.byNode.Get(n.ID()) {
		if sub.OnUpdate != nil {
			t.safe("on_update", func() { sub.OnUpdate(n, old) })
		}
	}
	for _, w := range t.watches.Get(n.ID()) {
		if w.OnUpdate != nil {
			t.safe("watch:on_update", func() { w.OnUpdate(n, old) })
		}
	}
}

// NotifyLink dispatches to subscriptions registered on src's id (the
// parent node of a nested expansion), since a link's observable effect
// is scoped to that parent's edge, plus any node watch on src or tgt.
func (t *Tracker) NotifyLink(src store.NodeID, edgeID schema.EdgeID, tgt store.NodeID) {
	for _, sub := range t.byNode.Get(src) {
		if sub.OnLink != nil {
			t.safe("on_link", func() { sub.OnLink(src, edgeID, tgt) })
		}
	}
	for _, w := range t.watches.Get(src) {
		if w.OnLink != nil {
			t.safe("watch:on_link", func() { w.OnLink(src, edgeID, tgt) })
		}
	}
	for _, w := range t.watches.Get(tgt) {
		if w.OnLink != nil {
			t.safe("watch:on_link", func() { w.OnLink(src, edgeID, tgt) })
		}
	}
}

// NotifyUnlink is the Unlink counterpart of NotifyLink.
func (t *Tracker) NotifyUnlink(src store.NodeID, edgeID schema.EdgeID, tgt store.NodeID) {
	for _, sub := range t.byNode.Get(src) {
		if sub.OnUnlink != nil {
			t.safe("on_unlink", func() { sub.OnUnlink(src, edgeID, tgt) })
		}
	}
	for _, w := range t.watches.Get(src) {
		if w.OnUnlink != nil {
			t.safe("watch:on_unlink", func() { w.OnUnlink(src, edgeID, tgt) })
		}
	}
	for _, w := range t.watches.Get(tgt) {
		if w.OnUnlink != nil {
			t.safe("watch:on_unlink", func() { w.OnUnlink(src, edgeID, tgt) })
		}
	}
}

// NotifyDelete dispatches to subscriptions on n's type and id, and any
// node watch on n. Per spec §4.7, the caller must have already emitted
// synthetic unlink events for every incoming edge before calling this.
func (t *Tracker) NotifyDelete(n *store.Node) {
	for _, sub := range t.byType[n.TypeID()] {
		if sub.OnDelete != nil {
			t.safe("on_delete", func() { sub.OnDelete(n) })
		}
	}
	for _, sub := range t.byNode.Get(n.ID()) {
		if sub.OnDelete != nil {
			t.safe("on_delete", func() { sub.OnDelete(n) })
		}
	}
	for _, w := range t.watches.Get(n.ID()) {
		if w.OnDelete != nil {
			t.safe("watch:on_delete", func() { w.OnDelete(n) })
		}
	}
}
