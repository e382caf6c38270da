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

package view

import (
	"github.com/viewgraph/viewgraph/query"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/sortedset"
	"github.com/viewgraph/viewgraph/store"
	"github.com/viewgraph/viewgraph/tracker"
)

// loadChildLevel populates tn.children[sel.EdgeID] with the current
// target set for tn's edge, ordered by sel.Sorts (falling back to
// NodeId order when the selection declares none), and registers a
// nested subscription on tn.id so subsequent link/unlink events keep
// the loaded set live (spec §4.8 "Nested subscriptions").
func (v *View) loadChildLevel(tn *TreeNode, sel query.EdgeSelection) {
	cmp := buildComparator(v.st, sel.Sorts)
	cl := &childLevel{sel: sel, order: sortedset.New(cmp)}

	n := v.st.Get(tn.id)
	if n != nil {
		if tl := n.Targets(sel.EdgeID); tl != nil {
			for _, tid := range tl.All() {
				child := v.st.Get(tid)
				if child == nil {
					continue
				}
				if !matchesFilters(child, sel.Filters) {
					continue
				}
				cl.order.Insert(tid)
				if _, exists := v.tree[tid]; !exists {
					v.newTreeNode(tid, child.TypeID(), tn.id, true, tn.depth+1, false, sel.Edges)
				}
			}
		}
	}

	cl.sub = &tracker.Subscription{
		NodeIDs:  []store.NodeID{tn.id},
		OnLink:   func(src store.NodeID, edgeID schema.EdgeID, tgt store.NodeID) { v.onNestedLink(tn, sel, edgeID, tgt) },
		OnUnlink: func(src store.NodeID, edgeID schema.EdgeID, tgt store.NodeID) { v.onNestedUnlink(tn, sel, edgeID, tgt) },
	}
	v.tr.Register(cl.sub)

	tn.children[sel.EdgeID] = cl
}

// dropChildLevel tears down a loaded edge's subtree: its nested
// subscription, and recursively every grandchild subtree still
// expanded underneath it, removing now-unreachable nodes from the
// view's tree map entirely.
func (v *View) dropChildLevel(tn *TreeNode, edgeID schema.EdgeID) {
	cl := tn.children[edgeID]
	if cl == nil {
		return
	}
	if cl.sub != nil {
		v.tr.Unregister(cl.sub)
	}
	for _, cid := range cl.order.All() {
		v.deleteTreeNode(cid)
	}
	delete(tn.children, edgeID)
}

// onNestedLink keeps a loaded child level current when a new edge
// target is linked onto its parent, inserting it at its comparator
// position and registering the corresponding TreeNode (spec §9
// "S2": the newly linked target's sort-key construction must match
// the loader's comparator exactly, or it would land at the wrong
// position relative to entries already materialized before it).
func (v *View) onNestedLink(tn *TreeNode, sel query.EdgeSelection, edgeID schema.EdgeID, tgt store.NodeID) {
	if edgeID != sel.EdgeID {
		return
	}
	cl := tn.children[sel.EdgeID]
	if cl == nil || !tn.expanded[sel.EdgeID] {
		return
	}
	child := v.st.Get(tgt)
	if child == nil || !matchesFilters(child, sel.Filters) {
		return
	}
	if cl.order.Contains(tgt) {
		return
	}
	before := v.allVisible()
	cl.order.Insert(tgt)
	if _, exists := v.tree[tgt]; !exists {
		v.newTreeNode(tgt, child.TypeID(), tn.id, true, tn.depth+1, false, sel.Edges)
	}
	v.diffAndEmit(before)
}

// onNestedUnlink is the Link counterpart: it drops the target (and
// anything still expanded beneath it) from the loaded level.
func (v *View) onNestedUnlink(tn *TreeNode, sel query.EdgeSelection, edgeID schema.EdgeID, tgt store.NodeID) {
	if edgeID != sel.EdgeID {
		return
	}
	cl := tn.children[sel.EdgeID]
	if cl == nil || !tn.expanded[sel.EdgeID] {
		return
	}
	if _, ok := cl.order.IndexOf(tgt); !ok {
		return
	}
	before := v.allVisible()
	cl.order.Remove(tgt)
	v.deleteTreeNode(tgt)
	v.diffAndEmit(before)
}

// onRootInsert re-derives the root window from the index scan: an
// insert of the root type may or may not land inside the currently
// materialized [offset, offset+height) slice, and may shift whether
// later ids are still in it, so membership and ordering are left
// entirely to reloadRootWindow rather than patched in place here.
func (v *View) onRootInsert(n *store.Node) {
	before := v.allVisible()
	v.reloadRootWindow()
	v.diffAndEmit(before)
}

// onRootUpdate re-evaluates root-set membership (a property update
// can make a node start or stop matching the query's filters, or move
// it across the window boundary if the changed property participates
// in the sort order) by reloading the window from the index scan.
func (v *View) onRootUpdate(n, old *store.Node) {
	before := v.allVisible()
	v.reloadRootWindow()
	v.diffAndEmit(before)
}

// onRootFixedUpdate handles the single-fixed-root case, where there
// is no membership question -- only a change delta.
func (v *View) onRootFixedUpdate(n, old *store.Node) {
	before := v.allVisible()
	v.diffAndEmit(before)
}

// onRootDelete reloads the root window after a deletion, which may
// pull a previously out-of-window id into view to refill the slice.
func (v *View) onRootDelete(n *store.Node) {
	before := v.allVisible()
	v.reloadRootWindow()
	v.diffAndEmit(before)
}

// diffAndEmit compares before (the visible sequence captured before a
// mutation) against the current visible sequence, firing
// enter/leave/move deltas for whatever differs (spec §4.8 "Delta
// callbacks"). Enter and leave fire only for viewport-visible
// positions; moves fire at any position, in the order of the new
// sequence. For a windowed root scan, v.tree only ever holds the
// current window, so visibleCount is reloadRootWindow's scan-bounded
// root count plus whatever is expanded beneath the window's roots,
// and every position is shifted by posBase() to recover its true
// position in the full result.
func (v *View) diffAndEmit(before []Item) {
	after := v.allVisible()
	if !v.rootWindowed {
		v.visibleCount = len(after)
	} else {
		v.visibleCount = v.rootTotal + len(after) - v.rootOrder.Len()
	}
	base := v.posBase()

	beforePos := make(map[store.NodeID]int, len(before))
	for i, it := range before {
		beforePos[it.ID] = base + i
	}
	afterPos := make(map[store.NodeID]int, len(after))
	for i, it := range after {
		afterPos[it.ID] = base + i
	}

	for _, it := range before {
		if _, still := afterPos[it.ID]; !still {
			v.emitLeave(it, beforePos[it.ID])
		}
	}
	for _, it := range after {
		if _, was := beforePos[it.ID]; !was {
			v.emitEnter(it, afterPos[it.ID])
		}
	}
	for _, it := range after {
		oldPos, was := beforePos[it.ID]
		if !was {
			continue
		}
		if newPos := afterPos[it.ID]; oldPos != newPos {
			v.emitMove(it.ID, oldPos, newPos)
		}
	}
}

// onDescendantUpdate fires an on_change delta for a node already
// present in the tree whose properties changed in place (no
// membership or ordering question -- those are handled by
// onRootUpdate for root-level nodes; a descendant's position among
// its siblings can still move if the change affects its parent
// edge's sort property, which onNestedLink/Unlink don't cover since
// the node stays linked -- handled here via Reposition).
func (v *View) onDescendantUpdate(tn *TreeNode, n, old *store.Node) {
	before := v.allVisible()
	if tn.hasParent {
		if parent := v.tree[tn.parent]; parent != nil {
			for _, cl := range parent.children {
				if idx, ok := cl.order.IndexOf(tn.id); ok && len(cl.sel.Sorts) > 0 {
					cl.order.Reposition(idx)
				}
			}
		}
	}
	v.diffAndEmit(before)
	if pos := v.IndexOfID(tn.id); pos >= 0 {
		v.emitChange(v.itemOf(tn), pos, v.itemOf(tn))
	}
}
