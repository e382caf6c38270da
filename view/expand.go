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
	"fmt"

	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
)

// ExpandByID opens the named edge on node id, loading its current
// target set from the node's own target list (no index is consulted)
// and registering a nested subscription
// so the loaded subtree stays live. A second ExpandByID on an
// already-expanded edge is a no-op (spec §4.8 "expand_by_id").
func (v *View) ExpandByID(id store.NodeID, edgeName string) error {
	tn, ok := v.tree[id]
	if !ok {
		return fmt.Errorf("view: node-not-in-view: %d", id)
	}
	sel, ok := tn.selectionByName(edgeName)
	if !ok {
		return fmt.Errorf("view: unknown-edge: %q", edgeName)
	}
	if tn.expanded[sel.EdgeID] {
		return nil
	}

	before := v.allVisible()
	tn.expanded[sel.EdgeID] = true
	v.loadChildLevel(tn, sel)
	v.diffAndEmit(before)
	return nil
}

// CollapseByID closes the named edge on node id, dropping its loaded
// subtree (including every nested subscription within it) and
// discarding any deeper expansion state -- re-expanding later starts
// fresh (spec §4.8, resolving the "does collapse remember nested
// expansion" open question in favor of the simpler, stateless
// behavior; see DESIGN.md).
func (v *View) CollapseByID(id store.NodeID, edgeName string) error {
	tn, ok := v.tree[id]
	if !ok {
		return fmt.Errorf("view: node-not-in-view: %d", id)
	}
	sel, ok := tn.selectionByName(edgeName)
	if !ok {
		return fmt.Errorf("view: unknown-edge: %q", edgeName)
	}
	if !tn.expanded[sel.EdgeID] {
		return nil
	}

	before := v.allVisible()
	v.dropChildLevel(tn, sel.EdgeID)
	tn.expanded[sel.EdgeID] = false
	v.diffAndEmit(before)
	return nil
}

// ToggleByID expands edgeName on id if collapsed, or collapses it if
// expanded.
func (v *View) ToggleByID(id store.NodeID, edgeName string) error {
	tn, ok := v.tree[id]
	if !ok {
		return fmt.Errorf("view: node-not-in-view: %d", id)
	}
	sel, ok := tn.selectionByName(edgeName)
	if !ok {
		return fmt.Errorf("view: unknown-edge: %q", edgeName)
	}
	if tn.expanded[sel.EdgeID] {
		return v.CollapseByID(id, edgeName)
	}
	return v.ExpandByID(id, edgeName)
}

// IsExpandedByID reports whether edgeName is currently open on id.
func (v *View) IsExpandedByID(id store.NodeID, edgeName string) (bool, error) {
	tn, ok := v.tree[id]
	if !ok {
		return false, fmt.Errorf("view: node-not-in-view: %d", id)
	}
	sel, ok := tn.selectionByName(edgeName)
	if !ok {
		return false, fmt.Errorf("view: unknown-edge: %q", edgeName)
	}
	return tn.expanded[sel.EdgeID], nil
}

// ExpandAll expands every edge selection reachable from the view's
// root(s), and recursively through every node that loads, down to
// maxDepth hops (maxDepth <= 0 means unbounded), with a seen-set for
// cycle safety (spec §4.8 "expand_all(max_depth)"; note this walks
// from the view's own roots rather than a caller-supplied id, unlike
// the single-edge ExpandByID/CollapseByID pair).
func (v *View) ExpandAll(maxDepth int) error {
	before := v.allVisible()
	seen := make(map[store.NodeID]bool)
	var walk func(store.NodeID, int) error
	walk = func(nid store.NodeID, depth int) error {
		if seen[nid] {
			return nil
		}
		seen[nid] = true
		if maxDepth > 0 && depth >= maxDepth {
			return nil
		}
		tn, ok := v.tree[nid]
		if !ok {
			return nil
		}
		for _, sel := range tn.selections {
			if !tn.expanded[sel.EdgeID] {
				tn.expanded[sel.EdgeID] = true
				v.loadChildLevel(tn, sel)
			}
			if cl := tn.children[sel.EdgeID]; cl != nil {
				for _, cid := range cl.order.All() {
					if err := walk(cid, depth+1); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	roots := v.roots()
	if v.isVirtual {
		roots = []store.NodeID{v.virtualRoot}
	}
	for _, rid := range roots {
		if err := walk(rid, 0); err != nil {
			return err
		}
	}
	v.diffAndEmit(before)
	return nil
}

// CollapseAll collapses every edge currently open anywhere in the
// tree, back to the root item(s) alone.
func (v *View) CollapseAll() {
	before := v.allVisible()
	for _, tn := range v.tree {
		for edgeID := range tn.expanded {
			v.dropChildLevel(tn, edgeID)
		}
		tn.expanded = make(map[schema.EdgeID]bool)
	}
	v.diffAndEmit(before)
}

