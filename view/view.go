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

// Package view implements the reactive tree (spec §4.8), the central
// engineering artifact of the system: a validated query bound to an
// index coverage, lazily materialized into a tree rooted at the
// result set, exposing a viewport that stays incrementally consistent
// with the graph under concurrent mutation via enter/leave/change/move
// deltas.
package view

import (
	"fmt"

	"github.com/viewgraph/viewgraph/ckey"
	"github.com/viewgraph/viewgraph/index"
	"github.com/viewgraph/viewgraph/query"
	"github.com/viewgraph/viewgraph/rollup"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/sortedset"
	"github.com/viewgraph/viewgraph/store"
	"github.com/viewgraph/viewgraph/tracker"
	"github.com/viewgraph/viewgraph/value"
)

// Item is one entry yielded by Items(), the public projection of a
// TreeNode.
type Item struct {
	ID          store.NodeID
	TypeID      schema.TypeID
	Depth       int
	HasChildren bool
	Expanded    []schema.EdgeID
}

// EnterFunc etc. are the view's four delta callback shapes (spec
// §4.8). Setting a new callback drops the previous one (spec §5).
type (
	EnterFunc  func(item Item, pos int)
	LeaveFunc  func(item Item, pos int)
	ChangeFunc func(item Item, pos int, old Item)
	MoveFunc   func(id store.NodeID, from, to int)
)

// TreeNode is one materialized node in the reactive tree (spec §3).
// It belongs to at most one View.
type TreeNode struct {
	id        store.NodeID
	typeID    schema.TypeID
	parent    store.NodeID
	hasParent bool
	depth     int
	hidden    bool // true only for a virtual root: not itself emitted

	selections []query.EdgeSelection        // edges selectable at this node
	expanded   map[schema.EdgeID]bool        // which selections are open
	children   map[schema.EdgeID]*childLevel // loaded child sets, by edge

	updateSub *tracker.Subscription // fires on_change when this node's properties change
}

type childLevel struct {
	sel   query.EdgeSelection
	order *sortedset.Set[store.NodeID]
	sub   *tracker.Subscription
}

func (n *TreeNode) selectionByName(name string) (query.EdgeSelection, bool) {
	for _, s := range n.selections {
		if s.Name == name {
			return s, true
		}
	}
	return query.EdgeSelection{}, false
}

// View is the reactive tree bound to a single query (spec §4.8).
type View struct {
	st  *store.Store
	idx *index.Manager
	rc  *rollup.Cache
	tr  *tracker.Tracker

	q *query.Query

	tree map[store.NodeID]*TreeNode

	// root-level ordering; unused when the query is rooted at a
	// specific non-virtual id (rootFixed is used instead) or virtual
	// (the hidden root TreeNode's own children carry the top level).
	// When rootWindowed is set, rootOrder holds only the materialized
	// [offset, offset+height) slice of the full match set, not every
	// matching root (spec §4.8 "Lazy construction").
	rootOrder    *sortedset.Set[store.NodeID]
	rootCmp      func(a, b store.NodeID) int
	rootCov      index.Coverage
	rootWindowed bool
	rootSub      *tracker.Subscription
	virtualRoot  store.NodeID
	isVirtual    bool
	rootFixed    store.NodeID
	hasFixed     bool

	offset int
	height int

	visibleCount int
	rootTotal    int // last RemainingCount seen from the root scan; valid only when rootWindowed

	onEnter  EnterFunc
	onLeave  LeaveFunc
	onChange ChangeFunc
	onMove   MoveFunc

	activated bool
}

// New constructs a View bound to q, without touching the tracker yet;
// call Activate to bind it live.
func New(st *store.Store, idx *index.Manager, rc *rollup.Cache, tr *tracker.Tracker, q *query.Query, height int) *View {
	return &View{
		st:     st,
		idx:    idx,
		rc:     rc,
		tr:     tr,
		q:      q,
		tree:   make(map[store.NodeID]*TreeNode),
		height: height,
	}
}

func compareValues(a, b value.Value, dir ckey.Direction) int {
	c := value.Compare(a, b)
	if dir == ckey.Desc {
		return -c
	}
	return c
}

func buildComparator(st *store.Store, sorts []index.SortSpec) func(a, b store.NodeID) int {
	return func(a, b store.NodeID) int {
		for _, s := range sorts {
			va, _ := st.Field(a, s.Field)
			vb, _ := st.Field(b, s.Field)
			if c := compareValues(va, vb, s.Dir); c != 0 {
				return c
			}
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
}

// newTreeNode constructs, registers (both in v.tree and with a
// per-node update subscription), and returns a TreeNode.
func (v *View) newTreeNode(id store.NodeID, typeID schema.TypeID, parent store.NodeID, hasParent bool, depth int, hidden bool, selections []query.EdgeSelection) *TreeNode {
	tn := &TreeNode{
		id: id, typeID: typeID, parent: parent, hasParent: hasParent,
		depth: depth, hidden: hidden, selections: selections,
		expanded: make(map[schema.EdgeID]bool),
		children: make(map[schema.EdgeID]*childLevel),
	}
	tn.updateSub = &tracker.Subscription{
		NodeIDs:  []store.NodeID{id},
		OnUpdate: func(n, old *store.Node) { v.onDescendantUpdate(tn, n, old) },
	}
	v.tr.Register(tn.updateSub)
	v.tree[id] = tn
	return tn
}

// deleteTreeNode tears down every subtree expanded under id, its
// update subscription, and removes it from v.tree.
func (v *View) deleteTreeNode(id store.NodeID) {
	tn := v.tree[id]
	if tn == nil {
		return
	}
	for edgeID := range tn.expanded {
		v.dropChildLevel(tn, edgeID)
	}
	if tn.updateSub != nil {
		v.tr.Unregister(tn.updateSub)
	}
	delete(v.tree, id)
}

// reloadRootWindow tears down every currently materialized root (and
// whatever it has expanded) and reloads exactly the [offset,
// offset+height) slice from the index scan backing v.rootCov,
// positioned by SkipToPosition so cost is O(log n + height), not
// O(result size) (spec §4.8 "Lazy construction"). v.rootTotal is
// refreshed from the scan's bounded RemainingCount on every call; when
// the coverage carries post-filters that count is the equality/range
// match count before the post-filter is applied, since applying it
// exactly would require reading every matching node up front -- the
// same approximation computeFirstLast's callers accept elsewhere.
func (v *View) reloadRootWindow() {
	for _, id := range v.rootOrder.All() {
		v.deleteTreeNode(id)
	}
	v.rootOrder = sortedset.New(v.rootCmp)

	scan := index.NewScan(v.rootCov)
	v.rootTotal = scan.RemainingCount()
	v.visibleCount = v.rootTotal

	if len(v.rootCov.PostFilters) == 0 {
		scan.SkipToPosition(v.offset)
		for v.rootOrder.Len() < v.height {
			id, ok := scan.Next()
			if !ok {
				break
			}
			n := v.st.Get(id)
			if n == nil {
				continue
			}
			v.rootOrder.Insert(id)
			v.newTreeNode(id, n.TypeID(), 0, false, 0, false, v.q.Edges)
		}
		return
	}

	matched := 0
	for {
		id, ok := scan.Next()
		if !ok {
			break
		}
		n := v.st.Get(id)
		if n == nil || !matchesFilters(n, v.rootCov.PostFilters) {
			continue
		}
		if matched < v.offset {
			matched++
			continue
		}
		v.rootOrder.Insert(id)
		v.newTreeNode(id, n.TypeID(), 0, false, 0, false, v.q.Edges)
		if v.rootOrder.Len() >= v.height {
			break
		}
	}
}

// posBase is the global-position offset that must be added to a
// dfsCollect-local index to recover a windowed view's true position
// in the full result (spec §4.8 "Viewport"). It is zero for the
// fixed-root and virtual-root cases, which still materialize their
// whole expanded subtree and so already carry global positions.
func (v *View) posBase() int {
	if v.rootWindowed {
		return v.offset
	}
	return 0
}

func matchesFilters(n *store.Node, filters []index.Filter) bool {
	for _, f := range filters {
		v, _ := n.Field(f.Field)
		if !f.Matches(v) {
			return false
		}
	}
	return true
}

// Activate binds the view to the tracker and loads the first
// viewport. Activation is O(1) aside from binding the root
// subscription and loading the viewport slice; immediate asks for
// already-expanded subtrees under the viewport to be loaded as well,
// which adds nothing at activation since no edge is expanded yet
// (spec §4.8 "activate(immediate)").
func (v *View) Activate(immediate bool) error {
	if v.activated {
		return fmt.Errorf("view: already activated")
	}
	v.activated = true

	if v.q.HasRootID && !v.q.Virtual {
		v.hasFixed = true
		v.rootFixed = v.q.RootID
		n := v.st.Get(v.rootFixed)
		if n == nil {
			return fmt.Errorf("view: node-not-found: %d", v.rootFixed)
		}
		v.newTreeNode(v.rootFixed, n.TypeID(), 0, false, 0, false, v.q.Edges)
		v.visibleCount = 1
		v.rootSub = &tracker.Subscription{
			NodeIDs:  []store.NodeID{v.rootFixed},
			OnUpdate: v.onRootFixedUpdate,
		}
		v.tr.Register(v.rootSub)
	} else if v.q.Virtual {
		v.isVirtual = true
		v.virtualRoot = v.q.RootID
		n := v.st.Get(v.virtualRoot)
		if n == nil {
			return fmt.Errorf("view: node-not-found: %d", v.virtualRoot)
		}
		v.newTreeNode(v.virtualRoot, n.TypeID(), 0, false, -1, true, v.q.Edges)
		v.visibleCount = 0
	} else {
		cov, ok := v.idx.SelectIndex(v.q.RootType, v.q.Filters, v.q.Sorts)
		if !ok {
			return fmt.Errorf("view: no-index-coverage: type %d", v.q.RootType)
		}
		v.rootCov = cov
		v.rootCmp = buildComparator(v.st, v.q.Sorts)
		v.rootWindowed = true
		v.rootOrder = sortedset.New(v.rootCmp)
		v.reloadRootWindow()
		v.rootSub = &tracker.Subscription{
			TypeID: v.q.RootType, HasType: true,
			OnInsert: v.onRootInsert,
			OnUpdate: v.onRootUpdate,
			OnDelete: v.onRootDelete,
		}
		v.tr.Register(v.rootSub)
	}

	if immediate {
		v.materializeViewport()
	}
	return nil
}

// Deinit tears down every subscription this view holds, root and
// nested, releasing its reactive tree.
func (v *View) Deinit() {
	if v.rootSub != nil {
		v.tr.Unregister(v.rootSub)
	}
	for _, tn := range v.tree {
		if tn.updateSub != nil {
			v.tr.Unregister(tn.updateSub)
		}
		for _, cl := range tn.children {
			if cl.sub != nil {
				v.tr.Unregister(cl.sub)
			}
		}
	}
	v.tree = make(map[store.NodeID]*TreeNode)
	v.rootOrder = nil
	v.visibleCount = 0
	v.rootWindowed = false
}

// Total returns the current count of visible items across the
// expanded tree in O(1) (spec §4.8).
func (v *View) Total() int { return v.visibleCount }

func (v *View) Offset() int { return v.offset }
func (v *View) Height() int { return v.height }

// ScrollTo clamps offset to [0, max(0, total-height)] (spec §4.8
// "Viewport").
func (v *View) ScrollTo(p int) {
	max := v.visibleCount - v.height
	if max < 0 {
		max = 0
	}
	switch {
	case p < 0:
		p = 0
	case p > max:
		p = max
	}
	if p == v.offset && v.activated {
		return
	}
	v.offset = p
	if v.rootWindowed {
		v.reloadRootWindow()
	}
}

// Move is ScrollTo(offset + delta).
func (v *View) Move(delta int) { v.ScrollTo(v.offset + delta) }

// SetHeight changes the viewport height, re-clamping the offset and,
// for a windowed root scan, reloading to match the new height.
func (v *View) SetHeight(h int) {
	if h < 0 {
		h = 0
	}
	if h == v.height {
		return
	}
	v.height = h
	if v.rootWindowed {
		v.reloadRootWindow()
	}
	v.ScrollTo(v.offset)
}

// roots returns the view's top-level ordered id sequence: a fixed
// single id, the sorted multi-root scan, or (for a virtual root) the
// concatenation of its expanded edges' child sequences.
func (v *View) roots() []store.NodeID {
	switch {
	case v.hasFixed:
		return []store.NodeID{v.rootFixed}
	case v.isVirtual:
		return nil // virtual root's children are walked directly by dfs
	default:
		return v.rootOrder.All()
	}
}

// dfsCollect walks the visible tree in pre-order, appending every
// visible item to out, stopping once len(out) would exceed limit
// (pass -1 for no limit). Iteration cost is proportional to the
// number of items actually visited, not the full result size.
func (v *View) dfsCollect(out *[]Item, limit int) {
	emit := func(tn *TreeNode) bool {
		if !tn.hidden {
			*out = append(*out, v.itemOf(tn))
		}
		return limit < 0 || len(*out) < limit
	}
	var walk func(tn *TreeNode) bool
	walk = func(tn *TreeNode) bool {
		if !emit(tn) {
			return false
		}
		for _, sel := range tn.selections {
			if !tn.expanded[sel.EdgeID] {
				continue
			}
			cl := tn.children[sel.EdgeID]
			if cl == nil {
				continue
			}
			for _, cid := range cl.order.All() {
				ctn := v.tree[cid]
				if ctn == nil {
					continue
				}
				if !walk(ctn) {
					return false
				}
			}
		}
		return true
	}

	if v.isVirtual {
		root := v.tree[v.virtualRoot]
		if root == nil {
			return
		}
		for _, sel := range root.selections {
			if !root.expanded[sel.EdgeID] {
				continue
			}
			cl := root.children[sel.EdgeID]
			if cl == nil {
				continue
			}
			for _, cid := range cl.order.All() {
				ctn := v.tree[cid]
				if ctn == nil {
					continue
				}
				if !walk(ctn) {
					return
				}
			}
		}
		return
	}

	for _, id := range v.roots() {
		tn := v.tree[id]
		if tn == nil {
			continue
		}
		if !walk(tn) {
			return
		}
	}
}

func (v *View) itemOf(tn *TreeNode) Item {
	hasChildren := false
	var expanded []schema.EdgeID
	for _, sel := range tn.selections {
		if tn.expanded[sel.EdgeID] {
			expanded = append(expanded, sel.EdgeID)
			if cl := tn.children[sel.EdgeID]; cl != nil && cl.order.Len() > 0 {
				hasChildren = true
			}
		}
	}
	return Item{ID: tn.id, TypeID: tn.typeID, Depth: tn.depth, HasChildren: hasChildren, Expanded: expanded}
}

// Items returns the current viewport slice: at most Height() items
// starting at Offset(), in the tree's pre-order sequence. When the
// root set is windowed, v.tree already holds only the [offset,
// offset+height) slice, so dfsCollect's output starts at the viewport
// rather than at position zero of the full result.
func (v *View) Items() []Item {
	var all []Item
	if v.rootWindowed {
		v.dfsCollect(&all, v.height)
		if len(all) > v.height {
			all = all[:v.height]
		}
		return all
	}
	v.dfsCollect(&all, v.offset+v.height)
	if v.offset >= len(all) {
		return nil
	}
	end := v.offset + v.height
	if end > len(all) {
		end = len(all)
	}
	return all[v.offset:end]
}

// materializeViewport is Activate(immediate)'s eager-loading step. It
// does nothing: at activation time no edge is expanded yet, so there
// is nothing beneath the root items to load, and all nested loading
// happens in explicit Expand calls (spec §4.8 "Lazy construction").
func (v *View) materializeViewport() {}

// IndexOfID returns the current viewport-independent position of id
// in the full visible sequence, or -1 if id is not currently visible
// (which, for a windowed root scan, includes ids outside the
// materialized window even though they match the query).
func (v *View) IndexOfID(id store.NodeID) int {
	var all []Item
	v.dfsCollect(&all, -1)
	base := v.posBase()
	for i, it := range all {
		if it.ID == id {
			return base + i
		}
	}
	return -1
}

func (v *View) allVisible() []Item {
	var all []Item
	v.dfsCollect(&all, -1)
	return all
}

// OnEnter, OnLeave, OnChange, OnMove install delta callbacks,
// replacing any previously installed one.
func (v *View) OnEnter(f EnterFunc)   { v.onEnter = f }
func (v *View) OnLeave(f LeaveFunc)   { v.onLeave = f }
func (v *View) OnChange(f ChangeFunc) { v.onChange = f }
func (v *View) OnMove(f MoveFunc)     { v.onMove = f }

func (v *View) emitEnter(it Item, pos int) {
	if v.onEnter != nil && pos >= v.offset && pos < v.offset+v.height {
		v.onEnter(it, pos)
	}
}
func (v *View) emitLeave(it Item, pos int) {
	if v.onLeave != nil && pos >= v.offset && pos < v.offset+v.height {
		v.onLeave(it, pos)
	}
}
func (v *View) emitChange(it Item, pos int, old Item) {
	if v.onChange != nil && pos >= v.offset && pos < v.offset+v.height {
		v.onChange(it, pos, old)
	}
}
func (v *View) emitMove(id store.NodeID, from, to int) {
	if v.onMove != nil {
		v.onMove(id, from, to)
	}
}
