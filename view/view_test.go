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

// Tests here drive the reactive tree through the public graphdb.Graph
// surface rather than constructing a view.View directly: view.View's
// constructor takes package-private collaborators (store.Store,
// index.Manager, rollup.Cache, tracker.Tracker) that only graphdb
// wires together, and going through Graph exercises the same event
// pipeline a real caller would.
package view_test

import (
	"fmt"
	"log"
	"testing"

	"github.com/viewgraph/viewgraph/graphdb"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
	"github.com/viewgraph/viewgraph/value"
	"github.com/viewgraph/viewgraph/view"
)

const rootItemSchemaJSON = `{
  "types": [
    {
      "name": "Root",
      "properties": [{"name": "priority", "type": "int"}],
      "edges": [{"name": "children", "target": "Item", "reverse": "parent", "sort": {"property": "priority", "direction": "asc"}}],
      "indexes": [[{"field": "priority", "direction": "asc"}]]
    },
    {
      "name": "Item",
      "properties": [{"name": "priority", "type": "int"}],
      "edges": [{"name": "parent", "target": "Root", "reverse": "children"}]
    }
  ]
}`

func newRootItemGraph(t *testing.T) *graphdb.Graph {
	t.Helper()
	s, err := schema.Decode([]byte(rootItemSchemaJSON))
	if err != nil {
		t.Fatalf("unexpected schema decode error: %v", err)
	}
	return graphdb.New(s, log.Default())
}

// S1: a flat root-level view stays sorted as a property driving the
// sort key changes, emitting on_move for the node that crossed other
// members' positions (spec §8 "S1").
func TestS1RootLevelMoveOnSortKeyChange(t *testing.T) {
	g := newRootItemGraph(t)
	r1, _ := g.Insert("Root")
	r2, _ := g.Insert("Root")
	r3, _ := g.Insert("Root")
	g.SetProperty(r1, "priority", value.NewInt(10))
	g.SetProperty(r2, "priority", value.NewInt(20))
	g.SetProperty(r3, "priority", value.NewInt(30))

	q, err := g.Query([]byte(`{"root":"Root","sort":["priority"]}`))
	if err != nil {
		t.Fatalf("unexpected query decode error: %v", err)
	}
	v, err := g.View(q, 10)
	if err != nil {
		t.Fatalf("unexpected view activation error: %v", err)
	}
	defer v.Deinit()

	ids := func() []store.NodeID {
		var out []store.NodeID
		for _, it := range v.Items() {
			out = append(out, it.ID)
		}
		return out
	}
	if got := ids(); len(got) != 3 || got[0] != r1 || got[1] != r2 || got[2] != r3 {
		t.Fatalf("expected insertion order [r1,r2,r3], got %v", got)
	}

	var moveFrom, moveTo int
	var moveID store.NodeID
	var moved bool
	v.OnMove(func(id store.NodeID, from, to int) {
		moveID, moveFrom, moveTo, moved = id, from, to, true
	})

	if err := g.SetProperty(r1, "priority", value.NewInt(25)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !moved || moveID != r1 || moveFrom != 0 || moveTo != 1 {
		t.Fatalf("expected on_move(r1, 0, 1), got id=%v from=%d to=%d moved=%v", moveID, moveFrom, moveTo, moved)
	}
	if got := ids(); len(got) != 3 || got[0] != r2 || got[1] != r1 || got[2] != r3 {
		t.Fatalf("expected order [r2,r1,r3] after the move, got %v", got)
	}
}

// S2: linking a new child into an already-expanded edge inserts it at
// its comparator position (matching the lazy loader's own key
// construction, spec §9's "S2" regression) and fires on_enter at that
// exact index; collapsing and re-expanding reproduces the same order.
func TestS2LinkIntoExpandedEdgeInsertsAtSortedPosition(t *testing.T) {
	g := newRootItemGraph(t)
	root, _ := g.Insert("Root")
	c1, _ := g.Insert("Item")
	c2, _ := g.Insert("Item")
	c3, _ := g.Insert("Item")
	g.SetProperty(c1, "priority", value.NewInt(10))
	g.SetProperty(c2, "priority", value.NewInt(30))
	g.SetProperty(c3, "priority", value.NewInt(40))
	g.Link(root, "children", c1)
	g.Link(root, "children", c2)
	g.Link(root, "children", c3)

	q, err := g.Query([]byte(fmt.Sprintf(`{"root":"Root","id":%d,"edges":[{"name":"children","sort":["priority"]}]}`, root)))
	if err != nil {
		t.Fatalf("unexpected query decode error: %v", err)
	}
	v, err := g.View(q, 10)
	if err != nil {
		t.Fatalf("unexpected view activation error: %v", err)
	}
	defer v.Deinit()

	if v.Total() != 1 {
		t.Fatalf("expected total 1 (just the fixed root) before expanding, got %d", v.Total())
	}
	if err := v.ExpandByID(root, "children"); err != nil {
		t.Fatalf("unexpected expand error: %v", err)
	}
	if v.Total() != 4 {
		t.Fatalf("expected total 4 (root + 3 children) after expand, got %d", v.Total())
	}

	var enterID store.NodeID
	var enterPos int
	var entered bool
	v.OnEnter(func(it view.Item, pos int) {
		enterID, enterPos, entered = it.ID, pos, true
	})

	c4, _ := g.Insert("Item")
	g.SetProperty(c4, "priority", value.NewInt(20)) // between c1 (10) and c2 (30)
	if err := g.Link(root, "children", c4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entered || enterID != c4 || enterPos != 2 {
		t.Fatalf("expected on_enter(c4, index=2), got id=%v pos=%d entered=%v", enterID, enterPos, entered)
	}
	if v.Total() != 5 {
		t.Fatalf("expected total 5 after linking c4, got %d", v.Total())
	}

	before := itemIDs(v)
	if err := v.CollapseByID(root, "children"); err != nil {
		t.Fatalf("unexpected collapse error: %v", err)
	}
	if err := v.ExpandByID(root, "children"); err != nil {
		t.Fatalf("unexpected re-expand error: %v", err)
	}
	after := itemIDs(v)
	if len(before) != len(after) {
		t.Fatalf("expected the same number of items after collapse/re-expand, got %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("expected the same ordered sequence after collapse/re-expand, got %v vs %v", before, after)
		}
	}
}

const parentChildSchemaJSON = `{
  "types": [
    {"name": "Parent", "properties": [], "edges": [{"name": "children", "target": "Child", "reverse": "parent"}]},
    {"name": "Child", "properties": [], "edges": [{"name": "parent", "target": "Parent", "reverse": "children"}]}
  ]
}`

// S3: a virtual root is never itself emitted; its selected edges form
// the top level, and a sibling linking to the same parent through a
// different subscription must not leak into this view (spec §8 "S3").
func TestS3VirtualRootExcludesSelfAndSiblingLinks(t *testing.T) {
	s, err := schema.Decode([]byte(parentChildSchemaJSON))
	if err != nil {
		t.Fatalf("unexpected schema decode error: %v", err)
	}
	g := graphdb.New(s, log.Default())

	parent, _ := g.Insert("Parent")
	child1, _ := g.Insert("Child")
	if err := g.Link(child1, "parent", parent); err != nil {
		t.Fatalf("unexpected link error: %v", err)
	}

	q, err := g.Query([]byte(fmt.Sprintf(`{"root":"Child","id":%d,"virtual":true,"edges":[{"name":"parent"}]}`, child1)))
	if err != nil {
		t.Fatalf("unexpected query decode error: %v", err)
	}
	v, err := g.View(q, 10)
	if err != nil {
		t.Fatalf("unexpected view activation error: %v", err)
	}
	defer v.Deinit()

	if v.Total() != 0 {
		t.Fatalf("expected total 0 before expanding the virtual root's edge, got %d", v.Total())
	}
	if err := v.ExpandByID(child1, "parent"); err != nil {
		t.Fatalf("unexpected expand error: %v", err)
	}
	if v.Total() != 1 {
		t.Fatalf("expected total 1 (just the parent; child1 stays hidden), got %d", v.Total())
	}
	items := v.Items()
	if len(items) != 1 || items[0].ID != parent {
		t.Fatalf("expected the single visible item to be the parent, got %+v", items)
	}

	child2, _ := g.Insert("Child")
	if err := g.Link(child2, "parent", parent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Total() != 1 {
		t.Fatalf("expected total to stay 1 after an unrelated sibling links to the same parent, got %d", v.Total())
	}
}

func itemIDs(v *view.View) []store.NodeID {
	var out []store.NodeID
	for _, it := range v.Items() {
		out = append(out, it.ID)
	}
	return out
}
