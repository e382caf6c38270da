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

package rollup

import (
	"testing"

	"github.com/viewgraph/viewgraph/index"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
	"github.com/viewgraph/viewgraph/value"
)

const countTraverseSchemaJSON = `{
  "types": [
    {
      "name": "Dept",
      "properties": [{"name": "name", "type": "string"}],
      "edges": [{"name": "users", "target": "User", "reverse": "dept"}],
      "rollups": [{"name": "user_count", "kind": "count", "edge": "users"}]
    },
    {
      "name": "User",
      "properties": [{"name": "name", "type": "string"}],
      "edges": [{"name": "dept", "target": "Dept", "reverse": "users"}],
      "rollups": [{"name": "dept_name", "kind": "traverse", "edge": "dept", "property": "name"}]
    }
  ]
}`

// link replicates graphdb.Graph.Link's wiring order, so the rollup
// cache is exercised exactly the way the root package drives it
// without depending on that package here.
func link(t *testing.T, st *store.Store, idx *index.Manager, rc *Cache, src store.NodeID, edgeName string, tgt store.NodeID) {
	t.Helper()
	edgeID, created, err := st.Link(src, edgeName, tgt)
	if err != nil {
		t.Fatalf("unexpected link error: %v", err)
	}
	if !created {
		return
	}
	sn := st.Get(src)
	idx.OnLink(sn, edgeID)
	rc.Inverted().OnLink(src, sn.TypeID(), edgeID, tgt)
	if err := rc.RecomputeForEdge(sn, edgeID); err != nil {
		t.Fatalf("unexpected recompute error: %v", err)
	}
}

func newRollupFixture(t *testing.T, schemaJSON string) (*schema.Schema, *store.Store, *index.Manager, *Cache) {
	t.Helper()
	s, err := schema.Decode([]byte(schemaJSON))
	if err != nil {
		t.Fatalf("unexpected schema error: %v", err)
	}
	st := store.New(s)
	idx := index.NewManager(s)
	rc := New(st, idx)
	return s, st, idx, rc
}

func TestCountRollupInitializesToZero(t *testing.T) {
	s, st, _, rc := newRollupFixture(t, countTraverseSchemaJSON)
	dept, _ := s.Type("Dept")
	d, _ := st.Insert(dept.ID)
	if err := rc.InitializeRollups(d.ID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := rc.Get(d.ID(), "user_count")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Int() != 0 {
		t.Fatalf("expected user_count=0 before any links, got %v", v)
	}
}

func TestCountRollupTracksLinks(t *testing.T) {
	s, st, idx, rc := newRollupFixture(t, countTraverseSchemaJSON)
	dept, _ := s.Type("Dept")
	user, _ := s.Type("User")

	d, _ := st.Insert(dept.ID)
	rc.InitializeRollups(d.ID())
	idx.OnInsert(d)

	for i := 0; i < 3; i++ {
		u, _ := st.Insert(user.ID)
		rc.InitializeRollups(u.ID())
		idx.OnInsert(u)
		link(t, st, idx, rc, d.ID(), "users", u.ID())
	}

	v, err := rc.Get(d.ID(), "user_count")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Int() != 3 {
		t.Fatalf("expected user_count=3 after 3 links, got %v", v)
	}
}

func TestTraverseRollupCascadesOnSourceFieldChange(t *testing.T) {
	s, st, idx, rc := newRollupFixture(t, countTraverseSchemaJSON)
	dept, _ := s.Type("Dept")
	user, _ := s.Type("User")

	d, _ := st.Insert(dept.ID)
	st.SetProperty(d.ID(), "name", value.NewString("engineering"))
	rc.InitializeRollups(d.ID())
	idx.OnInsert(d)

	u, _ := st.Insert(user.ID)
	rc.InitializeRollups(u.ID())
	idx.OnInsert(u)
	link(t, st, idx, rc, u.ID(), "dept", d.ID())

	v, err := rc.Get(u.ID(), "dept_name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.String() != "engineering" {
		t.Fatalf("expected dept_name=engineering, got %v", v)
	}

	// changing the dept's name must cascade into the already-cached
	// traverse rollup on the linked user.
	old := st.Snapshot(d.ID())
	st.SetProperty(d.ID(), "name", value.NewString("platform"))
	idx.OnUpdate(st.Get(d.ID()), old)
	if err := rc.RecomputeTraverseDeps(d.ID(), "name"); err != nil {
		t.Fatalf("unexpected cascade error: %v", err)
	}

	v, err = rc.Get(u.ID(), "dept_name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.String() != "platform" {
		t.Fatalf("expected cascaded dept_name=platform, got %v", v)
	}
}

const firstLastSchemaJSON = `{
  "types": [
    {
      "name": "Thread",
      "edges": [{"name": "posts", "target": "Post", "reverse": "thread"}],
      "rollups": [
        {"name": "first_post", "kind": "first", "edge": "posts", "sort_field": "created_at", "direction": "desc"},
        {"name": "last_post", "kind": "last", "edge": "posts", "sort_field": "created_at", "direction": "desc"}
      ]
    },
    {
      "name": "Post",
      "properties": [{"name": "created_at", "type": "int"}],
      "edges": [{"name": "thread", "target": "Thread", "reverse": "posts"}],
      "indexes": [
        [{"field": "thread", "kind": "edge"}, {"field": "created_at", "direction": "desc"}]
      ]
    }
  ]
}`

func TestFirstLastWithCrossEntityIndex(t *testing.T) {
	s, st, idx, rc := newRollupFixture(t, firstLastSchemaJSON)
	thread, _ := s.Type("Thread")
	post, _ := s.Type("Post")

	th, _ := st.Insert(thread.ID)
	idx.OnInsert(th)

	createdAts := []int64{100, 300, 200}
	var ids []store.NodeID
	for _, ca := range createdAts {
		p, _ := st.Insert(post.ID)
		st.Update(p.ID(), map[string]value.Value{"created_at": value.NewInt(ca)})
		idx.OnInsert(p)
		ids = append(ids, p.ID())
	}
	for _, pid := range ids {
		edgeID, _, err := st.Link(pid, "thread", th.ID())
		if err != nil {
			t.Fatalf("unexpected link error: %v", err)
		}
		idx.OnLink(st.Get(pid), edgeID)
	}

	first, err := rc.Get(th.ID(), "first_post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// descending by created_at: 300 (ids[1]) sorts first.
	if first.Int() != int64(ids[1]) {
		t.Fatalf("expected first_post to resolve to the post with created_at=300 (id %d), got %v", ids[1], first)
	}

	last, err := rc.Get(th.ID(), "last_post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// descending order's last entry is the smallest created_at, 100 (ids[0]).
	if last.Int() != int64(ids[0]) {
		t.Fatalf("expected last_post to resolve to the post with created_at=100 (id %d), got %v", ids[0], last)
	}
}

func TestFirstLastNullWithoutCrossEntityIndex(t *testing.T) {
	noIndexSchema := `{
      "types": [
        {"name": "Thread", "edges": [{"name": "posts", "target": "Post", "reverse": "thread"}],
         "rollups": [{"name": "first_post", "kind": "first", "edge": "posts", "sort_field": "created_at", "direction": "desc"}]},
        {"name": "Post", "properties": [{"name": "created_at", "type": "int"}],
         "edges": [{"name": "thread", "target": "Thread", "reverse": "posts"}]}
      ]
    }`
	s, st, idx, rc := newRollupFixture(t, noIndexSchema)
	thread, _ := s.Type("Thread")
	post, _ := s.Type("Post")

	th, _ := st.Insert(thread.ID)
	idx.OnInsert(th)
	p, _ := st.Insert(post.ID)
	st.Update(p.ID(), map[string]value.Value{"created_at": value.NewInt(42)})
	idx.OnInsert(p)
	edgeID, _, _ := st.Link(p.ID(), "thread", th.ID())
	idx.OnLink(st.Get(p.ID()), edgeID)

	v, err := rc.Get(th.ID(), "first_post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsNull() {
		t.Fatalf("expected first_post to be null without a declared cross-entity index, got %v", v)
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	s, st, idx, rc := newRollupFixture(t, countTraverseSchemaJSON)
	dept, _ := s.Type("Dept")
	d, _ := st.Insert(dept.ID)
	rc.InitializeRollups(d.ID())
	idx.OnInsert(d)

	v1, _ := rc.Get(d.ID(), "user_count")
	if v1.Int() != 0 {
		t.Fatalf("expected 0, got %v", v1)
	}

	// directly mutate the cached entry's staleness via Invalidate, then
	// confirm Get recomputes rather than serving the stale value.
	rc.Invalidate(d.ID(), "user_count")
	v2, err := rc.Get(d.ID(), "user_count")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2.Int() != 0 {
		t.Fatalf("expected recomputed value to still be 0, got %v", v2)
	}
}

func TestRemoveNodeDropsCacheAndInvertedEntries(t *testing.T) {
	s, st, idx, rc := newRollupFixture(t, countTraverseSchemaJSON)
	dept, _ := s.Type("Dept")
	user, _ := s.Type("User")
	d, _ := st.Insert(dept.ID)
	rc.InitializeRollups(d.ID())
	idx.OnInsert(d)
	u, _ := st.Insert(user.ID)
	rc.InitializeRollups(u.ID())
	idx.OnInsert(u)
	link(t, st, idx, rc, u.ID(), "dept", d.ID())

	rc.RemoveNode(u.ID())
	if len(rc.Inverted().Sources(d.ID())) != 0 {
		t.Fatal("expected RemoveNode to strip u as a source from d's inverted bucket")
	}
}
