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
	"testing"

	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/value"
)

const testSchemaJSON = `{
  "types": [
    {
      "name": "Dept",
      "properties": [{"name": "name", "type": "string"}],
      "edges": [{"name": "users", "target": "User", "reverse": "dept"}]
    },
    {
      "name": "User",
      "properties": [{"name": "name", "type": "string"}, {"name": "age", "type": "int"}],
      "edges": [
        {"name": "dept", "target": "Dept", "reverse": "users"},
        {"name": "posts", "target": "Post", "reverse": "author", "sort": {"property": "created_at", "direction": "desc"}}
      ]
    },
    {
      "name": "Post",
      "properties": [{"name": "title", "type": "string"}, {"name": "created_at", "type": "int"}],
      "edges": [{"name": "author", "target": "User", "reverse": "posts"}]
    }
  ]
}`

func newTestStore(t *testing.T) (*Store, *schema.Schema) {
	t.Helper()
	s, err := schema.Decode([]byte(testSchemaJSON))
	if err != nil {
		t.Fatalf("unexpected schema decode error: %v", err)
	}
	return New(s), s
}

func TestInsertAssignsTypeAndID(t *testing.T) {
	st, s := newTestStore(t)
	dept, _ := s.Type("Dept")
	n1, err := st.Insert(dept.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n2, err := st.Insert(dept.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n1.ID() == n2.ID() {
		t.Fatal("expected distinct node ids")
	}
	if n1.TypeID() != dept.ID {
		t.Fatalf("expected type id %d, got %d", dept.ID, n1.TypeID())
	}
	if st.Count() != 2 {
		t.Fatalf("expected count 2, got %d", st.Count())
	}
}

func TestInsertUnknownTypeRejected(t *testing.T) {
	st, _ := newTestStore(t)
	if _, err := st.Insert(schema.TypeID(999)); err == nil {
		t.Fatal("expected error for unknown type id")
	}
}

func TestSetPropertyReturnsOld(t *testing.T) {
	st, s := newTestStore(t)
	user, _ := s.Type("User")
	n, _ := st.Insert(user.ID)

	_, hadOld, err := st.SetProperty(n.ID(), "name", value.NewString("alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hadOld {
		t.Fatal("expected no old value on first set")
	}

	old, hadOld, err := st.SetProperty(n.ID(), "name", value.NewString("bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hadOld || old.String() != "alice" {
		t.Fatalf("expected old value alice, got %v, hadOld=%v", old, hadOld)
	}
	cur, _ := st.Field(n.ID(), "name")
	if cur.String() != "bob" {
		t.Fatalf("expected current value bob, got %v", cur)
	}
}

func TestUpdateReturnsSnapshotAndMerges(t *testing.T) {
	st, s := newTestStore(t)
	user, _ := s.Type("User")
	n, _ := st.Insert(user.ID)
	st.SetProperty(n.ID(), "name", value.NewString("alice"))

	old, cur, err := st.Update(n.ID(), map[string]value.Value{
		"name": value.NewString("alice2"),
		"age":  value.NewInt(30),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oldName, _ := old.Property("name")
	if oldName.String() != "alice" {
		t.Fatalf("expected snapshot to retain pre-update name alice, got %v", oldName)
	}
	curName, _ := cur.Property("name")
	if curName.String() != "alice2" {
		t.Fatalf("expected updated name alice2, got %v", curName)
	}
	curAge, _ := cur.Property("age")
	if curAge.Int() != 30 {
		t.Fatalf("expected age 30, got %v", curAge)
	}
}

func TestSnapshotIsolatesFutureMutation(t *testing.T) {
	st, s := newTestStore(t)
	user, _ := s.Type("User")
	n, _ := st.Insert(user.ID)
	st.SetProperty(n.ID(), "name", value.NewString("alice"))

	snap := st.Snapshot(n.ID())
	st.SetProperty(n.ID(), "name", value.NewString("bob"))

	snapName, _ := snap.Property("name")
	if snapName.String() != "alice" {
		t.Fatalf("expected snapshot to retain alice after later mutation, got %v", snapName)
	}
}

func TestFieldFallsBackToRollup(t *testing.T) {
	st, s := newTestStore(t)
	dept, _ := s.Type("Dept")
	n, _ := st.Insert(dept.ID)

	if _, ok := st.Field(n.ID(), "user_count"); ok {
		t.Fatal("did not expect user_count to resolve before it's set")
	}
	st.SetRollup(n.ID(), "user_count", value.NewInt(3))
	v, ok := st.Field(n.ID(), "user_count")
	if !ok || v.Int() != 3 {
		t.Fatalf("expected Field to fall back to rollup value 3, got %v, %v", v, ok)
	}

	// a declared property with the same name must win over a rollup.
	st.SetProperty(n.ID(), "user_count", value.NewInt(99))
	v, ok = st.Field(n.ID(), "user_count")
	if !ok || v.Int() != 99 {
		t.Fatalf("expected property to take precedence over rollup, got %v", v)
	}
}

func TestLinkIsIdempotentAndBidirectional(t *testing.T) {
	st, s := newTestStore(t)
	dept, _ := s.Type("Dept")
	user, _ := s.Type("User")
	d, _ := st.Insert(dept.ID)
	u, _ := st.Insert(user.ID)

	_, created, err := st.Link(d.ID(), "users", u.ID())
	if err != nil || !created {
		t.Fatalf("expected first link to be created, err=%v created=%v", err, created)
	}
	_, created, err = st.Link(d.ID(), "users", u.ID())
	if err != nil || created {
		t.Fatalf("expected relinking the same pair to be a no-op, err=%v created=%v", err, created)
	}

	if !d.Targets(mustEdge(t, s, "Dept", "users").ID).Contains(u.ID()) {
		t.Fatal("expected forward edge to contain target")
	}
	if !u.Targets(mustEdge(t, s, "User", "dept").ID).Contains(d.ID()) {
		t.Fatal("expected reverse edge to contain source")
	}
}

func TestLinkTypeMismatchRejected(t *testing.T) {
	st, s := newTestStore(t)
	dept, _ := s.Type("Dept")
	d1, _ := st.Insert(dept.ID)
	d2, _ := st.Insert(dept.ID)
	if _, _, err := st.Link(d1.ID(), "users", d2.ID()); err == nil {
		t.Fatal("expected error linking a Dept where a User target is expected")
	}
}

func TestUnlinkRemovesBothDirections(t *testing.T) {
	st, s := newTestStore(t)
	dept, _ := s.Type("Dept")
	user, _ := s.Type("User")
	d, _ := st.Insert(dept.ID)
	u, _ := st.Insert(user.ID)
	st.Link(d.ID(), "users", u.ID())

	_, removed, err := st.Unlink(d.ID(), "users", u.ID())
	if err != nil || !removed {
		t.Fatalf("expected unlink to remove the link, err=%v removed=%v", err, removed)
	}
	if d.Targets(mustEdge(t, s, "Dept", "users").ID).Contains(u.ID()) {
		t.Fatal("expected forward edge to no longer contain target")
	}
	if u.Targets(mustEdge(t, s, "User", "dept").ID).Contains(d.ID()) {
		t.Fatal("expected reverse edge to no longer contain source")
	}

	_, removed, err = st.Unlink(d.ID(), "users", u.ID())
	if err != nil || removed {
		t.Fatalf("expected second unlink to report not-removed, err=%v removed=%v", err, removed)
	}
}

func TestSortedTargetListOrdering(t *testing.T) {
	st, s := newTestStore(t)
	user, _ := s.Type("User")
	post, _ := s.Type("Post")
	u, _ := st.Insert(user.ID)

	p1, _ := st.Insert(post.ID)
	st.SetProperty(p1.ID(), "created_at", value.NewInt(100))
	p2, _ := st.Insert(post.ID)
	st.SetProperty(p2.ID(), "created_at", value.NewInt(300))
	p3, _ := st.Insert(post.ID)
	st.SetProperty(p3.ID(), "created_at", value.NewInt(200))

	st.Link(u.ID(), "posts", p1.ID())
	st.Link(u.ID(), "posts", p2.ID())
	st.Link(u.ID(), "posts", p3.ID())

	postsEdge := mustEdge(t, s, "User", "posts")
	targets := u.Targets(postsEdge.ID)
	if targets.Len() != 3 {
		t.Fatalf("expected 3 targets, got %d", targets.Len())
	}
	// sort is descending by created_at: 300, 200, 100
	if targets.At(0) != p2.ID() || targets.At(1) != p3.ID() || targets.At(2) != p1.ID() {
		t.Fatalf("expected descending created_at order [p2,p3,p1], got [%d,%d,%d]", targets.At(0), targets.At(1), targets.At(2))
	}
}

func TestDeleteDetachesOutgoingEdgesFromReverseLists(t *testing.T) {
	st, s := newTestStore(t)
	dept, _ := s.Type("Dept")
	user, _ := s.Type("User")
	d, _ := st.Insert(dept.ID)
	u, _ := st.Insert(user.ID)
	st.Link(d.ID(), "users", u.ID())

	if err := st.Delete(u.ID()); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	usersEdge := mustEdge(t, s, "Dept", "users")
	if d.Targets(usersEdge.ID).Contains(u.ID()) {
		t.Fatal("expected deleting a node to detach it from the reverse edge list of its own outgoing targets")
	}
	if st.Get(u.ID()) != nil {
		t.Fatal("expected deleted node to no longer be retrievable")
	}
}

func TestDeleteUnknownNodeRejected(t *testing.T) {
	st, _ := newTestStore(t)
	if err := st.Delete(NodeID(12345)); err == nil {
		t.Fatal("expected error deleting a non-existent node")
	}
}

func mustEdge(t *testing.T, s *schema.Schema, typeName, edgeName string) schema.EdgeDef {
	t.Helper()
	td, ok := s.Type(typeName)
	if !ok {
		t.Fatalf("unknown type %q", typeName)
	}
	ed, ok := td.Edge(edgeName)
	if !ok {
		t.Fatalf("unknown edge %q on %q", edgeName, typeName)
	}
	return ed
}
