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

// Package graphdb is the public entry point: it wires the store,
// index manager, rollup cache and change tracker together behind the
// operations spec §4 describes (insert/update/link/unlink/delete,
// property reads, watches and views), and owns the delete protocol's
// synthetic-unlink-before-delete sequencing (spec §4.7).
package graphdb

import (
	"fmt"
	"log"

	"github.com/dchest/siphash"
	"github.com/google/uuid"

	"github.com/viewgraph/viewgraph/index"
	"github.com/viewgraph/viewgraph/query"
	"github.com/viewgraph/viewgraph/rollup"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
	"github.com/viewgraph/viewgraph/tracker"
	"github.com/viewgraph/viewgraph/treepath"
	"github.com/viewgraph/viewgraph/value"
	"github.com/viewgraph/viewgraph/view"
)

// ErrorKind classifies a graphdb error (spec §7), distinguishing
// caller mistakes from internal invariants.
type ErrorKind uint8

const (
	ErrUnknown ErrorKind = iota
	ErrNodeNotFound
	ErrUnknownType
	ErrEdgeNotFound
	ErrEdgeTargetMismatch
	ErrNoIndexCoverage
	ErrInvalidQuery
	ErrUnknownProperty
)

// Error is the graphdb error type: every public operation that can
// fail returns one, carrying a Kind a caller can switch on without
// parsing message text.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Graph binds a store, its index manager, rollup cache and change
// tracker into the single coherent unit spec §3's "Store" composition
// describes: every mutation here keeps all four consistent before
// returning, matching the teacher's db/vm separation of durable state
// from derived structures generalized to this domain's secondary
// indexes and rollups.
type Graph struct {
	schema  *schema.Schema
	st      *store.Store
	idx     *index.Manager
	rollups *rollup.Cache
	tracker *tracker.Tracker
	log     *log.Logger

	// instanceKey seeds a SipHash-2-4 keyed hash used to shard
	// diagnostic counters per Graph instance (e.g. future metrics
	// buckets); it has no effect on correctness.
	instanceKey [16]byte
}

// New constructs a Graph bound to s, with empty storage. logger
// receives tracker callback panics and other diagnostics; nil selects
// log.Default().
func New(s *schema.Schema, logger *log.Logger) *Graph {
	if logger == nil {
		logger = log.Default()
	}
	st := store.New(s)
	idx := index.NewManager(s)
	instanceID := uuid.New()
	var key [16]byte
	copy(key[:], instanceID[:])
	return &Graph{
		schema:      s,
		st:          st,
		idx:         idx,
		rollups:     rollup.New(st, idx),
		tracker:     tracker.New(logger),
		log:         logger,
		instanceKey: key,
	}
}

// instanceHash is a SipHash-2-4 of id's decimal form, keyed per Graph
// instance; ShortID builds on it so a printed id stays stable within
// one Graph without exposing raw NodeId ordering.
func (g *Graph) instanceHash(id store.NodeID) uint64 {
	k0 := uint64(g.instanceKey[0]) | uint64(g.instanceKey[1])<<8 | uint64(g.instanceKey[2])<<16 | uint64(g.instanceKey[3])<<24
	k1 := uint64(g.instanceKey[8]) | uint64(g.instanceKey[9])<<8 | uint64(g.instanceKey[10])<<16 | uint64(g.instanceKey[11])<<24
	return siphash.Hash(k0, k1, []byte(fmt.Sprintf("%d", id)))
}

// ShortID returns an opaque, instance-stable identifier for id
// suitable for printing in logs/diagnostics without revealing NodeId
// magnitude ordering.
func (g *Graph) ShortID(id store.NodeID) string {
	return fmt.Sprintf("%016x", g.instanceHash(id))
}

// Schema returns the bound schema.
func (g *Graph) Schema() *schema.Schema { return g.schema }

// Insert creates a new node of the given type, initializing every
// rollup it declares before returning (spec §4.5: readers must never
// observe a missing rollup) and notifying the index manager and
// tracker.
func (g *Graph) Insert(typeName string) (store.NodeID, error) {
	td, ok := g.schema.Type(typeName)
	if !ok {
		return 0, wrap(ErrUnknownType, fmt.Errorf("graphdb: unknown-type: %q", typeName))
	}
	n, err := g.st.Insert(td.ID)
	if err != nil {
		return 0, wrap(ErrUnknown, err)
	}
	if err := g.rollups.InitializeRollups(n.ID()); err != nil {
		return 0, wrap(ErrUnknown, err)
	}
	g.idx.OnInsert(n)
	g.tracker.NotifyInsert(n)
	return n.ID(), nil
}

// SetProperty sets a single property on id, the reactive path spec §9
// requires (as opposed to a bulk struct update), cascading index
// maintenance, dependent-rollup recomputation and the on_update
// notification (spec §4.3, §4.5, §4.7).
func (g *Graph) SetProperty(id store.NodeID, name string, v value.Value) error {
	old := g.st.Snapshot(id)
	if old == nil {
		return wrap(ErrNodeNotFound, fmt.Errorf("graphdb: node-not-found: %d", id))
	}
	if _, _, err := g.st.SetProperty(id, name, v); err != nil {
		return wrap(ErrNodeNotFound, err)
	}
	n := g.st.Get(id)

	g.idx.OnUpdate(n, old)
	g.resortEdgeTargets(id, n.TypeID(), name)
	if err := g.rollups.RecomputeTraverseDeps(id, name); err != nil {
		return wrap(ErrUnknown, err)
	}
	g.tracker.NotifyUpdate(n, old)
	return nil
}

// resortEdgeTargets repositions id within every source's sorted edge
// target list whose sort spec reads propName off id's type (spec
// §4.8 "Edge target re-sort"): looked up via the schema's
// edge_sort_index and the inverted edge index's O(S) source walk
// rather than an O(N) scan of every node carrying such an edge.
func (g *Graph) resortEdgeTargets(id store.NodeID, typeID schema.TypeID, propName string) {
	targets := g.schema.EdgeSortSources(typeID, propName)
	if len(targets) == 0 {
		return
	}
	for _, ref := range g.rollups.Inverted().Sources(id) {
		for _, est := range targets {
			if ref.Edge == est.EdgeID {
				g.st.RepositionTarget(ref.Source, est.EdgeID, id)
				break
			}
		}
	}
}

// Update merges props into id's property map in one step (spec §4.3
// "Update"), running the same index/rollup/tracker notification
// pipeline as SetProperty but amortized across every changed field.
func (g *Graph) Update(id store.NodeID, props map[string]value.Value) error {
	old, n, err := g.st.Update(id, props)
	if err != nil {
		return wrap(ErrNodeNotFound, err)
	}
	g.idx.OnUpdate(n, old)
	for name := range props {
		g.resortEdgeTargets(id, n.TypeID(), name)
		if err := g.rollups.RecomputeTraverseDeps(id, name); err != nil {
			return wrap(ErrUnknown, err)
		}
	}
	g.tracker.NotifyUpdate(n, old)
	return nil
}

// Link links src -> tgt via edgeName, maintaining indexes on both
// endpoints, recomputing every rollup the edge feeds, and notifying
// the tracker (spec §4.3, §4.5, §4.7).
func (g *Graph) Link(src store.NodeID, edgeName string, tgt store.NodeID) error {
	edgeID, created, err := g.st.Link(src, edgeName, tgt)
	if err != nil {
		return classifyLinkErr(err)
	}
	if !created {
		return nil
	}
	sn := g.st.Get(src)
	g.idx.OnLink(sn, edgeID)
	g.rollups.Inverted().OnLink(src, sn.TypeID(), edgeID, tgt)
	if err := g.rollups.RecomputeForEdge(sn, edgeID); err != nil {
		return wrap(ErrUnknown, err)
	}
	g.tracker.NotifyLink(src, edgeID, tgt)
	return nil
}

// Unlink removes the link src -(edgeName)-> tgt (spec §4.3).
func (g *Graph) Unlink(src store.NodeID, edgeName string, tgt store.NodeID) error {
	edgeID, removed, err := g.st.Unlink(src, edgeName, tgt)
	if err != nil {
		return classifyLinkErr(err)
	}
	if !removed {
		return nil
	}
	sn := g.st.Get(src)
	g.idx.OnUnlink(sn, edgeID)
	g.rollups.Inverted().OnUnlink(src, edgeID, tgt)
	if err := g.rollups.RecomputeForEdge(sn, edgeID); err != nil {
		return wrap(ErrUnknown, err)
	}
	g.tracker.NotifyUnlink(src, edgeID, tgt)
	return nil
}

// Delete removes a node, first emitting synthetic unlink events for
// every incoming edge so subscribers never observe a dangling
// reference (spec §4.7 "Delete protocol"), then removing it from
// every index and the rollup cache, and finally notifying on_delete.
func (g *Graph) Delete(id store.NodeID) error {
	n := g.st.Get(id)
	if n == nil {
		return wrap(ErrNodeNotFound, fmt.Errorf("graphdb: node-not-found: %d", id))
	}

	for _, ref := range g.rollups.Inverted().Sources(id) {
		g.tracker.NotifyUnlink(ref.Source, ref.Edge, id)
	}
	g.rollups.Inverted().RemoveTarget(id)

	g.idx.OnDelete(n)
	g.rollups.RemoveNode(id)
	if err := g.st.Delete(id); err != nil {
		return wrap(ErrUnknown, err)
	}
	g.tracker.NotifyDelete(n)
	return nil
}

// Get returns id's live Node, or an error if it doesn't exist.
func (g *Graph) Get(id store.NodeID) (*store.Node, error) {
	n := g.st.Get(id)
	if n == nil {
		return nil, wrap(ErrNodeNotFound, fmt.Errorf("graphdb: node-not-found: %d", id))
	}
	return n, nil
}

// GetProperty resolves a property-or-rollup value by name on id.
func (g *Graph) GetProperty(id store.NodeID, name string) (value.Value, error) {
	v, ok := g.st.Field(id, name)
	if !ok {
		return value.Value{}, wrap(ErrUnknownProperty, fmt.Errorf("graphdb: unknown-property: %q on node %d", name, id))
	}
	return v, nil
}

// GetTypeName returns the declared name of id's type.
func (g *Graph) GetTypeName(id store.NodeID) (string, error) {
	n := g.st.Get(id)
	if n == nil {
		return "", wrap(ErrNodeNotFound, fmt.Errorf("graphdb: node-not-found: %d", id))
	}
	td, ok := g.schema.TypeByID(n.TypeID())
	if !ok {
		return "", wrap(ErrUnknownType, fmt.Errorf("graphdb: unknown-type: %d", n.TypeID()))
	}
	return td.Name, nil
}

// GetEdgeTargets returns the current target list of edgeName on id,
// in its declared order.
func (g *Graph) GetEdgeTargets(id store.NodeID, edgeName string) ([]store.NodeID, error) {
	n := g.st.Get(id)
	if n == nil {
		return nil, wrap(ErrNodeNotFound, fmt.Errorf("graphdb: node-not-found: %d", id))
	}
	td, ok := g.schema.TypeByID(n.TypeID())
	if !ok {
		return nil, wrap(ErrUnknownType, fmt.Errorf("graphdb: unknown-type: %d", n.TypeID()))
	}
	ed, ok := td.Edge(edgeName)
	if !ok {
		return nil, wrap(ErrEdgeNotFound, fmt.Errorf("graphdb: edge-not-found: %q on type %q", edgeName, td.Name))
	}
	tl := n.Targets(ed.ID)
	if tl == nil {
		return nil, nil
	}
	return tl.All(), nil
}

// ResolvePath walks a parsed tree-path (spec §4.9) against the live
// graph, starting from its typed root id and following each /edge(:id)
// hop, verifying the type named at each hop against the schema as it
// goes. A path ending in a bare edge (p.EndsAtEdge()) resolves to the
// edge's full current target list instead of a single node.
func (g *Graph) ResolvePath(p treepath.Path) (store.NodeID, []store.NodeID, error) {
	if _, ok := g.Schema().Type(p.Type); !ok {
		return 0, nil, wrap(ErrUnknownType, fmt.Errorf("graphdb: unknown-type: %q", p.Type))
	}
	cur := store.NodeID(p.ID)
	typeName, err := g.GetTypeName(cur)
	if err != nil {
		return 0, nil, err
	}
	if typeName != p.Type {
		return 0, nil, wrap(ErrNodeNotFound, fmt.Errorf("graphdb: node %d is type %q, path named %q", cur, typeName, p.Type))
	}

	for i, seg := range p.Segments {
		last := i == len(p.Segments)-1
		if last && !seg.HasID {
			targets, err := g.GetEdgeTargets(cur, seg.Edge)
			if err != nil {
				return 0, nil, err
			}
			return cur, targets, nil
		}
		targets, err := g.GetEdgeTargets(cur, seg.Edge)
		if err != nil {
			return 0, nil, err
		}
		if !seg.HasID {
			return 0, nil, wrap(ErrInvalidQuery, fmt.Errorf("graphdb: malformed-segment: bare edge %q is not the final segment", seg.Edge))
		}
		next := store.NodeID(seg.ID)
		found := false
		for _, t := range targets {
			if t == next {
				found = true
				break
			}
		}
		if !found {
			return 0, nil, wrap(ErrNodeNotFound, fmt.Errorf("graphdb: node-not-found: %d is not a %q target of %d", next, seg.Edge, cur))
		}
		cur = next
	}
	return cur, nil, nil
}

// HasEdge reports whether id has at least one target along edgeName.
func (g *Graph) HasEdge(id store.NodeID, edgeName string) (bool, error) {
	targets, err := g.GetEdgeTargets(id, edgeName)
	if err != nil {
		return false, err
	}
	return len(targets) > 0, nil
}

// Count returns the number of live nodes.
func (g *Graph) Count() int { return g.st.Count() }

// WatchNode installs a per-node observer independent of any view
// (spec §4.7 "Per-node watches"). It returns a string of the form
// "<uuid>:<n>"; n, the number after the colon, is the handle that
// UnwatchNode takes.
func (g *Graph) WatchNode(id store.NodeID, w *tracker.NodeWatch) string {
	handle := g.tracker.WatchNode(id, w)
	return fmt.Sprintf("%s:%d", uuid.New().String(), handle)
}

// UnwatchNode removes a watch previously installed by WatchNode.
func (g *Graph) UnwatchNode(id store.NodeID, handle uint64) {
	g.tracker.UnwatchNode(id, handle)
}

// View binds q, already validated by Query, to a fresh reactive tree
// at the given viewport height, and activates it (spec §4.8).
func (g *Graph) View(q *query.Query, height int) (*view.View, error) {
	v := view.New(g.st, g.idx, g.rollups, g.tracker, q, height)
	if err := v.Activate(false); err != nil {
		return nil, wrap(classifyViewErr(err), err)
	}
	return v, nil
}

// Query parses and validates raw JSON/YAML query bytes against the
// bound schema.
func (g *Graph) Query(data []byte) (*query.Query, error) {
	q, err := query.Decode(data, g.schema)
	if err != nil {
		return nil, wrap(ErrInvalidQuery, err)
	}
	return q, nil
}

func classifyLinkErr(err error) error {
	msg := err.Error()
	switch {
	case containsAny(msg, "edge-target-not-found"):
		return wrap(ErrEdgeTargetMismatch, err)
	case containsAny(msg, "edge-not-found"):
		return wrap(ErrEdgeNotFound, err)
	case containsAny(msg, "node-not-found"):
		return wrap(ErrNodeNotFound, err)
	default:
		return wrap(ErrUnknown, err)
	}
}

func classifyViewErr(err error) ErrorKind {
	msg := err.Error()
	switch {
	case containsAny(msg, "no-index-coverage"):
		return ErrNoIndexCoverage
	case containsAny(msg, "node-not-found"):
		return ErrNodeNotFound
	default:
		return ErrUnknown
	}
}

func containsAny(s, sub string) bool {
	return len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
