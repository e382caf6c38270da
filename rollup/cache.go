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
	"fmt"

	"github.com/viewgraph/viewgraph/index"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
	"github.com/viewgraph/viewgraph/value"
)

type cacheKey struct {
	node store.NodeID
	name string
}

type entry struct {
	value value.Value
	valid bool
}

// Cache materializes count/traverse/first/last rollup fields (spec
// §4.5), keyed by (node, rollup-name), with eager recomputation driven
// by link/unlink notifications through the inverted edge index.
type Cache struct {
	schema *schema.Schema
	st     *store.Store
	idx    *index.Manager
	inv    *InvertedIndex

	entries map[cacheKey]*entry
}

// New constructs a Cache bound to st's schema, wired to idx for
// first/last cross-entity scans.
func New(st *store.Store, idx *index.Manager) *Cache {
	return &Cache{
		schema:  st.Schema(),
		st:      st,
		idx:     idx,
		inv:     NewInvertedIndex(),
		entries: make(map[cacheKey]*entry),
	}
}

// Inverted exposes the inverted edge index, e.g. for the view layer's
// edge-target re-sort cascade which reuses the same source lookup.
func (c *Cache) Inverted() *InvertedIndex { return c.inv }

// Get resolves a rollup value, returning the cached value if valid or
// computing and caching it otherwise (spec §4.5 "Compute protocol").
func (c *Cache) Get(node store.NodeID, name string) (value.Value, error) {
	key := cacheKey{node: node, name: name}
	if e, ok := c.entries[key]; ok && e.valid {
		return e.value, nil
	}
	v, err := c.compute(node, name)
	if err != nil {
		return value.Value{}, err
	}
	c.entries[key] = &entry{value: v, valid: true}
	return v, nil
}

// Invalidate marks a single rollup entry stale; the next Get
// recomputes it. Internal cache-miss/stale conditions are not errors
// (spec §7): callers never see this as a failure.
func (c *Cache) Invalidate(node store.NodeID, name string) {
	if e, ok := c.entries[cacheKey{node: node, name: name}]; ok {
		e.valid = false
	}
}

// InitializeRollups computes and caches every rollup declared on id's
// type, so readers never observe a missing rollup after insert (spec
// §4.5).
func (c *Cache) InitializeRollups(id store.NodeID) error {
	n := c.st.Get(id)
	if n == nil {
		return fmt.Errorf("rollup: node-not-found: %d", id)
	}
	td, ok := c.schema.TypeByID(n.TypeID())
	if !ok {
		return fmt.Errorf("rollup: unknown-type: %d", n.TypeID())
	}
	for _, rd := range td.Rollups {
		v, err := c.computeRollup(n, rd)
		if err != nil {
			return err
		}
		c.store(id, rd.Name, v)
	}
	return nil
}

func (c *Cache) store(id store.NodeID, name string, v value.Value) {
	c.entries[cacheKey{node: id, name: name}] = &entry{value: v, valid: true}
	c.st.SetRollup(id, name, v)
}

// RecomputeForEdge recomputes every rollup on n's type whose kind
// references edgeID, overwriting the node's rollup values (spec
// §4.5).
func (c *Cache) RecomputeForEdge(n *store.Node, edgeID schema.EdgeID) error {
	td, ok := c.schema.TypeByID(n.TypeID())
	if !ok {
		return fmt.Errorf("rollup: unknown-type: %d", n.TypeID())
	}
	for _, rd := range td.Rollups {
		if rd.EdgeID != edgeID {
			continue
		}
		v, err := c.computeRollup(n, rd)
		if err != nil {
			return err
		}
		c.store(n.ID(), rd.Name, v)
	}
	return nil
}

// RecomputeTraverseDeps walks the inverted index's sources of target:
// for each source whose type declares a traverse/first/last rollup
// reading (edge_to_target, field), recomputes it and cascades
// immediately into that source's own dependents (spec §4.5). The
// cascade terminates because every step moves strictly up the finite,
// schema-defined rollup dependency DAG.
func (c *Cache) RecomputeTraverseDeps(target store.NodeID, field string) error {
	for _, ref := range c.inv.Sources(target) {
		td, ok := c.schema.TypeByID(ref.SourceType)
		if !ok {
			continue
		}
		for _, rd := range td.Rollups {
			if rd.EdgeID != ref.Edge {
				continue
			}
			if !rollupReads(rd, field) {
				continue
			}
			srcNode := c.st.Get(ref.Source)
			if srcNode == nil {
				continue
			}
			v, err := c.computeRollup(srcNode, rd)
			if err != nil {
				return err
			}
			c.store(ref.Source, rd.Name, v)
			if err := c.RecomputeTraverseDeps(ref.Source, rd.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// rollupReads reports whether rd is a traverse/first/last rollup that
// projects the named field off its target.
func rollupReads(rd schema.RollupDef, field string) bool {
	switch rd.Kind {
	case schema.RollupTraverse:
		return rd.Property == field
	case schema.RollupFirst, schema.RollupLast:
		return rd.Property == field || rd.SortField == field
	default:
		return false
	}
}

// RemoveNode drops id's cache entries and removes it as both a source
// and a target from the inverted index (spec §4.5 "Deletion").
func (c *Cache) RemoveNode(id store.NodeID) {
	for k := range c.entries {
		if k.node == id {
			delete(c.entries, k)
		}
	}
	c.inv.RemoveSource(id)
	c.inv.RemoveTarget(id)
}

func (c *Cache) compute(node store.NodeID, name string) (value.Value, error) {
	n := c.st.Get(node)
	if n == nil {
		return value.Value{}, fmt.Errorf("rollup: node-not-found: %d", node)
	}
	td, ok := c.schema.TypeByID(n.TypeID())
	if !ok {
		return value.Value{}, fmt.Errorf("rollup: unknown-type: %d", n.TypeID())
	}
	rd, ok := td.Rollup(name)
	if !ok {
		return value.Value{}, fmt.Errorf("rollup: unknown-property: %q", name)
	}
	return c.computeRollup(n, rd)
}

func (c *Cache) computeRollup(n *store.Node, rd schema.RollupDef) (value.Value, error) {
	switch rd.Kind {
	case schema.RollupCount:
		tl := n.Targets(rd.EdgeID)
		if tl == nil {
			return value.NewInt(0), nil
		}
		return value.NewInt(int64(tl.Len())), nil

	case schema.RollupTraverse:
		tl := n.Targets(rd.EdgeID)
		if tl == nil || tl.Len() == 0 {
			return value.NewNull(), nil
		}
		target := tl.At(0)
		if v, ok := c.st.Field(target, rd.Property); ok {
			return v, nil
		}
		// a declared property that has not been set reads as null.
		if tn := c.st.Get(target); tn != nil {
			if ttd, ok := c.schema.TypeByID(tn.TypeID()); ok {
				if _, isProp := ttd.Property(rd.Property); isProp {
					return value.NewNull(), nil
				}
			}
		}
		// the property may itself be a rollup on the target type, in
		// which case it may not have been computed yet: recurse.
		return c.Get(target, rd.Property)

	case schema.RollupFirst, schema.RollupLast:
		return c.computeFirstLast(n, rd)

	default:
		return value.Value{}, fmt.Errorf("rollup: unknown rollup kind %d", rd.Kind)
	}
}

// computeFirstLast resolves first(edge, sort_field, dir) / last(...)
// via a cross-entity index scan (spec §4.5: "Requires a cross-entity
// index (reverse_edge, sort_field direction) to exist; otherwise
// returns null" -- the open question in spec §9.3 is resolved exactly
// that way: no linear-scan fallback, see DESIGN.md).
func (c *Cache) computeFirstLast(n *store.Node, rd schema.RollupDef) (value.Value, error) {
	td, ok := c.schema.TypeByID(n.TypeID())
	if !ok {
		return value.Value{}, fmt.Errorf("rollup: unknown-type: %d", n.TypeID())
	}
	ed, ok := td.Edge(rd.Edge)
	if !ok {
		return value.Value{}, fmt.Errorf("rollup: unknown-edge: %q", rd.Edge)
	}

	cov, ok := c.idx.SelectNestedIndex(ed.TargetID, ed.ReverseID, nil, []index.SortSpec{
		{Field: rd.SortField, Dir: rd.Dir},
	})
	if !ok || cov.SortSuffix == 0 {
		return value.NewNull(), nil
	}

	edgeDir := cov.Index.Def.Fields[0].Dir
	scan := index.NewEdgePrefixScan(cov.Index, uint64(n.ID()), edgeDir)
	count := scan.RemainingCount()
	if count == 0 {
		return value.NewNull(), nil
	}

	var targetID store.NodeID
	if rd.Kind == schema.RollupFirst {
		targetID, _ = scan.Next()
	} else {
		scan.Skip(count - 1)
		targetID, _ = scan.Next()
	}

	if rd.Property == "" {
		return value.NewInt(int64(targetID)), nil
	}
	if v, ok := c.st.Field(targetID, rd.Property); ok {
		return v, nil
	}
	return value.NewNull(), nil
}
