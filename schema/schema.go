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

// Package schema decodes and validates the JSON/YAML schema external
// interface (spec §6) into the immutable Schema value the rest of the
// core treats as a read-only collaborator (spec §3). Decoding and
// structural validation live here because nothing downstream can run
// without some concrete producer of a Schema value, even though the
// spec treats "the schema parser" as an external collaborator.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/viewgraph/viewgraph/ckey"
	"github.com/viewgraph/viewgraph/kgmap"

	yaml "sigs.k8s.io/yaml"
)

// PropType is the declared type of a scalar property.
type PropType uint8

const (
	PropString PropType = iota
	PropInt
	PropNumber
	PropBool
)

func parsePropType(s string) (PropType, error) {
	switch s {
	case "string":
		return PropString, nil
	case "int":
		return PropInt, nil
	case "number":
		return PropNumber, nil
	case "bool":
		return PropBool, nil
	default:
		return 0, fmt.Errorf("schema: unknown property type %q", s)
	}
}

// TypeID is a small unsigned integer assigned to a type at load time.
type TypeID uint16

// EdgeID is a small unsigned integer assigned to an edge at load
// time, unique across the whole schema (not just within one type),
// so it can key a flat inverted-edge-index bucket and a flat
// per-subscription interest set.
type EdgeID uint16

// PropertyDef describes one declared scalar property.
type PropertyDef struct {
	Name string
	Type PropType
}

// EdgeSort describes the optional sort spec over a target property
// that orders an edge's target list.
type EdgeSort struct {
	Property string
	Dir      ckey.Direction
}

// EdgeDef describes one declared edge.
type EdgeDef struct {
	ID         EdgeID
	Name       string
	Target     string // target type name
	TargetID   TypeID
	Reverse    string // reverse edge name on the target type
	ReverseID  EdgeID
	Sort       *EdgeSort
	DeclaredOn TypeID
}

// IndexFieldKind distinguishes a property-valued index field from an
// edge-valued one (whose key component is the first target's NodeId).
type IndexFieldKind uint8

const (
	FieldProperty IndexFieldKind = iota
	FieldEdge
)

// IndexField is one component of a compound index key.
type IndexField struct {
	Name string
	Kind IndexFieldKind
	Dir  ckey.Direction
	// EdgeID is resolved when Kind==FieldEdge.
	EdgeID EdgeID
}

// IndexDef describes one schema-declared index.
type IndexDef struct {
	Fields []IndexField
}

// RollupKind selects one of the four supported rollup computations.
type RollupKind uint8

const (
	RollupCount RollupKind = iota
	RollupTraverse
	RollupFirst
	RollupLast
)

// RollupDef describes one derived field.
type RollupDef struct {
	Name string
	Kind RollupKind
	Edge string // source edge for all four kinds
	EdgeID EdgeID

	// Traverse: the property (or nested rollup) read off the first
	// target along Edge.
	Property string

	// First/Last: the cross-entity sort field and direction that
	// must have a matching index, and the optional property to
	// project off the located target (defaults to its NodeId).
	SortField string
	Dir       ckey.Direction
}

// TypeDef describes one node type.
type TypeDef struct {
	ID         TypeID
	Name       string
	Properties []PropertyDef
	Edges      []EdgeDef
	Indexes    []IndexDef
	Rollups    []RollupDef

	propByName map[string]PropertyDef
	edgeByName map[string]EdgeDef
	rollByName map[string]RollupDef
}

func (t *TypeDef) Property(name string) (PropertyDef, bool) {
	p, ok := t.propByName[name]
	return p, ok
}

func (t *TypeDef) Edge(name string) (EdgeDef, bool) {
	e, ok := t.edgeByName[name]
	return e, ok
}

func (t *TypeDef) Rollup(name string) (RollupDef, bool) {
	r, ok := t.rollByName[name]
	return r, ok
}

// EdgeSortTarget identifies a (source type, edge) pair whose target
// list is sorted by some property of the target type.
type EdgeSortTarget struct {
	SourceType TypeID
	EdgeID     EdgeID
}

// Schema is the immutable, validated schema value. Construct with
// Decode/DecodeYAML; never mutate after construction.
type Schema struct {
	types     []*TypeDef
	byName    map[string]*TypeDef
	byID      []*TypeDef
	edgeSorts *kgmap.Map[edgeSortKey, EdgeSortTarget]
}

type edgeSortKey struct {
	targetType TypeID
	property   string
}

// Type looks up a type by name.
func (s *Schema) Type(name string) (*TypeDef, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// TypeByID looks up a type by its assigned id.
func (s *Schema) TypeByID(id TypeID) (*TypeDef, bool) {
	if int(id) >= len(s.byID) {
		return nil, false
	}
	t := s.byID[id]
	return t, t != nil
}

// Types returns every declared type in schema-declaration order.
func (s *Schema) Types() []*TypeDef { return s.types }

// EdgeSortSources returns every (source type, edge) pair whose target
// list is ordered by `property` on `targetType`, used by the view
// layer's edge-target re-sort cascade (spec §4.8).
func (s *Schema) EdgeSortSources(targetType TypeID, property string) []EdgeSortTarget {
	return s.edgeSorts.Get(edgeSortKey{targetType: targetType, property: property})
}

// --- JSON wire shapes -------------------------------------------------

type wireSchema struct {
	Types []wireType `json:"types"`
}

type wireType struct {
	Name       string           `json:"name"`
	Properties []wireProperty   `json:"properties"`
	Edges      []wireEdge       `json:"edges"`
	Indexes    [][]wireIndexFld `json:"indexes"`
	Rollups    []wireRollup     `json:"rollups"`
}

type wireProperty struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type wireEdge struct {
	Name    string        `json:"name"`
	Target  string        `json:"target"`
	Reverse string        `json:"reverse"`
	Sort    *wireEdgeSort `json:"sort,omitempty"`
}

type wireEdgeSort struct {
	Property  string `json:"property"`
	Direction string `json:"direction"`
}

type wireIndexFld struct {
	Field     string `json:"field"`
	Kind      string `json:"kind,omitempty"` // "property" (default) | "edge"
	Direction string `json:"direction,omitempty"`
}

type wireRollup struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Edge      string `json:"edge"`
	Property  string `json:"property,omitempty"`
	SortField string `json:"sort_field,omitempty"`
	Direction string `json:"direction,omitempty"`
}

func parseDirection(s string) (ckey.Direction, error) {
	switch s {
	case "", "asc", "ascending":
		return ckey.Asc, nil
	case "desc", "descending":
		return ckey.Desc, nil
	default:
		return 0, fmt.Errorf("schema: unknown direction %q", s)
	}
}

// Decode parses JSON schema bytes into a validated, immutable Schema.
func Decode(data []byte) (*Schema, error) {
	var w wireSchema
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("schema: invalid json: %w", err)
	}
	return build(w)
}

// DecodeYAML parses YAML schema bytes (converted to JSON via
// sigs.k8s.io/yaml, matching the YAML-as-JSON-superset convention the
// teacher's config loaders use) into a validated Schema.
func DecodeYAML(data []byte) (*Schema, error) {
	jsonBytes, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("schema: invalid yaml: %w", err)
	}
	return Decode(jsonBytes)
}

func build(w wireSchema) (*Schema, error) {
	s := &Schema{byName: make(map[string]*TypeDef)}
	var nextEdgeID EdgeID

	// pass 1: allocate types and their scalar properties
	for i, wt := range w.Types {
		if wt.Name == "" {
			return nil, fmt.Errorf("schema: type #%d has empty name", i)
		}
		if _, dup := s.byName[wt.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate type name %q", wt.Name)
		}
		td := &TypeDef{
			ID:         TypeID(i),
			Name:       wt.Name,
			propByName: make(map[string]PropertyDef),
			edgeByName: make(map[string]EdgeDef),
			rollByName: make(map[string]RollupDef),
		}
		for _, wp := range wt.Properties {
			pt, err := parsePropType(wp.Type)
			if err != nil {
				return nil, fmt.Errorf("schema: type %q: %w", wt.Name, err)
			}
			pd := PropertyDef{Name: wp.Name, Type: pt}
			td.Properties = append(td.Properties, pd)
			td.propByName[wp.Name] = pd
		}
		s.types = append(s.types, td)
		s.byName[wt.Name] = td
		s.byID = append(s.byID, td)
	}

	// pass 2: edges (need every type resolvable for Target lookups)
	for i, wt := range w.Types {
		td := s.types[i]
		for _, we := range wt.Edges {
			target, ok := s.byName[we.Target]
			if !ok {
				return nil, fmt.Errorf("schema: type %q: edge %q: unknown target type %q", wt.Name, we.Name, we.Target)
			}
			ed := EdgeDef{
				ID:         nextEdgeID,
				Name:       we.Name,
				Target:     we.Target,
				TargetID:   target.ID,
				Reverse:    we.Reverse,
				DeclaredOn: td.ID,
			}
			nextEdgeID++
			if we.Sort != nil {
				dir, err := parseDirection(we.Sort.Direction)
				if err != nil {
					return nil, fmt.Errorf("schema: type %q: edge %q: %w", wt.Name, we.Name, err)
				}
				ed.Sort = &EdgeSort{Property: we.Sort.Property, Dir: dir}
			}
			td.Edges = append(td.Edges, ed)
			td.edgeByName[we.Name] = ed
		}
	}

	// pass 3: resolve reverse edges (spec invariant: every edge has a
	// matching reverse on its target type)
	for _, td := range s.types {
		for i, ed := range td.Edges {
			target := s.byID[ed.TargetID]
			rev, ok := target.edgeByName[ed.Reverse]
			if !ok {
				return nil, fmt.Errorf("schema: type %q: edge %q: reverse %q not found on type %q", td.Name, ed.Name, ed.Reverse, target.Name)
			}
			if rev.Target != td.Name {
				return nil, fmt.Errorf("schema: type %q: edge %q: reverse %q does not point back to %q", td.Name, ed.Name, ed.Reverse, td.Name)
			}
			ed.ReverseID = rev.ID
			td.Edges[i] = ed
			td.edgeByName[ed.Name] = ed
		}
	}

	// pass 4: indexes (fields resolve to a property or edge on the type)
	for i, wt := range w.Types {
		td := s.types[i]
		for _, wIdx := range wt.Indexes {
			var def IndexDef
			for _, wf := range wIdx {
				dir, err := parseDirection(wf.Direction)
				if err != nil {
					return nil, fmt.Errorf("schema: type %q: index field %q: %w", wt.Name, wf.Field, err)
				}
				fld := IndexField{Name: wf.Field, Dir: dir}
				switch wf.Kind {
				case "", "property":
					if _, ok := td.propByName[wf.Field]; !ok {
						return nil, fmt.Errorf("schema: type %q: index references unknown property %q", wt.Name, wf.Field)
					}
					fld.Kind = FieldProperty
				case "edge":
					ed, ok := td.edgeByName[wf.Field]
					if !ok {
						return nil, fmt.Errorf("schema: type %q: index references unknown edge %q", wt.Name, wf.Field)
					}
					fld.Kind = FieldEdge
					fld.EdgeID = ed.ID
				default:
					return nil, fmt.Errorf("schema: type %q: index field %q: unknown kind %q", wt.Name, wf.Field, wf.Kind)
				}
				def.Fields = append(def.Fields, fld)
			}
			if len(def.Fields) == 0 {
				return nil, fmt.Errorf("schema: type %q: empty index definition", wt.Name)
			}
			td.Indexes = append(td.Indexes, def)
		}
	}

	// pass 5: rollups (sources resolve)
	for i, wt := range w.Types {
		td := s.types[i]
		for _, wr := range wt.Rollups {
			ed, ok := td.edgeByName[wr.Edge]
			if !ok {
				return nil, fmt.Errorf("schema: type %q: rollup %q: unknown edge %q", wt.Name, wr.Name, wr.Edge)
			}
			rd := RollupDef{Name: wr.Name, Edge: wr.Edge, EdgeID: ed.ID}
			switch wr.Kind {
			case "count":
				rd.Kind = RollupCount
			case "traverse":
				rd.Kind = RollupTraverse
				if wr.Property == "" {
					return nil, fmt.Errorf("schema: type %q: rollup %q: traverse requires property", wt.Name, wr.Name)
				}
				rd.Property = wr.Property
			case "first", "last":
				if wr.Kind == "first" {
					rd.Kind = RollupFirst
				} else {
					rd.Kind = RollupLast
				}
				if wr.SortField == "" {
					return nil, fmt.Errorf("schema: type %q: rollup %q: %s requires sort_field", wt.Name, wr.Name, wr.Kind)
				}
				dir, err := parseDirection(wr.Direction)
				if err != nil {
					return nil, fmt.Errorf("schema: type %q: rollup %q: %w", wt.Name, wr.Name, err)
				}
				rd.SortField = wr.SortField
				rd.Dir = dir
				rd.Property = wr.Property
			default:
				return nil, fmt.Errorf("schema: type %q: rollup %q: unknown kind %q", wt.Name, wr.Name, wr.Kind)
			}
			td.Rollups = append(td.Rollups, rd)
			td.rollByName[wr.Name] = rd
		}
	}

	// pass 6: build the edge_sort_index: (target_type, property) ->
	// [(source_type, edge_id)], used by the view layer's re-sort
	// cascade on set_property.
	s.edgeSorts = kgmap.New[edgeSortKey, EdgeSortTarget]()
	for _, td := range s.types {
		for _, ed := range td.Edges {
			if ed.Sort == nil {
				continue
			}
			key := edgeSortKey{targetType: ed.TargetID, property: ed.Sort.Property}
			s.edgeSorts.Add(key, EdgeSortTarget{SourceType: td.ID, EdgeID: ed.ID}, func(a, b EdgeSortTarget) bool {
				return a == b
			})
		}
	}

	return s, nil
}
