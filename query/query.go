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

// Package query decodes and structurally validates the Query external
// interface (spec §6) into the validated Query value spec §3
// describes: a root type-id, optional root id (virtual-root flag),
// flat filters, flat sorts, a tree of nested edge selections, and
// optional property/edge selections.
package query

import (
	"encoding/json"
	"fmt"

	"github.com/viewgraph/viewgraph/ckey"
	"github.com/viewgraph/viewgraph/index"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
	"github.com/viewgraph/viewgraph/value"

	yaml "sigs.k8s.io/yaml"
)

// EdgeSelection is one nested edge traversal in a query tree.
type EdgeSelection struct {
	Name       string
	EdgeID     schema.EdgeID
	TargetType schema.TypeID
	Filters    []index.Filter
	Sorts      []index.SortSpec
	Limit      int
	HasLimit   bool
	Recursive  bool
	Edges      []EdgeSelection
	Selections []string
}

// Query is the validated, immutable query value.
type Query struct {
	RootType   schema.TypeID
	RootID     store.NodeID
	HasRootID  bool
	Virtual    bool
	Filters    []index.Filter
	Sorts      []index.SortSpec
	Edges      []EdgeSelection
	Selections []string
}

// --- wire shapes -------------------------------------------------------

type wireFilter struct {
	Path  string          `json:"path"`
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value"`
}

type wireSort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type wireEdge struct {
	Name       string       `json:"name"`
	Filters    []wireFilter `json:"filters"`
	Sort       json.RawMessage `json:"sort"`
	SortShort  []string     `json:"-"`
	Limit      *int         `json:"limit"`
	Recursive  bool         `json:"recursive"`
	Edges      []wireEdge   `json:"edges"`
	Selections []string     `json:"selections"`
}

type wireQuery struct {
	Root       string          `json:"root"`
	ID         *uint64         `json:"id"`
	Virtual    bool            `json:"virtual"`
	Filters    []wireFilter    `json:"filters"`
	Sort       json.RawMessage `json:"sort"`
	Edges      []wireEdge      `json:"edges"`
	Selections []string        `json:"selections"`
}

func parseOp(s string) (index.Op, error) {
	switch s {
	case "eq":
		return index.Eq, nil
	case "gt":
		return index.Gt, nil
	case "gte":
		return index.Gte, nil
	case "lt":
		return index.Lt, nil
	case "lte":
		return index.Lte, nil
	default:
		return 0, fmt.Errorf("query: invalid-query: unknown op %q", s)
	}
}

func parseDirection(s string) (ckey.Direction, error) {
	switch s {
	case "", "asc", "ascending":
		return ckey.Asc, nil
	case "desc", "descending":
		return ckey.Desc, nil
	default:
		return 0, fmt.Errorf("query: invalid-query: unknown direction %q", s)
	}
}

func decodeFilterValue(raw json.RawMessage) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// valueFromJSON converts a decoded JSON scalar (encoding/json always
// decodes numbers into float64 when the target is interface{}) into a
// value.Value. Integral floats are kept as Number, not coerced to Int:
// the filter comparator (value.Compare) already orders int and number
// consistently by numeric magnitude within cross-type order, and a
// literal's wire representation never carries the declared property
// type, so there is no reliable signal to prefer Int here.
func valueFromJSON(v interface{}) (value.Value, error) {
	switch x := v.(type) {
	case nil:
		return value.NewNull(), nil
	case bool:
		return value.NewBool(x), nil
	case float64:
		return value.NewNumber(x), nil
	case string:
		return value.NewString(x), nil
	default:
		return value.Value{}, fmt.Errorf("unsupported filter value type %T", v)
	}
}

func decodeFilter(wf wireFilter) (index.Filter, error) {
	op, err := parseOp(wf.Op)
	if err != nil {
		return index.Filter{}, err
	}
	raw, err := decodeFilterValue(wf.Value)
	if err != nil {
		return index.Filter{}, fmt.Errorf("query: invalid-query: filter %q: %w", wf.Path, err)
	}
	v, err := valueFromJSON(raw)
	if err != nil {
		return index.Filter{}, fmt.Errorf("query: invalid-query: filter %q: %w", wf.Path, err)
	}
	return index.Filter{Field: wf.Path, Op: op, Value: v}, nil
}

func decodeSorts(raw json.RawMessage) ([]index.SortSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	// short-form: a plain list of field names, ascending.
	var short []string
	if err := json.Unmarshal(raw, &short); err == nil {
		out := make([]index.SortSpec, len(short))
		for i, f := range short {
			out[i] = index.SortSpec{Field: f, Dir: ckey.Asc}
		}
		return out, nil
	}
	var full []wireSort
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, fmt.Errorf("query: invalid-query: sort: %w", err)
	}
	out := make([]index.SortSpec, len(full))
	for i, ws := range full {
		dir, err := parseDirection(ws.Direction)
		if err != nil {
			return nil, err
		}
		out[i] = index.SortSpec{Field: ws.Field, Dir: dir}
	}
	return out, nil
}

func decodeEdge(we wireEdge, parentType schema.TypeID, s *schema.Schema) (EdgeSelection, error) {
	td, ok := s.TypeByID(parentType)
	if !ok {
		return EdgeSelection{}, fmt.Errorf("query: unknown-type: %d", parentType)
	}
	ed, ok := td.Edge(we.Name)
	if !ok {
		return EdgeSelection{}, fmt.Errorf("query: edge-not-found: %q on type %q", we.Name, td.Name)
	}
	es := EdgeSelection{
		Name:       we.Name,
		EdgeID:     ed.ID,
		TargetType: ed.TargetID,
		Recursive:  we.Recursive,
		Selections: we.Selections,
	}
	for _, wf := range we.Filters {
		f, err := decodeFilter(wf)
		if err != nil {
			return EdgeSelection{}, err
		}
		es.Filters = append(es.Filters, f)
	}
	sorts, err := decodeSorts(we.Sort)
	if err != nil {
		return EdgeSelection{}, err
	}
	es.Sorts = sorts
	if we.Limit != nil {
		es.HasLimit = true
		es.Limit = *we.Limit
	}
	for _, child := range we.Edges {
		cs, err := decodeEdge(child, ed.TargetID, s)
		if err != nil {
			return EdgeSelection{}, err
		}
		es.Edges = append(es.Edges, cs)
	}
	return es, nil
}

func decodeSortList(ws []wireSort) ([]index.SortSpec, error) {
	out := make([]index.SortSpec, len(ws))
	for i, w := range ws {
		dir, err := parseDirection(w.Direction)
		if err != nil {
			return nil, err
		}
		out[i] = index.SortSpec{Field: w.Field, Dir: dir}
	}
	return out, nil
}

// Decode parses JSON query bytes against s, producing a validated
// Query or an invalid-query / unknown-type / edge-not-found error.
func Decode(data []byte, s *schema.Schema) (*Query, error) {
	var w wireQuery
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("query: invalid-query: %w", err)
	}
	if w.Root == "" {
		return nil, fmt.Errorf("query: invalid-query: missing root")
	}
	td, ok := s.Type(w.Root)
	if !ok {
		return nil, fmt.Errorf("query: unknown-type: %q", w.Root)
	}
	if w.Virtual && w.ID == nil {
		return nil, fmt.Errorf("query: invalid-query: virtual root requires id")
	}
	q := &Query{RootType: td.ID, Virtual: w.Virtual, Selections: w.Selections}
	if w.ID != nil {
		q.HasRootID = true
		q.RootID = store.NodeID(*w.ID)
	}
	for _, wf := range w.Filters {
		f, err := decodeFilter(wf)
		if err != nil {
			return nil, err
		}
		q.Filters = append(q.Filters, f)
	}
	sorts, err := decodeSorts(w.Sort)
	if err != nil {
		return nil, err
	}
	q.Sorts = sorts
	for _, we := range w.Edges {
		es, err := decodeEdge(we, td.ID, s)
		if err != nil {
			return nil, err
		}
		q.Edges = append(q.Edges, es)
	}
	return q, nil
}

// DecodeYAML is the YAML analogue of Decode.
func DecodeYAML(data []byte, s *schema.Schema) (*Query, error) {
	jsonBytes, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("query: invalid-query: invalid yaml: %w", err)
	}
	return Decode(jsonBytes, s)
}
