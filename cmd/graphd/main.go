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

// Command graphd loads a schema, replays a list of mutations against
// an in-memory graph, and prints the current page of a query's view
// as JSON. It is a thin driver over package graphdb for manual
// exploration and scripted smoke tests, not a server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/viewgraph/viewgraph/graphdb"
	"github.com/viewgraph/viewgraph/internal/memstat"
	"github.com/viewgraph/viewgraph/schema"
	"github.com/viewgraph/viewgraph/store"
	"github.com/viewgraph/viewgraph/treepath"
	"github.com/viewgraph/viewgraph/value"
)

type mutation struct {
	Op    string                 `json:"op"`
	Type  string                 `json:"type"`
	ID    uint64                 `json:"id"`
	Props map[string]interface{} `json:"props"`
	Name  string                 `json:"name"`
	Value interface{}            `json:"value"`
	Edge  string                 `json:"edge"`
	Src   uint64                 `json:"src"`
	Tgt   uint64                 `json:"tgt"`
}

func main() {
	schemaPath := flag.String("schema", "", "path to a schema JSON or YAML file")
	mutationsPath := flag.String("mutations", "", "path to a JSON file containing a list of mutations to apply")
	queryPath := flag.String("query", "", "path to a query JSON or YAML file")
	nodePath := flag.String("node", "", "a type:id(/edge(:id))* tree-path string to resolve and print instead of running a query")
	height := flag.Int("height", 50, "viewport height for the printed query result")
	memstats := flag.Bool("memstats", false, "include a host memory pressure snapshot in the output")
	flag.Parse()

	if *schemaPath == "" || (*queryPath == "" && *nodePath == "") {
		fmt.Fprintln(os.Stderr, "usage: graphd -schema schema.json {-query query.json | -node type:id[/edge[:id]...]} [-mutations mutations.json] [-height N] [-memstats]")
		os.Exit(2)
	}

	if err := run(*schemaPath, *mutationsPath, *queryPath, *nodePath, *height, *memstats); err != nil {
		log.Fatal(err)
	}
}

func run(schemaPath, mutationsPath, queryPath, nodePath string, height int, withMemstats bool) error {
	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("graphd: reading schema: %w", err)
	}
	var s *schema.Schema
	if isYAMLPath(schemaPath) {
		s, err = schema.DecodeYAML(schemaBytes)
	} else {
		s, err = schema.Decode(schemaBytes)
	}
	if err != nil {
		return fmt.Errorf("graphd: decoding schema: %w", err)
	}

	g := graphdb.New(s, log.Default())

	if mutationsPath != "" {
		mutBytes, err := os.ReadFile(mutationsPath)
		if err != nil {
			return fmt.Errorf("graphd: reading mutations: %w", err)
		}
		var muts []mutation
		if err := json.Unmarshal(mutBytes, &muts); err != nil {
			return fmt.Errorf("graphd: decoding mutations: %w", err)
		}
		for i, m := range muts {
			if err := apply(g, m); err != nil {
				return fmt.Errorf("graphd: mutation %d (%s): %w", i, m.Op, err)
			}
		}
	}

	var payload interface{}
	if nodePath != "" {
		payload, err = resolveNodePath(g, nodePath)
	} else {
		payload, err = runQuery(g, queryPath, height)
	}
	if err != nil {
		return err
	}

	out := struct {
		Result   interface{}       `json:"result"`
		Memstats *memstat.Snapshot `json:"memstats,omitempty"`
	}{Result: payload}
	if withMemstats {
		snap, err := memstat.Read()
		if err != nil {
			return fmt.Errorf("graphd: reading memstats: %w", err)
		}
		out.Memstats = &snap
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// resolveNodePath parses and resolves a tree-path string against g
// (spec §4.9), returning either a single node's summary or, when the
// path ends at a bare edge, that edge's current target list.
func resolveNodePath(g *graphdb.Graph, raw string) (interface{}, error) {
	p, err := treepath.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("graphd: parsing tree-path %q: %w", raw, err)
	}
	id, targets, err := g.ResolvePath(p)
	if err != nil {
		return nil, fmt.Errorf("graphd: resolving tree-path %q: %w", raw, err)
	}
	if p.EndsAtEdge() {
		out := make([]itemView, 0, len(targets))
		for _, tid := range targets {
			out = append(out, toItemView(g, tid, 0, false))
		}
		return out, nil
	}
	return toItemView(g, id, 0, false), nil
}

func runQuery(g *graphdb.Graph, queryPath string, height int) (interface{}, error) {
	queryBytes, err := os.ReadFile(queryPath)
	if err != nil {
		return nil, fmt.Errorf("graphd: reading query: %w", err)
	}
	q, err := g.Query(queryBytes)
	if err != nil {
		return nil, fmt.Errorf("graphd: decoding query: %w", err)
	}

	v, err := g.View(q, height)
	if err != nil {
		return nil, fmt.Errorf("graphd: activating view: %w", err)
	}
	defer v.Deinit()

	out := struct {
		Total int        `json:"total"`
		Items []itemView `json:"items"`
	}{Total: v.Total()}
	for _, it := range v.Items() {
		out.Items = append(out.Items, toItemView(g, it.ID, it.Depth, it.HasChildren))
	}
	return out, nil
}

type itemView struct {
	ID          uint64 `json:"id"`
	Type        string `json:"type"`
	Depth       int    `json:"depth"`
	HasChildren bool   `json:"has_children"`
}

func toItemView(g *graphdb.Graph, id store.NodeID, depth int, hasChildren bool) itemView {
	typeName, _ := g.GetTypeName(id)
	return itemView{ID: uint64(id), Type: typeName, Depth: depth, HasChildren: hasChildren}
}

func apply(g *graphdb.Graph, m mutation) error {
	switch m.Op {
	case "insert":
		_, err := g.Insert(m.Type)
		return err
	case "set_property":
		v, err := valueFromJSON(m.Value)
		if err != nil {
			return err
		}
		return g.SetProperty(store.NodeID(m.ID), m.Name, v)
	case "update":
		props := make(map[string]value.Value, len(m.Props))
		for k, raw := range m.Props {
			v, err := valueFromJSON(raw)
			if err != nil {
				return err
			}
			props[k] = v
		}
		return g.Update(store.NodeID(m.ID), props)
	case "link":
		return g.Link(store.NodeID(m.Src), m.Edge, store.NodeID(m.Tgt))
	case "unlink":
		return g.Unlink(store.NodeID(m.Src), m.Edge, store.NodeID(m.Tgt))
	case "delete":
		return g.Delete(store.NodeID(m.ID))
	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}
}

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
		return value.Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

func isYAMLPath(path string) bool {
	return len(path) >= 5 && path[len(path)-5:] == ".yaml" || len(path) >= 4 && path[len(path)-4:] == ".yml"
}
