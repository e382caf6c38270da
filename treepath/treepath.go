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

// Package treepath parses the `type:id(/edge(:id))*` node/edge
// addressing strings described in spec §4.9. It has no dependency on
// any other package in this module by design (spec SPEC_FULL.md "D").
package treepath

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one `/edge` or `/edge:id` hop after the root.
type Segment struct {
	Edge  string
	ID    uint64
	HasID bool
}

// Path is a parsed tree-path: a typed root node, optionally followed
// by a chain of edge (and edge-target) hops. A path ending in `:id`
// addresses a node; one ending in a bare `/edge` addresses an edge on
// the preceding node.
type Path struct {
	Type     string
	ID       uint64
	Segments []Segment
}

// Error kinds, matching spec §4.9.
var (
	ErrEmpty         = fmt.Errorf("treepath: empty-path")
	ErrMissingRootID = fmt.Errorf("treepath: missing-root-id")
)

// Parse parses s into a Path.
func Parse(s string) (Path, error) {
	if s == "" {
		return Path{}, ErrEmpty
	}
	parts := strings.Split(s, "/")
	root := parts[0]
	typeName, idStr, ok := strings.Cut(root, ":")
	if !ok {
		return Path{}, ErrMissingRootID
	}
	if typeName == "" {
		return Path{}, fmt.Errorf("treepath: malformed-segment: empty root type in %q", s)
	}
	if idStr == "" {
		return Path{}, ErrMissingRootID
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return Path{}, fmt.Errorf("treepath: invalid-node-id: %q", idStr)
	}
	p := Path{Type: typeName, ID: id}
	for _, seg := range parts[1:] {
		if seg == "" {
			return Path{}, fmt.Errorf("treepath: malformed-segment: empty segment in %q", s)
		}
		edgeName, segID, hasID := strings.Cut(seg, ":")
		if edgeName == "" {
			return Path{}, fmt.Errorf("treepath: malformed-segment: empty edge name in %q", s)
		}
		sg := Segment{Edge: edgeName}
		if hasID {
			n, err := strconv.ParseUint(segID, 10, 64)
			if err != nil {
				return Path{}, fmt.Errorf("treepath: invalid-node-id: %q", segID)
			}
			sg.ID = n
			sg.HasID = true
		}
		p.Segments = append(p.Segments, sg)
	}
	return p, nil
}

// String renders p back into its canonical wire form.
func (p Path) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d", p.Type, p.ID)
	for _, sg := range p.Segments {
		b.WriteByte('/')
		b.WriteString(sg.Edge)
		if sg.HasID {
			fmt.Fprintf(&b, ":%d", sg.ID)
		}
	}
	return b.String()
}

// EndsAtEdge reports whether the path addresses an edge (its last
// segment has no id) rather than a node.
func (p Path) EndsAtEdge() bool {
	if len(p.Segments) == 0 {
		return false
	}
	return !p.Segments[len(p.Segments)-1].HasID
}
