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

package view

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// snapshotDump is the JSON shape written by DumpSnapshot: the full
// visible sequence (not just the current viewport slice) plus enough
// viewport state to tell whether a reported delta was in range.
type snapshotDump struct {
	Offset int    `json:"offset"`
	Height int    `json:"height"`
	Total  int    `json:"total"`
	Items  []Item `json:"items"`
}

// DumpSnapshot serializes the view's entire current visible sequence
// (independent of the viewport window) to s2-compressed JSON, for
// attaching to a bug report when a reported enter/leave/move/change
// delta doesn't match what a reader expects the tree to look like.
// It never touches the tracker or the underlying store, so taking a
// dump has no effect on the view it's called on.
func (v *View) DumpSnapshot() ([]byte, error) {
	dump := snapshotDump{
		Offset: v.offset,
		Height: v.height,
		Total:  v.visibleCount,
		Items:  v.allVisible(),
	}
	raw, err := json.Marshal(dump)
	if err != nil {
		return nil, fmt.Errorf("view: marshaling snapshot: %w", err)
	}
	return s2.Encode(nil, raw), nil
}

// LoadSnapshot decompresses a dump written by DumpSnapshot for
// offline inspection; it does not reconstruct a live View.
func LoadSnapshot(data []byte) (offset, height, total int, items []Item, err error) {
	raw, err := s2.Decode(nil, data)
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("view: decompressing snapshot: %w", err)
	}
	var dump snapshotDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return 0, 0, 0, nil, fmt.Errorf("view: unmarshaling snapshot: %w", err)
	}
	return dump.Offset, dump.Height, dump.Total, dump.Items, nil
}
