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

package kgmap

import "testing"

func intEq(a, b int) bool { return a == b }

func TestAddAndGet(t *testing.T) {
	m := New[string, int]()
	m.Add("a", 1, intEq)
	m.Add("a", 2, intEq)
	got := m.Get("a")
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1,2], got %v", got)
	}
	if m.Get("missing") != nil {
		t.Fatal("expected nil for missing key")
	}
}

func TestAddIdempotent(t *testing.T) {
	m := New[string, int]()
	m.Add("a", 1, intEq)
	m.Add("a", 1, intEq)
	if len(m.Get("a")) != 1 {
		t.Fatalf("expected idempotent Add to not duplicate, got %v", m.Get("a"))
	}
}

func TestAddWithoutEqAlwaysAppends(t *testing.T) {
	m := New[string, int]()
	m.Add("a", 1, nil)
	m.Add("a", 1, nil)
	if len(m.Get("a")) != 2 {
		t.Fatalf("expected nil-eq Add to always append, got %v", m.Get("a"))
	}
}

func TestRemove(t *testing.T) {
	m := New[string, int]()
	m.Add("a", 1, intEq)
	m.Add("a", 2, intEq)
	if !m.Remove("a", func(v int) bool { return v == 1 }) {
		t.Fatal("expected Remove to find and remove 1")
	}
	got := m.Get("a")
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected [2] remaining, got %v", got)
	}
	if m.Remove("a", func(v int) bool { return v == 99 }) {
		t.Fatal("expected Remove of non-existent value to report false")
	}
}

func TestRemoveDropsEmptyGroup(t *testing.T) {
	m := New[string, int]()
	m.Add("a", 1, intEq)
	m.Remove("a", func(v int) bool { return v == 1 })
	if m.Len() != 0 {
		t.Fatalf("expected group to be dropped once empty, Len()=%d", m.Len())
	}
	if m.Get("a") != nil {
		t.Fatal("expected Get to return nil after group is dropped")
	}
}

func TestRemoveKey(t *testing.T) {
	m := New[string, int]()
	m.Add("a", 1, intEq)
	m.Add("b", 2, intEq)
	m.RemoveKey("a")
	if m.Get("a") != nil {
		t.Fatal("expected group a to be gone")
	}
	if len(m.Get("b")) != 1 {
		t.Fatal("expected group b to remain untouched")
	}
}

func TestRemoveAllWhere(t *testing.T) {
	m := New[string, int]()
	m.Add("a", 1, nil)
	m.Add("a", 2, nil)
	m.Add("b", 1, nil)
	m.RemoveAllWhere(func(k string, v int) bool { return v == 1 })
	if len(m.Get("a")) != 1 || m.Get("a")[0] != 2 {
		t.Fatalf("expected group a to retain only 2, got %v", m.Get("a"))
	}
	if m.Get("b") != nil {
		t.Fatal("expected group b to be dropped entirely once emptied")
	}
}

func TestLenAndKeys(t *testing.T) {
	m := New[string, int]()
	if m.Len() != 0 {
		t.Fatal("expected empty map to have len 0")
	}
	m.Add("a", 1, nil)
	m.Add("b", 2, nil)
	if m.Len() != 2 {
		t.Fatalf("expected len 2, got %d", m.Len())
	}
	keys := m.Keys()
	found := map[string]bool{}
	for _, k := range keys {
		found[k] = true
	}
	if !found["a"] || !found["b"] {
		t.Fatalf("expected keys to contain a and b, got %v", keys)
	}
}
