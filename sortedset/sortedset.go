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

// Package sortedset implements a sorted set over a plain slice, using
// an externally supplied three-way comparator. Contains/insert
// position lookups are O(log n) via binary search; Insert/Remove are
// O(n) due to the element shift, which is the tradeoff the compound
// target-list representation accepts (see spec: "Contains-check,
// insert, remove are O(log n) search + O(n) shift").
package sortedset

import "golang.org/x/exp/slices"

// Cmp is a three-way comparator: negative if a<b, zero if equal,
// positive if a>b.
type Cmp[T any] func(a, b T) int

// Set is a sorted slice of unique (per Cmp) elements.
type Set[T any] struct {
	cmp Cmp[T]
	xs  []T
}

// New constructs an empty Set ordered by cmp.
func New[T any](cmp Cmp[T]) *Set[T] {
	return &Set[T]{cmp: cmp}
}

// Len returns the number of elements.
func (s *Set[T]) Len() int { return len(s.xs) }

// At returns the element at position i.
func (s *Set[T]) At(i int) T { return s.xs[i] }

// Slice returns the backing slice directly; callers must not mutate
// it.
func (s *Set[T]) Slice() []T { return s.xs }

// search returns the smallest index i such that xs[i] >= v under cmp
// (the standard binary-search insertion point), in O(log n), plus
// whether xs[i] compares equal to v.
func (s *Set[T]) search(v T) (int, bool) {
	return slices.BinarySearchFunc(s.xs, v, s.cmp)
}

// IndexOf returns the position of v and true if present, using
// binary search.
func (s *Set[T]) IndexOf(v T) (int, bool) {
	i, found := s.search(v)
	if found {
		return i, true
	}
	return 0, false
}

// Contains reports whether an element comparing equal to v is
// present.
func (s *Set[T]) Contains(v T) bool {
	_, ok := s.IndexOf(v)
	return ok
}

// Insert places v at its sorted position, shifting subsequent
// elements right. No-op if an equal element is already present;
// returns the final index and whether a new element was inserted.
func (s *Set[T]) Insert(v T) (int, bool) {
	i, found := s.search(v)
	if found {
		s.xs[i] = v
		return i, false
	}
	s.xs = append(s.xs, v)
	copy(s.xs[i+1:], s.xs[i:len(s.xs)-1])
	s.xs[i] = v
	return i, true
}

// Remove deletes the element equal to v, if present, shifting
// subsequent elements left. Returns the index it was removed from
// and whether anything was removed.
func (s *Set[T]) Remove(v T) (int, bool) {
	i, ok := s.IndexOf(v)
	if !ok {
		return 0, false
	}
	s.RemoveAt(i)
	return i, true
}

// RemoveAt deletes the element at position i.
func (s *Set[T]) RemoveAt(i int) T {
	v := s.xs[i]
	copy(s.xs[i:], s.xs[i+1:])
	s.xs = s.xs[:len(s.xs)-1]
	return v
}

// Reposition removes the element at index i and reinserts it
// according to its current sort key, used when an element's sort key
// changed in place (e.g. a target's sort property was updated).
// Returns the new index.
func (s *Set[T]) Reposition(i int) int {
	v := s.xs[i]
	s.RemoveAt(i)
	newIdx, _ := s.Insert(v)
	return newIdx
}

// All returns a copy of the elements in order.
func (s *Set[T]) All() []T {
	out := make([]T, len(s.xs))
	copy(out, s.xs)
	return out
}
