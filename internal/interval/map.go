// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package interval provides maps keyed by disjoint integer intervals.
package interval

import (
	"fmt"
	"iter"

	"github.com/tidwall/btree"
	"golang.org/x/exp/constraints" //nolint:exptostd // Tries to replace w/ cmp.
)

// Endpoint is a type that may be used as an interval endpoint.
type Endpoint = constraints.Integer

// Map is a map whose keys are pairwise disjoint, half-open intervals
// [Start, End).
//
// Lookups and insertions are O(log n). A zero value is ready to use.
type Map[K Endpoint, V any] struct {
	// Keys in this map are the (exclusive) ends of intervals in the map.
	tree btree.Map[K, *entry[K, V]]
}

// Interval is an entry in a [Map].
type Interval[K Endpoint, V any] struct {
	// The range for this interval.
	Start, End K

	// The value associated with it. Nil if this interval is not present.
	Value *V
}

// Contains returns whether this interval contains a given point.
func (i Interval[K, V]) Contains(point K) bool {
	return i.Start <= point && point < i.End
}

type entry[K Endpoint, V any] struct {
	start K
	value V
}

// Len returns the number of intervals in this map.
func (m *Map[K, V]) Len() int {
	return m.tree.Len()
}

// Get looks up the interval which contains point, if one exists.
//
// If no such interval exists, the Value of the returned [Interval] will be
// nil.
func (m *Map[K, V]) Get(point K) Interval[K, V] {
	iter := m.tree.Iter()
	// Find the least interval with point < end.
	if !iter.Seek(point+1) || point < iter.Value().start {
		return Interval[K, V]{}
	}
	return m.current(&iter)
}

// Insert inserts a new interval [start, end) into this map, with the given
// associated value.
//
// If [start, end) overlaps any interval present in this map, nothing is
// inserted and the interval with the least start that overlaps with it is
// returned. This case is distinguished by overlap.Value != nil.
func (m *Map[K, V]) Insert(start, end K, value V) (overlap Interval[K, V]) {
	if start >= end {
		panic(fmt.Sprintf("interval: start (%#v) >= end (%#v)", start, end))
	}

	// Let [a, b) be the new interval, and [c, d) the least interval with
	// a < d. The two overlap iff c < b; any later interval starts even later.
	iter := m.tree.Iter()
	if iter.Seek(start+1) && iter.Value().start < end {
		return m.current(&iter)
	}

	m.tree.Set(end, &entry[K, V]{start: start, value: value})
	return Interval[K, V]{}
}

// Overlapping returns an iterator over the intervals overlapping
// [start, end), in order.
//
// An empty query range [p, p) overlaps the intervals that contain p without
// starting at it, i.e. those which a zero-width insertion at p would split.
func (m *Map[K, V]) Overlapping(start, end K) iter.Seq[Interval[K, V]] {
	return func(yield func(Interval[K, V]) bool) {
		iter := m.tree.Iter()
		more := iter.Seek(start + 1)
		if start == end {
			if more && iter.Value().start < start {
				yield(m.current(&iter))
			}
			return
		}
		for ; more && iter.Value().start < end; more = iter.Next() {
			if !yield(m.current(&iter)) {
				return
			}
		}
	}
}

// All returns an iterator over all intervals in this map, in order.
func (m *Map[K, V]) All() iter.Seq[Interval[K, V]] {
	return func(yield func(Interval[K, V]) bool) {
		iter := m.tree.Iter()
		for more := iter.First(); more; more = iter.Next() {
			if !yield(m.current(&iter)) {
				return
			}
		}
	}
}

// Last returns the greatest interval in this map, if any.
func (m *Map[K, V]) Last() Interval[K, V] {
	iter := m.tree.Iter()
	if !iter.Last() {
		return Interval[K, V]{}
	}
	return m.current(&iter)
}

// DeleteFrom removes every interval which starts at or after point, returning
// the removed intervals in order.
func (m *Map[K, V]) DeleteFrom(point K) []Interval[K, V] {
	var removed []Interval[K, V]
	iter := m.tree.Iter()
	for more := iter.Seek(point + 1); more; more = iter.Next() {
		if iter.Value().start >= point {
			removed = append(removed, m.current(&iter))
		}
	}
	for _, r := range removed {
		m.tree.Delete(r.End)
	}
	return removed
}

// Format implements [fmt.Formatter].
func (m *Map[K, V]) Format(s fmt.State, v rune) {
	fmt.Fprint(s, "{")
	first := true
	m.tree.Scan(func(end K, entry *entry[K, V]) bool {
		if !first {
			fmt.Fprint(s, ", ")
		}
		first = false

		fmt.Fprintf(s, "[%#v, %#v): ", entry.start, end)
		fmt.Fprintf(s, fmt.FormatString(s, v), entry.value)
		return true
	})
	fmt.Fprint(s, "}")
}

func (m *Map[K, V]) current(iter *btree.MapIter[K, *entry[K, V]]) Interval[K, V] {
	return Interval[K, V]{
		Start: iter.Value().start,
		End:   iter.Key(),
		Value: &iter.Value().value,
	}
}
