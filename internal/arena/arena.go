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

// Package arena defines an Arena type with compressed pointers.
//
// Values allocated in an arena never move, so a *T obtained from
// [Pointer.In] stays valid for the arena's lifetime. Pointers are four bytes
// wide and compare equal iff they refer to the same value, which makes them
// usable as map keys in graph-heavy structures such as inclusion trees.
package arena

import (
	"fmt"
	"iter"
	"math/bits"
	"strings"
)

const (
	// minLenShift is the log2 of the size of the smallest slice in the table.
	minLenShift = 4
	minLen      = 1 << minLenShift
)

// Pointer is a compressed arena pointer.
//
// The value of a pointer is one plus the number of elements allocated before
// it. The zero value is nil.
type Pointer[T any] uint32

// Nil returns whether this pointer is nil.
func (p Pointer[T]) Nil() bool {
	return p == 0
}

// In looks up this pointer in the given arena.
//
// arena must be the arena that allocated this pointer, otherwise this will
// either return an arbitrary pointer or panic. If p is nil, this returns nil.
func (p Pointer[T]) In(arena *Arena[T]) *T {
	if p.Nil() {
		return nil
	}
	return arena.Deref(p)
}

// String implements [fmt.Stringer].
func (p Pointer[T]) String() string {
	if p.Nil() {
		return "nil"
	}
	return fmt.Sprintf("#%d", uint32(p)-1)
}

// Arena is a slice of T that guarantees the Ts will never be moved.
//
// It maintains a table of logarithmically-growing slices that mimic the
// resizing behavior of an ordinary slice. Lookup is O(1).
//
// A zero Arena[T] is empty and ready to use.
type Arena[T any] struct {
	// Invariants:
	// 1. cap(table[0]) == minLen.
	// 2. cap(table[n]) == 2*cap(table[n-1]).
	// 3. cap(table[n]) == len(table[n]) for n < len(table)-1.
	table [][]T
}

// New allocates a new value on the arena.
func (a *Arena[T]) New(value T) Pointer[T] {
	if a.table == nil {
		a.table = [][]T{make([]T, 0, minLen)}
	}

	last := &a.table[len(a.table)-1]
	if len(*last) == cap(*last) {
		a.table = append(a.table, make([]T, 0, 2*cap(*last)))
		last = &a.table[len(a.table)-1]
	}

	*last = append(*last, value)
	return Pointer[T](a.Len())
}

// Deref dereferences p. Panics if p is nil or out of range.
func (a *Arena[T]) Deref(p Pointer[T]) *T {
	slice, idx := a.coordinates(int(p) - 1)
	return &a.table[slice][idx]
}

// Len returns the number of values allocated so far.
func (a *Arena[T]) Len() int {
	if len(a.table) == 0 {
		return 0
	}
	// Only the last slice will be not-fully-filled.
	return lenOfFirstNSlices(len(a.table)-1) + len(a.table[len(a.table)-1])
}

// All returns an iterator over every value in allocation order.
func (a *Arena[T]) All() iter.Seq2[Pointer[T], *T] {
	return func(yield func(Pointer[T], *T) bool) {
		p := Pointer[T](0)
		for _, slice := range a.table {
			for i := range slice {
				p++
				if !yield(p, &slice[i]) {
					return
				}
			}
		}
	}
}

// String implements [fmt.Stringer].
func (a *Arena[T]) String() string {
	var b strings.Builder
	b.WriteRune('[')
	// Show off the boundaries of the subarrays.
	for i, slice := range a.table {
		if i != 0 {
			b.WriteRune('|')
		}
		for i, v := range slice {
			if i != 0 {
				b.WriteRune(' ')
			}
			fmt.Fprint(&b, v)
		}
	}
	b.WriteRune(']')
	return b.String()
}

// lenOfFirstNSlices returns the length of the first n slices, using
//
//	2^m + 2^(m+1) + ... + 2^n = 2^(n+1) - 2^m
func lenOfFirstNSlices(n int) int {
	return max(0, (minLen<<n)-minLen)
}

// coordinates calculates the coordinates of the given index in table. It
// also performs a bounds check.
func (a *Arena[T]) coordinates(idx int) (int, int) {
	if idx >= a.Len() || idx < 0 {
		panic(fmt.Sprintf("arena: pointer out of range: %#x", idx))
	}

	// The cumulative starting index of slice k is (2^k - 1) << minLenShift.
	// Adding minLen turns that into 2^k << minLenShift, whose one-indexed
	// high bit is k + minLenShift + 1.
	slice := bits.UintSize - bits.LeadingZeros(uint(idx)+minLen)
	slice -= minLenShift + 1
	return slice, idx - lenOfFirstNSlices(slice)
}
