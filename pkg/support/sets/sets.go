// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implement a set type as a `map[T]struct{}` but with better ergonomics, and an
// OrderedSet that also remembers insertion order, used wherever enumeration must be reproducible.
package sets

import (
	"cmp"
	"slices"
)

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func Make[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// MakeWith creates a Set[T] with the given elements inserted.
func MakeWith[T comparable](elements ...T) Set[T] {
	s := Make[T](len(elements))
	for _, element := range elements {
		s.Insert(element)
	}
	return s
}

// Sorted returns the elements of the set in increasing order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	keys := make([]T, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Sub returns `s - s2`, that is, all elements in `s` that are not in `s2`.
func (s Set[T]) Sub(s2 Set[T]) Set[T] {
	sub := Make[T]()
	for k := range s {
		if !s2.Has(k) {
			sub.Insert(k)
		}
	}
	return sub
}

// Equal returns whether s and s2 have the exact same elements.
func (s Set[T]) Equal(s2 Set[T]) bool {
	if len(s) != len(s2) {
		return false
	}
	for k := range s {
		if !s2.Has(k) {
			return false
		}
	}
	return true
}

// OrderedSet is a set that enumerates its elements in insertion order.
//
// The zero value is not usable, create it with MakeOrdered.
type OrderedSet[T comparable] struct {
	index map[T]int
	keys  []T
}

// MakeOrdered creates an OrderedSet with the given elements inserted, in order.
func MakeOrdered[T comparable](elements ...T) *OrderedSet[T] {
	s := &OrderedSet[T]{index: make(map[T]int, len(elements))}
	s.Insert(elements...)
	return s
}

// Insert appends the keys not yet in the set. It returns the number of new keys.
func (s *OrderedSet[T]) Insert(keys ...T) int {
	var count int
	for _, key := range keys {
		if _, found := s.index[key]; found {
			continue
		}
		s.index[key] = len(s.keys)
		s.keys = append(s.keys, key)
		count++
	}
	return count
}

// Has returns whether key is in the set.
func (s *OrderedSet[T]) Has(key T) bool {
	_, found := s.index[key]
	return found
}

// Len returns the number of elements.
func (s *OrderedSet[T]) Len() int {
	return len(s.keys)
}

// Remove key from the set, preserving the order of the remaining elements.
func (s *OrderedSet[T]) Remove(key T) {
	pos, found := s.index[key]
	if !found {
		return
	}
	s.keys = slices.Delete(s.keys, pos, pos+1)
	delete(s.index, key)
	for ii := pos; ii < len(s.keys); ii++ {
		s.index[s.keys[ii]] = ii
	}
}

// Keys returns a copy of the elements in insertion order.
func (s *OrderedSet[T]) Keys() []T {
	return slices.Clone(s.keys)
}

// Set converts to an unordered Set.
func (s *OrderedSet[T]) Set() Set[T] {
	return MakeWith(s.keys...)
}
