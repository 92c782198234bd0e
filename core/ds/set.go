// Package ds provides small generic data structures with deterministic
// iteration order.
package ds

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Set is an ordered set: O(1) membership tests, iteration in insertion order.
// The zero value is an empty set ready to use.
//
// Add and Remove mutate the receiver. Additions, Removals, Diff, Copy and
// Values return new values.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

// NewSet creates a set holding items, duplicates dropped.
func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items)), order: make([]T, 0, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.order) }

// Add appends v unless present and reports whether it was added.
func (s *Set[T]) Add(v T) bool {
	if s.Contains(v) {
		return false
	}
	if s.items == nil {
		s.items = map[T]struct{}{}
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

// Remove drops v and reports whether it was present. O(n).
func (s *Set[T]) Remove(v T) bool {
	if !s.Contains(v) {
		return false
	}
	delete(s.items, v)
	s.order = slices.DeleteFunc(s.order, func(x T) bool { return x == v })
	return true
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Len() int      { return len(s.order) }
func (s *Set[T]) IsEmpty() bool { return len(s.order) == 0 }

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T { return slices.Clone(s.order) }

func (s *Set[T]) Copy() *Set[T] { return NewSet(s.order...) }

// Additions returns the elements of other missing from s, in other's order.
func (s *Set[T]) Additions(other *Set[T]) *Set[T] {
	add := NewSet[T]()
	for _, v := range other.order {
		if !s.Contains(v) {
			add.Add(v)
		}
	}
	return add
}

// Removals returns the elements of s missing from other, in s's order.
func (s *Set[T]) Removals(other *Set[T]) *Set[T] {
	return other.Additions(s)
}

// Diff returns what to add to and remove from s to obtain other.
func (s *Set[T]) Diff(other *Set[T]) (add *Set[T], remove *Set[T]) {
	return s.Additions(other), s.Removals(other)
}

// Eq reports whether both sets hold the same elements, ignoring order.
func (s *Set[T]) Eq(other *Set[T]) bool {
	return s.Len() == other.Len() && s.Additions(other).IsEmpty()
}

// MarshalJSON encodes the set as an ordered JSON array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	if s.order == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.order)
}

func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var values []T
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = *NewSet(values...)
	return nil
}
