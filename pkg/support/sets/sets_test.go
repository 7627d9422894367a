// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	// Sets are created empty.
	s := Make[int](10)
	assert.Len(t, s, 0)

	s.Insert(3, 7)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(5))

	s2 := MakeWith(5, 7)
	s3 := s.Sub(s2)
	assert.Len(t, s3, 1)
	assert.True(t, s3.Has(3))

	delete(s, 7)
	assert.True(t, s.Equal(s3))
	assert.False(t, s.Equal(s2))
}

func TestOrderedSet(t *testing.T) {
	s := MakeOrdered("c", "a", "c", "b")
	assert.Equal(t, []string{"c", "a", "b"}, s.Keys())
	assert.Equal(t, 1, s.Insert("a", "d"))
	assert.Equal(t, 4, s.Len())
	s.Remove("a")
	assert.Equal(t, []string{"c", "b", "d"}, s.Keys())
	assert.False(t, s.Has("a"))
	s.Insert("a")
	assert.Equal(t, []string{"c", "b", "d", "a"}, s.Keys())
	assert.True(t, s.Set().Equal(MakeWith("a", "b", "c", "d")))
}

func TestSorted(t *testing.T) {
	s := MakeWith("c", "a", "b")
	assert.Equal(t, []string{"a", "b", "c"}, Sorted(s))
	assert.Empty(t, Sorted(Make[int]()))
}
