// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package.
package xslices

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/constraints"
)

// At takes an element at the given `index`, where `index` can be negative, in which case it takes from the end
// of the slice.
func At[T any](slice []T, index int) T {
	if index < 0 {
		index = len(slice) + index
	}
	return slice[index]
}

// Last returns the last element of a slice.
func Last[T any](slice []T) T {
	return At(slice, -1)
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	if in == nil {
		return nil
	}
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Filter returns the elements of in for which keep returns true, in order.
func Filter[T any](in []T, keep func(e T) bool) []T {
	var out []T
	for _, e := range in {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// UniqueConcat returns the concatenation of the slices with duplicates removed,
// keeping the first-seen order.
func UniqueConcat[T comparable](slices ...[]T) []T {
	seen := make(map[T]struct{})
	var out []T
	for _, s := range slices {
		for _, e := range s {
			if _, found := seen[e]; found {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// Exclude returns in without the elements in toExclude, preserving order.
func Exclude[T comparable](in []T, toExclude ...T) []T {
	return Filter(in, func(e T) bool {
		return !slices.Contains(toExclude, e)
	})
}

// AnyOf returns whether fn is true for any of the elements.
func AnyOf[T any](in []T, fn func(e T) bool) bool {
	return slices.ContainsFunc(in, fn)
}

// Product returns the product of the elements, or 1 for an empty slice.
func Product[T constraints.Integer | constraints.Float](in []T) T {
	var p T = 1
	for _, e := range in {
		p *= e
	}
	return p
}

// Iota returns a slice of incremental int values, starting with start and of length len.
func Iota[T constraints.Integer](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Join formats each element with %v and joins them with sep.
func Join[T any](in []T, sep string) string {
	parts := make([]string, len(in))
	for ii, e := range in {
		parts[ii] = fmt.Sprintf("%v", e)
	}
	return strings.Join(parts, sep)
}
