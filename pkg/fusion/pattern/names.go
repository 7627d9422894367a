// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"strconv"
	"sync/atomic"
)

// PatternKind enumerates the variants of StmtPattern.
type PatternKind int

//go:generate go tool enumer -type=PatternKind -trimprefix=Kind -output=gen_patternkind_enumer.go names.go

const (
	KindTrivial PatternKind = iota
	KindReduce
	KindReduceTree
	KindReduceTreePlusTrivial
	KindHorizontal
	KindAnchor
	KindUnsupported
)

const numKinds = int(KindUnsupported) + 1

var namePrefixes = [numKinds]string{
	KindTrivial:               "T_",
	KindReduce:                "R_",
	KindReduceTree:            "RTree_",
	KindReduceTreePlusTrivial: "RTreeT_",
	KindHorizontal:            "Horizontal_",
	KindAnchor:                "Anchor_",
	KindUnsupported:           "Unsupport_",
}

// NamePrefix returns the prefix of the names of patterns of the given kind.
func (k PatternKind) NamePrefix() string {
	return namePrefixes[k]
}

// NameGenerator generates unique pattern names, one counter per pattern kind.
// It is safe for concurrent use: names are unique, but their order depends on the interleaving of the callers.
type NameGenerator struct {
	counters [numKinds]atomic.Int64
}

// NewNameGenerator creates a NameGenerator with all counters at 0.
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{}
}

// Next returns a new name for a pattern of the given kind, e.g. "RTree_3".
func (g *NameGenerator) Next(kind PatternKind) string {
	n := g.counters[kind].Add(1) - 1
	return namePrefixes[kind] + strconv.FormatInt(n, 10)
}
