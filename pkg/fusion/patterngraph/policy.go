// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patterngraph

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/fusion/pattern"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/sets"
)

// FusionPolicy decides whether a reduce tree can be vertically fused with its downstream.
type FusionPolicy interface {
	// CanFuse returns whether upstream (a reduce tree) can be merged into downstream (a reduce tree or a trivial).
	CanFuse(g *PatternGraph, upstream, downstream *PatternNode) bool

	// FakeReduceIterIdx returns the axes of the loop framework of downstream (a trivial) that iterate over the
	// reduced axes of upstream, without being reduced themselves.
	FakeReduceIterIdx(g *PatternGraph, upstream, downstream *PatternNode) []int
}

// TopoPolicy decides whether two nodes can be fused without creating a cycle.
type TopoPolicy interface {
	CanFuse(g *PatternGraph, first, second *PatternNode) bool
}

// RelativeJudgePolicy is the default FusionPolicy: it compares the spatial (non-reduced) dimensions of the
// reductions with the loop framework of the downstream, ignoring unit axes.
type RelativeJudgePolicy struct{}

var _ FusionPolicy = RelativeJudgePolicy{}

// flattenDims returns the non-reduced dimensions of the input of the root reduction of a tree.
func flattenDims(tree *pattern.ReduceTreePattern) (flatten, input []dimexpr.Expr, axes []int) {
	reduceOp := tree.Root().ReduceOp()
	axes = opgraph.ReduceAxes(reduceOp)
	input = reduceOp.Operand(0).Shape().Dimensions
	for axis, dim := range input {
		if !slices.Contains(axes, axis) {
			flatten = append(flatten, dim)
		}
	}
	return
}

// CanFuse implements FusionPolicy.
func (RelativeJudgePolicy) CanFuse(_ *PatternGraph, upstream, downstream *PatternNode) bool {
	upTree, ok := upstream.pattern.(*pattern.ReduceTreePattern)
	if !ok {
		return false
	}
	upFlatten, upInput, _ := flattenDims(upTree)
	switch down := downstream.pattern.(type) {
	case *pattern.ReduceTreePattern:
		downFlatten, _, _ := flattenDims(down)
		return dimexpr.EqualSlices(pattern.SqueezeLoopFramework(upFlatten), pattern.SqueezeLoopFramework(downFlatten))
	case *pattern.TrivialPattern:
		loops, err := pattern.LoopFramework(down)
		if err != nil {
			return false
		}
		if dimexpr.EqualSlices(loops, upInput) {
			return true
		}
		return dimexpr.EqualSlices(pattern.SqueezeLoopFramework(loops), pattern.SqueezeLoopFramework(upFlatten))
	}
	return false
}

// FakeReduceIterIdx implements FusionPolicy: when the trivial iterates over the full input of the reduction,
// the reduced axes are fake reduce iterators.
func (RelativeJudgePolicy) FakeReduceIterIdx(_ *PatternGraph, upstream, downstream *PatternNode) []int {
	upTree, ok := upstream.pattern.(*pattern.ReduceTreePattern)
	if !ok {
		return nil
	}
	loops, err := pattern.LoopFramework(downstream.pattern)
	if err != nil {
		return nil
	}
	upFlatten, upInput, axes := flattenDims(upTree)
	if len(upFlatten) == len(upInput) || !dimexpr.EqualSlices(loops, upInput) {
		return nil
	}
	return axes
}

// GraphTopoPolicy is the default TopoPolicy: two nodes can be fused if neither is reachable from the other.
type GraphTopoPolicy struct{}

var _ TopoPolicy = GraphTopoPolicy{}

// CanFuse implements TopoPolicy.
func (GraphTopoPolicy) CanFuse(g *PatternGraph, first, second *PatternNode) bool {
	return !IsReachable(g, first, second) && !IsReachable(g, second, first)
}

// IsReachable returns whether to can be reached from `from` following downstream edges.
func IsReachable(g *PatternGraph, from, to *PatternNode) bool {
	visited := sets.MakeWith(from.id)
	queue := []NodeID{from.id}
	for len(queue) > 0 {
		current := g.nodes[queue[0]]
		queue = queue[1:]
		for _, id := range current.downstream {
			if id == to.id {
				return true
			}
			if !visited.Has(id) {
				visited.Insert(id)
				queue = append(queue, id)
			}
		}
	}
	return false
}
