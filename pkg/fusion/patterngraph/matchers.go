// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patterngraph

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/fusion/pattern"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/xslices"
)

// KindMatcher matches nodes whose pattern is of the given kind.
func KindMatcher(kind pattern.PatternKind) NodeMatcher {
	return func(_ *PatternGraph, n *PatternNode) bool {
		return n.pattern.Kind() == kind
	}
}

// NonSinkNodeMatcher matches nodes with at least one downstream node.
func NonSinkNodeMatcher(_ *PatternGraph, n *PatternNode) bool {
	return len(n.downstream) > 0
}

// IsOutputNodeMatcher matches nodes producing a value the group must materialize.
func IsOutputNodeMatcher(g *PatternGraph, n *PatternNode) bool {
	return g.IsOutput(n)
}

// DownstreamSmallerThan matches nodes with less than limit downstream nodes.
func DownstreamSmallerThan(limit int) NodeMatcher {
	return func(_ *PatternGraph, n *PatternNode) bool {
		return len(n.downstream) < limit
	}
}

// And matches nodes accepted by all matchers. Matchers are evaluated in order, and evaluation stops at the
// first rejection.
func And(matchers ...NodeMatcher) NodeMatcher {
	return func(g *PatternGraph, n *PatternNode) bool {
		for _, m := range matchers {
			if !m(g, n) {
				return false
			}
		}
		return true
	}
}

// Or matches nodes accepted by any of the matchers.
func Or(matchers ...NodeMatcher) NodeMatcher {
	return func(g *PatternGraph, n *PatternNode) bool {
		for _, m := range matchers {
			if m(g, n) {
				return true
			}
		}
		return false
	}
}

// Not inverts a matcher.
func Not(m NodeMatcher) NodeMatcher {
	return func(g *PatternGraph, n *PatternNode) bool {
		return !m(g, n)
	}
}

// singleDownstream returns the only downstream node of n, or nil.
func singleDownstream(g *PatternGraph, n *PatternNode) *PatternNode {
	if len(n.downstream) != 1 {
		return nil
	}
	return g.Node(n.downstream[0])
}

// CanFuseReduceTreeMatcher matches reduce trees whose only downstream is a reduce tree the policy can fuse with.
func CanFuseReduceTreeMatcher(g *PatternGraph, n *PatternNode) bool {
	down := singleDownstream(g, n)
	if down == nil || n.pattern.Kind() != pattern.KindReduceTree || down.pattern.Kind() != pattern.KindReduceTree {
		return false
	}
	return g.policy.CanFuse(g, n, down)
}

// CanFuseReduceTreeAndTrivialMatcher matches reduce trees whose only downstream is a trivial the policy can
// fuse with.
func CanFuseReduceTreeAndTrivialMatcher(g *PatternGraph, n *PatternNode) bool {
	down := singleDownstream(g, n)
	if down == nil || n.pattern.Kind() != pattern.KindReduceTree || down.pattern.Kind() != pattern.KindTrivial {
		return false
	}
	return g.policy.CanFuse(g, n, down)
}

// HorizontalCheckMiddleOutputVar rejects pairs where a value produced by one node is read by the other, and
// pairs where an operation of either node reads an output of the graph: such a value would be both an
// intermediate and an input of the fused horizontal pattern.
func HorizontalCheckMiddleOutputVar(g *PatternGraph, first, second *PatternNode) bool {
	if slices.Contains(first.downstream, second.id) || slices.Contains(first.upstream, second.id) {
		return false
	}
	readsGraphOutput := func(op *opgraph.Operation) bool {
		return xslices.AnyOf(op.Operands(), g.outputs.Has)
	}
	if xslices.AnyOf(first.pattern.Ops(), readsGraphOutput) || xslices.AnyOf(second.pattern.Ops(), readsGraphOutput) {
		return false
	}
	firstOutputs := pattern.GetOutputValues(first.pattern)
	secondOutputs := pattern.GetOutputValues(second.pattern)
	firstInputs := pattern.GetPatternInputValues(first.pattern)
	secondInputs := pattern.GetPatternInputValues(second.pattern)
	isIn := func(values []*opgraph.Value) func(*opgraph.Value) bool {
		return func(v *opgraph.Value) bool { return slices.Contains(values, v) }
	}
	return !xslices.AnyOf(firstOutputs, isIn(secondInputs)) && !xslices.AnyOf(secondOutputs, isIn(firstInputs))
}

// HorizontalFusionConstraint matches pairs of horizontal patterns that are independent and have the same
// loop framework, ignoring unit axes.
func HorizontalFusionConstraint(g *PatternGraph, first, second *PatternNode) bool {
	if first.pattern.Kind() != pattern.KindHorizontal || second.pattern.Kind() != pattern.KindHorizontal {
		return false
	}
	return g.topo.CanFuse(g, first, second) &&
		HorizontalCheckMiddleOutputVar(g, first, second) &&
		pattern.IsLoopFrameworkEqual(first.pattern, second.pattern)
}
