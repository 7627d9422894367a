// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patterngraph

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/fusion/pattern"
	"github.com/gomlx/opfusion/pkg/fusion/tracker"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/pkg/errors"
)

func (g *PatternGraph) mergePattern(upstream, downstream pattern.StmtPattern) (pattern.StmtPattern, error) {
	return pattern.MergePattern(g.names, upstream, downstream)
}

// mergeAndRemove merges upstream into downstream and removes both.
func mergeAndRemove(g *PatternGraph, upstream, downstream *PatternNode, fn MergeFn) error {
	if _, err := g.MergeNode(upstream, downstream, fn); err != nil {
		return err
	}
	g.RemoveNode(upstream)
	g.RemoveNode(downstream)
	return nil
}

// MergeTrivialPatternOperation merges the trivial node n into each of its reduce or trivial downstream nodes.
// n is removed once it has no downstream left.
func MergeTrivialPatternOperation(g *PatternGraph, n *PatternNode) error {
	for _, down := range g.Downstream(n) {
		kind := down.pattern.Kind()
		if kind != pattern.KindReduce && kind != pattern.KindTrivial {
			continue
		}
		merged, err := g.MergeNode(n, down, g.mergePattern)
		if err != nil {
			return err
		}
		// The other consumers of n don't depend on the merged node.
		for _, sibling := range n.downstream {
			if sibling != down.id && !slices.Contains(down.downstream, sibling) {
				g.disconnect(merged.id, sibling)
			}
		}
		g.RemoveNode(down)
	}
	if len(n.downstream) == 0 {
		g.RemoveNode(n)
	}
	return nil
}

// LiftReduceToReduceTreeOperation replaces the reduce pattern of n with a reduce tree.
func LiftReduceToReduceTreeOperation(g *PatternGraph, n *PatternNode) error {
	reduce, ok := n.pattern.(*pattern.ReducePattern)
	if !ok {
		return errors.Wrapf(compileerr.ErrInvariant, "LiftReduceToReduceTreeOperation: %s is not a reduce", n)
	}
	n.SetPattern(pattern.LiftToReduceTree(g.names, reduce))
	return nil
}

// MergeReduceTreeOperation merges the reduce tree n into its only downstream reduce tree.
func MergeReduceTreeOperation(g *PatternGraph, n *PatternNode) error {
	down := singleDownstream(g, n)
	if down == nil {
		return errors.Wrapf(compileerr.ErrInvariant, "MergeReduceTreeOperation: %s must have exactly one downstream", n)
	}
	return mergeAndRemove(g, n, down, g.mergePattern)
}

// MergeReduceTreeAndTrivialOperation merges the reduce tree n with its only downstream trivial, using the
// fake reduce iterators given by the policy.
func MergeReduceTreeAndTrivialOperation(g *PatternGraph, n *PatternNode) error {
	down := singleDownstream(g, n)
	if down == nil {
		return errors.Wrapf(compileerr.ErrInvariant,
			"MergeReduceTreeAndTrivialOperation: %s must have exactly one downstream", n)
	}
	fake := g.policy.FakeReduceIterIdx(g, n, down)
	return mergeAndRemove(g, n, down, func(upstream, downstream pattern.StmtPattern) (pattern.StmtPattern, error) {
		tree, treeOk := upstream.(*pattern.ReduceTreePattern)
		trivial, trivialOk := downstream.(*pattern.TrivialPattern)
		if !treeOk || !trivialOk {
			return nil, errors.Wrapf(compileerr.ErrUnsupportedMerge, "MergeReduceTreeAndTrivialOperation(%s, %s)",
				upstream.Name(), downstream.Name())
		}
		return pattern.MergeReduceTreeAndTrivial(g.names, tree, trivial, fake), nil
	})
}

// LiftToHorizontalOperation wraps the pattern of n in a horizontal pattern.
func LiftToHorizontalOperation(g *PatternGraph, n *PatternNode) error {
	n.SetPattern(pattern.LiftToHorizontal(g.names, n.pattern))
	return nil
}

// HorizontalFusionOperation merges two horizontal nodes.
func HorizontalFusionOperation(g *PatternGraph, first, second *PatternNode) error {
	return mergeAndRemove(g, first, second, g.mergePattern)
}

// LiftToAnchorOperation replaces the pattern of n with an anchor pattern.
func LiftToAnchorOperation(g *PatternGraph, n *PatternNode) error {
	anchor, err := pattern.LiftToAnchor(g.names, n.pattern)
	if err != nil {
		return err
	}
	n.SetPattern(anchor)
	return nil
}

// FuseUpstreamAnchorOperation recomputes the anchor node n into each of its anchor downstream nodes, using the
// downstream anchors. n is removed once it has no downstream left.
func FuseUpstreamAnchorOperation(g *PatternGraph, n *PatternNode) error {
	up := n.pattern.(*pattern.AnchorPattern)
	for _, down := range g.Downstream(n) {
		downAnchor, ok := down.pattern.(*pattern.AnchorPattern)
		if !ok {
			continue
		}
		merged, err := g.MergeNode(n, down, func(_, _ pattern.StmtPattern) (pattern.StmtPattern, error) {
			return pattern.MergeAnchors(g.names, up, downAnchor, false, tracker.IdentityRoute()), nil
		})
		if err != nil {
			return err
		}
		for _, sibling := range n.downstream {
			if sibling != down.id && !slices.Contains(down.downstream, sibling) {
				g.disconnect(merged.id, sibling)
			}
		}
		g.RemoveNode(down)
	}
	if len(n.downstream) == 0 {
		g.RemoveNode(n)
	}
	return nil
}

// FuseDownstreamAnchorOperation merges the only downstream of the anchor node n into it, keeping the anchor of n.
func FuseDownstreamAnchorOperation(g *PatternGraph, n *PatternNode) error {
	down := singleDownstream(g, n)
	if down == nil {
		return errors.Wrapf(compileerr.ErrInvariant, "FuseDownstreamAnchorOperation: %s must have exactly one downstream", n)
	}
	return mergeAndRemove(g, n, down, g.mergePattern)
}
