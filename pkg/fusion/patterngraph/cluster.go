// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patterngraph

import (
	"github.com/gomlx/opfusion/pkg/fusion/pattern"
	"github.com/gomlx/opfusion/pkg/fusion/tracker"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pass is one rewrite step of the clustering pipeline.
type Pass struct {
	Name string
	Run  func(g *PatternGraph) error
}

var (
	// SinkTrivialPattern merges trivial nodes into their reduce and trivial consumers.
	SinkTrivialPattern = Pass{"SinkTrivialPattern", func(g *PatternGraph) error {
		return SearchNode(g,
			And(KindMatcher(pattern.KindTrivial), NonSinkNodeMatcher, Not(IsOutputNodeMatcher)),
			MergeTrivialPatternOperation)
	}}

	// ReduceLiftReduceTree converts every reduce to a reduce tree without children.
	ReduceLiftReduceTree = Pass{"ReduceLiftReduceTree", func(g *PatternGraph) error {
		return SearchNode(g, KindMatcher(pattern.KindReduce), LiftReduceToReduceTreeOperation)
	}}

	// ReduceTreeGrown merges reduce trees into their only downstream reduce tree.
	ReduceTreeGrown = Pass{"ReduceTreeGrown", func(g *PatternGraph) error {
		return SearchNode(g, And(DownstreamSmallerThan(2), CanFuseReduceTreeMatcher), MergeReduceTreeOperation)
	}}

	// ReduceTreeTrivialFusion merges reduce trees into their only downstream trivial.
	ReduceTreeTrivialFusion = Pass{"ReduceTree_Trivial_Fusion", func(g *PatternGraph) error {
		return SearchNode(g, And(DownstreamSmallerThan(2), CanFuseReduceTreeAndTrivialMatcher),
			MergeReduceTreeAndTrivialOperation)
	}}

	// HorizontalFusion lifts every node to a horizontal pattern, and merges the independent ones with the same
	// loop framework.
	HorizontalFusion = Pass{"HorizontalFusion", func(g *PatternGraph) error {
		if err := SearchNode(g, Not(KindMatcher(pattern.KindHorizontal)), LiftToHorizontalOperation); err != nil {
			return err
		}
		return SearchNodePair(g, HorizontalFusionConstraint, HorizontalFusionOperation)
	}}

	// AnchorFusion lifts trivial and reduce nodes to anchors, then recomputes the cheap anchors into their
	// consumers. It is not part of DefaultPipeline.
	AnchorFusion = Pass{"AnchorFusion", func(g *PatternGraph) error {
		liftable := Or(KindMatcher(pattern.KindTrivial), KindMatcher(pattern.KindReduce), KindMatcher(pattern.KindReduceTree))
		if err := SearchNode(g, liftable, LiftToAnchorOperation); err != nil {
			return err
		}
		recomputable := func(g *PatternGraph, n *PatternNode) bool {
			anchor, ok := n.pattern.(*pattern.AnchorPattern)
			return ok && anchor.CanRecompute() && NonSinkNodeMatcher(g, n) && !g.IsOutput(n)
		}
		if err := SearchNode(g, recomputable, FuseUpstreamAnchorOperation); err != nil {
			return err
		}
		singleAnchorConsumer := func(g *PatternGraph, n *PatternNode) bool {
			down := singleDownstream(g, n)
			return down != nil && n.pattern.Kind() == pattern.KindAnchor && down.pattern.Kind() == pattern.KindAnchor &&
				len(down.upstream) == 1 && pattern.IsLoopFrameworkEqual(n.pattern, down.pattern)
		}
		return SearchNode(g, singleAnchorConsumer, FuseDownstreamAnchorOperation)
	}}
)

// DefaultPipeline returns the passes run by ClusterOps, in order.
//
// SinkTrivialPattern runs first, before the reductions are lifted to trees, so the trivial producers of a
// reduction are already inlined into it when the trees are grown.
func DefaultPipeline() []Pass {
	return []Pass{SinkTrivialPattern, ReduceLiftReduceTree, ReduceTreeGrown, ReduceTreeTrivialFusion, HorizontalFusion}
}

// Cluster is one fused pattern, with the tracker (terminated by a Return instruction) that builds its loop nests.
type Cluster struct {
	Pattern pattern.StmtPattern
	Tracker *tracker.FusionTracker
	SinkOp  *opgraph.Operation
}

// Clusterer runs a pipeline of passes over the pattern graph of a group.
type Clusterer struct {
	names    *pattern.NameGenerator
	policy   FusionPolicy
	topo     TopoPolicy
	pipeline []Pass
}

// NewClusterer creates a Clusterer with the default policies and pipeline.
// If names is nil, a new NameGenerator is created.
func NewClusterer(names *pattern.NameGenerator) *Clusterer {
	if names == nil {
		names = pattern.NewNameGenerator()
	}
	return &Clusterer{
		names:    names,
		policy:   RelativeJudgePolicy{},
		topo:     GraphTopoPolicy{},
		pipeline: DefaultPipeline(),
	}
}

// WithPolicy sets the fusion policy. It returns the Clusterer itself, to allow cascading calls.
func (c *Clusterer) WithPolicy(policy FusionPolicy) *Clusterer {
	c.policy = policy
	return c
}

// WithTopoPolicy sets the topology policy.
func (c *Clusterer) WithTopoPolicy(topo TopoPolicy) *Clusterer {
	c.topo = topo
	return c
}

// WithPipeline replaces the passes.
func (c *Clusterer) WithPipeline(passes ...Pass) *Clusterer {
	c.pipeline = passes
	return c
}

// Cluster groups ops into fused patterns. outputs are the values that must be materialized, if nil they are
// the results used outside ops (or not used at all).
//
// The clusters are returned in topological order.
func (c *Clusterer) Cluster(ops []*opgraph.Operation, outputs []*opgraph.Value) (clusters []*Cluster, err error) {
	if outputs == nil {
		outputs = externalValues(ops)
	}
	g := New(c.names, ops, outputs, c.policy, c.topo)
	err = compileerr.Catch(func() {
		for _, pass := range c.pipeline {
			compileerr.PanicOnError(errors.WithMessagef(pass.Run(g), "pass %s", pass.Name))
			compileerr.PanicOnError(g.CheckEdges())
			if klog.V(2).Enabled() {
				klog.Infof("After %s:\n%s", pass.Name, g)
			}
		}
		nodes, err := g.TopoOrder()
		compileerr.PanicOnError(err)
		for _, n := range nodes {
			t := n.pattern.Tracker().Clone().Append(&tracker.ReturnInstr{Name: n.pattern.Name()})
			clusters = append(clusters, &Cluster{Pattern: n.pattern, Tracker: t, SinkOp: n.sinkOp})
		}
	})
	if err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() {
		klog.Infof("ClusterOps: %d ops -> %d clusters", len(ops), len(clusters))
	}
	return clusters, nil
}

// ClusterOps groups ops into fused patterns with the default policies and pipeline.
func ClusterOps(names *pattern.NameGenerator, ops []*opgraph.Operation, outputs []*opgraph.Value) ([]*Cluster, error) {
	return NewClusterer(names).Cluster(ops, outputs)
}

func externalValues(ops []*opgraph.Operation) []*opgraph.Value {
	var outputs []*opgraph.Value
	for _, op := range ops {
		for _, result := range op.Results() {
			users := result.Users()
			if len(users) == 0 || xslices.AnyOf(users, func(user *opgraph.Operation) bool {
				return user.IsYield() || !xslices.AnyOf(ops, func(o *opgraph.Operation) bool { return o == user })
			}) {
				outputs = append(outputs, result)
			}
		}
	}
	return outputs
}
