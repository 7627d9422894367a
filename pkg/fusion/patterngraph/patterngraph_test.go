// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patterngraph

import (
	"slices"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/core/shapes"
	"github.com/gomlx/opfusion/pkg/fusion/pattern"
	"github.com/gomlx/opfusion/pkg/fusion/tracker"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opsOf(values ...*opgraph.Value) []*opgraph.Operation {
	return xslices.Map(values, (*opgraph.Value).DefiningOp)
}

func TestClusterSoftmax(t *testing.T) {
	p := opgraph.New("softmax")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	s := p.Reduce("reduce_sum", e, true, 1)
	b := p.BroadcastTo(s, dimexpr.Consts(4, 8), []int64{0, 1})
	d := p.Binary("div", e, b)
	p.Yield(d)

	clusters, err := ClusterOps(pattern.NewNameGenerator(), opsOf(e, s, b, d), nil)
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	h, ok := clusters[0].Pattern.(*pattern.HorizontalPattern)
	require.True(t, ok)
	require.Len(t, h.PaddingPatterns(), 1)
	rt, ok := h.PaddingPatterns()[0].Pattern.(*pattern.ReduceTreePlusTrivialPattern)
	require.True(t, ok)
	assert.Equal(t, []int{1}, rt.FakeReduceIterIdx())
	assert.Equal(t, opsOf(e, s, b, d), clusters[0].Pattern.Ops())
	assert.Equal(t, d.DefiningOp(), clusters[0].SinkOp)

	want := []string{
		"T_0 = InitPattern(exp_0)",
		"R_0 = InitPattern(reduce_sum_1)",
		"R_1 = TrivialInline(T_0 -> R_0)",
		"RTree_0 = Rename(R_1)",
		"T_1 = InitPattern(broadcast_2)",
		"T_0 = InitPattern(exp_0)",
		"T_2 = InitPattern(div_3)",
		"T_3 = TrivialInline(T_0 -> T_2)",
		"T_4 = TrivialInline(T_1 -> T_3)",
		"RTreeT_0 = TmpTransformWithFakeReduceIter(RTree_0 -> T_4, fake=[1])",
		"Horizontal_0 = Rename(RTreeT_0)",
		"Return(Horizontal_0)",
	}
	got := xslices.Map(clusters[0].Tracker.Instructions, tracker.Instruction.String)
	assert.Equal(t, want, got)

	// The pattern's own tracker doesn't get the Return.
	assert.Equal(t, len(want)-1, clusters[0].Pattern.Tracker().Len())
}

func TestClusterReduceTreeGrown(t *testing.T) {
	p := opgraph.New("centered_sum")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	s1 := p.Reduce("reduce_max", x, true, 1)
	b := p.BroadcastTo(s1, dimexpr.Consts(4, 8), []int64{0, 1})
	d := p.Binary("sub", x, b)
	s2 := p.Reduce("reduce_sum", d, true, 1)
	p.Yield(s2)

	clusters, err := ClusterOps(nil, opsOf(s1, b, d, s2), nil)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	tree, ok := clusters[0].Pattern.(*pattern.HorizontalPattern).PaddingPatterns()[0].Pattern.(*pattern.ReduceTreePattern)
	require.True(t, ok)
	assert.Equal(t, opsOf(b, d, s2), tree.Root().Ops())
	require.Len(t, tree.Children(), 1)
	assert.Equal(t, opsOf(s1), tree.Children()[0].Root().Ops())
	assert.Len(t, tree.FlattenReduces(), 2)
}

func TestClusterHorizontal(t *testing.T) {
	p := opgraph.New("horizontal")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	y := p.Parameter(shapes.Make(dtypes.Float32, 4, 1, 8))
	z := p.Parameter(shapes.Make(dtypes.Float32, 8, 4))
	e := p.Unary("exp", x)
	n := p.Unary("neg", y)
	r := p.Unary("relu", z)
	p.Yield(e, n, r)

	clusters, err := ClusterOps(nil, opsOf(e, n, r), nil)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	// The merged node is the newest one.
	assert.Equal(t, opsOf(r), clusters[0].Pattern.Ops())
	merged := clusters[1].Pattern.(*pattern.HorizontalPattern)
	assert.Equal(t, opsOf(e, n), merged.Ops())
	assert.Equal(t, []int{1}, merged.PaddingPatterns()[0].PaddingPos)
	last := xslices.Last(clusters[1].Tracker.Instructions[:clusters[1].Tracker.Len()-1])
	assert.Equal(t, tracker.InstrCombine, last.Kind())
}

func TestClusterKeepsDependentOutputs(t *testing.T) {
	p := opgraph.New("dependent")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	n := p.Unary("neg", e)
	p.Yield(e, n)

	clusters, err := ClusterOps(nil, opsOf(e, n), nil)
	require.NoError(t, err)
	require.Len(t, clusters, 2, "exp is an output and neg depends on it")
	assert.Equal(t, opsOf(e), clusters[0].Pattern.Ops())
	assert.Equal(t, opsOf(n), clusters[1].Pattern.Ops())
}

func TestHorizontalSkipsReadersOfOutputs(t *testing.T) {
	p := opgraph.New("reads_output")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	y := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	z := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	r := p.Unary("relu", e)
	n := p.Unary("neg", y)
	a := p.Unary("abs", z)
	p.Yield(e, r, n, a)

	clusters, err := ClusterOps(nil, opsOf(e, r, n, a), []*opgraph.Value{e, r, n, a})
	require.NoError(t, err)
	var all []*opgraph.Operation
	for _, cluster := range clusters {
		ops := cluster.Pattern.Ops()
		all = append(all, ops...)
		if slices.Contains(ops, r.DefiningOp()) {
			assert.Equal(t, opsOf(r), ops, "relu reads the output %s and can't be fused horizontally", e.Name())
		}
	}
	assert.ElementsMatch(t, opsOf(e, r, n, a), all)

	// The check on the unfused nodes.
	g := New(pattern.NewNameGenerator(), opsOf(e, r, n, a), []*opgraph.Value{e, r, n, a}, RelativeJudgePolicy{}, GraphTopoPolicy{})
	nodes := g.AllNodes()
	require.Len(t, nodes, 4)
	assert.False(t, HorizontalCheckMiddleOutputVar(g, nodes[1], nodes[3]), "relu reads exp's output")
	assert.True(t, HorizontalCheckMiddleOutputVar(g, nodes[2], nodes[3]))
}

func TestMergeAndRemoveNode(t *testing.T) {
	p := opgraph.New("chain")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4))
	a := p.Unary("exp", x)
	b := p.Unary("neg", a)
	c := p.Unary("relu", b)
	d := p.Binary("add", a, c)
	p.Yield(d)

	g := New(pattern.NewNameGenerator(), opsOf(a, b, c, d), []*opgraph.Value{d}, RelativeJudgePolicy{}, GraphTopoPolicy{})
	na, nb, nc, nd := g.Node(0), g.Node(1), g.Node(2), g.Node(3)
	assert.Equal(t, []NodeID{1, 3}, na.Downstream())
	assert.Equal(t, []NodeID{0, 2}, nd.Upstream())
	assert.True(t, IsReachable(g, na, nd))
	assert.False(t, IsReachable(g, nd, na))
	assert.False(t, GraphTopoPolicy{}.CanFuse(g, nb, nd))
	assert.True(t, g.IsOutput(nd))
	assert.False(t, g.IsOutput(nb))

	merged, err := g.MergeNode(nb, nc, g.mergePattern)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{0}, merged.Upstream())
	assert.Equal(t, []NodeID{3}, merged.Downstream())
	assert.Equal(t, c.DefiningOp(), merged.SinkOp())
	g.RemoveNode(nb)
	g.RemoveNode(nc)
	require.NoError(t, g.CheckEdges())
	assert.Equal(t, []NodeID{3, 4}, na.Downstream())
	assert.Len(t, g.AllNodes(), 3)
	require.Panics(t, func() { g.Node(1) })

	order, err := g.TopoOrder()
	require.NoError(t, err)
	assert.Equal(t, []*PatternNode{na, merged, nd}, order)

	// A dangling edge is reported.
	na.downstream = append(na.downstream, 1)
	err = g.CheckEdges()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dangling edge"))
}

func TestSearchNodeVisitsOnce(t *testing.T) {
	p := opgraph.New("search")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4))
	a := p.Unary("exp", x)
	b := p.Unary("neg", x)
	c := p.Unary("relu", x)
	g := New(pattern.NewNameGenerator(), opsOf(a, b, c), nil, RelativeJudgePolicy{}, GraphTopoPolicy{})

	var visited []NodeID
	err := SearchNode(g, func(*PatternGraph, *PatternNode) bool { return true },
		func(_ *PatternGraph, n *PatternNode) error {
			visited = append(visited, n.ID())
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []NodeID{0, 1, 2}, visited)

	var pairs [][2]NodeID
	err = SearchNodePair(g, func(_ *PatternGraph, first, second *PatternNode) bool { return first.ID() < second.ID() },
		func(_ *PatternGraph, first, second *PatternNode) error {
			pairs = append(pairs, [2]NodeID{first.ID(), second.ID()})
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, [][2]NodeID{{0, 1}, {0, 2}, {1, 2}}, pairs)

	matcher := And(KindMatcher(pattern.KindTrivial), Not(NonSinkNodeMatcher), DownstreamSmallerThan(1))
	assert.True(t, matcher(g, g.Node(0)))
	assert.False(t, Or(IsOutputNodeMatcher, KindMatcher(pattern.KindReduce))(g, g.Node(0)))
}

func TestAnchorFusion(t *testing.T) {
	p := opgraph.New("anchors")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	n := p.Unary("neg", e)
	r := p.Unary("relu", e)
	p.Yield(n, r)

	clusters, err := NewClusterer(nil).WithPipeline(AnchorFusion).Cluster(opsOf(e, n, r), nil)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	for _, cluster := range clusters {
		anchor, ok := cluster.Pattern.(*pattern.AnchorPattern)
		require.True(t, ok)
		assert.Contains(t, anchor.Ops(), e.DefiningOp())
		assert.Equal(t, tracker.InstrAnchorTransform, xslices.Last(anchor.Tracker().Instructions).Kind())
	}
	assert.Equal(t, n, clusters[0].Pattern.(*pattern.AnchorPattern).Anchor())
	assert.Equal(t, r, clusters[1].Pattern.(*pattern.AnchorPattern).Anchor())
}
