// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/core/shapes"
	"github.com/gomlx/opfusion/pkg/fusion/tracker"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(v *opgraph.Value) *opgraph.Operation { return v.DefiningOp() }

func mustMerge(t *testing.T, names *NameGenerator, first, second StmtPattern) StmtPattern {
	t.Helper()
	merged, err := MergePattern(names, first, second)
	require.NoError(t, err)
	return merged
}

// checkMerge verifies the ops and the tracker of a merge.
func checkMerge(t *testing.T, first, second, merged StmtPattern, keepsOrder bool) {
	t.Helper()
	union := xslices.UniqueConcat(first.Ops(), second.Ops())
	if keepsOrder {
		assert.Equal(t, union, merged.Ops())
	} else {
		assert.ElementsMatch(t, union, merged.Ops())
	}
	want := tracker.Concat(first.Tracker(), second.Tracker()).Instructions
	got := merged.Tracker().Instructions
	require.Len(t, got, len(want)+1)
	assert.Equal(t, want, got[:len(want)])
	assert.NotEqual(t, tracker.InstrInitPattern, xslices.Last(got).Kind())
}

func TestConvertToStmtPattern(t *testing.T) {
	p := opgraph.New("test")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	s := p.Reduce("reduce_sum", e, false, 1)
	c := p.CustomCall("my_kernel", []*opgraph.Value{s}, shapes.Make(dtypes.Float32, 4))

	names := NewNameGenerator()
	trivial := ConvertToStmtPattern(names, op(e))
	reduce := ConvertToStmtPattern(names, op(s))
	unsupported := ConvertToStmtPattern(names, c)

	assert.Equal(t, KindTrivial, trivial.Kind())
	assert.Equal(t, "T_0", trivial.Name())
	assert.Equal(t, op(e), trivial.(*TrivialPattern).SinkOp())
	assert.Equal(t, "R_0", reduce.Name())
	assert.Equal(t, op(s), reduce.(*ReducePattern).ReduceOp())
	assert.Equal(t, "Unsupport_0", unsupported.Name())

	require.Equal(t, 1, trivial.Tracker().Len())
	assert.Equal(t, &tracker.InitPatternInstr{Op: op(e), Result: "T_0"}, trivial.Tracker().Instructions[0])
	assert.Equal(t, "T_0(exp_0)", String(trivial))
}

func TestMergeTrivial(t *testing.T) {
	p := opgraph.New("test")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	n := p.Unary("neg", e)
	s := p.Reduce("reduce_sum", n, false, 1)

	names := NewNameGenerator()
	t0 := ConvertToStmtPattern(names, op(e))
	t1 := ConvertToStmtPattern(names, op(n))
	r0 := ConvertToStmtPattern(names, op(s))

	t.Run("Trivial x Trivial", func(t *testing.T) {
		merged := mustMerge(t, names, t0, t1)
		checkMerge(t, t0, t1, merged, true)
		require.IsType(t, &TrivialPattern{}, merged)
		assert.Equal(t, op(n), merged.(*TrivialPattern).SinkOp())
		assert.Equal(t, &tracker.TrivialInlineInstr{Upstream: "T_0", Downstream: "T_1", Result: merged.Name()},
			xslices.Last(merged.Tracker().Instructions))
	})

	t.Run("Trivial x Reduce", func(t *testing.T) {
		merged := mustMerge(t, names, t1, r0)
		checkMerge(t, t1, r0, merged, true)
		require.IsType(t, &ReducePattern{}, merged)
		assert.Equal(t, op(s), merged.(*ReducePattern).ReduceOp())
	})

	t.Run("Trivial x ReduceTree", func(t *testing.T) {
		tree := LiftToReduceTree(names, r0.(*ReducePattern))
		merged := mustMerge(t, names, t1, tree)
		checkMerge(t, t1, tree, merged, true)
		require.IsType(t, &ReduceTreePattern{}, merged)
		assert.Equal(t, []*opgraph.Operation{op(n), op(s)}, merged.(*ReduceTreePattern).Root().Ops())

		// exp is not directly consumed by the tree: the tree is kept as is.
		kept := mustMerge(t, names, t0, tree)
		require.IsType(t, &ReduceTreePattern{}, kept)
		assert.Equal(t, tree.Ops(), kept.Ops())
		assert.Equal(t, tree.Root(), kept.(*ReduceTreePattern).Root())
		want := tracker.Concat(t0.Tracker(), tree.Tracker()).Instructions
		got := kept.Tracker().Instructions
		require.Len(t, got, len(want)+1)
		assert.Equal(t, want, got[:len(want)])
		assert.Equal(t, &tracker.RenameInstr{OriginName: tree.Name(), NewName: kept.Name()}, xslices.Last(got))
	})

	t.Run("Illegal", func(t *testing.T) {
		_, err := MergePattern(names, r0, t0)
		require.ErrorIs(t, err, compileerr.ErrUnsupportedMerge)
		assert.True(t, compileerr.IsInvariant(err))
		assert.False(t, compileerr.IsNotImplemented(err))
	})
}

func TestMergeReduceTrees(t *testing.T) {
	p := opgraph.New("test")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	s1 := p.Reduce("reduce_sum", e, true, 1)
	b := p.BroadcastTo(s1, dimexpr.Consts(4, 8), []int64{0, 1})
	d := p.Binary("div", e, b)
	s2 := p.Reduce("reduce_max", d, false, 1)
	r := p.Unary("relu", s2)
	other := p.Reduce("reduce_min", x, false, 0)

	names := NewNameGenerator()
	treeOf := func(ops ...*opgraph.Operation) *ReduceTreePattern {
		var reduce StmtPattern = ConvertToStmtPattern(names, xslices.Last(ops))
		for ii := len(ops) - 2; ii >= 0; ii-- {
			reduce = mustMerge(t, names, ConvertToStmtPattern(names, ops[ii]), reduce)
		}
		return LiftToReduceTree(names, reduce.(*ReducePattern))
	}
	up := treeOf(op(e), op(s1))
	down := treeOf(op(b), op(d), op(s2))

	merged := mustMerge(t, names, up, down)
	checkMerge(t, up, down, merged, false)
	tree := merged.(*ReduceTreePattern)
	assert.Equal(t, down.Root(), tree.Root())
	require.Len(t, tree.Children(), 1)
	assert.Equal(t, up, tree.Children()[0])
	assert.Len(t, tree.FlattenReduces(), 2)
	assert.Empty(t, down.Children(), "merge must not change its inputs")
	last := xslices.Last(merged.Tracker().Instructions)
	assert.Equal(t, tracker.InstrCombine, last.Kind())

	// Not a direct producer: nothing to insert into.
	_, err := MergePattern(names, treeOf(op(other)), down)
	require.Error(t, err)
	assert.True(t, compileerr.IsInvariant(err))

	t.Run("ReduceTree x Trivial", func(t *testing.T) {
		relu := ConvertToStmtPattern(names, op(r)).(*TrivialPattern)
		rt := mustMerge(t, names, merged, relu)
		checkMerge(t, merged, relu, rt, true)
		require.IsType(t, &ReduceTreePlusTrivialPattern{}, rt)
		assert.Equal(t, &tracker.TmpTransformInstr{Upstream: merged.Name(), Downstream: relu.Name(), Result: rt.Name()},
			xslices.Last(rt.Tracker().Instructions))
		loops, err := LoopFramework(rt)
		require.NoError(t, err)
		assert.Equal(t, dimexpr.Consts(4, 8), loops)

		withFake := MergeReduceTreeAndTrivial(names, tree, relu, []int{0})
		assert.Equal(t, tracker.InstrTmpTransformWithFakeReduceIter, xslices.Last(withFake.Tracker().Instructions).Kind())
		assert.Equal(t, []int{0}, withFake.FakeReduceIterIdx())
	})
}

func TestMergeTrivialIntoReduceTreePlusTrivial(t *testing.T) {
	p := opgraph.New("test")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	s := p.Reduce("reduce_sum", e, false, 1)
	r := p.Unary("relu", s)

	names := NewNameGenerator()
	tree := LiftToReduceTree(names, ConvertToStmtPattern(names, op(s)).(*ReducePattern))
	rt := MergeReduceTreeAndTrivial(names, tree, ConvertToStmtPattern(names, op(r)).(*TrivialPattern), nil)
	t0 := ConvertToStmtPattern(names, op(e))

	merged := mustMerge(t, names, t0, rt)
	checkMerge(t, t0, rt, merged, true)
	got := merged.(*ReduceTreePlusTrivialPattern)
	assert.Equal(t, []*opgraph.Operation{op(e), op(s)}, got.Tree().Root().Ops())
	assert.Equal(t, []*opgraph.Operation{op(r)}, got.SinkTrivial().Ops())

	// A trivial pattern reading neither the tree nor the sink trivial keeps the pattern unchanged.
	y := p.Parameter(shapes.Make(dtypes.Float32, 4))
	unrelated := ConvertToStmtPattern(names, op(p.Unary("neg", y)))
	kept := mustMerge(t, names, unrelated, rt)
	require.IsType(t, &ReduceTreePlusTrivialPattern{}, kept)
	assert.Equal(t, rt.Ops(), kept.Ops())
	assert.Equal(t, &tracker.RenameInstr{OriginName: rt.Name(), NewName: kept.Name()},
		xslices.Last(kept.Tracker().Instructions))
}

func TestMergeAnchors(t *testing.T) {
	p := opgraph.New("test")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	n := p.Unary("neg", e)
	a := p.Binary("add", n, x)

	names := NewNameGenerator()
	t0 := ConvertToStmtPattern(names, op(e))
	anchorN, err := LiftToAnchor(names, ConvertToStmtPattern(names, op(n)))
	require.NoError(t, err)
	assert.Equal(t, n, anchorN.Anchor())
	require.Len(t, anchorN.State().Promises, 1)
	assert.Equal(t, anchorN.Name(), anchorN.State().Promises[0].RootName)
	assert.True(t, anchorN.CanRecompute())

	merged := mustMerge(t, names, t0, anchorN)
	checkMerge(t, t0, anchorN, merged, true)
	got := merged.(*AnchorPattern)
	assert.Equal(t, n, got.Anchor())
	require.Len(t, got.State().Promises, 1)
	assert.Equal(t, got.Name(), got.State().Promises[0].RootName)

	anchorA, err := LiftToAnchor(names, ConvertToStmtPattern(names, op(a)))
	require.NoError(t, err)
	both := mustMerge(t, names, got, anchorA)
	checkMerge(t, got, anchorA, both, true)
	assert.Equal(t, n, both.(*AnchorPattern).Anchor())
	assert.Empty(t, both.(*AnchorPattern).State().Promises)
	assert.Equal(t, &tracker.AnchorTransformInstr{Upstream: got.Name(), Downstream: anchorA.Name(),
		Result: both.Name(), Route: tracker.IdentityRoute(), IsUpstreamAnchor: true},
		xslices.Last(both.Tracker().Instructions))

	_, err = RecoverAnchorPatternToTrivial(names, both.(*AnchorPattern))
	require.Error(t, err)
	trivial, err := RecoverAnchorPatternToTrivial(names, got)
	require.NoError(t, err)
	assert.Equal(t, op(n), trivial.SinkOp())
	assert.Equal(t, &tracker.RenameInstr{OriginName: got.Name(), NewName: trivial.Name()},
		xslices.Last(trivial.Tracker().Instructions))

	routed := ApplyAnchorTransformRoute(got, tracker.Route{{Kind: tracker.TransformDeleteDim, Axes: []int{1}}})
	assert.Len(t, routed.State().Promises[0].Route, 2)
	assert.Len(t, got.State().Promises[0].Route, 1)

	_, err = LiftToAnchor(names, LiftToHorizontal(names, t0))
	require.Error(t, err)
}

func TestMergeHorizontal(t *testing.T) {
	p := opgraph.New("test")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 3))
	y := p.Parameter(shapes.Make(dtypes.Float32, 4, 1, 3))
	e := p.Unary("exp", x)
	n := p.Unary("neg", y)

	names := NewNameGenerator()
	h0 := LiftToHorizontal(names, ConvertToStmtPattern(names, op(e)))
	h1 := LiftToHorizontal(names, ConvertToStmtPattern(names, op(n)))
	assert.Equal(t, "Horizontal_0", h0.Name())
	assert.True(t, IsLoopFrameworkEqual(h0, h1))

	merged := mustMerge(t, names, h0, h1)
	checkMerge(t, h0, h1, merged, true)
	subs := merged.(*HorizontalPattern).PaddingPatterns()
	require.Len(t, subs, 2)
	assert.Equal(t, []int{1}, subs[0].PaddingPos)
	assert.Empty(t, subs[1].PaddingPos)
	assert.Equal(t, &tracker.CombineInstr{First: h0.Name(), Second: h1.Name(), Result: merged.Name(), FirstPadding: []int{1}},
		xslices.Last(merged.Tracker().Instructions))
	loops, err := LoopFramework(merged)
	require.NoError(t, err)
	assert.Equal(t, dimexpr.Consts(4, 1, 3), loops)
}

func TestGetPaddingVector(t *testing.T) {
	testCases := []struct {
		first, second []int
		padF, padS    []int
		wantErr       bool
	}{
		{first: []int{4, 3}, second: []int{4, 3}},
		{first: []int{4, 3}, second: []int{4, 1, 3}, padF: []int{1}},
		{first: []int{4, 1, 3}, second: []int{4, 3}, padS: []int{1}},
		{first: []int{4, 3, 1}, second: []int{1, 4, 3}, padF: []int{0}, padS: []int{3}},
		{first: []int{4, 1, 1, 3}, second: []int{4, 1, 3}, padS: []int{2}},
		{first: []int{4, 3}, second: []int{4, 5}, wantErr: true},
		{first: []int{4, 1, 3}, second: []int{4, 5, 3}, wantErr: true},
		{first: []int{4}, second: []int{4, 5}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%v_vs_%v", tc.first, tc.second), func(t *testing.T) {
			padF, padS, err := GetPaddingVector(dimexpr.Consts(tc.first...), dimexpr.Consts(tc.second...))
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, compileerr.IsInvariant(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.padF, padF)
			assert.Equal(t, tc.padS, padS)
		})
	}

	// Symbolic dimensions align only with themselves.
	padF, padS, err := GetPaddingVector(
		[]dimexpr.Expr{dimexpr.Symbol("S0"), dimexpr.Const(3)},
		[]dimexpr.Expr{dimexpr.Symbol("S0"), dimexpr.Const(1), dimexpr.Const(3)})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, padF)
	assert.Empty(t, padS)
}

func TestLoopFramework(t *testing.T) {
	p := opgraph.New("test")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8, 16))
	s := p.Reduce("reduce_sum", x, true, 1)
	c := p.CustomCall("my_kernel", []*opgraph.Value{x}, shapes.Make(dtypes.Float32, 4))

	names := NewNameGenerator()
	reduce := ConvertToStmtPattern(names, op(s))
	loops, err := LoopFramework(reduce)
	require.NoError(t, err)
	assert.Equal(t, dimexpr.Consts(4, 16, 8), loops)

	anchor, err := LiftToAnchor(names, reduce)
	require.NoError(t, err)
	assert.Equal(t, x, anchor.Anchor())
	assert.False(t, IsLoopFrameworkEqual(reduce, anchor))

	_, err = LoopFramework(ConvertToStmtPattern(names, c))
	require.Error(t, err)
	assert.True(t, compileerr.IsNotImplemented(err))

	assert.Equal(t, dimexpr.Consts(4, 3), SqueezeLoopFramework(dimexpr.Consts(1, 4, 1, 3)))
}

func TestPatternValues(t *testing.T) {
	p := opgraph.New("test")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	y := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	a := p.Binary("add", e, y)
	m := p.Binary("mul", a, e)
	p.Yield(m, a)

	names := NewNameGenerator()
	merged := mustMerge(t, names, ConvertToStmtPattern(names, op(e)), ConvertToStmtPattern(names, op(a)))
	assert.Equal(t, []*opgraph.Value{x, y}, GetPatternInputValues(merged))
	assert.Equal(t, []*opgraph.Value{e, a}, GetOutputValues(merged))
}

func TestNameGeneratorConcurrency(t *testing.T) {
	const numWorkers, perWorker = 8, 100
	names := NewNameGenerator()
	results := make([][]string, numWorkers)
	var wg sync.WaitGroup
	for w := range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				results[w] = append(results[w], names.Next(KindReduceTree))
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, workerNames := range results {
		for _, name := range workerNames {
			require.True(t, strings.HasPrefix(name, "RTree_"), name)
			require.False(t, seen[name], "duplicate name %q", name)
			seen[name] = true
		}
	}
	assert.Len(t, seen, numWorkers*perWorker)
	assert.True(t, seen[fmt.Sprintf("RTree_%d", numWorkers*perWorker-1)])

	// Counters are independent per kind.
	assert.Equal(t, "T_0", names.Next(KindTrivial))
	assert.Equal(t, "Horizontal_", KindHorizontal.NamePrefix())
}
