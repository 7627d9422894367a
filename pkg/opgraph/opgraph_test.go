// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opgraph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var MS = shapes.Make

func TestProgram(t *testing.T) {
	p := New("test")
	x := p.Parameter(MS(dtypes.Float32, 4, 8))
	e := p.Unary("exp", x)
	s := p.Reduce("reduce_sum", e, true, -1)
	b := p.BroadcastTo(s, dimexpr.Consts(4, 8), []int64{0, 1})
	d := p.Binary("div", e, b)
	p.Yield(d)

	assert.Equal(t, "var_0", x.Name())
	assert.True(t, x.IsParameter())
	assert.Equal(t, []int64{4, 1}, s.Shape().StaticDims())
	assert.Equal(t, []int{1}, ReduceAxes(s.DefiningOp()))
	assert.True(t, KeepDim(s.DefiningOp()))
	assert.Equal(t, Reduction, s.DefiningOp().Kind())
	assert.Equal(t, Broadcast, b.DefiningOp().Kind())
	assert.Equal(t, 2, e.UseCount())
	assert.Len(t, p.Ops(), 4)

	// One-hop consumers, deduplicated and excluding the yield.
	assert.Equal(t, []*Operation{s.DefiningOp(), d.DefiningOp()}, FindDownstreamOps(e.DefiningOp()))
	assert.Empty(t, FindDownstreamOps(d.DefiningOp()))
	assert.Equal(t, []*Operation{e.DefiningOp(), b.DefiningOp()}, FindUpstreamOps(d.DefiningOp()))
	assert.True(t, UsedOnlyByYield(d))

	require.Panics(t, func() { p.Binary("add", x, s) })
	require.Panics(t, func() { p.BroadcastTo(x, dimexpr.Consts(4, 9), []int64{0, 1}) })
}

func TestGroup(t *testing.T) {
	p := New("test")
	x := p.Parameter(MS(dtypes.Float32, 16, 32))
	e := p.Unary("exp", x)
	m := p.Reduce("reduce_max", e, false, 1)
	r := p.Unary("relu", m)
	p.Yield(r, e)

	g := NewGroup("fn_test", r.DefiningOp(), e.DefiningOp(), m.DefiningOp())
	assert.Equal(t, []*Operation{e.DefiningOp(), m.DefiningOp(), r.DefiningOp()}, g.Ops)
	assert.Equal(t, Reduction, g.Kind)
	assert.Equal(t, []*Value{e, r}, g.OutputValues)
	assert.Equal(t, []int64{16, 32}, g.LoopRanges)
	assert.Equal(t, []int64{1}, g.ReduceAxis)
	assert.True(t, g.IsOutputOp(e.DefiningOp()))
	assert.False(t, g.IsOutputOp(m.DefiningOp()))

	g2 := NewGroup("fn_exp", e.DefiningOp())
	assert.Equal(t, ElementWise, g2.Kind)
	assert.Equal(t, []int64{16, 32}, g2.LoopRanges)

	g.AddBroadcastAlignment(r.DefiningOp(), []int64{0}, dimexpr.Consts(16))
	require.Len(t, g.AlignmentScheduleInfo[r.DefiningOp()], 1)
	assert.Equal(t, "broadcast", g.AlignmentScheduleInfo[r.DefiningOp()][0].Type)

	kind, err := OpPatternKindString("reduction")
	require.NoError(t, err)
	assert.Equal(t, Reduction, kind)
	assert.True(t, Injective.IsTrivial())
	assert.False(t, Reduction.IsTrivial())
}
