// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/optim"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/gomlx/opfusion/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPowerOf2(t *testing.T) {
	assert.Equal(t, int64(1), NextPowerOf2(int64(1)))
	assert.Equal(t, int64(1), NextPowerOf2(int64(0)))
	assert.Equal(t, 1024, NextPowerOf2(1000))
	for n := int64(1); n <= 5000; n++ {
		p := NextPowerOf2(n)
		require.GreaterOrEqual(t, p, n)
		require.Less(t, p, 2*n+1)
		require.Zero(t, p&(p-1), "NextPowerOf2(%d)=%d is not a power of 2", n, p)
	}
	for shift := 0; shift < 40; shift++ {
		n := int64(1) << shift
		require.Equal(t, n, NextPowerOf2(n))
	}
}

func TestComputeTileConfig(t *testing.T) {
	testCases := []struct {
		flatten, reduce int64
		want            TileConfig
	}{
		{1000, 1, TileConfig{BlockNum: 1, WarpNum: 8, FlattenBlock: 1024, FlattenInnerNum: 4, ReduceBlock: 1, ReduceInnerNum: 1, ReduceType: -1}},
		{5000, 1, TileConfig{BlockNum: 5, WarpNum: 8, FlattenBlock: 1024, FlattenInnerNum: 4, ReduceBlock: 1, ReduceInnerNum: 1, ReduceType: -1}},
		{3, 1, TileConfig{BlockNum: 1, WarpNum: 1, FlattenBlock: 4, FlattenInnerNum: 1, ReduceBlock: 1, ReduceInnerNum: 1, ReduceType: -1}},
		{16, 100, TileConfig{BlockNum: -1, WarpNum: 8, FlattenBlock: 2, FlattenInnerNum: 2, ReduceBlock: 128, ReduceInnerNum: 4, ReduceType: ReduceTypeWarp}},
		{16, 2, TileConfig{BlockNum: -1, WarpNum: 8, FlattenBlock: 128, FlattenInnerNum: 128, ReduceBlock: 2, ReduceInnerNum: 2, ReduceType: ReduceTypeWarp}},
		{16, 300, TileConfig{BlockNum: -1, WarpNum: 2, FlattenBlock: 1, FlattenInnerNum: 1, ReduceBlock: 512, ReduceInnerNum: 8, ReduceType: -1}},
		{16, 4096, TileConfig{BlockNum: -1, WarpNum: 8, FlattenBlock: 1, FlattenInnerNum: 1, ReduceBlock: 2048, ReduceInnerNum: 16, ReduceType: -1}},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("flatten=%d,reduce=%d", tc.flatten, tc.reduce), func(t *testing.T) {
			got, err := ComputeTileConfig(tc.flatten, tc.reduce)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	// Purity and bounds.
	for flatten := int64(1); flatten <= 4096; flatten += 37 {
		first, err := ComputeTileConfig(flatten, 1)
		require.NoError(t, err)
		second, err := ComputeTileConfig(flatten, 1)
		require.NoError(t, err)
		require.Equal(t, first, second)
		require.LessOrEqual(t, first.FlattenBlock, int64(MaxBlockSize))
		require.LessOrEqual(t, first.FlattenInnerNum*first.WarpNum*WarpSize, int64(MaxBlockSize))
		require.GreaterOrEqual(t, first.BlockNum*first.FlattenBlock, flatten)
	}

	_, err := ComputeTileConfig(-1, 4)
	require.Error(t, err)
	assert.True(t, compileerr.IsInvariant(err))
}

func TestNewGroupTileInfo(t *testing.T) {
	info, err := NewGroupTileInfo([]int64{16, 300}, []int64{-1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, info.ReduceAxis)
	assert.Equal(t, 2, info.DataRank)
	assert.Equal(t, int64(16), info.FlattenNumel)
	assert.Equal(t, int64(300), info.ReduceNumel)
	assert.Equal(t, int64(512), info.ReduceBlock)
	assert.True(t, info.HasReduce())
	assert.NotNil(t, info.BroadcastInfo)
	assert.Empty(t, info.CopyedVarNames)

	info, err = NewGroupTileInfo([]int64{8, 4}, nil)
	require.NoError(t, err)
	assert.False(t, info.HasReduce())
	assert.Equal(t, int64(32), info.FlattenBlock)

	_, err = NewGroupTileInfo([]int64{8, 4}, []int64{2})
	require.Error(t, err)
}

// copyNest builds `for i0 ... for ik { out[i] = in[i] }` in a root block named "root_<out>".
func copyNest(in, out *ir.Tensor, extents ...ir.Expr) *ir.ScheduleBlockRealize {
	iterVars := make([]*ir.Var, len(extents))
	iterValues := make([]ir.Expr, len(extents))
	storeIdx := make([]ir.Expr, len(extents))
	loadIdx := make([]ir.Expr, len(in.Shape))
	for ii, extent := range extents {
		iterVars[ii] = ir.NewVar(fmt.Sprintf("i%d_0", ii))
		if ir.IsConstValue(extent, 1) {
			iterValues[ii] = ir.Int(0)
		} else {
			iterValues[ii] = ir.NewVar(fmt.Sprintf("i%d", ii))
		}
		storeIdx[ii] = ir.NewVar(fmt.Sprintf("i%d_0", ii))
	}
	for ii := range loadIdx {
		loadIdx[ii] = ir.NewVar(fmt.Sprintf("i%d_0", ii))
	}
	var body ir.Expr = &ir.ScheduleBlockRealize{
		IterValues: iterValues,
		Block: &ir.ScheduleBlock{IterVars: iterVars, Name: out.Name, Body: ir.NewBlock(
			&ir.Store{Tensor: out, Value: &ir.Load{Tensor: in, Indices: loadIdx}, Indices: storeIdx})},
	}
	for ii := len(extents) - 1; ii >= 0; ii-- {
		body = ir.NewFor(ir.NewVar(fmt.Sprintf("i%d", ii)), extents[ii], body)
	}
	return &ir.ScheduleBlockRealize{Block: &ir.ScheduleBlock{Name: "root_" + out.Name, Body: ir.NewBlock(body)}}
}

func tensor(name string, dims ...int64) *ir.Tensor {
	return ir.NewTensor(name, dtypes.Float32, dimexpr.Consts(dims...))
}

func ints(values ...int64) []ir.Expr {
	out := make([]ir.Expr, len(values))
	for ii, v := range values {
		out[ii] = ir.Int(v)
	}
	return out
}

func firstLoad(t *testing.T, r *ir.ScheduleBlockRealize) *ir.Load {
	found := loads(r.Block.Body)
	require.NotEmpty(t, found)
	return found[0]
}

func firstStore(t *testing.T, r *ir.ScheduleBlockRealize) *ir.Store {
	found := stores(r.Block.Body)
	require.NotEmpty(t, found)
	return found[0]
}

func TestBroadcast(t *testing.T) {
	t.Run("FirstBroadcast", func(t *testing.T) {
		sch := New(ir.NewModule(copyNest(tensor("X", 1), tensor("Y", 8), ints(1)...)))
		require.NoError(t, sch.Broadcast("Y", BroadcastInfo{BroadcastAxes: []int64{0}, OutputShape: []int64{8}, FirstBroadcast: true}))
		loops, err := sch.GetLoops("Y")
		require.NoError(t, err)
		require.Len(t, loops, 1)
		assert.Equal(t, "8", ir.Str(loops[0].Extent))
		realize, err := sch.GetBlock("Y")
		require.NoError(t, err)
		assert.Equal(t, "i0", ir.Str(realize.IterValues[0]))
		assert.Equal(t, "i0_0", ir.Str(firstStore(t, realize).Indices[0]))
		assert.Equal(t, "X[0]", ir.Str(firstLoad(t, realize)))
	})

	t.Run("NotFirst", func(t *testing.T) {
		sch := New(ir.NewModule(copyNest(tensor("X", 1), tensor("Y", 8), ints(1)...)))
		require.NoError(t, sch.Broadcast("Y", BroadcastInfo{BroadcastAxes: []int64{0}, OutputShape: []int64{8}}))
		realize, err := sch.GetBlock("Y")
		require.NoError(t, err)
		assert.Equal(t, "X[i0_0]", ir.Str(firstLoad(t, realize)))
	})

	t.Run("FullBroadcastWithConstrain", func(t *testing.T) {
		sch := New(ir.NewModule(copyNest(tensor("X", 1), tensor("Y", 4, 8), ints(4, 1)...)))
		info := BroadcastInfo{BroadcastAxes: []int64{1}, OutputShape: []int64{8}, FullBroadcast: true, WithConstrain: true, FirstBroadcast: true}
		require.NoError(t, sch.Broadcast("Y", info))
		realize, err := sch.GetBlock("Y")
		require.NoError(t, err)
		// Full broadcasts keep the iteration values.
		assert.Equal(t, "0", ir.Str(realize.IterValues[1]))
		require.Len(t, realize.Block.Body.Stmts, 1)
		guard, ok := realize.Block.Body.Stmts[0].(*ir.IfThenElse)
		require.True(t, ok)
		assert.Equal(t, "(i1 == 0)", ir.Str(guard.Cond))
		assert.Equal(t, "X[i0_0]", ir.Str(firstLoad(t, realize)))
	})

	t.Run("LowerRankLoad", func(t *testing.T) {
		sch := New(ir.NewModule(copyNest(tensor("X", 4), tensor("Y", 4, 8), ints(4, 1)...)))
		realize, err := sch.GetBlock("Y")
		require.NoError(t, err)
		firstLoad(t, realize).Indices = []ir.Expr{ir.Add(ir.NewVar("i0_0"), ir.NewVar("i1_0"))}
		require.NoError(t, sch.Broadcast("Y", BroadcastInfo{BroadcastAxes: []int64{1}, OutputShape: []int64{8}, FirstBroadcast: true}))
		assert.Equal(t, "X[(i0_0 + 0)]", ir.Str(firstLoad(t, realize)))
		assert.Equal(t, "i1", ir.Str(realize.IterValues[1]))
	})

	t.Run("Reshape", func(t *testing.T) {
		sch := New(ir.NewModule(copyNest(tensor("X", 4, 1), tensor("Y", 4, 8), ints(4, 1)...)))
		info := BroadcastInfo{BroadcastAxes: []int64{1}, OutputShape: []int64{8}, FirstBroadcast: true, OpName: ReshapeOpName}
		require.NoError(t, sch.Broadcast("Y", info))
		realize, err := sch.GetBlock("Y")
		require.NoError(t, err)
		assert.Equal(t, "X[i0_0, 0]", ir.Str(firstLoad(t, realize)))
	})

	t.Run("SplitFirst", func(t *testing.T) {
		sch := New(ir.NewModule(copyNest(tensor("X", 4), tensor("Y", 32), ints(4, 1)...)))
		info := BroadcastInfo{BroadcastAxes: []int64{1}, OutputShape: []int64{8}, FirstBroadcast: true, SplitFirst: true}
		require.NoError(t, sch.Broadcast("Y", info))
		realize, err := sch.GetBlock("Y")
		require.NoError(t, err)
		assert.Equal(t, "((0 + (i1 * 1)) + (i0 * (1 * 8)))", ir.Str(firstStore(t, realize).Indices[0]))
		assert.Equal(t, "(0 + (i0 * 1))", ir.Str(firstLoad(t, realize).Indices[0]))
	})

	t.Run("Errors", func(t *testing.T) {
		sch := New(ir.NewModule(copyNest(tensor("X", 1), tensor("Y", 8), ints(1)...)))
		err := sch.Broadcast("Y", BroadcastInfo{BroadcastAxes: []int64{1}, OutputShape: []int64{8}})
		require.Error(t, err)
		assert.True(t, compileerr.IsInvariant(err))
		require.Error(t, sch.Broadcast("Z", BroadcastInfo{BroadcastAxes: []int64{0}, OutputShape: []int64{8}}))

		sch = New(ir.NewModule(copyNest(tensor("X", 1, 1), tensor("Y", 8), ints(1)...)))
		err = sch.Broadcast("Y", BroadcastInfo{BroadcastAxes: []int64{0}, OutputShape: []int64{8}, FirstBroadcast: true})
		require.Error(t, err)
		assert.True(t, compileerr.IsNotImplemented(err))
	})
}

func TestBroadcastToElementwise(t *testing.T) {
	sch := New(ir.NewModule(copyNest(tensor("X", 4), tensor("Y", 4, 8), ints(4, 8)...)))
	require.NoError(t, sch.BroadcastToElementwise("Y", []int64{1}))
	realize, err := sch.GetBlock("Y")
	require.NoError(t, err)
	assert.Equal(t, "X[i0_0, i1_0]", ir.Str(firstLoad(t, realize)))
	loops, err := sch.GetLoops("Y")
	require.NoError(t, err)
	assert.Equal(t, "8", ir.Str(loops[1].Extent))

	// A load of higher rank than the loop nest is not truncated.
	sch = New(ir.NewModule(copyNest(tensor("X", 4, 8, 2), tensor("Y", 4, 8), ints(4, 8)...)))
	err = sch.BroadcastToElementwise("Y", []int64{1})
	require.Error(t, err)
	assert.True(t, compileerr.IsInvariant(err))
	realize, err = sch.GetBlock("Y")
	require.NoError(t, err)
	assert.Equal(t, "X[i0_0, i1_0, i2_0]", ir.Str(firstLoad(t, realize)))
}

func TestSplitAndFuse(t *testing.T) {
	sch := New(ir.NewModule(copyNest(tensor("X", 4, 6), tensor("Y", 4, 6), ints(4, 6)...)))
	loops, err := sch.GetLoops("Y")
	require.NoError(t, err)
	fused, err := sch.Fuse(loops)
	require.NoError(t, err)
	assert.Equal(t, "i0_i1_fused", fused.LoopVar.Name)
	assert.Equal(t, "24", ir.Str(fused.Extent))
	realize, err := sch.GetBlock("Y")
	require.NoError(t, err)
	assert.Equal(t, "(i0_i1_fused / 6)", ir.Str(realize.IterValues[0]))
	assert.Equal(t, "(i0_i1_fused % 6)", ir.Str(realize.IterValues[1]))

	outer, inner, err := sch.Split(fused, 5)
	require.NoError(t, err)
	assert.Equal(t, "5", ir.Str(outer.Extent))
	assert.Equal(t, "5", ir.Str(inner.Extent))
	guard, ok := inner.Body.Stmts[0].(*ir.IfThenElse)
	require.True(t, ok)
	assert.Equal(t, "(((i0_i1_fused_outer * 5) + i0_i1_fused_inner) < 24)", ir.Str(guard.Cond))
	assert.Equal(t, "(((i0_i1_fused_outer * 5) + i0_i1_fused_inner) % 6)", ir.Str(realize.IterValues[1]))

	loops, err = sch.GetLoops("Y")
	require.NoError(t, err)
	require.Len(t, loops, 2)
	sch.Bind(loops[0], BlockIdxX)
	assert.Equal(t, ir.GPUBlock, loops[0].ForType)
}

func TestFuseUnequalExtents(t *testing.T) {
	sch := New(ir.NewModule(copyNest(tensor("X", 2, 3, 4), tensor("Y", 2, 3, 4), ints(2, 3, 4)...)))
	loops, err := sch.GetLoops("Y")
	require.NoError(t, err)
	require.Len(t, loops, 3)
	fused, err := sch.Fuse(loops)
	require.NoError(t, err)
	assert.Equal(t, "24", ir.Str(fused.Extent))
	loops, err = sch.GetLoops("Y")
	require.NoError(t, err)
	require.Len(t, loops, 1)

	realize, err := sch.GetBlock("Y")
	require.NoError(t, err)
	assert.Equal(t, "(i0_i1_i2_fused / 12)", ir.Str(realize.IterValues[0]))
	assert.Equal(t, "((i0_i1_i2_fused / 4) % 3)", ir.Str(realize.IterValues[1]))
	assert.Equal(t, "(i0_i1_i2_fused % 4)", ir.Str(realize.IterValues[2]))

	// Every value of the fused loop variable recovers a distinct (i0, i1, i2), in row-major order.
	for f := range int64(24) {
		got := make([]int64, 3)
		for axis, value := range realize.IterValues {
			folded := optim.Simplify(ir.ReplaceVars(value, map[string]ir.Expr{fused.LoopVar.Name: ir.Int(f)}))
			v, ok := ir.ConstValue(folded)
			require.True(t, ok, "iteration value %s didn't fold", ir.Str(folded))
			got[axis] = v
		}
		require.Equal(t, []int64{f / 12, (f / 4) % 3, f % 4}, got, "fused index %d", f)
	}
}

func TestMergeExprs(t *testing.T) {
	sch := New(ir.NewModule(
		copyNest(tensor("X", 4), tensor("Y", 4), ints(4)...),
		copyNest(tensor("Y", 4), tensor("Z", 4), ints(4)...)))
	sch.MergeExprs()
	require.Len(t, sch.Exprs(), 1)
	root := sch.Exprs()[0].(*ir.ScheduleBlockRealize)
	assert.Equal(t, RootBlockName, root.Block.Name)
	assert.Len(t, root.Block.Body.Stmts, 2)
	blocks := sch.GetAllBlocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, "Y", blocks[0].Block.Name)
	assert.Equal(t, "Z", blocks[1].Block.Name)
}

func TestStaticGroupScheduler(t *testing.T) {
	tileInfo, err := NewGroupTileInfo([]int64{4, 300}, nil)
	require.NoError(t, err)
	tileInfo.BroadcastInfo["Y"] = BroadcastInfo{BroadcastAxes: []int64{1}, OutputShape: []int64{300}, FirstBroadcast: true}

	for _, tgt := range []target.Target{target.NVGPU(), target.Host()} {
		t.Run(tgt.Arch.String(), func(t *testing.T) {
			sch := New(ir.NewModule(copyNest(tensor("X", 4, 1), tensor("Y", 4, 300), ints(4, 1)...)))
			sch.MergeExprs()
			scheduler := NewGroupScheduler(sch, sets.MakeWith("Y"), tgt, false, tileInfo)
			require.NoError(t, scheduler.Schedule())
			irs := scheduler.GetIRs()
			require.Len(t, irs, 1)
			assert.Equal(t, "true", ir.Str(irs[0].Predicate))

			loops, err := sch.GetLoops("Y")
			require.NoError(t, err)
			realize, err := sch.GetBlock("Y")
			require.NoError(t, err)
			if tgt.IsGPU() {
				require.Len(t, loops, 2)
				assert.Equal(t, BlockIdxX, loops[0].BindAxis)
				assert.Equal(t, "2", ir.Str(loops[0].Extent))
				assert.Equal(t, ThreadIdxX, loops[1].BindAxis)
				assert.Equal(t, "1024", ir.Str(loops[1].Extent))
			} else {
				require.Len(t, loops, 1)
				assert.Equal(t, "1200", ir.Str(loops[0].Extent))
				assert.Equal(t, ir.Serial, loops[0].ForType)
				assert.Equal(t, "(i0_i1_fused / 300)", ir.Str(realize.IterValues[0]))
				assert.Equal(t, "(i0_i1_fused % 300)", ir.Str(realize.IterValues[1]))
				assert.Equal(t, "X[i0_0, 0]", ir.Str(firstLoad(t, realize)))
			}
		})
	}
}

func TestDynamicGroupScheduler(t *testing.T) {
	x := ir.NewTensor("X", dtypes.Float32, []dimexpr.Expr{dimexpr.Symbol("S0"), dimexpr.Const(4)})
	y := ir.NewTensor("Y", dtypes.Float32, []dimexpr.Expr{dimexpr.Symbol("S0"), dimexpr.Const(4)})

	sch := New(ir.NewModule(copyNest(x, y, ir.NewVar("S0"), ir.Int(4))))
	sch.MergeExprs()
	scheduler := NewGroupScheduler(sch, sets.MakeWith("Y"), target.NVGPU(), true, nil)
	require.NoError(t, scheduler.Schedule())
	buckets := scheduler.GetIRs()
	require.Len(t, buckets, 2)
	assert.Equal(t, "((S0 * 4) <= 1024)", ir.Str(buckets[0].Predicate))
	assert.Equal(t, "((S0 * 4) > 1024)", ir.Str(buckets[1].Predicate))
	outer0 := topLevelLoops(buckets[0].Body.(*ir.ScheduleBlockRealize))[0]
	outer1 := topLevelLoops(buckets[1].Body.(*ir.ScheduleBlockRealize))[0]
	assert.Equal(t, ThreadIdxX, outer0.BindAxis)
	assert.Equal(t, BlockIdxX, outer1.BindAxis)

	// Host: a single bucket.
	sch = New(ir.NewModule(copyNest(x, y, ir.NewVar("S0"), ir.Int(4))))
	sch.MergeExprs()
	scheduler = NewGroupScheduler(sch, sets.MakeWith("Y"), target.Host(), true, nil)
	require.NoError(t, scheduler.Schedule())
	require.Len(t, scheduler.GetIRs(), 1)
}

func TestDefaultOpSchedule(t *testing.T) {
	body, err := DefaultOpSchedule(copyNest(tensor("X", 2, 8), tensor("Y", 2, 8), ints(2, 8)...), target.NVGPU())
	require.NoError(t, err)
	loops := topLevelLoops(body.(*ir.ScheduleBlockRealize))
	require.Len(t, loops, 1)
	assert.Equal(t, ThreadIdxX, loops[0].BindAxis)
	assert.Equal(t, "16", ir.Str(loops[0].Extent))

	_, err = DefaultOpSchedule(ir.Int(0), target.Host())
	require.Error(t, err)
}
