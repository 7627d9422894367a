// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/ir/irutil"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ReshapeOpName is the name of the reshape operation, whose loads are rewritten differently by Broadcast.
const ReshapeOpName = "reshape"

// broadcastTarget returns the loops enclosing the block and the block realize.
func (s *IRSchedule) broadcastTarget(name string, axes []int64) ([]*ir.For, *ir.ScheduleBlockRealize, error) {
	if len(axes) == 0 {
		return nil, nil, errors.Wrapf(compileerr.ErrInvariant, "broadcast of block %q has no axes", name)
	}
	loops, err := s.GetLoops(name)
	if err != nil {
		return nil, nil, err
	}
	for _, axis := range axes {
		if axis < 0 || axis >= int64(len(loops)) {
			return nil, nil, errors.Wrapf(compileerr.ErrInvariant,
				"broadcast axis %d of block %q exceeds its %d loops", axis, name, len(loops))
		}
	}
	realize, err := s.GetBlock(name)
	if err != nil {
		return nil, nil, err
	}
	return loops, realize, nil
}

func loads(e ir.Expr) []*ir.Load {
	found := irutil.ChildTensorLoads.Apply(e)
	out := make([]*ir.Load, len(found))
	for ii, l := range found {
		out[ii] = l.(*ir.Load)
	}
	return out
}

func stores(e ir.Expr) []*ir.Store {
	found := irutil.ChildTensorStores.Apply(e)
	out := make([]*ir.Store, len(found))
	for ii, st := range found {
		out[ii] = st.(*ir.Store)
	}
	return out
}

func copyVar(v *ir.Var) *ir.Var {
	return &ir.Var{Name: v.Name, IsReduceAxis: v.IsReduceAxis}
}

// guardFirstIteration wraps the block body in `if (loopVar == 0)`.
func guardFirstIteration(block *ir.ScheduleBlock, loopVar *ir.Var) {
	block.Body = ir.NewBlock(&ir.IfThenElse{Cond: ir.EQ(copyVar(loopVar), ir.Int(0)), Then: block.Body})
}

// Broadcast rewrites the loop nest of the named block to broadcast its input: the loops at info.BroadcastAxes
// get the extents of info.OutputShape, and the indices are changed so the broadcast axes read index 0 of the
// input. See BroadcastInfo for the options.
func (s *IRSchedule) Broadcast(name string, info BroadcastInfo) error {
	axes := info.BroadcastAxes
	loops, realize, err := s.broadcastTarget(name, axes)
	if err != nil {
		return err
	}
	if len(info.OutputShape) != len(axes) {
		return errors.Wrapf(compileerr.ErrInvariant, "broadcast of block %q: %d axes but output shape %v",
			name, len(axes), info.OutputShape)
	}
	klog.V(4).Infof("Broadcast(%s): %s", name, info)
	block := realize.Block
	if info.SplitFirst {
		return s.broadcastSplitFirst(name, info, loops, block)
	}

	for ii, axis := range axes {
		loop := loops[axis]
		loop.Extent = ir.Int(info.OutputShape[ii])
		if !info.FullBroadcast {
			if int(axis) >= len(realize.IterValues) {
				return errors.Wrapf(compileerr.ErrInvariant, "broadcast axis %d of block %q has no iteration value", axis, name)
			}
			realize.IterValues[axis] = copyVar(loop.LoopVar)
		}
		if info.WithConstrain {
			guardFirstIteration(block, loop.LoopVar)
		}
	}
	if !info.FirstBroadcast || info.FullBroadcast {
		return nil
	}

	zeroIterVars := func(load *ir.Load) {
		replacements := make(map[string]func() ir.Expr, len(axes))
		for _, axis := range axes {
			replacements[block.IterVars[axis].Name] = func() ir.Expr { return ir.Int(0) }
		}
		for k, index := range load.Indices {
			load.Indices[k] = replaceVarsInPlace(index, replacements)
		}
	}
	if info.OpName == ReshapeOpName {
		for _, load := range loads(block.Body) {
			zeroIterVars(load)
		}
		return nil
	}
	for _, load := range loads(block.Body) {
		switch {
		case len(load.Indices) == len(realize.IterValues):
			for _, axis := range axes {
				load.Indices[axis] = ir.Int(0)
			}
		case len(load.Indices) < len(realize.IterValues):
			zeroIterVars(load)
		default:
			return errors.Wrapf(compileerr.ErrNotImplemented,
				"broadcast of block %q: load %s has more indices than the block has iteration values (%d)",
				name, ir.Str(load), len(realize.IterValues))
		}
	}
	return nil
}

// broadcastSplitFirst implements Broadcast over flattened tensors: the first index of stores becomes the linear
// offset over all loops, and the first index of loads the same offset or, for the first broadcast of a chain, the
// offset over the non-broadcast loops only.
func (s *IRSchedule) broadcastSplitFirst(name string, info BroadcastInfo, loops []*ir.For, block *ir.ScheduleBlock) error {
	for ii, axis := range info.BroadcastAxes {
		loop := loops[axis]
		loop.Extent = ir.Int(info.OutputShape[ii])
		if info.WithConstrain {
			guardFirstIteration(block, loop.LoopVar)
		}
	}
	loops, err := s.GetLoops(name)
	if err != nil {
		return err
	}
	broadcastSet := sets.MakeWith(info.BroadcastAxes...)
	newOffsets := func() (offset, inOffset ir.Expr) {
		offset, inOffset = ir.Int(0), ir.Int(0)
		var stride, inStride ir.Expr = ir.Int(1), ir.Int(1)
		for ii := len(loops) - 1; ii >= 0; ii-- {
			loop := loops[ii]
			offset = ir.Add(offset, ir.Mul(copyVar(loop.LoopVar), ir.Copy(stride)))
			stride = ir.Mul(stride, ir.Copy(loop.Extent))
			if !broadcastSet.Has(int64(ii)) {
				inOffset = ir.Add(inOffset, ir.Mul(copyVar(loop.LoopVar), ir.Copy(inStride)))
				inStride = ir.Mul(inStride, ir.Copy(loop.Extent))
			}
		}
		return
	}
	for _, store := range stores(block.Body) {
		if len(store.Indices) == 0 {
			return errors.Wrapf(compileerr.ErrInvariant, "broadcast of block %q: store without indices", name)
		}
		offset, _ := newOffsets()
		store.Indices[0] = offset
	}
	for _, load := range loads(block.Body) {
		if len(load.Indices) == 0 {
			continue
		}
		offset, inOffset := newOffsets()
		if info.FirstBroadcast {
			load.Indices[0] = inOffset
		} else {
			load.Indices[0] = offset
		}
	}
	return nil
}

// BroadcastToElementwise rewrites the loads of the named block, the elementwise consumer of a broadcast value:
// the indices are extended to one per enclosing loop (new ones read 0), and the indices at axes read the
// corresponding iteration variables. Loop extents are not changed. Loads with more indices than enclosing
// loops are an invariant error.
func (s *IRSchedule) BroadcastToElementwise(name string, axes []int64) error {
	loops, realize, err := s.broadcastTarget(name, axes)
	if err != nil {
		return err
	}
	block := realize.Block
	for _, axis := range axes {
		if int(axis) >= len(block.IterVars) {
			return errors.Wrapf(compileerr.ErrInvariant, "BroadcastToElementwise(%s): axis %d has no iteration variable", name, axis)
		}
	}
	klog.V(4).Infof("BroadcastToElementwise(%s): axes=%v", name, axes)
	for _, load := range loads(block.Body) {
		if len(load.Indices) > len(loops) {
			return errors.Wrapf(compileerr.ErrInvariant, "BroadcastToElementwise(%s): load %s has more indices than the %d enclosing loops",
				name, ir.Str(load), len(loops))
		}
		indices := slices.Clone(load.Indices)
		for len(indices) < len(loops) {
			indices = append(indices, ir.Int(0))
		}
		for _, axis := range axes {
			indices[axis] = copyVar(block.IterVars[axis])
		}
		load.Indices = indices
	}
	return nil
}
