// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lowering

import (
	"fmt"
	"slices"

	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/ir/irutil"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/schedule"
	"github.com/gomlx/opfusion/pkg/strategy"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"k8s.io/klog/v2"
)

// BroadcastTransformType is the only alignment transform supported.
const BroadcastTransformType = "broadcast"

const broadcastOpName = "broadcast"

// alignmentInputDims returns the static dimensions the broadcast of op starts from.
func alignmentInputDims(op *opgraph.Operation) []int64 {
	v := op.Result(0)
	if op.Name() != schedule.ReshapeOpName && op.Name() != broadcastOpName && op.NumOperands() == 1 {
		v = op.Operand(0)
	}
	dims := v.Shape().StaticDims()
	if slices.Contains(dims, -1) {
		compileerr.NotImplementedf("broadcast alignment of %s with symbolic shape %s", op, v.Shape())
	}
	return dims
}

// BroadcastAlignment converts the alignment transform of op into the broadcast rewrite of its loop nest.
// The changed axes are, in order of precedence:
//
//   - every output axis, for a single element input;
//   - the axes where the input differs from the output, for inputs of the same rank as the axes mapping;
//   - the mapped axes otherwise.
//
// Input dimensions that change must be 1.
func BroadcastAlignment(op *opgraph.Operation, transform opgraph.AlignmentTransform) schedule.BroadcastInfo {
	if transform.Type != BroadcastTransformType {
		compileerr.Invariantf("alignment of %s: unsupported transform type %q", op, transform.Type)
	}
	inDims := alignmentInputDims(op)
	outShape := make([]int64, len(transform.FactorInfo))
	for ii, dim := range transform.FactorInfo {
		value, ok := dim.StaticValue()
		if !ok {
			compileerr.NotImplementedf("alignment of %s: symbolic broadcast dimension %s", op, dim)
		}
		outShape[ii] = value
	}
	axes := transform.AxisInfo
	outDim := func(axis int64) int64 {
		if axis < 0 || axis >= int64(len(outShape)) {
			compileerr.Invariantf("alignment of %s: axis %d out of range of output shape %v", op, axis, outShape)
		}
		return outShape[axis]
	}

	info := schedule.BroadcastInfo{OpName: op.Name()}
	isScalar := len(inDims) == 1 && inDims[0] == 1
	switch {
	case isScalar:
		for ii, dim := range outShape {
			info.BroadcastAxes = append(info.BroadcastAxes, int64(ii))
			info.OutputShape = append(info.OutputShape, dim)
		}
		info.FullBroadcast = true
	case len(inDims) == len(axes):
		for ii, axis := range axes {
			target := outDim(axis)
			if inDims[ii] == target {
				continue
			}
			if inDims[ii] != 1 {
				compileerr.Invariantf("alignment of %s: only broadcasts of dimensions 1 are supported, axis %d is %d, broadcast to %d",
					op, ii, inDims[ii], target)
			}
			info.BroadcastAxes = append(info.BroadcastAxes, int64(ii))
			info.OutputShape = append(info.OutputShape, target)
		}
	default:
		for _, axis := range axes {
			if axis < 0 || axis >= int64(len(inDims)) {
				compileerr.Invariantf("alignment of %s: axis %d out of range of input dimensions %v", op, axis, inDims)
			}
			if inDims[axis] != 1 {
				compileerr.Invariantf("alignment of %s: only broadcasts of dimensions 1 are supported, axis %d is %d",
					op, axis, inDims[axis])
			}
			info.BroadcastAxes = append(info.BroadcastAxes, axis)
			info.OutputShape = append(info.OutputShape, outDim(axis))
		}
	}
	if len(info.BroadcastAxes) == 0 {
		compileerr.Invariantf("alignment of %s: no axis changed (input %v, axes %v, output %v)", op, inDims, axes, outShape)
	}
	return info
}

// applyAlignmentSchedule records the broadcast rewrites of the operations with an alignment transform, and
// propagates them to the element-wise consumers.
func (c *lowerContext) applyAlignmentSchedule() {
	for _, op := range c.group.Ops {
		transforms, found := c.group.AlignmentScheduleInfo[op]
		if !found || len(transforms) == 0 {
			continue
		}
		if len(transforms) > 1 {
			compileerr.Invariantf("alignment of %s: only one transform per operation is supported, got %d", op, len(transforms))
		}
		if op.Name() == schedule.ReshapeOpName && op.Result(0).UseCount() == 1 && opgraph.UsedOnlyByYield(op.Result(0)) {
			continue
		}
		info := BroadcastAlignment(op, transforms[0])
		for _, operand := range op.Operands() {
			if _, aligned := c.group.AlignmentScheduleInfo[operand.DefiningOp()]; operand.IsParameter() || !aligned {
				info.FirstBroadcast = true
				break
			}
		}
		name := op.Result(0).Name()
		c.broadcastInfo[name] = info
		klog.V(2).Infof("Group %s: broadcast %s: %s", c.group.FuncName, name, info)

		if info.FullBroadcast {
			continue
		}
		for _, user := range op.Result(0).Users() {
			if user.IsYield() || user.Kind() > opgraph.Broadcast {
				continue
			}
			c.broadcastToElementwise[user.Result(0).Name()] = info
		}
	}
}

// collectOutputVars decides which outputs are copied to a separate tensor: outputs also used inside the
// group, and the operands of erased reshapes.
func (c *lowerContext) collectOutputVars() {
	for _, op := range c.group.OutputOps {
		if c.eraseReshape.Has(op) {
			c.copyedVarNames.Insert(op.Operand(0).Name())
			continue
		}
		for _, result := range op.Results() {
			t, found := c.tensorMap[result]
			if !found {
				continue
			}
			if result.UseCount() <= 1 {
				c.directOutputVarNames.Insert(t.Name)
				continue
			}
			c.copyedVarNames.Insert(t.Name)
			if info, found := c.broadcastInfo[t.Name]; found {
				info.WithConstrain = true
				c.broadcastInfo[t.Name+OutputCopySuffix] = info
			}
		}
	}
}

// buildOutputCopies returns the loop nests copying the copied outputs of the remaining operations.
func (c *lowerContext) buildOutputCopies() []ir.Expr {
	var bodies []ir.Expr
	for _, op := range c.remainOps {
		name := op.Result(0).Name()
		if c.copyedVarNames.Has(name) {
			bodies = append(bodies, c.BuildOutputExpr(c.tensorOf(op.Result(0))))
		}
	}
	return bodies
}

// outputCopy returns the "_out" tensor of t, creating it if needed.
func (c *lowerContext) outputCopy(t *ir.Tensor) *ir.Tensor {
	out, found := c.outCopies[t.Name]
	if !found {
		out = ir.Placeholder(t.Name+OutputCopySuffix, t.DType, slices.Clone(t.Shape))
		c.outCopies[t.Name] = out
	}
	return out
}

// BuildOutputExpr returns the loop nest copying t into its "_out" tensor: one loop per axis of t, except for
// axes of dimension 1, read and written at index 0.
func (c *lowerContext) BuildOutputExpr(t *ir.Tensor) ir.Expr {
	out := c.outputCopy(t)
	var loopVars []*ir.Var
	var extents []ir.Expr
	indices := make([]ir.Expr, len(t.Shape))
	for axis, dim := range t.Shape {
		if dim.IsOne() {
			indices[axis] = ir.Int(0)
			continue
		}
		v := ir.NewVar(fmt.Sprintf("i%d", axis))
		loopVars = append(loopVars, v)
		extents = append(extents, ir.Dim(dim))
		indices[axis] = v
	}
	if len(indices) == 0 {
		indices = []ir.Expr{ir.Int(0)}
	}
	load := &ir.Load{Tensor: t, Indices: indices}
	body := irutil.WrapStore(out, indices).
		Then(irutil.WrapScheduleRealizer(loopVars, out.Name)).
		Then(irutil.WrapFors(loopVars, extents)).
		Apply(load)
	return strategy.Root(out.Name, body)
}
