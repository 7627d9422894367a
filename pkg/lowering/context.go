// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lowering

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/schedule"
	"github.com/gomlx/opfusion/pkg/strategy"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OutputCopySuffix is appended to the name of a group output copied to a separate tensor.
const OutputCopySuffix = "_out"

// lowerContext holds the state of the lowering of one group. It is created by each call to Lower or BucketLower,
// so concurrent lowerings never share it.
type lowerContext struct {
	lowerer  *OpLowerer
	group    *opgraph.Group
	symbolic bool

	// tensorMap has one tensor per value: all uses of a value share it.
	tensorMap map[*opgraph.Value]*ir.Tensor

	// funcArgTensors are the input tensors of the group, in order of first use.
	funcArgTensors []*ir.Tensor
	tmpTensors     []*ir.Tensor

	// eraseReshape are the reshapes whose only use is the program yield: their output is the buffer of their
	// operand, so their loop nest is dropped.
	eraseReshape sets.Set[*opgraph.Operation]

	// remainOps are the operations whose loop nests are kept, in group order.
	remainOps []*opgraph.Operation

	// opBodies are the loop nests of the remaining operations, used by the fusion.
	opBodies map[*opgraph.Operation]ir.Expr

	copyedVarNames         sets.Set[string]
	directOutputVarNames   sets.Set[string]
	broadcastInfo          map[string]schedule.BroadcastInfo
	broadcastToElementwise map[string]schedule.BroadcastInfo

	// outCopies are the "_out" tensors of copied outputs, keyed by the name of the copied tensor.
	outCopies map[string]*ir.Tensor
}

func newLowerContext(l *OpLowerer, group *opgraph.Group, symbolic bool) *lowerContext {
	return &lowerContext{
		lowerer:                l,
		group:                  group,
		symbolic:               symbolic,
		tensorMap:              make(map[*opgraph.Value]*ir.Tensor),
		eraseReshape:           sets.Make[*opgraph.Operation](),
		opBodies:               make(map[*opgraph.Operation]ir.Expr),
		copyedVarNames:         sets.Make[string](),
		directOutputVarNames:   sets.Make[string](),
		broadcastInfo:          make(map[string]schedule.BroadcastInfo),
		broadcastToElementwise: make(map[string]schedule.BroadcastInfo),
		outCopies:              make(map[string]*ir.Tensor),
	}
}

// tensorOf returns the tensor of a value lowered in this group. It panics if the value wasn't lowered.
func (c *lowerContext) tensorOf(v *opgraph.Value) *ir.Tensor {
	t, found := c.tensorMap[v]
	if !found {
		compileerr.Invariantf("group %s: value %s has no tensor", c.group.FuncName, v.Name())
	}
	return t
}

// isEraseReshape returns whether op is a reshape whose result is only used by the program yield.
// Groups with a single operation keep their reshape.
func isEraseReshape(ops []*opgraph.Operation, op *opgraph.Operation) bool {
	if len(ops) <= 1 || op.Name() != schedule.ReshapeOpName || op.NumResults() != 1 {
		return false
	}
	result := op.Result(0)
	return result.UseCount() == 1 && opgraph.UsedOnlyByYield(result)
}

// LowerOps computes the loop nest of every operation and returns the bodies to merge, in group order.
//
// If applyOpSchedule is set, the operations accepted by determine get the default operation schedule and the
// loop nests are not fused. Otherwise, if fusion is enabled, the loop nests are fused.
func (c *lowerContext) LowerOps(ops []*opgraph.Operation, applyOpSchedule bool, determine scheduleDetermineFn) []ir.Expr {
	var bodies []ir.Expr
	for _, op := range ops {
		if klog.V(2).Enabled() {
			klog.Infof("Lowering op %s", op)
		}
		inputs := c.CollectInputTensor(op, true)
		body := c.DoOpLower(op, inputs)
		if isEraseReshape(ops, op) {
			c.eraseReshape.Insert(op)
			continue
		}
		if applyOpSchedule && determine(op) {
			scheduled, err := schedule.DefaultOpSchedule(body, c.lowerer.target)
			compileerr.PanicOnError(errors.WithMessagef(err, "operation schedule of %s", op))
			body = scheduled
		}
		c.opBodies[op] = body
		c.remainOps = append(c.remainOps, op)
		bodies = append(bodies, body)
	}
	if c.lowerer.fusion && !applyOpSchedule && len(c.remainOps) > 1 {
		return c.fuse()
	}
	return bodies
}

// CollectInputTensor returns the tensors of the operands of op, creating them on their first use.
// Operands produced outside the group become function inputs if recordArgs is set. A value used again gets
// its shape metadata overwritten on the shared tensor.
func (c *lowerContext) CollectInputTensor(op *opgraph.Operation, recordArgs bool) []*ir.Tensor {
	tensors := make([]*ir.Tensor, 0, op.NumOperands())
	for _, v := range op.Operands() {
		shape := v.Shape()
		t, found := c.tensorMap[v]
		if !found {
			t = ir.Placeholder(v.Name(), shape.DType, slices.Clone(shape.Dimensions))
			c.tensorMap[v] = t
			if recordArgs {
				c.funcArgTensors = append(c.funcArgTensors, t)
			}
		} else {
			t.DType = shape.DType
			t.Shape = slices.Clone(shape.Dimensions)
		}
		tensors = append(tensors, t)
	}
	return tensors
}

// computeFn returns the compute strategy of op, static or symbolic.
func (c *lowerContext) computeFn(op *opgraph.Operation) strategy.ComputeFn {
	var fn strategy.ComputeFn
	var err error
	if c.symbolic {
		fn, err = c.lowerer.registry.Symbolic(op.Name())
	} else {
		fn, err = c.lowerer.registry.Static(op.Name())
	}
	compileerr.PanicOnError(err)
	return fn
}

// DoOpLower runs the compute strategy of op and records its output tensors. It returns the loop nest.
func (c *lowerContext) DoOpLower(op *opgraph.Operation, inputs []*ir.Tensor) ir.Expr {
	req := &strategy.Request{Op: op, Inputs: inputs, Target: c.lowerer.target}
	for _, result := range op.Results() {
		req.OutputNames = append(req.OutputNames, result.Name())
		req.OutputShapes = append(req.OutputShapes, result.Shape())
	}
	result, err := c.computeFn(op)(req)
	compileerr.PanicOnError(errors.WithMessagef(err, "computing %s", op))
	if len(result.Outputs) != op.NumResults() {
		compileerr.Invariantf("compute strategy of %s returned %d outputs for %d results",
			op, len(result.Outputs), op.NumResults())
	}
	for ii, out := range result.Outputs {
		c.tensorMap[op.Result(ii)] = out.WithBuffer()
	}
	c.tmpTensors = append(c.tmpTensors, result.Temps...)
	return result.Body
}
