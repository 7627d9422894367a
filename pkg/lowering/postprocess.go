// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lowering

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/optim"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InferShapeCallName is the runtime function setting one dimension of one output shape.
const InferShapeCallName = "infer_shape_set_value"

// InferShapeArgsName is the variable holding the output shapes, written by the shape inference function.
const InferShapeArgsName = "tensor_shape_args"

// FuncSignature is the signature shared by the functions of a group: Tensors[i] is the tensor of Args[i] for
// buffer arguments, and nil for the scalar (symbolic dimension) arguments that follow them.
type FuncSignature struct {
	Args    []ir.Argument
	Tensors []*ir.Tensor
}

// storedTensors returns the tensors written by the bodies, in order of first store.
func storedTensors(bodies []ir.Expr) []*ir.Tensor {
	var tensors []*ir.Tensor
	seen := sets.Make[*ir.Tensor]()
	for _, body := range bodies {
		for _, e := range ir.Collect(body, func(e ir.Expr) bool { _, ok := e.(*ir.Store); return ok }) {
			t := e.(*ir.Store).Tensor
			if !seen.Has(t) {
				seen.Insert(t)
				tensors = append(tensors, t)
			}
		}
	}
	return tensors
}

// outputTensor returns the tensor holding the value of an output operation: the "_out" copy if one was built,
// and for erased reshapes the tensor of the reshaped operand.
func (c *lowerContext) outputTensor(op *opgraph.Operation, result *opgraph.Value) (*ir.Tensor, bool) {
	if c.eraseReshape.Has(op) {
		result = op.Operand(0)
	}
	t, found := c.tensorMap[result]
	if !found {
		return nil, false
	}
	if out, found := c.outCopies[t.Name]; found {
		return out, true
	}
	return t, true
}

// signature builds the arguments of the group functions: inputs in order of first use, then outputs in the
// order of the output operations, then the symbolic dimensions of the buffers. It fills the group's
// InputNames, OutputNames and IntArgsMap.
func (c *lowerContext) signature(bodies []ir.Expr, doneOpSchedule bool) *FuncSignature {
	sig := &FuncSignature{}
	group := c.group
	group.InputNames = nil
	group.OutputNames = nil
	group.IntArgsMap = make(map[int]opgraph.IntArgInfo)
	argBuffers := sets.Make[string]()
	addArg := func(io ir.ArgumentIO, t *ir.Tensor) {
		argBuffers.Insert(t.BufferName())
		sig.Args = append(sig.Args, ir.Argument{IO: io, Buffer: t.Buffer})
		sig.Tensors = append(sig.Tensors, t)
		if io == ir.Input {
			group.InputNames = append(group.InputNames, t.Name)
		} else {
			group.OutputNames = append(group.OutputNames, t.Name)
		}
	}

	for _, t := range c.funcArgTensors {
		if !argBuffers.Has(t.BufferName()) {
			addArg(ir.Input, t)
		}
	}
	for _, op := range group.OutputOps {
		for _, result := range op.Results() {
			t, found := c.outputTensor(op, result)
			if !found || argBuffers.Has(t.BufferName()) {
				continue
			}
			addArg(ir.Output, t)
		}
	}

	if !doneOpSchedule {
		// Without schedule every stored tensor is an output: there is no temporary.
		stored := sets.MakeWith(storedTensors(bodies)...)
		for _, op := range group.Ops {
			if c.eraseReshape.Has(op) {
				continue
			}
			for _, result := range op.Results() {
				t, found := c.tensorMap[result]
				if !found || !stored.Has(t) || argBuffers.Has(t.BufferName()) {
					continue
				}
				addArg(ir.Output, t)
			}
		}
	}

	numTensors := len(sig.Args)
	symbols := sets.Make[string]()
	for tensorIdx := range numTensors {
		for dimIdx, dim := range sig.Tensors[tensorIdx].Shape {
			if !dim.IsSymbol() {
				continue
			}
			symbol := dim.Symbols()[0]
			if symbols.Has(symbol) {
				continue
			}
			symbols.Insert(symbol)
			group.IntArgsMap[len(sig.Args)] = opgraph.IntArgInfo{ArgIdx: tensorIdx, DimIdx: dimIdx}
			sig.Args = append(sig.Args, ir.Argument{IO: ir.Input, Var: ir.NewVar(symbol)})
			sig.Tensors = append(sig.Tensors, nil)
		}
	}
	return sig
}

// PostProcess turns the scheduled bodies into lowered functions sharing one signature. On GPU the loops bound
// to GPU axes are replaced by their launch dimensions. Stored tensors that are not arguments become temporary
// buffers. If pass is set, the target-independent optimizations are applied.
func (c *lowerContext) PostProcess(bodies []ir.Expr, doneOpSchedule, pass bool) ([]*ir.LoweredFunc, *FuncSignature) {
	sig := c.signature(bodies, doneOpSchedule)
	argBuffers := sets.Make[string]()
	for _, arg := range sig.Args {
		if arg.IsBuffer() {
			argBuffers.Insert(arg.Buffer.Name)
		}
	}

	funcs := make([]*ir.LoweredFunc, 0, len(bodies))
	for _, body := range bodies {
		fn := &ir.LoweredFunc{Name: c.group.FuncName, Args: slices.Clone(sig.Args)}
		if c.lowerer.target.IsGPU() {
			optimized, launchDims, err := optim.OptimizeExprGPU(body)
			compileerr.PanicOnError(errors.WithMessagef(err, "GPU optimization of %s", c.group.FuncName))
			body = optimized
			if len(launchDims) > 0 {
				fn.LaunchDims = launchDims
			}
		}
		temps := sets.Make[string]()
		for _, t := range storedTensors([]ir.Expr{body}) {
			t.WithBuffer()
			name := t.BufferName()
			if argBuffers.Has(name) || temps.Has(name) {
				continue
			}
			temps.Insert(name)
			fn.TempBuffers = append(fn.TempBuffers, t.Buffer)
		}
		if pass {
			body = optim.Optimize(body)
		}
		fn.Body = body
		funcs = append(funcs, fn)
	}
	if klog.V(1).Enabled() {
		for _, fn := range funcs {
			klog.Infof("Lowered %s", fn)
		}
	}
	return funcs, sig
}

// GenerateInferShapeFunc returns the function computing the output shapes of a dynamic-shape group: for each
// dimension of each output it calls infer_shape_set_value(output index, dimension index, value, shapes).
func GenerateInferShapeFunc(group *opgraph.Group, sig *FuncSignature) *ir.LoweredFunc {
	shapeArgs := ir.NewVar(InferShapeArgsName)
	var stmts []ir.Expr
	outputIdx := 0
	for ii, arg := range sig.Args {
		if !arg.IsBuffer() || arg.IO != ir.Output {
			continue
		}
		for dimIdx, dim := range sig.Tensors[ii].Shape {
			stmts = append(stmts, &ir.Call{
				Name:  InferShapeCallName,
				DType: dtypes.InvalidDType,
				Args:  []ir.Expr{ir.Int(int64(outputIdx)), ir.Int(int64(dimIdx)), ir.Dim(dim), shapeArgs},
			})
		}
		outputIdx++
	}
	return &ir.LoweredFunc{
		Name: group.FuncName + "_infer_shape",
		Args: slices.Clone(sig.Args),
		Body: ir.NewBlock(stmts...),
	}
}
