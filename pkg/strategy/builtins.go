// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"math"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/pkg/errors"
)

// UnaryOps are the element-wise operations with one operand, lowered as intrinsic calls (except "neg"
// and "relu").
var UnaryOps = []string{"exp", "log", "neg", "abs", "relu", "sqrt", "rsqrt", "tanh"}

// BinaryOps are the element-wise operations with two operands of the same shape.
var BinaryOps = map[string]func(a, b ir.Expr) *ir.Binary{
	"add": ir.Add,
	"sub": ir.Sub,
	"mul": ir.Mul,
	"div": ir.Div,
	"max": ir.Max,
	"min": ir.Min,
}

// ReduceOps are the supported reductions.
var ReduceOps = []string{"reduce_sum", "reduce_max", "reduce_min", "reduce_prod"}

func builtins() map[string]ComputeFn {
	fns := map[string]ComputeFn{
		"scale":     computeScale,
		"cast":      computeCast,
		"full":      computeFull,
		"broadcast": computeBroadcast,
		"reshape":   computeReshape,
		"transpose": computeTranspose,
	}
	for _, name := range UnaryOps {
		fns[name] = computeUnary
	}
	for name := range BinaryOps {
		fns[name] = computeBinary
	}
	for _, name := range ReduceOps {
		fns[name] = computeReduce
	}
	return fns
}

// load returns a load of t, with copies of the indices.
func load(t *ir.Tensor, indices []ir.Expr) *ir.Load {
	idx := make([]ir.Expr, len(indices))
	for ii, index := range indices {
		idx[ii] = ir.Copy(index)
	}
	return &ir.Load{Tensor: t, Indices: idx}
}

// constant returns a literal of the given dtype.
func constant(dtype dtypes.DType, value float64) ir.Expr {
	if dtype.IsFloat() {
		return ir.Float(dtype, value)
	}
	return &ir.IntConst{DType: dtype, Value: int64(value)}
}

func checkArity(req *Request, numInputs int) error {
	if len(req.Inputs) != numInputs {
		return errors.Wrapf(compileerr.ErrInvariant, "%s expects %d inputs, got %d", req.Op, numInputs, len(req.Inputs))
	}
	if len(req.OutputNames) != 1 || len(req.OutputShapes) != 1 {
		return errors.Wrapf(compileerr.ErrInvariant, "%s expects 1 output, got %d names and %d shapes",
			req.Op, len(req.OutputNames), len(req.OutputShapes))
	}
	return nil
}

func output(req *Request) *ir.Tensor {
	shape := req.OutputShapes[0]
	return ir.NewTensor(req.OutputNames[0], shape.DType, slices.Clone(shape.Dimensions))
}

func spatialResult(req *Request, numInputs int, value func(out *ir.Tensor, iterVars []ir.Expr) ir.Expr) (*Result, error) {
	if err := checkArity(req, numInputs); err != nil {
		return nil, err
	}
	out := output(req)
	body := spatialCompute(out, func(iterVars []ir.Expr) ir.Expr { return value(out, iterVars) })
	return &Result{Body: body, Outputs: []*ir.Tensor{out}}, nil
}

func computeUnary(req *Request) (*Result, error) {
	return spatialResult(req, 1, func(out *ir.Tensor, iterVars []ir.Expr) ir.Expr {
		x := load(req.Inputs[0], iterVars)
		switch req.Op.Name() {
		case "neg":
			return ir.Sub(constant(out.DType, 0), x)
		case "relu":
			return ir.Max(x, constant(out.DType, 0))
		default:
			return &ir.Call{Name: req.Op.Name(), DType: out.DType, Args: []ir.Expr{x}}
		}
	})
}

func computeBinary(req *Request) (*Result, error) {
	op, found := BinaryOps[req.Op.Name()]
	if !found {
		return nil, errors.Wrapf(compileerr.ErrInvariant, "%s is not a binary operation", req.Op)
	}
	return spatialResult(req, 2, func(_ *ir.Tensor, iterVars []ir.Expr) ir.Expr {
		return op(load(req.Inputs[0], iterVars), load(req.Inputs[1], iterVars))
	})
}

func computeScale(req *Request) (*Result, error) {
	scale := opgraph.FloatAttr(req.Op, opgraph.AttrScale, 1)
	bias := opgraph.FloatAttr(req.Op, opgraph.AttrBias, 0)
	return spatialResult(req, 1, func(out *ir.Tensor, iterVars []ir.Expr) ir.Expr {
		var value ir.Expr = load(req.Inputs[0], iterVars)
		if scale != 1 {
			value = ir.Mul(value, constant(out.DType, scale))
		}
		if bias != 0 {
			value = ir.Add(value, constant(out.DType, bias))
		}
		return value
	})
}

func computeCast(req *Request) (*Result, error) {
	return spatialResult(req, 1, func(out *ir.Tensor, iterVars []ir.Expr) ir.Expr {
		return &ir.Call{Name: "cast", DType: out.DType, Args: []ir.Expr{load(req.Inputs[0], iterVars)}}
	})
}

func computeFull(req *Request) (*Result, error) {
	value := opgraph.FloatAttr(req.Op, opgraph.AttrValue, 0)
	return spatialResult(req, 0, func(out *ir.Tensor, _ []ir.Expr) ir.Expr {
		return constant(out.DType, value)
	})
}

// computeBroadcast reads, for each input axis, index 0 if the axis has dimension 1, or the iteration variable
// of the output axis it is mapped to.
func computeBroadcast(req *Request) (*Result, error) {
	axes := opgraph.Int64sAttr(req.Op, opgraph.AttrBroadcastAxes)
	if err := checkArity(req, 1); err != nil {
		return nil, err
	}
	x := req.Inputs[0]
	if len(axes) != len(x.Shape) {
		return nil, errors.Wrapf(compileerr.ErrInvariant, "%s: broadcast axes %v don't match input %s", req.Op, axes, x)
	}
	return spatialResult(req, 1, func(out *ir.Tensor, iterVars []ir.Expr) ir.Expr {
		indices := make([]ir.Expr, len(axes))
		for ii, outAxis := range axes {
			if x.Shape[ii].IsOne() && !out.Shape[outAxis].IsOne() {
				indices[ii] = ir.Int(0)
			} else {
				indices[ii] = iterVars[outAxis]
			}
		}
		return load(x, indices)
	})
}

// computeReshape linearizes the output index and splits it back over the input dimensions.
func computeReshape(req *Request) (*Result, error) {
	return spatialResult(req, 1, func(out *ir.Tensor, iterVars []ir.Expr) ir.Expr {
		x := req.Inputs[0]
		if dimexpr.EqualSlices(x.Shape, out.Shape) {
			return load(x, iterVars)
		}
		var flat ir.Expr
		for ii, iterVar := range iterVars {
			if flat == nil {
				flat = ir.Copy(iterVar)
				continue
			}
			flat = ir.Add(ir.Mul(flat, ir.Dim(out.Shape[ii])), ir.Copy(iterVar))
		}
		if flat == nil {
			flat = ir.Int(0)
		}
		indices := make([]ir.Expr, len(x.Shape))
		stride := dimexpr.Const(1)
		for ii := len(x.Shape) - 1; ii >= 0; ii-- {
			var index ir.Expr = ir.Copy(flat)
			if !stride.IsOne() {
				index = ir.Div(index, ir.Dim(stride))
			}
			if ii > 0 {
				index = ir.Mod(index, ir.Dim(x.Shape[ii]))
			}
			indices[ii] = index
			stride = dimexpr.Mul(stride, x.Shape[ii])
		}
		return load(x, indices)
	})
}

// computeTranspose: output axis i is input axis perm[i].
func computeTranspose(req *Request) (*Result, error) {
	perm := opgraph.Int64sAttr(req.Op, opgraph.AttrPermutation)
	return spatialResult(req, 1, func(_ *ir.Tensor, iterVars []ir.Expr) ir.Expr {
		indices := make([]ir.Expr, len(perm))
		for outAxis, inAxis := range perm {
			indices[inAxis] = iterVars[outAxis]
		}
		return load(req.Inputs[0], indices)
	})
}

// reduceInitValue returns the identity of the reduction.
func reduceInitValue(opName string, dtype dtypes.DType) ir.Expr {
	switch opName {
	case "reduce_sum":
		return constant(dtype, 0)
	case "reduce_prod":
		return constant(dtype, 1)
	case "reduce_max":
		return extremeValue(dtype, dtype.LowestValue(), -math.MaxFloat32)
	case "reduce_min":
		return extremeValue(dtype, dtype.HighestValue(), math.MaxFloat32)
	}
	compileerr.Invariantf("unknown reduction %q", opName)
	return nil
}

// extremeValue converts the lowest or highest value of a dtype to a literal.
func extremeValue(dtype dtypes.DType, value any, floatDefault float64) ir.Expr {
	switch v := value.(type) {
	case float64:
		return ir.Float(dtype, v)
	case float32:
		return ir.Float(dtype, float64(v))
	case int64:
		return &ir.IntConst{DType: dtype, Value: v}
	case int32:
		return &ir.IntConst{DType: dtype, Value: int64(v)}
	case int16:
		return &ir.IntConst{DType: dtype, Value: int64(v)}
	case int8:
		return &ir.IntConst{DType: dtype, Value: int64(v)}
	case uint8:
		return &ir.IntConst{DType: dtype, Value: int64(v)}
	case uint16:
		return &ir.IntConst{DType: dtype, Value: int64(v)}
	case uint32:
		return &ir.IntConst{DType: dtype, Value: int64(v)}
	}
	return constant(dtype, floatDefault)
}

func reduceCombine(opName string, acc, value ir.Expr) ir.Expr {
	switch opName {
	case "reduce_sum":
		return ir.Add(acc, value)
	case "reduce_prod":
		return ir.Mul(acc, value)
	case "reduce_max":
		return ir.Max(acc, value)
	default:
		return ir.Min(acc, value)
	}
}

// computeReduce builds the loop nest of a reduction: the spatial (kept) axes outermost, then the reduced axes.
// The output is initialized by a "<name>__reduce_init" block placed inside the spatial loops.
func computeReduce(req *Request) (*Result, error) {
	if err := checkArity(req, 1); err != nil {
		return nil, err
	}
	opName := req.Op.Name()
	if !slices.Contains(ReduceOps, opName) {
		return nil, errors.Wrapf(compileerr.ErrInvariant, "%s is not a reduction", req.Op)
	}
	x := req.Inputs[0]
	reduceAxes := opgraph.ReduceAxes(req.Op)
	keepDim := opgraph.KeepDim(req.Op)
	out := output(req)
	out.IsReduce = true

	axes := newAxes(x.Shape, func(axis int) bool { return slices.Contains(reduceAxes, axis) })
	var spatial, reduced []*axis
	for _, a := range axes {
		if a.reduce {
			reduced = append(reduced, a)
		} else {
			spatial = append(spatial, a)
		}
	}

	// Output indices, in terms of the input iteration variables.
	outIndices := func() []ir.Expr {
		var indices []ir.Expr
		for _, a := range axes {
			if a.reduce {
				if keepDim {
					indices = append(indices, ir.Int(0))
				}
				continue
			}
			indices = append(indices, &ir.Var{Name: a.iterVar.Name})
		}
		if len(indices) == 0 {
			indices = []ir.Expr{ir.Int(0)}
		}
		return indices
	}

	initStore := &ir.Store{Tensor: out, Value: reduceInitValue(opName, out.DType), Indices: outIndices()}
	initBlock := realize(out.Name+"__reduce_init", spatial, initStore)

	// The reduce block iterates over spatial then reduced axes.
	ordered := append(slices.Clone(spatial), reduced...)
	value := reduceCombine(opName, load(out, outIndices()), load(x, iterExprs(axes)))
	reduceStore := &ir.Store{Tensor: out, Value: value, Indices: outIndices()}
	reduceBlock := wrapLoops(reduced, realize(out.Name, ordered, reduceStore))

	body := wrapLoops(spatial, ir.NewBlock(initBlock, reduceBlock))
	return &Result{Body: Root(out.Name, body), Outputs: []*ir.Tensor{out}}, nil
}
