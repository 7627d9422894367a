// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opgraph

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/core/shapes"
)

// Attribute keys used by the built-in operations.
const (
	AttrAxes          = "axes"
	AttrKeepDim       = "keepdim"
	AttrBroadcastAxes = "broadcast_axes"
	AttrOutShape      = "out_shape"
	AttrPermutation   = "perm"
	AttrScale         = "scale"
	AttrBias          = "bias"
	AttrValue         = "value"
	AttrDType         = "dtype"
	AttrCallTarget    = "call_target"
)

// Unary creates an element-wise operation with one operand, e.g. "exp".
func (p *Program) Unary(name string, x *Value) *Value {
	return p.Op(name, nil, []*Value{x}, x.shape).Result(0)
}

// Binary creates an element-wise operation with two operands of the same shape, e.g. "add".
func (p *Program) Binary(name string, x, y *Value) *Value {
	if !x.shape.Equal(y.shape) {
		exceptions.Panicf("Program.Binary(%q): operands must have the same shape, got %s and %s -- use BroadcastTo first",
			name, x.shape, y.shape)
	}
	return p.Op(name, nil, []*Value{x, y}, x.shape).Result(0)
}

// Scale returns x*scale + bias.
func (p *Program) Scale(x *Value, scale, bias float64) *Value {
	return p.Op("scale", map[string]any{AttrScale: scale, AttrBias: bias}, []*Value{x}, x.shape).Result(0)
}

// Cast converts x to dtype.
func (p *Program) Cast(x *Value, dtype dtypes.DType) *Value {
	shape := x.shape.Clone()
	shape.DType = dtype
	return p.Op("cast", map[string]any{AttrDType: dtype}, []*Value{x}, shape).Result(0)
}

// Full creates a value of the given shape filled with value.
func (p *Program) Full(shape shapes.Shape, value float64) *Value {
	return p.Op("full", map[string]any{AttrValue: value}, nil, shape).Result(0)
}

// BroadcastTo broadcasts x to the output dimensions. broadcastAxes maps each axis of x to an axis of the output,
// and each axis of x must either match the output dimension or be 1.
func (p *Program) BroadcastTo(x *Value, outDims []dimexpr.Expr, broadcastAxes []int64) *Value {
	if len(broadcastAxes) != x.shape.Rank() {
		exceptions.Panicf("Program.BroadcastTo: broadcastAxes %v must have one entry per axis of x %s", broadcastAxes, x.shape)
	}
	for ii, axis := range broadcastAxes {
		if axis < 0 || int(axis) >= len(outDims) {
			exceptions.Panicf("Program.BroadcastTo: broadcast axis %d out of range for output rank %d", axis, len(outDims))
		}
		inDim := x.shape.Dimensions[ii]
		if !inDim.IsOne() && !inDim.Equal(outDims[axis]) {
			exceptions.Panicf("Program.BroadcastTo: input axis %d has dimension %s, which can't be broadcast to %s",
				ii, inDim, outDims[axis])
		}
	}
	attrs := map[string]any{AttrBroadcastAxes: slices.Clone(broadcastAxes), AttrOutShape: slices.Clone(outDims)}
	return p.Op("broadcast", attrs, []*Value{x}, shapes.MakeSymbolic(x.shape.DType, slices.Clone(outDims)...)).Result(0)
}

// Reshape changes the dimensions of x, keeping the number of elements.
func (p *Program) Reshape(x *Value, dims ...dimexpr.Expr) *Value {
	out := shapes.MakeSymbolic(x.shape.DType, dims...)
	if x.shape.IsStatic() && out.IsStatic() && x.shape.Numel().Value() != out.Numel().Value() {
		exceptions.Panicf("Program.Reshape: cannot reshape %s to %s", x.shape, out)
	}
	return p.Op("reshape", map[string]any{AttrOutShape: slices.Clone(dims)}, []*Value{x}, out).Result(0)
}

// Transpose permutes the axes of x: output axis i is input axis perm[i].
func (p *Program) Transpose(x *Value, perm ...int) *Value {
	if len(perm) != x.shape.Rank() {
		exceptions.Panicf("Program.Transpose: permutation %v doesn't match rank of %s", perm, x.shape)
	}
	dims := make([]dimexpr.Expr, len(perm))
	for ii, axis := range perm {
		dims[ii] = x.shape.Dimensions[axis]
	}
	attrs := map[string]any{AttrPermutation: slices.Clone(perm)}
	return p.Op("transpose", attrs, []*Value{x}, shapes.MakeSymbolic(x.shape.DType, dims...)).Result(0)
}

// Reduce creates a reduction operation (e.g. "reduce_sum") over the given axes. Negative axes count from the end.
func (p *Program) Reduce(name string, x *Value, keepDim bool, axes ...int) *Value {
	rank := x.shape.Rank()
	normalized := make([]int64, len(axes))
	for ii, axis := range axes {
		if axis < 0 {
			axis += rank
		}
		if axis < 0 || axis >= rank {
			exceptions.Panicf("Program.Reduce(%q): axis %d out of range for %s", name, axes[ii], x.shape)
		}
		normalized[ii] = int64(axis)
	}
	var dims []dimexpr.Expr
	for axis, dim := range x.shape.Dimensions {
		if slices.Contains(normalized, int64(axis)) {
			if keepDim {
				dims = append(dims, dimexpr.Const(1))
			}
			continue
		}
		dims = append(dims, dim)
	}
	if len(dims) == 0 {
		dims = []dimexpr.Expr{dimexpr.Const(1)}
	}
	attrs := map[string]any{AttrAxes: normalized, AttrKeepDim: keepDim}
	return p.Op(name, attrs, []*Value{x}, shapes.MakeSymbolic(x.shape.DType, dims...)).Result(0)
}

// CustomCall creates an operation delegated to an external API registered under target.
func (p *Program) CustomCall(target string, operands []*Value, resultShapes ...shapes.Shape) *Operation {
	return p.Op("custom_call", map[string]any{AttrCallTarget: target}, operands, resultShapes...)
}

// ReduceAxes returns the (non-negative) reduced axes of a reduction operation.
func ReduceAxes(op *Operation) []int {
	axes, _ := op.attrs[AttrAxes].([]int64)
	rank := op.operands[0].shape.Rank()
	out := make([]int, len(axes))
	for ii, axis := range axes {
		if axis < 0 {
			axis += int64(rank)
		}
		out[ii] = int(axis)
	}
	return out
}

// KeepDim returns whether a reduction operation keeps the reduced axes as dimension 1.
func KeepDim(op *Operation) bool {
	keep, _ := op.attrs[AttrKeepDim].(bool)
	return keep
}

// Int64sAttr returns an attribute holding a list of integers, or nil.
func Int64sAttr(op *Operation, key string) []int64 {
	switch v := op.attrs[key].(type) {
	case []int64:
		return v
	case []int:
		out := make([]int64, len(v))
		for ii, e := range v {
			out[ii] = int64(e)
		}
		return out
	}
	return nil
}

// DimsAttr returns an attribute holding a list of dimensions, or nil.
func DimsAttr(op *Operation, key string) []dimexpr.Expr {
	dims, _ := op.attrs[key].([]dimexpr.Expr)
	return dims
}

// FloatAttr returns a float attribute, or defaultValue if not set.
func FloatAttr(op *Operation, key string, defaultValue float64) float64 {
	if v, ok := op.attrs[key].(float64); ok {
		return v
	}
	return defaultValue
}
