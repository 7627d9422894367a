// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
)

// ForType is the kind of loop.
type ForType int

//go:generate go tool enumer -type=ForType -output=gen_fortype_enumer.go tensor.go

const (
	Serial ForType = iota
	Parallel
	Vectorized
	Unrolled
	GPUBlock
	GPUThread
)

// Buffer is the memory backing one or more tensors.
type Buffer struct {
	Name  string
	DType dtypes.DType
	Shape []dimexpr.Expr
}

// Tensor is a multi-dimensional array read by Load and written by Store.
//
// Tensors are shared by reference: the lowering keeps one Tensor per graph value, and later uses of the
// value overwrite its shape metadata instead of creating a new Tensor.
type Tensor struct {
	Name   string
	DType  dtypes.DType
	Shape  []dimexpr.Expr
	Buffer *Buffer

	// Reduce tensors are produced by a reduction, and need to be initialized.
	IsReduce bool
}

// NewTensor returns a tensor without buffer.
func NewTensor(name string, dtype dtypes.DType, shape []dimexpr.Expr) *Tensor {
	return &Tensor{Name: name, DType: dtype, Shape: shape}
}

// Placeholder returns a tensor with its own buffer, named after the tensor. Used for function arguments.
func Placeholder(name string, dtype dtypes.DType, shape []dimexpr.Expr) *Tensor {
	t := NewTensor(name, dtype, shape)
	t.WithBuffer()
	return t
}

// WithBuffer creates a buffer for the tensor, if it doesn't have one yet, and returns the tensor.
func (t *Tensor) WithBuffer() *Tensor {
	if t.Buffer == nil {
		t.Buffer = &Buffer{Name: "_" + t.Name, DType: t.DType, Shape: t.Shape}
	}
	return t
}

// BufferName returns the name of the tensor's buffer, or "" if it has none.
func (t *Tensor) BufferName() string {
	if t.Buffer == nil {
		return ""
	}
	return t.Buffer.Name
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	dims := make([]string, len(t.Shape))
	for ii, d := range t.Shape {
		dims[ii] = d.String()
	}
	return fmt.Sprintf("%s(%s)[%s]", t.Name, t.DType, strings.Join(dims, ", "))
}

// ArgumentIO is the direction of a function argument.
type ArgumentIO int

const (
	Input ArgumentIO = iota
	Output
)

// Argument of a LoweredFunc: either a buffer or a scalar variable (symbolic dimension).
type Argument struct {
	IO     ArgumentIO
	Buffer *Buffer
	Var    *Var
}

// IsBuffer returns whether the argument is a buffer.
func (a Argument) IsBuffer() bool { return a.Buffer != nil }

// IsVar returns whether the argument is a scalar variable.
func (a Argument) IsVar() bool { return a.Var != nil }

// Name of the argument's buffer or variable.
func (a Argument) Name() string {
	if a.Buffer != nil {
		return a.Buffer.Name
	}
	return a.Var.Name
}

// String implements fmt.Stringer.
func (a Argument) String() string {
	io := "in"
	if a.IO == Output {
		io = "out"
	}
	if a.IsBuffer() {
		return fmt.Sprintf("%s %s", io, a.Buffer.Name)
	}
	return fmt.Sprintf("%s int64 %s", io, a.Var.Name)
}

// LoweredFunc is the result of lowering a group: ready for code generation.
type LoweredFunc struct {
	Name        string
	Args        []Argument
	Body        Expr
	TempBuffers []*Buffer

	// LaunchDims holds the extents of the GPU axes ("blockIdx.x", "threadIdx.x") of GPU kernels.
	LaunchDims map[string]int64
}

// String implements fmt.Stringer.
func (f *LoweredFunc) String() string {
	var sb strings.Builder
	args := make([]string, len(f.Args))
	for ii, arg := range f.Args {
		args[ii] = arg.String()
	}
	fmt.Fprintf(&sb, "function %s (%s)\n", f.Name, strings.Join(args, ", "))
	if len(f.LaunchDims) > 0 {
		axes := slices.Sorted(maps.Keys(f.LaunchDims))
		dims := make([]string, len(axes))
		for ii, axis := range axes {
			dims[ii] = fmt.Sprintf("%s=%d", axis, f.LaunchDims[axis])
		}
		fmt.Fprintf(&sb, "launch(%s)\n", strings.Join(dims, ", "))
	}
	for _, buf := range f.TempBuffers {
		fmt.Fprintf(&sb, "temp %s\n", buf.Name)
	}
	sb.WriteString(String(f.Body))
	return sb.String()
}

// Module is the set of function bodies of a group, before scheduling: one expression per
// (possibly fused) computation.
type Module struct {
	Exprs []Expr
}

// NewModule returns a module with the given expressions.
func NewModule(exprs ...Expr) *Module {
	return &Module{Exprs: exprs}
}
