// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape: an element dtype plus a list of dimensions, where each dimension
// may be static or symbolic (see package dimexpr).
//
// Use Make for static shapes and MakeSymbolic for shapes with dynamic axes:
//
//	static := shapes.Make(dtypes.Float32, 4, 3)
//	dynamic := shapes.MakeSymbolic(dtypes.Float32, dimexpr.Symbol("S0"), dimexpr.Const(3))
package shapes

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/support/xslices"
)

// Shape of a value: dtype and dimensions. A scalar has no dimensions.
type Shape struct {
	DType      dtypes.DType
	Dimensions []dimexpr.Expr
}

// Make returns a static shape.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: make([]dimexpr.Expr, len(dimensions))}
	for ii, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s, %v): cannot create a shape with an axis with dimension <= 0", dtype, dimensions)
		}
		s.Dimensions[ii] = dimexpr.Const(int64(dim))
	}
	return s
}

// MakeSymbolic returns a shape with the given (static or symbolic) dimensions.
func MakeSymbolic(dtype dtypes.DType, dimensions ...dimexpr.Expr) Shape {
	return Shape{DType: dtype, Dimensions: dimensions}
}

// Scalar returns a scalar shape (rank 0) of the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// Ok returns whether the shape has a valid dtype.
func (s Shape) Ok() bool {
	return s.DType != dtypes.InvalidDType
}

// Rank of the shape.
func (s Shape) Rank() int {
	return len(s.Dimensions)
}

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool {
	return s.Rank() == 0
}

// Dim returns the dimension of the axis, which can be negative (counting from the end).
func (s Shape) Dim(axis int) dimexpr.Expr {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// IsStatic returns whether all dimensions are static.
func (s Shape) IsStatic() bool {
	for _, d := range s.Dimensions {
		if !d.IsStatic() {
			return false
		}
	}
	return true
}

// StaticDims returns the dimensions as integers, with -1 for symbolic dimensions.
func (s Shape) StaticDims() []int64 {
	return xslices.Map(s.Dimensions, dimexpr.Expr.Value)
}

// Numel returns the number of elements as a dimension expression.
func (s Shape) Numel() dimexpr.Expr {
	return dimexpr.Product(s.Dimensions...)
}

// IsUnitScalar returns whether the shape is a scalar or a rank-1 shape with dimension 1.
// Both are broadcast to every axis.
func (s Shape) IsUnitScalar() bool {
	return s.Rank() == 0 || (s.Rank() == 1 && s.Dimensions[0].IsOne())
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && dimexpr.EqualSlices(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: append([]dimexpr.Expr(nil), s.Dimensions...)}
}

// String implements fmt.Stringer, e.g. "(Float32)[4 S0]".
func (s Shape) String() string {
	parts := xslices.Map(s.Dimensions, dimexpr.Expr.String)
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}
