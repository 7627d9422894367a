// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildExp builds: for i in [0,8): ScheduleBlock(y) { y[i] = exp(x[i]) }
func buildExp() (Expr, *Tensor, *Tensor) {
	x := Placeholder("x", dtypes.Float32, dimexpr.Consts(8))
	y := NewTensor("y", dtypes.Float32, dimexpr.Consts(8))
	i := NewVar("i")
	i0 := NewVar("i_0")
	body := &Store{Tensor: y, Value: &Call{Name: "exp", DType: dtypes.Float32, Args: []Expr{&Load{Tensor: x, Indices: []Expr{i0}}}},
		Indices: []Expr{i0}}
	realize := &ScheduleBlockRealize{
		IterValues: []Expr{i},
		Block:      &ScheduleBlock{IterVars: []*Var{i0}, Name: "y", Body: NewBlock(body)},
	}
	return NewFor(i, Int(8), realize), x, y
}

func TestPrinter(t *testing.T) {
	e, _, _ := buildExp()
	want := `for (i, 0, 8) {
  ScheduleBlock(y) {
    i_0 = axis.bind[S](i)
    y[i_0] = exp(x[i_0])
  }
}`
	assert.Equal(t, want, String(e))
	assert.Equal(t, "min((a + 1), 2.0f)", Str(Min(Add(NewVar("a"), Int(1)), Float(dtypes.Float32, 2))))
}

func TestCopyAndMutate(t *testing.T) {
	e, x, _ := buildExp()
	c := Copy(e)
	require.Equal(t, String(e), String(c))

	// Copies share tensors but not nodes.
	loads := Collect(c, func(e Expr) bool { _, ok := e.(*Load); return ok })
	require.Len(t, loads, 1)
	assert.Same(t, x, loads[0].(*Load).Tensor)
	c.(*For).Extent = Int(16)
	assert.True(t, IsConstValue(e.(*For).Extent, 8))

	// Transform never changes its input.
	before := String(e)
	replaced := Transform(e, func(node Expr) Expr {
		if l, ok := node.(*Load); ok {
			return &Call{Name: "neg", Args: []Expr{l}}
		}
		return node
	})
	assert.Equal(t, before, String(e))
	assert.Contains(t, String(replaced), "exp(neg(x[i_0]))")

	// ReplaceVars only changes uses, not declarations.
	r := ReplaceVars(e, map[string]Expr{"i": Int(0)})
	assert.Contains(t, String(r), "i_0 = axis.bind[S](0)")
	assert.Contains(t, String(r), "for (i, 0, 8)")
}

func TestFloatPrecision(t *testing.T) {
	bf := Float(dtypes.BFloat16, 1.1).Value
	assert.Equal(t, float64(bfloat16.FromFloat32(1.1).Float32()), bf)
	assert.NotEqual(t, 1.1, bf)
	assert.Equal(t, 1.099609375, Float(dtypes.Float16, 1.1).Value)
	assert.Equal(t, float64(float32(1.1)), Float(dtypes.Float32, 1.1).Value)
	assert.Equal(t, 1.1, Float(dtypes.Float64, 1.1).Value)
}

func TestDim(t *testing.T) {
	assert.Equal(t, "4", Str(Dim(dimexpr.Const(4))))
	assert.Equal(t, "S0", Str(Dim(dimexpr.Symbol("S0"))))
	assert.Equal(t, "((2 * S0) * S1)", Str(Dim(dimexpr.Product(dimexpr.Const(2), dimexpr.Symbol("S1"), dimexpr.Symbol("S0")))))
	v, ok := ConstValue(Int(3))
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)
}

func TestBlockFlattening(t *testing.T) {
	a := &Store{Tensor: NewTensor("a", dtypes.Float32, nil), Value: Int(1)}
	b := NewBlock(NewBlock(a), a)
	assert.Len(t, b.Stmts, 2)
	assert.Same(t, b, AsBlock(b))
	assert.Len(t, AsBlock(a).Stmts, 1)
	assert.Equal(t, "GPUThread", GPUThread.String())
}
