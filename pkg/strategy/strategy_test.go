// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/core/shapes"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// request builds the compute request for the operation producing v.
func request(v *opgraph.Value) *Request {
	op := v.DefiningOp()
	req := &Request{Op: op, Target: target.NVGPU()}
	for _, operand := range op.Operands() {
		shape := operand.Shape()
		req.Inputs = append(req.Inputs, ir.Placeholder(operand.Name(), shape.DType, shape.Dimensions))
	}
	for _, result := range op.Results() {
		req.OutputNames = append(req.OutputNames, result.Name())
		req.OutputShapes = append(req.OutputShapes, result.Shape())
	}
	return req
}

func compute(t *testing.T, registry *Registry, v *opgraph.Value) string {
	fn, err := registry.Static(v.DefiningOp().Name())
	require.NoError(t, err)
	result, err := fn(request(v))
	require.NoError(t, err)
	require.Len(t, result.Outputs, 1)
	assert.Equal(t, v.Name(), result.Outputs[0].Name)
	return ir.String(result.Body)
}

func TestElementwise(t *testing.T) {
	p := opgraph.New("elementwise")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	y := p.Unary("exp", x)
	want := `ScheduleBlock(root_var_1) {
  for (i0, 0, 4) {
    for (i1, 0, 8) {
      ScheduleBlock(var_1) {
        i0_0 = axis.bind[S](i0)
        i1_0 = axis.bind[S](i1)
        var_1[i0_0, i1_0] = exp(var_0[i0_0, i1_0])
      }
    }
  }
}`
	registry := Default()
	assert.Equal(t, want, compute(t, registry, y))

	z := p.Binary("add", y, x)
	assert.Contains(t, compute(t, registry, z), "var_2[i0_0, i1_0] = (var_1[i0_0, i1_0] + var_0[i0_0, i1_0])")
	assert.Contains(t, compute(t, registry, p.Unary("relu", z)), "max(var_2[i0_0, i1_0], 0.0f)")
	assert.Contains(t, compute(t, registry, p.Scale(x, 2, 1)), "((var_0[i0_0, i1_0] * 2.0f) + 1.0f)")
	assert.Contains(t, compute(t, registry, p.Full(shapes.Make(dtypes.Int32, 3), 7)), "[i0_0] = 7")
}

func TestBroadcastReshapeTranspose(t *testing.T) {
	p := opgraph.New("injective")
	registry := Default()
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 1))
	b := p.BroadcastTo(x, dimexpr.Consts(4, 8), []int64{0, 1})
	assert.Contains(t, compute(t, registry, b), "= var_0[i0_0, 0]")

	// Unit axes are bound to 0.
	assert.Contains(t, compute(t, registry, p.Unary("exp", x)), "i1_0 = axis.bind[S](0)")

	y := p.Parameter(shapes.Make(dtypes.Float32, 2, 6))
	r := p.Reshape(y, dimexpr.Consts(3, 4)...)
	assert.Contains(t, compute(t, registry, r),
		"var_4[i0_0, i1_0] = var_3[(((i0_0 * 4) + i1_0) / 6), (((i0_0 * 4) + i1_0) % 6)]")

	tr := p.Transpose(y, 1, 0)
	assert.Contains(t, compute(t, registry, tr), "var_5[i0_0, i1_0] = var_3[i1_0, i0_0]")
}

func TestReduce(t *testing.T) {
	p := opgraph.New("reduce")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4, 8))
	y := p.Reduce("reduce_sum", x, false, 1)
	want := `ScheduleBlock(root_var_1) {
  for (i0, 0, 4) {
    ScheduleBlock(var_1__reduce_init) {
      i0_0 = axis.bind[S](i0)
      var_1[i0_0] = 0.0f
    }
    for (i1, 0, 8) {
      ScheduleBlock(var_1) {
        i0_0 = axis.bind[S](i0)
        i1_0 = axis.bind[R](i1)
        var_1[i0_0] = (var_1[i0_0] + var_0[i0_0, i1_0])
      }
    }
  }
}`
	registry := Default()
	assert.Equal(t, want, compute(t, registry, y))

	// Reducing all axes with keepDim.
	z := p.Reduce("reduce_max", x, true, 0, 1)
	got := compute(t, registry, z)
	assert.Contains(t, got, "var_2[0, 0] = max(var_2[0, 0], var_0[i0_0, i1_0])")
	assert.Contains(t, got, "ScheduleBlock(root_var_2) {\n  ScheduleBlock(var_2__reduce_init) {")
}

func TestRegistry(t *testing.T) {
	registry := Default()
	_, err := registry.Static("matmul")
	require.Error(t, err)
	assert.True(t, compileerr.IsInvariant(err))
	assert.Contains(t, registry.Names(), "reduce_sum")

	p := opgraph.New("dynamic")
	x := p.Parameter(shapes.MakeSymbolic(dtypes.Float32, dimexpr.Symbol("S0"), dimexpr.Const(8)))
	y := p.Unary("exp", x)
	static, err := registry.Static("exp")
	require.NoError(t, err)
	_, err = static(request(y))
	require.Error(t, err)
	assert.True(t, compileerr.IsInvariant(err))

	symbolic, err := registry.Symbolic("exp")
	require.NoError(t, err)
	result, err := symbolic(request(y))
	require.NoError(t, err)
	assert.Contains(t, ir.String(result.Body), "for (i0, 0, S0)")

	registry.Register("matmul", func(req *Request) (*Result, error) { return nil, nil })
	_, err = registry.Static("matmul")
	require.NoError(t, err)
}
