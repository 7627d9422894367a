// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package irutil

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unaryBody builds: root { for i in [0,8): ScheduleBlock(out) { out[i_0] = fn(in[i_0]) } }
func unaryBody(fn string, in, out *ir.Tensor) ir.Expr {
	i := ir.NewVar("i")
	i0 := ir.NewVar("i_0")
	store := &ir.Store{Tensor: out, Indices: []ir.Expr{i0},
		Value: &ir.Call{Name: fn, DType: dtypes.Float32, Args: []ir.Expr{&ir.Load{Tensor: in, Indices: []ir.Expr{i0}}}}}
	inner := &ir.ScheduleBlockRealize{
		IterValues: []ir.Expr{i},
		Block:      &ir.ScheduleBlock{IterVars: []*ir.Var{i0}, Name: out.Name, Body: ir.NewBlock(store)},
	}
	return &ir.ScheduleBlockRealize{
		Block: &ir.ScheduleBlock{Name: "root_" + out.Name, Body: ir.NewBlock(ir.NewFor(i, ir.Int(8), inner))},
	}
}

func tensor(name string) *ir.Tensor {
	return ir.NewTensor(name, dtypes.Float32, dimexpr.Consts(8))
}

func TestMappings(t *testing.T) {
	x, y := tensor("x"), tensor("y")
	body := unaryBody("exp", x, y)

	fors := ChildFors.Apply(body)
	require.Len(t, fors, 1)
	extent, err := Compose(ChildFors, ForExtent).Single(body)
	require.NoError(t, err)
	assert.True(t, ir.IsConstValue(extent, 8))
	assert.Len(t, Compose(ChildFors, IsForIterVar(ir.NewVar("i"))).Apply(body), 1)
	assert.Empty(t, Compose(ChildFors, IsForIterVar(ir.NewVar("j"))).Apply(body))

	realizes := Compose(ChildScheduleBlockRealizes, ScheduleBlockRealizeNotRoot).Apply(body)
	require.Len(t, realizes, 1)
	assert.Equal(t, "y", realizes[0].(*ir.ScheduleBlockRealize).Block.Name)
	assert.Len(t, ChildRootScheduleBlockRealizes.Apply(body), 1)

	value, err := Compose(ChildStores, StoreValue).Single(body)
	require.NoError(t, err)
	assert.Equal(t, "exp(x[i_0])", ir.Str(value))

	blockBody, err := Compose(ScheduleBlockRealizeNotRoot, RealizeToBlock, BlockBody).Single(realizes[0])
	require.NoError(t, err)
	assert.Len(t, blockBody.(*ir.Block).Stmts, 1)

	assert.Len(t, GetEachTensorLoadExpr(body, "x"), 1)
	assert.Empty(t, GetEachTensorLoadExpr(body, "y"))

	_, err = ChildTensorLoads.Single(ir.NewBlock(body, unaryBody("log", x, tensor("z"))))
	require.Error(t, err)
}

func TestFindFather(t *testing.T) {
	body := unaryBody("exp", tensor("x"), tensor("y"))
	store, err := ChildStores.Single(body)
	require.NoError(t, err)
	fathers := FindFather(body).Apply(store)
	require.NotEmpty(t, fathers)
	assert.Same(t, body, fathers[0])
	_, isBlock := fathers[len(fathers)-1].(*ir.Block)
	assert.True(t, isBlock)
	loops := Compose(FindFather(body), IsFor).Apply(store)
	assert.Len(t, loops, 1)

	// Copies are not found: identity matters.
	assert.Empty(t, FindFather(body).Apply(ir.Copy(store)))
}

func TestTransformers(t *testing.T) {
	x, y := tensor("x"), tensor("y")
	load := &ir.Load{Tensor: x, Indices: []ir.Expr{ir.NewVar("k")}}
	wrapped := WrapFors([]*ir.Var{ir.NewVar("a"), ir.NewVar("b")}, []ir.Expr{ir.Int(2), ir.Int(4)}).
		Apply(WrapStore(y, []ir.Expr{ir.NewVar("k")}).Apply(load))
	want := `for (a, 0, 2) {
  for (b, 0, 4) {
    y[k] = x[k]
  }
}`
	assert.Equal(t, want, ir.String(wrapped))

	changed := ChangeTensorLoad("x", ir.Float(dtypes.Float32, 1)).Apply(wrapped)
	assert.Contains(t, ir.String(changed), "y[k] = 1.0f")
	assert.Contains(t, ir.String(wrapped), "y[k] = x[k]", "input must not change")

	renamed := ChangeVar([]*ir.Var{ir.NewVar("k")}, []ir.Expr{ir.Add(ir.NewVar("a"), ir.NewVar("b"))}).Apply(wrapped)
	assert.Contains(t, ir.String(renamed), "y[(a + b)] = x[(a + b)]")

	realize := WrapScheduleRealizer([]*ir.Var{ir.NewVar("k")}, "y").Apply(&ir.Store{Tensor: y, Value: load, Indices: []ir.Expr{ir.NewVar("k")}})
	assert.Equal(t, "ScheduleBlock(y) {\n  inner_block_0 = axis.bind[S](k)\n  y[inner_block_0] = x[inner_block_0]\n}", ir.String(realize))
	substituted := SubstituteByScheduleBlockRealize(realize.(*ir.ScheduleBlockRealize)).Apply(realize.(*ir.ScheduleBlockRealize).Block.Body)
	assert.Equal(t, "y[k] = x[k]", ir.String(substituted))

	unsqueezed := UnsqueezeFor(Compose(ChildFors, IsForIterVar(ir.NewVar("b"))), ir.NewVar("expand_var_0")).Apply(wrapped)
	assert.Contains(t, ir.String(unsqueezed), "for (b, 0, 4) {\n    for (expand_var_0, 0, 1) {")
	assert.NotContains(t, ir.String(wrapped), "expand_var_0")
}

func TestCopiedReplaceExpr(t *testing.T) {
	e := ir.Add(ir.NewVar("i"), ir.NewVar("j"))
	r := CopiedReplaceExpr(e, []*ir.Var{ir.NewVar("i"), ir.NewVar("j")}, []ir.Expr{ir.NewVar("i"), ir.Int(3)})
	assert.Equal(t, "(i + 3)", ir.Str(r))
	assert.Equal(t, "(i + j)", ir.Str(e))

	err := compileerr.Catch(func() { CopiedReplaceExpr(e, []*ir.Var{ir.NewVar("i")}, nil) })
	require.Error(t, err)
	assert.True(t, compileerr.IsInvariant(err))
}

func TestSubstituteTargetExprWithDestExpr(t *testing.T) {
	x, y := tensor("x"), tensor("y")
	body := unaryBody("exp", x, y)
	loads := GetEachTensorLoadExpr(body, "x")
	require.Len(t, loads, 1)
	body = SubstituteTargetExprWithDestExpr(loads[0], ir.Float(dtypes.Float32, 0), body)
	assert.Contains(t, ir.String(body), "y[i_0] = exp(0.0f)")
}

func TestInputOutputTensors(t *testing.T) {
	x, y, z := tensor("x"), tensor("y"), tensor("z")
	body := ir.NewBlock(unaryBody("exp", x, y), unaryBody("log", y, z))
	outputs := GetOutputTensors(body)
	require.Len(t, outputs, 2)
	assert.Equal(t, "y", outputs[0].Name)
	assert.Equal(t, "z", outputs[1].Name)
	inputs := GetInputTensors(body)
	require.Len(t, inputs, 1)
	assert.Equal(t, "x", inputs[0].Name)

	// Reduce initialization blocks don't count as outputs.
	init := unaryBody("exp", x, tensor("r"))
	realizes := Compose(ChildScheduleBlockRealizes, ScheduleBlockRealizeNotRoot).Apply(init)
	realizes[0].(*ir.ScheduleBlockRealize).Block.Name = "r" + ReduceInitSuffix
	assert.Empty(t, GetOutputTensors(init))
}

func TestTopoSort(t *testing.T) {
	a, b, c, d := tensor("a"), tensor("b"), tensor("c"), tensor("d")
	exprs := []ir.Expr{
		unaryBody("exp", c, d), // needs c
		unaryBody("exp", b, c), // needs b
		unaryBody("exp", a, b), // needs a (input)
		unaryBody("neg", a, tensor("e")),
	}
	sorted := TopoSort(exprs)
	require.Len(t, sorted, len(exprs))
	position := make(map[ir.Expr]int)
	for ii, e := range sorted {
		position[e] = ii
	}
	require.Len(t, position, len(exprs), "sorted must be a permutation")
	assert.Less(t, position[exprs[2]], position[exprs[1]])
	assert.Less(t, position[exprs[1]], position[exprs[0]])
	// Independent expressions keep their relative input order.
	assert.Equal(t, 0, position[exprs[2]])
	assert.Equal(t, 1, position[exprs[3]])

	cycle := []ir.Expr{unaryBody("exp", a, b), unaryBody("exp", b, a)}
	err := compileerr.Catch(func() { TopoSort(cycle) })
	require.Error(t, err)
	assert.True(t, compileerr.IsInvariant(err))
}
