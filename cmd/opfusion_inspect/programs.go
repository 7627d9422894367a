// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/core/shapes"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/pkg/errors"
)

// programBuilder builds a sample program and returns its single group. If dynamic, the first axis of the inputs
// is the symbol "S0".
type programBuilder func(dynamic bool) *opgraph.Group

var programs = map[string]programBuilder{
	"softmax":       buildSoftmax,
	"layernorm":     buildLayerNorm,
	"broadcast_add": buildBroadcastAdd,
	"reduce_chain":  buildReduceChain,
}

func programNames() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func buildProgram(name string, dynamic bool) (*opgraph.Group, error) {
	builder, found := programs[name]
	if !found {
		return nil, errors.Errorf("unknown program %q, valid values are %v", name, programNames())
	}
	return builder(dynamic), nil
}

func rows(dynamic bool, n int64) dimexpr.Expr {
	if dynamic {
		return dimexpr.Symbol("S0")
	}
	return dimexpr.Const(n)
}

// groupOf creates the group of all the operations of p.
func groupOf(p *opgraph.Program) *opgraph.Group {
	return opgraph.NewGroup("fn_"+p.Name(), p.Ops()...)
}

func buildSoftmax(dynamic bool) *opgraph.Group {
	p := opgraph.New("softmax")
	dims := []dimexpr.Expr{rows(dynamic, 64), dimexpr.Const(256)}
	x := p.Parameter(shapes.MakeSymbolic(dtypes.Float32, dims...))
	m := p.Reduce("reduce_max", x, true, 1)
	c := p.Binary("sub", x, p.BroadcastTo(m, dims, []int64{0, 1}))
	e := p.Unary("exp", c)
	s := p.Reduce("reduce_sum", e, true, 1)
	p.Yield(p.Binary("div", e, p.BroadcastTo(s, dims, []int64{0, 1})))
	return groupOf(p)
}

func buildLayerNorm(dynamic bool) *opgraph.Group {
	p := opgraph.New("layernorm")
	const features = 768
	dims := []dimexpr.Expr{rows(dynamic, 128), dimexpr.Const(features)}
	x := p.Parameter(shapes.MakeSymbolic(dtypes.Float32, dims...))
	mean := p.Scale(p.Reduce("reduce_sum", x, true, 1), 1.0/features, 0)
	centered := p.Binary("sub", x, p.BroadcastTo(mean, dims, []int64{0, 1}))
	variance := p.Scale(p.Reduce("reduce_sum", p.Binary("mul", centered, centered), true, 1), 1.0/features, 1e-5)
	invStd := p.Unary("rsqrt", variance)
	p.Yield(p.Binary("mul", centered, p.BroadcastTo(invStd, dims, []int64{0, 1})))
	return groupOf(p)
}

func buildBroadcastAdd(dynamic bool) *opgraph.Group {
	p := opgraph.New("broadcast_add")
	outDims := []dimexpr.Expr{rows(dynamic, 32), dimexpr.Const(64)}
	x := p.Parameter(shapes.MakeSymbolic(dtypes.Float32, outDims[0], dimexpr.Const(1)))
	y := p.Parameter(shapes.MakeSymbolic(dtypes.Float32, outDims...))
	e := p.Unary("exp", x)
	a := p.Binary("add", p.BroadcastTo(e, outDims, []int64{0, 1}), y)
	p.Yield(p.Unary("relu", a))
	group := groupOf(p)
	if !dynamic {
		group.AddBroadcastAlignment(e.DefiningOp(), []int64{0, 1}, outDims)
	}
	return group
}

func buildReduceChain(dynamic bool) *opgraph.Group {
	p := opgraph.New("reduce_chain")
	dims := []dimexpr.Expr{rows(dynamic, 16), dimexpr.Const(512)}
	x := p.Parameter(shapes.MakeSymbolic(dtypes.Float32, dims...))
	a := p.Unary("abs", x)
	s := p.Reduce("reduce_sum", a, false, 1)
	p.Yield(p.Unary("sqrt", s))
	return groupOf(p)
}
