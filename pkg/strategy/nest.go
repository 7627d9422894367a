// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"fmt"

	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/ir"
)

// RootPrefix prefixes the name of the root schedule block of every op body.
const RootPrefix = "root_"

// axis of a loop nest: one loop, and the schedule block iteration variable bound to it.
type axis struct {
	dim     dimexpr.Expr
	reduce  bool
	loopVar *ir.Var
	iterVar *ir.Var
}

// newAxes creates one axis per dimension: loop variables are named "i<k>" and iteration variables "i<k>_0".
func newAxes(dims []dimexpr.Expr, reduced func(axis int) bool) []*axis {
	axes := make([]*axis, len(dims))
	for ii, dim := range dims {
		isReduce := reduced != nil && reduced(ii)
		name := fmt.Sprintf("i%d", ii)
		axes[ii] = &axis{
			dim:     dim,
			reduce:  isReduce,
			loopVar: &ir.Var{Name: name, IsReduceAxis: isReduce},
			iterVar: &ir.Var{Name: name + "_0", IsReduceAxis: isReduce},
		}
	}
	return axes
}

// iterExprs returns fresh references to the iteration variables of the axes.
func iterExprs(axes []*axis) []ir.Expr {
	exprs := make([]ir.Expr, len(axes))
	for ii, a := range axes {
		exprs[ii] = &ir.Var{Name: a.iterVar.Name, IsReduceAxis: a.iterVar.IsReduceAxis}
	}
	return exprs
}

// realize wraps stmt in a schedule block named name, iterating over the axes. Unit axes are bound to 0.
func realize(name string, axes []*axis, stmt ir.Expr) *ir.ScheduleBlockRealize {
	iterVars := make([]*ir.Var, len(axes))
	iterValues := make([]ir.Expr, len(axes))
	for ii, a := range axes {
		iterVars[ii] = &ir.Var{Name: a.iterVar.Name, IsReduceAxis: a.reduce}
		if a.dim.IsOne() {
			iterValues[ii] = ir.Int(0)
		} else {
			iterValues[ii] = &ir.Var{Name: a.loopVar.Name, IsReduceAxis: a.reduce}
		}
	}
	return &ir.ScheduleBlockRealize{
		IterValues: iterValues,
		Block:      &ir.ScheduleBlock{IterVars: iterVars, Name: name, Body: ir.NewBlock(stmt)},
	}
}

// wrapLoops wraps body in one loop per axis, the first axis being the outermost.
func wrapLoops(axes []*axis, body ir.Expr) ir.Expr {
	for ii := len(axes) - 1; ii >= 0; ii-- {
		a := axes[ii]
		body = ir.NewFor(&ir.Var{Name: a.loopVar.Name, IsReduceAxis: a.reduce}, ir.Dim(a.dim), body)
	}
	return body
}

// Root wraps the body of an operation in its root schedule block.
func Root(name string, body ir.Expr) *ir.ScheduleBlockRealize {
	return &ir.ScheduleBlockRealize{Block: &ir.ScheduleBlock{Name: RootPrefix + name, Body: ir.AsBlock(body)}}
}

// spatialCompute builds the loop nest that stores value(iterVars) into every element of out.
func spatialCompute(out *ir.Tensor, value func(iterVars []ir.Expr) ir.Expr) *ir.ScheduleBlockRealize {
	axes := newAxes(out.Shape, nil)
	store := &ir.Store{Tensor: out, Value: value(iterExprs(axes)), Indices: iterExprs(axes)}
	return Root(out.Name, wrapLoops(axes, realize(out.Name, axes, store)))
}
