// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/ir/irutil"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// tmpTransform fuses the trivial loop nests of downstream into the spatial loops of the root reduction of
// upstream (the reduction whose result downstream reads).
//
// The non-fake loops of a trivial must match the spatial loops of the reduction one to one, and the loads of
// the reduction result can't depend on the fake loops: fake loops are kept inside the spatial loops, after
// the reduction. Loop nests that can't be aligned are kept as separate loop nests.
func (it *Interpreter) tmpTransform(upstream, downstream []*FusionOp, fakeReduceIterIdx []int) []*FusionOp {
	result := slices.Clone(upstream)
	var unaligned []*FusionOp
	for _, d := range downstream {
		rootIdx := slices.IndexFunc(result, func(u *FusionOp) bool {
			return u.IsReduce && readsTensorOf(d.Body, u)
		})
		if d.IsReduce || rootIdx < 0 {
			unaligned = append(unaligned, d)
			continue
		}
		fused, ok := fuseIntoReduce(result[rootIdx], d, fakeReduceIterIdx)
		if !ok {
			klog.Warningf("TmpTransform: can't align the loops of %s with the reduction %s, keeping them apart",
				d.Op, result[rootIdx].Op)
			unaligned = append(unaligned, d)
			continue
		}
		result[rootIdx] = fused
	}
	return append(result, unaligned...)
}

// reduceTensorName returns the name of the tensor stored by a reduction loop nest.
func reduceTensorName(u *FusionOp) string {
	tensors := irutil.GetOutputTensors(u.Body)
	if len(tensors) == 0 {
		return ""
	}
	return tensors[0].Name
}

func readsTensorOf(body ir.Expr, u *FusionOp) bool {
	name := reduceTensorName(u)
	return name != "" && len(irutil.GetEachTensorLoadExpr(body, name)) > 0
}

func usesVar(e ir.Expr, names []string) bool {
	return len(ir.Collect(e, func(node ir.Expr) bool {
		v, ok := node.(*ir.Var)
		return ok && slices.Contains(names, v.Name)
	})) > 0
}

// fuseIntoReduce returns a copy of the reduction u with the loop nest of the trivial d moved inside its
// innermost spatial loop.
func fuseIntoReduce(u, d *FusionOp, fakeReduceIterIdx []int) (*FusionOp, bool) {
	reduceBody := ir.Copy(u.Body)
	spatial := loopChain(reduceBody)
	trivialLoops := loopChain(d.Body)
	if len(spatial) == 0 || len(trivialLoops)-len(fakeReduceIterIdx) != len(spatial) {
		return nil, false
	}
	realizes := irutil.Compose(irutil.ChildScheduleBlockRealizes, irutil.ScheduleBlockRealizeNotRoot).Apply(d.Body)
	if len(realizes) != 1 {
		return nil, false
	}
	realize := realizes[0].(*ir.ScheduleBlockRealize)

	// Fake loops and the iteration variables bound to them.
	var fakeLoops []*ir.For
	var fakeIterVars []string
	replacements := make(map[string]ir.Expr)
	nonFake := 0
	for axis, loop := range trivialLoops {
		if slices.Contains(fakeReduceIterIdx, axis) {
			fakeLoops = append(fakeLoops, loop)
			if axis < len(realize.Block.IterVars) {
				fakeIterVars = append(fakeIterVars, realize.Block.IterVars[axis].Name)
			}
			continue
		}
		target := spatial[nonFake]
		nonFake++
		if ir.Str(loop.Extent) != ir.Str(target.Extent) {
			return nil, false
		}
		if loop.LoopVar.Name != target.LoopVar.Name {
			replacements[loop.LoopVar.Name] = &ir.Var{Name: target.LoopVar.Name, IsReduceAxis: target.LoopVar.IsReduceAxis}
		}
	}
	tensorName := reduceTensorName(u)
	for _, load := range irutil.GetEachTensorLoadExpr(realize, tensorName) {
		if usesVar(load, fakeIterVars) {
			return nil, false
		}
	}

	// Rebuild the fake loops around the trivial's schedule block.
	var moved ir.Expr = ir.ReplaceVars(realize, replacements)
	for ii := len(fakeLoops) - 1; ii >= 0; ii-- {
		loop := fakeLoops[ii]
		moved = &ir.For{LoopVar: &ir.Var{Name: loop.LoopVar.Name, IsReduceAxis: loop.LoopVar.IsReduceAxis},
			Min: ir.Copy(loop.Min), Extent: ir.Copy(loop.Extent), ForType: loop.ForType, Body: ir.AsBlock(moved)}
	}
	innermost := xslices.Last(spatial)
	innermost.Body = ir.NewBlock(append(slices.Clone(innermost.Body.Stmts), moved)...)

	return &FusionOp{
		Op:       u.Op,
		Absorbed: xslices.UniqueConcat(u.Absorbed, []*opgraph.Operation{d.Op}, d.Absorbed),
		Body:     reduceBody,
		IsReduce: true,
	}, true
}
