// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package irutil

import (
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
)

// CopiedReplaceExpr returns a copy of source where each variable in replaced is substituted by the corresponding
// candidate (matched by name). A variable whose candidate is the variable itself is left untouched.
//
// It panics with an invariant error if replaced and candidates have different lengths.
func CopiedReplaceExpr(source ir.Expr, replaced []*ir.Var, candidates []ir.Expr) ir.Expr {
	if len(replaced) != len(candidates) {
		compileerr.Invariantf("CopiedReplaceExpr: %d variables to replace but %d candidates", len(replaced), len(candidates))
	}
	replacements := make(map[string]ir.Expr, len(replaced))
	for ii, v := range replaced {
		if cv, ok := candidates[ii].(*ir.Var); ok && cv.Name == v.Name {
			continue
		}
		replacements[v.Name] = candidates[ii]
	}
	return ir.ReplaceVars(source, replacements)
}

// SubstituteTargetExprWithDestExpr replaces, in place, the node source (matched by identity) in body by a copy
// of dest. It returns the new root, which is only different from body if body is source itself.
func SubstituteTargetExprWithDestExpr(source, dest, body ir.Expr) ir.Expr {
	return ir.Mutate(body, func(node ir.Expr) ir.Expr {
		if node == source {
			return ir.Copy(dest)
		}
		return node
	})
}

// GetEachTensorLoadExpr returns the loads of the tensor named tensorName in body, in pre-order.
func GetEachTensorLoadExpr(body ir.Expr, tensorName string) []ir.Expr {
	return Compose(ChildTensorLoads, FilterLoadByTensor(tensorName)).Apply(body)
}

// uniqueTensors returns the tensors loaded (or stored) by exprs, deduplicated by name in order of first appearance.
func uniqueTensors(exprs []ir.Expr) []*ir.Tensor {
	seen := make(map[string]bool)
	var tensors []*ir.Tensor
	for _, e := range exprs {
		var t *ir.Tensor
		switch n := e.(type) {
		case *ir.Load:
			t = n.Tensor
		case *ir.Store:
			t = n.Tensor
		default:
			continue
		}
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		tensors = append(tensors, t)
	}
	return tensors
}

// GetOutputTensors returns the tensors stored by the (non-root) schedule blocks of body that are not reduction
// initializations, in order of appearance.
func GetOutputTensors(body ir.Expr) []*ir.Tensor {
	stores := Compose(ChildScheduleBlockRealizes, ScheduleBlockRealizeNotRoot, ScheduleBlockRealizeIsNotInit,
		ChildTensorStores).Apply(body)
	return uniqueTensors(stores)
}

// GetInputTensors returns the tensors loaded by body that it doesn't itself produce, in order of appearance.
func GetInputTensors(body ir.Expr) []*ir.Tensor {
	outputs := make(map[string]bool)
	for _, t := range GetOutputTensors(body) {
		outputs[t.Name] = true
	}
	var inputs []*ir.Tensor
	for _, t := range uniqueTensors(ChildTensorLoads.Apply(body)) {
		if !outputs[t.Name] {
			inputs = append(inputs, t)
		}
	}
	return inputs
}
