// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optim

import (
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/pkg/errors"
)

// LaunchDims are the extents of the GPU axes used by a kernel, keyed by axis name ("blockIdx.x", ...).
type LaunchDims map[string]int64

// OptimizeExprGPU replaces the loops bound to GPU axes by their body, with the loop variable replaced by the
// axis variable (e.g. "threadIdx.x"), and returns the launch dimensions. Loops with symbolic extents are kept.
//
// The launch dimension of an axis is the largest static extent of the loops bound to it. The bodies of loops
// with smaller extents are guarded with `axis < extent`.
func OptimizeExprGPU(e ir.Expr) (ir.Expr, LaunchDims, error) {
	dims := make(LaunchDims)
	ir.Visit(e, func(node ir.Expr) bool {
		if loop, ok := node.(*ir.For); ok && loop.BindAxis != "" {
			if extent, ok := ir.ConstValue(loop.Extent); ok {
				dims[loop.BindAxis] = max(dims[loop.BindAxis], extent)
			}
		}
		return true
	})
	err := compileerr.Catch(func() {
		e = ir.Transform(e, func(node ir.Expr) ir.Expr {
			loop, ok := node.(*ir.For)
			if !ok || loop.BindAxis == "" {
				return node
			}
			extent, ok := ir.ConstValue(loop.Extent)
			if !ok {
				return node
			}
			axisVar := ir.Add(ir.Copy(loop.Min), ir.NewVar(loop.BindAxis))
			body := ir.ReplaceVars(loop.Body, map[string]ir.Expr{loop.LoopVar.Name: axisVar})
			if extent < dims[loop.BindAxis] {
				return &ir.IfThenElse{Cond: ir.LT(ir.NewVar(loop.BindAxis), ir.Int(extent)), Then: ir.AsBlock(body)}
			}
			return body
		})
	})
	if err != nil {
		return nil, nil, errors.WithMessage(err, "OptimizeExprGPU")
	}
	return Simplify(e), dims, nil
}
