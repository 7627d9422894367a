// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optim implements the low-level passes applied to lowered function bodies: arithmetic
// simplification, removal of unit loops, and the mapping of GPU-bound loops to the block and thread indices.
//
// All passes work on a copy of their input.
package optim

import (
	"github.com/gomlx/opfusion/pkg/ir"
	"k8s.io/klog/v2"
)

// Simplify folds integer constants and removes the neutral elements of additions and multiplications. Conditions
// that fold to a constant are resolved.
func Simplify(e ir.Expr) ir.Expr {
	return ir.Transform(e, simplifyNode)
}

func simplifyNode(e ir.Expr) ir.Expr {
	switch n := e.(type) {
	case *ir.Binary:
		return simplifyBinary(n)
	case *ir.IfThenElse:
		cond, ok := ir.ConstValue(n.Cond)
		if !ok {
			return n
		}
		if cond != 0 {
			return n.Then
		}
		if n.Else != nil {
			return n.Else
		}
		return nil
	case *ir.Select:
		if cond, ok := ir.ConstValue(n.Cond); ok {
			if cond != 0 {
				return n.True
			}
			return n.False
		}
	}
	return e
}

func simplifyBinary(n *ir.Binary) ir.Expr {
	a, aConst := n.A.(*ir.IntConst)
	b, bConst := n.B.(*ir.IntConst)
	if aConst && bConst && a.DType == b.DType {
		if v, ok := foldInts(n.Op, a.Value, b.Value); ok {
			if isComparison(n.Op) {
				return ir.Bool(v != 0)
			}
			return &ir.IntConst{DType: a.DType, Value: v}
		}
	}
	switch n.Op {
	case ir.OpAdd:
		if aConst && a.Value == 0 {
			return n.B
		}
		if bConst && b.Value == 0 {
			return n.A
		}
	case ir.OpSub:
		if bConst && b.Value == 0 {
			return n.A
		}
	case ir.OpMul:
		if aConst && a.Value == 1 {
			return n.B
		}
		if bConst && b.Value == 1 {
			return n.A
		}
		if (aConst && a.Value == 0) || (bConst && b.Value == 0) {
			return ir.Int(0)
		}
	case ir.OpDiv:
		if bConst && b.Value == 1 {
			return n.A
		}
	case ir.OpMod:
		if bConst && b.Value == 1 {
			return ir.Int(0)
		}
	}
	return n
}

func isComparison(op ir.BinaryOpType) bool {
	switch op {
	case ir.OpEQ, ir.OpNE, ir.OpLT, ir.OpLE, ir.OpGT, ir.OpGE, ir.OpAnd, ir.OpOr:
		return true
	}
	return false
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func foldInts(op ir.BinaryOpType, a, b int64) (int64, bool) {
	switch op {
	case ir.OpAdd:
		return a + b, true
	case ir.OpSub:
		return a - b, true
	case ir.OpMul:
		return a * b, true
	case ir.OpDiv:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case ir.OpMod:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case ir.OpMin:
		return min(a, b), true
	case ir.OpMax:
		return max(a, b), true
	case ir.OpEQ:
		return boolToInt(a == b), true
	case ir.OpNE:
		return boolToInt(a != b), true
	case ir.OpLT:
		return boolToInt(a < b), true
	case ir.OpLE:
		return boolToInt(a <= b), true
	case ir.OpGT:
		return boolToInt(a > b), true
	case ir.OpGE:
		return boolToInt(a >= b), true
	case ir.OpAnd:
		return boolToInt(a != 0 && b != 0), true
	case ir.OpOr:
		return boolToInt(a != 0 || b != 0), true
	}
	return 0, false
}

// RemoveUnitLoops replaces serial loops of extent 1 by their body, with the loop variable replaced by the loop's
// lower bound.
func RemoveUnitLoops(e ir.Expr) ir.Expr {
	return ir.Transform(e, func(node ir.Expr) ir.Expr {
		loop, ok := node.(*ir.For)
		if !ok || loop.ForType != ir.Serial || !ir.IsConstValue(loop.Extent, 1) {
			return node
		}
		klog.V(4).Infof("RemoveUnitLoops: %s", loop.LoopVar.Name)
		return ir.ReplaceVars(loop.Body, map[string]ir.Expr{loop.LoopVar.Name: loop.Min})
	})
}

// Optimize applies the target-independent passes: unit loop removal and simplification.
func Optimize(e ir.Expr) ir.Expr {
	return Simplify(RemoveUnitLoops(e))
}
