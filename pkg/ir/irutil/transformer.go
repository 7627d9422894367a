// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package irutil

import (
	"fmt"

	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
)

// Transformer is a rewrite of an expression into a new one. Transformers never change their input.
type Transformer struct {
	Name string
	fn   func(e ir.Expr) ir.Expr
}

// NewTransformer creates a Transformer from a function. The function must not change its input.
func NewTransformer(name string, fn func(e ir.Expr) ir.Expr) Transformer {
	return Transformer{Name: name, fn: fn}
}

// Apply runs the rewrite on e.
func (t Transformer) Apply(e ir.Expr) ir.Expr {
	return t.fn(e)
}

// Then returns the transformer that applies t and then next.
func (t Transformer) Then(next Transformer) Transformer {
	return Transformer{
		Name: t.Name + " * " + next.Name,
		fn:   func(e ir.Expr) ir.Expr { return next.fn(t.fn(e)) },
	}
}

// IdentityTransformer returns a copy of its input.
var IdentityTransformer = NewTransformer("Identity", ir.Copy)

// WrapFor wraps its input in a serial loop over v in [0, extent).
func WrapFor(v *ir.Var, extent ir.Expr) Transformer {
	return NewTransformer("WrapFor("+v.Name+")", func(e ir.Expr) ir.Expr {
		return ir.NewFor(&ir.Var{Name: v.Name, IsReduceAxis: v.IsReduceAxis}, ir.Copy(extent), ir.Copy(e))
	})
}

// WrapFors wraps its input in a nest of loops, vars[0] being the outermost.
func WrapFors(vars []*ir.Var, extents []ir.Expr) Transformer {
	if len(vars) != len(extents) {
		compileerr.Invariantf("WrapFors got %d variables but %d extents", len(vars), len(extents))
	}
	t := IdentityTransformer
	for ii := len(vars) - 1; ii >= 0; ii-- {
		t = t.Then(WrapFor(vars[ii], extents[ii]))
	}
	return t
}

// WrapStore wraps its input as the value of a store to tensor at the given indices.
func WrapStore(tensor *ir.Tensor, indices []ir.Expr) Transformer {
	return NewTransformer("WrapStore("+tensor.Name+")", func(e ir.Expr) ir.Expr {
		idx := make([]ir.Expr, len(indices))
		for ii, index := range indices {
			idx[ii] = ir.Copy(index)
		}
		return &ir.Store{Tensor: tensor, Value: ir.Copy(e), Indices: idx}
	})
}

// ChangeTensorLoad replaces every load of the tensor named tensorName by (a copy of) dst.
func ChangeTensorLoad(tensorName string, dst ir.Expr) Transformer {
	return NewTransformer("ChangeTensorLoad("+tensorName+")", func(e ir.Expr) ir.Expr {
		return ir.Transform(e, func(node ir.Expr) ir.Expr {
			if l, ok := node.(*ir.Load); ok && l.Tensor.Name == tensorName {
				return ir.Copy(dst)
			}
			return node
		})
	})
}

// ReplaceTarget returns a Transformer that replaces the node target (by identity) with a copy of dst. The input
// of the Transformer must contain target itself, not a copy of it, and it is changed in place.
func ReplaceTarget(target, dst ir.Expr) Transformer {
	return NewTransformer("ReplaceTarget", func(e ir.Expr) ir.Expr {
		return SubstituteTargetExprWithDestExpr(target, dst, e)
	})
}

// ChangeVar replaces the variables by the corresponding expressions, see CopiedReplaceExpr.
func ChangeVar(targets []*ir.Var, dests []ir.Expr) Transformer {
	return NewTransformer("ChangeVar", func(e ir.Expr) ir.Expr {
		return CopiedReplaceExpr(e, targets, dests)
	})
}

// SubstituteByScheduleBlockRealize replaces the iteration variables of the realize's block by the realize's
// iteration values.
func SubstituteByScheduleBlockRealize(realize *ir.ScheduleBlockRealize) Transformer {
	return NewTransformer("SubstituteByScheduleBlockRealize("+realize.Block.Name+")", func(e ir.Expr) ir.Expr {
		return CopiedReplaceExpr(e, realize.Block.IterVars, realize.IterValues)
	})
}

// CreateInnerBlockVars returns one fresh iteration variable per block variable, named "inner_block_<i>" and with
// the same reduce flag.
func CreateInnerBlockVars(blockVars []*ir.Var) []*ir.Var {
	inner := make([]*ir.Var, len(blockVars))
	for ii, v := range blockVars {
		inner[ii] = &ir.Var{Name: fmt.Sprintf("inner_block_%d", ii), IsReduceAxis: v.IsReduceAxis}
	}
	return inner
}

// WrapScheduleRealizer wraps its input in a schedule block named tensorName realized with blockVars: inside the
// block, blockVars are renamed to fresh "inner_block_<i>" iteration variables.
func WrapScheduleRealizer(blockVars []*ir.Var, tensorName string) Transformer {
	return NewTransformer("WrapScheduleRealizer("+tensorName+")", func(e ir.Expr) ir.Expr {
		inner := CreateInnerBlockVars(blockVars)
		innerExprs := make([]ir.Expr, len(inner))
		iterValues := make([]ir.Expr, len(blockVars))
		for ii := range inner {
			innerExprs[ii] = inner[ii]
			iterValues[ii] = &ir.Var{Name: blockVars[ii].Name, IsReduceAxis: blockVars[ii].IsReduceAxis}
		}
		body := CopiedReplaceExpr(e, blockVars, innerExprs)
		return &ir.ScheduleBlockRealize{
			IterValues: iterValues,
			Block:      &ir.ScheduleBlock{IterVars: inner, Name: tensorName, Body: ir.AsBlock(body)},
		}
	})
}

// UnsqueezeFor inserts a unit loop over v: the node found by finder (a loop or a schedule block realize) gets its
// body wrapped in `for (v, 0, 1)`.
func UnsqueezeFor(finder Mapping, v *ir.Var) Transformer {
	return NewTransformer("UnsqueezeFor("+v.Name+")", func(e ir.Expr) ir.Expr {
		e = ir.Copy(e)
		target, err := finder.Single(e)
		compileerr.PanicOnError(err)
		wrap := func(body *ir.Block) *ir.Block {
			return ir.NewBlock(ir.NewFor(&ir.Var{Name: v.Name, IsReduceAxis: v.IsReduceAxis}, ir.Int(1), body))
		}
		switch n := target.(type) {
		case *ir.For:
			n.Body = wrap(n.Body)
		case *ir.ScheduleBlockRealize:
			n.Block.Body = wrap(n.Block.Body)
		default:
			compileerr.Invariantf("UnsqueezeFor can only unsqueeze a loop or a schedule block realize, got %T", target)
		}
		return e
	})
}
