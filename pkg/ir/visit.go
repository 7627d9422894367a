// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// Children returns the direct sub-expressions of e, in evaluation order.
func Children(e Expr) []Expr {
	switch n := e.(type) {
	case *IntConst, *FloatConst, *Var, nil:
		return nil
	case *Binary:
		return []Expr{n.A, n.B}
	case *Select:
		return []Expr{n.Cond, n.True, n.False}
	case *Call:
		return slices.Clone(n.Args)
	case *Load:
		return slices.Clone(n.Indices)
	case *Store:
		return append([]Expr{n.Value}, n.Indices...)
	case *Let:
		return []Expr{n.Value}
	case *Block:
		return slices.Clone(n.Stmts)
	case *For:
		return []Expr{n.Min, n.Extent, n.Body}
	case *IfThenElse:
		if n.Else != nil {
			return []Expr{n.Cond, n.Then, n.Else}
		}
		return []Expr{n.Cond, n.Then}
	case *ScheduleBlock:
		return []Expr{n.Body}
	case *ScheduleBlockRealize:
		return append(slices.Clone(n.IterValues), n.Block)
	default:
		exceptions.Panicf("ir.Children: unknown expression type %T", e)
	}
	return nil
}

// Visit calls fn on e and its sub-expressions in pre-order. If fn returns false, the children
// of that node are not visited.
func Visit(e Expr, fn func(e Expr) bool) {
	if e == nil {
		return
	}
	if !fn(e) {
		return
	}
	for _, child := range Children(e) {
		Visit(child, fn)
	}
}

// Collect returns all sub-expressions of e (including e) for which pred is true, in pre-order.
func Collect(e Expr, pred func(e Expr) bool) []Expr {
	var found []Expr
	Visit(e, func(node Expr) bool {
		if pred(node) {
			found = append(found, node)
		}
		return true
	})
	return found
}

// Copy returns a deep copy of e. Tensors and buffers are shared, variables are copied.
func Copy(e Expr) Expr {
	return deepCopy(e)
}

func deepCopy(e Expr) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *IntConst:
		c := *n
		return &c
	case *FloatConst:
		c := *n
		return &c
	case *Var:
		c := *n
		return &c
	case *Binary:
		return &Binary{Op: n.Op, A: deepCopy(n.A), B: deepCopy(n.B)}
	case *Select:
		return &Select{Cond: deepCopy(n.Cond), True: deepCopy(n.True), False: deepCopy(n.False)}
	case *Call:
		return &Call{Name: n.Name, DType: n.DType, Args: copyList(n.Args)}
	case *Load:
		return &Load{Tensor: n.Tensor, Indices: copyList(n.Indices)}
	case *Store:
		return &Store{Tensor: n.Tensor, Value: deepCopy(n.Value), Indices: copyList(n.Indices)}
	case *Let:
		return &Let{Var: deepCopy(n.Var).(*Var), DType: n.DType, Value: deepCopy(n.Value)}
	case *Block:
		return &Block{Stmts: copyList(n.Stmts)}
	case *For:
		return &For{LoopVar: deepCopy(n.LoopVar).(*Var), Min: deepCopy(n.Min), Extent: deepCopy(n.Extent),
			ForType: n.ForType, BindAxis: n.BindAxis, Body: deepCopy(n.Body).(*Block)}
	case *IfThenElse:
		c := &IfThenElse{Cond: deepCopy(n.Cond), Then: deepCopy(n.Then).(*Block)}
		if n.Else != nil {
			c.Else = deepCopy(n.Else).(*Block)
		}
		return c
	case *ScheduleBlock:
		iterVars := make([]*Var, len(n.IterVars))
		for ii, v := range n.IterVars {
			iterVars[ii] = deepCopy(v).(*Var)
		}
		return &ScheduleBlock{IterVars: iterVars, Name: n.Name, Body: deepCopy(n.Body).(*Block)}
	case *ScheduleBlockRealize:
		return &ScheduleBlockRealize{IterValues: copyList(n.IterValues), Block: deepCopy(n.Block).(*ScheduleBlock)}
	default:
		exceptions.Panicf("ir.Copy: unknown expression type %T", e)
	}
	return nil
}

func copyList(list []Expr) []Expr {
	if list == nil {
		return nil
	}
	out := make([]Expr, len(list))
	for ii, e := range list {
		out[ii] = deepCopy(e)
	}
	return out
}

// Mutate rewrites e in place, in post-order: the children of each node are replaced by the result of
// mutating them, and then fn is called on the node itself. It returns the (possibly new) root.
//
// Mutate changes its input: use Transform to work on a copy.
func Mutate(e Expr, fn func(e Expr) Expr) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *IntConst, *FloatConst, *Var:
	case *Binary:
		n.A = Mutate(n.A, fn)
		n.B = Mutate(n.B, fn)
	case *Select:
		n.Cond = Mutate(n.Cond, fn)
		n.True = Mutate(n.True, fn)
		n.False = Mutate(n.False, fn)
	case *Call:
		mutateList(n.Args, fn)
	case *Load:
		mutateList(n.Indices, fn)
	case *Store:
		n.Value = Mutate(n.Value, fn)
		mutateList(n.Indices, fn)
	case *Let:
		n.Value = Mutate(n.Value, fn)
	case *Block:
		var stmts []Expr
		for _, stmt := range n.Stmts {
			stmt = Mutate(stmt, fn)
			if inner, ok := stmt.(*Block); ok {
				stmts = append(stmts, inner.Stmts...)
			} else if stmt != nil {
				stmts = append(stmts, stmt)
			}
		}
		n.Stmts = stmts
	case *For:
		n.Min = Mutate(n.Min, fn)
		n.Extent = Mutate(n.Extent, fn)
		n.Body = AsBlock(Mutate(n.Body, fn))
	case *IfThenElse:
		n.Cond = Mutate(n.Cond, fn)
		n.Then = AsBlock(Mutate(n.Then, fn))
		if n.Else != nil {
			n.Else = AsBlock(Mutate(n.Else, fn))
		}
	case *ScheduleBlock:
		n.Body = AsBlock(Mutate(n.Body, fn))
	case *ScheduleBlockRealize:
		mutateList(n.IterValues, fn)
		block, ok := Mutate(n.Block, fn).(*ScheduleBlock)
		if !ok {
			exceptions.Panicf("ir.Mutate: the ScheduleBlock of ScheduleBlockRealize %q was replaced by a non-ScheduleBlock", n.Block.Name)
		}
		n.Block = block
	default:
		exceptions.Panicf("ir.Mutate: unknown expression type %T", e)
	}
	return fn(e)
}

func mutateList(list []Expr, fn func(e Expr) Expr) {
	for ii, e := range list {
		list[ii] = Mutate(e, fn)
	}
}

// Transform returns a rewritten deep copy of e, see Mutate. The input is never changed.
func Transform(e Expr, fn func(e Expr) Expr) Expr {
	return Mutate(Copy(e), fn)
}

// ReplaceVars returns a copy of e where every variable named in replacements is replaced by (a copy of) its
// replacement. Loop and iteration variable declarations are not changed.
func ReplaceVars(e Expr, replacements map[string]Expr) Expr {
	if len(replacements) == 0 {
		return Copy(e)
	}
	return Transform(e, func(node Expr) Expr {
		v, ok := node.(*Var)
		if !ok {
			return node
		}
		if r, found := replacements[v.Name]; found {
			return Copy(r)
		}
		return node
	})
}
