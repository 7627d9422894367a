// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/ir/irutil"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RootBlockName is the name of the root schedule block of a merged module.
const RootBlockName = "root_"

// IRSchedule holds the expressions of a module being scheduled. The schedule primitives change the
// expressions in place.
type IRSchedule struct {
	exprs []ir.Expr
}

// New creates an IRSchedule over the expressions of module. The module expressions are used (and changed)
// directly, not copied.
func New(module *ir.Module) *IRSchedule {
	return &IRSchedule{exprs: module.Exprs}
}

// Exprs returns the current expressions.
func (s *IRSchedule) Exprs() []ir.Expr {
	return s.exprs
}

// Module returns the current expressions as a module.
func (s *IRSchedule) Module() *ir.Module {
	return ir.NewModule(s.exprs...)
}

// MergeExprs merges all expressions into a single one, with one root schedule block (named RootBlockName)
// holding the bodies of the root blocks of every expression, in order.
func (s *IRSchedule) MergeExprs() {
	if len(s.exprs) == 1 {
		if r, ok := s.exprs[0].(*ir.ScheduleBlockRealize); ok && r.Block.Name == RootBlockName {
			return
		}
	}
	var stmts []ir.Expr
	for _, e := range s.exprs {
		if r, ok := e.(*ir.ScheduleBlockRealize); ok && len(r.IterValues) == 0 {
			stmts = append(stmts, r.Block.Body.Stmts...)
			continue
		}
		stmts = append(stmts, e)
	}
	root := &ir.ScheduleBlockRealize{Block: &ir.ScheduleBlock{Name: RootBlockName, Body: ir.NewBlock(stmts...)}}
	s.exprs = []ir.Expr{root}
	klog.V(4).Infof("MergeExprs: %d statements in %s", len(stmts), RootBlockName)
}

// GetAllBlocks returns all the (non-root) schedule block realizes, in pre-order.
func (s *IRSchedule) GetAllBlocks() []*ir.ScheduleBlockRealize {
	var blocks []*ir.ScheduleBlockRealize
	for _, e := range s.exprs {
		for _, found := range irutil.ChildScheduleBlockRealizes.Then(irutil.ScheduleBlockRealizeNotRoot).Apply(e) {
			blocks = append(blocks, found.(*ir.ScheduleBlockRealize))
		}
	}
	return blocks
}

// HasBlock returns whether there is a schedule block with the given name.
func (s *IRSchedule) HasBlock(name string) bool {
	_, _, err := s.findBlock(name)
	return err == nil
}

// GetBlock returns the realize of the schedule block with the given name.
func (s *IRSchedule) GetBlock(name string) (*ir.ScheduleBlockRealize, error) {
	r, _, err := s.findBlock(name)
	return r, err
}

func (s *IRSchedule) findBlock(name string) (*ir.ScheduleBlockRealize, ir.Expr, error) {
	for _, e := range s.exprs {
		for _, found := range irutil.ChildScheduleBlockRealizes.Apply(e) {
			r := found.(*ir.ScheduleBlockRealize)
			if r.Block.Name == name {
				return r, e, nil
			}
		}
	}
	return nil, nil, errors.Wrapf(compileerr.ErrInvariant, "schedule block %q not found", name)
}

// GetLoops returns the loops enclosing the schedule block with the given name, outermost first.
func (s *IRSchedule) GetLoops(name string) ([]*ir.For, error) {
	r, root, err := s.findBlock(name)
	if err != nil {
		return nil, err
	}
	var loops []*ir.For
	for _, father := range irutil.FindFather(root).Then(irutil.IsFor).Apply(r) {
		loops = append(loops, father.(*ir.For))
	}
	return loops, nil
}

// Replace replaces the node target (by identity) by a copy of dst.
func (s *IRSchedule) Replace(target, dst ir.Expr) {
	for ii, e := range s.exprs {
		s.exprs[ii] = irutil.ReplaceTarget(target, dst).Apply(e)
	}
}

// Bind sets the loop to be executed by the GPU axis ("blockIdx.x", "threadIdx.x", ...).
func (s *IRSchedule) Bind(loop *ir.For, axis string) {
	switch axis[0] {
	case 'b':
		loop.ForType = ir.GPUBlock
	case 't':
		loop.ForType = ir.GPUThread
	default:
		compileerr.Invariantf("Bind(%s): unknown GPU axis %q", loop.LoopVar.Name, axis)
	}
	loop.BindAxis = axis
}

// Split splits loop into an outer loop over ceil(extent/factor) and an inner loop over factor, changing it in
// place: loop becomes the outer loop. The loop variable is replaced by `outer * factor + inner` in the body,
// and, if the extent is not divisible by factor, the body is guarded by `outer * factor + inner < extent`.
//
// The extent of the loop must be static.
func (s *IRSchedule) Split(loop *ir.For, factor int64) (outer, inner *ir.For, err error) {
	extent, ok := ir.ConstValue(loop.Extent)
	if !ok {
		return nil, nil, errors.Wrapf(compileerr.ErrNotImplemented, "Split(%s): symbolic extent %s", loop.LoopVar.Name, ir.Str(loop.Extent))
	}
	if factor <= 0 {
		return nil, nil, errors.Wrapf(compileerr.ErrInvariant, "Split(%s): invalid factor %d", loop.LoopVar.Name, factor)
	}
	name := loop.LoopVar.Name
	outerVar := &ir.Var{Name: name + "_outer", IsReduceAxis: loop.LoopVar.IsReduceAxis}
	innerVar := &ir.Var{Name: name + "_inner", IsReduceAxis: loop.LoopVar.IsReduceAxis}
	fused := func() ir.Expr {
		return ir.Add(ir.Mul(&ir.Var{Name: outerVar.Name}, ir.Int(factor)), &ir.Var{Name: innerVar.Name})
	}
	body := replaceVarsInPlace(loop.Body, map[string]func() ir.Expr{name: fused})
	if extent%factor != 0 {
		body = ir.NewBlock(&ir.IfThenElse{Cond: ir.LT(fused(), ir.Int(extent)), Then: ir.AsBlock(body)})
	}
	inner = ir.NewFor(innerVar, ir.Int(factor), body)
	loop.LoopVar = outerVar
	loop.Min = ir.Int(0)
	loop.Extent = ir.Int(ceilDiv(extent, factor))
	loop.Body = ir.NewBlock(inner)
	klog.V(4).Infof("Split(%s, %d): outer extent %d", name, factor, ceilDiv(extent, factor))
	return loop, inner, nil
}

// replaceVarsInPlace replaces the variables named in replacements by newly created expressions, keeping the
// identity of all other nodes. Iteration variable declarations are not changed.
func replaceVarsInPlace(e ir.Expr, replacements map[string]func() ir.Expr) ir.Expr {
	return ir.Mutate(e, func(node ir.Expr) ir.Expr {
		if v, ok := node.(*ir.Var); ok {
			if create, found := replacements[v.Name]; found {
				return create()
			}
		}
		return node
	})
}

// String returns the pseudo-code of all expressions.
func (s *IRSchedule) String() string {
	str := ""
	for ii, e := range s.exprs {
		if ii > 0 {
			str += "\n"
		}
		str += ir.String(e)
	}
	return str
}

// Fuse fuses perfectly nested loops (each loop's body is only the next loop) with static extents into one loop,
// changing loops[0] in place. The original loop variables are replaced by their value derived from the fused
// loop variable.
func (s *IRSchedule) Fuse(loops []*ir.For) (*ir.For, error) {
	if len(loops) == 0 {
		return nil, errors.Wrap(compileerr.ErrInvariant, "Fuse: no loops")
	}
	extents := make([]int64, len(loops))
	name := ""
	for ii, loop := range loops {
		extent, ok := ir.ConstValue(loop.Extent)
		if !ok {
			return nil, errors.Wrapf(compileerr.ErrNotImplemented, "Fuse: symbolic extent %s of loop %s",
				ir.Str(loop.Extent), loop.LoopVar.Name)
		}
		extents[ii] = extent
		if ii > 0 {
			if len(loops[ii-1].Body.Stmts) != 1 || loops[ii-1].Body.Stmts[0] != loop {
				return nil, errors.Wrapf(compileerr.ErrInvariant, "Fuse: loop %s is not perfectly nested in %s",
					loop.LoopVar.Name, loops[ii-1].LoopVar.Name)
			}
			name += "_"
		}
		name += loop.LoopVar.Name
	}
	if len(loops) == 1 {
		return loops[0], nil
	}
	fusedVar := &ir.Var{Name: name + "_fused"}
	replacements := make(map[string]func() ir.Expr, len(loops))
	stride := int64(1)
	for ii := len(loops) - 1; ii >= 0; ii-- {
		ii, s := ii, stride
		replacements[loops[ii].LoopVar.Name] = func() ir.Expr {
			var e ir.Expr = &ir.Var{Name: fusedVar.Name}
			if s != 1 {
				e = ir.Div(e, ir.Int(s))
			}
			if ii > 0 {
				e = ir.Mod(e, ir.Int(extents[ii]))
			}
			return e
		}
		stride *= extents[ii]
	}
	innermost := loops[len(loops)-1]
	body := ir.AsBlock(replaceVarsInPlace(innermost.Body, replacements))
	outer := loops[0]
	outer.LoopVar = fusedVar
	outer.Min = ir.Int(0)
	outer.Extent = ir.Int(stride)
	outer.Body = body
	klog.V(4).Infof("Fuse(%s): extent %d", name, stride)
	return outer, nil
}
