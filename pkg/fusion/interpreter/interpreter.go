// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interpreter replays a tracker.FusionTracker against the loop nests of the operations, building the
// fused loop nests of a pattern.
//
// The replay is sequential and has no rollback: the first failing instruction aborts it.
package interpreter

import (
	"fmt"
	"slices"

	"github.com/gomlx/opfusion/pkg/fusion/tracker"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/ir/irutil"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/gomlx/opfusion/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OpBody is the loop nest of one operation, as built by its compute strategy.
type OpBody struct {
	Body     ir.Expr
	IsReduce bool
}

// FusionOp is one loop nest of a partially fused pattern.
type FusionOp struct {
	// Op whose result is stored by Body.
	Op *opgraph.Operation

	// Absorbed are the ops computed inside Body, other than Op.
	Absorbed []*opgraph.Operation

	Body     ir.Expr
	IsReduce bool
}

// PatternExpr is the result of a replay: the fused loop nests in dependency order, and the ops they compute.
type PatternExpr struct {
	Ops   []*opgraph.Operation
	Exprs []ir.Expr
}

// Interpreter replays trackers. It can be reused for several trackers, but it's not safe for concurrent use.
type Interpreter struct {
	bodies  map[*opgraph.Operation]OpBody
	outputs sets.Set[string]
	scope   map[string][]*FusionOp

	numExpandVars int
}

// New creates an Interpreter over the bodies of the operations. outputs are the names of the tensors that must
// be materialized: producers of those are kept when inlined into their consumers.
func New(bodies map[*opgraph.Operation]OpBody, outputs sets.Set[string]) *Interpreter {
	if outputs == nil {
		outputs = sets.Make[string]()
	}
	return &Interpreter{bodies: bodies, outputs: outputs}
}

// Run replays the tracker, until its Return instruction.
func (it *Interpreter) Run(t *tracker.FusionTracker) (result *PatternExpr, err error) {
	it.scope = make(map[string][]*FusionOp)
	err = compileerr.Catch(func() {
		for _, instr := range t.Instructions {
			if klog.V(4).Enabled() {
				klog.Infof("Interpreter: %s", instr)
			}
			if ret, ok := instr.(*tracker.ReturnInstr); ok {
				result = it.buildResult(it.lookup(ret.Name))
				return
			}
			it.apply(instr)
		}
		compileerr.Invariantf("tracker has no Return instruction:\n%s", t)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to replay fusion tracker")
	}
	return result, nil
}

func (it *Interpreter) lookup(name string) []*FusionOp {
	fusionOps, found := it.scope[name]
	if !found {
		compileerr.Invariantf("interpreter: %q not found in scope", name)
	}
	return fusionOps
}

func (it *Interpreter) apply(instr tracker.Instruction) {
	switch instr := instr.(type) {
	case *tracker.InitPatternInstr:
		body, found := it.bodies[instr.Op]
		if !found {
			compileerr.Invariantf("interpreter: no loop nest for %s", instr.Op)
		}
		it.scope[instr.Result] = []*FusionOp{{Op: instr.Op, Body: ir.Copy(body.Body), IsReduce: body.IsReduce}}
	case *tracker.RenameInstr:
		it.scope[instr.NewName] = it.lookup(instr.OriginName)
	case *tracker.CombineInstr:
		first := it.unsqueeze(it.lookup(instr.First), instr.FirstPadding)
		second := it.unsqueeze(it.lookup(instr.Second), instr.SecondPadding)
		it.scope[instr.Result] = append(slices.Clone(first), second...)
	case *tracker.TrivialInlineInstr:
		it.scope[instr.Result] = it.trivialInline(it.lookup(instr.Upstream), it.lookup(instr.Downstream))
	case *tracker.TmpTransformInstr:
		it.scope[instr.Result] = it.tmpTransform(it.lookup(instr.Upstream), it.lookup(instr.Downstream), nil)
	case *tracker.TmpTransformWithFakeReduceIterInstr:
		it.scope[instr.Result] = it.tmpTransform(it.lookup(instr.Upstream), it.lookup(instr.Downstream),
			instr.FakeReduceIterIdx)
	case *tracker.AnchorTransformInstr:
		upstream, downstream := it.lookup(instr.Upstream), it.lookup(instr.Downstream)
		if instr.IsUpstreamAnchor {
			downstream = applyRoute(downstream, instr.Route)
		} else {
			upstream = applyRoute(upstream, instr.Route)
		}
		it.scope[instr.Result] = append(slices.Clone(upstream), downstream...)
	default:
		compileerr.Invariantf("interpreter: unknown instruction %T (%s)", instr, instr)
	}
}

func (it *Interpreter) buildResult(fusionOps []*FusionOp) *PatternExpr {
	result := &PatternExpr{}
	exprs := make([]ir.Expr, 0, len(fusionOps))
	for _, fusionOp := range fusionOps {
		result.Ops = append(result.Ops, fusionOp.Op)
		result.Ops = append(result.Ops, fusionOp.Absorbed...)
		exprs = append(exprs, fusionOp.Body)
	}
	result.Ops = xslices.UniqueConcat(result.Ops)
	result.Exprs = irutil.TopoSort(exprs)
	return result
}

// outputStore returns the only store of a trivial loop nest.
func outputStore(body ir.Expr) *ir.Store {
	stores := irutil.Compose(irutil.ChildScheduleBlockRealizes, irutil.ScheduleBlockRealizeNotRoot,
		irutil.ScheduleBlockRealizeIsNotInit, irutil.ChildTensorStores).Apply(body)
	if len(stores) != 1 {
		compileerr.Invariantf("interpreter: expected exactly one store in trivial loop nest, got %d:\n%s",
			len(stores), ir.String(body))
	}
	return stores[0].(*ir.Store)
}

// inline replaces every load of the tensor stored by upstream in body (in place) by the stored value, with the
// store indices substituted by the load indices. It returns the new body and the number of loads replaced.
func inline(upstream *ir.Store, body ir.Expr) (ir.Expr, int) {
	indexVars := make([]*ir.Var, len(upstream.Indices))
	for ii, index := range upstream.Indices {
		v, ok := index.(*ir.Var)
		if !ok {
			compileerr.NotImplementedf("inlining store to %s with non-variable index %s", upstream.Tensor.Name, ir.Str(index))
		}
		indexVars[ii] = v
	}
	loads := irutil.GetEachTensorLoadExpr(body, upstream.Tensor.Name)
	for _, e := range loads {
		load := e.(*ir.Load)
		compileerr.Check(len(load.Indices) == len(indexVars), "interpreter: load of %s with %d indices, store has %d",
			upstream.Tensor.Name, len(load.Indices), len(indexVars))
		value := irutil.CopiedReplaceExpr(upstream.Value, indexVars, load.Indices)
		body = irutil.SubstituteTargetExprWithDestExpr(load, value, body)
	}
	return body, len(loads)
}

// trivialInline inlines every trivial loop nest of upstream into the loop nests of downstream reading it.
// Upstream loop nests are kept only if their result is an output or is not read by downstream.
func (it *Interpreter) trivialInline(upstream, downstream []*FusionOp) []*FusionOp {
	result := make([]*FusionOp, len(downstream))
	for ii, d := range downstream {
		result[ii] = &FusionOp{Op: d.Op, Absorbed: slices.Clone(d.Absorbed), Body: ir.Copy(d.Body), IsReduce: d.IsReduce}
	}
	var kept []*FusionOp
	numInlined := 0
	for _, u := range upstream {
		if u.IsReduce {
			kept = append(kept, u)
			continue
		}
		store := outputStore(u.Body)
		total := 0
		for _, d := range result {
			var n int
			d.Body, n = inline(store, d.Body)
			if n > 0 {
				d.Absorbed = xslices.UniqueConcat(d.Absorbed, []*opgraph.Operation{u.Op}, u.Absorbed)
			}
			total += n
		}
		numInlined += total
		if total == 0 || it.outputs.Has(store.Tensor.Name) {
			kept = append(kept, u)
		}
	}
	if numInlined == 0 {
		compileerr.Invariantf("interpreter: TrivialInline found no load of the upstream results in the downstream")
	}
	return append(kept, result...)
}

// loopChain returns the perfectly nested loops directly under the root schedule block of body: it stops at the
// first block that is not a single loop.
func loopChain(body ir.Expr) []*ir.For {
	realize, ok := body.(*ir.ScheduleBlockRealize)
	if !ok {
		compileerr.Invariantf("interpreter: loop nest is not a root schedule block: %s", ir.Str(body))
	}
	var chain []*ir.For
	block := realize.Block.Body
	for len(block.Stmts) == 1 {
		loop, ok := block.Stmts[0].(*ir.For)
		if !ok {
			break
		}
		chain = append(chain, loop)
		block = loop.Body
	}
	return chain
}

// unsqueeze inserts unit loops, named "expand_var_<n>", at the given positions of the loop chain of each
// loop nest. Positions refer to the chain after the previous insertions.
func (it *Interpreter) unsqueeze(fusionOps []*FusionOp, positions []int) []*FusionOp {
	if len(positions) == 0 {
		return fusionOps
	}
	result := make([]*FusionOp, len(fusionOps))
	for ii, fusionOp := range fusionOps {
		body := fusionOp.Body
		for _, pos := range positions {
			body = it.UnsqueezeExpr(body, pos)
		}
		result[ii] = &FusionOp{Op: fusionOp.Op, Absorbed: fusionOp.Absorbed, Body: body, IsReduce: fusionOp.IsReduce}
	}
	return result
}

// UnsqueezeExpr returns a copy of body with a unit loop inserted at position pos of its loop chain.
// Positions past the end of the chain insert the loop innermost.
func (it *Interpreter) UnsqueezeExpr(body ir.Expr, pos int) ir.Expr {
	chain := loopChain(body)
	pos = min(pos, len(chain))
	v := ir.NewVar(fmt.Sprintf("expand_var_%d", it.numExpandVars))
	it.numExpandVars++
	finder := irutil.ChildRootScheduleBlockRealizes
	if pos > 0 {
		parent := chain[pos-1].LoopVar
		v.IsReduceAxis = parent.IsReduceAxis
		finder = irutil.Compose(irutil.ChildFors, irutil.IsForIterVar(parent))
	}
	return irutil.UnsqueezeFor(finder, v).Apply(body)
}

func applyRoute(fusionOps []*FusionOp, route tracker.Route) []*FusionOp {
	for _, transform := range route {
		switch transform.Kind {
		case tracker.TransformIdentity:
		case tracker.TransformAppendDim, tracker.TransformDeleteDim:
			compileerr.NotImplementedf("anchor transform %s", transform)
		default:
			compileerr.Invariantf("unsupported anchor transform %s", transform)
		}
	}
	return fusionOps
}
