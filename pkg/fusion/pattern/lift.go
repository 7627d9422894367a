// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/fusion/tracker"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/pkg/errors"
)

// renamedTracker returns a copy of the tracker of p, with the instruction that renames p to newName.
func renamedTracker(p StmtPattern, newName string) *tracker.FusionTracker {
	return p.Tracker().Clone().Append(&tracker.RenameInstr{OriginName: p.Name(), NewName: newName})
}

// LiftToReduceTree converts a reduce pattern to a reduce tree without children.
func LiftToReduceTree(names *NameGenerator, p *ReducePattern) *ReduceTreePattern {
	name := names.Next(KindReduceTree)
	return &ReduceTreePattern{base: base{name: name, tracker: renamedTracker(p, name)}, root: p}
}

// LiftToHorizontal wraps p as a horizontal pattern with a single sub-pattern, without padding.
func LiftToHorizontal(names *NameGenerator, p StmtPattern) *HorizontalPattern {
	name := names.Next(KindHorizontal)
	return &HorizontalPattern{
		base:            base{name: name, tracker: renamedTracker(p, name)},
		paddingPatterns: []PaddingStmtPattern{{Pattern: p}},
	}
}

// InitExprPromise creates the promise of the loop nest named rootName, iterating over anchor, with the
// identity route.
func InitExprPromise(anchor *opgraph.Value, rootName string) ExprPromise {
	return ExprPromise{Anchor: anchor, Route: tracker.IdentityRoute(), RootName: rootName}
}

// AnchorValue returns the value whose iteration space p loops over: the result of the sink of trivial patterns,
// and the reduced input of reductions.
func AnchorValue(p StmtPattern) (*opgraph.Value, error) {
	switch p := p.(type) {
	case *TrivialPattern:
		return p.sinkOp.Result(0), nil
	case *ReducePattern:
		return p.ReduceOp().Operand(0), nil
	case *ReduceTreePattern:
		return AnchorValue(p.root)
	case *AnchorPattern:
		return p.anchor, nil
	}
	return nil, errors.Wrapf(compileerr.ErrInvariant, "AnchorValue: pattern %s of kind %s has no anchor",
		p.Name(), p.Kind())
}

// LiftToAnchor converts a trivial, reduce or reduce tree pattern to an anchor pattern with one promise.
func LiftToAnchor(names *NameGenerator, p StmtPattern) (*AnchorPattern, error) {
	switch p.(type) {
	case *TrivialPattern, *ReducePattern, *ReduceTreePattern:
	default:
		return nil, errors.Wrapf(compileerr.ErrInvariant, "LiftToAnchor: pattern %s of kind %s can't be lifted",
			p.Name(), p.Kind())
	}
	anchor, err := AnchorValue(p)
	if err != nil {
		return nil, err
	}
	name := names.Next(KindAnchor)
	return &AnchorPattern{
		base:   base{name: name, tracker: renamedTracker(p, name)},
		ops:    p.Ops(),
		anchor: anchor,
		state:  AnchorState{Promises: []ExprPromise{InitExprPromise(anchor, name)}},
	}, nil
}

// RecoverAnchorPatternToTrivial converts back an anchor pattern with exactly one promise to a trivial pattern.
// The sink is the op defining the anchor, if it belongs to the pattern, or its last op otherwise.
func RecoverAnchorPatternToTrivial(names *NameGenerator, p *AnchorPattern) (*TrivialPattern, error) {
	if len(p.state.Promises) != 1 {
		return nil, errors.Wrapf(compileerr.ErrInvariant,
			"RecoverAnchorPatternToTrivial(%s): expected exactly 1 promise, got %d", p.Name(), len(p.state.Promises))
	}
	sink := p.anchor.DefiningOp()
	if sink == nil || !slices.Contains(p.ops, sink) {
		sink = p.ops[len(p.ops)-1]
	}
	name := names.Next(KindTrivial)
	return &TrivialPattern{base: base{name: name, tracker: renamedTracker(p, name)}, ops: p.Ops(), sinkOp: sink}, nil
}

// ApplyAnchorTransformRoute returns a copy of p (same name and tracker) where route is appended to the
// route of every promise.
func ApplyAnchorTransformRoute(p *AnchorPattern, route tracker.Route) *AnchorPattern {
	state := p.state.Clone()
	for ii := range state.Promises {
		state.Promises[ii].Route = append(state.Promises[ii].Route, route...)
	}
	return &AnchorPattern{base: p.base, ops: p.Ops(), anchor: p.anchor, state: state}
}
