// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/gomlx/opfusion/pkg/fusion/tracker"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConvertToStmtPattern creates the initial pattern of a single operation, classified by its kind.
// The pattern's tracker holds only the InitPattern instruction.
func ConvertToStmtPattern(names *NameGenerator, op *opgraph.Operation) StmtPattern {
	ops := []*opgraph.Operation{op}
	var p StmtPattern
	switch kind := op.Kind(); {
	case kind == opgraph.Reduction:
		p = NewReducePattern(names, ops, nil)
	case kind.IsTrivial():
		p = NewTrivialPattern(names, ops, op, nil)
	default:
		p = NewUnsupportedPattern(names, ops, nil)
	}
	p.Tracker().Append(&tracker.InitPatternInstr{Op: op, Result: p.Name()})
	return p
}

// MergePattern merges first (the upstream) and second (the downstream) into a new pattern.
//
// The resulting ops are the union of both ops, and its tracker holds the instructions of first, then the ones of
// second, and then the instruction that realizes the merge itself. A trivial pattern merged into a reduce tree
// (with or without a sink trivial) that doesn't read it leaves the tree unchanged: the instructions are
// concatenated, and the result is a rename of second.
// Pairs of variants that can't be merged return an error wrapping compileerr.ErrUnsupportedMerge.
func MergePattern(names *NameGenerator, first, second StmtPattern) (StmtPattern, error) {
	if klog.V(4).Enabled() {
		klog.Infof("MergePattern: %s x %s", first.Name(), second.Name())
	}
	switch up := first.(type) {
	case *TrivialPattern:
		switch down := second.(type) {
		case *TrivialPattern:
			result := NewTrivialPattern(names, xslices.UniqueConcat(up.ops, down.ops), down.sinkOp,
				tracker.Concat(up.tracker, down.tracker))
			appendTrivialInline(up, down, result)
			return result, nil
		case *ReducePattern:
			result := NewReducePattern(names, xslices.UniqueConcat(up.ops, down.ops), tracker.Concat(up.tracker, down.tracker))
			appendTrivialInline(up, down, result)
			return result, nil
		case *ReduceTreePattern:
			tree, fused := fuseTrivialIntoTree(up, down)
			result := NewReduceTreePattern(names, tree.children, tree.root, tracker.Concat(up.tracker, down.tracker))
			if !fused {
				appendRename(down, result)
				return result, nil
			}
			appendTrivialInline(up, down, result)
			return result, nil
		case *ReduceTreePlusTrivialPattern:
			tree, treeFused := fuseTrivialIntoTree(up, down.tree)
			sinkTrivial, sinkFused := FusePatternIfConnected(up, down.sinkTrivial)
			result := NewReduceTreePlusTrivialPattern(names, tree, sinkTrivial.(*TrivialPattern), down.fakeReduceIterIdx,
				tracker.Concat(up.tracker, down.tracker))
			if !treeFused && !sinkFused {
				appendRename(down, result)
				return result, nil
			}
			appendTrivialInline(up, down, result)
			return result, nil
		case *AnchorPattern:
			resultName := names.Next(KindAnchor)
			state := down.state.Clone()
			for ii := range state.Promises {
				state.Promises[ii].RootName = resultName
			}
			result := &AnchorPattern{
				base:   base{name: resultName, tracker: tracker.Concat(up.tracker, down.tracker)},
				ops:    xslices.UniqueConcat(up.ops, down.ops),
				anchor: down.anchor,
				state:  state,
			}
			appendTrivialInline(up, down, result)
			return result, nil
		}

	case *ReduceTreePattern:
		switch down := second.(type) {
		case *ReduceTreePattern:
			tree := down.clone()
			if n := InsertDownstreamIntoTree(up, tree); n != 1 {
				return nil, errors.Wrapf(compileerr.ErrInvariant,
					"MergePattern: %s must be inserted exactly once into %s, got %d insertions", up.Name(), down.Name(), n)
			}
			result := NewReduceTreePattern(names, tree.children, tree.root, tracker.Concat(up.tracker, down.tracker))
			result.tracker.Append(&tracker.CombineInstr{First: up.Name(), Second: down.Name(), Result: result.Name()})
			return result, nil
		case *TrivialPattern:
			return MergeReduceTreeAndTrivial(names, up, down, nil), nil
		}

	case *AnchorPattern:
		if down, ok := second.(*AnchorPattern); ok {
			return MergeAnchors(names, up, down, true, tracker.IdentityRoute()), nil
		}

	case *HorizontalPattern:
		if down, ok := second.(*HorizontalPattern); ok {
			return mergeHorizontal(names, up, down)
		}
	}
	return nil, errors.Wrapf(compileerr.ErrUnsupportedMerge, "MergePattern(%s: %s, %s: %s)",
		first.Name(), first.Kind(), second.Name(), second.Kind())
}

// appendRename makes result stand for down, when the upstream trivial pattern merged into it is not read by
// any of its operations.
func appendRename(down, result StmtPattern) {
	result.Tracker().Append(&tracker.RenameInstr{OriginName: down.Name(), NewName: result.Name()})
}

func appendTrivialInline(up, down, result StmtPattern) {
	result.Tracker().Append(&tracker.TrivialInlineInstr{Upstream: up.Name(), Downstream: down.Name(), Result: result.Name()})
}

// MergeReduceTreeAndTrivial creates the pattern of a reduce tree whose result is consumed by the trivial pattern.
// fakeReduceIterIdx lists the axes of trivial's loop framework that are not really reduced.
func MergeReduceTreeAndTrivial(names *NameGenerator, tree *ReduceTreePattern, trivial *TrivialPattern,
	fakeReduceIterIdx []int) *ReduceTreePlusTrivialPattern {
	result := NewReduceTreePlusTrivialPattern(names, tree, trivial, fakeReduceIterIdx,
		tracker.Concat(tree.tracker, trivial.tracker))
	if len(fakeReduceIterIdx) == 0 {
		result.tracker.Append(&tracker.TmpTransformInstr{Upstream: tree.Name(), Downstream: trivial.Name(),
			Result: result.Name()})
	} else {
		result.tracker.Append(&tracker.TmpTransformWithFakeReduceIterInstr{Upstream: tree.Name(),
			Downstream: trivial.Name(), Result: result.Name(), FakeReduceIterIdx: slices.Clone(fakeReduceIterIdx)})
	}
	return result
}

// MergeAnchors merges two anchor patterns. The anchor of the result is the one of upstream if upstreamIsAnchor,
// and the one of downstream otherwise. The state of the result starts empty.
func MergeAnchors(names *NameGenerator, upstream, downstream *AnchorPattern, upstreamIsAnchor bool,
	route tracker.Route) *AnchorPattern {
	anchor := downstream.anchor
	if upstreamIsAnchor {
		anchor = upstream.anchor
	}
	result := NewAnchorPattern(names, xslices.UniqueConcat(upstream.ops, downstream.ops), anchor, AnchorState{},
		tracker.Concat(upstream.tracker, downstream.tracker))
	result.tracker.Append(&tracker.AnchorTransformInstr{
		Upstream:         upstream.Name(),
		Downstream:       downstream.Name(),
		Result:           result.Name(),
		Route:            slices.Clone(route),
		IsUpstreamAnchor: upstreamIsAnchor,
	})
	return result
}

// mergeHorizontal combines two horizontal patterns. The sub-patterns of both are flattened into the result,
// each with its padding extended by the padding of its side, instead of nesting first and second as two
// sub-patterns: LoopFramework and the padding lookups only need the leaf patterns.
func mergeHorizontal(names *NameGenerator, first, second *HorizontalPattern) (StmtPattern, error) {
	firstLoops, err := LoopFramework(first)
	if err != nil {
		return nil, err
	}
	secondLoops, err := LoopFramework(second)
	if err != nil {
		return nil, err
	}
	firstPadding, secondPadding, err := GetPaddingVector(firstLoops, secondLoops)
	if err != nil {
		return nil, errors.WithMessagef(err, "MergePattern(%s, %s)", first.Name(), second.Name())
	}
	var subs []PaddingStmtPattern
	for _, sub := range first.paddingPatterns {
		subs = append(subs, PaddingStmtPattern{Pattern: sub.Pattern, PaddingPos: concatInts(sub.PaddingPos, firstPadding)})
	}
	for _, sub := range second.paddingPatterns {
		subs = append(subs, PaddingStmtPattern{Pattern: sub.Pattern, PaddingPos: concatInts(sub.PaddingPos, secondPadding)})
	}
	result := NewHorizontalPattern(names, subs, tracker.Concat(first.tracker, second.tracker))
	result.tracker.Append(&tracker.CombineInstr{
		First:         first.Name(),
		Second:        second.Name(),
		Result:        result.Name(),
		FirstPadding:  firstPadding,
		SecondPadding: secondPadding,
	})
	return result, nil
}

func concatInts(a, b []int) []int {
	if len(a)+len(b) == 0 {
		return nil
	}
	return append(slices.Clone(a), b...)
}

// FusePatternIfConnected merges the trivial upstream into downstream, if upstream's sink op is directly consumed
// by one of downstream's ops. downstream must be a *TrivialPattern or a *ReducePattern.
//
// The returned pattern keeps the name and tracker of downstream: it is a structural update of a sub-pattern,
// not a new node.
func FusePatternIfConnected(upstream *TrivialPattern, downstream StmtPattern) (StmtPattern, bool) {
	consumers := opgraph.FindDownstreamOps(upstream.sinkOp)
	connected := xslices.AnyOf(downstream.Ops(), func(op *opgraph.Operation) bool {
		return slices.Contains(consumers, op)
	})
	if !connected {
		return downstream, false
	}
	switch down := downstream.(type) {
	case *TrivialPattern:
		return &TrivialPattern{base: down.base, ops: xslices.UniqueConcat(upstream.ops, down.ops), sinkOp: down.sinkOp}, true
	case *ReducePattern:
		return &ReducePattern{base: down.base, ops: xslices.UniqueConcat(upstream.ops, down.ops)}, true
	}
	compileerr.Invariantf("FusePatternIfConnected: cannot fuse %s into %s of kind %s",
		upstream.Name(), downstream.Name(), downstream.Kind())
	return nil, false
}

// fuseTrivialIntoTree returns a copy of tree where upstream is fused into every reduce connected to it.
func fuseTrivialIntoTree(upstream *TrivialPattern, tree *ReduceTreePattern) (*ReduceTreePattern, bool) {
	root, fused := FusePatternIfConnected(upstream, tree.root)
	result := &ReduceTreePattern{base: tree.base, root: root.(*ReducePattern)}
	for _, child := range tree.children {
		newChild, childFused := fuseTrivialIntoTree(upstream, child)
		fused = fused || childFused
		result.children = append(result.children, newChild)
	}
	return result, fused
}

// IsDirectUpstream returns whether some op of downstream's root consumes the result of upstream's root reduction.
func IsDirectUpstream(upstream, downstream *ReduceTreePattern) bool {
	reduceOp := upstream.root.ReduceOp()
	return xslices.AnyOf(downstream.root.ops, func(op *opgraph.Operation) bool {
		return slices.Contains(opgraph.FindUpstreamOps(op), reduceOp)
	})
}

// InsertDownstreamIntoTree adds upstream as a child of every node of tree (recursively) that is its direct
// downstream, and returns the number of insertions. tree is changed in place.
func InsertDownstreamIntoTree(upstream, tree *ReduceTreePattern) int {
	count := 0
	if IsDirectUpstream(upstream, tree) {
		tree.children = append(tree.children, upstream)
		count++
	}
	// Only the original children are searched.
	numOriginal := len(tree.children) - count
	for _, child := range tree.children[:numOriginal] {
		count += InsertDownstreamIntoTree(upstream, child)
	}
	return count
}

// GetPaddingVector aligns two loop frameworks by inserting unit axes, and returns the positions (in the aligned
// framework, in increasing order) where a unit axis must be inserted into first and into second.
//
// Axes are matched positionally: equal axes align, and an axis of size 1 without a match on the other side
// gets a unit axis inserted on the other side. Any other mismatch is an error.
func GetPaddingVector(first, second []dimexpr.Expr) (firstPadding, secondPadding []int, err error) {
	if klog.V(4).Enabled() {
		klog.Infof("GetPaddingVector for: %s vs %s", xslices.Join(first, ","), xslices.Join(second, ","))
	}
	pf, ps := 0, 0
	for pos := 0; pf < len(first) || ps < len(second); pos++ {
		switch {
		case pf < len(first) && ps < len(second) && first[pf].Equal(second[ps]):
			pf++
			ps++
		case ps < len(second) && second[ps].IsOne():
			firstPadding = append(firstPadding, pos)
			ps++
		case pf < len(first) && first[pf].IsOne():
			secondPadding = append(secondPadding, pos)
			pf++
		default:
			return nil, nil, errors.Wrapf(compileerr.ErrInvariant,
				"padding error: loop frameworks [%s] and [%s] can't be aligned at position %d",
				xslices.Join(first, ","), xslices.Join(second, ","), pos)
		}
	}
	return firstPadding, secondPadding, nil
}

// LoopFramework returns the dimensions of the loop nest that computes the pattern.
//
// For reductions these are the non-reduced dimensions of the reduced input followed by the reduced ones.
func LoopFramework(p StmtPattern) ([]dimexpr.Expr, error) {
	switch p := p.(type) {
	case *TrivialPattern:
		return slices.Clone(p.sinkOp.Result(0).Shape().Dimensions), nil
	case *ReducePattern:
		reduceOp := p.ReduceOp()
		axes := opgraph.ReduceAxes(reduceOp)
		inputDims := reduceOp.Operand(0).Shape().Dimensions
		var spatial, reduced []dimexpr.Expr
		for axis, dim := range inputDims {
			if slices.Contains(axes, axis) {
				reduced = append(reduced, dim)
			} else {
				spatial = append(spatial, dim)
			}
		}
		return append(spatial, reduced...), nil
	case *ReduceTreePattern:
		return LoopFramework(p.root)
	case *ReduceTreePlusTrivialPattern:
		trivialLoops, err := LoopFramework(p.sinkTrivial)
		if err != nil {
			return nil, err
		}
		if len(p.fakeReduceIterIdx) == 0 {
			rootLoops, err := LoopFramework(p.tree.root)
			if err != nil {
				return nil, err
			}
			numReduced := len(opgraph.ReduceAxes(p.tree.root.ReduceOp()))
			return append(trivialLoops, rootLoops[len(rootLoops)-numReduced:]...), nil
		}
		var nonFake, fake []dimexpr.Expr
		for axis, dim := range trivialLoops {
			if slices.Contains(p.fakeReduceIterIdx, axis) {
				fake = append(fake, dim)
			} else {
				nonFake = append(nonFake, dim)
			}
		}
		return append(nonFake, fake...), nil
	case *HorizontalPattern:
		if len(p.paddingPatterns) == 0 {
			return nil, errors.Wrapf(compileerr.ErrInvariant, "LoopFramework(%s): empty horizontal pattern", p.Name())
		}
		last := xslices.Last(p.paddingPatterns)
		loops, err := LoopFramework(last.Pattern)
		if err != nil {
			return nil, err
		}
		for _, pos := range last.PaddingPos {
			loops = slices.Insert(loops, pos, dimexpr.Const(1))
		}
		return loops, nil
	case *AnchorPattern:
		return slices.Clone(p.anchor.Shape().Dimensions), nil
	}
	return nil, errors.Wrapf(compileerr.ErrNotImplemented, "LoopFramework(%s) of kind %s", p.Name(), p.Kind())
}

// SqueezeLoopFramework removes the unit axes.
func SqueezeLoopFramework(loops []dimexpr.Expr) []dimexpr.Expr {
	return xslices.Filter(loops, func(dim dimexpr.Expr) bool { return !dim.IsOne() })
}

// IsLoopFrameworkEqual returns whether both patterns have the same loop framework, ignoring unit axes.
// Patterns without a loop framework are never equal.
func IsLoopFrameworkEqual(first, second StmtPattern) bool {
	firstLoops, err := LoopFramework(first)
	if err != nil {
		return false
	}
	secondLoops, err := LoopFramework(second)
	if err != nil {
		return false
	}
	return dimexpr.EqualSlices(SqueezeLoopFramework(firstLoops), SqueezeLoopFramework(secondLoops))
}
