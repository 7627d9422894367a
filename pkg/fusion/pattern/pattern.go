// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pattern defines StmtPattern, the classification of how a set of operations can be fused, and the
// fuser: the conversion of single operations to patterns and the algebra of pairwise pattern merges.
//
// Patterns are immutable once built. Every pattern carries a tracker.FusionTracker recording how it was derived,
// so the fused loop nests can be built later by replaying it (see package interpreter).
package pattern

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opfusion/pkg/fusion/tracker"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/xslices"
)

// StmtPattern is one of: *TrivialPattern, *ReducePattern, *ReduceTreePattern, *ReduceTreePlusTrivialPattern,
// *HorizontalPattern, *AnchorPattern or *UnsupportedPattern.
type StmtPattern interface {
	// Kind of the pattern variant.
	Kind() PatternKind

	// Name is unique among the patterns created by the same NameGenerator.
	Name() string

	// Ops returns the operations of the pattern, without duplicates.
	Ops() []*opgraph.Operation

	// Tracker returns the log of instructions that derived the pattern.
	Tracker() *tracker.FusionTracker

	isStmtPattern()
}

type base struct {
	name    string
	tracker *tracker.FusionTracker
}

func newBase(names *NameGenerator, kind PatternKind, t *tracker.FusionTracker) base {
	if t == nil {
		t = tracker.New()
	}
	return base{name: names.Next(kind), tracker: t}
}

func (b *base) Name() string                    { return b.name }
func (b *base) Tracker() *tracker.FusionTracker { return b.tracker }
func (*base) isStmtPattern()                    {}

// TrivialPattern is a chain of element-wise, broadcast or injective operations, whose result is produced by SinkOp.
type TrivialPattern struct {
	base
	ops    []*opgraph.Operation
	sinkOp *opgraph.Operation
}

// NewTrivialPattern creates a TrivialPattern with a new name.
func NewTrivialPattern(names *NameGenerator, ops []*opgraph.Operation, sinkOp *opgraph.Operation,
	t *tracker.FusionTracker) *TrivialPattern {
	return &TrivialPattern{base: newBase(names, KindTrivial, t), ops: xslices.UniqueConcat(ops), sinkOp: sinkOp}
}

func (*TrivialPattern) Kind() PatternKind             { return KindTrivial }
func (p *TrivialPattern) Ops() []*opgraph.Operation { return slices.Clone(p.ops) }

// SinkOp returns the operation producing the result of the pattern.
func (p *TrivialPattern) SinkOp() *opgraph.Operation { return p.sinkOp }

// ReducePattern is a set of operations ending in a reduction.
type ReducePattern struct {
	base
	ops []*opgraph.Operation
}

// NewReducePattern creates a ReducePattern with a new name.
func NewReducePattern(names *NameGenerator, ops []*opgraph.Operation, t *tracker.FusionTracker) *ReducePattern {
	return &ReducePattern{base: newBase(names, KindReduce, t), ops: xslices.UniqueConcat(ops)}
}

func (*ReducePattern) Kind() PatternKind             { return KindReduce }
func (p *ReducePattern) Ops() []*opgraph.Operation { return slices.Clone(p.ops) }

// ReduceOp returns the last reduction operation of the pattern.
func (p *ReducePattern) ReduceOp() *opgraph.Operation {
	for ii := len(p.ops) - 1; ii >= 0; ii-- {
		if p.ops[ii].Kind() == opgraph.Reduction {
			return p.ops[ii]
		}
	}
	return xslices.Last(p.ops)
}

// ReduceTreePattern is a tree of reductions: the root dominates all the children, and each child tree is a
// (transitive) producer of its parent.
type ReduceTreePattern struct {
	base
	children []*ReduceTreePattern
	root     *ReducePattern
}

// NewReduceTreePattern creates a ReduceTreePattern with a new name.
func NewReduceTreePattern(names *NameGenerator, children []*ReduceTreePattern, root *ReducePattern,
	t *tracker.FusionTracker) *ReduceTreePattern {
	return &ReduceTreePattern{base: newBase(names, KindReduceTree, t), children: slices.Clone(children), root: root}
}

func (*ReduceTreePattern) Kind() PatternKind { return KindReduceTree }

// Ops returns the operations of the root followed by the ones of the children.
func (p *ReduceTreePattern) Ops() []*opgraph.Operation {
	lists := [][]*opgraph.Operation{p.root.Ops()}
	for _, child := range p.children {
		lists = append(lists, child.Ops())
	}
	return xslices.UniqueConcat(lists...)
}

// Root returns the root reduction of the tree.
func (p *ReduceTreePattern) Root() *ReducePattern { return p.root }

// Children returns the sub-trees.
func (p *ReduceTreePattern) Children() []*ReduceTreePattern { return slices.Clone(p.children) }

// FlattenReduces returns the reductions of the tree, the root first, then the children in pre-order.
func (p *ReduceTreePattern) FlattenReduces() []*ReducePattern {
	reduces := []*ReducePattern{p.root}
	for _, child := range p.children {
		reduces = append(reduces, child.FlattenReduces()...)
	}
	return reduces
}

// clone copies the structure of the tree: the copy can have children inserted without changing p.
// Names and trackers are shared.
func (p *ReduceTreePattern) clone() *ReduceTreePattern {
	c := &ReduceTreePattern{base: p.base, root: p.root}
	for _, child := range p.children {
		c.children = append(c.children, child.clone())
	}
	return c
}

// ReduceTreePlusTrivialPattern is a reduce tree whose root result is consumed by a trivial pattern.
type ReduceTreePlusTrivialPattern struct {
	base
	tree              *ReduceTreePattern
	sinkTrivial       *TrivialPattern
	fakeReduceIterIdx []int
}

// NewReduceTreePlusTrivialPattern creates a ReduceTreePlusTrivialPattern with a new name.
func NewReduceTreePlusTrivialPattern(names *NameGenerator, tree *ReduceTreePattern, sinkTrivial *TrivialPattern,
	fakeReduceIterIdx []int, t *tracker.FusionTracker) *ReduceTreePlusTrivialPattern {
	return &ReduceTreePlusTrivialPattern{
		base:              newBase(names, KindReduceTreePlusTrivial, t),
		tree:              tree,
		sinkTrivial:       sinkTrivial,
		fakeReduceIterIdx: slices.Clone(fakeReduceIterIdx),
	}
}

func (*ReduceTreePlusTrivialPattern) Kind() PatternKind { return KindReduceTreePlusTrivial }

func (p *ReduceTreePlusTrivialPattern) Ops() []*opgraph.Operation {
	return xslices.UniqueConcat(p.tree.Ops(), p.sinkTrivial.Ops())
}

// Tree returns the reduce tree.
func (p *ReduceTreePlusTrivialPattern) Tree() *ReduceTreePattern { return p.tree }

// SinkTrivial returns the trivial pattern consuming the tree's result.
func (p *ReduceTreePlusTrivialPattern) SinkTrivial() *TrivialPattern { return p.sinkTrivial }

// FakeReduceIterIdx returns the axes of the sink trivial loop framework that look like reduced axes of the
// tree but are pass-through axes.
func (p *ReduceTreePlusTrivialPattern) FakeReduceIterIdx() []int { return slices.Clone(p.fakeReduceIterIdx) }

// PaddingStmtPattern is a sub-pattern of a HorizontalPattern, with the positions where unit axes are inserted
// in its loop framework.
type PaddingStmtPattern struct {
	Pattern    StmtPattern
	PaddingPos []int
}

// HorizontalPattern groups independent patterns sharing the same loop framework, after padding.
type HorizontalPattern struct {
	base
	paddingPatterns []PaddingStmtPattern
}

// NewHorizontalPattern creates a HorizontalPattern with a new name.
func NewHorizontalPattern(names *NameGenerator, paddingPatterns []PaddingStmtPattern,
	t *tracker.FusionTracker) *HorizontalPattern {
	return &HorizontalPattern{base: newBase(names, KindHorizontal, t), paddingPatterns: slices.Clone(paddingPatterns)}
}

func (*HorizontalPattern) Kind() PatternKind { return KindHorizontal }

func (p *HorizontalPattern) Ops() []*opgraph.Operation {
	lists := make([][]*opgraph.Operation, 0, len(p.paddingPatterns))
	for _, sub := range p.paddingPatterns {
		lists = append(lists, sub.Pattern.Ops())
	}
	return xslices.UniqueConcat(lists...)
}

// PaddingPatterns returns the sub-patterns.
func (p *HorizontalPattern) PaddingPatterns() []PaddingStmtPattern { return slices.Clone(p.paddingPatterns) }

// ExprPromise is a deferred loop nest: the scope entry RootName, migrated to the iteration space of Anchor by
// applying Route.
type ExprPromise struct {
	Anchor   *opgraph.Value
	Route    tracker.Route
	RootName string
}

// AnchorState holds the promises of an AnchorPattern.
type AnchorState struct {
	Promises []ExprPromise
}

// Clone returns a copy of the state that can be changed independently.
func (s AnchorState) Clone() AnchorState {
	promises := make([]ExprPromise, len(s.Promises))
	for ii, promise := range s.Promises {
		promises[ii] = ExprPromise{Anchor: promise.Anchor, Route: slices.Clone(promise.Route), RootName: promise.RootName}
	}
	return AnchorState{Promises: promises}
}

// AnchorPattern is the most general pattern: the iteration space is the one of the Anchor value, and the
// loop nests are kept as promises that can still be transformed.
type AnchorPattern struct {
	base
	ops    []*opgraph.Operation
	anchor *opgraph.Value
	state  AnchorState
}

// NewAnchorPattern creates an AnchorPattern with a new name.
func NewAnchorPattern(names *NameGenerator, ops []*opgraph.Operation, anchor *opgraph.Value, state AnchorState,
	t *tracker.FusionTracker) *AnchorPattern {
	return &AnchorPattern{base: newBase(names, KindAnchor, t), ops: xslices.UniqueConcat(ops), anchor: anchor,
		state: state.Clone()}
}

func (*AnchorPattern) Kind() PatternKind             { return KindAnchor }
func (p *AnchorPattern) Ops() []*opgraph.Operation { return slices.Clone(p.ops) }

// Anchor returns the value whose iteration space the pattern uses.
func (p *AnchorPattern) Anchor() *opgraph.Value { return p.anchor }

// State returns a copy of the anchor state.
func (p *AnchorPattern) State() AnchorState { return p.state.Clone() }

// CanRecompute returns whether the pattern can be recomputed by each of its consumers: it has at most one
// promise and only trivial operations.
func (p *AnchorPattern) CanRecompute() bool {
	if len(p.state.Promises) > 1 {
		return false
	}
	for _, op := range p.ops {
		if !op.Kind().IsTrivial() {
			return false
		}
	}
	return true
}

// UnsupportedPattern marks operations that can't be fused.
type UnsupportedPattern struct {
	base
	ops []*opgraph.Operation
}

// NewUnsupportedPattern creates an UnsupportedPattern with a new name.
func NewUnsupportedPattern(names *NameGenerator, ops []*opgraph.Operation, t *tracker.FusionTracker) *UnsupportedPattern {
	return &UnsupportedPattern{base: newBase(names, KindUnsupported, t), ops: xslices.UniqueConcat(ops)}
}

func (*UnsupportedPattern) Kind() PatternKind             { return KindUnsupported }
func (p *UnsupportedPattern) Ops() []*opgraph.Operation { return slices.Clone(p.ops) }

// String returns the name of the pattern followed by its operations, e.g. "T_3(exp_1,add_2)".
func String(p StmtPattern) string {
	return fmt.Sprintf("%s(%s)", p.Name(), xslices.Join(p.Ops(), ","))
}

// Names returns the names of the patterns joined by " x ", for logging.
func Names(patterns ...StmtPattern) string {
	return strings.Join(xslices.Map(patterns, StmtPattern.Name), " x ")
}

// GetPatternInputValues returns the values used by the operations of p that they don't produce themselves,
// in order of first use.
func GetPatternInputValues(p StmtPattern) []*opgraph.Value {
	ops := p.Ops()
	produced := make(map[*opgraph.Value]bool)
	for _, op := range ops {
		for _, result := range op.Results() {
			produced[result] = true
		}
	}
	var inputs []*opgraph.Value
	for _, op := range ops {
		for _, operand := range op.Operands() {
			if !produced[operand] && !slices.Contains(inputs, operand) {
				inputs = append(inputs, operand)
			}
		}
	}
	return inputs
}

// GetOutputValues returns the results of the operations of p that are used outside of p (or not used at all).
func GetOutputValues(p StmtPattern) []*opgraph.Value {
	ops := p.Ops()
	var outputs []*opgraph.Value
	for _, op := range ops {
		for _, result := range op.Results() {
			users := result.Users()
			if len(users) == 0 || xslices.AnyOf(users, func(user *opgraph.Operation) bool {
				return !slices.Contains(ops, user)
			}) {
				outputs = append(outputs, result)
			}
		}
	}
	return outputs
}
