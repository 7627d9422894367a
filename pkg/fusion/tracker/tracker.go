// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tracker records how fused patterns were derived: a FusionTracker is an append-only log of
// instructions that is replayed later (see package interpreter) to build the fused loop nests.
//
// Trackers are concatenated, never merged or sorted, when two patterns are merged: the replay order is
// the order in which the fusion decisions were taken.
package tracker

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/xslices"
)

// InstructionKind enumerates the instructions of a FusionTracker.
type InstructionKind int

//go:generate go tool enumer -type=InstructionKind -trimprefix=Instr -output=gen_instructionkind_enumer.go tracker.go

const (
	InstrInitPattern InstructionKind = iota
	InstrRename
	InstrCombine
	InstrTrivialInline
	InstrTmpTransform
	InstrTmpTransformWithFakeReduceIter
	InstrAnchorTransform
	InstrReturn
)

// Instruction is one entry of a FusionTracker. The set of implementations is closed: the ones in this package.
type Instruction interface {
	Kind() InstructionKind
	String() string
}

// InitPatternInstr materializes the loop nest of Op into the scope entry Result.
type InitPatternInstr struct {
	Op     *opgraph.Operation
	Result string
}

// RenameInstr aliases the scope entry OriginName as NewName.
type RenameInstr struct {
	OriginName, NewName string
}

// CombineInstr concatenates the scope entries First and Second into Result.
// For horizontal fusion, FirstPadding and SecondPadding are the positions where unit loops are inserted
// in the loop nests of each side before combining.
type CombineInstr struct {
	First, Second, Result       string
	FirstPadding, SecondPadding []int
}

// TrivialInlineInstr inlines the (trivial) computation of Upstream into every load of its output in Downstream.
type TrivialInlineInstr struct {
	Upstream, Downstream, Result string
}

// TmpTransformInstr aligns the loop nest of Upstream (a reduce tree) to the iteration space of Downstream,
// and then inlines Upstream into Downstream.
type TmpTransformInstr struct {
	Upstream, Downstream, Result string
}

// TmpTransformWithFakeReduceIterInstr is a TmpTransformInstr where the axes in FakeReduceIterIdx of the
// downstream are pass-through axes, not reduced ones.
type TmpTransformWithFakeReduceIterInstr struct {
	Upstream, Downstream, Result string
	FakeReduceIterIdx            []int
}

// AnchorTransformInstr migrates the non-anchor side onto the anchor's iteration space, applying Route to it.
// If IsUpstreamAnchor, Upstream is the anchor.
type AnchorTransformInstr struct {
	Upstream, Downstream, Result string
	Route                        Route
	IsUpstreamAnchor             bool
}

// ReturnInstr ends the replay, returning the scope entry Name.
type ReturnInstr struct {
	Name string
}

func (*InitPatternInstr) Kind() InstructionKind     { return InstrInitPattern }
func (*RenameInstr) Kind() InstructionKind          { return InstrRename }
func (*CombineInstr) Kind() InstructionKind         { return InstrCombine }
func (*TrivialInlineInstr) Kind() InstructionKind   { return InstrTrivialInline }
func (*TmpTransformInstr) Kind() InstructionKind    { return InstrTmpTransform }
func (*AnchorTransformInstr) Kind() InstructionKind { return InstrAnchorTransform }
func (*ReturnInstr) Kind() InstructionKind          { return InstrReturn }
func (*TmpTransformWithFakeReduceIterInstr) Kind() InstructionKind {
	return InstrTmpTransformWithFakeReduceIter
}

func (i *InitPatternInstr) String() string {
	return fmt.Sprintf("%s = InitPattern(%s)", i.Result, i.Op)
}

func (i *RenameInstr) String() string {
	return fmt.Sprintf("%s = Rename(%s)", i.NewName, i.OriginName)
}

func (i *CombineInstr) String() string {
	if len(i.FirstPadding) == 0 && len(i.SecondPadding) == 0 {
		return fmt.Sprintf("%s = Combine(%s, %s)", i.Result, i.First, i.Second)
	}
	return fmt.Sprintf("%s = Combine(%s pad=[%s], %s pad=[%s])", i.Result,
		i.First, xslices.Join(i.FirstPadding, ","), i.Second, xslices.Join(i.SecondPadding, ","))
}

func (i *TrivialInlineInstr) String() string {
	return fmt.Sprintf("%s = TrivialInline(%s -> %s)", i.Result, i.Upstream, i.Downstream)
}

func (i *TmpTransformInstr) String() string {
	return fmt.Sprintf("%s = TmpTransform(%s -> %s)", i.Result, i.Upstream, i.Downstream)
}

func (i *TmpTransformWithFakeReduceIterInstr) String() string {
	return fmt.Sprintf("%s = TmpTransformWithFakeReduceIter(%s -> %s, fake=[%s])", i.Result,
		i.Upstream, i.Downstream, xslices.Join(i.FakeReduceIterIdx, ","))
}

func (i *AnchorTransformInstr) String() string {
	return fmt.Sprintf("%s = AnchorTransform(%s -> %s, route=%s, upstream_anchor=%v)", i.Result,
		i.Upstream, i.Downstream, i.Route, i.IsUpstreamAnchor)
}

func (i *ReturnInstr) String() string {
	return fmt.Sprintf("Return(%s)", i.Name)
}

// FusionTracker is the ordered log of instructions that derived a pattern.
type FusionTracker struct {
	Instructions []Instruction
}

// New creates a tracker with the given instructions.
func New(instructions ...Instruction) *FusionTracker {
	return &FusionTracker{Instructions: slices.Clone(instructions)}
}

// Concat returns a new tracker with the instructions of upstream followed by the ones of downstream.
// Nil trackers are treated as empty.
func Concat(upstream, downstream *FusionTracker) *FusionTracker {
	t := &FusionTracker{}
	if upstream != nil {
		t.Instructions = append(t.Instructions, upstream.Instructions...)
	}
	if downstream != nil {
		t.Instructions = append(t.Instructions, downstream.Instructions...)
	}
	return t
}

// Append adds instructions to the end of the log. It returns the tracker itself, to allow cascading calls.
func (t *FusionTracker) Append(instructions ...Instruction) *FusionTracker {
	t.Instructions = append(t.Instructions, instructions...)
	return t
}

// Clone returns a tracker with a copy of the instructions list. Instructions themselves are immutable and
// are shared.
func (t *FusionTracker) Clone() *FusionTracker {
	if t == nil {
		return &FusionTracker{}
	}
	return New(t.Instructions...)
}

// Len returns the number of instructions.
func (t *FusionTracker) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Instructions)
}

// String implements fmt.Stringer, listing one instruction per line.
func (t *FusionTracker) String() string {
	var sb strings.Builder
	sb.WriteString("FusionTracker:")
	for ii, instr := range t.Instructions {
		fmt.Fprintf(&sb, "\n  %3d: %s", ii, instr)
	}
	return sb.String()
}
