// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opgraph

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
)

// AlignmentTransform is a transform recorded by the grouping stage for one operation of a Group,
// used to align the loop nests of the operations before scheduling.
type AlignmentTransform struct {
	// Type of the transform. Only "broadcast" is supported by the lowering.
	Type string

	// AxisInfo maps each axis of the operation's input to an axis of the broadcast output.
	AxisInfo []int64

	// FactorInfo is the broadcast output shape.
	FactorInfo []dimexpr.Expr
}

// IntArgInfo tells where to read a scalar shape argument from: dimension DimIdx of argument ArgIdx.
type IntArgInfo struct {
	ArgIdx, DimIdx int
}

// Group is a connected set of operations chosen to be lowered jointly into one function.
//
// Its InputNames, OutputNames and IntArgsMap are filled during lowering: a Group must not be lowered
// concurrently by more than one goroutine.
type Group struct {
	FuncName string

	// Ops in topological order.
	Ops []*Operation

	// OutputOps are the operations producing OutputValues, in order.
	OutputOps []*Operation

	// OutputValues are the values of the group used outside of it.
	OutputValues []*Value

	// Kind is the highest pattern kind of the group operations.
	Kind OpPatternKind

	// ReduceAxis and LoopRanges describe the iteration space of the group: the static input dimensions
	// of its first reduction (or of its first output, if there are no reductions) and the reduced axes.
	ReduceAxis []int64
	LoopRanges []int64

	// AlignmentScheduleInfo holds the alignment transforms recorded per operation.
	AlignmentScheduleInfo map[*Operation][]AlignmentTransform

	// Filled by lowering.
	InputNames  []string
	OutputNames []string
	IntArgsMap  map[int]IntArgInfo
}

// NewGroup creates a group with the given operations. Outputs are the results used by operations
// outside the group (including the program yield) or not used at all.
func NewGroup(funcName string, ops ...*Operation) *Group {
	if len(ops) == 0 {
		exceptions.Panicf("NewGroup(%q): a group must have at least one operation", funcName)
	}
	g := &Group{
		FuncName:              funcName,
		Ops:                   slices.Clone(ops),
		AlignmentScheduleInfo: make(map[*Operation][]AlignmentTransform),
		IntArgsMap:            make(map[int]IntArgInfo),
	}
	slices.SortFunc(g.Ops, func(a, b *Operation) int { return a.id - b.id })
	for _, op := range g.Ops {
		if op.IsYield() {
			exceptions.Panicf("NewGroup(%q): the yield operation can't be part of a group", funcName)
		}
		g.Kind = max(g.Kind, op.Kind())
		for _, result := range op.results {
			if g.isOutput(result) {
				g.OutputValues = append(g.OutputValues, result)
				if !slices.Contains(g.OutputOps, op) {
					g.OutputOps = append(g.OutputOps, op)
				}
			}
		}
	}
	g.initLoopRanges()
	return g
}

func (g *Group) isOutput(v *Value) bool {
	if len(v.users) == 0 {
		return true
	}
	for _, user := range v.users {
		if user.IsYield() || !g.Contains(user) {
			return true
		}
	}
	return false
}

func (g *Group) initLoopRanges() {
	for _, op := range g.Ops {
		if op.Kind() == Reduction {
			g.LoopRanges = op.operands[0].shape.StaticDims()
			for _, axis := range ReduceAxes(op) {
				g.ReduceAxis = append(g.ReduceAxis, int64(axis))
			}
			return
		}
	}
	g.LoopRanges = g.OutputValues[0].shape.StaticDims()
}

// Contains returns whether op is part of the group.
func (g *Group) Contains(op *Operation) bool {
	return slices.Contains(g.Ops, op)
}

// IsOutputOp returns whether op produces an output of the group.
func (g *Group) IsOutputOp(op *Operation) bool {
	return slices.Contains(g.OutputOps, op)
}

// IsOutputValue returns whether v is an output of the group.
func (g *Group) IsOutputValue(v *Value) bool {
	return slices.Contains(g.OutputValues, v)
}

// UsedOnlyByYield returns whether all uses of v are by the program yield.
func UsedOnlyByYield(v *Value) bool {
	if len(v.users) == 0 {
		return false
	}
	for _, user := range v.users {
		if !user.IsYield() {
			return false
		}
	}
	return true
}

// AddBroadcastAlignment records a "broadcast" alignment transform for op.
func (g *Group) AddBroadcastAlignment(op *Operation, axes []int64, outDims []dimexpr.Expr) {
	g.AlignmentScheduleInfo[op] = append(g.AlignmentScheduleInfo[op], AlignmentTransform{
		Type:       "broadcast",
		AxisInfo:   slices.Clone(axes),
		FactorInfo: slices.Clone(outDims),
	})
}
