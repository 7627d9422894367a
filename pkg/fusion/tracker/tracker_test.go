// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/shapes"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcat(t *testing.T) {
	a1 := &RenameInstr{OriginName: "T_0", NewName: "a1"}
	a2 := &RenameInstr{OriginName: "a1", NewName: "a2"}
	b1 := &RenameInstr{OriginName: "T_1", NewName: "b1"}
	b2 := &RenameInstr{OriginName: "b1", NewName: "b2"}
	a := New(a1, a2)
	b := New(b1, b2)

	merged := Concat(a, b)
	require.Equal(t, []Instruction{a1, a2, b1, b2}, merged.Instructions)

	// Appending to the merged tracker doesn't change its sources.
	merged.Append(&ReturnInstr{Name: "b2"})
	assert.Equal(t, 5, merged.Len())
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 2, b.Len())

	// Same instruction on both sides is kept twice.
	dup := Concat(a, a)
	assert.Equal(t, []Instruction{a1, a2, a1, a2}, dup.Instructions)

	assert.Equal(t, 2, Concat(nil, b).Len())
	assert.Equal(t, 0, (*FusionTracker)(nil).Len())
}

func TestString(t *testing.T) {
	p := opgraph.New("test")
	x := p.Parameter(shapes.Make(dtypes.Float32, 4))
	e := p.Unary("exp", x)

	tr := New(&InitPatternInstr{Op: e.DefiningOp(), Result: "T_0"}).
		Append(
			&CombineInstr{First: "T_0", Second: "T_1", Result: "H_0", FirstPadding: []int{1}},
			&AnchorTransformInstr{Upstream: "A_0", Downstream: "A_1", Result: "A_2",
				Route: Route{{Kind: TransformIdentity}, {Kind: TransformDeleteDim, Axes: []int{0, 2}}}},
			&TmpTransformWithFakeReduceIterInstr{Upstream: "R", Downstream: "T", Result: "RT", FakeReduceIterIdx: []int{1}},
			&ReturnInstr{Name: "RT"},
		)
	want := `FusionTracker:
    0: T_0 = InitPattern(exp_0)
    1: H_0 = Combine(T_0 pad=[1], T_1 pad=[])
    2: A_2 = AnchorTransform(A_0 -> A_1, route=[Identity -> DeleteDim(0,2)], upstream_anchor=false)
    3: RT = TmpTransformWithFakeReduceIter(R -> T, fake=[1])
    4: Return(RT)`
	assert.Equal(t, want, tr.String())
}

func TestKinds(t *testing.T) {
	assert.Equal(t, "TmpTransformWithFakeReduceIter", InstrTmpTransformWithFakeReduceIter.String())
	assert.Equal(t, InstrReturn, (&ReturnInstr{}).Kind())
	kind, err := InstructionKindString("trivialinline")
	require.NoError(t, err)
	assert.Equal(t, InstrTrivialInline, kind)
	assert.Equal(t, "AppendDim", TransformAppendDim.String())
	assert.Equal(t, "[Identity]", IdentityRoute().String())
}
