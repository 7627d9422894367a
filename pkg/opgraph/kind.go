// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opgraph

// OpPatternKind classifies how an operation can take part in a fusion.
//
// The order matters: kinds lower than Reduction are "trivial" (they can be inlined into their consumers),
// and the kind of a group is the highest kind of its operations.
type OpPatternKind int

//go:generate go tool enumer -type=OpPatternKind -output=gen_oppatternkind_enumer.go kind.go

const (
	// ElementWise operations map each output element to the same position of their inputs.
	ElementWise OpPatternKind = iota

	// Broadcast operations replicate their input along new or unit axes.
	Broadcast

	// Injective operations map each output element to exactly one input element (reshape, transpose, slice).
	Injective

	// Reduction operations reduce some axes of their input.
	Reduction

	// OutFusible operations can only be fused with their consumers. Lowering them is not implemented.
	OutFusible

	// NonFusible operations are lowered on their own.
	NonFusible
)

// IsTrivial returns whether the kind can be treated as a trivial (inlinable) computation.
func (k OpPatternKind) IsTrivial() bool {
	return k < Reduction
}

// DefaultKinds is the pattern-kind classification of the operations known by the built-in strategies.
// Operations not listed are NonFusible.
var DefaultKinds = map[string]OpPatternKind{
	"exp":         ElementWise,
	"log":         ElementWise,
	"neg":         ElementWise,
	"abs":         ElementWise,
	"relu":        ElementWise,
	"sqrt":        ElementWise,
	"rsqrt":       ElementWise,
	"tanh":        ElementWise,
	"add":         ElementWise,
	"sub":         ElementWise,
	"mul":         ElementWise,
	"div":         ElementWise,
	"max":         ElementWise,
	"min":         ElementWise,
	"scale":       ElementWise,
	"cast":        ElementWise,
	"full":        ElementWise,
	"broadcast":   Broadcast,
	"reshape":     Injective,
	"transpose":   Injective,
	"reduce_sum":  Reduction,
	"reduce_max":  Reduction,
	"reduce_min":  Reduction,
	"reduce_prod": Reduction,
	"matmul":      OutFusible,
	"custom_call": NonFusible,
}
