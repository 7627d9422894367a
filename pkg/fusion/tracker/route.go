// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"strings"

	"github.com/gomlx/opfusion/pkg/support/xslices"
)

// TransformKind enumerates the index transforms that migrate an expression to a new anchor's iteration space.
type TransformKind int

//go:generate go tool enumer -type=TransformKind -trimprefix=Transform -output=gen_transformkind_enumer.go route.go

const (
	TransformIdentity TransformKind = iota
	TransformAppendDim
	TransformDeleteDim
	TransformUnsupported
)

// AnchorTransform is one step of a Route. Axes and Dims are only used by the AppendDim and DeleteDim transforms.
type AnchorTransform struct {
	Kind TransformKind
	Axes []int
	Dims []int64
}

// String implements fmt.Stringer.
func (t AnchorTransform) String() string {
	if len(t.Axes) == 0 {
		return t.Kind.String()
	}
	return t.Kind.String() + "(" + xslices.Join(t.Axes, ",") + ")"
}

// Route is a sequence of transforms, applied in order.
type Route []AnchorTransform

// String implements fmt.Stringer.
func (r Route) String() string {
	parts := xslices.Map([]AnchorTransform(r), AnchorTransform.String)
	return "[" + strings.Join(parts, " -> ") + "]"
}

// IdentityRoute is the route that doesn't change its input.
func IdentityRoute() Route {
	return Route{{Kind: TransformIdentity}}
}
