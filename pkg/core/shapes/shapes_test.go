// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	scalar := Scalar(dtypes.Float64)
	require.True(t, scalar.Ok())
	require.True(t, scalar.IsScalar())
	require.True(t, scalar.IsUnitScalar())
	require.True(t, scalar.Numel().IsOne())

	s := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 3, s.Rank())
	require.True(t, s.IsStatic())
	require.Equal(t, []int64{4, 3, 2}, s.StaticDims())
	require.Equal(t, int64(24), s.Numel().Value())
	require.Equal(t, int64(2), s.Dim(-1).Value())
	require.Panics(t, func() { _ = s.Dim(3) })
	require.Panics(t, func() { _ = Make(dtypes.Float32, 0) })
	require.True(t, Make(dtypes.Float32, 1).IsUnitScalar())

	d := MakeSymbolic(dtypes.Float32, dimexpr.Symbol("S0"), dimexpr.Const(3))
	require.False(t, d.IsStatic())
	assert.Equal(t, []int64{-1, 3}, d.StaticDims())
	assert.Equal(t, "3*S0", d.Numel().String())
	assert.True(t, d.Equal(d.Clone()))
	assert.False(t, d.Equal(s))
}

func TestBindings(t *testing.T) {
	pattern := MakeSymbolic(dtypes.Float32, dimexpr.Symbol("batch"), dimexpr.Const(3))
	b, err := ExtractBindings(pattern, []int64{7, 3})
	require.NoError(t, err)
	assert.Equal(t, "batch=7", b.Key())

	dims, err := b.Resolve(pattern)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 3}, dims)

	_, err = ExtractBindings(pattern, []int64{7, 4})
	require.Error(t, err)
	_, err = Bindings{}.Eval(dimexpr.Symbol("batch"))
	require.Error(t, err)
	v, err := b.Eval(pattern.Numel())
	require.NoError(t, err)
	assert.Equal(t, int64(21), v)
}
