// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dimexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpr(t *testing.T) {
	four := Const(4)
	assert.True(t, four.IsStatic())
	assert.Equal(t, int64(4), four.Value())
	assert.Equal(t, "4", four.String())
	assert.True(t, Const(1).IsOne())

	s0 := Symbol("S0")
	assert.False(t, s0.IsStatic())
	assert.True(t, s0.IsSymbol())
	assert.Equal(t, int64(-1), s0.Value())
	_, ok := s0.StaticValue()
	assert.False(t, ok)

	p := Product(Symbol("S1"), four, s0, Const(2))
	assert.Equal(t, "8*S0*S1", p.String())
	assert.True(t, p.Equal(Mul(Mul(s0, Const(8)), Symbol("S1"))))
	assert.False(t, p.Equal(Mul(s0, Const(8))))
	assert.True(t, Product().IsOne())
	assert.True(t, Mul(s0, Const(0)).EqualStatic(0))
}

func TestSlices(t *testing.T) {
	a := []Expr{Const(4), Symbol("S0")}
	assert.True(t, EqualSlices(a, []Expr{Const(4), Symbol("S0")}))
	assert.False(t, EqualSlices(a, Consts(4, 5)))
	assert.Equal(t, []string{"S0", "S1"}, SymbolsOf(Symbol("S0"), Mul(Symbol("S1"), Symbol("S0"))))
}
