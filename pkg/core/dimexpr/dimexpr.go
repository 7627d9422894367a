// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dimexpr implements symbolic-or-static dimension expressions.
//
// A dimension is either a static integer, a named symbol (a dynamic axis resolved only at runtime, like
// "batch" or "S0"), or a product of those. Products are kept in a canonical form (a coefficient times a
// sorted list of symbols), so two equal products compare equal.
package dimexpr

import (
	"slices"
	"strconv"
	"strings"
)

// Expr is an immutable dimension expression: Coefficient * Symbols[0] * Symbols[1] * ...
//
// The zero value is not valid, use Const, Symbol or Product to create one.
type Expr struct {
	coefficient int64
	symbols     []string
}

// Const returns a static dimension.
func Const(value int64) Expr {
	return Expr{coefficient: value}
}

// Symbol returns a dynamic dimension named by symbol.
func Symbol(symbol string) Expr {
	return Expr{coefficient: 1, symbols: []string{symbol}}
}

// Consts converts static values to dimension expressions.
func Consts[T ~int | ~int64](values ...T) []Expr {
	dims := make([]Expr, len(values))
	for ii, v := range values {
		dims[ii] = Const(int64(v))
	}
	return dims
}

// Mul returns a * b in canonical form.
func Mul(a, b Expr) Expr {
	symbols := make([]string, 0, len(a.symbols)+len(b.symbols))
	symbols = append(symbols, a.symbols...)
	symbols = append(symbols, b.symbols...)
	slices.Sort(symbols)
	coefficient := a.coefficient * b.coefficient
	if coefficient == 0 {
		symbols = nil
	}
	return Expr{coefficient: coefficient, symbols: symbols}
}

// Product of the dims, Const(1) if there are none.
func Product(dims ...Expr) Expr {
	p := Const(1)
	for _, d := range dims {
		p = Mul(p, d)
	}
	return p
}

// IsStatic returns whether the expression has no symbols.
func (e Expr) IsStatic() bool {
	return len(e.symbols) == 0
}

// StaticValue returns the static value and true, or 0 and false if e is symbolic.
func (e Expr) StaticValue() (int64, bool) {
	if !e.IsStatic() {
		return 0, false
	}
	return e.coefficient, true
}

// Value returns the static value, or -1 if it is symbolic.
func (e Expr) Value() int64 {
	if !e.IsStatic() {
		return -1
	}
	return e.coefficient
}

// IsOne returns whether e is the static value 1.
func (e Expr) IsOne() bool {
	return e.IsStatic() && e.coefficient == 1
}

// IsSymbol returns whether e is a single symbol.
func (e Expr) IsSymbol() bool {
	return e.coefficient == 1 && len(e.symbols) == 1
}

// Coefficient of the product.
func (e Expr) Coefficient() int64 {
	return e.coefficient
}

// Symbols returns a copy of the sorted symbols of the product.
func (e Expr) Symbols() []string {
	return slices.Clone(e.symbols)
}

// Equal returns whether both expressions are the same canonical product.
func (e Expr) Equal(other Expr) bool {
	return e.coefficient == other.coefficient && slices.Equal(e.symbols, other.symbols)
}

// EqualStatic returns whether e is the static value v.
func (e Expr) EqualStatic(v int64) bool {
	return e.IsStatic() && e.coefficient == v
}

// String implements fmt.Stringer: "4", "S0", "2*S0*S1".
func (e Expr) String() string {
	if e.IsStatic() {
		return strconv.FormatInt(e.coefficient, 10)
	}
	parts := make([]string, 0, len(e.symbols)+1)
	if e.coefficient != 1 {
		parts = append(parts, strconv.FormatInt(e.coefficient, 10))
	}
	parts = append(parts, e.symbols...)
	return strings.Join(parts, "*")
}

// EqualSlices compares two lists of dimensions.
func EqualSlices(a, b []Expr) bool {
	return slices.EqualFunc(a, b, Expr.Equal)
}

// SymbolsOf returns the distinct symbols used in dims, in first-seen order.
func SymbolsOf(dims ...Expr) []string {
	var symbols []string
	for _, d := range dims {
		for _, s := range d.symbols {
			if !slices.Contains(symbols, s) {
				symbols = append(symbols, s)
			}
		}
	}
	return symbols
}
