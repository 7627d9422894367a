// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/pkg/errors"
)

// Bindings maps dimension symbols to concrete values.
// Used to resolve symbolic shapes (and bucket predicates) at launch time.
type Bindings map[string]int64

// Key returns a canonical string representation for map keying.
// Format: "name1=val1,name2=val2" with names sorted alphabetically.
func (b Bindings) Key() string {
	if len(b) == 0 {
		return ""
	}
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, b[name])
	}
	return strings.Join(parts, ",")
}

// Eval returns the value of dim under the bindings.
func (b Bindings) Eval(dim dimexpr.Expr) (int64, error) {
	value := dim.Coefficient()
	for _, symbol := range dim.Symbols() {
		v, found := b[symbol]
		if !found {
			return 0, errors.Errorf("symbol %q of dimension %s is not bound", symbol, dim)
		}
		value *= v
	}
	return value, nil
}

// Resolve returns the concrete dimensions of the shape.
func (b Bindings) Resolve(s Shape) ([]int64, error) {
	dims := make([]int64, s.Rank())
	for ii, d := range s.Dimensions {
		v, err := b.Eval(d)
		if err != nil {
			return nil, errors.WithMessagef(err, "resolving axis %d of %s", ii, s)
		}
		dims[ii] = v
	}
	return dims, nil
}

// ExtractBindings gets the symbol bindings from concrete dimensions matching a symbolic shape.
// Only axes whose dimension is a single symbol are bound, other axes must match when static.
func ExtractBindings(pattern Shape, concrete []int64) (Bindings, error) {
	if pattern.Rank() != len(concrete) {
		return nil, errors.Errorf("rank mismatch: pattern has %d, concrete has %d", pattern.Rank(), len(concrete))
	}
	bindings := make(Bindings)
	for i, d := range pattern.Dimensions {
		switch {
		case d.IsSymbol():
			name := d.Symbols()[0]
			if existing, ok := bindings[name]; ok && existing != concrete[i] {
				return nil, errors.Errorf("symbol %q has conflicting values at axis %d: %d vs %d",
					name, i, existing, concrete[i])
			}
			bindings[name] = concrete[i]
		case d.IsStatic():
			if d.Value() != concrete[i] {
				return nil, errors.Errorf("axis %d mismatch: pattern has %d, concrete has %d", i, d.Value(), concrete[i])
			}
		}
	}
	return bindings, nil
}
