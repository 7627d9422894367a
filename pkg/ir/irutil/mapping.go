// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package irutil provides composable queries (Mapping) and rewrites (Transformer) over the loop-nest IR,
// used by fusion and scheduling to find and reshape loop nests.
//
// Queries compose left-to-right: Compose(ChildScheduleBlockRealizes, ScheduleBlockRealizeIsNotInit, ChildTensorStores)
// first collects all schedule block realizes, keeps the ones that are not reduce initializations, and then collects
// the stores under each of them.
package irutil

import (
	"strings"

	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/pkg/errors"
)

// ReduceInitSuffix is the suffix of the name of schedule blocks that initialize a reduction.
const ReduceInitSuffix = "__reduce_init"

// Mapping is a query from an expression to a list of expressions.
type Mapping struct {
	Name string
	fn   func(e ir.Expr) []ir.Expr
}

// NewMapping creates a Mapping from a function.
func NewMapping(name string, fn func(e ir.Expr) []ir.Expr) Mapping {
	return Mapping{Name: name, fn: fn}
}

// Apply runs the query on e.
func (m Mapping) Apply(e ir.Expr) []ir.Expr {
	return m.fn(e)
}

// Then returns the composition of m followed by next: next is applied to every result of m, and the results
// are concatenated.
func (m Mapping) Then(next Mapping) Mapping {
	return Mapping{
		Name: m.Name + " * " + next.Name,
		fn: func(e ir.Expr) []ir.Expr {
			var results []ir.Expr
			for _, r := range m.fn(e) {
				results = append(results, next.fn(r)...)
			}
			return results
		},
	}
}

// Compose composes the mappings left-to-right. With no mappings it returns Identity.
func Compose(mappings ...Mapping) Mapping {
	result := Identity
	for ii, m := range mappings {
		if ii == 0 {
			result = m
			continue
		}
		result = result.Then(m)
	}
	return result
}

// Single applies the query and returns its only result. It's an error if there are zero or more than one results.
func (m Mapping) Single(e ir.Expr) (ir.Expr, error) {
	results := m.fn(e)
	if len(results) != 1 {
		return nil, errors.Errorf("mapping %q expected exactly 1 result, got %d", m.Name, len(results))
	}
	return results[0], nil
}

// Filter returns a Mapping that returns its input if pred is true, or nothing.
func Filter(name string, pred func(e ir.Expr) bool) Mapping {
	return NewMapping(name, func(e ir.Expr) []ir.Expr {
		if pred(e) {
			return []ir.Expr{e}
		}
		return nil
	})
}

// Collector returns a Mapping that collects, in pre-order, all the sub-expressions of its input (including
// the input itself) for which pred is true.
func Collector(name string, pred func(e ir.Expr) bool) Mapping {
	return NewMapping(name, func(e ir.Expr) []ir.Expr {
		return ir.Collect(e, pred)
	})
}

func isType[T ir.Expr](e ir.Expr) bool {
	_, ok := e.(T)
	return ok
}

func realizeName(e ir.Expr) (string, bool) {
	r, ok := e.(*ir.ScheduleBlockRealize)
	if !ok {
		return "", false
	}
	return r.Block.Name, true
}

// IsReduceInitName returns whether a schedule block name is the one of a reduction initialization.
func IsReduceInitName(name string) bool {
	return strings.Contains(name, ReduceInitSuffix)
}

// Built-in mappings.
var (
	// Identity returns its input.
	Identity = NewMapping("Identity", func(e ir.Expr) []ir.Expr { return []ir.Expr{e} })

	// StoreValue unwraps a Store into its value.
	StoreValue = NewMapping("StoreValue", func(e ir.Expr) []ir.Expr {
		if s, ok := e.(*ir.Store); ok {
			return []ir.Expr{s.Value}
		}
		return nil
	})

	// RealizeToBlock unwraps a ScheduleBlockRealize into its ScheduleBlock.
	RealizeToBlock = NewMapping("RealizeToBlock", func(e ir.Expr) []ir.Expr {
		if r, ok := e.(*ir.ScheduleBlockRealize); ok {
			return []ir.Expr{r.Block}
		}
		return nil
	})

	// BlockBody unwraps a ScheduleBlock into its body.
	BlockBody = NewMapping("BlockBody", func(e ir.Expr) []ir.Expr {
		if b, ok := e.(*ir.ScheduleBlock); ok {
			return []ir.Expr{b.Body}
		}
		return nil
	})

	// ScheduleBlockRealizeNotRoot keeps schedule block realizes that are real computations, not the root block.
	ScheduleBlockRealizeNotRoot = Filter("ScheduleBlockRealizeNotRoot", func(e ir.Expr) bool {
		name, ok := realizeName(e)
		return ok && !strings.Contains(name, "root")
	})

	// ScheduleBlockRealizeIsInit keeps schedule block realizes of reduction initializations.
	ScheduleBlockRealizeIsInit = Filter("ScheduleBlockRealizeIsInit", func(e ir.Expr) bool {
		name, ok := realizeName(e)
		return ok && IsReduceInitName(name)
	})

	// ScheduleBlockRealizeIsNotInit keeps schedule block realizes that are not reduction initializations.
	ScheduleBlockRealizeIsNotInit = Filter("ScheduleBlockRealizeIsNotInit", func(e ir.Expr) bool {
		name, ok := realizeName(e)
		return ok && !IsReduceInitName(name)
	})

	// IsFor keeps loops.
	IsFor = Filter("IsFor", isType[*ir.For])

	// ForMin maps a loop to its lower bound.
	ForMin = NewMapping("ForMin", func(e ir.Expr) []ir.Expr {
		if f, ok := e.(*ir.For); ok {
			return []ir.Expr{f.Min}
		}
		return nil
	})

	// ForExtent maps a loop to its extent.
	ForExtent = NewMapping("ForExtent", func(e ir.Expr) []ir.Expr {
		if f, ok := e.(*ir.For); ok {
			return []ir.Expr{f.Extent}
		}
		return nil
	})

	// ChildScheduleBlocks collects schedule blocks.
	ChildScheduleBlocks = Collector("ChildScheduleBlocks", isType[*ir.ScheduleBlock])

	// ChildScheduleBlockRealizes collects schedule block realizes.
	ChildScheduleBlockRealizes = Collector("ChildScheduleBlockRealizes", isType[*ir.ScheduleBlockRealize])

	// ChildRootScheduleBlockRealizes collects the root schedule block realizes.
	ChildRootScheduleBlockRealizes = Collector("ChildRootScheduleBlockRealizes", func(e ir.Expr) bool {
		name, ok := realizeName(e)
		return ok && strings.Contains(name, "root")
	})

	// ChildStores collects stores.
	ChildStores = Collector("ChildStores", isType[*ir.Store])

	// ChildTensorLoads collects tensor loads.
	ChildTensorLoads = Collector("ChildTensorLoads", isType[*ir.Load])

	// ChildTensorStores collects tensor stores.
	ChildTensorStores = Collector("ChildTensorStores", isType[*ir.Store])

	// ChildFors collects loops.
	ChildFors = Collector("ChildFors", isType[*ir.For])
)

// IsForIterVar keeps the loops whose induction variable is v.
func IsForIterVar(v *ir.Var) Mapping {
	return Filter("IsForIterVar("+v.Name+")", func(e ir.Expr) bool {
		f, ok := e.(*ir.For)
		return ok && f.LoopVar.Name == v.Name
	})
}

// FilterLoadByTensor keeps the loads of the tensor with the given name.
func FilterLoadByTensor(tensorName string) Mapping {
	return Filter("FilterLoadByTensor("+tensorName+")", func(e ir.Expr) bool {
		l, ok := e.(*ir.Load)
		return ok && l.Tensor.Name == tensorName
	})
}

// FilterStoreByTensor keeps the stores to the tensor with the given name.
func FilterStoreByTensor(tensorName string) Mapping {
	return Filter("FilterStoreByTensor("+tensorName+")", func(e ir.Expr) bool {
		s, ok := e.(*ir.Store)
		return ok && s.Tensor.Name == tensorName
	})
}

// FindFather returns a Mapping that, given a sub-expression of root, returns all the expressions of root that
// contain it, from the outermost (root) to its direct parent.
func FindFather(root ir.Expr) Mapping {
	return NewMapping("FindFather", func(target ir.Expr) []ir.Expr {
		var path []ir.Expr
		var found bool
		var search func(e ir.Expr) bool
		search = func(e ir.Expr) bool {
			if e == target {
				return true
			}
			path = append(path, e)
			for _, child := range ir.Children(e) {
				if search(child) {
					return true
				}
			}
			path = path[:len(path)-1]
			return false
		}
		if root != nil {
			found = search(root)
		}
		if !found {
			return nil
		}
		return path
	})
}
