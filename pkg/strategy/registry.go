// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package strategy holds the compute strategies: per-operation functions that produce the loop nest
// computing the operation's results.
//
// There are two tables, keyed by operation name: the static table, used when all shapes are known at
// compile time, and the symbolic table, used for dynamic shapes ("bucket" compilation).
package strategy

import (
	"sort"
	"sync"

	"github.com/gomlx/opfusion/pkg/core/shapes"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/target"
	"github.com/pkg/errors"
)

// Request holds the arguments passed to a compute strategy.
type Request struct {
	Op *opgraph.Operation

	// Inputs are the tensors of the operands, in order.
	Inputs []*ir.Tensor

	// OutputNames and OutputShapes have one entry per result of Op.
	OutputNames  []string
	OutputShapes []shapes.Shape

	Target target.Target
}

// Result of a compute strategy.
type Result struct {
	// Body is the root ScheduleBlockRealize of the operation's loop nest.
	Body ir.Expr

	// Outputs has one tensor per result of the operation.
	Outputs []*ir.Tensor

	// Temps are intermediary tensors created by the computation.
	Temps []*ir.Tensor
}

// ComputeFn builds the loop nest of one operation.
type ComputeFn func(req *Request) (*Result, error)

// Registry maps operation names to compute strategies. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	static   map[string]ComputeFn
	symbolic map[string]ComputeFn
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		static:   make(map[string]ComputeFn),
		symbolic: make(map[string]ComputeFn),
	}
}

// Register the static-shape strategy for opName, replacing any previous one.
// It returns the Registry itself, to allow cascading calls.
func (r *Registry) Register(opName string, fn ComputeFn) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[opName] = fn
	return r
}

// RegisterSymbolic registers the dynamic-shape strategy for opName, replacing any previous one.
// It returns the Registry itself, to allow cascading calls.
func (r *Registry) RegisterSymbolic(opName string, fn ComputeFn) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbolic[opName] = fn
	return r
}

// Static returns the static-shape strategy for opName.
// It returns an invariant error if none is registered.
func (r *Registry) Static(opName string) (ComputeFn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, found := r.static[opName]
	if !found {
		return nil, errors.Wrapf(compileerr.ErrInvariant, "op %q has no compute strategy registered", opName)
	}
	return fn, nil
}

// Symbolic returns the dynamic-shape strategy for opName.
// It returns an invariant error if none is registered.
func (r *Registry) Symbolic(opName string) (ComputeFn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, found := r.symbolic[opName]
	if !found {
		return nil, errors.Wrapf(compileerr.ErrInvariant, "op %q has no symbolic compute strategy registered", opName)
	}
	return fn, nil
}

// Names returns the sorted names of the operations with a static strategy.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.static))
	for name := range r.static {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// requireStatic wraps a strategy so that it fails on symbolic shapes.
func requireStatic(fn ComputeFn) ComputeFn {
	return func(req *Request) (*Result, error) {
		for _, input := range req.Inputs {
			for _, dim := range input.Shape {
				if !dim.IsStatic() {
					return nil, errors.Wrapf(compileerr.ErrInvariant,
						"static strategy for %s got input %s with symbolic shape", req.Op, input)
				}
			}
		}
		for _, shape := range req.OutputShapes {
			if !shape.IsStatic() {
				return nil, errors.Wrapf(compileerr.ErrInvariant,
					"static strategy for %s got symbolic output shape %s", req.Op, shape)
			}
		}
		return fn(req)
	}
}

// Default returns a new Registry with the built-in strategies registered in both tables.
func Default() *Registry {
	r := NewRegistry()
	for name, fn := range builtins() {
		r.Register(name, requireStatic(fn))
		r.RegisterSymbolic(name, fn)
	}
	return r
}
