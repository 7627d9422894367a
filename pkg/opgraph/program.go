// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package opgraph is the operator graph consumed by the fusion compiler: operations with ordered operand and
// result values, each value with a (possibly symbolic) shape, and a pattern-kind classification per operation.
//
// A Program is built incrementally: operations can only be created after their operands, so the
// list of operations in a Program is always in topological order.
package opgraph

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opfusion/pkg/core/shapes"
)

// YieldOpName is the name of the terminal operation that consumes the outputs of a program.
const YieldOpName = "cf.yield"

// Value is the result of an operation, or a parameter of the program.
type Value struct {
	id          int
	shape       shapes.Shape
	definingOp  *Operation
	resultIndex int
	users       []*Operation
}

// ID of the value, unique within its Program.
func (v *Value) ID() int { return v.id }

// Name used for the tensor holding the value.
func (v *Value) Name() string { return fmt.Sprintf("var_%d", v.id) }

// Shape of the value.
func (v *Value) Shape() shapes.Shape { return v.shape }

// DefiningOp returns the operation that produces the value, or nil for parameters.
func (v *Value) DefiningOp() *Operation { return v.definingOp }

// IsParameter returns whether the value is a program parameter.
func (v *Value) IsParameter() bool { return v.definingOp == nil }

// Users returns the operations that use the value as operand, in creation order.
// An operation using the value twice is listed twice.
func (v *Value) Users() []*Operation { return slices.Clone(v.users) }

// UseCount returns the number of uses of the value.
func (v *Value) UseCount() int { return len(v.users) }

// String implements fmt.Stringer.
func (v *Value) String() string {
	return fmt.Sprintf("%s%s", v.Name(), v.shape)
}

// Operation is a node of the operator graph.
type Operation struct {
	id       int
	name     string
	attrs    map[string]any
	operands []*Value
	results  []*Value
	program  *Program
}

// ID of the operation, unique within its Program. It also reflects creation (topological) order.
func (op *Operation) ID() int { return op.id }

// Name is the opcode of the operation, e.g. "add" or "reduce_sum".
func (op *Operation) Name() string { return op.name }

// Attr returns the attribute with the given key, or nil.
func (op *Operation) Attr(key string) any { return op.attrs[key] }

// Attrs returns the attributes of the operation. It should not be changed.
func (op *Operation) Attrs() map[string]any { return op.attrs }

// NumOperands returns the number of operands.
func (op *Operation) NumOperands() int { return len(op.operands) }

// Operand returns the i-th operand.
func (op *Operation) Operand(i int) *Value { return op.operands[i] }

// Operands returns the operands in order.
func (op *Operation) Operands() []*Value { return slices.Clone(op.operands) }

// NumResults returns the number of results.
func (op *Operation) NumResults() int { return len(op.results) }

// Result returns the i-th result.
func (op *Operation) Result(i int) *Value { return op.results[i] }

// Results returns the results in order.
func (op *Operation) Results() []*Value { return slices.Clone(op.results) }

// Kind returns the pattern kind of the operation, according to its Program classification.
func (op *Operation) Kind() OpPatternKind { return op.program.Kind(op) }

// IsYield returns whether op is the terminal yield operation.
func (op *Operation) IsYield() bool { return op.name == YieldOpName }

// String implements fmt.Stringer, e.g. "reduce_sum_4".
func (op *Operation) String() string {
	return fmt.Sprintf("%s_%d", op.name, op.id)
}

// Program holds a graph of operations.
type Program struct {
	name       string
	kinds      map[string]OpPatternKind
	values     []*Value
	ops        []*Operation
	parameters []*Value
	numValues  int
}

// New creates a new empty Program, classifying operations with DefaultKinds.
func New(name string) *Program {
	return &Program{name: name, kinds: DefaultKinds}
}

// WithKinds sets the pattern-kind classification table. It returns the Program itself, to allow cascading calls.
func (p *Program) WithKinds(kinds map[string]OpPatternKind) *Program {
	p.kinds = kinds
	return p
}

// Name of the program.
func (p *Program) Name() string { return p.name }

// Kind returns the pattern kind of op. Unknown operations are NonFusible.
func (p *Program) Kind(op *Operation) OpPatternKind {
	kind, found := p.kinds[op.name]
	if !found {
		return NonFusible
	}
	return kind
}

// Ops returns all the operations, in creation (topological) order, excluding the yield.
func (p *Program) Ops() []*Operation {
	var ops []*Operation
	for _, op := range p.ops {
		if !op.IsYield() {
			ops = append(ops, op)
		}
	}
	return ops
}

// Parameters returns the program parameters in creation order.
func (p *Program) Parameters() []*Value { return slices.Clone(p.parameters) }

func (p *Program) newValue(shape shapes.Shape) *Value {
	v := &Value{id: p.numValues, shape: shape}
	p.numValues++
	p.values = append(p.values, v)
	return v
}

// Parameter creates a new program input.
func (p *Program) Parameter(shape shapes.Shape) *Value {
	v := p.newValue(shape)
	p.parameters = append(p.parameters, v)
	return v
}

// Op creates a new operation. The operands must belong to the program.
func (p *Program) Op(name string, attrs map[string]any, operands []*Value, resultShapes ...shapes.Shape) *Operation {
	for ii, operand := range operands {
		if operand == nil || !slices.Contains(p.values, operand) {
			exceptions.Panicf("Program(%q).Op(%q): operand #%d is nil or belongs to a different program", p.name, name, ii)
		}
	}
	if attrs == nil {
		attrs = make(map[string]any)
	}
	op := &Operation{
		id:       len(p.ops),
		name:     name,
		attrs:    attrs,
		operands: slices.Clone(operands),
		program:  p,
	}
	for _, operand := range operands {
		operand.users = append(operand.users, op)
	}
	for ii, shape := range resultShapes {
		v := p.newValue(shape)
		v.definingOp = op
		v.resultIndex = ii
		op.results = append(op.results, v)
	}
	p.ops = append(p.ops, op)
	return op
}

// Yield marks the values as outputs of the program.
func (p *Program) Yield(values ...*Value) *Operation {
	return p.Op(YieldOpName, nil, values)
}

// FindDownstreamOps returns the operations that directly consume any of op's results (one hop),
// without duplicates, in creation order. The yield operation is not included.
func FindDownstreamOps(op *Operation) []*Operation {
	var downstream []*Operation
	for _, result := range op.results {
		for _, user := range result.users {
			if user.IsYield() || slices.Contains(downstream, user) {
				continue
			}
			downstream = append(downstream, user)
		}
	}
	slices.SortFunc(downstream, func(a, b *Operation) int { return a.id - b.id })
	return downstream
}

// FindUpstreamOps returns the operations that produce op's operands, without duplicates, in creation order.
func FindUpstreamOps(op *Operation) []*Operation {
	var upstream []*Operation
	for _, operand := range op.operands {
		if operand.definingOp == nil || slices.Contains(upstream, operand.definingOp) {
			continue
		}
		upstream = append(upstream, operand.definingOp)
	}
	slices.SortFunc(upstream, func(a, b *Operation) int { return a.id - b.id })
	return upstream
}
