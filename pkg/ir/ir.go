// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir defines the loop-nest intermediate representation produced by the compute strategies and
// transformed by fusion and scheduling: scalar expressions, tensor loads and stores, loops, conditionals
// and schedule blocks, plus the LoweredFunc that is handed to code generation.
//
// Expressions are trees of pointers. Tensors and buffers are references: copying an expression (see Copy)
// duplicates the tree but keeps pointing to the same tensors. Variables are identified by name.
package ir

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/opfusion/pkg/core/dimexpr"
	"github.com/x448/float16"
)

// IndexDType is the dtype of loop variables, indices and shape arguments.
const IndexDType = dtypes.Int64

// Expr is a node of the IR. It is a closed set of types, all defined in this package.
type Expr interface {
	isExpr()
}

// IntConst is an integer literal.
type IntConst struct {
	DType dtypes.DType
	Value int64
}

// FloatConst is a floating point literal, stored at the precision of its DType.
type FloatConst struct {
	DType dtypes.DType
	Value float64
}

// Var is a named scalar variable: a loop variable, a schedule block iteration variable or a symbolic dimension.
type Var struct {
	Name string

	// IsReduceAxis is set for iteration variables that reduce.
	IsReduceAxis bool
}

// BinaryOpType enumerates the binary operations.
type BinaryOpType int

const (
	OpAdd BinaryOpType = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMin
	OpMax
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpAnd
	OpOr
)

// Binary operation.
type Binary struct {
	Op   BinaryOpType
	A, B Expr
}

// Select returns True if Cond else False.
type Select struct {
	Cond, True, False Expr
}

// Call of an intrinsic (e.g. "exp") or of a runtime function (e.g. "infer_shape_set_value").
type Call struct {
	Name  string
	DType dtypes.DType
	Args  []Expr
}

// Load reads an element of a tensor.
type Load struct {
	Tensor  *Tensor
	Indices []Expr
}

// Store writes Value to an element of a tensor.
type Store struct {
	Tensor  *Tensor
	Value   Expr
	Indices []Expr
}

// Let declares a scalar variable initialized with Value.
type Let struct {
	Var   *Var
	DType dtypes.DType
	Value Expr
}

// Block is a sequence of statements.
type Block struct {
	Stmts []Expr
}

// For is a loop over LoopVar in [Min, Min+Extent).
type For struct {
	LoopVar *Var
	Min     Expr
	Extent  Expr
	ForType ForType

	// BindAxis is the GPU axis ("blockIdx.x", "threadIdx.x") the loop is bound to, if ForType is GPUBlock or GPUThread.
	BindAxis string
	Body     *Block
}

// IfThenElse executes Then if Cond is true, otherwise Else (which can be nil).
type IfThenElse struct {
	Cond Expr
	Then *Block
	Else *Block
}

// ScheduleBlock is a named unit of computation, with its own iteration variables.
type ScheduleBlock struct {
	IterVars []*Var
	Name     string
	Body     *Block
}

// ScheduleBlockRealize binds a ScheduleBlock's iteration variables to concrete values
// (usually expressions on the enclosing loop variables).
type ScheduleBlockRealize struct {
	IterValues []Expr
	Block      *ScheduleBlock
}

func (*IntConst) isExpr()             {}
func (*FloatConst) isExpr()           {}
func (*Var) isExpr()                  {}
func (*Binary) isExpr()               {}
func (*Select) isExpr()               {}
func (*Call) isExpr()                 {}
func (*Load) isExpr()                 {}
func (*Store) isExpr()                {}
func (*Let) isExpr()                  {}
func (*Block) isExpr()                {}
func (*For) isExpr()                  {}
func (*IfThenElse) isExpr()           {}
func (*ScheduleBlock) isExpr()        {}
func (*ScheduleBlockRealize) isExpr() {}

// Int returns an index (IndexDType) integer literal.
func Int(value int64) *IntConst {
	return &IntConst{DType: IndexDType, Value: value}
}

// Bool returns a boolean literal, used for predicates.
func Bool(value bool) *IntConst {
	c := &IntConst{DType: dtypes.Bool}
	if value {
		c.Value = 1
	}
	return c
}

// Float returns a floating point literal of the given dtype. The value is rounded to the precision of the dtype.
func Float(dtype dtypes.DType, value float64) *FloatConst {
	switch dtype {
	case dtypes.BFloat16:
		value = float64(bfloat16.FromFloat32(float32(value)).Float32())
	case dtypes.Float16:
		value = float64(float16.Fromfloat32(float32(value)).Float32())
	case dtypes.Float32:
		value = float64(float32(value))
	}
	return &FloatConst{DType: dtype, Value: value}
}

// NewVar returns a new variable with the given name.
func NewVar(name string) *Var {
	return &Var{Name: name}
}

// NewReduceVar returns a new reduction iteration variable.
func NewReduceVar(name string) *Var {
	return &Var{Name: name, IsReduceAxis: true}
}

// Add returns a + b.
func Add(a, b Expr) *Binary { return &Binary{Op: OpAdd, A: a, B: b} }

// Sub returns a - b.
func Sub(a, b Expr) *Binary { return &Binary{Op: OpSub, A: a, B: b} }

// Mul returns a * b.
func Mul(a, b Expr) *Binary { return &Binary{Op: OpMul, A: a, B: b} }

// Div returns a / b.
func Div(a, b Expr) *Binary { return &Binary{Op: OpDiv, A: a, B: b} }

// Mod returns a % b.
func Mod(a, b Expr) *Binary { return &Binary{Op: OpMod, A: a, B: b} }

// Max returns max(a, b).
func Max(a, b Expr) *Binary { return &Binary{Op: OpMax, A: a, B: b} }

// Min returns min(a, b).
func Min(a, b Expr) *Binary { return &Binary{Op: OpMin, A: a, B: b} }

// EQ returns a == b.
func EQ(a, b Expr) *Binary { return &Binary{Op: OpEQ, A: a, B: b} }

// LT returns a < b.
func LT(a, b Expr) *Binary { return &Binary{Op: OpLT, A: a, B: b} }

// LE returns a <= b.
func LE(a, b Expr) *Binary { return &Binary{Op: OpLE, A: a, B: b} }

// GT returns a > b.
func GT(a, b Expr) *Binary { return &Binary{Op: OpGT, A: a, B: b} }

// NE returns a != b.
func NE(a, b Expr) *Binary { return &Binary{Op: OpNE, A: a, B: b} }

// GE returns a >= b.
func GE(a, b Expr) *Binary { return &Binary{Op: OpGE, A: a, B: b} }

// And returns a && b.
func And(a, b Expr) *Binary { return &Binary{Op: OpAnd, A: a, B: b} }

// NewBlock returns a Block with the statements. Nested blocks are flattened.
func NewBlock(stmts ...Expr) *Block {
	b := &Block{}
	for _, stmt := range stmts {
		if inner, ok := stmt.(*Block); ok {
			b.Stmts = append(b.Stmts, inner.Stmts...)
			continue
		}
		b.Stmts = append(b.Stmts, stmt)
	}
	return b
}

// AsBlock returns e if it is a Block, or a Block wrapping e.
func AsBlock(e Expr) *Block {
	if b, ok := e.(*Block); ok {
		return b
	}
	return &Block{Stmts: []Expr{e}}
}

// NewFor returns a serial loop over loopVar in [0, extent).
func NewFor(loopVar *Var, extent Expr, body Expr) *For {
	return &For{LoopVar: loopVar, Min: Int(0), Extent: extent, ForType: Serial, Body: AsBlock(body)}
}

// Dim converts a dimension expression to an IR expression: symbols become variables named after them.
func Dim(d dimexpr.Expr) Expr {
	if d.IsStatic() {
		return Int(d.Value())
	}
	var e Expr
	if d.Coefficient() != 1 {
		e = Int(d.Coefficient())
	}
	for _, symbol := range d.Symbols() {
		v := NewVar(symbol)
		if e == nil {
			e = v
		} else {
			e = Mul(e, v)
		}
	}
	return e
}

// Dims converts a list of dimensions, see Dim.
func Dims(dims []dimexpr.Expr) []Expr {
	out := make([]Expr, len(dims))
	for ii, d := range dims {
		out[ii] = Dim(d)
	}
	return out
}

// IsConstValue returns whether e is an integer literal equal to value.
func IsConstValue(e Expr, value int64) bool {
	c, ok := e.(*IntConst)
	return ok && c.Value == value
}

// ConstValue returns the value of an integer literal.
func ConstValue(e Expr) (int64, bool) {
	c, ok := e.(*IntConst)
	if !ok {
		return 0, false
	}
	return c.Value, true
}
