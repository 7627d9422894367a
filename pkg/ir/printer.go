// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

var binaryOpSymbols = map[BinaryOpType]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEQ: "==", OpNE: "!=", OpLT: "<", OpLE: "<=", OpGT: ">", OpGE: ">=",
	OpAnd: "&&", OpOr: "||",
}

// String returns a C-like pseudo-code rendering of e, used for debugging and tests.
func String(e Expr) string {
	p := &printer{}
	p.print(e)
	return strings.TrimRight(p.sb.String(), "\n")
}

type printer struct {
	sb     strings.Builder
	indent int
}

func (p *printer) line(format string, args ...any) {
	p.sb.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteByte('\n')
}

func (p *printer) block(b *Block) {
	p.indent++
	for _, stmt := range b.Stmts {
		p.print(stmt)
	}
	p.indent--
}

func (p *printer) print(e Expr) {
	switch n := e.(type) {
	case *Block:
		for _, stmt := range n.Stmts {
			p.print(stmt)
		}
	case *For:
		bind := ""
		if n.BindAxis != "" {
			bind = fmt.Sprintf(" [%s]", n.BindAxis)
		} else if n.ForType != Serial {
			bind = fmt.Sprintf(" [%s]", n.ForType)
		}
		p.line("for (%s, %s, %s)%s {", n.LoopVar.Name, Str(n.Min), Str(n.Extent), bind)
		p.block(n.Body)
		p.line("}")
	case *IfThenElse:
		p.line("if (%s) {", Str(n.Cond))
		p.block(n.Then)
		if n.Else != nil {
			p.line("} else {")
			p.block(n.Else)
		}
		p.line("}")
	case *ScheduleBlockRealize:
		p.line("ScheduleBlock(%s) {", n.Block.Name)
		p.indent++
		for ii, v := range n.Block.IterVars {
			if ii < len(n.IterValues) {
				kind := "S"
				if v.IsReduceAxis {
					kind = "R"
				}
				p.line("%s = axis.bind[%s](%s)", v.Name, kind, Str(n.IterValues[ii]))
			}
		}
		p.indent--
		p.block(n.Block.Body)
		p.line("}")
	case *ScheduleBlock:
		p.line("ScheduleBlock(%s) {", n.Name)
		p.block(n.Body)
		p.line("}")
	case *Store:
		p.line("%s[%s] = %s", n.Tensor.Name, strList(n.Indices), Str(n.Value))
	case *Let:
		p.line("%s %s = %s", strings.ToLower(n.DType.String()), n.Var.Name, Str(n.Value))
	default:
		p.line("%s", Str(e))
	}
}

// Str renders a scalar expression in one line.
func Str(e Expr) string {
	switch n := e.(type) {
	case nil:
		return "<nil>"
	case *IntConst:
		if n.DType == dtypes.Bool {
			return strconv.FormatBool(n.Value != 0)
		}
		return strconv.FormatInt(n.Value, 10)
	case *FloatConst:
		s := strconv.FormatFloat(n.Value, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		if n.DType != dtypes.Float64 {
			s += "f"
		}
		return s
	case *Var:
		return n.Name
	case *Binary:
		switch n.Op {
		case OpMin:
			return fmt.Sprintf("min(%s, %s)", Str(n.A), Str(n.B))
		case OpMax:
			return fmt.Sprintf("max(%s, %s)", Str(n.A), Str(n.B))
		}
		return fmt.Sprintf("(%s %s %s)", Str(n.A), binaryOpSymbols[n.Op], Str(n.B))
	case *Select:
		return fmt.Sprintf("select(%s, %s, %s)", Str(n.Cond), Str(n.True), Str(n.False))
	case *Call:
		return fmt.Sprintf("%s(%s)", n.Name, strList(n.Args))
	case *Load:
		return fmt.Sprintf("%s[%s]", n.Tensor.Name, strList(n.Indices))
	default:
		return strings.TrimSpace(String(e))
	}
}

func strList(list []Expr) string {
	parts := make([]string, len(list))
	for ii, e := range list {
		parts[ii] = Str(e)
	}
	return strings.Join(parts, ", ")
}
