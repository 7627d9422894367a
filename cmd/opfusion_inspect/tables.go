// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/opfusion/pkg/fusion/pattern"
	"github.com/gomlx/opfusion/pkg/fusion/patterngraph"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/schedule"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/gomlx/opfusion/pkg/support/xslices"
	"github.com/gomlx/opfusion/pkg/target"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

func opNames(ops []*opgraph.Operation) string {
	return strings.Join(xslices.Map(ops, func(op *opgraph.Operation) string {
		return fmt.Sprintf("%s→%s", op.Name(), op.Result(0).Name())
	}), ", ")
}

func groupTable(group *opgraph.Group, tgt target.Target) *lgtable.Table {
	table := newPlainTable(false)
	table.Row("target", tgt.String())
	table.Row("kind", group.Kind.String())
	table.Row("# ops", humanize.Comma(int64(len(group.Ops))))
	table.Row("ops", opNames(group.Ops))
	table.Row("outputs", strings.Join(xslices.Map(group.OutputValues, (*opgraph.Value).Name), ", "))
	table.Row("loop ranges", fmt.Sprintf("%v", group.LoopRanges))
	if len(group.ReduceAxis) > 0 {
		table.Row("reduce axis", fmt.Sprintf("%v", group.ReduceAxis))
	}
	return table
}

func clustersTable(clusters []*patterngraph.Cluster) *lgtable.Table {
	table := newPlainTable(true)
	table.Row("Pattern", "Kind", "# Ops", "Sink", "Loop framework", "Instructions")
	for _, cluster := range clusters {
		sink := ""
		if cluster.SinkOp != nil {
			sink = cluster.SinkOp.Result(0).Name()
		}
		framework := "?"
		if loops, err := pattern.LoopFramework(cluster.Pattern); err == nil {
			framework = fmt.Sprintf("%v", loops)
		}
		table.Row(cluster.Pattern.Name(), cluster.Pattern.Kind().String(),
			humanize.Comma(int64(len(cluster.Pattern.Ops()))), sink, framework,
			humanize.Comma(int64(cluster.Tracker.Len())))
	}
	return table
}

func tileTable(info *schedule.GroupTileInfo) *lgtable.Table {
	table := newPlainTable(false)
	table.Row("flatten elements", humanize.Comma(info.FlattenNumel))
	table.Row("reduce elements", humanize.Comma(info.ReduceNumel))
	table.Row("reduce axis", fmt.Sprintf("%v", info.ReduceAxis))
	if info.BlockNum >= 0 {
		table.Row("blocks", humanize.Comma(info.BlockNum))
	}
	table.Row("warps", humanize.Comma(info.WarpNum))
	table.Row("flatten block", humanize.Comma(info.FlattenBlock))
	table.Row("flatten inner", humanize.Comma(info.FlattenInnerNum))
	table.Row("reduce block", humanize.Comma(info.ReduceBlock))
	table.Row("reduce inner", humanize.Comma(info.ReduceInnerNum))
	if info.ReduceType == schedule.ReduceTypeWarp {
		table.Row("reduce type", "warp")
	}
	if len(info.ReduceVarNames) > 0 {
		table.Row("reductions", strings.Join(sets.Sorted(info.ReduceVarNames), ", "))
	}
	return table
}

// predicatedFunc is a lowered function, with the predicate of its bucket for dynamic shapes.
type predicatedFunc struct {
	predicate ir.Expr
	fn        *ir.LoweredFunc
}

// tempBytes returns the memory of the temporary buffers, or "?" if any of them has a symbolic shape.
func tempBytes(buffers []*ir.Buffer) string {
	var total uint64
	for _, buf := range buffers {
		size := uint64(buf.DType.Memory())
		for _, dim := range buf.Shape {
			value, ok := dim.StaticValue()
			if !ok {
				return "?"
			}
			size *= uint64(value)
		}
		total += size
	}
	return humanize.Bytes(total)
}

func funcsTable(funcs []predicatedFunc) *lgtable.Table {
	table := newPlainTable(true)
	table.Row("Function", "Predicate", "Args", "Temps", "Temp bytes", "Launch")
	for _, f := range funcs {
		predicate := "-"
		if f.predicate != nil {
			predicate = ir.Str(f.predicate)
		}
		launch := "-"
		if len(f.fn.LaunchDims) > 0 {
			var dims []string
			for _, axis := range []string{schedule.BlockIdxX, schedule.ThreadIdxX} {
				if extent, found := f.fn.LaunchDims[axis]; found {
					dims = append(dims, fmt.Sprintf("%s=%s", axis, humanize.Comma(extent)))
				}
			}
			launch = strings.Join(dims, ", ")
		}
		args := xslices.Map(f.fn.Args, ir.Argument.String)
		table.Row(f.fn.Name, predicate, strings.Join(args, ", "),
			humanize.Comma(int64(len(f.fn.TempBuffers))), tempBytes(f.fn.TempBuffers), launch)
	}
	return table
}
