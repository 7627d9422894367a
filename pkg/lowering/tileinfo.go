// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lowering

import (
	"maps"
	"slices"

	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/schedule"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/pkg/errors"
)

// GetGroupTileInfo returns the tiling plan of the iteration space of group, with the names of its reduction
// results. The other side tables are left empty.
func GetGroupTileInfo(group *opgraph.Group) (*schedule.GroupTileInfo, error) {
	if slices.ContainsFunc(group.LoopRanges, func(dim int64) bool { return dim < 0 }) {
		return nil, errors.Wrapf(compileerr.ErrNotImplemented, "group %s: tiling of symbolic loop ranges %v",
			group.FuncName, group.LoopRanges)
	}
	info, err := schedule.NewGroupTileInfo(group.LoopRanges, group.ReduceAxis)
	if err != nil {
		return nil, errors.WithMessagef(err, "group %s", group.FuncName)
	}
	for _, op := range group.Ops {
		if op.Kind() != opgraph.Reduction {
			continue
		}
		for _, result := range op.Results() {
			info.ReduceVarNames.Insert(result.Name())
		}
	}
	return info, nil
}

// groupTileInfo returns the tiling plan of the group being lowered, with the side tables collected so far.
// Reduction results that aren't outputs are shared among the threads of a block on GPU.
func (c *lowerContext) groupTileInfo() *schedule.GroupTileInfo {
	info, err := GetGroupTileInfo(c.group)
	compileerr.PanicOnError(err)
	maps.Copy(info.DirectOutputVarNames, c.directOutputVarNames)
	maps.Copy(info.CopyedVarNames, c.copyedVarNames)
	maps.Copy(info.BroadcastInfo, c.broadcastInfo)
	maps.Copy(info.BroadcastToElementwise, c.broadcastToElementwise)
	for _, t := range c.tmpTensors {
		info.TempVarNames.Insert(t.Name)
	}
	if c.lowerer.target.IsGPU() {
		for _, op := range c.group.Ops {
			if op.Kind() != opgraph.Reduction || c.group.IsOutputOp(op) {
				continue
			}
			name := op.Result(0).Name()
			info.SharedVarNames.Insert(name)
			info.ThreadSyncBeforeNames = append(info.ThreadSyncBeforeNames, name)
		}
	}
	return info
}
