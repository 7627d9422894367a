// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/target"
	"github.com/pkg/errors"
)

// OpScheduleFn schedules the body of a single operation, before the group is merged.
type OpScheduleFn func(body ir.Expr, tgt target.Target) (ir.Expr, error)

// DefaultOpSchedule is the operation schedule used when none is registered: the spatial loops with static extents
// of every loop nest are fused and, on GPUs, mapped to blocks and threads.
func DefaultOpSchedule(body ir.Expr, tgt target.Target) (ir.Expr, error) {
	root, ok := body.(*ir.ScheduleBlockRealize)
	if !ok {
		return nil, errors.Wrapf(compileerr.ErrInvariant, "operation body must be a root schedule block, got %T", body)
	}
	sch := New(ir.NewModule(root))
	static := &staticShapeScheduler{baseScheduler: baseScheduler{sch: sch, target: tgt}}
	if err := static.scheduleStaticNests(root); err != nil {
		return nil, errors.WithMessagef(err, "scheduling %s", root.Block.Name)
	}
	return root, nil
}
