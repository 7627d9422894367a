// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/gomlx/opfusion/pkg/target"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GPU axes used by the schedulers.
const (
	BlockIdxX  = "blockIdx.x"
	ThreadIdxX = "threadIdx.x"
)

// Bucket is one specialization of a scheduled function: Body is the one to use when Predicate (a boolean
// expression over the symbolic dimensions) holds.
type Bucket struct {
	Predicate ir.Expr
	Body      ir.Expr
}

// GroupScheduler schedules the merged module of a group.
type GroupScheduler interface {
	// Schedule applies the group schedule to the module.
	Schedule() error

	// GetIRs returns the scheduled function bodies, each with the predicate selecting it.
	GetIRs() []Bucket
}

// NewGroupScheduler returns the static-shape or the dynamic-shape scheduler. The IRSchedule must hold one merged
// expression (see IRSchedule.MergeExprs). tileInfo can be nil, in which case the broadcast rewrites are skipped and
// the tiling is computed from the loop extents.
func NewGroupScheduler(sch *IRSchedule, outputTensorNames sets.Set[string], tgt target.Target, isDynamicShape bool,
	tileInfo *GroupTileInfo) GroupScheduler {
	base := baseScheduler{sch: sch, outputTensorNames: outputTensorNames, target: tgt, tileInfo: tileInfo}
	if isDynamicShape {
		return &dynamicShapeScheduler{baseScheduler: base}
	}
	return &staticShapeScheduler{baseScheduler: base}
}

type baseScheduler struct {
	sch               *IRSchedule
	outputTensorNames sets.Set[string]
	target            target.Target
	tileInfo          *GroupTileInfo
}

// OutputTensorNames returns the names of the tensors the scheduled function writes as outputs.
func (b *baseScheduler) OutputTensorNames() sets.Set[string] {
	return b.outputTensorNames
}

func (b *baseScheduler) root() (*ir.ScheduleBlockRealize, error) {
	exprs := b.sch.Exprs()
	if len(exprs) != 1 {
		return nil, errors.Wrapf(compileerr.ErrInvariant, "group scheduler needs a merged module, got %d expressions", len(exprs))
	}
	root, ok := exprs[0].(*ir.ScheduleBlockRealize)
	if !ok {
		return nil, errors.Wrapf(compileerr.ErrInvariant, "group scheduler needs a root schedule block, got %T", exprs[0])
	}
	return root, nil
}

// applyBroadcasts applies the broadcast rewrites recorded in the tile info, in block order.
func (b *baseScheduler) applyBroadcasts() error {
	if b.tileInfo == nil {
		return nil
	}
	for _, realize := range b.sch.GetAllBlocks() {
		name := realize.Block.Name
		if info, found := b.tileInfo.BroadcastInfo[name]; found {
			if err := b.sch.Broadcast(name, info); err != nil {
				return errors.WithMessagef(err, "broadcast of block %q", name)
			}
		}
		if info, found := b.tileInfo.BroadcastToElementwise[name]; found {
			if err := b.sch.BroadcastToElementwise(name, info.BroadcastAxes); err != nil {
				return errors.WithMessagef(err, "broadcast to elementwise of block %q", name)
			}
		}
	}
	return nil
}

// spatialPrefix returns the outermost perfectly nested non-reduce loops starting at loop.
func spatialPrefix(loop *ir.For) []*ir.For {
	var prefix []*ir.For
	for loop != nil && !loop.LoopVar.IsReduceAxis {
		prefix = append(prefix, loop)
		if len(loop.Body.Stmts) != 1 {
			break
		}
		loop, _ = loop.Body.Stmts[0].(*ir.For)
	}
	return prefix
}

// topLevelLoops returns the loops directly in the root block.
func topLevelLoops(root *ir.ScheduleBlockRealize) []*ir.For {
	var loops []*ir.For
	for _, stmt := range root.Block.Body.Stmts {
		if loop, ok := stmt.(*ir.For); ok {
			loops = append(loops, loop)
		}
	}
	return loops
}

// scheduleNest fuses the spatial loops of one loop nest and, on GPUs, maps them to blocks and threads.
// Groups with reductions fuse only the loops before the first reduced axis of the group, so every loop nest
// maps the same rows to blocks, and bind them to blocks only.
func scheduleNest(sch *IRSchedule, loop *ir.For, tgt target.Target, tileInfo *GroupTileInfo) error {
	prefix := spatialPrefix(loop)
	hasReduce := tileInfo != nil && tileInfo.HasReduce()
	if hasReduce && len(tileInfo.ReduceAxis) > 0 {
		prefix = prefix[:min(len(prefix), int(tileInfo.ReduceAxis[0]))]
	}
	if len(prefix) == 0 || prefix[0].ForType != ir.Serial {
		return nil
	}
	fused, err := sch.Fuse(prefix)
	if err != nil {
		return err
	}
	if !tgt.IsGPU() {
		return nil
	}
	extent, _ := ir.ConstValue(fused.Extent)
	if hasReduce || extent <= 1 {
		sch.Bind(fused, BlockIdxX)
		return nil
	}
	threads := int64(tgt.MaxThreadsPerBlock)
	if tileInfo != nil && tileInfo.FlattenBlock > 1 {
		threads = min(threads, tileInfo.FlattenBlock)
	}
	if extent <= threads {
		sch.Bind(fused, ThreadIdxX)
		return nil
	}
	outer, inner, err := sch.Split(fused, threads)
	if err != nil {
		return err
	}
	sch.Bind(outer, BlockIdxX)
	sch.Bind(inner, ThreadIdxX)
	return nil
}

// staticShapeScheduler applies the broadcast rewrites and tiles every loop nest.
type staticShapeScheduler struct {
	baseScheduler
}

// Schedule implements GroupScheduler.
func (s *staticShapeScheduler) Schedule() error {
	root, err := s.root()
	if err != nil {
		return err
	}
	if err := s.applyBroadcasts(); err != nil {
		return err
	}
	for _, loop := range topLevelLoops(root) {
		if err := scheduleNest(s.sch, loop, s.target, s.tileInfo); err != nil {
			return errors.WithMessagef(err, "scheduling loop %s", loop.LoopVar.Name)
		}
	}
	if klog.V(2).Enabled() {
		klog.Infof("After static group schedule:\n%s", s.sch)
	}
	return nil
}

// GetIRs implements GroupScheduler: a single body, always selected.
func (s *staticShapeScheduler) GetIRs() []Bucket {
	return []Bucket{{Predicate: ir.Bool(true), Body: s.sch.Exprs()[0]}}
}

// dynamicShapeScheduler specializes the module for ranges of the symbolic number of elements of its first loop
// nest. On GPUs there are two buckets: when the number of elements fits in one block, the loop is mapped to
// threads, otherwise to blocks. On other targets, or without symbolic dimensions, there is a single bucket.
type dynamicShapeScheduler struct {
	baseScheduler
	buckets []Bucket
}

// Schedule implements GroupScheduler.
func (s *dynamicShapeScheduler) Schedule() error {
	root, err := s.root()
	if err != nil {
		return err
	}
	if err := s.applyBroadcasts(); err != nil {
		return err
	}
	loops := topLevelLoops(root)
	var numel ir.Expr
	if len(loops) > 0 {
		for _, loop := range spatialPrefix(loops[0]) {
			if numel == nil {
				numel = ir.Copy(loop.Extent)
			} else {
				numel = ir.Mul(numel, ir.Copy(loop.Extent))
			}
		}
	}
	_, isStatic := ir.ConstValue(numel)
	if numel == nil || isStatic || !s.target.IsGPU() {
		static := &staticShapeScheduler{baseScheduler: s.baseScheduler}
		if err := static.scheduleStaticNests(root); err != nil {
			return err
		}
		s.buckets = []Bucket{{Predicate: ir.Bool(true), Body: root}}
		return nil
	}

	threads := ir.Int(int64(s.target.MaxThreadsPerBlock))
	for _, bucket := range []struct {
		predicate ir.Expr
		axis      string
	}{
		{ir.LE(ir.Copy(numel), threads), ThreadIdxX},
		{ir.GT(ir.Copy(numel), ir.Copy(threads)), BlockIdxX},
	} {
		body := ir.Copy(root).(*ir.ScheduleBlockRealize)
		for _, loop := range topLevelLoops(body) {
			if prefix := spatialPrefix(loop); len(prefix) > 0 {
				prefix[0].ForType = ir.GPUThread
				if bucket.axis == BlockIdxX {
					prefix[0].ForType = ir.GPUBlock
				}
				prefix[0].BindAxis = bucket.axis
			}
		}
		s.buckets = append(s.buckets, Bucket{Predicate: bucket.predicate, Body: body})
	}
	klog.V(2).Infof("Dynamic group schedule: %d buckets over %s", len(s.buckets), ir.Str(numel))
	return nil
}

// scheduleStaticNests tiles the loop nests whose extents are all static.
func (s *staticShapeScheduler) scheduleStaticNests(root *ir.ScheduleBlockRealize) error {
	for _, loop := range topLevelLoops(root) {
		staticNest := true
		for _, l := range spatialPrefix(loop) {
			if _, ok := ir.ConstValue(l.Extent); !ok {
				staticNest = false
			}
		}
		if !staticNest {
			continue
		}
		if err := scheduleNest(s.sch, loop, s.target, s.tileInfo); err != nil {
			return err
		}
	}
	return nil
}

// GetIRs implements GroupScheduler.
func (s *dynamicShapeScheduler) GetIRs() []Bucket {
	return s.buckets
}
