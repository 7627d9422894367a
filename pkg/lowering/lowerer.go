// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lowering converts groups of operations into lowered functions: it computes the loop nest of every
// operation, fuses them, schedules the group and builds the final function signatures.
//
// An OpLowerer can lower several groups concurrently: all the state of the lowering of one group is kept in a
// per-call context.
package lowering

import (
	"github.com/gomlx/opfusion/internal/workerspool"
	"github.com/gomlx/opfusion/pkg/fusion/pattern"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/schedule"
	"github.com/gomlx/opfusion/pkg/strategy"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/gomlx/opfusion/pkg/target"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CustomCallOpName is the name of the operations delegated to an external API.
const CustomCallOpName = "custom_call"

// Options of one lowering call.
type Options struct {
	// OpSchedule applies the default schedule to the loop nest of each operation.
	OpSchedule bool

	// GroupSchedule applies the group scheduler to the merged loop nests.
	GroupSchedule bool

	// Pass applies the target-independent optimization passes to the lowered functions.
	Pass bool
}

// DefaultOptions enables the group schedule and the optimization passes.
func DefaultOptions() Options {
	return Options{GroupSchedule: true, Pass: true}
}

// PredicatedFunc is a lowered function of a dynamic-shape group, used when Predicate holds.
type PredicatedFunc struct {
	Predicate ir.Expr
	Func      *ir.LoweredFunc
}

// BucketLoweredFuncs is the result of BucketLower: one function per shape bucket, and a function that
// computes the shapes of the outputs.
type BucketLoweredFuncs struct {
	Funcs          []PredicatedFunc
	InferShapeFunc *ir.LoweredFunc
}

// OpLowerer lowers groups of operations for one target. Configure it with the With* methods before use:
// once configured, it is safe for concurrent use.
type OpLowerer struct {
	target      target.Target
	registry    *strategy.Registry
	fusion      bool
	parallelism int
	names       *pattern.NameGenerator
	customCalls *CustomCallRegistry
}

// New creates an OpLowerer for the target, using the compute strategies of registry.
// By default fusion is enabled and LowerGroups uses one worker per CPU.
func New(tgt target.Target, registry *strategy.Registry) *OpLowerer {
	return &OpLowerer{
		target:      tgt,
		registry:    registry,
		fusion:      true,
		parallelism: workerspool.NewDefault().MaxParallelism(),
		names:       pattern.NewNameGenerator(),
		customCalls: NewCustomCallRegistry(),
	}
}

// WithFusion enables or disables the fusion of the loop nests of the operations of a group.
// It returns the OpLowerer itself, to allow cascading calls.
func (l *OpLowerer) WithFusion(enabled bool) *OpLowerer {
	l.fusion = enabled
	return l
}

// WithParallelism sets the number of groups lowered in parallel by LowerGroups. 0 lowers them sequentially.
func (l *OpLowerer) WithParallelism(parallelism int) *OpLowerer {
	l.parallelism = parallelism
	return l
}

// WithNameGenerator sets the generator of pattern names. It can be shared among OpLowerers.
func (l *OpLowerer) WithNameGenerator(names *pattern.NameGenerator) *OpLowerer {
	l.names = names
	return l
}

// WithCustomCalls sets the registry of external APIs used by custom_call groups.
func (l *OpLowerer) WithCustomCalls(registry *CustomCallRegistry) *OpLowerer {
	l.customCalls = registry
	return l
}

// Target returns the target of the lowering.
func (l *OpLowerer) Target() target.Target {
	return l.target
}

// CustomCalls returns the registry of external APIs.
func (l *OpLowerer) CustomCalls() *CustomCallRegistry {
	return l.customCalls
}

// scheduleDetermineFn tells whether an operation gets its own schedule.
type scheduleDetermineFn func(op *opgraph.Operation) bool

func elementwiseScheduleDetermine(*opgraph.Operation) bool { return true }

func reduceScheduleDetermine(op *opgraph.Operation) bool { return op.Kind() == opgraph.Reduction }

func nonFusibleScheduleDetermine(*opgraph.Operation) bool { return true }

func dynamicShapeScheduleDetermine(*opgraph.Operation) bool { return true }

// Lower lowers a group with static shapes into its functions.
//
// The group's InputNames and OutputNames are filled. Errors wrap compileerr.ErrInvariant or
// compileerr.ErrNotImplemented.
func (l *OpLowerer) Lower(group *opgraph.Group, opts Options) (funcs []*ir.LoweredFunc, err error) {
	if klog.V(1).Enabled() {
		klog.Infof("Lowering group %s: %d ops, kind %s", group.FuncName, len(group.Ops), group.Kind)
	}
	group.InputNames = nil
	group.OutputNames = nil
	err = compileerr.Catch(func() {
		var determine scheduleDetermineFn
		switch group.Kind {
		case opgraph.ElementWise, opgraph.Broadcast, opgraph.Injective:
			determine = elementwiseScheduleDetermine
		case opgraph.Reduction:
			determine = reduceScheduleDetermine
		case opgraph.OutFusible:
			compileerr.NotImplementedf("group %s: pattern kind %s", group.FuncName, group.Kind)
		case opgraph.NonFusible:
			determine = nonFusibleScheduleDetermine
		default:
			compileerr.Invariantf("group %s: unknown pattern kind %s", group.FuncName, group.Kind)
		}
		funcs = l.lowerGroup(group, opts, determine)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "lowering group %s", group.FuncName)
	}
	return funcs, nil
}

// lowerGroup implements the static-shape lowering. It panics on errors.
func (l *OpLowerer) lowerGroup(group *opgraph.Group, opts Options, determine scheduleDetermineFn) []*ir.LoweredFunc {
	if isCustomCallGroup(group) {
		return []*ir.LoweredFunc{l.lowerCustomCall(group)}
	}
	ctx := newLowerContext(l, group, false)
	doOpSchedule := opts.OpSchedule || opts.GroupSchedule
	bodies := ctx.LowerOps(group.Ops, opts.OpSchedule && !opts.GroupSchedule, determine)
	ctx.applyAlignmentSchedule()
	ctx.collectOutputVars()
	bodies = append(bodies, ctx.buildOutputCopies()...)

	sch := schedule.New(ir.NewModule(bodies...))
	sch.MergeExprs()
	if klog.V(2).Enabled() {
		klog.Infof("Group %s after lowering:\n%s", group.FuncName, sch)
	}
	if opts.GroupSchedule {
		ctx.doGroupSchedule(sch)
	}
	funcs, _ := ctx.PostProcess(sch.Exprs(), doOpSchedule, opts.Pass)
	return funcs
}

// doGroupSchedule runs the static-shape group scheduler, with the tiling of the group.
func (c *lowerContext) doGroupSchedule(sch *schedule.IRSchedule) {
	tileInfo := c.groupTileInfo()
	outputTensorNames := sets.Make[string]()
	for _, op := range c.group.OutputOps {
		if c.eraseReshape.Has(op) {
			outputTensorNames.Insert(op.Operand(0).Name() + OutputCopySuffix)
		} else {
			outputTensorNames.Insert(op.Result(0).Name() + OutputCopySuffix)
		}
	}
	scheduler := schedule.NewGroupScheduler(sch, outputTensorNames, c.lowerer.target, false, tileInfo)
	compileerr.PanicOnError(errors.WithMessagef(scheduler.Schedule(), "group schedule of %s", c.group.FuncName))
	if klog.V(2).Enabled() {
		klog.Infof("Group %s after group schedule:\n%s", c.group.FuncName, sch)
	}
}

// BucketLower lowers a group with dynamic (symbolic) shapes: it returns one function per shape bucket, each
// with the predicate selecting it, plus the shape inference function.
func (l *OpLowerer) BucketLower(group *opgraph.Group, opts Options) (result *BucketLoweredFuncs, err error) {
	if klog.V(1).Enabled() {
		klog.Infof("Bucket lowering group %s: %d ops, kind %s", group.FuncName, len(group.Ops), group.Kind)
	}
	group.InputNames = nil
	group.OutputNames = nil
	err = compileerr.Catch(func() {
		if isCustomCallGroup(group) {
			result = &BucketLoweredFuncs{Funcs: []PredicatedFunc{{Predicate: ir.Bool(true), Func: l.lowerCustomCall(group)}}}
			return
		}
		ctx := newLowerContext(l, group, true)
		bodies := ctx.LowerOps(group.Ops, false, dynamicShapeScheduleDetermine)
		sch := schedule.New(ir.NewModule(bodies...))
		sch.MergeExprs()

		var buckets []schedule.Bucket
		if opts.GroupSchedule {
			outputTensorNames := sets.Make[string]()
			for _, op := range group.OutputOps {
				outputTensorNames.Insert(op.Result(0).Name())
			}
			scheduler := schedule.NewGroupScheduler(sch, outputTensorNames, l.target, true, nil)
			compileerr.PanicOnError(errors.WithMessagef(scheduler.Schedule(), "group schedule of %s", group.FuncName))
			buckets = scheduler.GetIRs()
		} else {
			buckets = []schedule.Bucket{{Predicate: ir.Bool(true), Body: sch.Exprs()[0]}}
		}

		bodies = make([]ir.Expr, len(buckets))
		for ii, bucket := range buckets {
			bodies[ii] = bucket.Body
		}
		funcs, args := ctx.PostProcess(bodies, opts.OpSchedule || opts.GroupSchedule, opts.Pass)
		compileerr.Check(len(funcs) == len(buckets), "%d functions for %d buckets", len(funcs), len(buckets))
		result = &BucketLoweredFuncs{}
		for ii, fn := range funcs {
			result.Funcs = append(result.Funcs, PredicatedFunc{Predicate: buckets[ii].Predicate, Func: fn})
		}
		result.InferShapeFunc = GenerateInferShapeFunc(group, args)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "bucket lowering group %s", group.FuncName)
	}
	return result, nil
}

// LowerGroups lowers independent groups with static shapes in parallel. The functions are returned in the order
// of the groups. If any group fails, the error of the first failing one is returned.
func (l *OpLowerer) LowerGroups(groups []*opgraph.Group, opts Options) ([][]*ir.LoweredFunc, error) {
	funcs := make([][]*ir.LoweredFunc, len(groups))
	pool := workerspool.New(l.parallelism)
	err := pool.Run(len(groups), func(groupIdx int) error {
		var err error
		funcs[groupIdx], err = l.Lower(groups[groupIdx], opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return funcs, nil
}
