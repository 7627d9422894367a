// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lowering

import (
	"slices"
	"sync"

	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/target"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CustomCallAPI lowers a custom_call operation into a function, given the tensors of its operands.
type CustomCallAPI func(group *opgraph.Group, op *opgraph.Operation, inputs []*ir.Tensor, tgt target.Target) (*ir.LoweredFunc, error)

// CustomCallRegistry maps call targets to the external APIs implementing them. It is safe for concurrent use.
type CustomCallRegistry struct {
	mu   sync.RWMutex
	apis map[string]CustomCallAPI
}

// NewCustomCallRegistry returns an empty registry.
func NewCustomCallRegistry() *CustomCallRegistry {
	return &CustomCallRegistry{apis: make(map[string]CustomCallAPI)}
}

// Register the API for callTarget, replacing any previous one.
func (r *CustomCallRegistry) Register(callTarget string, api CustomCallAPI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apis[callTarget] = api
}

// Lookup returns the API registered for callTarget.
func (r *CustomCallRegistry) Lookup(callTarget string) (CustomCallAPI, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	api, found := r.apis[callTarget]
	return api, found
}

func isCustomCallGroup(group *opgraph.Group) bool {
	return len(group.Ops) == 1 && group.Ops[0].Name() == CustomCallOpName
}

// lowerCustomCall delegates the lowering of a custom_call group to its registered API. It panics on errors.
func (l *OpLowerer) lowerCustomCall(group *opgraph.Group) *ir.LoweredFunc {
	op := group.Ops[0]
	callTarget, _ := op.Attr(opgraph.AttrCallTarget).(string)
	api, found := l.customCalls.Lookup(callTarget)
	if !found {
		compileerr.NotImplementedf("group %s: no API registered for custom call %q", group.FuncName, callTarget)
	}
	inputs := make([]*ir.Tensor, op.NumOperands())
	group.InputNames = nil
	for ii, operand := range op.Operands() {
		shape := operand.Shape()
		inputs[ii] = ir.Placeholder(operand.Name(), shape.DType, slices.Clone(shape.Dimensions))
		group.InputNames = append(group.InputNames, operand.Name())
	}
	group.OutputNames = nil
	for _, result := range op.Results() {
		group.OutputNames = append(group.OutputNames, result.Name())
	}
	klog.V(1).Infof("Group %s: custom call %q", group.FuncName, callTarget)
	fn, err := api(group, op, inputs, l.target)
	compileerr.PanicOnError(errors.WithMessagef(err, "custom call %q", callTarget))
	if fn == nil {
		compileerr.Invariantf("group %s: custom call %q returned no function", group.FuncName, callTarget)
	}
	return fn
}
