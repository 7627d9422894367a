// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lowering

import (
	"github.com/gomlx/opfusion/pkg/fusion/interpreter"
	"github.com/gomlx/opfusion/pkg/fusion/patterngraph"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// materializedValueNames returns the names of the results of ops read outside of ops (including by the program
// yield) or not read at all: their tensors must be stored by the fused loop nests.
func materializedValueNames(ops []*opgraph.Operation) sets.Set[string] {
	inOps := sets.MakeWith(ops...)
	names := sets.Make[string]()
	for _, op := range ops {
		for _, result := range op.Results() {
			users := result.Users()
			if len(users) == 0 {
				names.Insert(result.Name())
				continue
			}
			for _, user := range users {
				if user.IsYield() || !inOps.Has(user) {
					names.Insert(result.Name())
					break
				}
			}
		}
	}
	return names
}

// fuse clusters the remaining operations into patterns and replays their trackers: it returns the fused loop
// nests, cluster after cluster.
func (c *lowerContext) fuse() []ir.Expr {
	clusters, err := patterngraph.NewClusterer(c.lowerer.names).Cluster(c.remainOps, nil)
	compileerr.PanicOnError(errors.WithMessagef(err, "clustering group %s", c.group.FuncName))

	bodies := make(map[*opgraph.Operation]interpreter.OpBody, len(c.opBodies))
	for op, body := range c.opBodies {
		bodies[op] = interpreter.OpBody{Body: body, IsReduce: op.Kind() == opgraph.Reduction}
	}
	it := interpreter.New(bodies, materializedValueNames(c.remainOps))

	var exprs []ir.Expr
	for _, cluster := range clusters {
		result, err := it.Run(cluster.Tracker)
		compileerr.PanicOnError(errors.WithMessagef(err, "replaying cluster %s of group %s",
			cluster.Pattern.Name(), c.group.FuncName))
		exprs = append(exprs, result.Exprs...)
	}
	if klog.V(2).Enabled() {
		klog.Infof("Group %s: %d ops fused into %d clusters and %d loop nests",
			c.group.FuncName, len(c.remainOps), len(clusters), len(exprs))
	}
	return exprs
}
