// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package irutil

import (
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
)

// TopoSort orders the expressions so that each one comes after the expressions that produce the tensors it
// loads. Ties are broken by the input order.
//
// It panics with an invariant error if the dependencies have a cycle.
func TopoSort(exprs []ir.Expr) []ir.Expr {
	n := len(exprs)
	producers := make(map[string][]int)
	for ii, e := range exprs {
		for _, t := range GetOutputTensors(e) {
			producers[t.Name] = append(producers[t.Name], ii)
		}
	}

	inDegree := make([]int, n)
	consumers := make([][]int, n)
	for ii, e := range exprs {
		seen := make(map[int]bool)
		for _, t := range GetInputTensors(e) {
			for _, producer := range producers[t.Name] {
				if producer == ii || seen[producer] {
					continue
				}
				seen[producer] = true
				consumers[producer] = append(consumers[producer], ii)
				inDegree[ii]++
			}
		}
	}

	queue := make([]int, 0, n)
	for ii := range exprs {
		if inDegree[ii] == 0 {
			queue = append(queue, ii)
		}
	}
	sorted := make([]ir.Expr, 0, n)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, exprs[current])
		for _, consumer := range consumers[current] {
			inDegree[consumer]--
			if inDegree[consumer] == 0 {
				queue = append(queue, consumer)
			}
		}
	}
	if len(sorted) != n {
		compileerr.Invariantf("TopoSort: dependency cycle among expressions, sorted %d out of %d", len(sorted), n)
	}
	return sorted
}
