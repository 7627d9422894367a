// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patterngraph

import (
	"github.com/gomlx/opfusion/pkg/support/sets"
	"k8s.io/klog/v2"
)

// NodeMatcher selects nodes to be operated on.
type NodeMatcher func(g *PatternGraph, n *PatternNode) bool

// PairMatcher selects ordered pairs of distinct nodes to be operated on.
type PairMatcher func(g *PatternGraph, first, second *PatternNode) bool

// NodeOperation rewrites the graph around a matched node.
type NodeOperation func(g *PatternGraph, n *PatternNode) error

// PairOperation rewrites the graph around a matched pair of nodes.
type PairOperation func(g *PatternGraph, first, second *PatternNode) error

// SearchNode applies operation to the first node (in insertion order) accepted by matcher, and repeats until
// no node is accepted. Each node is operated on at most once per call, even if it still matches afterwards.
func SearchNode(g *PatternGraph, matcher NodeMatcher, operation NodeOperation) error {
	visited := sets.Make[NodeID]()
	for {
		var found *PatternNode
		for _, n := range g.AllNodes() {
			if !visited.Has(n.id) && matcher(g, n) {
				found = n
				break
			}
		}
		if found == nil {
			return nil
		}
		visited.Insert(found.id)
		if klog.V(4).Enabled() {
			klog.Infof("SearchNode: operating on %s", found)
		}
		if err := operation(g, found); err != nil {
			return err
		}
	}
}

// SearchNodePair is like SearchNode, but over ordered pairs of distinct nodes.
func SearchNodePair(g *PatternGraph, matcher PairMatcher, operation PairOperation) error {
	visited := sets.Make[[2]NodeID]()
	for {
		var first, second *PatternNode
	search:
		for _, a := range g.AllNodes() {
			for _, b := range g.AllNodes() {
				if a == b || visited.Has([2]NodeID{a.id, b.id}) {
					continue
				}
				if matcher(g, a, b) {
					first, second = a, b
					break search
				}
			}
		}
		if first == nil {
			return nil
		}
		visited.Insert([2]NodeID{first.id, second.id})
		if klog.V(4).Enabled() {
			klog.Infof("SearchNodePair: operating on %s and %s", first, second)
		}
		if err := operation(g, first, second); err != nil {
			return err
		}
	}
}
