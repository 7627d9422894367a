// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package patterngraph clusters the operations of a group into fused patterns, by rewriting a graph of
// pattern nodes with a fixed pipeline of passes until no pass applies.
//
// The graph is an arena: nodes are addressed by NodeID, adjacency is stored as lists of IDs, and removed
// nodes are tombstoned. Nodes are always enumerated in insertion order, which makes rewriting deterministic.
package patterngraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opfusion/pkg/fusion/pattern"
	"github.com/gomlx/opfusion/pkg/opgraph"
	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/gomlx/opfusion/pkg/support/xslices"
	"github.com/pkg/errors"
)

// NodeID is the index of a node in its PatternGraph.
type NodeID int

// PatternNode wraps a pattern in the graph.
type PatternNode struct {
	id         NodeID
	pattern    pattern.StmtPattern
	upstream   []NodeID
	downstream []NodeID
	sinkOp     *opgraph.Operation
	removed    bool
}

// ID of the node in its graph.
func (n *PatternNode) ID() NodeID { return n.id }

// Pattern returns the current pattern of the node.
func (n *PatternNode) Pattern() pattern.StmtPattern { return n.pattern }

// SetPattern replaces the pattern of the node, keeping its edges. Used by lift operations.
func (n *PatternNode) SetPattern(p pattern.StmtPattern) { n.pattern = p }

// SinkOp returns the op producing the main result of the node.
func (n *PatternNode) SinkOp() *opgraph.Operation { return n.sinkOp }

// Upstream returns the IDs of the nodes n consumes from.
func (n *PatternNode) Upstream() []NodeID { return slices.Clone(n.upstream) }

// Downstream returns the IDs of the nodes consuming from n.
func (n *PatternNode) Downstream() []NodeID { return slices.Clone(n.downstream) }

// String implements fmt.Stringer.
func (n *PatternNode) String() string {
	return fmt.Sprintf("#%d %s up=%v down=%v", n.id, pattern.String(n.pattern), n.upstream, n.downstream)
}

// PatternGraph is the arena of pattern nodes of one group.
type PatternGraph struct {
	nodes   []*PatternNode
	names   *pattern.NameGenerator
	outputs sets.Set[*opgraph.Value]
	policy  FusionPolicy
	topo    TopoPolicy
}

// New creates a graph with one node per op, converted with pattern.ConvertToStmtPattern.
// outputs are the values that must be materialized by the group.
func New(names *pattern.NameGenerator, ops []*opgraph.Operation, outputs []*opgraph.Value,
	policy FusionPolicy, topo TopoPolicy) *PatternGraph {
	g := &PatternGraph{
		names:   names,
		outputs: sets.MakeWith(outputs...),
		policy:  policy,
		topo:    topo,
	}
	opToNode := make(map[*opgraph.Operation]NodeID, len(ops))
	for _, op := range ops {
		node := g.AddNode(pattern.ConvertToStmtPattern(names, op), op)
		opToNode[op] = node.id
	}
	for _, op := range ops {
		from := g.nodes[opToNode[op]]
		for _, consumer := range opgraph.FindDownstreamOps(op) {
			if to, found := opToNode[consumer]; found {
				from.downstream = append(from.downstream, to)
				g.nodes[to].upstream = append(g.nodes[to].upstream, from.id)
			}
		}
	}
	return g
}

// Names returns the name generator used for new patterns.
func (g *PatternGraph) Names() *pattern.NameGenerator { return g.names }

// Policy returns the fusion policy.
func (g *PatternGraph) Policy() FusionPolicy { return g.policy }

// Topo returns the topology policy.
func (g *PatternGraph) Topo() TopoPolicy { return g.topo }

// AddNode appends a new node without edges.
func (g *PatternGraph) AddNode(p pattern.StmtPattern, sinkOp *opgraph.Operation) *PatternNode {
	node := &PatternNode{id: NodeID(len(g.nodes)), pattern: p, sinkOp: sinkOp}
	g.nodes = append(g.nodes, node)
	return node
}

// Node returns the node with the given id. It panics if it was removed.
func (g *PatternGraph) Node(id NodeID) *PatternNode {
	node := g.nodes[id]
	compileerr.Check(!node.removed, "PatternGraph.Node(%d): node was removed", id)
	return node
}

// AllNodes returns the nodes not removed, in insertion order.
func (g *PatternGraph) AllNodes() []*PatternNode {
	return xslices.Filter(g.nodes, func(n *PatternNode) bool { return !n.removed })
}

// Downstream returns the nodes consuming from n.
func (g *PatternGraph) Downstream(n *PatternNode) []*PatternNode {
	return xslices.Map(n.downstream, g.Node)
}

// Upstream returns the nodes n consumes from.
func (g *PatternGraph) Upstream(n *PatternNode) []*PatternNode {
	return xslices.Map(n.upstream, g.Node)
}

// IsOutput returns whether some op of the node produces a value the group must materialize.
func (g *PatternGraph) IsOutput(n *PatternNode) bool {
	return xslices.AnyOf(n.pattern.Ops(), func(op *opgraph.Operation) bool {
		return xslices.AnyOf(op.Results(), g.outputs.Has)
	})
}

// MergeFn merges the pattern of an upstream node with the one of a downstream node.
type MergeFn func(upstream, downstream pattern.StmtPattern) (pattern.StmtPattern, error)

// MergeNode creates a new node with the pattern merged by fn. The edges of the new node are the union of the
// edges of upstream and downstream, except the ones between them, and the neighbors get an edge to the new node.
//
// upstream and downstream are not removed, and their neighbors keep their edges to them: the caller removes
// them with RemoveNode when they are fully absorbed.
func (g *PatternGraph) MergeNode(upstream, downstream *PatternNode, fn MergeFn) (*PatternNode, error) {
	merged, err := fn(upstream.pattern, downstream.pattern)
	if err != nil {
		return nil, err
	}
	node := g.AddNode(merged, downstream.sinkOp)
	exclude := []NodeID{upstream.id, downstream.id}
	node.upstream = xslices.Exclude(xslices.UniqueConcat(upstream.upstream, downstream.upstream), exclude...)
	node.downstream = xslices.Exclude(xslices.UniqueConcat(upstream.downstream, downstream.downstream), exclude...)
	for _, id := range node.upstream {
		g.nodes[id].downstream = append(g.nodes[id].downstream, node.id)
	}
	for _, id := range node.downstream {
		g.nodes[id].upstream = append(g.nodes[id].upstream, node.id)
	}
	return node, nil
}

// RemoveNode tombstones the node and removes all the edges to it.
func (g *PatternGraph) RemoveNode(n *PatternNode) {
	n.removed = true
	for _, id := range n.upstream {
		g.nodes[id].downstream = xslices.Exclude(g.nodes[id].downstream, n.id)
	}
	for _, id := range n.downstream {
		g.nodes[id].upstream = xslices.Exclude(g.nodes[id].upstream, n.id)
	}
	n.upstream, n.downstream = nil, nil
}

// disconnect removes the edge from -> to, if there is one.
func (g *PatternGraph) disconnect(from, to NodeID) {
	g.nodes[from].downstream = xslices.Exclude(g.nodes[from].downstream, to)
	g.nodes[to].upstream = xslices.Exclude(g.nodes[to].upstream, from)
}

// CheckEdges returns an invariant error if some edge points to a removed node or is not mirrored.
func (g *PatternGraph) CheckEdges() error {
	for _, n := range g.AllNodes() {
		for _, id := range n.downstream {
			if g.nodes[id].removed || !slices.Contains(g.nodes[id].upstream, n.id) {
				return errors.Wrapf(compileerr.ErrInvariant, "dangling edge #%d -> #%d", n.id, id)
			}
		}
		for _, id := range n.upstream {
			if g.nodes[id].removed || !slices.Contains(g.nodes[id].downstream, n.id) {
				return errors.Wrapf(compileerr.ErrInvariant, "dangling edge #%d -> #%d", id, n.id)
			}
		}
	}
	return nil
}

// TopoOrder returns the alive nodes in topological order, producers first. Ties are broken by insertion order.
func (g *PatternGraph) TopoOrder() ([]*PatternNode, error) {
	nodes := g.AllNodes()
	inDegree := make(map[NodeID]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.id] = len(n.upstream)
	}
	sorted := make([]*PatternNode, 0, len(nodes))
	done := sets.Make[NodeID](len(nodes))
	for len(sorted) < len(nodes) {
		progress := false
		for _, n := range nodes {
			if done.Has(n.id) || inDegree[n.id] > 0 {
				continue
			}
			done.Insert(n.id)
			sorted = append(sorted, n)
			for _, id := range n.downstream {
				inDegree[id]--
			}
			progress = true
		}
		if !progress {
			return nil, errors.Wrapf(compileerr.ErrInvariant, "pattern graph has a cycle:\n%s", g)
		}
	}
	return sorted, nil
}

// String lists the alive nodes, one per line.
func (g *PatternGraph) String() string {
	parts := xslices.Map(g.AllNodes(), (*PatternNode).String)
	return strings.Join(parts, "\n")
}
