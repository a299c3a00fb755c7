// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package graph

import "errors"

// errCycle is only reachable if an edge bypassed the legality check.
var errCycle = errors.New("graph contains a cycle")

// executionOrder sorts the nodes topologically (Kahn's algorithm). Among
// nodes that are ready at the same time the earliest inserted runs first.
func executionOrder(t *topology) ([]NodeID, error) {
	indegree := make(map[NodeID]int, len(t.nodes))
	outgoing := make(map[NodeID][]NodeID, len(t.nodes))
	for id := range t.nodes {
		indegree[id] = 0
	}
	for _, c := range t.conns {
		outgoing[c.Source.Node] = append(outgoing[c.Source.Node], c.Dest.Node)
		indegree[c.Dest.Node]++
	}

	ready := make([]*Node, 0, len(t.nodes))
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, t.nodes[id])
		}
	}

	order := make([]NodeID, 0, len(t.nodes))
	for len(ready) > 0 {
		next := 0
		for i, n := range ready {
			if n.seq < ready[next].seq {
				next = i
			}
		}
		n := ready[next]
		ready[next] = ready[len(ready)-1]
		ready = ready[:len(ready)-1]

		order = append(order, n.id)
		for _, dst := range outgoing[n.id] {
			indegree[dst]--
			if indegree[dst] == 0 {
				ready = append(ready, t.nodes[dst])
			}
		}
	}

	if len(order) != len(t.nodes) {
		return nil, errCycle
	}
	return order, nil
}
