// Package engine validates and executes workflow graphs of connector
// invocations.
package engine

import (
	"fmt"
	"sort"

	"github.com/notifyx/notifyx/internal/domain"
)

// Graph is the execution view of a workflow: adjacency plus topological
// layers. Edges declared as loop back-edges are excluded from layering
// and cycle detection.
type Graph struct {
	nodes map[string]domain.WorkflowNode
	out   map[string][]domain.WorkflowEdge
	in    map[string][]domain.WorkflowEdge

	// layers holds node ids grouped by topological depth; ids within a
	// layer are sorted for deterministic scheduling.
	layers [][]string
}

// BuildGraph builds the execution graph for a workflow. It fails on
// undeclared cycles and dangling edges; full diagnostics are the
// validator's job.
func BuildGraph(w domain.Workflow) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]domain.WorkflowNode, len(w.Nodes)),
		out:   make(map[string][]domain.WorkflowEdge),
		in:    make(map[string][]domain.WorkflowEdge),
	}
	for _, n := range w.Nodes {
		g.nodes[n.ID] = n
	}

	back := declaredBackEdges(w)
	for _, e := range w.Edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, domain.NewDomainError(domain.ErrCodeInvariantViolated,
				fmt.Sprintf("edge %s references unknown source node %s", e.ID, e.From), nil)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, domain.NewDomainError(domain.ErrCodeInvariantViolated,
				fmt.Sprintf("edge %s references unknown target node %s", e.ID, e.To), nil)
		}
		if back[e.From+"\x00"+e.To] {
			continue
		}
		g.out[e.From] = append(g.out[e.From], e)
		g.in[e.To] = append(g.in[e.To], e)
	}

	layers, err := g.computeLayers()
	if err != nil {
		return nil, err
	}
	g.layers = layers
	return g, nil
}

// declaredBackEdges collects the back-edges loop nodes declare, keyed
// "from\x00to".
func declaredBackEdges(w domain.Workflow) map[string]bool {
	back := make(map[string]bool)
	for _, n := range w.Nodes {
		if n.LoopConfig != nil && n.LoopConfig.BackEdge != nil {
			be := n.LoopConfig.BackEdge
			back[be.From+"\x00"+be.To] = true
		}
	}
	return back
}

// computeLayers runs Kahn's algorithm, grouping nodes by depth. A
// remaining node after exhaustion means an undeclared cycle.
func (g *Graph) computeLayers() ([][]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.in[id])
	}

	var layers [][]string
	var current []string
	for id, deg := range indegree {
		if deg == 0 {
			current = append(current, id)
		}
	}

	visited := 0
	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)
		visited += len(current)

		var next []string
		for _, id := range current {
			for _, e := range g.out[id] {
				indegree[e.To]--
				if indegree[e.To] == 0 {
					next = append(next, e.To)
				}
			}
		}
		current = next
	}

	if visited != len(g.nodes) {
		return nil, domain.NewDomainError(domain.ErrCodeCyclicDependency,
			"workflow graph contains an undeclared cycle", nil)
	}
	return layers, nil
}

// Node returns a node by id.
func (g *Graph) Node(id string) (domain.WorkflowNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Layers returns the topological layers.
func (g *Graph) Layers() [][]string {
	return g.layers
}

// Incoming returns the non-back edges entering a node.
func (g *Graph) Incoming(id string) []domain.WorkflowEdge {
	return g.in[id]
}

// Outgoing returns the non-back edges leaving a node.
func (g *Graph) Outgoing(id string) []domain.WorkflowEdge {
	return g.out[id]
}

// Roots returns the ids with no incoming edges, sorted.
func (g *Graph) Roots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.in[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Reachable returns the set of ids reachable from the given starts.
func (g *Graph) Reachable(starts []string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), starts...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, e := range g.out[id] {
			stack = append(stack, e.To)
		}
	}
	return seen
}
