// Package topology builds and validates the DAG of items and the jump
// (loop-back) edges layered on top of it.
package topology

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Graph is the DAG of item names. Edges run Successors[node] -> node's
// successors. Nodes with no edges at all are still present in Nodes.
type Graph struct {
	Nodes        map[string]bool
	Successors   map[string][]string
	Predecessors map[string][]string
}

// MakeDAG builds a Graph from a node -> successor-list map, keeping nodes
// that have no outgoing or incoming edges.
func MakeDAG(successors map[string][]string) *Graph {
	g := &Graph{
		Nodes:        map[string]bool{},
		Successors:   map[string][]string{},
		Predecessors: map[string][]string{},
	}
	for node, succs := range successors {
		g.Nodes[node] = true
		g.Successors[node] = append(g.Successors[node], succs...)
		for _, s := range succs {
			g.Nodes[s] = true
			g.Predecessors[s] = append(g.Predecessors[s], node)
		}
	}
	return g
}

// Validate checks the graph is acyclic and weakly connected, returning an
// error naming the problem otherwise (engine-init-failure territory).
func (g *Graph) Validate() error {
	if cyc := g.findCycle(); cyc != nil {
		return fmt.Errorf("dag is not acyclic: cycle through %v", cyc)
	}
	if n := g.weaklyConnectedComponents(); n > 1 {
		return fmt.Errorf("dag has %d disconnected components, expected 1", n)
	}
	return nil
}

func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	var path []string
	var cycle []string

	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		path = append(path, node)
		for _, next := range g.Successors[node] {
			switch color[next] {
			case gray:
				cycle = append(append([]string(nil), path...), next)
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[node] = black
		return false
	}

	nodes := g.sortedNodes()
	for _, n := range nodes {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

func (g *Graph) weaklyConnectedComponents() int {
	visited := map[string]bool{}
	components := 0
	for _, n := range g.sortedNodes() {
		if visited[n] {
			continue
		}
		components++
		stack := []string{n}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[cur] {
				continue
			}
			visited[cur] = true
			stack = append(stack, g.Successors[cur]...)
			stack = append(stack, g.Predecessors[cur]...)
		}
	}
	return components
}

func (g *Graph) sortedNodes() []string {
	nodes := lo.Keys(g.Nodes)
	sort.Strings(nodes)
	return nodes
}

// descendants returns every node reachable forward from start (exclusive).
func (g *Graph) descendants(start string) map[string]bool {
	visited := map[string]bool{}
	stack := append([]string(nil), g.Successors[start]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, g.Successors[cur]...)
	}
	return visited
}

// HasPath reports whether there's a forward path from -> to (to excluded
// when from == to, i.e. a direct self-loop doesn't count as a path).
func (g *Graph) HasPath(from, to string) bool {
	if from == to {
		return false
	}
	return g.descendants(from)[to]
}

// WriteIndexConflict is returned by CheckWriteIndexConflicts.
type WriteIndexConflict struct {
	Item           string
	Destination    string
	SmallerIndex   string
	SmallerIndexAt int
	LargerIndex    string
	LargerIndexAt  int
}

func (c WriteIndexConflict) Error() string {
	return fmt.Sprintf(
		"write index conflict: %s (index %d) writes %s after descendant %s (index %d) of %s already would have",
		c.LargerIndex, c.LargerIndexAt, c.Destination, c.SmallerIndex, c.SmallerIndexAt, c.Item,
	)
}

// OutboundConnection is the minimal shape topology needs to detect
// write-index conflicts, independent of the connection package's richer
// Connection type.
type OutboundConnection struct {
	Source      string
	Destination string
	WriteIndex  int
}

// CheckWriteIndexConflicts walks every item's outbound connections: for an
// item X and its outbound connection c, if a sibling connection c' shares
// c's destination with a strictly smaller write index, and c' source is a
// descendant of X, the ordering can never be satisfied.
func (g *Graph) CheckWriteIndexConflicts(conns []OutboundConnection) error {
	byDestination := map[string][]OutboundConnection{}
	for _, c := range conns {
		byDestination[c.Destination] = append(byDestination[c.Destination], c)
	}
	for _, node := range g.sortedNodes() {
		desc := g.descendants(node)
		for _, c := range conns {
			if c.Source != node {
				continue
			}
			for _, sibling := range byDestination[c.Destination] {
				if sibling.Source == c.Source {
					continue
				}
				if sibling.WriteIndex < c.WriteIndex && desc[sibling.Source] {
					return WriteIndexConflict{
						Item:           node,
						Destination:    c.Destination,
						SmallerIndex:   sibling.Source,
						SmallerIndexAt: sibling.WriteIndex,
						LargerIndex:    c.Source,
						LargerIndexAt:  c.WriteIndex,
					}
				}
			}
		}
	}
	return nil
}
