package topology

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// JumpSpec is the minimal shape topology needs to validate and compute a
// jump's item set; the richer connection.Jump embeds the same
// source/destination pair.
type JumpSpec struct {
	ID          string
	Source      string
	Destination string
	Permitted   map[string]bool // item -> allowed to execute, nil means "all permitted"
}

// ItemNames computes, for every jump, the union of all simple paths from
// Destination to Source (inclusive of both endpoints) in g. A jump whose
// computed set contains an item not permitted to execute is dropped
// entirely (FilterUnneededJumps does the dropping; this just computes).
func ItemNames(g *Graph, j JumpSpec) map[string]bool {
	names := map[string]bool{}
	var path []string
	onPath := map[string]bool{}

	var walk func(node string)
	walk = func(node string) {
		path = append(path, node)
		onPath[node] = true
		if node == j.Source {
			for _, n := range path {
				names[n] = true
			}
		} else {
			for _, next := range g.Successors[node] {
				if !onPath[next] {
					walk(next)
				}
			}
		}
		onPath[node] = false
		path = path[:len(path)-1]
	}
	walk(j.Destination)
	return names
}

// FilterUnneededJumps drops any jump whose item-name set contains an item
// not permitted to execute.
func FilterUnneededJumps(g *Graph, jumps []JumpSpec) ([]JumpSpec, map[string]map[string]bool) {
	itemNames := map[string]map[string]bool{}
	var kept []JumpSpec
	for _, j := range jumps {
		names := ItemNames(g, j)
		ok := true
		for item := range names {
			if j.Permitted != nil && !j.Permitted[item] {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		itemNames[j.ID] = names
		kept = append(kept, j)
	}
	return kept, itemNames
}

// ValidateJumps checks the structural rules from the spec: no two jumps
// share a source; for any two jumps, their item-name sets are disjoint or
// one contains the other; endpoints exist in the graph; no forward path
// source->destination; a path source->destination must exist in the
// reversed graph.
func ValidateJumps(g *Graph, jumps []JumpSpec, itemNames map[string]map[string]bool) error {
	seenSource := map[string]string{}
	for _, j := range jumps {
		if !g.Nodes[j.Source] {
			return fmt.Errorf("jump %s: source %q not in dag", j.ID, j.Source)
		}
		if !g.Nodes[j.Destination] {
			return fmt.Errorf("jump %s: destination %q not in dag", j.ID, j.Destination)
		}
		if prev, ok := seenSource[j.Source]; ok {
			return fmt.Errorf("jumps %s and %s share source %q", prev, j.ID, j.Source)
		}
		seenSource[j.Source] = j.ID
		if g.HasPath(j.Source, j.Destination) {
			return fmt.Errorf("jump %s: forward path from source to destination already exists", j.ID)
		}
		if !g.reversed().HasPath(j.Source, j.Destination) && j.Source != j.Destination {
			return fmt.Errorf("jump %s: no path from destination back to source", j.ID)
		}
	}
	for i := 0; i < len(jumps); i++ {
		for k := i + 1; k < len(jumps); k++ {
			a, b := itemNames[jumps[i].ID], itemNames[jumps[k].ID]
			if !disjointOrNested(a, b) {
				return fmt.Errorf("jumps %s and %s overlap without nesting", jumps[i].ID, jumps[k].ID)
			}
		}
	}
	return nil
}

func disjointOrNested(a, b map[string]bool) bool {
	aInB, bInA, overlap := true, true, false
	for k := range a {
		if b[k] {
			overlap = true
		} else {
			aInB = false
		}
	}
	for k := range b {
		if !a[k] {
			bInA = false
		}
	}
	if !overlap {
		return true
	}
	return aInB || bInA
}

func (g *Graph) reversed() *Graph {
	return &Graph{Nodes: g.Nodes, Successors: g.Predecessors, Predecessors: g.Successors}
}

// IsNestedIn reports whether inner nests directly inside outer: inner's
// item-name set is a strict subset of outer's, and no other jump's set
// sits strictly between them.
func IsNestedIn(inner, outer JumpSpec, itemNames map[string]map[string]bool, allJumps []JumpSpec) bool {
	in, out := itemNames[inner.ID], itemNames[outer.ID]
	if len(in) >= len(out) || !isStrictSubset(in, out) {
		return false
	}
	for _, mid := range allJumps {
		if mid.ID == inner.ID || mid.ID == outer.ID {
			continue
		}
		midSet := itemNames[mid.ID]
		if isStrictSubset(in, midSet) && isStrictSubset(midSet, out) {
			return false
		}
	}
	return true
}

func isStrictSubset(a, b map[string]bool) bool {
	if len(a) >= len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// SortedItemNames is a convenience for deterministic test output.
func SortedItemNames(names map[string]bool) []string {
	out := lo.Keys(names)
	sort.Strings(out)
	return out
}
