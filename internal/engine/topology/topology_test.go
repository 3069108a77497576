package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeDAGKeepsIsolatedNodes(t *testing.T) {
	g := MakeDAG(map[string][]string{"a": {"b"}, "isolated": nil})
	assert.True(t, g.Nodes["a"])
	assert.True(t, g.Nodes["b"])
	assert.True(t, g.Nodes["isolated"])
}

func TestValidateDetectsCycle(t *testing.T) {
	g := MakeDAG(map[string][]string{"a": {"b"}, "b": {"a"}})
	err := g.Validate()
	require.Error(t, err)
}

func TestValidateDetectsDisconnectedComponents(t *testing.T) {
	g := MakeDAG(map[string][]string{"a": {"b"}, "c": {"d"}})
	err := g.Validate()
	require.Error(t, err)
}

func TestValidateAcceptsLinearChain(t *testing.T) {
	g := MakeDAG(map[string][]string{"a": {"b"}, "b": {"c"}})
	require.NoError(t, g.Validate())
}

func TestSelfLoopItemNames(t *testing.T) {
	g := MakeDAG(map[string][]string{"a": {"b"}, "b": {"c"}})
	j := JumpSpec{ID: "j1", Source: "a", Destination: "a"}
	names := ItemNames(g, j)
	assert.Equal(t, []string{"a"}, SortedItemNames(names))
}

func TestNestedLoopItemNames(t *testing.T) {
	// c -> a -> b -> c (outer loop over a,b,c), plus b -> b (inner self-loop)
	g := MakeDAG(map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}})
	outer := JumpSpec{ID: "outer", Source: "c", Destination: "a"}
	names := ItemNames(g, outer)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, SortedItemNames(names))

	inner := JumpSpec{ID: "inner", Source: "b", Destination: "b"}
	innerNames := ItemNames(g, inner)
	assert.Equal(t, []string{"b"}, SortedItemNames(innerNames))

	itemNames := map[string]map[string]bool{"outer": names, "inner": innerNames}
	assert.True(t, IsNestedIn(inner, outer, itemNames, []JumpSpec{inner, outer}))
}

func TestWriteIndexConflictDetected(t *testing.T) {
	g := MakeDAG(map[string][]string{"a": {"b"}, "b": {"c"}})
	conns := []OutboundConnection{
		{Source: "a", Destination: "c", WriteIndex: 2},
		{Source: "b", Destination: "c", WriteIndex: 1},
	}
	err := g.CheckWriteIndexConflicts(conns)
	require.Error(t, err)
}

func TestValidateJumpsRejectsSharedSource(t *testing.T) {
	g2 := MakeDAG(map[string][]string{"a": {"b"}, "b": {"c"}})
	jumps := []JumpSpec{
		{ID: "j1", Source: "c", Destination: "a"},
		{ID: "j2", Source: "c", Destination: "b"},
	}
	itemNames := map[string]map[string]bool{
		"j1": ItemNames(g2, jumps[0]),
		"j2": ItemNames(g2, jumps[1]),
	}
	err := ValidateJumps(g2, jumps, itemNames)
	require.Error(t, err)
}
