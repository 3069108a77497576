package connection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spineflow/engine/internal/engine/resource"
)

func TestWriteIndexPrecursors(t *testing.T) {
	c1 := NewConnection("a", "c")
	c1.Options.WriteIndex = 1
	c2 := NewConnection("b", "c")
	c2.Options.WriteIndex = 2
	c1.SetSiblings([]*Connection{c1, c2})
	c2.SetSiblings([]*Connection{c1, c2})

	r := resource.DatabaseResource("c", "db", "sqlite:///c.sqlite")
	out := c2.applyWriteIndex([]*resource.Resource{r})
	require.Len(t, out, 1)
	assert.True(t, out[0].Metadata.Precursors["a"])

	out1 := c1.applyWriteIndex([]*resource.Resource{r})
	assert.Empty(t, out1[0].Metadata.Precursors)
}

func TestWriteIndexSwapInvertsOrdering(t *testing.T) {
	c1 := NewConnection("a", "c")
	c1.Options.WriteIndex = 2
	c2 := NewConnection("b", "c")
	c2.Options.WriteIndex = 1
	c1.SetSiblings([]*Connection{c1, c2})
	c2.SetSiblings([]*Connection{c1, c2})

	r := resource.DatabaseResource("c", "db", "sqlite:///c.sqlite")
	out := c1.applyWriteIndex([]*resource.Resource{r})
	assert.True(t, out[0].Metadata.Precursors["b"], "swapping indices swaps which sibling precedes")
}

func TestUseDatapackageCollapsesCSVs(t *testing.T) {
	c := NewConnection("a", "b")
	c.Options.UseDatapackage = true
	r1 := resource.FileResource("a", "x.csv", "/tmp/x.csv")
	r2 := resource.FileResource("a", "y.csv", "/tmp/y.csv")
	r3 := resource.FileResource("a", "readme.txt", "/tmp/readme.txt")

	out := c.ConvertForwardResources([]*resource.Resource{r1, r2, r3})
	require.Len(t, out, 2)
	labels := map[string]bool{}
	for _, r := range out {
		labels[r.Label] = true
	}
	assert.True(t, labels["readme.txt"])
	assert.True(t, labels["datapackage@a"])
}

func TestUseMemoryDBClonesDatabaseResources(t *testing.T) {
	c := NewConnection("a", "b")
	c.Options.UseMemoryDB = true
	db := resource.DatabaseResource("a", "db", "sqlite:///a.sqlite")
	out := c.ConvertForwardResources([]*resource.Resource{db})
	require.Len(t, out, 1)
	assert.Equal(t, true, out[0].Metadata.Extra["memory"])
	assert.Equal(t, db.Identifier(), out[0].Identifier())
}

func TestJumpEmptyScriptNeverIterates(t *testing.T) {
	j := NewJump("a", "a")
	j.Condition = Condition{Type: ConditionPythonScript, Script: ""}
	ok, err := j.IsConditionTrue(context.Background(), 1, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJumpDelegatesToEvaluator(t *testing.T) {
	j := NewJump("a", "a")
	j.Condition = Condition{Type: ConditionPythonScript, Script: "exit(0)"}
	j.CmdLineArgs = []resource.CmdLineArg{resource.NewCmdLineArg("--flag")}
	var gotCounter int
	var gotArgs []string
	j.Evaluate = func(ctx context.Context, cond Condition, args []string, counter int, forward, backward []*resource.Resource) (bool, error) {
		gotCounter = counter
		gotArgs = args
		return counter < 2, nil
	}
	ok, err := j.IsConditionTrue(context.Background(), 1, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, gotCounter)
	assert.Equal(t, []string{"--flag", "1"}, gotArgs)
}
