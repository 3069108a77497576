package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneSharesIdentifierAndPartCount(t *testing.T) {
	r := DatabaseResource("a", "db", "sqlite:///tmp/db.sqlite")
	r.Metadata.PartCount = NewPartCount()

	c1 := r.Clone(nil)
	c2 := c1.Clone(nil)

	require.Equal(t, r.Identifier(), c1.Identifier())
	require.Equal(t, r.Identifier(), c2.Identifier())
	require.Same(t, c1.Metadata.PartCount, c2.Metadata.PartCount)

	c1.Metadata.PartCount.Add(1)
	assert.Equal(t, 1, c2.Metadata.PartCount.Value(), "part count must be aliased, not copied")
}

func TestCloneIdempotence(t *testing.T) {
	r := FileResource("a", "f", "/tmp/x.csv")
	a := r.Clone(nil).Clone(nil)
	b := r.Clone(nil)

	assert.Equal(t, a.Identifier(), b.Identifier())
	assert.Equal(t, a.URL, b.URL)
	assert.Equal(t, a.Metadata.FilterStack, b.Metadata.FilterStack)
}

func TestHasFilepath(t *testing.T) {
	assert.True(t, FileResource("a", "f", "/tmp/x").HasFilepath())
	assert.True(t, DirectoryResource("a", "d", "/tmp").HasFilepath())
	assert.True(t, DatabaseResource("a", "db", "sqlite:///tmp/x.sqlite").HasFilepath())
	assert.False(t, DatabaseResource("a", "db", "postgresql://host/db").HasFilepath())
	assert.False(t, URLResource("a", "u", "http://example.com").HasFilepath())
}

func TestEqualIgnoresHostPortCredentials(t *testing.T) {
	r1 := URLResource("a", "u", "http://user:pw@host:1234/path?x=1")
	r2 := URLResource("a", "u", "http://other:2222/path?y=2")
	assert.True(t, r1.Equal(r2))
}

func TestPoolMergeAndDistribute(t *testing.T) {
	r1 := DatabaseResource("a", "db1", "sqlite:///a.sqlite")
	r1.Metadata.FilterStack = []string{"S1"}
	r2 := DatabaseResource("a", "db2", "sqlite:///b.sqlite")
	r2.Metadata.FilterStack = []string{"S1", "S2"}
	r3 := FileResource("a", "f", "/tmp/c.csv") // stackless

	pools := NewPool([]*Resource{r1, r2, r3})
	require.Len(t, pools, 3)

	pools = MergePools(pools)
	require.Len(t, pools, 2, "S1 subset of S1,S2 should merge")

	pools = DistributeStackless(pools)
	require.Len(t, pools, 1, "stackless pool folds into the single remaining pool")
	assert.Len(t, pools[0].Resources, 3)
}

func TestExtractPacksGroupsByLabel(t *testing.T) {
	single := FileResource("a", "f", "/tmp/x.csv")
	p1 := FileResourceInPack("a", "pack", "pack", "/tmp/p1.csv")
	p2 := FileResourceInPack("a", "pack", "pack", "/tmp/p2.csv")

	singles, packs := ExtractPacks([]*Resource{single, p1, p2})
	require.Len(t, singles, 1)
	assert.Equal(t, single, singles[0])
	require.Contains(t, packs, "pack")
	assert.Len(t, packs["pack"], 2)
}

func TestExpandCmdLineArgsReplacesLabelArgs(t *testing.T) {
	r := FileResource("a", "infile", "/tmp/in.csv")
	labelToArgs := LabelledResourceArgs([]*Resource{r})

	args := []CmdLineArg{NewCmdLineArg("--run"), NewLabelArg("infile"), NewCmdLineArg("--verbose")}
	expanded := ExpandCmdLineArgs(args, labelToArgs, nil)
	assert.Equal(t, []string{"--run", "/tmp/in.csv", "--verbose"}, expanded)
}

func TestExpandCmdLineArgsDropsUnmatchedLabelAndWarns(t *testing.T) {
	var warnings []string
	args := []CmdLineArg{NewCmdLineArg("--run"), NewLabelArg("missing")}
	expanded := ExpandCmdLineArgs(args, map[string][]string{}, func(msg string) { warnings = append(warnings, msg) })
	assert.Equal(t, []string{"--run"}, expanded)
	assert.Len(t, warnings, 1)
}

func TestDistributeStacklessAllStacklessKeepsSeparate(t *testing.T) {
	r1 := FileResource("a", "f1", "/tmp/a.csv")
	r2 := FileResource("a", "f2", "/tmp/b.csv")
	pools := NewPool([]*Resource{r1, r2})
	require.Len(t, pools, 1) // same empty stack key groups them together already

	pools2 := []*Pool{{Resources: []*Resource{r1}}, {Resources: []*Resource{r2}}}
	out := DistributeStackless(pools2)
	assert.Len(t, out, 2, "all-stackless set is left untouched")
}
