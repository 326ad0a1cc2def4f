package nspath_test

import (
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCanonicalizesEmptyComponents(t *testing.T) {
	p, err := nspath.Parse("//a///b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Components())
	assert.Equal(t, "/a/b", p.String())
}

func TestParseRejectsMissingLeadingSlash(t *testing.T) {
	_, err := nspath.Parse("a/b")
	require.Error(t, err)
}

func TestParseRejectsColon(t *testing.T) {
	_, err := nspath.Parse("/a:b")
	require.Error(t, err)
}

func TestRootString(t *testing.T) {
	assert.Equal(t, "/", nspath.Root.String())
	assert.True(t, nspath.Root.IsRoot())
}

func TestParentAndLastFailOnRoot(t *testing.T) {
	_, err := nspath.Root.Parent()
	require.Error(t, err)
	_, err = nspath.Root.Last()
	require.Error(t, err)
}

func TestParentAndLast(t *testing.T) {
	p := nspath.MustParse("/a/b/c")
	parent, err := p.Parent()
	require.NoError(t, err)
	assert.Equal(t, "/a/b", parent.String())
	last, err := p.Last()
	require.NoError(t, err)
	assert.Equal(t, "c", last)
}

// Property 4: round trip of serialization.
func TestStringRoundTrip(t *testing.T) {
	samples := []string{"/", "/a", "/a/b/c", "/x/y/z/w"}
	for _, s := range samples {
		p := nspath.MustParse(s)
		assert.Equal(t, s, p.String())
		reparsed := nspath.MustParse(p.String())
		assert.True(t, p.Equal(reparsed))
	}
}

// Property 5: IsSubpath(x, y) iff y's components are a prefix of x's.
func TestIsSubpath(t *testing.T) {
	x := nspath.MustParse("/a/b/c")
	assert.True(t, x.IsSubpath(nspath.Root))
	assert.True(t, x.IsSubpath(nspath.MustParse("/a")))
	assert.True(t, x.IsSubpath(nspath.MustParse("/a/b")))
	assert.True(t, x.IsSubpath(x))
	assert.False(t, x.IsSubpath(nspath.MustParse("/a/b/c/d")))
	assert.False(t, x.IsSubpath(nspath.MustParse("/z")))
}

// Property 6: Compare is a total order, and ancestors sort before descendants.
func TestCompareOrdersAncestorsFirst(t *testing.T) {
	p := nspath.MustParse("/a/b/c")
	for _, a := range p.Ancestors() {
		assert.Less(t, a.Compare(p), 0, "ancestor %q should sort before %q", a, p)
	}
}

func TestCompareTotalOrderRandomized(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	letters := []string{"a", "b", "c", "d", "e"}
	var paths []nspath.Path
	for i := 0; i < 200; i++ {
		n := r.Intn(4)
		comps := make([]string, n)
		for j := range comps {
			comps[j] = letters[r.Intn(len(letters))]
		}
		p, err := nspath.New(comps...)
		require.NoError(t, err)
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Compare(paths[j]) < 0 })
	for i := 1; i < len(paths); i++ {
		assert.LessOrEqual(t, strings.Compare(paths[i-1].String(), paths[i].String()), 0)
	}
}

func TestAncestorsOrderMatchesLockOrder(t *testing.T) {
	p := nspath.MustParse("/a/b/c")
	chain := p.Ancestors()
	require.Len(t, chain, 3)
	assert.Equal(t, "/", chain[0].String())
	assert.Equal(t, "/a", chain[1].String())
	assert.Equal(t, "/a/b", chain[2].String())
}

func TestChildAndNew(t *testing.T) {
	p := nspath.MustParse("/a")
	c, err := p.Child("b")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", c.String())

	_, err = p.Child("")
	require.Error(t, err)
	_, err = p.Child("x/y")
	require.Error(t, err)
}
