package path

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Construction
// ============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		depth    int
	}{
		{"Root", "/", "/", 0},
		{"SingleComponent", "/a", "/a", 1},
		{"Nested", "/a/b/c.txt", "/a/b/c.txt", 3},
		{"RepeatedSeparators", "//a///b", "/a/b", 2},
		{"TrailingSeparator", "/a/b/", "/a/b", 2},
		{"OnlySeparators", "////", "/", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.String())
			assert.Equal(t, tt.depth, p.Depth())
		})
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, input := range []string{"", "a/b", "relative", "/a:b", "/host:9000/x"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPath))
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("AppendsComponent", func(t *testing.T) {
		p, err := New(MustParse("/a"), "b")
		require.NoError(t, err)
		assert.Equal(t, "/a/b", p.String())
	})

	t.Run("FromRoot", func(t *testing.T) {
		p, err := New(Root(), "a")
		require.NoError(t, err)
		assert.Equal(t, "/a", p.String())
	})

	t.Run("DoesNotAliasParent", func(t *testing.T) {
		parent := MustParse("/a/b")
		first, err := New(parent, "x")
		require.NoError(t, err)
		second, err := New(parent, "y")
		require.NoError(t, err)
		assert.Equal(t, "/a/b/x", first.String())
		assert.Equal(t, "/a/b/y", second.String())
	})

	for _, bad := range []string{"", "a/b", "a:b"} {
		t.Run("Rejects_"+bad, func(t *testing.T) {
			_, err := New(Root(), bad)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"/", "/a", "/a/b", "//x//y//z//", "/with space/and.dot"} {
		first := MustParse(s)
		second := MustParse(first.String())
		assert.True(t, first.Equal(second), "round trip of %q", s)
		assert.Equal(t, first.Components(), second.Components())
	}
}

// ============================================================================
// Navigation
// ============================================================================

func TestParentAndLast(t *testing.T) {
	t.Run("Nested", func(t *testing.T) {
		p := MustParse("/a/b/c")

		parent, err := p.Parent()
		require.NoError(t, err)
		assert.Equal(t, "/a/b", parent.String())

		last, err := p.Last()
		require.NoError(t, err)
		assert.Equal(t, "c", last)
	})

	t.Run("ParentOfTopLevelIsRoot", func(t *testing.T) {
		parent, err := MustParse("/a").Parent()
		require.NoError(t, err)
		assert.True(t, parent.IsRoot())
		assert.Equal(t, "/", parent.String())
	})

	t.Run("RootFails", func(t *testing.T) {
		_, err := Root().Parent()
		assert.ErrorIs(t, err, ErrRoot)

		_, err = Root().Last()
		assert.ErrorIs(t, err, ErrRoot)
	})
}

func TestIsSubpath(t *testing.T) {
	tests := []struct {
		path, other string
		expected    bool
	}{
		{"/a/b", "/", true},
		{"/a/b", "/a", true},
		{"/a/b", "/a/b", true},
		{"/", "/", true},
		{"/a", "/a/b", false},
		{"/ab", "/a", false},
		{"/x/y", "/a", false},
	}

	for _, tt := range tests {
		t.Run(tt.path+"_"+tt.other, func(t *testing.T) {
			assert.Equal(t, tt.expected, MustParse(tt.path).IsSubpath(MustParse(tt.other)))
		})
	}
}

func TestComponentsIsCopy(t *testing.T) {
	p := MustParse("/a/b")
	components := p.Components()
	components[0] = "mutated"
	assert.Equal(t, "/a/b", p.String())
}

// ============================================================================
// Ordering
// ============================================================================

func TestAncestorsOrderedByDepth(t *testing.T) {
	p := MustParse("/a/b/c")
	chain := p.Ancestors()

	require.Len(t, chain, 4)
	assert.Equal(t, []string{"/", "/a", "/a/b", "/a/b/c"}, Strings(chain))

	shuffled := []Path{chain[2], chain[3], chain[0], chain[1]}
	Sort(shuffled)
	assert.Equal(t, Strings(chain), Strings(shuffled))
	assert.True(t, shuffled[0].IsRoot())
	assert.True(t, shuffled[len(shuffled)-1].Equal(p))
}

func TestCompare(t *testing.T) {
	assert.Negative(t, MustParse("/z").Compare(MustParse("/a/a")))
	assert.Negative(t, MustParse("/a").Compare(MustParse("/b")))
	assert.Positive(t, MustParse("/a/b").Compare(MustParse("/a")))
	assert.Zero(t, MustParse("/a/b").Compare(MustParse("//a/b/")))

	// Unrelated paths still compare consistently.
	a, b, c := MustParse("/a/x"), MustParse("/b"), MustParse("/c/y")
	assert.True(t, b.Less(a))
	assert.True(t, a.Less(c))
	assert.True(t, b.Less(c))
}

func TestTextMarshaling(t *testing.T) {
	var p Path
	require.NoError(t, p.UnmarshalText([]byte("/a//b")))
	assert.Equal(t, "/a/b", p.String())

	text, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "/a/b", string(text))

	assert.Error(t, p.UnmarshalText([]byte("a")))
}

func TestParseAll(t *testing.T) {
	paths, err := ParseAll([]string{"/a", "/b/c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b/c"}, Strings(paths))

	_, err = ParseAll([]string{"/a", "bad"})
	assert.ErrorIs(t, err, ErrInvalidPath)
}
