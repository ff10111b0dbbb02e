// Package testing holds the conformance suite every content store backend
// runs.
package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/store/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite checks the content.Store contract, not implementation
// details.
//
// Usage:
//
//	func TestMemoryContentStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.Store {
//	            return memory.NewMemoryContentStore()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store for each test. The suite
	// closes it.
	NewStore func(t *testing.T) content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Stat", suite.testStat)
	t.Run("Create", suite.testCreate)
	t.Run("ReadWrite", suite.testReadWrite)
	t.Run("Bounds", suite.testBounds)
	t.Run("Delete", suite.testDelete)
	t.Run("List", suite.testList)
	t.Run("PruneEmpty", suite.testPruneEmpty)
	t.Run("Close", suite.testClose)
}

func (suite *StoreTestSuite) store(t *testing.T) content.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var ctx = context.Background()

func p(s string) path.Path { return path.MustParse(s) }

func mustCreate(t *testing.T, s content.Store, paths ...string) {
	t.Helper()
	for _, name := range paths {
		require.NoError(t, s.Create(ctx, p(name)), "create %s", name)
	}
}

func mustWrite(t *testing.T, s content.Store, name string, offset int64, data string) {
	t.Helper()
	require.NoError(t, s.WriteAt(ctx, p(name), offset, []byte(data)))
}

func assertContent(t *testing.T, s content.Store, name string, expected []byte) {
	t.Helper()
	info, err := s.Stat(ctx, p(name))
	require.NoError(t, err)
	require.Equal(t, content.KindFile, info.Kind)
	require.Equal(t, int64(len(expected)), info.Size)

	data, err := s.ReadAt(ctx, p(name), 0, len(expected))
	require.NoError(t, err)
	assert.Equal(t, expected, data)
}

func assertMissing(t *testing.T, s content.Store, name string) {
	t.Helper()
	_, err := s.Stat(ctx, p(name))
	assert.ErrorIs(t, err, content.ErrNotFound, "%s should not exist", name)
}

func (suite *StoreTestSuite) testStat(t *testing.T) {
	s := suite.store(t)

	info, err := s.Stat(ctx, path.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assertMissing(t, s, "/missing")

	mustCreate(t, s, "/dir/file")
	info, err = s.Stat(ctx, p("/dir"))
	require.NoError(t, err)
	assert.Equal(t, content.KindDirectory, info.Kind)

	info, err = s.Stat(ctx, p("/dir/file"))
	require.NoError(t, err)
	assert.Equal(t, content.Info{Kind: content.KindFile, Size: 0}, info)

	assertMissing(t, s, "/dir/file/below")
	assertMissing(t, s, "/di")
}

func (suite *StoreTestSuite) testCreate(t *testing.T) {
	s := suite.store(t)

	mustCreate(t, s, "/a/b/c")

	assert.ErrorIs(t, s.Create(ctx, p("/a/b/c")), content.ErrExists)
	assert.ErrorIs(t, s.Create(ctx, p("/a/b")), content.ErrExists)
	assert.ErrorIs(t, s.Create(ctx, path.Root()), content.ErrExists)
	assert.ErrorIs(t, s.Create(ctx, p("/a/b/c/d")), content.ErrNotDirectory)

	mustCreate(t, s, "/a/b/sibling", "/a/other")
	assertContent(t, s, "/a/b/sibling", []byte{})
}

func (suite *StoreTestSuite) testReadWrite(t *testing.T) {
	s := suite.store(t)
	mustCreate(t, s, "/f")

	mustWrite(t, s, "/f", 0, "hello world")
	assertContent(t, s, "/f", []byte("hello world"))

	mustWrite(t, s, "/f", 6, "there")
	assertContent(t, s, "/f", []byte("hello there"))

	mustWrite(t, s, "/f", 11, "!")
	assertContent(t, s, "/f", []byte("hello there!"))

	data, err := s.ReadAt(ctx, p("/f"), 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "there", string(data))

	t.Run("GapIsZeroFilled", func(t *testing.T) {
		mustCreate(t, s, "/sparse")
		mustWrite(t, s, "/sparse", 4, "x")
		assertContent(t, s, "/sparse", []byte{0, 0, 0, 0, 'x'})
	})

	t.Run("EmptyWrite", func(t *testing.T) {
		mustCreate(t, s, "/empty")
		require.NoError(t, s.WriteAt(ctx, p("/empty"), 0, nil))
		assertContent(t, s, "/empty", []byte{})
	})

	t.Run("LargeFile", func(t *testing.T) {
		payload := make([]byte, 3<<20)
		for i := range payload {
			payload[i] = byte(i % 251)
		}
		mustCreate(t, s, "/large")
		require.NoError(t, s.WriteAt(ctx, p("/large"), 0, payload))
		assertContent(t, s, "/large", payload)

		tail, err := s.ReadAt(ctx, p("/large"), int64(len(payload)-10), 10)
		require.NoError(t, err)
		assert.Equal(t, payload[len(payload)-10:], tail)
	})
}

func (suite *StoreTestSuite) testBounds(t *testing.T) {
	s := suite.store(t)
	mustCreate(t, s, "/dir/f")
	mustWrite(t, s, "/dir/f", 0, "0123456789")

	tests := []struct {
		name   string
		offset int64
		length int
		err    error
	}{
		{"WholeFile", 0, 10, nil},
		{"EmptyAtEnd", 10, 0, nil},
		{"PastEnd", 5, 6, content.ErrOutOfRange},
		{"StartPastEnd", 11, 0, content.ErrOutOfRange},
		{"NegativeOffset", -1, 1, content.ErrOutOfRange},
		{"NegativeLength", 0, -1, content.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := s.ReadAt(ctx, p("/dir/f"), tt.offset, tt.length)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, data, tt.length)
		})
	}

	_, err := s.ReadAt(ctx, p("/missing"), 0, 0)
	assert.ErrorIs(t, err, content.ErrNotFound)
	_, err = s.ReadAt(ctx, p("/dir"), 0, 0)
	assert.ErrorIs(t, err, content.ErrNotFound)

	assert.ErrorIs(t, s.WriteAt(ctx, p("/missing"), 0, []byte("x")), content.ErrNotFound)
	assert.ErrorIs(t, s.WriteAt(ctx, p("/dir"), 0, []byte("x")), content.ErrNotFound)
	assert.ErrorIs(t, s.WriteAt(ctx, p("/dir/f"), -1, []byte("x")), content.ErrOutOfRange)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	s := suite.store(t)
	mustCreate(t, s, "/keep", "/tree/a", "/tree/sub/b", "/treehouse")

	require.NoError(t, s.Delete(ctx, p("/tree/a")))
	assertMissing(t, s, "/tree/a")
	assertContent(t, s, "/tree/sub/b", []byte{})

	require.NoError(t, s.Delete(ctx, p("/tree")))
	assertMissing(t, s, "/tree/sub/b")
	assertMissing(t, s, "/tree")
	assertContent(t, s, "/treehouse", []byte{})

	require.NoError(t, s.Delete(ctx, p("/never/existed")))
	require.NoError(t, s.Delete(ctx, p("/keep/below/file")))

	require.NoError(t, s.Delete(ctx, path.Root()))
	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	info, err := s.Stat(ctx, path.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func (suite *StoreTestSuite) testList(t *testing.T) {
	s := suite.store(t)

	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	mustCreate(t, s, "/z", "/a/b/c", "/a/x", "/m")
	files, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/m", "/z", "/a/x", "/a/b/c"}, path.Strings(files))
}

func (suite *StoreTestSuite) testPruneEmpty(t *testing.T) {
	s := suite.store(t)
	mustCreate(t, s, "/a/b/c", "/a/d")

	require.NoError(t, s.Delete(ctx, p("/a/b/c")))
	require.NoError(t, s.PruneEmpty(ctx))

	assertMissing(t, s, "/a/b")
	info, err := s.Stat(ctx, p("/a"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// The freed name can hold a file again.
	mustCreate(t, s, "/a/b")
	assertContent(t, s, "/a/b", []byte{})
}

func (suite *StoreTestSuite) testClose(t *testing.T) {
	s := suite.NewStore(t)
	mustCreate(t, s, "/f")
	require.NoError(t, s.Close())

	_, err := s.Stat(ctx, p("/f"))
	assert.ErrorIs(t, err, content.ErrClosed)
	_, err = s.ReadAt(ctx, p("/f"), 0, 0)
	assert.ErrorIs(t, err, content.ErrClosed)
	assert.ErrorIs(t, s.Create(ctx, p("/g")), content.ErrClosed)
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, content.ErrClosed)
}
