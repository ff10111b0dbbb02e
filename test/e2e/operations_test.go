package e2e

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
	"github.com/marmos91/dittodfs/pkg/store/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertMissing(t *testing.T, n *StorageNode, tc *TestContext, p path.Path) {
	t.Helper()
	_, err := n.Store.Stat(tc.Context(), p)
	assert.ErrorIs(t, err, content.ErrNotFound, "%s should not hold %s", n.Data, p)
}

func TestRegistrationBuildsNamespace(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		ctx := tc.Context()
		first := tc.AddNode(map[string]string{
			"/docs/readme.txt": "hello",
			"/top.bin":         "xyz",
		})
		second := tc.AddNode(map[string]string{"/docs/guide/intro.md": "intro"})

		names, err := tc.Service.List(ctx, path.Root())
		require.NoError(t, err)
		assert.Equal(t, []string{"docs", "top.bin"}, names)

		names, err = tc.Service.List(ctx, path.MustParse("/docs"))
		require.NoError(t, err)
		assert.Equal(t, []string{"guide", "readme.txt"}, names)

		isDir, err := tc.Service.IsDirectory(ctx, path.MustParse("/docs/guide"))
		require.NoError(t, err)
		assert.True(t, isDir)

		h, err := tc.Service.GetStorage(ctx, path.MustParse("/docs/guide/intro.md"))
		require.NoError(t, err)
		assert.Equal(t, second.Data, h)

		h, err = tc.Service.GetStorage(ctx, path.MustParse("/docs/readme.txt"))
		require.NoError(t, err)
		assert.Equal(t, first.Data, h)
		assert.Equal(t, []byte("hello"), tc.ReadFile(h, path.MustParse("/docs/readme.txt")))

		_, err = tc.Service.GetStorage(ctx, path.MustParse("/docs"))
		assert.True(t, dfs.IsNotFound(err), "directories have no storage")

		assert.ElementsMatch(t, []storage.DataHandle{first.Data, second.Data}, tc.Coordinator.StorageNodes())
	})
}

func TestRegistrationRemovesDuplicates(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		ctx := tc.Context()
		first := tc.AddNode(map[string]string{"/a/x.txt": "original"})
		second := tc.AddNode(map[string]string{
			"/a/x.txt": "stale copy",
			"/b.txt":   "unique",
		})

		files, err := second.Store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []path.Path{path.MustParse("/b.txt")}, files)

		h, err := tc.Service.GetStorage(ctx, path.MustParse("/a/x.txt"))
		require.NoError(t, err)
		assert.Equal(t, first.Data, h)
		assert.Equal(t, []byte("original"), tc.ReadFile(h, path.MustParse("/a/x.txt")))
	})
}

func TestCreateWriteRead(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		ctx := tc.Context()
		tc.AddNode(nil)
		tc.AddNode(nil)

		dir := path.MustParse("/projects")
		file := path.MustParse("/projects/notes.txt")

		created, err := tc.Service.CreateDirectory(ctx, dir)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = tc.Service.CreateFile(ctx, file)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = tc.Service.CreateFile(ctx, file)
		require.NoError(t, err)
		assert.False(t, created, "second create of the same path")

		_, err = tc.Service.CreateFile(ctx, path.MustParse("/missing/file"))
		assert.True(t, dfs.IsNotFound(err), "parent directory must exist")

		payload := bytes.Repeat([]byte("0123456789"), 50)
		require.NoError(t, tc.Service.Lock(ctx, file, true))
		tc.WriteFile(file, payload)
		require.NoError(t, tc.Service.Unlock(ctx, file, true))

		h, err := tc.Service.GetStorage(ctx, file)
		require.NoError(t, err)

		require.NoError(t, tc.Service.Lock(ctx, file, false))
		assert.Equal(t, payload, tc.ReadFile(h, file))
		require.NoError(t, tc.Service.Unlock(ctx, file, false))

		_, err = tc.DataClient(h).Read(ctx, file, 490, 20)
		assert.True(t, dfs.IsOutOfRange(err))
	})
}

func TestReplicationAndInvalidation(t *testing.T) {
	for _, cfg := range AllConfigurations(t) {
		cfg.ReplicationThreshold = 3
		t.Run(cfg.Name, func(t *testing.T) {
			tc := NewTestContext(t, cfg)
			ctx := tc.Context()
			file := path.MustParse("/hot/data.bin")
			payload := []byte("a file that is read often enough to be copied")

			primary := tc.AddNode(map[string]string{file.String(): string(payload)})
			other := tc.AddNode(nil)

			for i := 0; i < 2; i++ {
				require.NoError(t, tc.Service.Lock(ctx, file, false))
				require.NoError(t, tc.Service.Unlock(ctx, file, false))
			}
			assert.Equal(t, []storage.DataHandle{primary.Data}, tc.Coordinator.ReplicaSet(file))
			assertMissing(t, other, tc, file)

			require.NoError(t, tc.Service.Lock(ctx, file, false))
			assert.ElementsMatch(t, []storage.DataHandle{primary.Data, other.Data}, tc.Coordinator.ReplicaSet(file))
			assert.Equal(t, payload, tc.ReadFile(other.Data, file), "replica matches the primary")
			require.NoError(t, tc.Service.Unlock(ctx, file, false))

			h, err := tc.Service.GetStorage(ctx, file)
			require.NoError(t, err)
			assert.Equal(t, primary.Data, h)

			require.NoError(t, tc.Service.Lock(ctx, file, true))
			assert.Equal(t, []storage.DataHandle{primary.Data}, tc.Coordinator.ReplicaSet(file))
			assertMissing(t, other, tc, file)
			require.NoError(t, tc.Service.Unlock(ctx, file, true))

			assert.Equal(t, payload, tc.ReadFile(primary.Data, file))
		})
	}
}

func TestDeleteRemovesEveryCopy(t *testing.T) {
	for _, cfg := range AllConfigurations(t) {
		cfg.ReplicationThreshold = 1
		t.Run(cfg.Name, func(t *testing.T) {
			tc := NewTestContext(t, cfg)
			ctx := tc.Context()
			file := path.MustParse("/shared/f.txt")

			tc.AddNode(map[string]string{file.String(): "contents"})
			tc.AddNode(nil)

			require.NoError(t, tc.Service.Lock(ctx, file, false))
			require.NoError(t, tc.Service.Unlock(ctx, file, false))
			require.Len(t, tc.Coordinator.ReplicaSet(file), 2)

			deleted, err := tc.Service.Delete(ctx, path.MustParse("/shared"))
			require.NoError(t, err)
			assert.True(t, deleted)

			for _, n := range tc.Nodes {
				assertMissing(t, n, tc, file)
			}

			_, err = tc.Service.IsDirectory(ctx, path.MustParse("/shared"))
			assert.True(t, dfs.IsNotFound(err))

			names, err := tc.Service.List(ctx, path.Root())
			require.NoError(t, err)
			assert.Empty(t, names)

			deleted, err = tc.Service.Delete(ctx, path.Root())
			require.NoError(t, err)
			assert.False(t, deleted, "the root cannot be deleted")
		})
	}
}

func TestConcurrentExclusiveLocks(t *testing.T) {
	tc := NewTestContext(t, &TestConfig{Name: "memory", ContentStore: ContentMemory})
	ctx := tc.Context()
	file := path.MustParse("/counter")
	tc.AddNode(map[string]string{file.String(): ""})

	const workers = 8
	const rounds = 10

	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if !assert.NoError(t, tc.Service.Lock(ctx, file, true)) {
					return
				}
				n := holders.Add(1)
				for {
					m := maxHolders.Load()
					if n <= m || maxHolders.CompareAndSwap(m, n) {
						break
					}
				}
				holders.Add(-1)
				assert.NoError(t, tc.Service.Unlock(ctx, file, true))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHolders.Load())

	err := tc.Service.Unlock(ctx, file, true)
	assert.True(t, dfs.IsInvalidArgument(err), "unlock without a matching lock")
}
