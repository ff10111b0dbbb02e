package naming

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func p(s string) path.Path { return path.MustParse(s) }

// ============================================================================
// Registration
// ============================================================================

func TestRegisterBuildsNamespace(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator

	dups := cl.register(t, 0, "/a/b.txt")
	assert.Empty(t, dups)

	names, err := c.List(ctx, path.Root())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	names, err = c.List(ctx, p("/a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, names)

	isDir, err := c.IsDirectory(ctx, p("/a"))
	require.NoError(t, err)
	assert.True(t, isDir)

	isDir, err = c.IsDirectory(ctx, p("/a/b.txt"))
	require.NoError(t, err)
	assert.False(t, isDir)

	h, err := c.GetStorage(ctx, p("/a/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, cl.nodes[0].data, h)

	checkInvariant(t, c)
}

func TestRegisterReportsDuplicates(t *testing.T) {
	cl := newCluster(t, 2, Config{})
	c := cl.coordinator

	cl.register(t, 0, "/a/b.txt", "/dir/x")

	dups := cl.register(t, 1, "/a/b.txt", "/a/c", "/dir", "/a/b.txt/nested", "/a/c", "/")
	assert.Equal(t, []string{"/a/b.txt", "/dir", "/a/b.txt/nested"}, dups)

	h, err := c.GetStorage(ctx, p("/a/c"))
	require.NoError(t, err)
	assert.Equal(t, cl.nodes[1].data, h)

	h, err = c.GetStorage(ctx, p("/a/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, cl.nodes[0].data, h, "first registrant keeps the primary copy")

	checkInvariant(t, c)
}

func TestRegisterRejectsInvalidHandles(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	n := cl.nodes[0]

	_, err := c.Register(ctx, storage.DataHandle{}, n.command, nil)
	assert.True(t, dfs.IsInvalidArgument(err))

	_, err = c.Register(ctx, n.data, storage.CommandHandle{}, nil)
	assert.True(t, dfs.IsInvalidArgument(err))

	dups, err := c.Register(ctx, n.data, n.command, nil)
	require.NoError(t, err)
	assert.Empty(t, dups)

	_, err = c.Register(ctx, n.data, n.command, nil)
	assert.True(t, dfs.IsInvalidArgument(err), "re-registration must fail")
	assert.Len(t, c.StorageNodes(), 1)
}

// ============================================================================
// Creation
// ============================================================================

func TestCreateDirectoryThenFile(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0)

	created, err := c.CreateDirectory(ctx, p("/x"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.CreateFile(ctx, p("/x/y"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, cl.nodes[0].has("/x/y"))

	created, err = c.CreateFile(ctx, p("/x/y"))
	require.NoError(t, err)
	assert.False(t, created, "second create of the same file")

	created, err = c.CreateDirectory(ctx, p("/x/y"))
	require.NoError(t, err)
	assert.False(t, created, "directory over an existing file")

	created, err = c.CreateDirectory(ctx, p("/x"))
	require.NoError(t, err)
	assert.False(t, created)

	checkInvariant(t, c)
}

func TestCreateRejectsRootAndMissingParent(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0)

	created, err := c.CreateFile(ctx, path.Root())
	require.NoError(t, err)
	assert.False(t, created)

	created, err = c.CreateDirectory(ctx, path.Root())
	require.NoError(t, err)
	assert.False(t, created)

	_, err = c.CreateFile(ctx, p("/missing/file"))
	assert.True(t, dfs.IsNotFound(err))

	_, err = c.CreateDirectory(ctx, p("/missing/dir"))
	assert.True(t, dfs.IsNotFound(err))
}

func TestCreateFileUnderFileFails(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/f")

	_, err := c.CreateFile(ctx, p("/f/child"))
	assert.True(t, dfs.IsNotFound(err))
}

func TestCreateFileWithoutStorage(t *testing.T) {
	cl := newCluster(t, 0, Config{})

	_, err := cl.coordinator.CreateFile(ctx, p("/f"))
	assert.Equal(t, dfs.ErrUnavailable, dfs.CodeOf(err))
}

func TestCreateFileStorageFailure(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0)
	cl.nodes[0].set(func(n *fakeNode) { n.failCreate = true })

	created, err := c.CreateFile(ctx, p("/f"))
	require.NoError(t, err)
	assert.False(t, created)

	_, err = c.GetStorage(ctx, p("/f"))
	assert.True(t, dfs.IsNotFound(err), "failed create must not register the file")
}

func TestCreateFilePlacement(t *testing.T) {
	cl := newCluster(t, 3, Config{})
	c := cl.coordinator
	for i := range cl.nodes {
		cl.register(t, i)
	}
	c.pick = func(n int) int { return n - 1 }

	created, err := c.CreateFile(ctx, p("/f"))
	require.NoError(t, err)
	require.True(t, created)

	h, err := c.GetStorage(ctx, p("/f"))
	require.NoError(t, err)
	assert.Equal(t, cl.nodes[2].data, h)
	assert.Equal(t, []storage.DataHandle{cl.nodes[2].data}, c.ReplicaSet(p("/f")))
}

func TestConcurrentCreateSameFile(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := c.CreateFile(ctx, p("/contended"))
			assert.NoError(t, err)
			if created {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

// ============================================================================
// Queries
// ============================================================================

func TestQueriesOnUnknownPaths(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/a/file")

	_, err := c.IsDirectory(ctx, p("/nope"))
	assert.True(t, dfs.IsNotFound(err))

	_, err = c.IsDirectory(ctx, p("/nope/deeper"))
	assert.True(t, dfs.IsNotFound(err))

	_, err = c.List(ctx, p("/nope"))
	assert.True(t, dfs.IsNotFound(err))

	_, err = c.List(ctx, p("/a/file"))
	assert.True(t, dfs.IsNotFound(err), "listing a file")

	_, err = c.GetStorage(ctx, p("/a"))
	assert.True(t, dfs.IsNotFound(err), "directories have no storage")

	isDir, err := c.IsDirectory(ctx, path.Root())
	require.NoError(t, err)
	assert.True(t, isDir)
}

func TestListMixesFilesAndDirectories(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/d/z.txt", "/d/sub/deep.txt", "/d/a.txt", "/other")

	names, err := c.List(ctx, p("/d"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub", "z.txt"}, names)

	names, err = c.List(ctx, path.Root())
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "other"}, names)
}

// ============================================================================
// Deletion
// ============================================================================

func TestDeleteFileFromEveryReplica(t *testing.T) {
	cl := newCluster(t, 2, Config{ReplicationThreshold: 1})
	c := cl.coordinator
	cl.register(t, 0, "/f")
	cl.register(t, 1)

	// One read replicates to the second node.
	require.NoError(t, c.Lock(ctx, p("/f"), false))
	require.NoError(t, c.Unlock(ctx, p("/f"), false))
	require.Len(t, c.ReplicaSet(p("/f")), 2)

	deleted, err := c.Delete(ctx, p("/f"))
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.Equal(t, []string{"/f"}, cl.nodes[0].deleted())
	assert.Equal(t, []string{"/f"}, cl.nodes[1].deleted())

	_, err = c.GetStorage(ctx, p("/f"))
	assert.True(t, dfs.IsNotFound(err))
	assert.True(t, dfs.IsNotFound(c.Lock(ctx, p("/f"), false)))
	assert.True(t, dfs.IsInvalidArgument(c.Unlock(ctx, p("/f"), false)))
	checkInvariant(t, c)
}

func TestDeleteFilePartialFailure(t *testing.T) {
	cl := newCluster(t, 2, Config{ReplicationThreshold: 1})
	c := cl.coordinator
	cl.register(t, 0, "/f")
	cl.register(t, 1)

	require.NoError(t, c.Lock(ctx, p("/f"), false))
	require.NoError(t, c.Unlock(ctx, p("/f"), false))
	cl.nodes[1].set(func(n *fakeNode) { n.failDelete = true })

	deleted, err := c.Delete(ctx, p("/f"))
	require.NoError(t, err)
	assert.False(t, deleted)

	h, err := c.GetStorage(ctx, p("/f"))
	require.NoError(t, err, "file stays registered after a partial failure")
	assert.Equal(t, cl.nodes[0].data, h)
}

func TestDeleteDirectory(t *testing.T) {
	cl := newCluster(t, 3, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/a/one")
	cl.register(t, 1, "/a/sub/two", "/keep")
	cl.register(t, 2, "/elsewhere")

	deleted, err := c.Delete(ctx, p("/a"))
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.Equal(t, []string{"/a"}, cl.nodes[0].deleted())
	assert.Equal(t, []string{"/a"}, cl.nodes[1].deleted())
	assert.Empty(t, cl.nodes[2].deleted(), "nodes without files below /a are not contacted")

	_, err = c.List(ctx, p("/a"))
	assert.True(t, dfs.IsNotFound(err))
	_, err = c.GetStorage(ctx, p("/a/sub/two"))
	assert.True(t, dfs.IsNotFound(err))

	names, err := c.List(ctx, path.Root())
	require.NoError(t, err)
	assert.Equal(t, []string{"elsewhere", "keep"}, names)
	checkInvariant(t, c)
}

func TestDeleteDirectoryPartialFailure(t *testing.T) {
	cl := newCluster(t, 2, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/a/one")
	cl.register(t, 1, "/a/two")
	cl.nodes[1].set(func(n *fakeNode) { n.failDelete = true })

	deleted, err := c.Delete(ctx, p("/a"))
	require.NoError(t, err)
	assert.False(t, deleted)

	names, err := c.List(ctx, p("/a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, names)
	checkInvariant(t, c)
}

func TestDeleteEmptyDirectory(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator

	_, err := c.CreateDirectory(ctx, p("/empty"))
	require.NoError(t, err)

	deleted, err := c.Delete(ctx, p("/empty"))
	require.NoError(t, err)
	assert.True(t, deleted)

	// Lock entries of directories survive so late unlockers do not fail.
	_, ok := c.locks[p("/empty").Key()]
	assert.True(t, ok)
}

func TestDeleteRootAndUnknown(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator

	deleted, err := c.Delete(ctx, path.Root())
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = c.Delete(ctx, p("/ghost"))
	assert.True(t, dfs.IsNotFound(err))
}

// ============================================================================
// Locking
// ============================================================================

func TestLockUnknownAndUnmatched(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/a/f")

	assert.True(t, dfs.IsNotFound(c.Lock(ctx, p("/nope"), false)))
	assert.True(t, dfs.IsInvalidArgument(c.Unlock(ctx, p("/nope"), false)))
	assert.True(t, dfs.IsInvalidArgument(c.Unlock(ctx, p("/a/f"), true)), "unlock without lock")
}

func TestLockChainModes(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/a/b/f")

	require.NoError(t, c.Lock(ctx, p("/a/b/f"), true))

	assert.Equal(t, 1, c.locks[path.Root().Key()].Readers())
	assert.Equal(t, 1, c.locks[p("/a").Key()].Readers())
	assert.Equal(t, 1, c.locks[p("/a/b").Key()].Readers())
	assert.True(t, c.locks[p("/a/b/f").Key()].ExclusiveHeld())

	require.NoError(t, c.Unlock(ctx, p("/a/b/f"), true))
	for _, s := range []string{"/", "/a", "/a/b", "/a/b/f"} {
		assert.True(t, c.locks[p(s).Key()].Idle(), "%s still held", s)
	}
}

func TestDescendantReaderBlocksAncestorWriter(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/a/f")

	require.NoError(t, c.Lock(ctx, p("/a/f"), false))

	acquired := make(chan struct{})
	go func() {
		assert.NoError(t, c.Lock(ctx, p("/a"), true))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("writer on /a admitted while /a/f is read-locked")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.Unlock(ctx, p("/a/f"), false))

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("writer on /a never admitted")
	}
	require.NoError(t, c.Unlock(ctx, p("/a"), true))
}

func TestLockTimeoutReleasesPartialChain(t *testing.T) {
	cl := newCluster(t, 1, Config{LockTimeout: 30 * time.Millisecond})
	c := cl.coordinator
	cl.register(t, 0, "/a/f")

	require.NoError(t, c.Lock(ctx, p("/a"), true))

	err := c.Lock(ctx, p("/a/f"), false)
	assert.Equal(t, dfs.ErrCanceled, dfs.CodeOf(err))

	// Only the holder of /a keeps the root shared.
	assert.Equal(t, 1, c.locks[path.Root().Key()].Readers())
	assert.Zero(t, c.locks[path.Root().Key()].Waiting())

	require.NoError(t, c.Unlock(ctx, p("/a"), true))
	require.NoError(t, c.Lock(ctx, p("/a/f"), false))
	require.NoError(t, c.Unlock(ctx, p("/a/f"), false))
}

func TestHeldDescendantBlocksDelete(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/d/f")

	require.NoError(t, c.Lock(ctx, p("/d/f"), false))

	done := make(chan bool)
	go func() {
		deleted, err := c.Delete(ctx, p("/d"))
		assert.NoError(t, err)
		done <- deleted
	}()

	select {
	case <-done:
		t.Fatal("delete of /d ran while /d/f was locked")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.Unlock(ctx, p("/d/f"), false))

	select {
	case deleted := <-done:
		assert.True(t, deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("delete never completed")
	}

	assert.True(t, dfs.IsNotFound(c.Lock(ctx, p("/d"), false)))
	assert.True(t, dfs.IsInvalidArgument(c.Unlock(ctx, p("/d"), false)), "unlock without a held lock")
}

// waitQueued waits until n requests are queued on the NodeLock of s.
func waitQueued(t *testing.T, c *Coordinator, s string, n int) {
	t.Helper()

	c.mu.Lock()
	l := c.locks[p(s).Key()]
	c.mu.Unlock()
	require.NotNil(t, l)

	require.Eventually(t, func() bool { return l.Waiting() == n },
		2*time.Second, time.Millisecond, "%d request(s) never queued on %s", n, s)
}

func TestLockQueuedBehindDeleteOfTarget(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/d/f", "/d/g")

	require.NoError(t, c.Lock(ctx, p("/d"), true))

	deleted := make(chan bool, 1)
	go func() {
		ok, err := c.Delete(ctx, p("/d/f"))
		assert.NoError(t, err)
		deleted <- ok
	}()
	waitQueued(t, c, "/d", 1)

	locked := make(chan error, 1)
	go func() { locked <- c.Lock(ctx, p("/d/f"), false) }()
	waitQueued(t, c, "/d", 2)

	require.NoError(t, c.Unlock(ctx, p("/d"), true))

	select {
	case ok := <-deleted:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("delete never completed")
	}
	select {
	case err := <-locked:
		assert.True(t, dfs.IsNotFound(err), "lock of a file deleted while queued: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("lock never returned")
	}

	assert.True(t, c.locks[path.Root().Key()].Idle(), "root still held")
	assert.True(t, c.locks[p("/d").Key()].Idle(), "/d still held")

	deleted2 := make(chan bool, 1)
	go func() {
		ok, err := c.Delete(ctx, p("/d/g"))
		assert.NoError(t, err)
		deleted2 <- ok
	}()
	select {
	case ok := <-deleted2:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("delete of a sibling blocked on a leaked hold")
	}

	checkInvariant(t, c)
}

func TestCreateQueuedBehindDeleteOfParent(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0)

	created, err := c.CreateDirectory(ctx, p("/d"))
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, c.Lock(ctx, path.Root(), true))

	deleted := make(chan bool, 1)
	go func() {
		ok, err := c.Delete(ctx, p("/d"))
		assert.NoError(t, err)
		deleted <- ok
	}()
	waitQueued(t, c, "/", 1)

	dirErr := make(chan error, 1)
	go func() {
		_, err := c.CreateDirectory(ctx, p("/d/x"))
		dirErr <- err
	}()
	waitQueued(t, c, "/", 2)

	fileErr := make(chan error, 1)
	go func() {
		_, err := c.CreateFile(ctx, p("/d/y"))
		fileErr <- err
	}()
	waitQueued(t, c, "/", 3)

	require.NoError(t, c.Unlock(ctx, path.Root(), true))

	for name, ch := range map[string]chan error{"directory": dirErr, "file": fileErr} {
		select {
		case err := <-ch:
			assert.True(t, dfs.IsNotFound(err), "create %s under a deleted parent: %v", name, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("create %s never returned", name)
		}
	}
	select {
	case ok := <-deleted:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("delete never completed")
	}

	checkInvariant(t, c)
	assert.False(t, cl.nodes[0].has("/d/y"), "no file placed under a deleted parent")
	for key, l := range c.locks {
		assert.True(t, l.Idle(), "lock %s left held", key)
	}
}

func TestMismatchedUnlockKeepsOtherHolds(t *testing.T) {
	cl := newCluster(t, 1, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/a/f", "/a/g")

	require.NoError(t, c.Lock(ctx, p("/a/f"), false))
	require.NoError(t, c.Lock(ctx, p("/a/g"), false))

	err := c.Unlock(ctx, p("/a/f"), true)
	assert.True(t, dfs.IsInvalidArgument(err))

	assert.Equal(t, 2, c.locks[path.Root().Key()].Readers())
	assert.Equal(t, 2, c.locks[p("/a").Key()].Readers())
	assert.Equal(t, 1, c.locks[p("/a/f").Key()].Readers())

	require.NoError(t, c.Unlock(ctx, p("/a/f"), false))
	require.NoError(t, c.Unlock(ctx, p("/a/g"), false))
	for _, s := range []string{"/", "/a", "/a/f", "/a/g"} {
		assert.True(t, c.locks[p(s).Key()].Idle(), "%s still held", s)
	}
}

// ============================================================================
// Replication
// ============================================================================

func readLock(t *testing.T, c *Coordinator, s string, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		require.NoError(t, c.Lock(ctx, p(s), false))
		require.NoError(t, c.Unlock(ctx, p(s), false))
	}
}

func TestReplicationThreshold(t *testing.T) {
	cl := newCluster(t, 2, Config{})
	c := cl.coordinator
	cl.register(t, 0, "/f")
	cl.register(t, 1)

	readLock(t, c, "/f", DefaultReplicationThreshold-1)
	assert.Len(t, c.ReplicaSet(p("/f")), 1)
	assert.Empty(t, cl.nodes[1].copied())

	readLock(t, c, "/f", 1)
	assert.ElementsMatch(t, []storage.DataHandle{cl.nodes[0].data, cl.nodes[1].data}, c.ReplicaSet(p("/f")))
	assert.Equal(t, []string{"/f"}, cl.nodes[1].copied())
	assert.Equal(t, []storage.DataHandle{cl.nodes[0].data}, cl.nodes[1].sources)

	h, err := c.GetStorage(ctx, p("/f"))
	require.NoError(t, err)
	assert.Equal(t, cl.nodes[0].data, h, "replication does not move the primary")

	// Every node holds a copy now, so the next threshold adds nothing.
	readLock(t, c, "/f", DefaultReplicationThreshold)
	assert.Len(t, c.ReplicaSet(p("/f")), 2)
}

func TestWriteLockCollapsesReplicas(t *testing.T) {
	cl := newCluster(t, 3, Config{ReplicationThreshold: 2})
	c := cl.coordinator
	cl.register(t, 0, "/f")
	cl.register(t, 1)
	cl.register(t, 2)

	readLock(t, c, "/f", 4)
	require.Len(t, c.ReplicaSet(p("/f")), 3)

	require.NoError(t, c.Lock(ctx, p("/f"), true))
	assert.Equal(t, []storage.DataHandle{cl.nodes[0].data}, c.ReplicaSet(p("/f")))
	require.NoError(t, c.Unlock(ctx, p("/f"), true))

	assert.Empty(t, cl.nodes[0].deleted(), "the primary is never invalidated")
	assert.Equal(t, []string{"/f"}, cl.nodes[1].deleted())
	assert.Equal(t, []string{"/f"}, cl.nodes[2].deleted())

	// The read counter restarts after a write.
	readLock(t, c, "/f", 1)
	assert.Len(t, c.ReplicaSet(p("/f")), 1)
	readLock(t, c, "/f", 1)
	assert.Len(t, c.ReplicaSet(p("/f")), 2)
}

func TestReplicationSkipsFailingNode(t *testing.T) {
	cl := newCluster(t, 3, Config{ReplicationThreshold: 1})
	c := cl.coordinator
	cl.register(t, 0, "/f")
	cl.register(t, 1)
	cl.register(t, 2)
	cl.nodes[1].set(func(n *fakeNode) { n.failCopy = true })

	readLock(t, c, "/f", 1)

	assert.ElementsMatch(t, []storage.DataHandle{cl.nodes[0].data, cl.nodes[2].data}, c.ReplicaSet(p("/f")))
}

func TestDirectoriesAreNotReplicated(t *testing.T) {
	cl := newCluster(t, 2, Config{ReplicationThreshold: 1})
	c := cl.coordinator
	cl.register(t, 0, "/d/f")
	cl.register(t, 1)

	readLock(t, c, "/d", 5)
	assert.Empty(t, cl.nodes[1].copied())
}

// ============================================================================
// Invariants
// ============================================================================

func TestNamespaceInvariantUnderRandomOperations(t *testing.T) {
	cl := newCluster(t, 2, Config{})
	c := cl.coordinator
	cl.register(t, 0)
	cl.register(t, 1)

	rng := rand.New(rand.NewPCG(1, 2))
	names := []string{"a", "b", "c"}

	randomPath := func() path.Path {
		depth := 1 + rng.IntN(3)
		s := ""
		for i := 0; i < depth; i++ {
			s += "/" + names[rng.IntN(len(names))]
		}
		return p(s)
	}

	for i := 0; i < 500; i++ {
		target := randomPath()
		switch rng.IntN(3) {
		case 0:
			_, _ = c.CreateFile(ctx, target)
		case 1:
			_, _ = c.CreateDirectory(ctx, target)
		case 2:
			_, _ = c.Delete(ctx, target)
		}
		checkInvariant(t, c)
	}
}

func TestConcurrentOperationsKeepInvariant(t *testing.T) {
	cl := newCluster(t, 2, Config{ReplicationThreshold: 3})
	c := cl.coordinator
	cl.register(t, 0)
	cl.register(t, 1)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			dir := p(fmt.Sprintf("/w%d", w))
			_, _ = c.CreateDirectory(ctx, dir)
			for i := 0; i < 20; i++ {
				f := p(fmt.Sprintf("/w%d/f%d", w, i%4))
				_, _ = c.CreateFile(ctx, f)
				if err := c.Lock(ctx, f, i%5 == 0); err == nil {
					_ = c.Unlock(ctx, f, i%5 == 0)
				}
				if i%7 == 0 {
					_, _ = c.Delete(ctx, f)
				}
			}
		}(w)
	}
	wg.Wait()

	checkInvariant(t, c)
	for key, l := range c.locks {
		assert.True(t, l.Idle(), "lock %s left held", key)
	}
}

func TestConcurrentOperationsOnSharedDirectories(t *testing.T) {
	cl := newCluster(t, 2, Config{ReplicationThreshold: 2})
	c := cl.coordinator
	cl.register(t, 0)
	cl.register(t, 1)

	dirs := []string{"/s", "/s/a", "/s/a/b", "/t"}
	files := []string{"/s/f", "/s/a/f", "/s/a/b/f", "/t/f"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 7))
			for i := 0; i < 60; i++ {
				switch rng.IntN(4) {
				case 0:
					_, _ = c.CreateDirectory(ctx, p(dirs[rng.IntN(len(dirs))]))
				case 1:
					_, _ = c.CreateFile(ctx, p(files[rng.IntN(len(files))]))
				case 2:
					all := append(append([]string(nil), dirs...), files...)
					_, _ = c.Delete(ctx, p(all[rng.IntN(len(all))]))
				case 3:
					f := p(files[rng.IntN(len(files))])
					exclusive := rng.IntN(2) == 0
					if err := c.Lock(ctx, f, exclusive); err == nil {
						assert.NoError(t, c.Unlock(ctx, f, exclusive))
					}
				}
			}
		}(w)
	}
	wg.Wait()

	checkInvariant(t, c)
	for key, l := range c.locks {
		assert.True(t, l.Idle(), "lock %s left held", key)
	}
}
