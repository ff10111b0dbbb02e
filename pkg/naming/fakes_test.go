package naming

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
	"github.com/stretchr/testify/require"
)

// fakeNode is an in-process storage node that records the commands it
// receives. Failures can be injected per command.
type fakeNode struct {
	mu sync.Mutex

	data    storage.DataHandle
	command storage.CommandHandle

	files map[string]bool

	failCreate bool
	failDelete bool
	failCopy   bool

	deletes []string
	copies  []string
	sources []storage.DataHandle
}

func newFakeNode(i int) *fakeNode {
	return &fakeNode{
		data:    storage.DataHandle{Addr: fmt.Sprintf("node%d:5000", i)},
		command: storage.CommandHandle{Addr: fmt.Sprintf("node%d:6000", i)},
		files:   make(map[string]bool),
	}
}

func (n *fakeNode) Create(ctx context.Context, p path.Path) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failCreate {
		return false, dfs.NewRPCFailure("injected create failure")
	}
	if p.IsRoot() || n.files[p.Key()] {
		return false, nil
	}
	n.files[p.Key()] = true
	return true, nil
}

func (n *fakeNode) Delete(ctx context.Context, p path.Path) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failDelete {
		return false, dfs.NewRPCFailure("injected delete failure")
	}
	if p.IsRoot() {
		return false, nil
	}
	n.deletes = append(n.deletes, p.String())
	for key := range n.files {
		if path.MustParse(key).IsSubpath(p) {
			delete(n.files, key)
		}
	}
	return true, nil
}

func (n *fakeNode) Copy(ctx context.Context, p path.Path, source storage.DataHandle) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failCopy {
		return false, nil
	}
	n.copies = append(n.copies, p.String())
	n.sources = append(n.sources, source)
	n.files[p.Key()] = true
	return true, nil
}

func (n *fakeNode) has(p string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.files[path.MustParse(p).Key()]
}

func (n *fakeNode) deleted() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.deletes...)
}

func (n *fakeNode) copied() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.copies...)
}

func (n *fakeNode) set(fn func(n *fakeNode)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(n)
}

// fakeDialer resolves command handles to fake nodes.
type fakeDialer struct {
	mu    sync.Mutex
	nodes map[storage.CommandHandle]*fakeNode
}

func (d *fakeDialer) add(n *fakeNode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[n.command] = n
}

func (d *fakeDialer) Data(h storage.DataHandle) (storage.Data, error) {
	return nil, fmt.Errorf("data interface not available in coordinator tests")
}

func (d *fakeDialer) Command(h storage.CommandHandle) (storage.Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[h]
	if !ok {
		return nil, dfs.NewRPCFailure("no route to %s", h.Addr)
	}
	return n, nil
}

// cluster is a coordinator wired to a set of fake nodes that are not yet
// registered.
type cluster struct {
	coordinator *Coordinator
	dialer      *fakeDialer
	nodes       []*fakeNode
}

func newCluster(t *testing.T, size int, config Config) *cluster {
	t.Helper()

	dialer := &fakeDialer{nodes: make(map[storage.CommandHandle]*fakeNode)}
	nodes := make([]*fakeNode, size)
	for i := range nodes {
		nodes[i] = newFakeNode(i + 1)
		dialer.add(nodes[i])
	}

	c := New(config, dialer, nil)
	// Always place new files on the first registered node.
	c.pick = func(int) int { return 0 }

	return &cluster{coordinator: c, dialer: dialer, nodes: nodes}
}

// register registers node i with the given files and returns the duplicates.
func (cl *cluster) register(t *testing.T, i int, files ...string) []string {
	t.Helper()

	n := cl.nodes[i]
	paths := make([]path.Path, len(files))
	for j, f := range files {
		paths[j] = path.MustParse(f)
		n.files[paths[j].Key()] = true
	}

	dups, err := cl.coordinator.Register(context.Background(), n.data, n.command, paths)
	require.NoError(t, err)
	return path.Strings(dups)
}

// checkInvariant asserts that every known path except root has a known
// directory as parent and that the two sets are disjoint.
func checkInvariant(t *testing.T, c *Coordinator) {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	require.Contains(t, c.directories, path.Root().Key())

	for key, f := range c.files {
		_, clash := c.directories[key]
		require.False(t, clash, "%s is both file and directory", key)

		parent, err := f.Parent()
		require.NoError(t, err)
		require.Contains(t, c.directories, parent.Key(), "parent of file %s missing", key)
		require.Contains(t, c.replicas[key], c.primaryOf[key], "replica set of %s lacks primary", key)
	}
	for key, d := range c.directories {
		if d.IsRoot() {
			continue
		}
		parent, err := d.Parent()
		require.NoError(t, err)
		require.Contains(t, c.directories, parent.Key(), "parent of directory %s missing", key)
	}
}
