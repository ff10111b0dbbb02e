package naming

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/lock"
	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
)

// Coordinator implements Service and Registration.
//
// All registry state lives behind a single mutex. The mutex guards the maps
// themselves; logical contention between clients is handled by the per-path
// NodeLocks, which are always acquired with the mutex released. Calls into
// storage nodes are also made with the mutex released.
//
// Maps are keyed by the canonical path string (path.Path.Key).
type Coordinator struct {
	config  Config
	dialer  storage.Dialer
	metrics metrics.NamingMetrics

	// pick selects an index in [0, n). Replaced in tests.
	pick func(n int) int

	mu sync.Mutex

	// files and directories are the two disjoint namespace sets
	files       map[string]path.Path
	directories map[string]path.Path

	// locks holds one NodeLock per namespace node. Directory entries are
	// never removed so that a holder can always unlock.
	locks map[string]*lock.NodeLock

	// nodes lists registered storage nodes in registration order
	nodes []storage.DataHandle

	// commandOf pairs each registered data handle with its command handle
	commandOf map[storage.DataHandle]storage.CommandHandle

	// primaryOf maps each file to the node holding its authoritative copy
	primaryOf map[string]storage.DataHandle

	// replicas maps each file to the nodes holding a readable copy.
	// The set always contains the primary.
	replicas map[string]map[storage.DataHandle]struct{}

	// reads counts shared locks per file since the last replication or write
	reads map[string]int
}

// New creates a Coordinator with an empty namespace containing only the root
// directory.
//
// Parameters:
//   - config: coordinator tunables (zero values are replaced with defaults)
//   - dialer: resolves storage handles to callable interfaces
//   - namingMetrics: optional metrics collector (nil for no metrics)
//
// Panics if config validation fails or dialer is nil.
func New(config Config, dialer storage.Dialer, namingMetrics metrics.NamingMetrics) *Coordinator {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid naming config: %v", err))
	}
	if dialer == nil {
		panic("storage dialer cannot be nil")
	}
	if namingMetrics == nil {
		namingMetrics = metrics.NewNoopNamingMetrics()
	}

	root := path.Root()
	c := &Coordinator{
		config:      config,
		dialer:      dialer,
		metrics:     namingMetrics,
		pick:        rand.IntN,
		files:       make(map[string]path.Path),
		directories: map[string]path.Path{root.Key(): root},
		locks:       map[string]*lock.NodeLock{root.Key(): lock.New()},
		commandOf:   make(map[storage.DataHandle]storage.CommandHandle),
		primaryOf:   make(map[string]storage.DataHandle),
		replicas:    make(map[string]map[storage.DataHandle]struct{}),
		reads:       make(map[string]int),
	}

	logger.Debug("Naming coordinator created: replication_threshold=%d lock_timeout=%v",
		config.ReplicationThreshold, config.LockTimeout)

	return c
}

// observe records the outcome of a public operation. It is deferred with a
// pointer to the named error result.
func (c *Coordinator) observe(operation string, start time.Time, errp *error) {
	c.metrics.RecordOperation(operation, time.Since(start), *errp)
}

// ============================================================================
// Registry helpers (c.mu must be held)
// ============================================================================

func (c *Coordinator) isFileLocked(p path.Path) bool {
	_, ok := c.files[p.Key()]
	return ok
}

func (c *Coordinator) isDirectoryLocked(p path.Path) bool {
	_, ok := c.directories[p.Key()]
	return ok
}

func (c *Coordinator) knownLocked(p path.Path) bool {
	return c.isFileLocked(p) || c.isDirectoryLocked(p)
}

// parentIsDirectoryLocked reports whether the parent of a non-root path is a
// known directory.
func (c *Coordinator) parentIsDirectoryLocked(p path.Path) bool {
	parent, err := p.Parent()
	if err != nil {
		return false
	}
	return c.isDirectoryLocked(parent)
}

// underFileLocked reports whether a strict ancestor of p is a known file.
func (c *Coordinator) underFileLocked(p path.Path) bool {
	chain := p.Ancestors()
	for _, ancestor := range chain[:len(chain)-1] {
		if c.isFileLocked(ancestor) {
			return true
		}
	}
	return false
}

// nodeLockLocked returns the NodeLock for p, creating it on first reference.
func (c *Coordinator) nodeLockLocked(p path.Path) *lock.NodeLock {
	l, ok := c.locks[p.Key()]
	if !ok {
		l = lock.New()
		c.locks[p.Key()] = l
	}
	return l
}

// addDirectoryLocked records a directory and its lock entry.
func (c *Coordinator) addDirectoryLocked(p path.Path) {
	c.directories[p.Key()] = p
	c.nodeLockLocked(p)
}

// addFileLocked records a file hosted by primary with a fresh replica set.
func (c *Coordinator) addFileLocked(p path.Path, primary storage.DataHandle) {
	key := p.Key()
	c.files[key] = p
	c.primaryOf[key] = primary
	c.replicas[key] = map[storage.DataHandle]struct{}{primary: {}}
	c.reads[key] = 0
	c.nodeLockLocked(p)
}

// removeFileLocked drops every record of a file, including its lock entry.
func (c *Coordinator) removeFileLocked(p path.Path) {
	key := p.Key()
	delete(c.files, key)
	delete(c.primaryOf, key)
	delete(c.replicas, key)
	delete(c.reads, key)
	delete(c.locks, key)
}

// replicaHoldersLocked returns the replica set of a file sorted by address.
func (c *Coordinator) replicaHoldersLocked(p path.Path) []storage.DataHandle {
	set := c.replicas[p.Key()]
	holders := make([]storage.DataHandle, 0, len(set))
	for h := range set {
		holders = append(holders, h)
	}
	sortHandles(holders)
	return holders
}

func (c *Coordinator) updateGaugesLocked() {
	c.metrics.SetNamespaceSize(len(c.files), len(c.directories))
}

func sortHandles(handles []storage.DataHandle) {
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].Addr < handles[j].Addr
	})
}

// ============================================================================
// Introspection
// ============================================================================

// Stats is a point-in-time summary of the coordinator state.
type Stats struct {
	Files        int
	Directories  int
	StorageNodes int
	Replicas     int
}

// Stats returns counts of the registry contents.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	replicas := 0
	for _, set := range c.replicas {
		replicas += len(set)
	}

	return Stats{
		Files:        len(c.files),
		Directories:  len(c.directories),
		StorageNodes: len(c.nodes),
		Replicas:     replicas,
	}
}

// ReplicaSet returns the nodes holding a copy of a file, sorted by address.
// It returns nil for unknown paths.
func (c *Coordinator) ReplicaSet(p path.Path) []storage.DataHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isFileLocked(p) {
		return nil
	}
	return c.replicaHoldersLocked(p)
}

// StorageNodes returns the registered data handles in registration order.
func (c *Coordinator) StorageNodes() []storage.DataHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]storage.DataHandle, len(c.nodes))
	copy(out, c.nodes)
	return out
}
