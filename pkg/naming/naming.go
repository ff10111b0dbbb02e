// Package naming implements the naming coordinator of the distributed file
// service.
//
// The coordinator owns the namespace: which paths are files and which are
// directories, which storage node holds the primary copy of each file and
// which nodes hold replicas. It never stores file bytes. Clients use the
// Service interface to lock namespace nodes and mutate the tree; storage
// nodes use the Registration interface to announce themselves and the files
// they already host.
//
// Locking protocol:
// Locking a path acquires the NodeLock of every ancestor in shared mode and
// the NodeLock of the path itself in the requested mode, root first. The
// fixed shallow-to-deep order is what prevents deadlock between clients that
// hold several nested locks at once. Release happens deepest first.
//
// Locks carry no lease. A client that never unlocks strands the subtree,
// and LockTimeout bounds only the wait in the queue. A remote client that
// gives up on a pending Lock call does not withdraw the request: the
// coordinator may still grant it, and nobody will release it.
//
// Replication:
// Every shared lock of a file counts as a read. After ReplicationThreshold
// reads the file is copied to one more storage node. An exclusive lock of a
// file deletes every replica except the primary before the writer proceeds.
package naming

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
)

// Service is the client-facing interface of the naming coordinator.
type Service interface {
	// Lock locks path for shared or exclusive access, locking every
	// ancestor in shared mode. Fails with ErrNotFound if path is unknown.
	Lock(ctx context.Context, p path.Path, exclusive bool) error

	// Unlock releases a lock taken with Lock using the same arguments.
	// Fails with ErrInvalidArgument if path is unknown.
	Unlock(ctx context.Context, p path.Path, exclusive bool) error

	// IsDirectory reports whether path names a directory.
	IsDirectory(ctx context.Context, p path.Path) (bool, error)

	// List returns the names of the immediate children of a directory.
	List(ctx context.Context, dir path.Path) ([]string, error)

	// CreateFile creates an empty file on one storage node.
	// Returns false if the path is root or already exists.
	CreateFile(ctx context.Context, p path.Path) (bool, error)

	// CreateDirectory creates a directory.
	// Returns false if the path is root or already exists.
	CreateDirectory(ctx context.Context, p path.Path) (bool, error)

	// Delete removes a file or a directory tree from every storage node
	// holding it. Returns false if any node failed to acknowledge.
	Delete(ctx context.Context, p path.Path) (bool, error)

	// GetStorage returns the data handle of the node holding the primary
	// copy of a file.
	GetStorage(ctx context.Context, p path.Path) (storage.DataHandle, error)
}

// Registration is the interface storage nodes use to join the service.
type Registration interface {
	// Register announces a storage node and the files it hosts. The returned
	// paths were already known to the coordinator; the storage node must
	// delete its local copies.
	Register(ctx context.Context, data storage.DataHandle, command storage.CommandHandle, files []path.Path) ([]path.Path, error)
}

// DefaultReplicationThreshold is the number of shared locks on a file that
// triggers one additional replica.
const DefaultReplicationThreshold = 20

// Config holds the tunables of the coordinator.
type Config struct {
	// ReplicationThreshold is the number of reads of a file after which a
	// new replica is created. 0 means DefaultReplicationThreshold.
	ReplicationThreshold int `mapstructure:"replication_threshold" validate:"min=0"`

	// LockTimeout bounds how long a Lock call may wait in a queue.
	// 0 means wait forever.
	LockTimeout time.Duration `mapstructure:"lock_timeout" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.ReplicationThreshold == 0 {
		c.ReplicationThreshold = DefaultReplicationThreshold
	}
}

func (c *Config) validate() error {
	if c.ReplicationThreshold < 1 {
		return fmt.Errorf("invalid ReplicationThreshold %d: must be >= 1", c.ReplicationThreshold)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("invalid LockTimeout %v: must be >= 0", c.LockTimeout)
	}
	return nil
}
