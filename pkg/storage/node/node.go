// Package node implements a storage node: the Data and Command interfaces
// over a local content store.
//
// Reads run concurrently. Mutations (Write, Create, Delete and the local
// half of Copy) are serialized by one mutex. Calls into other nodes during
// Copy are made with the mutex released.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
	"github.com/marmos91/dittodfs/pkg/store/content"
)

// DefaultCopyChunkSize is the read size used when replicating a file.
const DefaultCopyChunkSize = 1 << 20

// Config holds the tunables of a storage node.
type Config struct {
	// CopyChunkSize is the number of bytes fetched per READ during Copy.
	// 0 means DefaultCopyChunkSize.
	CopyChunkSize int `mapstructure:"copy_chunk_size" validate:"min=0"`

	// ID is the instance ID reported in logs. Zero means a random one.
	ID uuid.UUID `mapstructure:"-"`
}

func (c *Config) applyDefaults() {
	if c.CopyChunkSize == 0 {
		c.CopyChunkSize = DefaultCopyChunkSize
	}
}

// Node serves one content store.
type Node struct {
	id      uuid.UUID
	config  Config
	store   content.Store
	dialer  storage.Dialer
	metrics metrics.StorageMetrics

	mu sync.RWMutex
}

var (
	_ storage.Data    = (*Node)(nil)
	_ storage.Command = (*Node)(nil)
)

// New creates a node over store. The dialer is used to reach the source of
// Copy calls. storageMetrics may be nil.
//
// Panics if store or dialer is nil or config is invalid.
func New(config Config, store content.Store, dialer storage.Dialer, storageMetrics metrics.StorageMetrics) *Node {
	config.applyDefaults()
	if config.CopyChunkSize < 1 {
		panic(fmt.Sprintf("invalid storage config: CopyChunkSize %d must be >= 1", config.CopyChunkSize))
	}
	if store == nil {
		panic("content store cannot be nil")
	}
	if dialer == nil {
		panic("storage dialer cannot be nil")
	}

	id := config.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if storageMetrics == nil {
		storageMetrics = metrics.NewNoopStorageMetrics()
	}

	logger.Debug("Storage node created: instance=%s copy_chunk_size=%d", id, config.CopyChunkSize)

	return &Node{
		id:      id,
		config:  config,
		store:   store,
		dialer:  dialer,
		metrics: storageMetrics,
	}
}

// ID returns the instance ID of the node, fresh for every process.
func (n *Node) ID() uuid.UUID { return n.id }

// Store returns the underlying content store.
func (n *Node) Store() content.Store { return n.store }

// translate maps a content store error to its dfs code.
func translate(p path.Path, err error) error {
	var e *dfs.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &e):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, content.ErrNotFound):
		return dfs.NewNotFound("file not found", p.String())
	case errors.Is(err, content.ErrOutOfRange):
		return dfs.NewOutOfRange(err.Error(), p.String())
	case errors.Is(err, content.ErrInvalidName):
		return dfs.NewInvalidArgument(err.Error(), p.String())
	default:
		return dfs.NewIOFailure(p.String(), err)
	}
}

// fileSize returns the size of the file at p, failing with ErrNotFound for
// directories.
func (n *Node) fileSize(ctx context.Context, p path.Path) (int64, error) {
	info, err := n.store.Stat(ctx, p)
	if err != nil {
		return 0, translate(p, err)
	}
	if info.IsDir() {
		return 0, dfs.NewNotFound("path is a directory", p.String())
	}
	return info.Size, nil
}

// ============================================================================
// Data
// ============================================================================

// Size implements storage.Data.
func (n *Node) Size(ctx context.Context, p path.Path) (int64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.fileSize(ctx, p)
}

// Read implements storage.Data.
func (n *Node) Read(ctx context.Context, p path.Path, offset int64, length int32) ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	size, err := n.fileSize(ctx, p)
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || offset+int64(length) > size {
		return nil, dfs.NewOutOfRange(
			fmt.Sprintf("read [%d, %d) outside file of %d bytes", offset, offset+int64(length), size),
			p.String())
	}

	data, err := n.store.ReadAt(ctx, p, offset, int(length))
	if err != nil {
		return nil, translate(p, err)
	}
	return data, nil
}

// Write implements storage.Data.
func (n *Node) Write(ctx context.Context, p path.Path, offset int64, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.writeLocked(ctx, p, offset, data)
}

func (n *Node) writeLocked(ctx context.Context, p path.Path, offset int64, data []byte) error {
	if _, err := n.fileSize(ctx, p); err != nil {
		return err
	}
	if offset < 0 {
		return dfs.NewOutOfRange(fmt.Sprintf("negative offset %d", offset), p.String())
	}
	return translate(p, n.store.WriteAt(ctx, p, offset, data))
}

// ============================================================================
// Command
// ============================================================================

// Create implements storage.Command. A file found where a parent directory
// must go is deleted first.
func (n *Node) Create(ctx context.Context, p path.Path) (created bool, err error) {
	defer func() { n.metrics.RecordCommand("create", created, err) }()

	if p.IsRoot() {
		return false, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	return n.createLocked(ctx, p)
}

func (n *Node) createLocked(ctx context.Context, p path.Path) (bool, error) {
	if _, err := n.store.Stat(ctx, p); err == nil {
		return false, nil
	} else if !errors.Is(err, content.ErrNotFound) {
		return false, translate(p, err)
	}

	chain := p.Ancestors()
	for _, ancestor := range chain[1 : len(chain)-1] {
		info, err := n.store.Stat(ctx, ancestor)
		if errors.Is(err, content.ErrNotFound) {
			break
		}
		if err != nil {
			return false, translate(ancestor, err)
		}
		if !info.IsDir() {
			logger.Debug("Storage create %s: removing file %s in parent position", p, ancestor)
			if err := n.store.Delete(ctx, ancestor); err != nil {
				return false, translate(ancestor, err)
			}
			break
		}
	}

	err := n.store.Create(ctx, p)
	if errors.Is(err, content.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, translate(p, err)
	}
	return true, nil
}

// Delete implements storage.Command. Missing paths are deleted trivially.
func (n *Node) Delete(ctx context.Context, p path.Path) (deleted bool, err error) {
	defer func() { n.metrics.RecordCommand("delete", deleted, err) }()

	if p.IsRoot() {
		return false, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.store.Delete(ctx, p); err != nil {
		return false, translate(p, err)
	}
	return true, nil
}

// Copy implements storage.Command. The local copy of p is replaced by the
// file served by source, fetched in CopyChunkSize reads. Errors from the
// source are returned unchanged.
func (n *Node) Copy(ctx context.Context, p path.Path, source storage.DataHandle) (copied bool, err error) {
	start := time.Now()
	var size int64
	defer func() {
		n.metrics.RecordCommand("copy", copied, err)
		n.metrics.RecordCopy(size, time.Since(start), err)
	}()

	if source.IsZero() {
		return false, dfs.NewInvalidArgument("source handle is null", p.String())
	}
	if p.IsRoot() {
		return false, dfs.NewNotFound("path is a directory", p.String())
	}

	remote, err := n.dialer.Data(source)
	if err != nil {
		return false, err
	}

	size, err = remote.Size(ctx, p)
	if err != nil {
		return false, err
	}

	if err := n.replace(ctx, p); err != nil {
		return false, err
	}

	chunk := int64(n.config.CopyChunkSize)
	for offset := int64(0); offset < size; offset += chunk {
		length := min(chunk, size-offset)

		data, err := remote.Read(ctx, p, offset, int32(length))
		if err != nil {
			return false, err
		}

		n.mu.Lock()
		err = n.writeLocked(ctx, p, offset, data)
		n.mu.Unlock()
		if err != nil {
			return false, err
		}
	}

	logger.Debug("Storage copy %s from %s: %d bytes in %v", p, source.Addr, size, time.Since(start))
	return true, nil
}

// replace discards any local file or directory at p and creates it empty.
func (n *Node) replace(ctx context.Context, p path.Path) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.store.Delete(ctx, p); err != nil {
		return translate(p, err)
	}
	created, err := n.createLocked(ctx, p)
	if err != nil {
		return err
	}
	if !created {
		return dfs.NewIOFailure(p.String(), errors.New("could not create local copy"))
	}
	return nil
}
