// Package badger implements a content store on BadgerDB.
//
// Each file is one key, "f:" followed by its canonical path, whose value is
// the whole file. Directories are implicit: "/a" is a directory while some
// key starts with "f:/a/".
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/store/content"
)

const filePrefix = "f:"

// Config configures the BadgerDB store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps the database in RAM only.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB sizes Badger's block cache. 0 means 64.
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" validate:"gte=0"`
}

// BadgerContentStore stores file contents in a BadgerDB database.
type BadgerContentStore struct {
	db      *badger.DB
	metrics metrics.StoreMetrics
	closed  atomic.Bool
}

var _ content.Store = (*BadgerContentStore)(nil)

// NewBadgerContentStore opens the database described by config.
func NewBadgerContentStore(ctx context.Context, config Config, storeMetrics metrics.StoreMetrics) (*BadgerContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Path == "" && !config.InMemory {
		return nil, errors.New("badger content store: path is required")
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.Path, err)
	}

	if storeMetrics == nil {
		storeMetrics = metrics.NewNoopStoreMetrics()
	}

	return &BadgerContentStore{db: db, metrics: storeMetrics}, nil
}

func fileKey(p path.Path) []byte {
	return []byte(filePrefix + p.String())
}

// childPrefix is the key prefix of every file strictly below p.
func childPrefix(p path.Path) []byte {
	if p.IsRoot() {
		return []byte(filePrefix + path.Separator)
	}
	return []byte(filePrefix + p.String() + path.Separator)
}

func (s *BadgerContentStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return content.ErrClosed
	}
	return nil
}

func hasPrefix(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	it.Rewind()
	return it.Valid()
}

func statTxn(txn *badger.Txn, p path.Path) (content.Info, error) {
	if p.IsRoot() {
		return content.Info{Kind: content.KindDirectory}, nil
	}

	item, err := txn.Get(fileKey(p))
	switch {
	case err == nil:
		return content.Info{Kind: content.KindFile, Size: item.ValueSize()}, nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		return content.Info{}, err
	}

	if hasPrefix(txn, childPrefix(p)) {
		return content.Info{Kind: content.KindDirectory}, nil
	}
	return content.Info{}, fmt.Errorf("%s: %w", p, content.ErrNotFound)
}

func (s *BadgerContentStore) Stat(ctx context.Context, p path.Path) (info content.Info, err error) {
	if err = s.check(ctx); err != nil {
		return content.Info{}, err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		info, err = statTxn(txn, p)
		return err
	})
	return info, err
}

func getFile(txn *badger.Txn, p path.Path) ([]byte, error) {
	item, err := txn.Get(fileKey(p))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", p, content.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *BadgerContentStore) ReadAt(ctx context.Context, p path.Path, offset int64, length int) (data []byte, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("ReadAt", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return nil, err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(p))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", p, content.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if err := content.CheckRange(p, item.ValueSize(), offset, length); err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = make([]byte, length)
			copy(data, val[offset:])
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordBytes("read", int64(length))
	return data, nil
}

func (s *BadgerContentStore) WriteAt(ctx context.Context, p path.Path, offset int64, data []byte) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("WriteAt", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("%s: negative offset %d: %w", p, offset, content.ErrOutOfRange)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := getFile(txn, p)
		if err != nil {
			return err
		}
		return txn.Set(fileKey(p), content.Grow(current, offset, data))
	})
	if err != nil {
		return err
	}

	s.metrics.RecordBytes("write", int64(len(data)))
	return nil
}

// txnView adapts a transaction to the Stat half of content.Store for
// CheckCreate.
type txnView struct {
	content.Store
	txn *badger.Txn
}

func (v txnView) Stat(_ context.Context, p path.Path) (content.Info, error) {
	return statTxn(v.txn, p)
}

func (s *BadgerContentStore) Create(ctx context.Context, p path.Path) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Create", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := content.CheckCreate(ctx, txnView{Store: s, txn: txn}, p); err != nil {
			return err
		}
		return txn.Set(fileKey(p), []byte{})
	})
}

func (s *BadgerContentStore) Delete(ctx context.Context, p path.Path) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Delete", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return err
	}

	var keys [][]byte
	err = s.db.View(func(txn *badger.Txn) error {
		if !p.IsRoot() {
			if _, err := txn.Get(fileKey(p)); err == nil {
				keys = append(keys, fileKey(p))
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = childPrefix(p)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", p, err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err = wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	if err = wb.Flush(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return nil
}

func (s *BadgerContentStore) List(ctx context.Context) (files []path.Path, err error) {
	if err = s.check(ctx); err != nil {
		return nil, err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(filePrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			p, err := path.Parse(key[len(filePrefix):])
			if err != nil {
				return fmt.Errorf("corrupt key %q: %w", key, err)
			}
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	path.Sort(files)
	return files, nil
}

// PruneEmpty has nothing to remove: directories vanish with their last file.
func (s *BadgerContentStore) PruneEmpty(ctx context.Context) error {
	return s.check(ctx)
}

func (s *BadgerContentStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
