// Package fs implements a content store over a local directory tree.
//
// Every file of the namespace is a regular file under the base directory at
// the same relative path, so an existing tree can be served as-is: a storage
// node started on it lists and registers every file it finds.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/store/content"
)

// FSContentStore stores files under basePath.
type FSContentStore struct {
	basePath string
	metrics  metrics.StoreMetrics
	closed   atomic.Bool
}

var _ content.Store = (*FSContentStore)(nil)

// Config configures the filesystem store.
type Config struct {
	// Path is the base directory. It is created if missing.
	Path string `mapstructure:"path" validate:"required"`
}

// NewFSContentStore opens a store rooted at config.Path, creating the
// directory with permissions 0755 if needed.
func NewFSContentStore(ctx context.Context, config Config, storeMetrics metrics.StoreMetrics) (*FSContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Path == "" {
		return nil, errors.New("filesystem content store: path is required")
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	if storeMetrics == nil {
		storeMetrics = metrics.NewNoopStoreMetrics()
	}

	return &FSContentStore{basePath: config.Path, metrics: storeMetrics}, nil
}

// BasePath returns the directory the store is rooted at.
func (s *FSContentStore) BasePath() string { return s.basePath }

// localPath maps p below basePath. Components that would escape or alias
// the tree are rejected.
func (s *FSContentStore) localPath(p path.Path) (string, error) {
	components := p.Components()
	for _, c := range components {
		if c == "." || c == ".." {
			return "", fmt.Errorf("%s: component %q: %w", p, c, content.ErrInvalidName)
		}
	}
	return filepath.Join(append([]string{s.basePath}, components...)...), nil
}

func (s *FSContentStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return content.ErrClosed
	}
	return nil
}

// notFound reports whether err means "nothing at this path", including an
// ancestor being a regular file.
func notFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func (s *FSContentStore) Stat(ctx context.Context, p path.Path) (info content.Info, err error) {
	if err := s.check(ctx); err != nil {
		return content.Info{}, err
	}

	local, err := s.localPath(p)
	if err != nil {
		return content.Info{}, err
	}

	fi, err := os.Stat(local)
	if err != nil {
		if notFound(err) {
			return content.Info{}, fmt.Errorf("%s: %w", p, content.ErrNotFound)
		}
		return content.Info{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	if fi.IsDir() {
		return content.Info{Kind: content.KindDirectory}, nil
	}
	return content.Info{Kind: content.KindFile, Size: fi.Size()}, nil
}

// openFile opens the regular file at p, failing with ErrNotFound for
// directories.
func (s *FSContentStore) openFile(p path.Path, flag int) (*os.File, os.FileInfo, error) {
	local, err := s.localPath(p)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(local, flag, 0)
	if err != nil {
		if notFound(err) || errors.Is(err, syscall.EISDIR) {
			return nil, nil, fmt.Errorf("%s: %w", p, content.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to open %s: %w", p, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%s: %w", p, content.ErrNotFound)
	}
	return f, fi, nil
}

func (s *FSContentStore) ReadAt(ctx context.Context, p path.Path, offset int64, length int) (data []byte, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("ReadAt", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return nil, err
	}

	f, fi, err := s.openFile(p, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if err = content.CheckRange(p, fi.Size(), offset, length); err != nil {
		return nil, err
	}

	data = make([]byte, length)
	if _, err = f.ReadAt(data, offset); err != nil && length > 0 {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	s.metrics.RecordBytes("read", int64(length))
	return data, nil
}

func (s *FSContentStore) WriteAt(ctx context.Context, p path.Path, offset int64, data []byte) (err error) {
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

	f, _, err := s.openFile(p, os.O_WRONLY)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	// Writing past the end leaves a hole that reads back as zeros.
	if _, err = f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", p, err)
	}

	s.metrics.RecordBytes("write", int64(len(data)))
	return nil
}

func (s *FSContentStore) Create(ctx context.Context, p path.Path) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Create", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return err
	}
	if err = content.CheckCreate(ctx, s, p); err != nil {
		return err
	}

	local, err := s.localPath(p)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", p, err)
	}

	f, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", p, content.ErrExists)
		}
		return fmt.Errorf("failed to create %s: %w", p, err)
	}
	return f.Close()
}

func (s *FSContentStore) Delete(ctx context.Context, p path.Path) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Delete", time.Since(start), err)
	}()

	if err = s.check(ctx); err != nil {
		return err
	}

	if p.IsRoot() {
		entries, err := os.ReadDir(s.basePath)
		if err != nil {
			return fmt.Errorf("failed to read base directory: %w", err)
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(s.basePath, entry.Name())); err != nil {
				return fmt.Errorf("failed to delete %s: %w", entry.Name(), err)
			}
		}
		return nil
	}

	local, err := s.localPath(p)
	if err != nil {
		return err
	}
	if err = os.RemoveAll(local); err != nil && !notFound(err) {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return nil
}

func (s *FSContentStore) List(ctx context.Context) (files []path.Path, err error) {
	if err = s.check(ctx); err != nil {
		return nil, err
	}

	err = filepath.WalkDir(s.basePath, func(local string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, local)
		if err != nil {
			return err
		}
		p, err := path.Parse(path.Separator + filepath.ToSlash(rel))
		if err != nil {
			// Names the namespace cannot express are not served.
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	path.Sort(files)
	return files, nil
}

func (s *FSContentStore) PruneEmpty(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return fmt.Errorf("failed to read base directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if _, err := pruneDir(filepath.Join(s.basePath, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// pruneDir removes empty directories below and including dir, reporting
// whether dir itself was removed.
func pruneDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	remaining := len(entries)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		removed, err := pruneDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			return false, err
		}
		if removed {
			remaining--
		}
	}

	if remaining > 0 {
		return false, nil
	}
	if err := os.Remove(dir); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return true, nil
}

func (s *FSContentStore) Close() error {
	s.closed.Store(true)
	return nil
}
