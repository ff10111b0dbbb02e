// Package memory implements an in-memory content store.
//
// Data is lost on restart. Directories are implicit: a directory exists while
// some file lives below it, so PruneEmpty has nothing to do.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/store/content"
)

// MemoryContentStore keeps file contents in a map keyed by canonical path.
type MemoryContentStore struct {
	mu     sync.RWMutex
	files  map[string]*file
	closed bool
}

type file struct {
	path path.Path
	data []byte
}

var _ content.Store = (*MemoryContentStore)(nil)

// NewMemoryContentStore returns an empty store.
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{files: make(map[string]*file)}
}

func (s *MemoryContentStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return content.ErrClosed
	}
	return nil
}

func (s *MemoryContentStore) Stat(ctx context.Context, p path.Path) (content.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return content.Info{}, err
	}
	return s.statLocked(p)
}

func (s *MemoryContentStore) statLocked(p path.Path) (content.Info, error) {
	if p.IsRoot() {
		return content.Info{Kind: content.KindDirectory}, nil
	}
	if f, ok := s.files[p.Key()]; ok {
		return content.Info{Kind: content.KindFile, Size: int64(len(f.data))}, nil
	}
	for _, f := range s.files {
		if f.path.IsSubpath(p) {
			return content.Info{Kind: content.KindDirectory}, nil
		}
	}
	return content.Info{}, fmt.Errorf("%s: %w", p, content.ErrNotFound)
}

func (s *MemoryContentStore) ReadAt(ctx context.Context, p path.Path, offset int64, length int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	f, ok := s.files[p.Key()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, content.ErrNotFound)
	}
	if err := content.CheckRange(p, int64(len(f.data)), offset, length); err != nil {
		return nil, err
	}

	out := make([]byte, length)
	copy(out, f.data[offset:])
	return out, nil
}

func (s *MemoryContentStore) WriteAt(ctx context.Context, p path.Path, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	f, ok := s.files[p.Key()]
	if !ok {
		return fmt.Errorf("%s: %w", p, content.ErrNotFound)
	}
	if offset < 0 {
		return fmt.Errorf("%s: negative offset %d: %w", p, offset, content.ErrOutOfRange)
	}

	f.data = content.Grow(f.data, offset, data)
	return nil
}

func (s *MemoryContentStore) Create(ctx context.Context, p path.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}
	if err := content.CheckCreate(ctx, lockedView{s}, p); err != nil {
		return err
	}

	s.files[p.Key()] = &file{path: p, data: []byte{}}
	return nil
}

func (s *MemoryContentStore) Delete(ctx context.Context, p path.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	for key, f := range s.files {
		if f.path.IsSubpath(p) {
			delete(s.files, key)
		}
	}
	return nil
}

func (s *MemoryContentStore) List(ctx context.Context) ([]path.Path, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	out := make([]path.Path, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f.path)
	}
	path.Sort(out)
	return out, nil
}

func (s *MemoryContentStore) PruneEmpty(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

func (s *MemoryContentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.files = nil
	return nil
}

// lockedView lets CheckCreate stat the store while the write lock is held.
type lockedView struct {
	*MemoryContentStore
}

func (v lockedView) Stat(_ context.Context, p path.Path) (content.Info, error) {
	return v.statLocked(p)
}
