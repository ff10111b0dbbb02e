// Package content defines the byte store behind a storage node.
//
// A Store maps canonical paths to file contents. Directories are part of the
// model only as far as the storage node needs them: a path is a directory
// when some file lives below it (and, for backends with real directories,
// when an empty directory was left behind and not yet pruned).
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodfs/pkg/path"
)

// Kind tells files and directories apart in Stat results.
type Kind int

const (
	KindFile Kind = iota + 1
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Info describes a path in a Store.
type Info struct {
	Kind Kind
	Size int64
}

// IsDir reports whether the path is a directory.
func (i Info) IsDir() bool { return i.Kind == KindDirectory }

// Store is the byte store of a storage node.
//
// Implementations must be safe for concurrent use. The storage node
// serializes mutations, so concurrent writers to one path need not be
// handled specially.
type Store interface {
	// Stat describes p. The root is always a directory.
	// Returns ErrNotFound when nothing exists at p.
	Stat(ctx context.Context, p path.Path) (Info, error)

	// ReadAt returns length bytes of the file at p starting at offset.
	// Returns ErrNotFound for missing files and directories, and
	// ErrOutOfRange when the range does not lie inside the file.
	ReadAt(ctx context.Context, p path.Path, offset int64, length int) ([]byte, error)

	// WriteAt writes data at offset, growing the file and zero-filling any
	// gap. The file must exist.
	WriteAt(ctx context.Context, p path.Path, offset int64, data []byte) error

	// Create creates an empty file at p along with any missing parent
	// directories. Returns ErrExists if p is taken and ErrNotDirectory if an
	// ancestor is a file.
	Create(ctx context.Context, p path.Path) error

	// Delete removes the file or the directory tree at p. Deleting a
	// missing path succeeds. Deleting the root empties the store.
	Delete(ctx context.Context, p path.Path) error

	// List returns every file in the store in path order.
	List(ctx context.Context) ([]path.Path, error)

	// PruneEmpty removes directories that contain no files.
	PruneEmpty(ctx context.Context) error

	// Close releases the backend. Further calls return ErrClosed.
	Close() error
}

// CheckCreate reports whether a file may be created at p in s: p must not
// be the root or an existing path, and no ancestor may be a file.
//
// Backends without real directories use it before writing the new key.
func CheckCreate(ctx context.Context, s Store, p path.Path) error {
	if p.IsRoot() {
		return fmt.Errorf("%s: %w", p, ErrExists)
	}

	if _, err := s.Stat(ctx, p); err == nil {
		return fmt.Errorf("%s: %w", p, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	chain := p.Ancestors()
	for _, ancestor := range chain[:len(chain)-1] {
		info, err := s.Stat(ctx, ancestor)
		if errors.Is(err, ErrNotFound) {
			// Nothing below a missing ancestor can exist either.
			return nil
		}
		if err != nil {
			return err
		}
		if info.Kind == KindFile {
			return fmt.Errorf("%s: %w", ancestor, ErrNotDirectory)
		}
	}
	return nil
}

// CheckRange validates a read of length bytes at offset from a file of the
// given size.
func CheckRange(p path.Path, size, offset int64, length int) error {
	if offset < 0 || length < 0 || offset+int64(length) > size {
		return fmt.Errorf("%s: read [%d, %d) of %d bytes: %w", p, offset, offset+int64(length), size, ErrOutOfRange)
	}
	return nil
}

// Grow returns buf extended with zeros so that data fits at offset, with
// data copied in.
func Grow(buf []byte, offset int64, data []byte) []byte {
	end := offset + int64(len(data))
	if end > int64(len(buf)) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], data)
	return buf
}
