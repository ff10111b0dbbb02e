package content

import "errors"

// ============================================================================
// Standard Content Store Errors
// ============================================================================

// Backends wrap these sentinels with the offending path:
//
//	return fmt.Errorf("%s: %w", p, content.ErrNotFound)
//
// The storage node maps them to dfs error codes with errors.Is before a
// failure crosses the wire.
var (
	// ErrNotFound indicates no file exists at the path. Directories are
	// reported as ErrNotFound by every operation that needs a file.
	ErrNotFound = errors.New("file not found")

	// ErrExists indicates a file or directory already occupies the path.
	ErrExists = errors.New("path already exists")

	// ErrNotDirectory indicates an ancestor of the path is a file.
	ErrNotDirectory = errors.New("ancestor is not a directory")

	// ErrOutOfRange indicates a negative offset or length, or a read past
	// the end of the file.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrInvalidName indicates a path component the backend cannot store,
	// such as "." or ".." on a filesystem.
	ErrInvalidName = errors.New("invalid name for backend")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("content store is closed")
)
