// Package storage defines the contracts a storage node exposes to clients and
// to the naming coordinator.
//
// A storage node serves two interfaces. Data is the read path used by
// clients and by other storage nodes during replication. Command is the
// mutation path used only by the naming coordinator. Both are addressed by
// handles, which are plain network addresses; a Dialer turns a handle into a
// callable implementation.
package storage

import (
	"context"

	"github.com/marmos91/dittodfs/pkg/path"
)

// DataHandle identifies the data interface of a storage node.
//
// Handles are comparable and may be used as map keys. The zero value is the
// null handle.
type DataHandle struct {
	Addr string
}

// IsZero reports whether h is the null handle.
func (h DataHandle) IsZero() bool { return h.Addr == "" }

func (h DataHandle) String() string { return "data@" + h.Addr }

// CommandHandle identifies the command interface of a storage node.
type CommandHandle struct {
	Addr string
}

// IsZero reports whether h is the null handle.
func (h CommandHandle) IsZero() bool { return h.Addr == "" }

func (h CommandHandle) String() string { return "command@" + h.Addr }

// Data is the read/write interface of a storage node.
type Data interface {
	// Size returns the length of the file in bytes.
	// Fails with ErrNotFound if the file does not exist or is a directory.
	Size(ctx context.Context, p path.Path) (int64, error)

	// Read returns length bytes starting at offset.
	// Fails with ErrNotFound if the file is missing and ErrOutOfRange if
	// offset or length is negative or offset+length exceeds the file size.
	Read(ctx context.Context, p path.Path, offset int64, length int32) ([]byte, error)

	// Write stores data at offset, extending the file if needed.
	// Fails with ErrNotFound if the file is missing and ErrOutOfRange if
	// offset is negative.
	Write(ctx context.Context, p path.Path, offset int64, data []byte) error
}

// Command is the mutation interface of a storage node.
type Command interface {
	// Create creates an empty file, along with any missing parent
	// directories. Returns false if the path is root or already exists.
	Create(ctx context.Context, p path.Path) (bool, error)

	// Delete removes a file, or a directory and everything below it.
	// Returns false only for root.
	Delete(ctx context.Context, p path.Path) (bool, error)

	// Copy replaces the local copy of p with the file served by source.
	Copy(ctx context.Context, p path.Path, source DataHandle) (bool, error)
}

// Dialer resolves handles to callable interfaces.
type Dialer interface {
	Data(h DataHandle) (Data, error)
	Command(h CommandHandle) (Command, error)
}
