// Package storage carries the two RPC programs of a storage node: the data
// program used by clients and peer nodes, and the command program used by
// the naming coordinator.
package storage

import "github.com/marmos91/dittodfs/internal/protocol/rpc"

// Data program procedures.
const (
	ProcSize  = 1
	ProcRead  = 2
	ProcWrite = 3
)

// MaxReadLength is the largest READ the data program serves. The reply,
// headers included, must fit in one rpc.MaxRecordSize record.
const MaxReadLength = rpc.MaxRecordSize - 64<<10

// Command program procedures.
const (
	ProcCreate = 1
	ProcDelete = 2
	ProcCopy   = 3
)

// PathArgs carries a single path.
type PathArgs struct {
	Path string
}

// SizeResult is the result of SIZE.
type SizeResult struct {
	Status rpc.Status
	Size   int64
}

// ReadArgs are the arguments of READ.
type ReadArgs struct {
	Path   string
	Offset int64
	Length int32
}

// ReadResult is the result of READ.
type ReadResult struct {
	Status rpc.Status
	Data   []byte
}

// WriteArgs are the arguments of WRITE.
type WriteArgs struct {
	Path   string
	Offset int64
	Data   []byte
}

// StatusResult is the result of WRITE.
type StatusResult struct {
	Status rpc.Status
}

// CopyArgs are the arguments of COPY.
type CopyArgs struct {
	Path       string
	SourceAddr string
}

// BoolResult is the result of CREATE, DELETE and COPY.
type BoolResult struct {
	Status rpc.Status
	Value  bool
}
