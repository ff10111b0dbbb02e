// Package naming carries the naming coordinator's two RPC programs: the
// client-facing service program and the registration program used by
// storage nodes.
//
// Paths cross the wire in canonical string form and handles as plain
// addresses. Every result opens with an rpc.Status.
package naming

import "github.com/marmos91/dittodfs/internal/protocol/rpc"

// Service program procedures.
const (
	ProcLock            = 1
	ProcUnlock          = 2
	ProcIsDirectory     = 3
	ProcList            = 4
	ProcCreateFile      = 5
	ProcCreateDirectory = 6
	ProcDelete          = 7
	ProcGetStorage      = 8
)

// Registration program procedures.
const (
	ProcRegister = 1
)

// PathArgs carries a single path.
type PathArgs struct {
	Path string
}

// LockArgs are the arguments of LOCK and UNLOCK.
type LockArgs struct {
	Path      string
	Exclusive bool
}

// StatusResult is the result of calls without a value.
type StatusResult struct {
	Status rpc.Status
}

// BoolResult is the result of IS_DIRECTORY, CREATE_FILE, CREATE_DIRECTORY
// and DELETE.
type BoolResult struct {
	Status rpc.Status
	Value  bool
}

// ListResult is the result of LIST.
type ListResult struct {
	Status rpc.Status
	Names  []string
}

// StorageResult is the result of GET_STORAGE.
type StorageResult struct {
	Status rpc.Status
	Addr   string
}

// RegisterArgs are the arguments of REGISTER.
type RegisterArgs struct {
	DataAddr    string
	CommandAddr string
	Files       []string
}

// RegisterResult is the result of REGISTER.
type RegisterResult struct {
	Status     rpc.Status
	Duplicates []string
}
