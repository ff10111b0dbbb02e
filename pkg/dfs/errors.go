// Package dfs holds the error taxonomy shared by the naming coordinator, the
// storage nodes and the wire protocol.
package dfs

import (
	"errors"
	"fmt"
)

// Error represents a domain error from a naming or storage operation.
//
// Errors cross the wire with their code intact, so a client sees the same
// ErrorCode the server produced. Transport problems are reported with
// ErrRPCFailure and never mixed up with application errors.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the namespace path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// Is makes errors.Is match any *Error carrying the same code, so callers can
// write errors.Is(err, &dfs.Error{Code: dfs.ErrNotFound}).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// ErrorCode represents the category of an Error.
//
// The numeric values are part of the wire protocol. Zero is reserved for
// success and is never used by an Error.
type ErrorCode uint32

const (
	// ErrInvalidArgument indicates a null or malformed path, a malformed
	// component, or re-registration of a storage node
	ErrInvalidArgument ErrorCode = iota + 1

	// ErrNotFound indicates the path is absent from the relevant set, a
	// parent directory is missing, or a file refers to a directory
	ErrNotFound

	// ErrAlreadyExists indicates the path is already taken.
	// Create operations report this as a false result instead.
	ErrAlreadyExists

	// ErrRPCFailure indicates the transport failed to deliver a call or its reply
	ErrRPCFailure

	// ErrIOFailure indicates the storage backend failed to read or write bytes
	ErrIOFailure

	// ErrOutOfRange indicates a negative offset or length, or a read past
	// the end of the file
	ErrOutOfRange

	// ErrUnavailable indicates no storage node can serve the request
	ErrUnavailable

	// ErrCanceled indicates the call was abandoned before completion,
	// typically because a lock wait deadline expired or the server is
	// shutting down
	ErrCanceled
)

func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrRPCFailure:
		return "RPCFailure"
	case ErrIOFailure:
		return "IOFailure"
	case ErrOutOfRange:
		return "OutOfRange"
	case ErrUnavailable:
		return "Unavailable"
	case ErrCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint32(c))
	}
}

// NewInvalidArgument returns an ErrInvalidArgument error.
func NewInvalidArgument(message, path string) *Error {
	return &Error{Code: ErrInvalidArgument, Message: message, Path: path}
}

// NewNotFound returns an ErrNotFound error.
func NewNotFound(message, path string) *Error {
	return &Error{Code: ErrNotFound, Message: message, Path: path}
}

// NewOutOfRange returns an ErrOutOfRange error.
func NewOutOfRange(message, path string) *Error {
	return &Error{Code: ErrOutOfRange, Message: message, Path: path}
}

// NewIOFailure wraps a backend error as ErrIOFailure.
func NewIOFailure(path string, err error) *Error {
	return &Error{Code: ErrIOFailure, Message: fmt.Sprintf("i/o failure (%v)", err), Path: path}
}

// NewRPCFailure wraps a transport error as ErrRPCFailure.
func NewRPCFailure(format string, args ...any) *Error {
	return &Error{Code: ErrRPCFailure, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain.
// It returns 0 when err is nil or carries no *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == ErrNotFound }

// IsInvalidArgument reports whether err carries ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return CodeOf(err) == ErrInvalidArgument }

// IsRPCFailure reports whether err carries ErrRPCFailure.
func IsRPCFailure(err error) bool { return CodeOf(err) == ErrRPCFailure }

// IsOutOfRange reports whether err carries ErrOutOfRange.
func IsOutOfRange(err error) bool { return CodeOf(err) == ErrOutOfRange }
