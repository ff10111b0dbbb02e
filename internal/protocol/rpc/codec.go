package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodfs/pkg/dfs"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Encode marshals v with XDR.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("xdr encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Decode unmarshals data into v, which must be a pointer.
func Decode(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("xdr decode %T: %w", v, err)
	}
	return nil
}

// Status opens every result body. Code 0 means success; any other value is
// a dfs.ErrorCode.
type Status struct {
	Code    uint32
	Message string
	Path    string
}

// OK is the success status.
var OK = Status{}

// StatusOf converts a handler error to its wire form. Errors that are not
// *dfs.Error are reported as I/O failures, except context errors which
// become ErrCanceled.
func StatusOf(err error) Status {
	if err == nil {
		return OK
	}

	var e *dfs.Error
	if errors.As(err, &e) {
		return Status{Code: uint32(e.Code), Message: e.Message, Path: e.Path}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Status{Code: uint32(dfs.ErrCanceled), Message: err.Error()}
	}
	return Status{Code: uint32(dfs.ErrIOFailure), Message: err.Error()}
}

// Err converts a received status back into an error.
func (s Status) Err() error {
	if s.Code == 0 {
		return nil
	}
	return &dfs.Error{Code: dfs.ErrorCode(s.Code), Message: s.Message, Path: s.Path}
}
