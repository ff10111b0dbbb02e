package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodfs/internal/logger"
)

// ErrGarbageArgs marks a handler failure caused by undecodable arguments.
var ErrGarbageArgs = errors.New("garbage arguments")

// Handler runs one procedure on raw XDR arguments and returns the raw XDR
// result. Application errors belong in the result's Status; a returned
// error means the call itself could not be served.
type Handler func(ctx context.Context, args []byte) ([]byte, error)

// Procedure is one entry of a program's dispatch table.
type Procedure struct {
	Name    string
	Handler Handler
}

// Program is a dispatch table for one RPC program version.
type Program struct {
	Name       string
	Number     uint32
	Version    uint32
	Procedures map[uint32]Procedure
}

// Typed adapts a function on decoded arguments into a Procedure.
// Decoding failures are reported as ErrGarbageArgs.
func Typed[A any, R any](name string, fn func(ctx context.Context, args *A) R) Procedure {
	return Procedure{
		Name: name,
		Handler: func(ctx context.Context, data []byte) ([]byte, error) {
			args := new(A)
			if err := Decode(data, args); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrGarbageArgs, name, err)
			}

			result := fn(ctx, args)
			return Encode(&result)
		},
	}
}

// ProcedureName returns the name of proc, "NULL" for procedure 0 and
// "UNKNOWN" otherwise.
func (p *Program) ProcedureName(proc uint32) string {
	if proc == ProcNull {
		return "NULL"
	}
	if info, ok := p.Procedures[proc]; ok {
		return info.Name
	}
	return "UNKNOWN"
}

// Dispatch runs the call and returns the framed reply. The returned error is
// the handler error, if any, for metrics; a reply is produced regardless.
func (p *Program) Dispatch(ctx context.Context, call *RPCCallMessage, data []byte) ([]byte, error) {
	if call.Version != p.Version {
		logger.Debug("%s: version mismatch: got %d, serving %d", p.Name, call.Version, p.Version)
		reply, err := MakeMismatchReply(call.XID, p.Version, p.Version)
		if err != nil {
			return nil, err
		}
		return reply, fmt.Errorf("program version mismatch: %d", call.Version)
	}

	if call.Procedure == ProcNull {
		return MakeSuccessReply(call.XID, nil)
	}

	proc, ok := p.Procedures[call.Procedure]
	if !ok {
		logger.Debug("%s: unknown procedure %d", p.Name, call.Procedure)
		reply, err := MakeErrorReply(call.XID, RPCProcUnavail)
		if err != nil {
			return nil, err
		}
		return reply, fmt.Errorf("procedure unavailable: %d", call.Procedure)
	}

	result, handlerErr := proc.Handler(ctx, data)
	if handlerErr != nil {
		stat := uint32(RPCSystemErr)
		if errors.Is(handlerErr, ErrGarbageArgs) {
			stat = RPCGarbageArgs
		}
		logger.Debug("%s %s failed: xid=0x%x stat=%s err=%v",
			p.Name, proc.Name, call.XID, AcceptStatName(stat), handlerErr)

		reply, err := MakeErrorReply(call.XID, stat)
		if err != nil {
			return nil, err
		}
		return reply, handlerErr
	}

	reply, err := MakeSuccessReply(call.XID, result)
	if err != nil {
		return nil, err
	}
	return reply, nil
}
