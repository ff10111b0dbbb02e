package storage

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodfs/internal/protocol/rpc"
	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
)

func parsePath(s string) (path.Path, error) {
	p, err := path.Parse(s)
	if err != nil {
		return path.Path{}, dfs.NewInvalidArgument(err.Error(), s)
	}
	return p, nil
}

// DataProgram exposes data as the storage data program.
func DataProgram(data storage.Data) *rpc.Program {
	return &rpc.Program{
		Name:    "storage-data",
		Number:  rpc.ProgramStorageData,
		Version: rpc.Version1,
		Procedures: map[uint32]rpc.Procedure{
			ProcSize: rpc.Typed("SIZE", func(ctx context.Context, args *PathArgs) SizeResult {
				p, err := parsePath(args.Path)
				if err != nil {
					return SizeResult{Status: rpc.StatusOf(err)}
				}
				size, err := data.Size(ctx, p)
				return SizeResult{Status: rpc.StatusOf(err), Size: size}
			}),
			ProcRead: rpc.Typed("READ", func(ctx context.Context, args *ReadArgs) ReadResult {
				p, err := parsePath(args.Path)
				if err != nil {
					return ReadResult{Status: rpc.StatusOf(err), Data: []byte{}}
				}
				if args.Length > MaxReadLength {
					err := dfs.NewOutOfRange(fmt.Sprintf("read length %d exceeds %d", args.Length, MaxReadLength), p.String())
					return ReadResult{Status: rpc.StatusOf(err), Data: []byte{}}
				}
				buf, err := data.Read(ctx, p, args.Offset, args.Length)
				if buf == nil {
					buf = []byte{}
				}
				return ReadResult{Status: rpc.StatusOf(err), Data: buf}
			}),
			ProcWrite: rpc.Typed("WRITE", func(ctx context.Context, args *WriteArgs) StatusResult {
				p, err := parsePath(args.Path)
				if err != nil {
					return StatusResult{Status: rpc.StatusOf(err)}
				}
				return StatusResult{Status: rpc.StatusOf(data.Write(ctx, p, args.Offset, args.Data))}
			}),
		},
	}
}

// CommandProgram exposes command as the storage command program.
func CommandProgram(command storage.Command) *rpc.Program {
	boolCall := func(name string, op func(ctx context.Context, p path.Path) (bool, error)) rpc.Procedure {
		return rpc.Typed(name, func(ctx context.Context, args *PathArgs) BoolResult {
			p, err := parsePath(args.Path)
			if err != nil {
				return BoolResult{Status: rpc.StatusOf(err)}
			}
			ok, err := op(ctx, p)
			return BoolResult{Status: rpc.StatusOf(err), Value: ok}
		})
	}

	return &rpc.Program{
		Name:    "storage-command",
		Number:  rpc.ProgramStorageCommand,
		Version: rpc.Version1,
		Procedures: map[uint32]rpc.Procedure{
			ProcCreate: boolCall("CREATE", command.Create),
			ProcDelete: boolCall("DELETE", command.Delete),
			ProcCopy: rpc.Typed("COPY", func(ctx context.Context, args *CopyArgs) BoolResult {
				p, err := parsePath(args.Path)
				if err != nil {
					return BoolResult{Status: rpc.StatusOf(err)}
				}
				if args.SourceAddr == "" {
					return BoolResult{Status: rpc.StatusOf(dfs.NewInvalidArgument("null source handle", args.Path))}
				}
				ok, err := command.Copy(ctx, p, storage.DataHandle{Addr: args.SourceAddr})
				return BoolResult{Status: rpc.StatusOf(err), Value: ok}
			}),
		},
	}
}
