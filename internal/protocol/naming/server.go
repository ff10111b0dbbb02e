package naming

import (
	"context"

	"github.com/marmos91/dittodfs/internal/protocol/rpc"
	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/naming"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
)

// parsePath converts a wire path, reporting malformed input as
// ErrInvalidArgument.
func parsePath(s string) (path.Path, error) {
	p, err := path.Parse(s)
	if err != nil {
		return path.Path{}, dfs.NewInvalidArgument(err.Error(), s)
	}
	return p, nil
}

// ServiceProgram exposes svc as the naming service program.
func ServiceProgram(svc naming.Service) *rpc.Program {
	boolCall := func(name string, op func(ctx context.Context, p path.Path) (bool, error)) rpc.Procedure {
		return rpc.Typed(name, func(ctx context.Context, args *PathArgs) BoolResult {
			p, err := parsePath(args.Path)
			if err != nil {
				return BoolResult{Status: rpc.StatusOf(err)}
			}
			value, err := op(ctx, p)
			return BoolResult{Status: rpc.StatusOf(err), Value: value}
		})
	}

	lockCall := func(name string, op func(ctx context.Context, p path.Path, exclusive bool) error) rpc.Procedure {
		return rpc.Typed(name, func(ctx context.Context, args *LockArgs) StatusResult {
			p, err := parsePath(args.Path)
			if err != nil {
				return StatusResult{Status: rpc.StatusOf(err)}
			}
			return StatusResult{Status: rpc.StatusOf(op(ctx, p, args.Exclusive))}
		})
	}

	return &rpc.Program{
		Name:    "naming-service",
		Number:  rpc.ProgramNamingService,
		Version: rpc.Version1,
		Procedures: map[uint32]rpc.Procedure{
			ProcLock:            lockCall("LOCK", svc.Lock),
			ProcUnlock:          lockCall("UNLOCK", svc.Unlock),
			ProcIsDirectory:     boolCall("IS_DIRECTORY", svc.IsDirectory),
			ProcCreateFile:      boolCall("CREATE_FILE", svc.CreateFile),
			ProcCreateDirectory: boolCall("CREATE_DIRECTORY", svc.CreateDirectory),
			ProcDelete:          boolCall("DELETE", svc.Delete),
			ProcList: rpc.Typed("LIST", func(ctx context.Context, args *PathArgs) ListResult {
				p, err := parsePath(args.Path)
				if err != nil {
					return ListResult{Status: rpc.StatusOf(err)}
				}
				names, err := svc.List(ctx, p)
				if names == nil {
					names = []string{}
				}
				return ListResult{Status: rpc.StatusOf(err), Names: names}
			}),
			ProcGetStorage: rpc.Typed("GET_STORAGE", func(ctx context.Context, args *PathArgs) StorageResult {
				p, err := parsePath(args.Path)
				if err != nil {
					return StorageResult{Status: rpc.StatusOf(err)}
				}
				h, err := svc.GetStorage(ctx, p)
				return StorageResult{Status: rpc.StatusOf(err), Addr: h.Addr}
			}),
		},
	}
}

// RegistrationProgram exposes reg as the registration program.
func RegistrationProgram(reg naming.Registration) *rpc.Program {
	return &rpc.Program{
		Name:    "naming-registration",
		Number:  rpc.ProgramNamingRegistration,
		Version: rpc.Version1,
		Procedures: map[uint32]rpc.Procedure{
			ProcRegister: rpc.Typed("REGISTER", func(ctx context.Context, args *RegisterArgs) RegisterResult {
				files := make([]path.Path, 0, len(args.Files))
				for _, f := range args.Files {
					p, err := parsePath(f)
					if err != nil {
						return RegisterResult{Status: rpc.StatusOf(err), Duplicates: []string{}}
					}
					files = append(files, p)
				}

				dups, err := reg.Register(ctx,
					storage.DataHandle{Addr: args.DataAddr},
					storage.CommandHandle{Addr: args.CommandAddr},
					files)
				return RegisterResult{Status: rpc.StatusOf(err), Duplicates: path.Strings(dups)}
			}),
		},
	}
}
