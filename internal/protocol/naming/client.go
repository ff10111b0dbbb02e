package naming

import (
	"context"

	"github.com/marmos91/dittodfs/internal/protocol/rpc"
	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/naming"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
)

// ServiceClient calls a remote naming service. It implements naming.Service.
type ServiceClient struct {
	pool *rpc.Pool
	addr string
}

var _ naming.Service = (*ServiceClient)(nil)

// NewServiceClient returns a client for the service program at addr.
// Connections come from pool.
func NewServiceClient(pool *rpc.Pool, addr string) *ServiceClient {
	return &ServiceClient{pool: pool, addr: addr}
}

func (c *ServiceClient) call(ctx context.Context, proc uint32, args, result any) error {
	return c.pool.Call(ctx, c.addr, rpc.ProgramNamingService, rpc.Version1, proc, args, result)
}

func (c *ServiceClient) lockCall(ctx context.Context, proc uint32, p path.Path, exclusive bool) error {
	var res StatusResult
	if err := c.call(ctx, proc, &LockArgs{Path: p.String(), Exclusive: exclusive}, &res); err != nil {
		return err
	}
	return res.Status.Err()
}

func (c *ServiceClient) boolCall(ctx context.Context, proc uint32, p path.Path) (bool, error) {
	var res BoolResult
	if err := c.call(ctx, proc, &PathArgs{Path: p.String()}, &res); err != nil {
		return false, err
	}
	if err := res.Status.Err(); err != nil {
		return false, err
	}
	return res.Value, nil
}

// Lock locks p on the coordinator.
//
// Cancelling ctx only stops waiting for the reply. The coordinator keeps the
// request queued and may grant it later, and the grant is then held until
// the coordinator restarts. An Unlock cannot safely compensate, because the
// caller does not know whether the grant happened.
func (c *ServiceClient) Lock(ctx context.Context, p path.Path, exclusive bool) error {
	return c.lockCall(ctx, ProcLock, p, exclusive)
}

func (c *ServiceClient) Unlock(ctx context.Context, p path.Path, exclusive bool) error {
	return c.lockCall(ctx, ProcUnlock, p, exclusive)
}

func (c *ServiceClient) IsDirectory(ctx context.Context, p path.Path) (bool, error) {
	return c.boolCall(ctx, ProcIsDirectory, p)
}

func (c *ServiceClient) List(ctx context.Context, dir path.Path) ([]string, error) {
	var res ListResult
	if err := c.call(ctx, ProcList, &PathArgs{Path: dir.String()}, &res); err != nil {
		return nil, err
	}
	if err := res.Status.Err(); err != nil {
		return nil, err
	}
	return res.Names, nil
}

func (c *ServiceClient) CreateFile(ctx context.Context, p path.Path) (bool, error) {
	return c.boolCall(ctx, ProcCreateFile, p)
}

func (c *ServiceClient) CreateDirectory(ctx context.Context, p path.Path) (bool, error) {
	return c.boolCall(ctx, ProcCreateDirectory, p)
}

func (c *ServiceClient) Delete(ctx context.Context, p path.Path) (bool, error) {
	return c.boolCall(ctx, ProcDelete, p)
}

func (c *ServiceClient) GetStorage(ctx context.Context, p path.Path) (storage.DataHandle, error) {
	var res StorageResult
	if err := c.call(ctx, ProcGetStorage, &PathArgs{Path: p.String()}, &res); err != nil {
		return storage.DataHandle{}, err
	}
	if err := res.Status.Err(); err != nil {
		return storage.DataHandle{}, err
	}
	return storage.DataHandle{Addr: res.Addr}, nil
}

// RegistrationClient calls a remote registration program. It implements
// naming.Registration.
type RegistrationClient struct {
	pool *rpc.Pool
	addr string
}

var _ naming.Registration = (*RegistrationClient)(nil)

// NewRegistrationClient returns a client for the registration program at addr.
func NewRegistrationClient(pool *rpc.Pool, addr string) *RegistrationClient {
	return &RegistrationClient{pool: pool, addr: addr}
}

func (c *RegistrationClient) Register(ctx context.Context, data storage.DataHandle, command storage.CommandHandle, files []path.Path) ([]path.Path, error) {
	args := &RegisterArgs{
		DataAddr:    data.Addr,
		CommandAddr: command.Addr,
		Files:       path.Strings(files),
	}

	var res RegisterResult
	if err := c.pool.Call(ctx, c.addr, rpc.ProgramNamingRegistration, rpc.Version1, ProcRegister, args, &res); err != nil {
		return nil, err
	}
	if err := res.Status.Err(); err != nil {
		return nil, err
	}

	dups, err := path.ParseAll(res.Duplicates)
	if err != nil {
		return nil, dfs.NewRPCFailure("malformed duplicate list from %s: %v", c.addr, err)
	}
	return dups, nil
}
