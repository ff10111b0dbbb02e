package storage

import (
	"context"

	"github.com/marmos91/dittodfs/internal/protocol/rpc"
	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/marmos91/dittodfs/pkg/path"
	"github.com/marmos91/dittodfs/pkg/storage"
)

// DataClient calls the data program of one storage node.
type DataClient struct {
	pool *rpc.Pool
	addr string
}

var _ storage.Data = (*DataClient)(nil)

func (c *DataClient) call(ctx context.Context, proc uint32, args, result any) error {
	return c.pool.Call(ctx, c.addr, rpc.ProgramStorageData, rpc.Version1, proc, args, result)
}

func (c *DataClient) Size(ctx context.Context, p path.Path) (int64, error) {
	var res SizeResult
	if err := c.call(ctx, ProcSize, &PathArgs{Path: p.String()}, &res); err != nil {
		return 0, err
	}
	if err := res.Status.Err(); err != nil {
		return 0, err
	}
	return res.Size, nil
}

func (c *DataClient) Read(ctx context.Context, p path.Path, offset int64, length int32) ([]byte, error) {
	var res ReadResult
	if err := c.call(ctx, ProcRead, &ReadArgs{Path: p.String(), Offset: offset, Length: length}, &res); err != nil {
		return nil, err
	}
	if err := res.Status.Err(); err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (c *DataClient) Write(ctx context.Context, p path.Path, offset int64, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	var res StatusResult
	if err := c.call(ctx, ProcWrite, &WriteArgs{Path: p.String(), Offset: offset, Data: data}, &res); err != nil {
		return err
	}
	return res.Status.Err()
}

// CommandClient calls the command program of one storage node.
type CommandClient struct {
	pool *rpc.Pool
	addr string
}

var _ storage.Command = (*CommandClient)(nil)

func (c *CommandClient) call(ctx context.Context, proc uint32, args any) (bool, error) {
	var res BoolResult
	if err := c.pool.Call(ctx, c.addr, rpc.ProgramStorageCommand, rpc.Version1, proc, args, &res); err != nil {
		return false, err
	}
	if err := res.Status.Err(); err != nil {
		return false, err
	}
	return res.Value, nil
}

func (c *CommandClient) Create(ctx context.Context, p path.Path) (bool, error) {
	return c.call(ctx, ProcCreate, &PathArgs{Path: p.String()})
}

func (c *CommandClient) Delete(ctx context.Context, p path.Path) (bool, error) {
	return c.call(ctx, ProcDelete, &PathArgs{Path: p.String()})
}

func (c *CommandClient) Copy(ctx context.Context, p path.Path, source storage.DataHandle) (bool, error) {
	return c.call(ctx, ProcCopy, &CopyArgs{Path: p.String(), SourceAddr: source.Addr})
}

// Dialer resolves handles to remote clients. Connections are shared per
// address through the pool and redialed after a failure.
type Dialer struct {
	pool *rpc.Pool
}

var _ storage.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer backed by pool.
func NewDialer(pool *rpc.Pool) *Dialer {
	return &Dialer{pool: pool}
}

// Data returns a client for the data program at h. No connection is made
// until the first call.
func (d *Dialer) Data(h storage.DataHandle) (storage.Data, error) {
	if h.IsZero() {
		return nil, dfs.NewInvalidArgument("null data handle", "")
	}
	return &DataClient{pool: d.pool, addr: h.Addr}, nil
}

// Command returns a client for the command program at h.
func (d *Dialer) Command(h storage.CommandHandle) (storage.Command, error) {
	if h.IsZero() {
		return nil, dfs.NewInvalidArgument("null command handle", "")
	}
	return &CommandClient{pool: d.pool, addr: h.Addr}, nil
}
