package rpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/dfs"
)

type callResult struct {
	reply *Reply
	err   error
}

// Client is one TCP connection to an RPC server. Calls are multiplexed by
// XID, so a blocked call (a Lock waiting in a queue) does not hold up other
// calls on the same connection.
//
// Every failure of the transport itself surfaces as dfs.ErrRPCFailure.
type Client struct {
	addr string
	conn net.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint32]chan callResult

	xid atomic.Uint32

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dfs.NewRPCFailure("dial %s: %v", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection and starts its reader.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		addr:    conn.RemoteAddr().String(),
		conn:    conn,
		pending: make(map[uint32]chan callResult),
		closed:  make(chan struct{}),
	}

	// Random starting XID so a reconnecting client does not collide with
	// replies still in flight for its previous connection.
	seed := uuid.New()
	c.xid.Store(binary.BigEndian.Uint32(seed[:4]))

	go c.readLoop()
	return c
}

// Addr returns the remote address.
func (c *Client) Addr() string { return c.addr }

// Alive reports whether the connection is still usable.
func (c *Client) Alive() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Close tears down the connection. Pending calls fail with ErrRPCFailure.
func (c *Client) Close() error {
	c.fail(net.ErrClosed)
	return nil
}

// Call invokes procedure of program/version with args and decodes the result
// body into result. Either may be nil.
func (c *Client) Call(ctx context.Context, program, version, procedure uint32, args any, result any) error {
	var argData []byte
	if args != nil {
		var err error
		if argData, err = Encode(args); err != nil {
			return dfs.NewRPCFailure("encode arguments: %v", err)
		}
	}

	xid := c.xid.Add(1)
	message, err := MakeCall(xid, program, version, procedure, argData)
	if err != nil {
		return dfs.NewRPCFailure("build call: %v", err)
	}
	if len(message) > MaxRecordSize {
		return dfs.NewRPCFailure("call of %d bytes exceeds record limit", len(message))
	}

	ch := make(chan callResult, 1)
	c.mu.Lock()
	if !c.Alive() {
		c.mu.Unlock()
		return c.closedError()
	}
	c.pending[xid] = ch
	c.mu.Unlock()

	if err := c.write(ctx, Frame(message)); err != nil {
		c.forget(xid)
		c.fail(err)
		return dfs.NewRPCFailure("send to %s: %v", c.addr, err)
	}

	var res callResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		c.forget(xid)
		return &dfs.Error{Code: dfs.ErrCanceled, Message: fmt.Sprintf("call to %s abandoned (%v)", c.addr, ctx.Err())}
	case <-c.closed:
		// A reply may have raced with the close.
		select {
		case res = <-ch:
		default:
			return c.closedError()
		}
	}

	if res.err != nil {
		return res.err
	}

	reply := res.reply
	if reply.ReplyState != RPCMsgAccepted {
		return dfs.NewRPCFailure("call to %s denied", c.addr)
	}
	if reply.AcceptStat != RPCSuccess {
		return dfs.NewRPCFailure("call to %s failed: %s", c.addr, AcceptStatName(reply.AcceptStat))
	}

	if result != nil {
		if err := Decode(reply.Body, result); err != nil {
			return dfs.NewRPCFailure("decode reply from %s: %v", c.addr, err)
		}
	}
	return nil
}

func (c *Client) write(ctx context.Context, record []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	_, err := c.conn.Write(record)
	return err
}

func (c *Client) forget(xid uint32) {
	c.mu.Lock()
	delete(c.pending, xid)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for {
		record, err := ReadRecord(c.conn, MaxRecordSize)
		if err != nil {
			c.fail(err)
			return
		}

		reply, err := ReadReply(record)
		if err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[reply.XID]
		delete(c.pending, reply.XID)
		c.mu.Unlock()

		if !ok {
			logger.Debug("Dropping reply for unknown XID=0x%x from %s", reply.XID, c.addr)
			continue
		}
		ch <- callResult{reply: reply}
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		close(c.closed)
		c.mu.Unlock()

		_ = c.conn.Close()

		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
			logger.Debug("RPC connection to %s closed: %v", c.addr, err)
		}
	})
}

func (c *Client) closedError() error {
	c.mu.Lock()
	err := c.closeErr
	c.mu.Unlock()
	return dfs.NewRPCFailure("connection to %s closed (%v)", c.addr, err)
}

// Pool caches one Client per address and redials when a cached connection
// has died.
type Pool struct {
	dialTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a Pool. dialTimeout bounds each connection attempt;
// 0 means 5 seconds.
func NewPool(dialTimeout time.Duration) *Pool {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &Pool{
		dialTimeout: dialTimeout,
		clients:     make(map[string]*Client),
	}
}

// Get returns a live client for addr, dialing if needed.
func (p *Pool) Get(ctx context.Context, addr string) (*Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[addr]; ok && c.Alive() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	c, err := Dial(dialCtx, addr)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have dialed concurrently; keep the first live one.
	if existing, ok := p.clients[addr]; ok && existing.Alive() {
		_ = c.Close()
		return existing, nil
	}
	p.clients[addr] = c
	return c, nil
}

// Call runs one call against addr through a pooled client.
func (p *Pool) Call(ctx context.Context, addr string, program, version, procedure uint32, args any, result any) error {
	c, err := p.Get(ctx, addr)
	if err != nil {
		return err
	}
	return c.Call(ctx, program, version, procedure, args, result)
}

// Close closes every cached client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, c := range p.clients {
		_ = c.Close()
		delete(p.clients, addr)
	}
	return nil
}
