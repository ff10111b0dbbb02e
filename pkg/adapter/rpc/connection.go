package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/internal/protocol/rpc"
)

// RPCConnection serves the calls of one client connection.
type RPCConnection struct {
	server *RPCAdapter
	conn   net.Conn

	// writeMu serializes replies written by concurrent calls
	writeMu sync.Mutex

	// calls tracks calls in flight on this connection
	calls    sync.WaitGroup
	inFlight atomic.Int32
}

func NewRPCConnection(server *RPCAdapter, conn net.Conn) *RPCConnection {
	return &RPCConnection{
		server: server,
		conn:   conn,
	}
}

// Serve reads records until the client disconnects, the connection idles
// out, or the adapter shuts down.
//
// Each call runs in its own goroutine under a context that is cancelled
// when the connection ends, so a client that disconnects while waiting for
// a lock withdraws its request.
func (c *RPCConnection) Serve(ctx context.Context) {
	connCtx, cancel := context.WithCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in %s connection handler from %s: %v",
				c.server.config.Name, c.conn.RemoteAddr().String(), r)
		}
		cancel()
		c.calls.Wait()
		_ = c.conn.Close()
	}()

	clientAddr := c.conn.RemoteAddr().String()
	logger.Debug("New %s connection from %s", c.server.config.Name, clientAddr)

	for {
		select {
		case <-connCtx.Done():
			logger.Debug("Connection from %s closed due to context cancellation", clientAddr)
			return
		case <-c.server.shutdown:
			logger.Debug("Connection from %s closed due to server shutdown", clientAddr)
			return
		default:
		}

		c.armIdleDeadline()

		err := c.handleRecord(connCtx, clientAddr)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Connection from %s closed by client", clientAddr)
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug("Connection from %s timed out: %v", clientAddr, err)
			case errors.Is(err, net.ErrClosed):
				logger.Debug("Connection from %s closed", clientAddr)
			default:
				logger.Debug("Error handling record from %s: %v", clientAddr, err)
			}
			return
		}
	}
}

// armIdleDeadline sets the read deadline for the next record. With calls in
// flight the deadline is cleared: a client waiting on a lock is not idle.
func (c *RPCConnection) armIdleDeadline() {
	var deadline time.Time
	if c.server.config.IdleTimeout > 0 && c.inFlight.Load() == 0 {
		deadline = time.Now().Add(c.server.config.IdleTimeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		logger.Debug("Failed to set read deadline for %s: %v", c.conn.RemoteAddr(), err)
	}

	// Shutdown may have woken the reader between the check in Serve and
	// the deadline above.
	select {
	case <-c.server.shutdown:
		_ = c.conn.SetReadDeadline(time.Now())
	default:
	}
}

// handleRecord reads one record and starts its call.
func (c *RPCConnection) handleRecord(ctx context.Context, clientAddr string) error {
	record, err := rpc.ReadRecord(&deadlineReader{c: c}, rpc.MaxRecordSize)
	if err != nil {
		return err
	}
	c.server.metrics.RecordBytesTransferred("in", int64(len(record)+4))

	call, err := rpc.ReadCall(record)
	if err != nil {
		// Not an RPC call; nothing to reply to.
		logger.Debug("Error parsing RPC call from %s: %v", clientAddr, err)
		return nil
	}

	data, err := rpc.ReadData(record, call)
	if err != nil {
		logger.Debug("Error extracting call data from %s: %v", clientAddr, err)
		reply, mkErr := rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
		if mkErr != nil {
			return mkErr
		}
		return c.sendReply(call.XID, reply)
	}

	logger.Debug("RPC Call: XID=0x%x Program=0x%x Version=%d Procedure=%d",
		call.XID, call.Program, call.Version, call.Procedure)

	c.calls.Add(1)
	c.inFlight.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in %s call XID=0x%x from %s: %v",
					c.server.config.Name, call.XID, clientAddr, r)
			}
			if c.inFlight.Add(-1) == 0 {
				c.armIdleDeadline()
			}
			c.calls.Done()
		}()

		if err := c.handleRPCCall(ctx, call, data, clientAddr); err != nil {
			logger.Debug("Failed to reply to XID=0x%x from %s: %v", call.XID, clientAddr, err)
			_ = c.conn.Close()
		}
	}()

	return nil
}

// handleRPCCall dispatches one call and writes its reply.
func (c *RPCConnection) handleRPCCall(ctx context.Context, call *rpc.RPCCallMessage, data []byte, clientAddr string) error {
	program, ok := c.server.programs[call.Program]
	if !ok {
		logger.Debug("Unknown program 0x%x from %s", call.Program, clientAddr)
		reply, err := rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
		if err != nil {
			return err
		}
		return c.sendReply(call.XID, reply)
	}

	procName := program.ProcedureName(call.Procedure)

	if !c.server.allow(clientAddr) {
		logger.Debug("%s %s rate limited: xid=0x%x client=%s", program.Name, procName, call.XID, clientAddr)
		c.server.metrics.RecordRateLimited()
		reply, err := rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
		if err != nil {
			return err
		}
		return c.sendReply(call.XID, reply)
	}

	c.server.metrics.RecordRequestStart(procName)
	defer c.server.metrics.RecordRequestEnd(procName)

	startTime := time.Now()
	reply, handlerErr := program.Dispatch(ctx, call, data)
	c.server.metrics.RecordRequest(procName, time.Since(startTime), handlerErr)

	if reply == nil {
		return fmt.Errorf("no reply for %s %s: %w", program.Name, procName, handlerErr)
	}
	return c.sendReply(call.XID, reply)
}

// sendReply writes a framed reply under the connection's write lock.
func (c *RPCConnection) sendReply(xid uint32, reply []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.server.config.WriteTimeout > 0 {
		deadline := time.Now().Add(c.server.config.WriteTimeout)
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := c.conn.Write(reply); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}

	c.server.metrics.RecordBytesTransferred("out", int64(len(reply)))
	logger.Debug("Sent reply for XID=0x%x (%d bytes)", xid, len(reply))
	return nil
}

// deadlineReader applies ReadTimeout once the first byte of a record has
// arrived, so a stalled sender cannot hold a half-read record forever.
type deadlineReader struct {
	c       *RPCConnection
	started bool
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	n, err := r.c.conn.Read(p)
	if n > 0 && !r.started {
		r.started = true
		if t := r.c.server.config.ReadTimeout; t > 0 {
			_ = r.c.conn.SetReadDeadline(time.Now().Add(t))
		}
	}
	return n, err
}
