package rpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodfs/pkg/dfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Record marking
// ============================================================================

func fragment(last bool, payload []byte) []byte {
	header := uint32(len(payload))
	if last {
		header |= lastFragmentBit
	}
	out := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(out, header)
	return append(out, payload...)
}

func TestReadRecordReassemblesFragments(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(fragment(false, []byte("hello ")))
	stream.Write(fragment(false, []byte("fragmented ")))
	stream.Write(fragment(true, []byte("world")))
	stream.Write(Frame([]byte("next")))

	record, err := ReadRecord(&stream, MaxRecordSize)
	require.NoError(t, err)
	assert.Equal(t, "hello fragmented world", string(record))

	record, err = ReadRecord(&stream, MaxRecordSize)
	require.NoError(t, err)
	assert.Equal(t, "next", string(record))

	_, err = ReadRecord(&stream, MaxRecordSize)
	assert.Equal(t, io.EOF, err)
}

func TestReadRecordLimits(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(fragment(false, make([]byte, 10)))
	stream.Write(fragment(true, make([]byte, 10)))

	_, err := ReadRecord(&stream, 16)
	assert.ErrorContains(t, err, "record too large")
}

func TestReadRecordTruncated(t *testing.T) {
	stream := bytes.NewReader(fragment(false, []byte("abc")))

	_, err := ReadRecord(stream, MaxRecordSize)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	short := Frame([]byte("abcdef"))[:6]
	_, err = ReadRecord(bytes.NewReader(short), MaxRecordSize)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// ============================================================================
// Messages
// ============================================================================

func TestCallRoundTrip(t *testing.T) {
	args := []byte{0, 0, 0, 7}
	message, err := MakeCall(0xABCD, ProgramNamingService, Version1, 3, args)
	require.NoError(t, err)

	call, err := ReadCall(message)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xABCD), call.XID)
	assert.Equal(t, uint32(ProgramNamingService), call.Program)
	assert.Equal(t, uint32(3), call.Procedure)

	data, err := ReadData(message, call)
	require.NoError(t, err)
	assert.Equal(t, args, data)
}

func TestReadDataRejectsTruncatedAuth(t *testing.T) {
	message, err := MakeCall(1, ProgramStorageData, Version1, 1, nil)
	require.NoError(t, err)

	call, err := ReadCall(message)
	require.NoError(t, err)

	_, err = ReadData(message[:30], call)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReplyRoundTrip(t *testing.T) {
	framed, err := MakeSuccessReply(42, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	record, err := ReadRecord(bytes.NewReader(framed), MaxRecordSize)
	require.NoError(t, err)

	reply, err := ReadReply(record)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), reply.XID)
	assert.Equal(t, uint32(RPCSuccess), reply.AcceptStat)
	assert.Equal(t, []byte{1, 2, 3, 4}, reply.Body)

	framed, err = MakeErrorReply(43, RPCSystemErr)
	require.NoError(t, err)
	reply, err = ReadReply(framed[4:])
	require.NoError(t, err)
	assert.Equal(t, uint32(RPCSystemErr), reply.AcceptStat)
	assert.Empty(t, reply.Body)
}

func TestStatusMapping(t *testing.T) {
	assert.NoError(t, StatusOf(nil).Err())

	st := StatusOf(dfs.NewNotFound("path not found", "/a"))
	assert.Equal(t, uint32(dfs.ErrNotFound), st.Code)

	err := st.Err()
	assert.True(t, dfs.IsNotFound(err))
	assert.Equal(t, "path not found: /a", err.Error())

	assert.Equal(t, uint32(dfs.ErrCanceled), StatusOf(context.DeadlineExceeded).Code)
	assert.Equal(t, uint32(dfs.ErrIOFailure), StatusOf(io.ErrClosedPipe).Code)
}

// ============================================================================
// Dispatch
// ============================================================================

type echoArgs struct {
	Text  string
	Delay uint32 // milliseconds
}

type echoResult struct {
	Status Status
	Text   string
}

func echoProgram() *Program {
	return &Program{
		Name:    "echo",
		Number:  ProgramNamingService,
		Version: Version1,
		Procedures: map[uint32]Procedure{
			1: Typed("ECHO", func(ctx context.Context, args *echoArgs) echoResult {
				if args.Delay > 0 {
					time.Sleep(time.Duration(args.Delay) * time.Millisecond)
				}
				if args.Text == "" {
					return echoResult{Status: StatusOf(dfs.NewInvalidArgument("empty text", ""))}
				}
				return echoResult{Text: args.Text}
			}),
		},
	}
}

func dispatch(t *testing.T, p *Program, version, proc uint32, args []byte) *Reply {
	t.Helper()

	message, err := MakeCall(9, p.Number, version, proc, args)
	require.NoError(t, err)
	call, err := ReadCall(message)
	require.NoError(t, err)
	data, err := ReadData(message, call)
	require.NoError(t, err)

	framed, _ := p.Dispatch(context.Background(), call, data)
	require.NotNil(t, framed)

	reply, err := ReadReply(framed[4:])
	require.NoError(t, err)
	return reply
}

func TestDispatch(t *testing.T) {
	p := echoProgram()

	reply := dispatch(t, p, Version1, ProcNull, nil)
	assert.Equal(t, uint32(RPCSuccess), reply.AcceptStat)
	assert.Empty(t, reply.Body)

	reply = dispatch(t, p, Version1, 99, nil)
	assert.Equal(t, uint32(RPCProcUnavail), reply.AcceptStat)

	reply = dispatch(t, p, 2, 1, nil)
	assert.Equal(t, uint32(RPCProgMismatch), reply.AcceptStat)

	reply = dispatch(t, p, Version1, 1, []byte{0, 0})
	assert.Equal(t, uint32(RPCGarbageArgs), reply.AcceptStat)

	args, err := Encode(&echoArgs{Text: "hi"})
	require.NoError(t, err)
	reply = dispatch(t, p, Version1, 1, args)
	require.Equal(t, uint32(RPCSuccess), reply.AcceptStat)

	var res echoResult
	require.NoError(t, Decode(reply.Body, &res))
	assert.NoError(t, res.Status.Err())
	assert.Equal(t, "hi", res.Text)
	assert.Equal(t, "ECHO", p.ProcedureName(1))
	assert.Equal(t, "NULL", p.ProcedureName(ProcNull))
}

// ============================================================================
// Client
// ============================================================================

// serveProgram runs a minimal concurrent server for p on a loopback port.
func serveProgram(t *testing.T, p *Program) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var writeMu sync.Mutex
				for {
					record, err := ReadRecord(conn, MaxRecordSize)
					if err != nil {
						return
					}
					call, err := ReadCall(record)
					if err != nil {
						return
					}
					data, err := ReadData(record, call)
					if err != nil {
						return
					}
					go func() {
						reply, _ := p.Dispatch(context.Background(), call, data)
						writeMu.Lock()
						defer writeMu.Unlock()
						_, _ = conn.Write(reply)
					}()
				}
			}()
		}
	}()

	return ln.Addr().String()
}

func TestClientMultiplexesCalls(t *testing.T) {
	addr := serveProgram(t, echoProgram())

	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer c.Close()

	// The slow call is sent first but must not delay the fast one.
	slowDone := make(chan echoResult, 1)
	go func() {
		var res echoResult
		assert.NoError(t, c.Call(context.Background(), ProgramNamingService, Version1, 1,
			&echoArgs{Text: "slow", Delay: 300}, &res))
		slowDone <- res
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	var fast echoResult
	require.NoError(t, c.Call(context.Background(), ProgramNamingService, Version1, 1,
		&echoArgs{Text: "fast"}, &fast))
	assert.Equal(t, "fast", fast.Text)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	assert.Equal(t, "slow", (<-slowDone).Text)
}

func TestClientApplicationAndTransportErrors(t *testing.T) {
	addr := serveProgram(t, echoProgram())

	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer c.Close()

	var res echoResult
	require.NoError(t, c.Call(context.Background(), ProgramNamingService, Version1, 1, &echoArgs{}, &res))
	assert.True(t, dfs.IsInvalidArgument(res.Status.Err()))

	err = c.Call(context.Background(), ProgramNamingService, Version1, 77, nil, nil)
	assert.True(t, dfs.IsRPCFailure(err))
	assert.ErrorContains(t, err, "PROC_UNAVAIL")

	require.NoError(t, c.Call(context.Background(), ProgramNamingService, Version1, ProcNull, nil, nil))
}

func TestClientContextCancel(t *testing.T) {
	addr := serveProgram(t, echoProgram())

	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = c.Call(ctx, ProgramNamingService, Version1, 1, &echoArgs{Text: "x", Delay: 200}, &echoResult{})
	assert.Equal(t, dfs.ErrCanceled, dfs.CodeOf(err))
	assert.True(t, c.Alive(), "abandoning one call keeps the connection")
}

func TestClientServerGone(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	_ = ln.Close()

	require.Eventually(t, func() bool { return !c.Alive() }, 2*time.Second, 10*time.Millisecond)

	err = c.Call(context.Background(), ProgramNamingService, Version1, ProcNull, nil, nil)
	assert.True(t, dfs.IsRPCFailure(err))
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr)
	assert.True(t, dfs.IsRPCFailure(err))
}

func TestPoolReusesAndRedials(t *testing.T) {
	addr := serveProgram(t, echoProgram())

	pool := NewPool(time.Second)
	defer pool.Close()

	first, err := pool.Get(context.Background(), addr)
	require.NoError(t, err)
	second, err := pool.Get(context.Background(), addr)
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, first.Close())

	third, err := pool.Get(context.Background(), addr)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	var res echoResult
	require.NoError(t, pool.Call(context.Background(), addr, ProgramNamingService, Version1, 1, &echoArgs{Text: "again"}, &res))
	assert.Equal(t, "again", res.Text)
}
