package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// ErrMalformed reports a record that does not parse as an RPC message.
var ErrMalformed = errors.New("malformed RPC message")

// ReadCall parses the header of a call record.
func ReadCall(data []byte) (*RPCCallMessage, error) {
	call := &RPCCallMessage{}
	_, err := xdr.Unmarshal(bytes.NewReader(data), call)
	if err != nil {
		return nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}

	if call.MsgType != RPCCall {
		return nil, fmt.Errorf("expected CALL (0), got %d", call.MsgType)
	}

	return call, nil
}

// ReadData returns the procedure arguments that follow the call header.
// The result is a slice into message.
func ReadData(message []byte, call *RPCCallMessage) ([]byte, error) {
	// XID, MsgType, RPCVersion, Program, Version, Procedure = 6 * 4 bytes
	offset := 24

	for _, name := range []string{"credential", "verifier"} {
		if offset+8 > len(message) {
			return nil, fmt.Errorf("%w: truncated %s", ErrMalformed, name)
		}
		offset += 4 // flavor
		length := binary.BigEndian.Uint32(message[offset : offset+4])
		offset += 4 + int(length) + int(XdrPadding(length))
	}

	if offset > len(message) {
		return nil, fmt.Errorf("%w: auth body exceeds message", ErrMalformed)
	}

	return message[offset:], nil
}

// MakeCall builds an unframed call record with AUTH_NULL credentials.
func MakeCall(xid, program, version, procedure uint32, args []byte) ([]byte, error) {
	call := RPCCallMessage{
		XID:        xid,
		MsgType:    RPCCall,
		RPCVersion: RPCVersion2,
		Program:    program,
		Version:    version,
		Procedure:  procedure,
		Cred:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
		Verf:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
	}

	buf := bytes.NewBuffer(make([]byte, 0, 40+len(args)))
	if _, err := xdr.Marshal(buf, &call); err != nil {
		return nil, fmt.Errorf("marshal call: %w", err)
	}
	buf.Write(args)

	return buf.Bytes(), nil
}

// MakeSuccessReply builds a framed SUCCESS reply carrying data.
func MakeSuccessReply(xid uint32, data []byte) ([]byte, error) {
	return makeReply(xid, RPCSuccess, data)
}

// MakeErrorReply builds a framed accepted reply with a non-success status
// and no body.
//
// Example usage:
//
//	// Rate limit exceeded - send system error
//	reply, err := rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	return makeReply(xid, acceptStat, nil)
}

// MakeMismatchReply builds a framed PROG_MISMATCH reply advertising the
// supported version range.
func MakeMismatchReply(xid uint32, low, high uint32) ([]byte, error) {
	var body [8]byte
	binary.BigEndian.PutUint32(body[0:4], low)
	binary.BigEndian.PutUint32(body[4:8], high)
	return makeReply(xid, RPCProgMismatch, body[:])
}

func makeReply(xid uint32, acceptStat uint32, data []byte) ([]byte, error) {
	reply := RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		Verf: OpaqueAuth{
			Flavor: AuthNull,
			Body:   []byte{},
		},
		AcceptStat: acceptStat,
	}

	// Reserve the fragment header; it is filled in once the length is known.
	buf := bytes.NewBuffer(make([]byte, 4, 4+28+len(data)))

	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	buf.Write(data)

	record := buf.Bytes()
	binary.BigEndian.PutUint32(record[0:4], lastFragmentBit|uint32(len(record)-4))
	return record, nil
}

// ReadReply parses a reply record as received by a client.
func ReadReply(record []byte) (*Reply, error) {
	if len(record) < 12 {
		return nil, fmt.Errorf("%w: reply too short (%d bytes)", ErrMalformed, len(record))
	}

	reply := &Reply{
		XID:        binary.BigEndian.Uint32(record[0:4]),
		ReplyState: binary.BigEndian.Uint32(record[8:12]),
	}
	if msgType := binary.BigEndian.Uint32(record[4:8]); msgType != RPCReply {
		return nil, fmt.Errorf("%w: expected REPLY (1), got %d", ErrMalformed, msgType)
	}

	if reply.ReplyState != RPCMsgAccepted {
		// MSG_DENIED: reject_stat and its arms carry nothing we act on.
		return reply, nil
	}

	offset := 12
	if offset+8 > len(record) {
		return nil, fmt.Errorf("%w: truncated verifier", ErrMalformed)
	}
	verfLen := binary.BigEndian.Uint32(record[offset+4 : offset+8])
	offset += 8 + int(verfLen) + int(XdrPadding(verfLen))

	if offset+4 > len(record) {
		return nil, fmt.Errorf("%w: truncated accept status", ErrMalformed)
	}
	reply.AcceptStat = binary.BigEndian.Uint32(record[offset : offset+4])
	reply.Body = record[offset+4:]

	return reply, nil
}

// XdrPadding calculates the number of padding bytes needed for XDR alignment.
//
// Padding Formula: (4 - (length % 4)) % 4
func XdrPadding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}
