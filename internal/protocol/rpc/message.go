package rpc

// RPCCallMessage is the fixed header of an ONC-RPC call.
// Procedure arguments follow it in the record.
type RPCCallMessage struct {
	XID        uint32
	MsgType    uint32 // 0 = CALL
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
}

// RPCReplyMessage is the header of an accepted ONC-RPC reply.
type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32 // 1 = REPLY
	ReplyState uint32 // 0 = MSG_ACCEPTED
	Verf       OpaqueAuth
	AcceptStat uint32 // 0 = SUCCESS
	// Reply data follows
}

type OpaqueAuth struct {
	Flavor uint32
	Body   []byte `xdr:"opaque"`
}

// Reply is a parsed reply as seen by a client.
type Reply struct {
	XID        uint32
	ReplyState uint32
	AcceptStat uint32

	// Body holds the procedure result when AcceptStat is RPCSuccess.
	Body []byte
}
