package rpc

// RPC Program Numbers
//
// The four programs of the file service, taken from the user-defined range
// (0x20000000-0x3FFFFFFF, RFC 5531 section 13). All are at version 1.
const (
	// ProgramNamingService is the client-facing naming coordinator program.
	ProgramNamingService = 0x20000D01

	// ProgramNamingRegistration is the program storage nodes use to join.
	ProgramNamingRegistration = 0x20000D02

	// ProgramStorageData is the client-facing storage node program.
	ProgramStorageData = 0x20000D03

	// ProgramStorageCommand is the coordinator-facing storage node program.
	ProgramStorageCommand = 0x20000D04

	// Version1 is the only version of every program.
	Version1 = 1
)

// ProcNull is the no-op procedure every program answers (RFC 5531 section 12.1).
const ProcNull = 0

// RPC Version
const RPCVersion2 = 2

// RPC Message Types
const (
	// RPCCall indicates an RPC call message
	RPCCall = 0

	// RPCReply indicates an RPC reply message
	RPCReply = 1
)

// RPC Reply States
const (
	// RPCMsgAccepted indicates the RPC call was accepted
	RPCMsgAccepted = 0

	// RPCMsgDenied indicates the RPC call was denied
	RPCMsgDenied = 1
)

// RPC Accept Status
const (
	// RPCSuccess indicates successful RPC execution
	RPCSuccess = 0

	// RPCProgUnavail indicates the program is not served on this port
	RPCProgUnavail = 1

	// RPCProgMismatch indicates program version mismatch
	RPCProgMismatch = 2

	// RPCProcUnavail indicates the procedure is unavailable
	RPCProcUnavail = 3

	// RPCGarbageArgs indicates the arguments could not be decoded
	RPCGarbageArgs = 4

	// RPCSystemErr indicates a server-side failure, including rate limiting
	RPCSystemErr = 5
)

// Authentication flavors
const (
	// AuthNull carries no credentials. Every call and reply uses it.
	AuthNull = 0
)

// Record marking (RFC 5531 section 11)
const (
	// lastFragmentBit marks the final fragment of a record.
	lastFragmentBit = 0x80000000

	// fragmentLengthMask extracts the fragment length.
	fragmentLengthMask = 0x7FFFFFFF

	// MaxRecordSize bounds a reassembled record. A 1 MiB read chunk plus
	// headers fits comfortably.
	MaxRecordSize = 4 << 20
)

// AcceptStatName returns a readable name for an accept status.
func AcceptStatName(stat uint32) string {
	switch stat {
	case RPCSuccess:
		return "SUCCESS"
	case RPCProgUnavail:
		return "PROG_UNAVAIL"
	case RPCProgMismatch:
		return "PROG_MISMATCH"
	case RPCProcUnavail:
		return "PROC_UNAVAIL"
	case RPCGarbageArgs:
		return "GARBAGE_ARGS"
	case RPCSystemErr:
		return "SYSTEM_ERR"
	default:
		return "UNKNOWN"
	}
}
