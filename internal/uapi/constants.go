// Package uapi defines the submission and completion descriptors exchanged
// over the rings, their opcodes and flags, and the errno result encoding.
package uapi

import "fmt"

// Opcode identifies the operation a submission requests.
// Values follow the Linux io_uring numbering (include/uapi/linux/io_uring.h).
type Opcode uint8

const (
	OpNop Opcode = iota
	OpReadv
	OpWritev
	OpFsync
	OpReadFixed
	OpWriteFixed
	OpPollAdd
	OpPollRemove
	OpSyncFileRange
	OpSendMsg
	OpRecvMsg
	OpTimeout
	OpTimeoutRemove
	OpAccept
	OpAsyncCancel
	OpLinkTimeout
	OpConnect
	OpFallocate
	OpOpenat
	OpClose
	OpFilesUpdate
	OpStatx
	OpRead
	OpWrite
	OpFadvise
	OpMadvise
	OpSend
	OpRecv
	OpOpenat2
	OpEpollCtl
	OpSplice
	OpProvideBuffers
	OpRemoveBuffers
	OpTee
	OpShutdown
	OpRenameat
	OpUnlinkat
	OpMkdirat
	OpSymlinkat
	OpLinkat
	OpMsgRing
	OpFsetxattr
	OpSetxattr
	OpFgetxattr
	OpGetxattr
	OpSocket
	OpUringCmd
	OpSendZC
	OpSendMsgZC

	opLast
)

var opcodeNames = [...]string{
	OpNop:            "NOP",
	OpReadv:          "READV",
	OpWritev:         "WRITEV",
	OpFsync:          "FSYNC",
	OpReadFixed:      "READ_FIXED",
	OpWriteFixed:     "WRITE_FIXED",
	OpPollAdd:        "POLL_ADD",
	OpPollRemove:     "POLL_REMOVE",
	OpSyncFileRange:  "SYNC_FILE_RANGE",
	OpSendMsg:        "SENDMSG",
	OpRecvMsg:        "RECVMSG",
	OpTimeout:        "TIMEOUT",
	OpTimeoutRemove:  "TIMEOUT_REMOVE",
	OpAccept:         "ACCEPT",
	OpAsyncCancel:    "ASYNC_CANCEL",
	OpLinkTimeout:    "LINK_TIMEOUT",
	OpConnect:        "CONNECT",
	OpFallocate:      "FALLOCATE",
	OpOpenat:         "OPENAT",
	OpClose:          "CLOSE",
	OpFilesUpdate:    "FILES_UPDATE",
	OpStatx:          "STATX",
	OpRead:           "READ",
	OpWrite:          "WRITE",
	OpFadvise:        "FADVISE",
	OpMadvise:        "MADVISE",
	OpSend:           "SEND",
	OpRecv:           "RECV",
	OpOpenat2:        "OPENAT2",
	OpEpollCtl:       "EPOLL_CTL",
	OpSplice:         "SPLICE",
	OpProvideBuffers: "PROVIDE_BUFFERS",
	OpRemoveBuffers:  "REMOVE_BUFFERS",
	OpTee:            "TEE",
	OpShutdown:       "SHUTDOWN",
	OpRenameat:       "RENAMEAT",
	OpUnlinkat:       "UNLINKAT",
	OpMkdirat:        "MKDIRAT",
	OpSymlinkat:      "SYMLINKAT",
	OpLinkat:         "LINKAT",
	OpMsgRing:        "MSG_RING",
	OpFsetxattr:      "FSETXATTR",
	OpSetxattr:       "SETXATTR",
	OpFgetxattr:      "FGETXATTR",
	OpGetxattr:       "GETXATTR",
	OpSocket:         "SOCKET",
	OpUringCmd:       "URING_CMD",
	OpSendZC:         "SEND_ZC",
	OpSendMsgZC:      "SENDMSG_ZC",
}

func (op Opcode) String() string {
	if op < opLast {
		return opcodeNames[op]
	}
	return fmt.Sprintf("OP_%d", uint8(op))
}

// SQEFlags modify how a submission is scheduled.
type SQEFlags uint8

const (
	SQEFixedFile    SQEFlags = 1 << iota // FD is an index into the registered file table
	SQEDrain                             // wait for all earlier submissions before starting
	SQELink                              // link with the next submission, chain breaks on failure
	SQEHardLink                          // link with the next submission, chain survives failure
	SQEAsync                             // accepted and ignored; execution is already out of line
	SQEBufferSelect                      // BufIndex selects a registered buffer
)

// Has reports whether every bit of other is set.
func (f SQEFlags) Has(other SQEFlags) bool {
	return f&other == other
}

// CQEFlags carry extra information about a completion.
type CQEFlags uint32

const (
	CQEMore         CQEFlags = 1 << iota // more completions will follow for this token
	CQESockNonEmpty                      // socket still has data after a receive
	CQENotif                             // notification completion (zero-copy send)
)

// Has reports whether every bit of other is set.
func (f CQEFlags) Has(other CQEFlags) bool {
	return f&other == other
}

// Poll event masks used with OpPollAdd
const (
	PollIn    = 0x001
	PollPri   = 0x002
	PollOut   = 0x004
	PollErr   = 0x008
	PollHup   = 0x010
	PollNval  = 0x020
	PollRdHup = 0x2000
)

// FsyncDatasync in OpFlags requests fdatasync semantics
const FsyncDatasync = 1
