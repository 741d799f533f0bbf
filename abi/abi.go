// Package abi defines the kernel/task binary interface: task handles,
// syscall numbers, response codes, fault records, and the wire encodings
// shared by the kernel, userland stubs, the image tooling, and the monitor.
//
// Everything here is deliberately plain data. The kernel trusts nothing in
// this package; values arriving from a task are validated at the kernel
// boundary.
package abi

import "fmt"

// Generation distinguishes successive incarnations of a task slot.
//
// It is a 6-bit wrapping counter: it strictly increases on every restart
// modulo its width, so a handle minted before a restart never matches after.
type Generation uint8

// GenerationBits is the width of Generation inside a TaskId.
const GenerationBits = 6

// GenerationMask masks a Generation to its stored width.
const GenerationMask = (1 << GenerationBits) - 1

// Next returns the generation after g, wrapping at the stored width.
func (g Generation) Next() Generation {
	return (g + 1) & GenerationMask
}

// TaskId addresses a single incarnation of a task: low 10 bits are the
// task table index, high 6 bits are the generation at mint time.
type TaskId uint16

const (
	// IndexBits is the width of the index field inside a TaskId.
	IndexBits = 10
	// IndexMask masks a TaskId down to its index field.
	IndexMask = (1 << IndexBits) - 1

	// IndexLimit bounds valid task table indexes. The top two index
	// values are reserved: at the maximum generation they would pack to
	// the TaskIdUnbound and TaskIdKernel sentinels.
	IndexLimit = IndexMask - 1

	// TaskIdUnbound is the "no task" sentinel. It is never a valid peer.
	TaskIdUnbound TaskId = 0xFFFF
	// TaskIdKernel is the kernel's virtual peer: the sender identity of
	// notification wakeups and the destination of kipc messages.
	TaskIdKernel TaskId = 0xFFFE
)

// TaskIdFor builds a TaskId from an index and a generation. Indexes at
// or above IndexLimit are reserved for the sentinels and must not be
// minted.
func TaskIdFor(index int, gen Generation) TaskId {
	return TaskId(uint16(index)&IndexMask | uint16(gen&GenerationMask)<<IndexBits)
}

// Index returns the task table index encoded in the id.
func (id TaskId) Index() int { return int(id & IndexMask) }

// Generation returns the generation encoded in the id.
func (id TaskId) Generation() Generation {
	return Generation(id>>IndexBits) & GenerationMask
}

// WithGeneration returns the same index restamped with gen.
func (id TaskId) WithGeneration(gen Generation) TaskId {
	return TaskIdFor(id.Index(), gen)
}

func (id TaskId) String() string {
	switch id {
	case TaskIdUnbound:
		return "unbound"
	case TaskIdKernel:
		return "kernel"
	}
	return fmt.Sprintf("task %d gen %d", id.Index(), id.Generation())
}

// Sysnum selects a kernel operation. The trap stub stores it alongside the
// argument registers before entering the kernel.
type Sysnum uint8

const (
	SysSend Sysnum = iota
	SysRecv
	SysReply
	SysSetTimer
	SysBorrowRead
	SysBorrowWrite
	SysBorrowInfo
	SysIrqControl
	SysPanic
	SysGetTimer
	SysRefreshTaskId
	SysPost
	SysReplyFault
)

func (s Sysnum) String() string {
	switch s {
	case SysSend:
		return "send"
	case SysRecv:
		return "recv"
	case SysReply:
		return "reply"
	case SysSetTimer:
		return "set_timer"
	case SysBorrowRead:
		return "borrow_read"
	case SysBorrowWrite:
		return "borrow_write"
	case SysBorrowInfo:
		return "borrow_info"
	case SysIrqControl:
		return "irq_control"
	case SysPanic:
		return "panic"
	case SysGetTimer:
		return "get_timer"
	case SysRefreshTaskId:
		return "refresh_task_id"
	case SysPost:
		return "post"
	case SysReplyFault:
		return "reply_fault"
	default:
		return "unknown"
	}
}

// Syscall register convention. Arguments travel in r4..r11, returns in
// r4..r9; the layouts below are indexes into SavedState argument order.
//
//	send:        r4=dest|op(hi16), r5=msg base, r6=msg len, r7=reply base,
//	             r8=reply len, r9=lease table base, r10=lease count
//	recv:        r4=notification mask, r5=buf base, r6=buf len,
//	             r7=closed sender filter (TaskIdUnbound = open)
//	reply:       r4=peer, r5=response code, r6=msg base, r7=msg len
//	reply_fault: r4=peer, r5=reason
//	borrow_*:    r4=lender, r5=lease index, r6=offset, r7=buf base, r8=buf len
//	set_timer:   r4=enable, r5/r6=deadline lo/hi, r7=notification bits
//	irq_control: r4=notification bits, r5=enable
//	post:        r4=peer, r5=bits
//	panic:       r4=msg base, r5=msg len
//
// Returns use r4 as the response code; operation-specific extras follow.

// Response codes. Zero is success; the dead-peer range encodes the peer's
// current generation so callers can restamp their handle without a second
// syscall.
const (
	// RcOK reports success.
	RcOK uint32 = 0
	// RcDefect reports a recoverable protocol defect: the peer is not in
	// the state the operation requires, or a borrow index/range is bad.
	RcDefect uint32 = 1

	deadBase uint32 = 0xFFFF_FF00
)

// DeadResponse encodes "peer is dead" along with its current generation.
func DeadResponse(gen Generation) uint32 {
	return deadBase | uint32(gen&GenerationMask)
}

// IsDead reports whether rc is a dead-peer response.
func IsDead(rc uint32) bool { return rc&deadBase == deadBase }

// DeadGeneration extracts the peer's current generation from a dead-peer
// response.
func DeadGeneration(rc uint32) Generation {
	return Generation(rc & GenerationMask)
}
