package abi

import "fmt"

// FaultKind classifies why a task was faulted.
type FaultKind uint8

const (
	// FaultMemoryAccess is a read/write/execute outside the task's
	// permitted regions, including a lease presented over foreign memory.
	FaultMemoryAccess FaultKind = iota + 1
	// FaultStackOverflow is a stack pointer below the task's stack guard,
	// detected on kernel entry.
	FaultStackOverflow
	// FaultDivideByZero is an integer division trap.
	FaultDivideByZero
	// FaultIllegalInstruction covers undefined instructions and a task
	// body running off its end.
	FaultIllegalInstruction
	// FaultSyscallUsage is a malformed syscall from the faulting task
	// itself; the UsageError field says what was wrong.
	FaultSyscallUsage
	// FaultPanic is an explicit panic syscall; the task's epitaph buffer
	// holds the message.
	FaultPanic
	// FaultInjected is an externally commanded fault (kipc or debugger).
	FaultInjected
	// FaultFromServer is delivered to a client by its server via
	// reply_fault, or by the kernel on the server's behalf.
	FaultFromServer
)

func (k FaultKind) String() string {
	switch k {
	case FaultMemoryAccess:
		return "memory access"
	case FaultStackOverflow:
		return "stack overflow"
	case FaultDivideByZero:
		return "divide by zero"
	case FaultIllegalInstruction:
		return "illegal instruction"
	case FaultSyscallUsage:
		return "syscall usage"
	case FaultPanic:
		return "panic"
	case FaultInjected:
		return "injected"
	case FaultFromServer:
		return "from server"
	default:
		return "unknown"
	}
}

// FaultSource says which privilege level detected the fault.
type FaultSource uint8

const (
	// FaultSourceUser is a fault raised by the task's own execution.
	FaultSourceUser FaultSource = iota
	// FaultSourceKernel is a fault detected while the kernel was acting
	// on the task's behalf (for example resolving a lease).
	FaultSourceKernel
)

func (s FaultSource) String() string {
	if s == FaultSourceKernel {
		return "kernel"
	}
	return "user"
}

// UsageError details a FaultSyscallUsage.
type UsageError uint8

const (
	BadSyscallNumber UsageError = iota + 1
	InvalidSlice
	TaskOutOfRange
	IllegalTask
	LeaseOutOfRange
	OffsetOutOfRange
	NoIrq
	NotSupervisor
	BadKernelMessage
)

func (e UsageError) String() string {
	switch e {
	case BadSyscallNumber:
		return "bad syscall number"
	case InvalidSlice:
		return "invalid slice"
	case TaskOutOfRange:
		return "task out of range"
	case IllegalTask:
		return "illegal task"
	case LeaseOutOfRange:
		return "lease out of range"
	case OffsetOutOfRange:
		return "offset out of range"
	case NoIrq:
		return "no such irq"
	case NotSupervisor:
		return "not supervisor"
	case BadKernelMessage:
		return "bad kernel message"
	default:
		return "unknown"
	}
}

// ReplyFaultReason is a server's verdict on a client request, delivered
// through reply_fault.
type ReplyFaultReason uint8

const (
	UndefinedOperation ReplyFaultReason = iota + 1
	BadMessageSize
	BadMessageContents
	BadLeases
	ReplyBufferTooSmall
	AccessViolation
)

func (r ReplyFaultReason) String() string {
	switch r {
	case UndefinedOperation:
		return "undefined operation"
	case BadMessageSize:
		return "bad message size"
	case BadMessageContents:
		return "bad message contents"
	case BadLeases:
		return "bad leases"
	case ReplyBufferTooSmall:
		return "reply buffer too small"
	case AccessViolation:
		return "access violation"
	default:
		return "unknown"
	}
}

// FaultInfo records why a task stopped running. Kind selects which of the
// optional fields are meaningful.
type FaultInfo struct {
	Kind    FaultKind
	Address uint32
	Source  FaultSource
	Usage   UsageError
	Server  TaskId
	Reason  ReplyFaultReason
}

// MemoryFault records an access violation at addr.
func MemoryFault(addr uint32, src FaultSource) FaultInfo {
	return FaultInfo{Kind: FaultMemoryAccess, Address: addr, Source: src}
}

// StackOverflowFault records a blown stack; addr is the offending SP.
func StackOverflowFault(addr uint32) FaultInfo {
	return FaultInfo{Kind: FaultStackOverflow, Address: addr}
}

// UsageFault records a malformed syscall.
func UsageFault(e UsageError) FaultInfo {
	return FaultInfo{Kind: FaultSyscallUsage, Usage: e}
}

// PanicFault records an explicit task panic.
func PanicFault() FaultInfo {
	return FaultInfo{Kind: FaultPanic}
}

// InjectedFault records an externally commanded fault.
func InjectedFault() FaultInfo {
	return FaultInfo{Kind: FaultInjected}
}

// ServerFault records a reply_fault verdict from server.
func ServerFault(server TaskId, reason ReplyFaultReason) FaultInfo {
	return FaultInfo{Kind: FaultFromServer, Server: server, Reason: reason}
}

func (f FaultInfo) String() string {
	switch f.Kind {
	case FaultMemoryAccess:
		return fmt.Sprintf("memory access at %#x (%s)", f.Address, f.Source)
	case FaultStackOverflow:
		return fmt.Sprintf("stack overflow at %#x", f.Address)
	case FaultSyscallUsage:
		return "syscall usage: " + f.Usage.String()
	case FaultFromServer:
		return fmt.Sprintf("from %s: %s", f.Server, f.Reason)
	default:
		return f.Kind.String()
	}
}
