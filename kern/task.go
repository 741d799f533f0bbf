package kern

import (
	"ember/abi"
	"ember/image"
)

// SavedState is a task's register snapshot. R holds r4..r11: syscall
// arguments on entry, return values on resume. The trap stub records the
// syscall number alongside before entering the kernel.
type SavedState struct {
	R      [8]uint32
	SP     uint32
	PC     uint32
	Sysnum abi.Sysnum
}

// SchedState is a task's scheduling state.
type SchedState uint8

const (
	// Stopped tasks are loaded but not started (or restarted into hold).
	Stopped SchedState = iota
	// Runnable tasks compete for the CPU.
	Runnable
	// InSend blocks until the destination receives; peer names it.
	InSend
	// InReply blocks until the peer replies or dies.
	InReply
	// InRecv blocks until a message or a subscribed notification.
	InRecv
	// Faulted tasks run no further until their supervisor restarts them.
	Faulted
)

func (s SchedState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Runnable:
		return "runnable"
	case InSend:
		return "in_send"
	case InReply:
		return "in_reply"
	case InRecv:
		return "in_recv"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// EpitaphLen bounds the panic message retained per task.
const EpitaphLen = 80

type faultRecord struct {
	info  abi.FaultInfo
	prior SchedState
	peer  abi.TaskId
}

type taskTimer struct {
	enabled  bool
	deadline uint64
	bits     uint32
}

// Task is one slot of the kernel's fixed task table.
type Task struct {
	save       SavedState
	desc       *image.TaskDesc
	generation abi.Generation

	state SchedState
	peer  abi.TaskId // destination while InSend, server while InReply
	fault *faultRecord

	notifications uint32
	timer         taskTimer

	// Lease table of the in-flight send, valid while InSend/InReply.
	leases     [abi.MaxLeases]abi.ULease
	leaseCount uint8

	// arrival orders equal-priority senders queued on one destination.
	arrival uint64

	epitaph    [EpitaphLen]byte
	epitaphLen uint8
}

func (t *Task) healthy() bool {
	return t.state != Faulted && t.state != Stopped
}

func (t *Task) runnable() bool { return t.state == Runnable }

// currentId is the task's identity as of its present incarnation.
func (t *Task) currentId(index int) abi.TaskId {
	return abi.TaskIdFor(index, t.generation)
}

// Pending-syscall views over the saved argument registers. These are only
// meaningful while the task is blocked in the corresponding state; the
// registers cannot change until the task runs again.

func (t *Task) sendOp() uint16       { return uint16(t.save.R[0] >> 16) }
func (t *Task) sendMsg() uSlice      { return uSlice{t.save.R[1], t.save.R[2]} }
func (t *Task) sendReplyBuf() uSlice { return uSlice{t.save.R[3], t.save.R[4]} }

func (t *Task) recvMask() uint32 { return t.save.R[0] }
func (t *Task) recvBuf() uSlice  { return uSlice{t.save.R[1], t.save.R[2]} }
func (t *Task) recvFilter() abi.TaskId {
	return abi.TaskId(t.save.R[3] & 0xFFFF)
}

func (t *Task) initSave() {
	t.save = SavedState{
		SP: t.desc.InitialStack,
		PC: t.desc.Entry,
	}
}

func (t *Task) setEpitaph(b []byte) {
	n := copy(t.epitaph[:], b)
	t.epitaphLen = uint8(n)
}
