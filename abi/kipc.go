package abi

import "encoding/binary"

// Kipc operation codes: the operation word of a SEND addressed to
// TaskIdKernel. The kernel services these synchronously, like a server
// that is always ready to receive.
type Kipc uint16

const (
	KipcReadTaskStatus Kipc = iota + 1
	KipcRestartTask
	KipcFaultTask
	KipcReadImageId
)

func (k Kipc) String() string {
	switch k {
	case KipcReadTaskStatus:
		return "read_task_status"
	case KipcRestartTask:
		return "restart_task"
	case KipcFaultTask:
		return "fault_task"
	case KipcReadImageId:
		return "read_image_id"
	default:
		return "unknown"
	}
}

// TaskState is the wire form of a task's scheduling state.
type TaskState uint8

const (
	TaskStateStopped TaskState = iota
	TaskStateRunnable
	TaskStateInSend
	TaskStateInReply
	TaskStateInRecv
)

func (s TaskState) String() string {
	switch s {
	case TaskStateStopped:
		return "stopped"
	case TaskStateRunnable:
		return "runnable"
	case TaskStateInSend:
		return "in_send"
	case TaskStateInReply:
		return "in_reply"
	case TaskStateInRecv:
		return "in_recv"
	default:
		return "unknown"
	}
}

// TaskStatus is the kernel's report on one task slot, served to the
// supervisor and the monitor via KipcReadTaskStatus.
type TaskStatus struct {
	State         TaskState
	Peer          TaskId // meaningful for InSend/InReply
	Generation    Generation
	Priority      uint8
	Faulted       bool
	Fault         FaultInfo
	Notifications uint32
	TimerEnabled  bool
	TimerDeadline uint64
	TimerBits     uint32
}

// TaskStatusSize is the wire size of an encoded TaskStatus.
const TaskStatusSize = 32

const (
	statusFlagFaulted = 1 << 0
	statusFlagTimer   = 1 << 1
)

// EncodeTaskStatus appends the wire form of st to dst.
func EncodeTaskStatus(dst []byte, st TaskStatus) []byte {
	var b [TaskStatusSize]byte
	b[0] = byte(st.State)
	binary.LittleEndian.PutUint16(b[1:], uint16(st.Peer))
	b[3] = byte(st.Generation)
	b[4] = st.Priority
	var flags byte
	if st.Faulted {
		flags |= statusFlagFaulted
	}
	if st.TimerEnabled {
		flags |= statusFlagTimer
	}
	b[5] = flags
	binary.LittleEndian.PutUint32(b[6:], st.Notifications)
	binary.LittleEndian.PutUint64(b[10:], st.TimerDeadline)
	binary.LittleEndian.PutUint32(b[18:], st.TimerBits)
	b[22] = byte(st.Fault.Kind)
	binary.LittleEndian.PutUint32(b[23:], st.Fault.Address)
	b[27] = byte(st.Fault.Source)
	b[28] = byte(st.Fault.Usage)
	binary.LittleEndian.PutUint16(b[29:], uint16(st.Fault.Server))
	b[31] = byte(st.Fault.Reason)
	return append(dst, b[:]...)
}

// DecodeTaskStatus parses the wire form produced by EncodeTaskStatus.
func DecodeTaskStatus(b []byte) (TaskStatus, bool) {
	if len(b) < TaskStatusSize {
		return TaskStatus{}, false
	}
	var st TaskStatus
	st.State = TaskState(b[0])
	st.Peer = TaskId(binary.LittleEndian.Uint16(b[1:]))
	st.Generation = Generation(b[3])
	st.Priority = b[4]
	st.Faulted = b[5]&statusFlagFaulted != 0
	st.TimerEnabled = b[5]&statusFlagTimer != 0
	st.Notifications = binary.LittleEndian.Uint32(b[6:])
	st.TimerDeadline = binary.LittleEndian.Uint64(b[10:])
	st.TimerBits = binary.LittleEndian.Uint32(b[18:])
	st.Fault.Kind = FaultKind(b[22])
	st.Fault.Address = binary.LittleEndian.Uint32(b[23:])
	st.Fault.Source = FaultSource(b[27])
	st.Fault.Usage = UsageError(b[28])
	st.Fault.Server = TaskId(binary.LittleEndian.Uint16(b[29:]))
	st.Fault.Reason = ReplyFaultReason(b[31])
	return st, true
}

// RestartRequest asks the kernel to reinitialize a task slot.
type RestartRequest struct {
	Index uint16
	Start bool // leave Runnable rather than Stopped
}

// RestartRequestSize is the wire size of an encoded RestartRequest.
const RestartRequestSize = 3

// EncodeRestartRequest appends the wire form of r to dst.
func EncodeRestartRequest(dst []byte, r RestartRequest) []byte {
	var b [RestartRequestSize]byte
	binary.LittleEndian.PutUint16(b[0:], r.Index)
	if r.Start {
		b[2] = 1
	}
	return append(dst, b[:]...)
}

// DecodeRestartRequest parses the wire form produced by
// EncodeRestartRequest.
func DecodeRestartRequest(b []byte) (RestartRequest, bool) {
	if len(b) < RestartRequestSize {
		return RestartRequest{}, false
	}
	return RestartRequest{
		Index: binary.LittleEndian.Uint16(b[0:]),
		Start: b[2] != 0,
	}, true
}

// EncodeTaskIndex appends the 2-byte request body shared by
// KipcReadTaskStatus and KipcFaultTask.
func EncodeTaskIndex(dst []byte, index uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], index)
	return append(dst, b[:]...)
}

// DecodeTaskIndex parses a 2-byte task index request body.
func DecodeTaskIndex(b []byte) (uint16, bool) {
	if len(b) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}
