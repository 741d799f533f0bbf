package usr

import (
	"encoding/binary"

	"ember/abi"
)

// RecvResult is the outcome of Recv: either a message from Sender or,
// when Sender is the kernel, a notification snapshot in Op.
type RecvResult struct {
	Rc       uint32
	Sender   abi.TaskId
	Op       uint32
	MsgLen   uint32
	ReplyCap uint32
	Leases   uint32
}

// Notification reports whether the result is a notification wakeup.
func (r RecvResult) Notification() bool { return r.Sender == abi.TaskIdKernel }

// Send performs a synchronous send: it blocks until dest replies or dies.
// The reply lands in reply.B; the returned length is the reply size.
func (e *Env) Send(dest abi.TaskId, op uint16, msg, reply Buf, leases []Lease) (rc, replyLen uint32) {
	if len(leases) > abi.MaxLeases {
		e.Panic("too many leases")
	}
	tab := e.leaseTab.B[:0]
	for _, l := range leases {
		tab = abi.EncodeLease(tab, abi.ULease{
			Attributes: l.Attributes,
			Base:       l.Buf.Addr,
			Length:     l.Buf.Len(),
		})
	}
	res := e.cpu.Syscall(abi.SysSend, [8]uint32{
		uint32(dest) | uint32(op)<<16,
		msg.Addr, msg.Len(),
		reply.Addr, reply.Len(),
		e.leaseTab.Addr, uint32(len(leases)),
	})
	return res[0], res[1]
}

// SendKernel sends to the kernel's virtual peer (kipc).
func (e *Env) SendKernel(op abi.Kipc, msg, reply Buf) (rc, replyLen uint32) {
	return e.Send(abi.TaskIdKernel, uint16(op), msg, reply, nil)
}

// Recv waits for a message or any notification bit in mask.
func (e *Env) Recv(mask uint32, buf Buf) RecvResult {
	return e.recv(mask, buf, abi.TaskIdUnbound)
}

// RecvClosed restricts acceptable senders to from. Pass TaskIdKernel to
// wait for notifications only.
func (e *Env) RecvClosed(mask uint32, buf Buf, from abi.TaskId) RecvResult {
	return e.recv(mask, buf, from)
}

func (e *Env) recv(mask uint32, buf Buf, from abi.TaskId) RecvResult {
	res := e.cpu.Syscall(abi.SysRecv, [8]uint32{
		mask,
		buf.Addr, buf.Len(),
		uint32(from),
	})
	return RecvResult{
		Rc:       res[0],
		Sender:   abi.TaskId(res[1] & 0xFFFF),
		Op:       res[2],
		MsgLen:   res[3],
		ReplyCap: res[4],
		Leases:   res[5],
	}
}

// Reply unblocks a sender we previously received from.
func (e *Env) Reply(peer abi.TaskId, rc uint32, msg Buf) {
	e.cpu.Syscall(abi.SysReply, [8]uint32{
		uint32(peer), rc, msg.Addr, msg.Len(),
	})
}

// ReplyFault faults the client instead of replying.
func (e *Env) ReplyFault(peer abi.TaskId, reason abi.ReplyFaultReason) {
	e.cpu.Syscall(abi.SysReplyFault, [8]uint32{
		uint32(peer), uint32(reason),
	})
}

// BorrowRead copies from a client's lease into buf.
func (e *Env) BorrowRead(lender abi.TaskId, index, offset uint32, buf Buf) (rc, n uint32) {
	res := e.cpu.Syscall(abi.SysBorrowRead, [8]uint32{
		uint32(lender), index, offset, buf.Addr, buf.Len(),
	})
	return res[0], res[1]
}

// BorrowWrite copies buf into a client's lease.
func (e *Env) BorrowWrite(lender abi.TaskId, index, offset uint32, buf Buf) (rc, n uint32) {
	res := e.cpu.Syscall(abi.SysBorrowWrite, [8]uint32{
		uint32(lender), index, offset, buf.Addr, buf.Len(),
	})
	return res[0], res[1]
}

// BorrowInfo reports a lease's attributes and length.
func (e *Env) BorrowInfo(lender abi.TaskId, index uint32) (rc, attributes, length uint32) {
	res := e.cpu.Syscall(abi.SysBorrowInfo, [8]uint32{
		uint32(lender), index,
	})
	return res[0], res[1], res[2]
}

// SetTimer arms the task's single deadline; bits post at or after it.
func (e *Env) SetTimer(deadline uint64, bits uint32) {
	e.cpu.Syscall(abi.SysSetTimer, [8]uint32{
		1, uint32(deadline), uint32(deadline >> 32), bits,
	})
}

// StopTimer disarms the deadline.
func (e *Env) StopTimer() {
	e.cpu.Syscall(abi.SysSetTimer, [8]uint32{0})
}

// GetTimer reads the timebase and the armed deadline.
func (e *Env) GetTimer() (now uint64, enabled bool, deadline uint64) {
	res := e.cpu.Syscall(abi.SysGetTimer, [8]uint32{})
	now = uint64(res[1]) | uint64(res[2])<<32
	return now, res[3] != 0, uint64(res[4]) | uint64(res[5])<<32
}

// Sleep blocks until at least ticks have elapsed, using the timer
// notification bit in bits.
func (e *Env) Sleep(ticks uint64, bits uint32) {
	now, _, _ := e.GetTimer()
	e.SetTimer(now+ticks, bits)
	for {
		r := e.RecvClosed(bits, Buf{}, abi.TaskIdKernel)
		if r.Notification() && r.Op&bits != 0 {
			return
		}
	}
}

// Post merges notification bits into a peer.
func (e *Env) Post(peer abi.TaskId, bits uint32) uint32 {
	res := e.cpu.Syscall(abi.SysPost, [8]uint32{uint32(peer), bits})
	return res[0]
}

// IrqControl enables or disables the interrupts selected by bits.
func (e *Env) IrqControl(bits uint32, enable bool) {
	var en uint32
	if enable {
		en = 1
	}
	e.cpu.Syscall(abi.SysIrqControl, [8]uint32{bits, en})
}

// RefreshTaskId restamps id with the slot's current generation.
func (e *Env) RefreshTaskId(id abi.TaskId) abi.TaskId {
	res := e.cpu.Syscall(abi.SysRefreshTaskId, [8]uint32{uint32(id)})
	return abi.TaskId(res[1] & 0xFFFF)
}

// Panic records msg as the task's epitaph and faults it. Does not return.
func (e *Env) Panic(msg string) {
	n := copy(e.scratch.B, msg)
	e.cpu.Syscall(abi.SysPanic, [8]uint32{e.scratch.Addr, uint32(n)})
	// The kernel faulted us; the trap above never resumes. Guard anyway.
	for {
		e.cpu.WaitForInterrupt()
	}
}

// ReadStatus asks the kernel for a task slot's status (kipc).
func (e *Env) ReadStatus(index uint16, msg, reply Buf) (abi.TaskStatus, bool) {
	req := abi.EncodeTaskIndex(msg.B[:0], index)
	rc, n := e.SendKernel(abi.KipcReadTaskStatus, msg.Slice(0, len(req)), reply)
	if rc != abi.RcOK || n < abi.TaskStatusSize {
		return abi.TaskStatus{}, false
	}
	st, ok := abi.DecodeTaskStatus(reply.B)
	return st, ok
}

// RestartPeer asks the kernel to restart a task slot (supervisor only).
func (e *Env) RestartPeer(index uint16, start bool, msg Buf) bool {
	req := abi.EncodeRestartRequest(msg.B[:0], abi.RestartRequest{Index: index, Start: start})
	rc, _ := e.SendKernel(abi.KipcRestartTask, msg.Slice(0, len(req)), Buf{})
	return rc == abi.RcOK
}

// ImageId reads the running image's identifier (kipc).
func (e *Env) ImageId(reply Buf) (uint64, bool) {
	rc, n := e.SendKernel(abi.KipcReadImageId, Buf{}, reply)
	if rc != abi.RcOK || n < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(reply.B), true
}
