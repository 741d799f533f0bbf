package kern

import (
	"encoding/binary"

	"ember/abi"
)

// kipc services a SEND addressed to the kernel's virtual peer. The kernel
// is a server that is always ready: the caller never blocks, and the
// reply lands before the send returns.
func (k *Kernel) kipc(cur int, op uint16) {
	t := &k.tasks[cur]

	msg := t.sendMsg()
	raw, ok := k.resolve(t, msg, abi.RegionRead)
	if !ok {
		k.forceFault(cur, abi.MemoryFault(msg.base, abi.FaultSourceKernel))
		return
	}

	switch abi.Kipc(op) {
	case abi.KipcReadTaskStatus:
		ix, ok := abi.DecodeTaskIndex(raw)
		if !ok {
			k.forceFault(cur, abi.UsageFault(abi.BadKernelMessage))
			return
		}
		if int(ix) >= len(k.tasks) {
			k.forceFault(cur, abi.UsageFault(abi.TaskOutOfRange))
			return
		}
		k.kipcReply(cur, abi.EncodeTaskStatus(nil, k.Status(int(ix))))

	case abi.KipcRestartTask:
		if cur != k.supervisor {
			k.forceFault(cur, abi.UsageFault(abi.NotSupervisor))
			return
		}
		req, ok := abi.DecodeRestartRequest(raw)
		if !ok {
			k.forceFault(cur, abi.UsageFault(abi.BadKernelMessage))
			return
		}
		if int(req.Index) >= len(k.tasks) {
			k.forceFault(cur, abi.UsageFault(abi.TaskOutOfRange))
			return
		}
		if int(req.Index) == cur {
			k.forceFault(cur, abi.UsageFault(abi.IllegalTask))
			return
		}
		k.restartTask(int(req.Index), req.Start)
		k.kipcReply(cur, nil)

	case abi.KipcFaultTask:
		if cur != k.supervisor {
			k.forceFault(cur, abi.UsageFault(abi.NotSupervisor))
			return
		}
		ix, ok := abi.DecodeTaskIndex(raw)
		if !ok {
			k.forceFault(cur, abi.UsageFault(abi.BadKernelMessage))
			return
		}
		if int(ix) >= len(k.tasks) {
			k.forceFault(cur, abi.UsageFault(abi.TaskOutOfRange))
			return
		}
		if int(ix) == cur {
			k.forceFault(cur, abi.UsageFault(abi.IllegalTask))
			return
		}
		k.forceFault(int(ix), abi.InjectedFault())
		k.kipcReply(cur, nil)

	case abi.KipcReadImageId:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], k.img.ImageId)
		k.kipcReply(cur, b[:])

	default:
		k.forceFault(cur, abi.UsageFault(abi.BadKernelMessage))
	}
}

// kipcReply delivers the kernel's response into the caller's reply buffer
// and fills the normal send return registers.
func (k *Kernel) kipcReply(cur int, b []byte) {
	t := &k.tasks[cur]

	rbuf := t.sendReplyBuf()
	if uint32(len(b)) > rbuf.len {
		k.forceFault(cur, abi.ServerFault(abi.TaskIdKernel, abi.ReplyBufferTooSmall))
		return
	}
	dst, ok := k.resolve(t, uSlice{rbuf.base, uint32(len(b))}, abi.RegionWrite)
	if !ok {
		k.forceFault(cur, abi.MemoryFault(rbuf.base, abi.FaultSourceKernel))
		return
	}
	copy(dst, b)
	t.save.R[0] = abi.RcOK
	t.save.R[1] = uint32(len(b))
}
