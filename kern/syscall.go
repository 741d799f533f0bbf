package kern

import (
	"ember/abi"
)

// Syscall processes the trap the current task just took. The machine has
// already stored the arguments and syscall number into the task's saved
// state; results land back there. Returns the next task to run.
func (k *Kernel) Syscall() int {
	cur := k.current
	if cur == IdleTask {
		k.die("syscall with no current task")
		return k.schedule()
	}
	t := &k.tasks[cur]
	if !t.healthy() {
		k.die("syscall from unhealthy task " + t.desc.Name)
		return k.schedule()
	}

	// Stack guard first: a blown stack makes every saved value suspect.
	if t.save.SP < t.desc.StackBase || t.save.SP > t.desc.InitialStack {
		k.forceFault(cur, abi.StackOverflowFault(t.save.SP))
		return k.schedule()
	}

	switch t.save.Sysnum {
	case abi.SysSend:
		k.sysSend(cur)
	case abi.SysRecv:
		k.sysRecv(cur)
	case abi.SysReply:
		k.sysReply(cur)
	case abi.SysReplyFault:
		k.sysReplyFault(cur)
	case abi.SysBorrowRead:
		k.sysBorrow(cur, false, false)
	case abi.SysBorrowWrite:
		k.sysBorrow(cur, true, false)
	case abi.SysBorrowInfo:
		k.sysBorrow(cur, false, true)
	case abi.SysPost:
		k.sysPost(cur)
	case abi.SysSetTimer:
		k.sysSetTimer(cur)
	case abi.SysGetTimer:
		k.sysGetTimer(cur)
	case abi.SysIrqControl:
		k.sysIrqControl(cur)
	case abi.SysPanic:
		k.sysPanic(cur)
	case abi.SysRefreshTaskId:
		k.sysRefreshTaskId(cur)
	default:
		k.forceFault(cur, abi.UsageFault(abi.BadSyscallNumber))
	}
	return k.schedule()
}

// sysSend implements SEND: validate everything the sender asserts, then
// rendezvous with a waiting receiver or queue behind the destination.
// Lease validation is eager: a lease over memory the sender does not own
// faults the sender here, before the destination ever sees the message.
func (k *Kernel) sysSend(cur int) {
	t := &k.tasks[cur]
	r := &t.save.R

	dest := abi.TaskId(r[0] & 0xFFFF)
	op := t.sendOp()
	if dest == abi.TaskIdKernel {
		k.kipc(cur, op)
		return
	}
	ix := dest.Index()
	if dest == abi.TaskIdUnbound || ix >= len(k.tasks) {
		k.forceFault(cur, abi.UsageFault(abi.TaskOutOfRange))
		return
	}
	if ix == cur {
		k.forceFault(cur, abi.UsageFault(abi.IllegalTask))
		return
	}

	msg := t.sendMsg()
	if !canAccess(t, msg, abi.RegionRead) {
		k.forceFault(cur, abi.MemoryFault(msg.base, abi.FaultSourceKernel))
		return
	}
	rbuf := t.sendReplyBuf()
	if !canAccess(t, rbuf, abi.RegionWrite) {
		k.forceFault(cur, abi.MemoryFault(rbuf.base, abi.FaultSourceKernel))
		return
	}

	count := r[6]
	if count > abi.MaxLeases {
		k.forceFault(cur, abi.UsageFault(abi.InvalidSlice))
		return
	}
	ltab := uSlice{r[5], count * abi.LeaseSize}
	raw, ok := k.resolve(t, ltab, abi.RegionRead)
	if !ok {
		k.forceFault(cur, abi.MemoryFault(ltab.base, abi.FaultSourceKernel))
		return
	}
	for i := uint32(0); i < count; i++ {
		l, _ := abi.DecodeLease(raw[i*abi.LeaseSize:])
		if !checkLease(t, l) {
			k.forceFault(cur, abi.MemoryFault(l.Base, abi.FaultSourceKernel))
			return
		}
		t.leases[i] = l
	}
	t.leaseCount = uint8(count)

	target := &k.tasks[ix]
	if target.generation != dest.Generation() || !target.healthy() {
		r[0] = abi.DeadResponse(target.generation)
		return
	}

	if target.state == InRecv && k.recvAccepts(ix, cur) {
		if k.deliver(cur, ix) {
			t.state = InReply
			t.peer = dest
			target.state = Runnable
			return
		}
		if t.fault != nil {
			return // sender blamed by deliver
		}
		// Receiver faulted mid-delivery; fall through and queue. The
		// receiver's restart will wake us with a dead response.
	}

	t.state = InSend
	t.peer = dest
	t.arrival = k.sendStamp
	k.sendStamp++
}

// sysRecv implements RECV and RECV_CLOSED (a non-unbound filter in r7
// restricts acceptable senders). Pending subscribed notifications win
// over queued senders.
func (k *Kernel) sysRecv(cur int) {
	t := &k.tasks[cur]
	r := &t.save.R

	filter := t.recvFilter()
	if filter != abi.TaskIdUnbound && filter != abi.TaskIdKernel {
		ix := filter.Index()
		if ix >= len(k.tasks) {
			k.forceFault(cur, abi.UsageFault(abi.TaskOutOfRange))
			return
		}
		if ix == cur {
			k.forceFault(cur, abi.UsageFault(abi.IllegalTask))
			return
		}
		ft := &k.tasks[ix]
		if ft.generation != filter.Generation() || !ft.healthy() {
			r[0] = abi.DeadResponse(ft.generation)
			return
		}
	}

	if ready := t.notifications & t.recvMask(); ready != 0 {
		t.notifications &^= ready
		setNotificationResult(t, ready)
		return
	}

	// A filter of TaskIdKernel waits for notifications only.
	if filter != abi.TaskIdKernel {
		for {
			sender := k.bestSender(cur)
			if sender == IdleTask {
				break
			}
			if k.deliver(sender, cur) {
				s := &k.tasks[sender]
				s.state = InReply
				return
			}
			if t.fault != nil {
				return // receiver blamed by deliver
			}
			// That sender faulted; try the next one.
		}
	}

	t.state = InRecv
}

// bestSender picks among tasks queued InSend on cur: lowest priority
// number first, then earliest arrival. Equal-priority senders are thus
// served in the order their sends were issued.
func (k *Kernel) bestSender(cur int) int {
	me := &k.tasks[cur]
	best := IdleTask
	for i := range k.tasks {
		s := &k.tasks[i]
		if s.state != InSend || s.peer.Index() != cur {
			continue
		}
		if s.peer.Generation() != me.generation {
			continue
		}
		if !k.recvAccepts(cur, i) {
			continue
		}
		if best == IdleTask {
			best = i
			continue
		}
		b := &k.tasks[best]
		if s.desc.Priority < b.desc.Priority ||
			(s.desc.Priority == b.desc.Priority && s.arrival < b.arrival) {
			best = i
		}
	}
	return best
}

func (k *Kernel) recvAccepts(recvIx, senderIx int) bool {
	filter := k.tasks[recvIx].recvFilter()
	if filter == abi.TaskIdUnbound {
		return true
	}
	return filter == k.tasks[senderIx].currentId(senderIx)
}

// deliver copies the pending message of sender into the receive buffer of
// recv and fills the receiver's result registers. On a bad range it
// blames the presenting side through an interactFault and reports false.
func (k *Kernel) deliver(sender, recv int) bool {
	s := &k.tasks[sender]
	d := &k.tasks[recv]

	var blame interactFault
	msg := s.sendMsg()
	src, okSrc := k.resolve(s, msg, abi.RegionRead)
	if !okSrc {
		blame.src = &abi.FaultInfo{
			Kind: abi.FaultMemoryAccess, Address: msg.base, Source: abi.FaultSourceKernel,
		}
	}
	buf := d.recvBuf()
	dst, okDst := k.resolve(d, buf, abi.RegionWrite)
	if !okDst {
		blame.dst = &abi.FaultInfo{
			Kind: abi.FaultMemoryAccess, Address: buf.base, Source: abi.FaultSourceKernel,
		}
	}
	if blame.apply(k, sender, recv) {
		return false
	}

	copy(dst, src)
	d.save.R = [8]uint32{
		abi.RcOK,
		uint32(s.currentId(sender)),
		uint32(s.sendOp()),
		msg.len, // true length; the receiver observes truncation
		s.sendReplyBuf().len,
		uint32(s.leaseCount),
	}
	return true
}

func setNotificationResult(t *Task, bits uint32) {
	t.save.R = [8]uint32{
		abi.RcOK,
		uint32(abi.TaskIdKernel),
		bits,
		0,
		0,
		0,
	}
}

// sysReply implements REPLY. Replying to a task that is not waiting on us
// is a no-op, not an error: the client may have been restarted since it
// sent.
func (k *Kernel) sysReply(cur int) {
	t := &k.tasks[cur]
	r := &t.save.R

	ix, ok := k.replyPeer(cur)
	if !ok {
		return // faulted or silent no-op; registers already set
	}
	c := &k.tasks[ix]

	msg := uSlice{r[2], r[3]}
	capacity := c.sendReplyBuf()
	if msg.len > capacity.len {
		// The client's advertised buffer cannot hold this reply; that
		// is the client's defect.
		k.forceFault(ix, abi.ServerFault(t.currentId(cur), abi.ReplyBufferTooSmall))
		r[0] = abi.RcOK
		return
	}
	src, okSrc := k.resolve(t, msg, abi.RegionRead)
	if !okSrc {
		k.forceFault(cur, abi.MemoryFault(msg.base, abi.FaultSourceKernel))
		return
	}
	dst, okDst := k.resolve(c, uSlice{capacity.base, msg.len}, abi.RegionWrite)
	if !okDst {
		k.forceFault(ix, abi.MemoryFault(capacity.base, abi.FaultSourceKernel))
		r[0] = abi.RcOK
		return
	}

	copy(dst, src)
	c.save.R = [8]uint32{r[1], msg.len}
	c.state = Runnable
	c.leaseCount = 0
	r[0] = abi.RcOK
}

// sysReplyFault implements REPLY_FAULT: the server's verdict that the
// client's request was unacceptable. The client faults instead of
// receiving a reply.
func (k *Kernel) sysReplyFault(cur int) {
	t := &k.tasks[cur]
	r := &t.save.R

	ix, ok := k.replyPeer(cur)
	if !ok {
		return
	}
	reason := abi.ReplyFaultReason(r[1])
	k.forceFault(ix, abi.ServerFault(t.currentId(cur), reason))
	r[0] = abi.RcOK
}

// replyPeer validates the reply target in r4. The bool result is false
// when the caller should stop: either it faulted, or the peer is not
// waiting on us and the no-op result is already recorded.
func (k *Kernel) replyPeer(cur int) (int, bool) {
	t := &k.tasks[cur]
	r := &t.save.R

	id := abi.TaskId(r[0] & 0xFFFF)
	if id == abi.TaskIdUnbound || id == abi.TaskIdKernel {
		k.forceFault(cur, abi.UsageFault(abi.IllegalTask))
		return 0, false
	}
	ix := id.Index()
	if ix >= len(k.tasks) {
		k.forceFault(cur, abi.UsageFault(abi.TaskOutOfRange))
		return 0, false
	}
	if ix == cur {
		k.forceFault(cur, abi.UsageFault(abi.IllegalTask))
		return 0, false
	}
	c := &k.tasks[ix]
	if c.state != InReply || c.generation != id.Generation() || c.peer != t.currentId(cur) {
		r[0] = abi.RcOK
		return 0, false
	}
	return ix, true
}

// sysBorrow implements BORROW_READ, BORROW_WRITE, and BORROW_INFO against
// a lease of the task we are currently serving. Range and index defects
// are recoverable for the borrower; only real region violations fault.
func (k *Kernel) sysBorrow(cur int, write, info bool) {
	t := &k.tasks[cur]
	r := &t.save.R

	id := abi.TaskId(r[0] & 0xFFFF)
	if id == abi.TaskIdUnbound || id == abi.TaskIdKernel {
		k.forceFault(cur, abi.UsageFault(abi.IllegalTask))
		return
	}
	ix := id.Index()
	if ix >= len(k.tasks) {
		k.forceFault(cur, abi.UsageFault(abi.TaskOutOfRange))
		return
	}
	if ix == cur {
		k.forceFault(cur, abi.UsageFault(abi.IllegalTask))
		return
	}
	lender := &k.tasks[ix]
	if lender.generation != id.Generation() || !lender.healthy() {
		r[0] = abi.DeadResponse(lender.generation)
		return
	}
	if lender.state != InReply || lender.peer != t.currentId(cur) {
		r[0] = abi.RcDefect
		return
	}
	if r[1] >= uint32(lender.leaseCount) {
		r[0] = abi.RcDefect
		return
	}
	lease := lender.leases[r[1]]

	if info {
		r[0] = abi.RcOK
		r[1] = lease.Attributes
		r[2] = lease.Length
		return
	}

	if write && !lease.Writable() || !write && !lease.Readable() {
		r[0] = abi.RcDefect
		return
	}
	off, n := r[2], r[4]
	if off+n < off || off+n > lease.Length {
		r[0] = abi.RcDefect
		return
	}

	// Resolve the lender side. Leases were validated eagerly at send, so
	// a failure here is a kernel-detected fault in the lender, and the
	// borrower sees it as the lender dying.
	lenderAttr := abi.RegionRead
	if write {
		lenderAttr = abi.RegionWrite
	}
	lmem, okL := k.resolve(lender, uSlice{lease.Base + off, n}, lenderAttr)
	if !okL {
		blame := interactFault{src: &abi.FaultInfo{
			Kind: abi.FaultMemoryAccess, Address: lease.Base + off, Source: abi.FaultSourceKernel,
		}}
		blame.apply(k, ix, cur)
		r[0] = abi.DeadResponse(lender.generation)
		return
	}

	borrowerAttr := abi.RegionWrite
	if write {
		borrowerAttr = abi.RegionRead
	}
	bmem, okB := k.resolve(t, uSlice{r[3], n}, borrowerAttr)
	if !okB {
		k.forceFault(cur, abi.MemoryFault(r[3], abi.FaultSourceKernel))
		return
	}

	// Direct memory-to-memory copy; the kernel retains nothing.
	if write {
		copy(lmem, bmem)
	} else {
		copy(bmem, lmem)
	}
	r[0] = abi.RcOK
	r[1] = n
}

// sysPost implements POST: merge notification bits into a peer.
func (k *Kernel) sysPost(cur int) {
	t := &k.tasks[cur]
	r := &t.save.R

	id := abi.TaskId(r[0] & 0xFFFF)
	if id == abi.TaskIdUnbound || id == abi.TaskIdKernel {
		k.forceFault(cur, abi.UsageFault(abi.IllegalTask))
		return
	}
	ix := id.Index()
	if ix >= len(k.tasks) {
		k.forceFault(cur, abi.UsageFault(abi.TaskOutOfRange))
		return
	}
	if k.tasks[ix].generation != id.Generation() {
		r[0] = abi.DeadResponse(k.tasks[ix].generation)
		return
	}
	k.postNotification(ix, r[1])
	r[0] = abi.RcOK
}

// postNotification merges bits and wakes the target if it is blocked in
// RECV with a matching mask. Repeated posts of the same bit coalesce.
func (k *Kernel) postNotification(ix int, bits uint32) {
	t := &k.tasks[ix]
	t.notifications |= bits
	if t.state != InRecv {
		return
	}
	if ready := t.notifications & t.recvMask(); ready != 0 {
		t.notifications &^= ready
		setNotificationResult(t, ready)
		t.state = Runnable
	}
}

// sysSetTimer implements SET_TIMER: one deadline per task, firing its
// notification bits at or after the given tick.
func (k *Kernel) sysSetTimer(cur int) {
	t := &k.tasks[cur]
	r := &t.save.R

	if r[0] == 0 {
		t.timer = taskTimer{}
		r[0] = abi.RcOK
		return
	}
	deadline := uint64(r[1]) | uint64(r[2])<<32
	t.timer = taskTimer{enabled: true, deadline: deadline, bits: r[3]}
	if deadline <= k.ticks {
		t.timer.enabled = false
		k.postNotification(cur, t.timer.bits)
	}
	r[0] = abi.RcOK
}

func (k *Kernel) sysGetTimer(cur int) {
	t := &k.tasks[cur]
	var enabled uint32
	if t.timer.enabled {
		enabled = 1
	}
	t.save.R = [8]uint32{
		abi.RcOK,
		uint32(k.ticks),
		uint32(k.ticks >> 32),
		enabled,
		uint32(t.timer.deadline),
		uint32(t.timer.deadline >> 32),
	}
}

// sysIrqControl enables or disables the notification for interrupts the
// task owns, selected by notification bits. Arrivals while disabled are
// latched and post on re-enable.
func (k *Kernel) sysIrqControl(cur int) {
	t := &k.tasks[cur]
	r := &t.save.R

	enable := r[1] != 0
	matched := false
	for _, line := range k.irqs {
		if line.owner != cur || line.bits&r[0] == 0 {
			continue
		}
		matched = true
		line.enabled = enable
		if enable && line.pending {
			line.pending = false
			k.postNotification(cur, line.bits)
		}
	}
	if !matched {
		k.forceFault(cur, abi.UsageFault(abi.NoIrq))
		return
	}
	r[0] = abi.RcOK
}

// sysPanic records the task's dying words and faults it. The message read
// is best effort; a bad range simply leaves the epitaph empty.
func (k *Kernel) sysPanic(cur int) {
	t := &k.tasks[cur]
	msg := uSlice{t.save.R[0], t.save.R[1]}
	if msg.len > EpitaphLen {
		msg.len = EpitaphLen
	}
	if b, ok := k.resolve(t, msg, abi.RegionRead); ok {
		t.setEpitaph(b)
	}
	k.forceFault(cur, abi.PanicFault())
}

// sysRefreshTaskId restamps a handle with the named slot's current
// generation. This is how a client learns its peer restarted.
func (k *Kernel) sysRefreshTaskId(cur int) {
	t := &k.tasks[cur]
	r := &t.save.R

	id := abi.TaskId(r[0] & 0xFFFF)
	if id == abi.TaskIdUnbound || id == abi.TaskIdKernel {
		r[0] = abi.RcOK
		r[1] = uint32(id)
		return
	}
	ix := id.Index()
	if ix >= len(k.tasks) {
		k.forceFault(cur, abi.UsageFault(abi.TaskOutOfRange))
		return
	}
	r[0] = abi.RcOK
	r[1] = uint32(id.WithGeneration(k.tasks[ix].generation))
}
