package kern

import "ember/abi"

// interactFault assigns blame when an IPC operation between two tasks
// finds a bad range on one or both sides. It is discharged into task
// state by apply.
type interactFault struct {
	src *abi.FaultInfo
	dst *abi.FaultInfo
}

// apply faults the blamed participants and reports whether any fault
// fired.
func (f interactFault) apply(k *Kernel, srcIx, dstIx int) bool {
	if f.src != nil {
		k.forceFault(srcIx, *f.src)
	}
	if f.dst != nil {
		k.forceFault(dstIx, *f.dst)
	}
	return f.src != nil || f.dst != nil
}

// ForceFault marks a task Faulted from outside the syscall path (the
// machine's protection hardware, or the monitor) and reschedules.
func (k *Kernel) ForceFault(index int, info abi.FaultInfo) int {
	k.forceFault(index, info)
	return k.schedule()
}

// forceFault transitions a task to Faulted regardless of what it was
// doing and unblocks every peer that was waiting on it with a dead-peer
// response. The generation only changes at restart, so the fault stays
// inspectable under the task's current id.
//
// A supervisor fault has nobody left to recover it; that is a kernel
// death.
func (k *Kernel) forceFault(index int, info abi.FaultInfo) {
	t := &k.tasks[index]
	if t.fault != nil {
		// Keep the first fault; later ones add no information.
		k.klogf("fault: %s: %s (already faulted)", t.desc.Name, info)
		return
	}
	t.fault = &faultRecord{info: info, prior: t.state, peer: t.peer}
	t.state = Faulted
	k.klogf("fault: %s: %s", t.desc.Name, info)

	k.wakeWaitersOn(index, abi.DeadResponse(t.generation))

	if index == k.supervisor {
		k.die("supervisor faulted: " + info.String())
		return
	}
	k.postNotification(k.supervisor, k.faultBits)
}

// Restart reinitializes a task slot from its immutable descriptor: fresh
// saved state, next generation, cleared notifications, timer, and irq
// enables. Every outstanding handle to the old incarnation is now
// permanently stale. Reached via supervisor kipc or the monitor.
func (k *Kernel) Restart(index int, start bool) int {
	k.restartTask(index, start)
	return k.schedule()
}

func (k *Kernel) restartTask(index int, start bool) {
	t := &k.tasks[index]
	t.generation = t.generation.Next()
	t.fault = nil
	t.initSave()
	t.notifications = 0
	t.timer = taskTimer{}
	t.leaseCount = 0
	t.arrival = 0
	t.epitaphLen = 0
	for _, line := range k.irqs {
		if line.owner == index {
			line.enabled = false
			line.pending = false
		}
	}
	if start {
		t.state = Runnable
	} else {
		t.state = Stopped
	}

	// Anyone still blocked on the old incarnation learns the new
	// generation from the dead response.
	k.wakeWaitersOn(index, abi.DeadResponse(t.generation))
	k.klogf("restart: %s gen %d %s", t.desc.Name, t.generation, t.state)
}

// wakeWaitersOn makes every task blocked InSend or InReply on slot ix
// runnable with rc in its result register.
func (k *Kernel) wakeWaitersOn(ix int, rc uint32) {
	for i := range k.tasks {
		p := &k.tasks[i]
		if i == ix {
			continue
		}
		if p.state != InSend && p.state != InReply {
			continue
		}
		if p.peer.Index() != ix {
			continue
		}
		p.save.R[0] = rc
		p.state = Runnable
		p.leaseCount = 0
	}
}

// Post merges notification bits into a task from outside the syscall path
// (the monitor) and reschedules.
func (k *Kernel) Post(index int, bits uint32) int {
	k.postNotification(index, bits)
	return k.schedule()
}
