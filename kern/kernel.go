package kern

import (
	"fmt"

	"ember/abi"
	"ember/image"
)

// irqLine routes one interrupt number to its owning task.
type irqLine struct {
	owner   int
	bits    uint32
	enabled bool
	pending bool
}

// DeathRecord is the kernel's post-mortem buffer. Debuggers and the
// monitor read it after a halt; its name and layout stay stable for
// external tooling.
type DeathRecord struct {
	Dead   bool
	Reason [80]byte
	Len    uint8
}

// String returns the recorded reason, or "" while alive.
func (d *DeathRecord) String() string {
	return string(d.Reason[:d.Len])
}

// Kernel is the whole kernel state for one boot: the task table, the
// board memory, the interrupt table, the timebase, and the log. There is
// exactly one per boot and no hidden statics; everything threads through
// this struct.
type Kernel struct {
	tasks []Task
	img   *image.Image
	mem   *memory
	arch  Arch

	current int
	ticks   uint64

	irqs map[uint16]*irqLine

	supervisor int
	faultBits  uint32

	// sendStamp orders senders queued on one destination.
	sendStamp uint64

	klog  Klog
	Death DeathRecord
}

// New builds the initial task table from the descriptor and selects the
// first task. The descriptor is bounds-checked defensively: a malformed
// image is a build bug, but protection is never programmed from garbage.
func New(img *image.Image, arch Arch) (*Kernel, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	flash, err := image.Encode(img)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		img:        img,
		mem:        newMemory(img, flash),
		arch:       arch,
		current:    IdleTask,
		supervisor: int(img.Supervisor),
		faultBits:  img.FaultNotification,
		irqs:       make(map[uint16]*irqLine),
	}

	k.tasks = make([]Task, len(img.Tasks))
	for i := range k.tasks {
		t := &k.tasks[i]
		t.desc = &img.Tasks[i]
		t.initSave()
		if t.desc.StartAtBoot() {
			t.state = Runnable
		}
		for _, q := range t.desc.Irqs {
			if _, ok := k.irqs[q.Irq]; ok {
				return nil, fmt.Errorf("kern: irq %d double-owned", q.Irq)
			}
			k.irqs[q.Irq] = &irqLine{owner: i, bits: q.Notification}
		}
	}

	k.klogf("boot: image %#x, %d tasks, supervisor %s",
		img.ImageId, len(k.tasks), img.Tasks[k.supervisor].Name)
	k.schedule()
	return k, nil
}

// CurrentIndex returns the running task index, or IdleTask.
func (k *Kernel) CurrentIndex() int { return k.current }

// TaskCount returns the size of the task table.
func (k *Kernel) TaskCount() int { return len(k.tasks) }

// TaskName returns the descriptor name of a slot.
func (k *Kernel) TaskName(index int) string { return k.tasks[index].desc.Name }

// SavedState exposes a task's register file. The machine is the CPU: it
// writes syscall arguments before Syscall and reads results after.
func (k *Kernel) SavedState(index int) *SavedState { return &k.tasks[index].save }

// Generation returns a slot's current generation.
func (k *Kernel) Generation(index int) abi.Generation {
	return k.tasks[index].generation
}

// Image returns the descriptor this kernel booted from.
func (k *Kernel) Image() *image.Image { return k.img }

// Window resolves a range of board memory with no rights check. The
// machine uses it to back plain loads and stores after its own
// protection check has passed.
func (k *Kernel) Window(addr, n uint32) ([]byte, bool) { return k.mem.view(addr, n) }

// Ticks returns the current timebase.
func (k *Kernel) Ticks() uint64 { return k.ticks }

// Epitaph returns the panic message a task left behind, if any.
func (k *Kernel) Epitaph(index int) string {
	t := &k.tasks[index]
	return string(t.epitaph[:t.epitaphLen])
}

// Status reports one slot in wire form, as served by kipc and read by the
// monitor.
func (k *Kernel) Status(index int) abi.TaskStatus {
	t := &k.tasks[index]
	st := abi.TaskStatus{
		Generation:    t.generation,
		Priority:      t.desc.Priority,
		Notifications: t.notifications,
		TimerEnabled:  t.timer.enabled,
		TimerDeadline: t.timer.deadline,
		TimerBits:     t.timer.bits,
	}

	state, peer := t.state, t.peer
	if t.fault != nil {
		st.Faulted = true
		st.Fault = t.fault.info
		state, peer = t.fault.prior, t.fault.peer
	}
	switch state {
	case Stopped, Faulted:
		st.State = abi.TaskStateStopped
	case Runnable:
		st.State = abi.TaskStateRunnable
	case InSend:
		st.State = abi.TaskStateInSend
		st.Peer = peer
	case InReply:
		st.State = abi.TaskStateInReply
		st.Peer = peer
	case InRecv:
		st.State = abi.TaskStateInRecv
	}
	return st
}

// schedule picks the next task and performs the switch. Strict priority:
// the lowest priority number wins; among equals the running task keeps
// the CPU, otherwise the lowest index. Finding nothing is the idle state,
// not an error.
func (k *Kernel) schedule() int {
	if k.Death.Dead {
		k.current = IdleTask
		return IdleTask
	}

	best := IdleTask
	for i := range k.tasks {
		if !k.tasks[i].runnable() {
			continue
		}
		switch {
		case best == IdleTask:
			best = i
		case k.tasks[i].desc.Priority < k.tasks[best].desc.Priority:
			best = i
		case k.tasks[i].desc.Priority == k.tasks[best].desc.Priority && i == k.current:
			best = i
		}
	}

	k.switchTo(best)
	return best
}

// switchTo loads the destination's region table into the protection
// hardware and makes it current. Must not be interleaved with task
// execution; the machine guarantees that by construction.
func (k *Kernel) switchTo(next int) {
	if next == k.current {
		return
	}
	if next != IdleTask {
		k.arch.ApplyRegions(next, k.tasks[next].desc.Regions)
	}
	k.current = next
}

// die halts the kernel over a violated kernel invariant. Task misbehavior
// never comes here; it becomes task state instead. The reason lands in
// the death record for post-mortem inspection.
func (k *Kernel) die(reason string) {
	if k.Death.Dead {
		// Recursive death: keep the first record.
		k.arch.Halt()
		return
	}
	k.Death.Dead = true
	k.Death.Len = uint8(copy(k.Death.Reason[:], reason))
	k.klogf("kernel death: %s", reason)
	k.arch.Halt()
}

func (k *Kernel) klogf(format string, args ...any) {
	k.klog.Append(fmt.Sprintf(format, args...))
}

// Klog returns the kernel log ring.
func (k *Kernel) Klog() *Klog { return &k.klog }
