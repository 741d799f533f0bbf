package kern

import (
	"testing"

	"ember/abi"
	"ember/image"
)

func TestTimerFiresOnDeadline(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "w", Priority: 4, Start: true},
	)
	const W = 1
	const bits = uint32(0x8)

	s := syscall(k, W, abi.SysSetTimer, [8]uint32{1, 3, 0, bits})
	if s.R[0] != abi.RcOK {
		t.Fatalf("set_timer rc = %#x", s.R[0])
	}
	syscall(k, W, abi.SysRecv, recvArgs(bits, 0, 0, abi.TaskIdKernel))
	wantState(t, k, W, InRecv)

	k.Tick()
	k.Tick()
	wantState(t, k, W, InRecv)
	k.Tick()
	wantState(t, k, W, Runnable)
	if s.R[1] != uint32(abi.TaskIdKernel) || s.R[2] != bits {
		t.Fatalf("wakeup sender=%#x bits=%#x", s.R[1], s.R[2])
	}

	// One-shot: the next tick does not fire again.
	syscall(k, W, abi.SysRecv, recvArgs(bits, 0, 0, abi.TaskIdKernel))
	k.Tick()
	wantState(t, k, W, InRecv)
}

// A deadline at or before the current tick fires immediately rather than
// waiting for the 64-bit timebase to wrap.
func TestTimerPastDeadlineFiresNow(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "w", Priority: 4, Start: true},
	)
	const W = 1

	k.Tick()
	k.Tick()
	syscall(k, W, abi.SysSetTimer, [8]uint32{1, 1, 0, 0x8})
	if k.tasks[W].timer.enabled {
		t.Fatalf("past-deadline timer left armed")
	}
	if k.tasks[W].notifications&0x8 == 0 {
		t.Fatalf("past-deadline timer did not post")
	}
}

func TestStopAndReadTimer(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "w", Priority: 4, Start: true},
	)
	const W = 1

	k.Tick()
	syscall(k, W, abi.SysSetTimer, [8]uint32{1, 100, 0, 0x8})
	s := syscall(k, W, abi.SysGetTimer, [8]uint32{})
	if s.R[1] != 1 || s.R[2] != 0 {
		t.Fatalf("get_timer now = %d", uint64(s.R[1])|uint64(s.R[2])<<32)
	}
	if s.R[3] != 1 || s.R[4] != 100 {
		t.Fatalf("get_timer deadline = enabled=%d %d", s.R[3], s.R[4])
	}

	syscall(k, W, abi.SysSetTimer, [8]uint32{0})
	s = syscall(k, W, abi.SysGetTimer, [8]uint32{})
	if s.R[3] != 0 {
		t.Fatalf("timer still enabled after stop")
	}
}

const irqBit = uint32(0x4)

func irqKernel(t *testing.T) (*Kernel, *SavedState) {
	t.Helper()
	k, _ := newTestKernel(t,
		image.TaskConfig{
			Name: "drv", Priority: 2, Start: true,
			Irqs: []image.IrqDesc{{Irq: 9, Notification: irqBit}},
		},
	)
	return k, &k.tasks[1].save
}

func TestIrqDelivery(t *testing.T) {
	k, s := irqKernel(t)
	const Drv = 1

	syscall(k, Drv, abi.SysIrqControl, [8]uint32{irqBit, 1})
	if s.R[0] != abi.RcOK {
		t.Fatalf("irq_control rc = %#x", s.R[0])
	}
	syscall(k, Drv, abi.SysRecv, recvArgs(irqBit, 0, 0, abi.TaskIdKernel))
	wantState(t, k, Drv, InRecv)

	k.Irq(9)
	wantState(t, k, Drv, Runnable)
	if s.R[1] != uint32(abi.TaskIdKernel) || s.R[2] != irqBit {
		t.Fatalf("irq wakeup sender=%#x bits=%#x", s.R[1], s.R[2])
	}
}

// Arrivals on a disabled line latch, and repeated firings collapse into
// one posted bit on re-enable.
func TestIrqLatchAndCoalesce(t *testing.T) {
	k, s := irqKernel(t)
	const Drv = 1

	k.Irq(9)
	k.Irq(9)
	k.Irq(9)
	if k.tasks[Drv].notifications != 0 {
		t.Fatalf("disabled line posted")
	}

	syscall(k, Drv, abi.SysIrqControl, [8]uint32{irqBit, 1})
	if k.tasks[Drv].notifications != irqBit {
		t.Fatalf("notifications = %#x after re-enable", k.tasks[Drv].notifications)
	}

	// Drain; one recv consumes the whole coalesced burst.
	syscall(k, Drv, abi.SysRecv, recvArgs(irqBit, 0, 0, abi.TaskIdKernel))
	if s.R[2] != irqBit {
		t.Fatalf("recv bits = %#x", s.R[2])
	}
	if k.tasks[Drv].notifications != 0 {
		t.Fatalf("bits not consumed")
	}
}

func TestIrqControlUnowned(t *testing.T) {
	k, _ := irqKernel(t)
	// Bits matching no owned line are a usage fault.
	syscall(k, 1, abi.SysIrqControl, [8]uint32{0x80, 1})
	wantFaultKind(t, k, 1, abi.FaultSyscallUsage)
	if k.tasks[1].fault.info.Usage != abi.NoIrq {
		t.Fatalf("usage = %s", k.tasks[1].fault.info.Usage)
	}
}

func TestSpuriousIrqIgnored(t *testing.T) {
	k, _ := irqKernel(t)
	k.Irq(77)
	for i := range k.tasks {
		if k.tasks[i].notifications != 0 {
			t.Fatalf("spurious irq posted to task %d", i)
		}
	}
	if k.Death.Dead {
		t.Fatalf("spurious irq killed the kernel")
	}
}
