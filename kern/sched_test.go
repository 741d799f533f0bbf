package kern

import (
	"testing"

	"ember/abi"
	"ember/image"
)

func TestStrictPriority(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "hi", Priority: 2, Start: true},
		image.TaskConfig{Name: "lo", Priority: 6, Start: true},
	)
	// The supervisor outranks everyone at boot.
	if k.CurrentIndex() != 0 {
		t.Fatalf("boot task = %d, want supervisor", k.CurrentIndex())
	}

	// Supervisor blocks; the highest-priority runnable follows.
	syscall(k, 0, abi.SysRecv, recvArgs(faultBit, 0, 0, abi.TaskIdUnbound))
	if k.CurrentIndex() != 1 {
		t.Fatalf("current = %d, want hi", k.CurrentIndex())
	}

	syscall(k, 1, abi.SysRecv, recvArgs(0x8, 0, 0, abi.TaskIdKernel))
	if k.CurrentIndex() != 2 {
		t.Fatalf("current = %d, want lo", k.CurrentIndex())
	}
}

func TestIdleWhenNothingRunnable(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "w", Priority: 4, Start: true},
	)
	syscall(k, 0, abi.SysRecv, recvArgs(faultBit, 0, 0, abi.TaskIdUnbound))
	syscall(k, 1, abi.SysRecv, recvArgs(0x8, 0, 0, abi.TaskIdKernel))
	if k.CurrentIndex() != IdleTask {
		t.Fatalf("current = %d, want idle", k.CurrentIndex())
	}

	// A tick that fires nothing stays idle; one that wakes a task does not.
	if got := k.Tick(); got != IdleTask {
		t.Fatalf("tick next = %d, want idle", got)
	}
	if got := k.Post(1, 0x8); got != 1 {
		t.Fatalf("post next = %d, want 1", got)
	}
}

// The running task keeps the CPU among equal priorities; preemption needs
// a strictly better priority.
func TestEqualPriorityNoPreemption(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "a", Priority: 4, Start: true},
		image.TaskConfig{Name: "b", Priority: 4, Start: true},
	)
	syscall(k, 0, abi.SysRecv, recvArgs(faultBit, 0, 0, abi.TaskIdUnbound))
	if k.CurrentIndex() != 1 {
		t.Fatalf("current = %d, want a", k.CurrentIndex())
	}

	// b runs a syscall; a is equal priority and b was current, so b stays.
	syscall(k, 2, abi.SysGetTimer, [8]uint32{})
	if k.CurrentIndex() != 2 {
		t.Fatalf("current = %d, want b to keep the CPU", k.CurrentIndex())
	}
}

func TestStoppedNeverScheduled(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "held", Priority: 1, Start: false},
		image.TaskConfig{Name: "w", Priority: 6, Start: true},
	)
	syscall(k, 0, abi.SysRecv, recvArgs(faultBit, 0, 0, abi.TaskIdUnbound))
	if k.CurrentIndex() != 2 {
		t.Fatalf("current = %d; held task must stay stopped", k.CurrentIndex())
	}

	// Until the supervisor releases it.
	k.Restart(1, true)
	if k.CurrentIndex() != 1 {
		t.Fatalf("current = %d, want released task", k.CurrentIndex())
	}
}

func TestRegionsAppliedOnSwitch(t *testing.T) {
	k, arch := newTestKernel(t,
		image.TaskConfig{Name: "a", Priority: 4, Start: true},
		image.TaskConfig{Name: "b", Priority: 4, Start: true},
	)
	before := arch.applies
	syscall(k, 0, abi.SysRecv, recvArgs(faultBit, 0, 0, abi.TaskIdUnbound))
	if arch.applies != before+1 {
		t.Fatalf("applies = %d, want %d", arch.applies, before+1)
	}

	// A syscall that does not change the running task reprograms nothing.
	before = arch.applies
	syscall(k, 1, abi.SysGetTimer, [8]uint32{})
	if arch.applies != before {
		t.Fatalf("redundant reprogram on non-switch")
	}
}
