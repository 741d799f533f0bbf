// Package kern implements the microkernel: a fixed task table, a
// priority scheduler, synchronous rendezvous IPC with borrowed-memory
// leases, notification delivery, and fault isolation with
// supervisor-driven restarts.
//
// The kernel is a pure state machine. It owns no goroutines and never
// blocks: every entry point (Syscall, Tick, Irq) runs to completion and
// returns the index of the next task to run. The surrounding machine,
// virtual or real, executes that task until it traps back in.
package kern

import "ember/image"

// Arch is the architecture backend: the minimal surface the portable
// kernel needs from the hardware (or the virtual board standing in for
// it).
type Arch interface {
	// ApplyRegions programs memory protection for the task about to
	// run. It is called under the kernel's control, never concurrently
	// with task execution.
	ApplyRegions(index int, regions []image.RegionDesc)

	// Halt stops the machine after kernel death. It must not return
	// control to task code.
	Halt()
}

// IdleTask is the scheduling sentinel for "no runnable task". It is a
// valid idle state, not an error; the machine waits for an interrupt.
const IdleTask = -1
