// Package usr is the task-side runtime: syscall stubs over the virtual
// CPU, plus a tiny arena allocator over the task's own data region so
// every buffer a task presents to the kernel is backed by real board
// memory at a real virtual address.
package usr

import "ember/abi"

// CPU is the task-side view of the processor: trap in with arguments,
// resume with results. Implementations enforce the single-runnable
// invariant; a call here may suspend the task indefinitely.
type CPU interface {
	// Syscall traps into the kernel and blocks until this task is
	// scheduled again. The result registers are r4..r11 on resume.
	Syscall(num abi.Sysnum, args [8]uint32) [8]uint32

	// WaitForInterrupt parks the task until the machine delivers any
	// external event. The idle task lives here.
	WaitForInterrupt()

	// Load32 and Store32 are the machine-mediated memory instructions,
	// required for device (MMIO) regions. Accesses outside the task's
	// regions fault it.
	Load32(addr uint32) uint32
	Store32(addr uint32, val uint32)
}

// Buf is a task-owned buffer: real bytes at a board virtual address.
type Buf struct {
	Addr uint32
	B    []byte
}

// Len returns the buffer length as the ABI sees it.
func (b Buf) Len() uint32 { return uint32(len(b.B)) }

// Slice returns a sub-buffer of b.
func (b Buf) Slice(off, n int) Buf {
	return Buf{Addr: b.Addr + uint32(off), B: b.B[off : off+n : off+n]}
}

// Lease pairs a buffer with the access it grants the server.
type Lease struct {
	Attributes uint32
	Buf        Buf
}

// Env is one task's execution environment.
type Env struct {
	cpu      CPU
	id       abi.TaskId
	dataBase uint32
	data     []byte
	next     uint32

	leaseTab Buf
	scratch  Buf
}

// NewEnv wires a task body to its CPU and data region. The data slice is
// the real backing of the region starting at dataBase.
func NewEnv(cpu CPU, id abi.TaskId, dataBase uint32, data []byte) *Env {
	e := &Env{cpu: cpu, id: id, dataBase: dataBase, data: data}
	e.leaseTab = e.Alloc(abi.MaxLeases * abi.LeaseSize)
	e.scratch = e.Alloc(96)
	return e
}

// TaskId returns this incarnation's identity.
func (e *Env) TaskId() abi.TaskId { return e.id }

// Alloc carves n bytes out of the task's data region. There is no free:
// tasks allocate their working buffers once, up front.
func (e *Env) Alloc(n int) Buf {
	// 4-byte alignment keeps word access simple.
	e.next = (e.next + 3) &^ 3
	if int(e.next)+n > len(e.data) {
		e.Panic("arena exhausted")
	}
	// The full slice expression caps the buffer at its own length, so an
	// append can never grow it into a neighboring allocation.
	b := Buf{Addr: e.dataBase + e.next, B: e.data[e.next : int(e.next)+n : int(e.next)+n]}
	e.next += uint32(n)
	return b
}

// AllocString places s in the data region.
func (e *Env) AllocString(s string) Buf {
	b := e.Alloc(len(s))
	copy(b.B, s)
	return b
}

// WaitForInterrupt parks the task until any external event.
func (e *Env) WaitForInterrupt() { e.cpu.WaitForInterrupt() }

// Load32 reads a word through the machine, reaching MMIO regions.
func (e *Env) Load32(addr uint32) uint32 { return e.cpu.Load32(addr) }

// Store32 writes a word through the machine, reaching MMIO regions.
func (e *Env) Store32(addr uint32, val uint32) { e.cpu.Store32(addr, val) }
