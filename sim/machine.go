// Package sim is the virtual board: a single-core machine that executes
// application images against the kernel. Task bodies are Go functions
// bound by descriptor name; the machine runs each as a goroutine but
// enforces the single-runnable invariant by strict handoff: exactly one
// task goroutine is released at a time, and it hands control back only by
// trapping. Interrupts and ticks are delivered at trap boundaries, which
// models coalesced instruction-boundary delivery.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"ember/abi"
	"ember/image"
	"ember/kern"
	"ember/usr"
)

// Binding attaches a Go body to a descriptor task name.
type Binding struct {
	Name string
	Body func(*usr.Env)
}

type trapKind uint8

const (
	trapSyscall trapKind = iota + 1
	trapWFI
	trapExit
	trapMemory
)

type trap struct {
	index int
	kind  trapKind
	addr  uint32 // trapMemory only
}

type resumeMsg struct {
	kill bool
}

// incarnation tracks one spawn of a task slot. Restarts kill the old
// goroutine and spawn a fresh one under the new generation.
type incarnation struct {
	gen    abi.Generation
	resume chan resumeMsg
	dead   bool
}

// Machine owns the kernel and everything around it. All methods except
// Enqueue and InjectSerial must run on the machine's own goroutine (the
// test, or the Run loop).
type Machine struct {
	k      *kern.Kernel
	cpu    *cpu
	bodies map[string]func(*usr.Env)
	incs   []*incarnation

	trapCh chan trap
	ctrlCh chan func(*kern.Kernel)
	rxCh   chan []byte

	devices []Device
	uart    *UART

	wfi  []bool
	next int
}

// New builds a machine for img. Every task named by the image must have a
// binding.
func New(img *image.Image, bindings []Binding, devices []Device) (*Machine, error) {
	m := &Machine{
		bodies:  make(map[string]func(*usr.Env)),
		trapCh:  make(chan trap),
		ctrlCh:  make(chan func(*kern.Kernel), 16),
		rxCh:    make(chan []byte, 16),
		devices: devices,
	}
	for _, b := range bindings {
		m.bodies[b.Name] = b.Body
	}
	for _, d := range devices {
		if u, ok := d.(*UART); ok {
			m.uart = u
		}
	}

	m.cpu = &cpu{m: m}
	k, err := kern.New(img, m.cpu)
	if err != nil {
		return nil, err
	}
	m.k = k

	n := k.TaskCount()
	m.incs = make([]*incarnation, n)
	m.wfi = make([]bool, n)
	for i := 0; i < n; i++ {
		if _, ok := m.bodies[k.TaskName(i)]; !ok {
			return nil, fmt.Errorf("sim: no body bound for task %q", k.TaskName(i))
		}
	}
	return m, nil
}

// Kernel exposes the kernel for the monitor and tests.
func (m *Machine) Kernel() *kern.Kernel { return m.k }

// Start spawns all task incarnations and runs until the machine idles.
func (m *Machine) Start() {
	for i := range m.incs {
		m.spawn(i)
	}
	m.next = m.k.CurrentIndex()
	m.drain()
}

func (m *Machine) spawn(i int) {
	inc := &incarnation{
		gen:    m.k.Generation(i),
		resume: make(chan resumeMsg),
	}
	m.incs[i] = inc

	env := m.newEnv(i, inc)
	body := m.bodies[m.k.TaskName(i)]
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(taskKilled); ok {
					return
				}
				panic(r)
			}
		}()
		if msg := <-inc.resume; msg.kill {
			return
		}
		body(env)
		// Body ran off its end; that is a fault, not an exit.
		m.trapFrom(i, inc, trap{index: i, kind: trapExit})
	}()
}

// newEnv builds the task-side environment: its CPU port and a window over
// its data region (the largest writable non-device region that is not the
// stack).
func (m *Machine) newEnv(i int, inc *incarnation) *usr.Env {
	desc := &m.k.Image().Tasks[i]
	port := &port{m: m, index: i, inc: inc}

	var data *image.RegionDesc
	for r := range desc.Regions {
		reg := &desc.Regions[r]
		if reg.Attributes&abi.RegionWrite == 0 || reg.Attributes&abi.RegionDevice != 0 {
			continue
		}
		if reg.Contains(desc.InitialStack-1, 1) {
			continue // the stack region
		}
		if data == nil || reg.Size > data.Size {
			data = reg
		}
	}
	if data == nil {
		panic(fmt.Sprintf("sim: task %q has no data region", desc.Name))
	}
	window, ok := m.k.Window(data.Base, data.Size)
	if !ok {
		panic(fmt.Sprintf("sim: task %q data region unbacked", desc.Name))
	}
	return usr.NewEnv(port, abi.TaskIdFor(i, inc.gen), data.Base, window)
}

// trapFrom submits a trap and blocks until this incarnation is resumed.
// A kill resume unwinds the goroutine.
func (m *Machine) trapFrom(i int, inc *incarnation, t trap) {
	m.trapCh <- t
	if msg := <-inc.resume; msg.kill {
		panic(taskKilled{})
	}
}

type taskKilled struct{}

// drain runs released tasks until the machine idles: the kernel reports
// no runnable task, the best task is parked in WFI, or the kernel died.
func (m *Machine) drain() {
	for {
		next := m.next
		if next == kern.IdleTask || m.k.Death.Dead {
			return
		}
		if m.wfi[next] {
			return
		}
		inc := m.incs[next]
		inc.resume <- resumeMsg{}
		ev := <-m.trapCh
		m.service(ev)
		m.syncIncarnations()
	}
}

func (m *Machine) service(ev trap) {
	switch ev.kind {
	case trapSyscall:
		m.next = m.k.Syscall()
	case trapWFI:
		m.wfi[ev.index] = true
		// No kernel entry; the task stays current until an event.
	case trapExit:
		m.killIncarnation(ev.index)
		m.next = m.k.ForceFault(ev.index, abi.FaultInfo{Kind: abi.FaultIllegalInstruction})
	case trapMemory:
		m.killIncarnation(ev.index)
		m.next = m.k.ForceFault(ev.index, abi.MemoryFault(ev.addr, abi.FaultSourceUser))
	}
}

// killIncarnation marks the current goroutine of slot i dead. The
// goroutine itself is parked in trapFrom; it unwinds on its next resume,
// which syncIncarnations or a restart will deliver.
func (m *Machine) killIncarnation(i int) {
	inc := m.incs[i]
	if inc.dead {
		return
	}
	inc.dead = true
	// The goroutine is parked in trapFrom waiting on resume; release it
	// into its unwind.
	inc.resume <- resumeMsg{kill: true}
}

// syncIncarnations respawns any slot whose generation moved (restart).
func (m *Machine) syncIncarnations() {
	for i, inc := range m.incs {
		if m.k.Generation(i) == inc.gen {
			continue
		}
		if !inc.dead {
			inc.dead = true
			inc.resume <- resumeMsg{kill: true}
		}
		m.wfi[i] = false
		m.spawn(i)
	}
}

func (m *Machine) wake() {
	for i := range m.wfi {
		m.wfi[i] = false
	}
}

// Tick delivers one timer tick and runs until the machine idles.
func (m *Machine) Tick() {
	m.wake()
	m.next = m.k.Tick()
	m.drain()
}

// StepTicks delivers n ticks.
func (m *Machine) StepTicks(n int) {
	for i := 0; i < n; i++ {
		m.Tick()
	}
}

// InjectIrq raises an interrupt line and runs until the machine idles.
func (m *Machine) InjectIrq(n uint16) {
	m.wake()
	m.next = m.k.Irq(n)
	m.drain()
}

// InjectSerial queues bytes for the UART's receive FIFO. Safe from any
// goroutine; the Run loop delivers them at the next trap boundary. Tests
// driving the machine directly should use PushSerial instead.
func (m *Machine) InjectSerial(b []byte) {
	cp := append([]byte(nil), b...)
	select {
	case m.rxCh <- cp:
	default:
	}
}

// PushSerial feeds the UART FIFO synchronously on the machine goroutine.
func (m *Machine) PushSerial(b []byte) {
	if m.uart == nil {
		return
	}
	m.uart.push(b)
	m.InjectIrq(m.uart.Irq)
}

// Enqueue schedules fn on the machine goroutine between traps. Safe from
// any goroutine; used by the monitor.
func (m *Machine) Enqueue(fn func(*kern.Kernel)) {
	m.ctrlCh <- fn
}

// runControl executes fn with kernel access and resumes execution, since
// monitor commands may have made tasks runnable.
func (m *Machine) runControl(fn func(*kern.Kernel)) {
	m.wake()
	fn(m.k)
	m.syncIncarnations()
	m.next = m.k.CurrentIndex()
	m.drain()
}

// Halted reports whether nothing can ever run again without outside
// intervention: kernel death.
func (m *Machine) Halted() bool { return m.k.Death.Dead }

// ErrKernelDeath reports a halted kernel from Run.
var ErrKernelDeath = errors.New("sim: kernel death")

// Run drives the machine from wall-clock time: one kernel tick per tick
// interval, serial RX and control commands delivered between traps. It
// returns when ctx ends or the kernel dies.
func (m *Machine) Run(ctx context.Context, hz int) error {
	if hz <= 0 {
		hz = 100
	}
	m.Start()

	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		if m.Halted() {
			return fmt.Errorf("%w: %s", ErrKernelDeath, m.k.Death.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick()
		case b := <-m.rxCh:
			m.PushSerial(b)
		case fn := <-m.ctrlCh:
			m.runControl(fn)
		}
	}
}

// ServeSerial pumps reader bytes into the UART until ctx ends. Run it on
// its own goroutine next to Run.
func (m *Machine) ServeSerial(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.InjectSerial(buf[:n])
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
