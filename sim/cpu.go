package sim

import (
	"ember/abi"
	"ember/image"
	"ember/kern"
	"ember/usr"
)

// cpu is the machine's architecture backend: it records the protection
// state the kernel programs for the running task and enforces it on
// machine-mediated loads and stores.
type cpu struct {
	m       *Machine
	regions []image.RegionDesc
	applied int // how many times protection was reprogrammed
	halted  bool
}

func (c *cpu) ApplyRegions(index int, regions []image.RegionDesc) {
	c.regions = regions
	c.applied++
}

func (c *cpu) Halt() {
	c.halted = true
}

// grants reports whether the programmed regions allow the access.
func (c *cpu) grants(addr uint32, write bool) (*image.RegionDesc, bool) {
	need := abi.RegionRead
	if write {
		need = abi.RegionWrite
	}
	for i := range c.regions {
		r := &c.regions[i]
		if r.Attributes&need != need {
			continue
		}
		if r.Contains(addr, 4) {
			return r, true
		}
	}
	return nil, false
}

// port is one task's view of the CPU; it implements usr.CPU by
// rendezvousing with the machine loop.
type port struct {
	m     *Machine
	index int
	inc   *incarnation
}

func (p *port) Syscall(num abi.Sysnum, args [8]uint32) [8]uint32 {
	save := p.m.k.SavedState(p.index)
	save.R = args
	save.Sysnum = num
	p.m.trapFrom(p.index, p.inc, trap{index: p.index, kind: trapSyscall})
	return p.m.k.SavedState(p.index).R
}

func (p *port) WaitForInterrupt() {
	p.m.trapFrom(p.index, p.inc, trap{index: p.index, kind: trapWFI})
}

// Load32 executes a load under the programmed protection. Device regions
// route to their virtual device; violations fault the task and never
// return.
func (p *port) Load32(addr uint32) uint32 {
	r, ok := p.m.cpu.grants(addr, false)
	if !ok {
		p.m.trapFrom(p.index, p.inc, trap{index: p.index, kind: trapMemory, addr: addr})
		panic(taskKilled{}) // unreachable; trapMemory kills
	}
	if r.Attributes&abi.RegionDevice != 0 {
		if d := p.m.deviceAt(addr); d != nil {
			return d.Load(addr - d.Base())
		}
		return 0
	}
	if b, ok := p.m.k.Window(addr, 4); ok {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	return 0
}

func (p *port) Store32(addr uint32, val uint32) {
	r, ok := p.m.cpu.grants(addr, true)
	if !ok {
		p.m.trapFrom(p.index, p.inc, trap{index: p.index, kind: trapMemory, addr: addr})
		panic(taskKilled{})
	}
	if r.Attributes&abi.RegionDevice != 0 {
		if d := p.m.deviceAt(addr); d != nil {
			d.Store(addr-d.Base(), val)
		}
		return
	}
	if b, ok := p.m.k.Window(addr, 4); ok {
		b[0] = byte(val)
		b[1] = byte(val >> 8)
		b[2] = byte(val >> 16)
		b[3] = byte(val >> 24)
	}
}

var _ usr.CPU = (*port)(nil)
var _ kern.Arch = (*cpu)(nil)

// Device is a virtual MMIO peripheral mapped at a device segment.
type Device interface {
	Name() string
	Base() uint32
	Size() uint32
	Load(off uint32) uint32
	Store(off uint32, val uint32)
}

func (m *Machine) deviceAt(addr uint32) Device {
	for _, d := range m.devices {
		if addr >= d.Base() && addr < d.Base()+d.Size() {
			return d
		}
	}
	return nil
}
