package kern

import (
	"ember/abi"
	"ember/image"
)

// uSlice is an unverified task-asserted memory range. It carries no proof
// of access rights; the only way to dereference one is through the
// checked resolution below, which proves containment in the owning task's
// region table first. No other kernel code touches task memory.
type uSlice struct {
	base uint32
	len  uint32
}

func (s uSlice) empty() bool { return s.len == 0 }

// segment is one materialized range of the board address space. RAM and
// flash are backed by real bytes; device segments have no data and belong
// to the machine's virtual devices.
type segment struct {
	desc image.SegmentDesc
	data []byte
}

// memory is the board address space, ordered and non-overlapping.
type memory struct {
	segs []segment
}

func newMemory(img *image.Image, flash []byte) *memory {
	m := &memory{}
	for _, d := range img.Segments {
		s := segment{desc: d}
		switch d.Kind {
		case image.SegmentRAM:
			s.data = make([]byte, d.Size)
		case image.SegmentFlash:
			s.data = make([]byte, d.Size)
			copy(s.data, flash)
		}
		m.segs = append(m.segs, s)
	}
	return m
}

// view resolves [addr, addr+n) to backing bytes with no rights check.
// Only the checked resolution paths below may call it. Device segments
// and ranges crossing a segment boundary do not resolve.
func (m *memory) view(addr, n uint32) ([]byte, bool) {
	if n == 0 {
		return nil, true
	}
	if addr+n < addr {
		return nil, false
	}
	for i := range m.segs {
		s := &m.segs[i]
		if addr < s.desc.Base || addr+n > s.desc.Base+s.desc.Size {
			continue
		}
		if s.data == nil {
			return nil, false
		}
		off := addr - s.desc.Base
		return s.data[off : off+n], true
	}
	return nil, false
}

// canAccess reports whether the task's region table grants the requested
// access to the whole range. Device regions never qualify as data memory.
func canAccess(t *Task, s uSlice, attr uint32) bool {
	if s.empty() {
		return true
	}
	for _, r := range t.desc.Regions {
		if r.Attributes&abi.RegionDevice != 0 {
			continue
		}
		if r.Attributes&attr != attr {
			continue
		}
		if r.Contains(s.base, s.len) {
			return true
		}
	}
	return false
}

// resolve proves containment of s in t's regions for the given access and
// yields the backing bytes. This is the single gate between unverified
// task-asserted ranges and real memory.
func (k *Kernel) resolve(t *Task, s uSlice, attr uint32) ([]byte, bool) {
	if !canAccess(t, s, attr) {
		return nil, false
	}
	return k.mem.view(s.base, s.len)
}

// checkLease validates a lease against the lender's region table for every
// access direction the lease grants.
func checkLease(t *Task, l abi.ULease) bool {
	if l.Attributes&(abi.LeaseRead|abi.LeaseWrite) == 0 {
		return false
	}
	s := uSlice{l.Base, l.Length}
	if l.Readable() && !canAccess(t, s, abi.RegionRead) {
		return false
	}
	if l.Writable() && !canAccess(t, s, abi.RegionWrite) {
		return false
	}
	return true
}
