package abi

import (
	"encoding/binary"
	"strings"
)

// Lease attribute bits. A lease with neither bit grants nothing and is
// rejected at send time.
const (
	LeaseRead  uint32 = 1 << 0
	LeaseWrite uint32 = 1 << 1
)

// LeaseSize is the wire size of one encoded lease.
const LeaseSize = 12

// MaxLeases bounds the lease table of a single send.
const MaxLeases = 8

// ULease is a lease as presented on the wire: a task-asserted, unverified
// range of the lender's memory. The kernel validates it against the
// lender's region table before any byte moves.
type ULease struct {
	Attributes uint32
	Base       uint32
	Length     uint32
}

// Readable reports whether the lease grants borrow_read.
func (l ULease) Readable() bool { return l.Attributes&LeaseRead != 0 }

// Writable reports whether the lease grants borrow_write.
func (l ULease) Writable() bool { return l.Attributes&LeaseWrite != 0 }

// EncodeLease appends the 12-byte wire form of l to dst.
func EncodeLease(dst []byte, l ULease) []byte {
	var b [LeaseSize]byte
	binary.LittleEndian.PutUint32(b[0:], l.Attributes)
	binary.LittleEndian.PutUint32(b[4:], l.Base)
	binary.LittleEndian.PutUint32(b[8:], l.Length)
	return append(dst, b[:]...)
}

// DecodeLease reads one lease from the front of b.
func DecodeLease(b []byte) (ULease, bool) {
	if len(b) < LeaseSize {
		return ULease{}, false
	}
	return ULease{
		Attributes: binary.LittleEndian.Uint32(b[0:]),
		Base:       binary.LittleEndian.Uint32(b[4:]),
		Length:     binary.LittleEndian.Uint32(b[8:]),
	}, true
}

// Region attribute bits, as granted by a task's descriptor.
const (
	RegionRead    uint32 = 1 << 0
	RegionWrite   uint32 = 1 << 1
	RegionExecute uint32 = 1 << 2
	// RegionDevice marks MMIO: accesses are machine-mediated and never
	// usable as message or lease memory.
	RegionDevice uint32 = 1 << 3
)

// RegionAttrString renders region attribute bits as "rwxd" flags.
func RegionAttrString(attr uint32) string {
	var b strings.Builder
	for _, f := range [...]struct {
		bit uint32
		ch  byte
	}{
		{RegionRead, 'r'},
		{RegionWrite, 'w'},
		{RegionExecute, 'x'},
		{RegionDevice, 'd'},
	} {
		if attr&f.bit != 0 {
			b.WriteByte(f.ch)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
