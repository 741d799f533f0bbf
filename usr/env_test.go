package usr

import (
	"bytes"
	"testing"

	"ember/abi"
)

func newTestEnv(t *testing.T, size int) *Env {
	t.Helper()
	return NewEnv(nil, abi.TaskIdFor(1, 0), 0x2000_0000, make([]byte, size))
}

func TestAllocPlacement(t *testing.T) {
	e := newTestEnv(t, 1024)

	a := e.Alloc(5)
	b := e.Alloc(8)
	if a.Addr%4 != 0 || b.Addr%4 != 0 {
		t.Fatalf("unaligned allocations: %#x, %#x", a.Addr, b.Addr)
	}
	// 5 bytes round up to the next word boundary.
	if b.Addr != a.Addr+8 {
		t.Fatalf("second allocation at %#x, want %#x", b.Addr, a.Addr+8)
	}
	if a.Len() != 5 || b.Len() != 8 {
		t.Fatalf("lengths = %d, %d", a.Len(), b.Len())
	}
}

func TestAllocBuffersCannotGrowIntoNeighbors(t *testing.T) {
	e := newTestEnv(t, 1024)

	a := e.Alloc(8)
	b := e.Alloc(8)
	if cap(a.B) != len(a.B) {
		t.Fatalf("cap(a.B) = %d, want %d", cap(a.B), len(a.B))
	}

	sentinel := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xDE, 0xAD, 0xBE, 0xEF}
	copy(b.B, sentinel)

	// An append past a's length must reallocate, not spill into b.
	grown := append(a.B, 0xAA, 0xAA, 0xAA, 0xAA)
	grown[len(grown)-1] = 0x55
	if !bytes.Equal(b.B, sentinel) {
		t.Fatalf("neighboring allocation corrupted: % x", b.B)
	}
}

func TestSliceCapsAtItsOwnLength(t *testing.T) {
	e := newTestEnv(t, 1024)

	buf := e.Alloc(16)
	head := buf.Slice(0, 4)
	if head.Addr != buf.Addr || head.Len() != 4 {
		t.Fatalf("Slice = addr %#x len %d", head.Addr, head.Len())
	}
	if cap(head.B) != 4 {
		t.Fatalf("cap(head.B) = %d, want 4", cap(head.B))
	}

	tail := buf.Slice(4, 8)
	if tail.Addr != buf.Addr+4 {
		t.Fatalf("Slice offset addr = %#x, want %#x", tail.Addr, buf.Addr+4)
	}
}

func TestAllocString(t *testing.T) {
	e := newTestEnv(t, 1024)

	b := e.AllocString("hello")
	if string(b.B) != "hello" || b.Len() != 5 {
		t.Fatalf("AllocString = %q len %d", b.B, b.Len())
	}
}
