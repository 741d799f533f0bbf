package kern

import (
	"testing"

	"ember/abi"
	"ember/image"
)

type testArch struct {
	applies int
	halted  bool
}

func (a *testArch) ApplyRegions(index int, regions []image.RegionDesc) { a.applies++ }
func (a *testArch) Halt()                                              { a.halted = true }

// faultBit is the supervisor's fault notification in test images.
const faultBit = uint32(1)

// newTestKernel builds a kernel over a default image: task 0 is the
// supervisor ("super"), the given configs follow at index 1+. All tasks
// start runnable unless the config says otherwise.
func newTestKernel(t *testing.T, cfgs ...image.TaskConfig) (*Kernel, *testArch) {
	t.Helper()
	b := image.NewBuilder(0xE2B5)
	b.AddTask(image.TaskConfig{Name: "super", Priority: 0, Start: true})
	for _, cfg := range cfgs {
		b.AddTask(cfg)
	}
	b.SetSupervisor(0, faultBit)
	img, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	arch := &testArch{}
	k, err := New(img, arch)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k, arch
}

// syscall makes task ix current and executes one syscall on its behalf.
func syscall(k *Kernel, ix int, num abi.Sysnum, args [8]uint32) *SavedState {
	k.current = ix
	s := &k.tasks[ix].save
	s.R = args
	s.Sysnum = num
	k.Syscall()
	return s
}

// dataRegion returns task ix's data region (the builder's third grant)
// and its real backing bytes.
func dataRegion(t *testing.T, k *Kernel, ix int) (uint32, []byte) {
	t.Helper()
	r := k.tasks[ix].desc.Regions[2]
	mem, ok := k.mem.view(r.Base, r.Size)
	if !ok {
		t.Fatalf("data region of task %d unbacked", ix)
	}
	return r.Base, mem
}

func wantState(t *testing.T, k *Kernel, ix int, want SchedState) {
	t.Helper()
	if got := k.tasks[ix].state; got != want {
		t.Fatalf("task %d state = %s, want %s", ix, got, want)
	}
}

func wantFaultKind(t *testing.T, k *Kernel, ix int, want abi.FaultKind) {
	t.Helper()
	f := k.tasks[ix].fault
	if f == nil {
		t.Fatalf("task %d not faulted, want %s", ix, want)
	}
	if f.info.Kind != want {
		t.Fatalf("task %d fault = %s, want %s", ix, f.info.Kind, want)
	}
}

// sendArgs packs the SEND argument registers.
func sendArgs(dest abi.TaskId, op uint16, msgBase, msgLen, repBase, repLen, leaseBase, leaseCount uint32) [8]uint32 {
	return [8]uint32{
		uint32(dest) | uint32(op)<<16,
		msgBase, msgLen,
		repBase, repLen,
		leaseBase, leaseCount,
	}
}

// recvArgs packs the RECV argument registers.
func recvArgs(mask, bufBase, bufLen uint32, filter abi.TaskId) [8]uint32 {
	return [8]uint32{mask, bufBase, bufLen, uint32(filter)}
}
