// Package image defines the application descriptor: the build-time table
// of board segments and task descriptors the kernel consumes once at boot.
//
// An Image travels either in code (app wiring via Builder) or as a flash
// blob (cmd/mkimage); both forms decode to the same structures.
package image

import (
	"errors"
	"fmt"

	"ember/abi"
)

const (
	// MaxTasks bounds the task table. It must stay below abi.IndexLimit
	// so no task id ever packs to a wire sentinel.
	MaxTasks = 32
	// MaxRegions bounds one task's region table (the MPU has few slots).
	MaxRegions = 8
	// MaxIrqs bounds one task's interrupt mappings.
	MaxIrqs = 4
	// MaxNameLen bounds task and segment names.
	MaxNameLen = 15
	// MaxSegments bounds the board memory map.
	MaxSegments = 16
)

// Fails to compile if the task table could reach the reserved indexes.
var _ [abi.IndexLimit - MaxTasks]struct{}

// Task flag bits.
const (
	// TaskStart marks a task Runnable at boot; others stay Stopped until
	// a supervisor starts them.
	TaskStart uint8 = 1 << 0
)

// RegionDesc grants a task one range of the address space.
type RegionDesc struct {
	Base       uint32
	Size       uint32
	Attributes uint32
}

// Contains reports whether [addr, addr+n) lies fully inside the region.
func (r RegionDesc) Contains(addr, n uint32) bool {
	if n == 0 {
		return addr >= r.Base && addr <= r.Base+r.Size
	}
	end := addr + n
	if end < addr { // wrapped
		return false
	}
	return addr >= r.Base && end <= r.Base+r.Size
}

// IrqDesc routes a hardware interrupt line to a notification bit of its
// owning task.
type IrqDesc struct {
	Irq          uint16
	Notification uint32
}

// TaskDesc is the immutable build-time description of one task slot.
type TaskDesc struct {
	Name         string
	Entry        uint32
	InitialStack uint32 // initial SP (top of stack)
	StackBase    uint32 // stack guard: SP below this faults
	Priority     uint8
	Flags        uint8
	Regions      []RegionDesc
	Irqs         []IrqDesc
}

// StartAtBoot reports whether the task boots Runnable.
func (t TaskDesc) StartAtBoot() bool { return t.Flags&TaskStart != 0 }

// SegmentKind classifies a board memory segment.
type SegmentKind uint8

const (
	SegmentFlash SegmentKind = iota + 1
	SegmentRAM
	SegmentDevice
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentFlash:
		return "flash"
	case SegmentRAM:
		return "ram"
	case SegmentDevice:
		return "device"
	default:
		return "unknown"
	}
}

// SegmentDesc describes one range of the board address space.
type SegmentDesc struct {
	Name string
	Kind SegmentKind
	Base uint32
	Size uint32
}

// Image is the full application descriptor.
type Image struct {
	ImageId           uint64
	Supervisor        uint16 // task index of the supervisor
	FaultNotification uint32 // bits posted to the supervisor on any fault
	Segments          []SegmentDesc
	Tasks             []TaskDesc
}

// Validate bounds-checks the descriptor: limits, segment overlaps, and
// region/stack containment. Malformed images are a build bug, but the
// loader refuses to program memory protection from garbage.
func (img *Image) Validate() error {
	if len(img.Tasks) == 0 {
		return errors.New("image: no tasks")
	}
	if len(img.Tasks) > MaxTasks {
		return fmt.Errorf("image: %d tasks, limit %d", len(img.Tasks), MaxTasks)
	}
	if len(img.Segments) == 0 || len(img.Segments) > MaxSegments {
		return fmt.Errorf("image: bad segment count %d", len(img.Segments))
	}
	if int(img.Supervisor) >= len(img.Tasks) {
		return fmt.Errorf("image: supervisor index %d out of range", img.Supervisor)
	}
	if img.FaultNotification == 0 {
		return errors.New("image: zero fault notification mask")
	}

	for i, s := range img.Segments {
		if err := validateName(s.Name); err != nil {
			return fmt.Errorf("image: segment %d: %w", i, err)
		}
		if s.Size == 0 || s.Base+s.Size < s.Base {
			return fmt.Errorf("image: segment %q: bad extent %#x+%#x", s.Name, s.Base, s.Size)
		}
		for _, prev := range img.Segments[:i] {
			if s.Base < prev.Base+prev.Size && prev.Base < s.Base+s.Size {
				return fmt.Errorf("image: segments %q and %q overlap", prev.Name, s.Name)
			}
		}
	}

	for i := range img.Tasks {
		if err := img.validateTask(i); err != nil {
			return err
		}
	}
	return nil
}

func (img *Image) validateTask(i int) error {
	t := &img.Tasks[i]
	if err := validateName(t.Name); err != nil {
		return fmt.Errorf("image: task %d: %w", i, err)
	}
	if len(t.Regions) == 0 || len(t.Regions) > MaxRegions {
		return fmt.Errorf("image: task %q: bad region count %d", t.Name, len(t.Regions))
	}
	if len(t.Irqs) > MaxIrqs {
		return fmt.Errorf("image: task %q: bad irq count %d", t.Name, len(t.Irqs))
	}

	for _, r := range t.Regions {
		if r.Size == 0 || r.Base+r.Size < r.Base {
			return fmt.Errorf("image: task %q: bad region %#x+%#x", t.Name, r.Base, r.Size)
		}
		seg := img.segmentAt(r.Base, r.Size)
		if seg == nil {
			return fmt.Errorf("image: task %q: region %#x+%#x outside every segment", t.Name, r.Base, r.Size)
		}
		if (r.Attributes&abi.RegionDevice != 0) != (seg.Kind == SegmentDevice) {
			return fmt.Errorf("image: task %q: device attribute mismatch for %#x", t.Name, r.Base)
		}
	}

	if t.StackBase >= t.InitialStack {
		return fmt.Errorf("image: task %q: empty stack", t.Name)
	}
	stack := findRegion(t.Regions, t.StackBase, t.InitialStack-t.StackBase)
	if stack == nil || stack.Attributes&abi.RegionWrite == 0 {
		return fmt.Errorf("image: task %q: stack not in a writable region", t.Name)
	}
	if entry := findRegion(t.Regions, t.Entry, 1); entry == nil || entry.Attributes&abi.RegionExecute == 0 {
		return fmt.Errorf("image: task %q: entry %#x not executable", t.Name, t.Entry)
	}

	for _, q := range t.Irqs {
		if q.Notification == 0 {
			return fmt.Errorf("image: task %q: irq %d with zero notification", t.Name, q.Irq)
		}
		for j := range img.Tasks[:i] {
			for _, prev := range img.Tasks[j].Irqs {
				if prev.Irq == q.Irq {
					return fmt.Errorf("image: irq %d owned by both %q and %q", q.Irq, img.Tasks[j].Name, t.Name)
				}
			}
		}
	}
	return nil
}

func (img *Image) segmentAt(base, size uint32) *SegmentDesc {
	for i := range img.Segments {
		s := &img.Segments[i]
		if base >= s.Base && base+size <= s.Base+s.Size {
			return s
		}
	}
	return nil
}

func findRegion(regions []RegionDesc, addr, n uint32) *RegionDesc {
	for i := range regions {
		if regions[i].Contains(addr, n) {
			return &regions[i]
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("bad name %q", name)
	}
	return nil
}
