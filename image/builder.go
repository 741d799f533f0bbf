package image

import (
	"errors"
	"fmt"

	"ember/abi"
)

// Default board memory map used by the builder.
const (
	FlashBase = 0x0800_0000
	FlashSize = 0x0010_0000
	RAMBase   = 0x2000_0000
	RAMSize   = 0x0010_0000
	DeviceBase uint32 = 0x4000_0000

	devicePage = 0x1000
	entryStep  = 0x100
)

// TaskConfig describes one task to the builder. Zero stack/data sizes get
// sensible defaults.
type TaskConfig struct {
	Name       string
	Priority   uint8
	Start      bool
	StackBytes uint32
	DataBytes  uint32
	Extra      []RegionDesc // extra grants, e.g. a device region
	Irqs       []IrqDesc
}

// Builder lays out an Image over the default memory map: per-task RAM
// carve-outs for stack and data, synthetic flash entry points, and one
// device page per registered device.
type Builder struct {
	img        Image
	nextRAM    uint32
	nextDevice uint32
	nextEntry  uint32
	err        error
}

// NewBuilder starts an image with the default flash and RAM segments.
func NewBuilder(imageID uint64) *Builder {
	b := &Builder{
		nextRAM:    RAMBase,
		nextDevice: DeviceBase,
		nextEntry:  FlashBase + entryStep,
	}
	b.img.ImageId = imageID
	b.img.Segments = []SegmentDesc{
		{Name: "flash", Kind: SegmentFlash, Base: FlashBase, Size: FlashSize},
		{Name: "ram", Kind: SegmentRAM, Base: RAMBase, Size: RAMSize},
	}
	return b
}

// AddDevice registers a named device segment and returns the region grant
// a task needs to reach it.
func (b *Builder) AddDevice(name string, size uint32) RegionDesc {
	if size == 0 || size%devicePage != 0 {
		size = (size/devicePage + 1) * devicePage
	}
	base := b.nextDevice
	b.nextDevice += size
	b.img.Segments = append(b.img.Segments, SegmentDesc{
		Name: name, Kind: SegmentDevice, Base: base, Size: size,
	})
	return RegionDesc{
		Base:       base,
		Size:       size,
		Attributes: abi.RegionRead | abi.RegionWrite | abi.RegionDevice,
	}
}

// AddTask appends a task and returns its table index.
func (b *Builder) AddTask(cfg TaskConfig) int {
	if cfg.StackBytes == 0 {
		cfg.StackBytes = 1024
	}
	if cfg.DataBytes == 0 {
		cfg.DataBytes = 4096
	}

	stackBase := b.alloc(cfg.StackBytes)
	dataBase := b.alloc(cfg.DataBytes)
	entry := b.nextEntry
	b.nextEntry += entryStep

	t := TaskDesc{
		Name:         cfg.Name,
		Entry:        entry,
		InitialStack: stackBase + cfg.StackBytes,
		StackBase:    stackBase,
		Priority:     cfg.Priority,
		Regions: []RegionDesc{
			{Base: FlashBase, Size: FlashSize, Attributes: abi.RegionRead | abi.RegionExecute},
			{Base: stackBase, Size: cfg.StackBytes, Attributes: abi.RegionRead | abi.RegionWrite},
			{Base: dataBase, Size: cfg.DataBytes, Attributes: abi.RegionRead | abi.RegionWrite},
		},
		Irqs: cfg.Irqs,
	}
	t.Regions = append(t.Regions, cfg.Extra...)
	if cfg.Start {
		t.Flags |= TaskStart
	}

	b.img.Tasks = append(b.img.Tasks, t)
	return len(b.img.Tasks) - 1
}

// SetSupervisor names the supervisor slot and the notification bits posted
// to it when any task faults.
func (b *Builder) SetSupervisor(index int, notification uint32) {
	if index < 0 || index >= len(b.img.Tasks) {
		b.fail(fmt.Errorf("image: supervisor index %d out of range", index))
		return
	}
	b.img.Supervisor = uint16(index)
	b.img.FaultNotification = notification
}

// Build validates and returns the finished descriptor.
func (b *Builder) Build() (*Image, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.img.Validate(); err != nil {
		return nil, err
	}
	return &b.img, nil
}

func (b *Builder) alloc(n uint32) uint32 {
	// Keep carve-outs 16-byte aligned.
	n = (n + 15) &^ 15
	base := b.nextRAM
	if base+n > RAMBase+RAMSize {
		b.fail(errors.New("image: out of RAM"))
		return base
	}
	b.nextRAM += n
	return base
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
