package image

import (
	"reflect"
	"strings"
	"testing"

	"ember/abi"
)

// demoImage builds a small but fully featured descriptor: a supervisor,
// a driver with a device grant and an irq, and a held worker.
func demoImage(t *testing.T) *Image {
	t.Helper()
	b := NewBuilder(0xBEEF)
	b.AddTask(TaskConfig{Name: "super", Priority: 0, Start: true})
	uart := b.AddDevice("uart0", 0x100)
	b.AddTask(TaskConfig{
		Name: "uartd", Priority: 2, Start: true,
		Extra: []RegionDesc{uart},
		Irqs:  []IrqDesc{{Irq: 5, Notification: 0x4}},
	})
	b.AddTask(TaskConfig{Name: "worker", Priority: 6})
	b.SetSupervisor(0, 0x1)
	img, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return img
}

func TestBlobRoundTrip(t *testing.T) {
	img := demoImage(t)
	blob, err := Encode(img)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(img, got) {
		t.Fatalf("round trip changed descriptor:\n in: %+v\nout: %+v", img, got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	img := demoImage(t)
	blob, _ := Encode(img)

	if _, err := Decode(blob[:len(blob)-3]); err == nil {
		t.Fatalf("truncated blob decoded")
	}
	if _, err := Decode([]byte("XXXX")); err == nil {
		t.Fatalf("bad magic decoded")
	}
	bad := append([]byte(nil), blob...)
	bad[4] = 99 // version
	if _, err := Decode(bad); err == nil {
		t.Fatalf("future version decoded")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		warp func(*Image)
		want string
	}{
		{"no tasks", func(i *Image) { i.Tasks = nil }, "no tasks"},
		{"supervisor range", func(i *Image) { i.Supervisor = 40 }, "supervisor index"},
		{"zero fault mask", func(i *Image) { i.FaultNotification = 0 }, "fault notification"},
		{"segment overlap", func(i *Image) {
			i.Segments = append(i.Segments, SegmentDesc{
				Name: "shadow", Kind: SegmentRAM, Base: RAMBase, Size: 0x1000,
			})
		}, "overlap"},
		{"region outside segments", func(i *Image) {
			i.Tasks[1].Regions[2].Base = 0x9000_0000
		}, "outside every segment"},
		{"device attr mismatch", func(i *Image) {
			i.Tasks[1].Regions[3].Attributes &^= abi.RegionDevice
		}, "device attribute"},
		{"stack not writable", func(i *Image) {
			i.Tasks[0].Regions[1].Attributes = abi.RegionRead
		}, "stack"},
		{"entry not executable", func(i *Image) {
			i.Tasks[0].Entry = RAMBase
		}, "not executable"},
		{"irq double-owned", func(i *Image) {
			i.Tasks[2].Irqs = []IrqDesc{{Irq: 5, Notification: 0x4}}
		}, "owned by both"},
		{"long name", func(i *Image) {
			i.Tasks[0].Name = strings.Repeat("x", MaxNameLen+1)
		}, "bad name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img := demoImage(t)
			tc.warp(img)
			err := img.Validate()
			if err == nil {
				t.Fatalf("validated")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestBuilderLayout(t *testing.T) {
	img := demoImage(t)

	// Per-task carve-outs never overlap.
	for i, a := range img.Tasks {
		for j, b := range img.Tasks {
			if i >= j {
				continue
			}
			ra, rb := a.Regions[1], b.Regions[1]
			if ra.Base < rb.Base+rb.Size && rb.Base < ra.Base+ra.Size {
				t.Fatalf("stacks of %q and %q overlap", a.Name, b.Name)
			}
		}
	}
	// The device grant is a real device segment.
	dev := img.Tasks[1].Regions[3]
	if dev.Attributes&abi.RegionDevice == 0 {
		t.Fatalf("device grant lost device attribute")
	}
	if img.segmentAt(dev.Base, dev.Size).Kind != SegmentDevice {
		t.Fatalf("device grant outside device segment")
	}
}

func TestRegionContains(t *testing.T) {
	r := RegionDesc{Base: 0x1000, Size: 0x100}
	if !r.Contains(0x1000, 0x100) || !r.Contains(0x10FF, 1) {
		t.Fatalf("containment too strict")
	}
	if r.Contains(0x0FFF, 2) || r.Contains(0x10FF, 2) {
		t.Fatalf("containment too loose")
	}
	// Wrapped ranges never qualify.
	if r.Contains(0xFFFF_FFFF, 2) {
		t.Fatalf("wrapped range contained")
	}
}
