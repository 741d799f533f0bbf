package app

import (
	"bytes"
	"strings"
	"testing"

	"ember/image"
)

func TestDemoImage(t *testing.T) {
	img, err := Image()
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if img.ImageId != ImageId {
		t.Fatalf("ImageId = %#x", img.ImageId)
	}
	if len(img.Tasks) != 5 {
		t.Fatalf("task count = %d, want 5", len(img.Tasks))
	}
	if img.Tasks[img.Supervisor].Name != "super" {
		t.Fatalf("supervisor = %q", img.Tasks[img.Supervisor].Name)
	}

	var uart *image.SegmentDesc
	for i := range img.Segments {
		if img.Segments[i].Name == "uart0" {
			uart = &img.Segments[i]
		}
	}
	if uart == nil || uart.Kind != image.SegmentDevice {
		t.Fatal("image has no uart0 device segment")
	}
}

func TestDemoReportsRounds(t *testing.T) {
	img, err := Image()
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	var tx bytes.Buffer
	m, err := Machine(img, &tx)
	if err != nil {
		t.Fatalf("Machine: %v", err)
	}

	m.Start()
	m.StepTicks(6)

	out := tx.String()
	for _, want := range []string{"ping: round 1 ok", "ping: round 5 ok"} {
		if !strings.Contains(out, want) {
			t.Fatalf("serial output %q missing %q", out, want)
		}
	}
	if m.Halted() {
		t.Fatalf("kernel died: %s", m.Kernel().Death.String())
	}
}

func TestScheduledPanicIsSupervised(t *testing.T) {
	img, err := Image()
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	var tx bytes.Buffer
	m, err := Machine(img, &tx)
	if err != nil {
		t.Fatalf("Machine: %v", err)
	}

	// Enough ticks to cover the scheduled panic at round 32, the
	// supervisor holdoff, and a few rounds of the next incarnation.
	m.Start()
	m.StepTicks(64)

	if m.Halted() {
		t.Fatalf("kernel died: %s", m.Kernel().Death.String())
	}
	if n := strings.Count(tx.String(), "ping: round 1 ok"); n < 2 {
		t.Fatalf("round 1 reported %d times, want a restarted incarnation", n)
	}

	pingIx := -1
	for i := range img.Tasks {
		if img.Tasks[i].Name == "ping" {
			pingIx = i
		}
	}
	if pingIx < 0 {
		t.Fatal("no ping task")
	}
	if gen := m.Kernel().Status(pingIx).Generation; gen == 0 {
		t.Fatal("ping generation never advanced")
	}
}
