// Package app assembles the demo application: the image descriptor, the
// virtual devices, and the task bodies, wired into a ready-to-run
// machine. Alternate images (from mkimage blobs) boot through Machine as
// long as they use the task names bound here.
package app

import (
	"fmt"
	"io"

	"ember/abi"
	"ember/hal"
	"ember/image"
	"ember/sim"
	"ember/tasks/idle"
	"ember/tasks/ping"
	"ember/tasks/pong"
	"ember/tasks/super"
	"ember/tasks/uartd"
)

// ImageId identifies the built-in demo image.
const ImageId = 0x454D_4252_0000_0001

// UartIrq is the UART RX interrupt line.
const UartIrq = 5

// Notification bit assignments. Bits are per-task namespaces; only the
// supervisor's two must not collide with each other.
const (
	superFaultBit = uint32(0x1)
	superTimerBit = uint32(0x2)
	uartIrqBit    = uint32(0x1)
	pingTimerBit  = uint32(0x1)
)

// Image builds the demo image descriptor: supervisor, serial driver,
// ping/pong pair, idle.
func Image() (*image.Image, error) {
	b := image.NewBuilder(ImageId)
	b.AddTask(image.TaskConfig{Name: "super", Priority: 0, Start: true})

	uartReg := b.AddDevice("uart0", 0x100)
	b.AddTask(image.TaskConfig{
		Name: "uartd", Priority: 2, Start: true,
		Extra: []image.RegionDesc{uartReg},
		Irqs:  []image.IrqDesc{{Irq: UartIrq, Notification: uartIrqBit}},
	})

	b.AddTask(image.TaskConfig{Name: "pong", Priority: 3, Start: true})
	b.AddTask(image.TaskConfig{Name: "ping", Priority: 4, Start: true})
	b.AddTask(image.TaskConfig{Name: "idle", Priority: 7, Start: true})

	b.SetSupervisor(0, superFaultBit)
	return b.Build()
}

// Machine wires img to the demo bodies and devices. UART transmit bytes
// go to tx.
func Machine(img *image.Image, tx io.Writer) (*sim.Machine, error) {
	var uartSeg *image.SegmentDesc
	for i := range img.Segments {
		if img.Segments[i].Kind == image.SegmentDevice && img.Segments[i].Name == "uart0" {
			uartSeg = &img.Segments[i]
			break
		}
	}
	if uartSeg == nil {
		return nil, fmt.Errorf("app: image has no uart0 device segment")
	}

	pongIx, err := taskIndex(img, "pong")
	if err != nil {
		return nil, err
	}
	uartIx, err := taskIndex(img, "uartd")
	if err != nil {
		return nil, err
	}

	uart := sim.NewUART("uart0", uartSeg.Base, uartSeg.Size, UartIrq, tx)
	bindings := []sim.Binding{
		{Name: "super", Body: super.Task(super.Config{
			Tasks:        len(img.Tasks),
			FaultBits:    superFaultBit,
			TimerBits:    superTimerBit,
			HoldoffTicks: 2,
		})},
		{Name: "uartd", Body: uartd.Task(uartd.Config{
			Regs:    uartSeg.Base,
			IrqBits: uartIrqBit,
		})},
		{Name: "pong", Body: pong.Run},
		{Name: "ping", Body: ping.Task(ping.Config{
			Pong:        abi.TaskIdFor(pongIx, 0),
			Uart:        abi.TaskIdFor(uartIx, 0),
			PanicEvery:  32,
			TimerBits:   pingTimerBit,
			PeriodTicks: 1,
		})},
		{Name: "idle", Body: idle.Run},
	}
	return sim.New(img, bindings, []sim.Device{uart})
}

// New boots the built-in image against a HAL, the way the firmware
// entrypoints do.
func New(h hal.HAL) (*sim.Machine, error) {
	img, err := Image()
	if err != nil {
		return nil, err
	}
	var tx io.Writer = io.Discard
	if s := h.Serial(); s != nil {
		tx = s
	}
	return Machine(img, tx)
}

func taskIndex(img *image.Image, name string) (int, error) {
	for i := range img.Tasks {
		if img.Tasks[i].Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("app: image has no task %q", name)
}
