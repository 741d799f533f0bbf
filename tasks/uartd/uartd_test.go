package uartd_test

import (
	"bytes"
	"testing"

	"ember/abi"
	"ember/image"
	"ember/sim"
	"ember/tasks/uartd"
	"ember/usr"
)

const (
	drvIrq     = 3
	drvIrqBits = uint32(0x1)
	cliTimer   = uint32(0x1)
)

// echoMachine wires the driver to a client that polls buffered input once
// per tick and writes whatever it read back to the transmitter.
func echoMachine(t *testing.T) (*sim.Machine, *bytes.Buffer) {
	t.Helper()

	b := image.NewBuilder(1)
	reg := b.AddDevice("uart0", 0x100)
	b.AddTask(image.TaskConfig{
		Name: "uartd", Priority: 1, Start: true,
		Extra: []image.RegionDesc{reg},
		Irqs:  []image.IrqDesc{{Irq: drvIrq, Notification: drvIrqBits}},
	})
	b.AddTask(image.TaskConfig{Name: "cli", Priority: 2, Start: true})
	b.AddTask(image.TaskConfig{Name: "idle", Priority: 7, Start: true})
	b.SetSupervisor(0, 0x8000)
	img, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var tx bytes.Buffer
	uart := sim.NewUART("uart0", reg.Base, reg.Size, drvIrq, &tx)

	drvId := abi.TaskIdFor(0, 0)
	cli := func(e *usr.Env) {
		buf := e.Alloc(64)
		reply := e.Alloc(4)
		for {
			e.Sleep(1, cliTimer)
			n, rc := uartd.Read(e, drvId, buf, reply)
			if rc != abi.RcOK || n == 0 {
				continue
			}
			uartd.Write(e, drvId, buf.Slice(0, int(n)))
		}
	}

	m, err := sim.New(img, []sim.Binding{
		{Name: "uartd", Body: uartd.Task(uartd.Config{Regs: reg.Base, IrqBits: drvIrqBits})},
		{Name: "cli", Body: cli},
		{Name: "idle", Body: func(e *usr.Env) {
			for {
				e.WaitForInterrupt()
			}
		}},
	}, []sim.Device{uart})
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	return m, &tx
}

func TestEchoThroughDriver(t *testing.T) {
	m, tx := echoMachine(t)
	m.Start()

	m.PushSerial([]byte("hello"))
	m.StepTicks(2)
	if got := tx.String(); got != "hello" {
		t.Fatalf("tx = %q, want %q", got, "hello")
	}

	m.PushSerial([]byte(", uart"))
	m.StepTicks(2)
	if got := tx.String(); got != "hello, uart" {
		t.Fatalf("tx = %q after second burst", got)
	}
}

func TestWriteLargerThanChunk(t *testing.T) {
	// 200 bytes forces several borrow-read chunks in one write.
	b := image.NewBuilder(1)
	reg := b.AddDevice("uart0", 0x100)
	b.AddTask(image.TaskConfig{
		Name: "uartd", Priority: 1, Start: true,
		Extra: []image.RegionDesc{reg},
		Irqs:  []image.IrqDesc{{Irq: drvIrq, Notification: drvIrqBits}},
	})
	b.AddTask(image.TaskConfig{Name: "cli", Priority: 2, Start: true})
	b.SetSupervisor(0, 0x8000)
	img, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var tx bytes.Buffer
	uart := sim.NewUART("uart0", reg.Base, reg.Size, drvIrq, &tx)

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	drvId := abi.TaskIdFor(0, 0)
	var rc uint32
	cli := func(e *usr.Env) {
		buf := e.Alloc(len(payload))
		copy(buf.B, payload)
		rc = uartd.Write(e, drvId, buf)
		e.RecvClosed(0, usr.Buf{}, abi.TaskIdKernel)
	}

	m, err := sim.New(img, []sim.Binding{
		{Name: "uartd", Body: uartd.Task(uartd.Config{Regs: reg.Base, IrqBits: drvIrqBits})},
		{Name: "cli", Body: cli},
	}, []sim.Device{uart})
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	m.Start()

	if rc != abi.RcOK {
		t.Fatalf("write rc = %#x", rc)
	}
	if !bytes.Equal(tx.Bytes(), payload) {
		t.Fatalf("tx = %q, want the full payload", tx.String())
	}
}
