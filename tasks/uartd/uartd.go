// Package uartd is the serial driver task. It owns the UART device
// region and its RX interrupt, buffers received bytes, and serves two
// operations: a lease-borrowed bulk write to the transmitter and a
// lease-borrowed read of buffered input.
package uartd

import (
	"ember/abi"
	"ember/usr"
)

// Operations served by the driver.
const (
	// OpWrite transmits lease 0 (readable) in full. Empty reply.
	OpWrite uint16 = 1
	// OpRead fills lease 0 (writable) with buffered input and replies
	// with the 4-byte little-endian count.
	OpRead uint16 = 2
)

// UART register layout, as mapped into the device region.
const (
	regData   = 0x0
	regStatus = 0x4

	statusRxReady = 1 << 0
)

// rxCap bounds the driver's receive buffer. Input beyond it is dropped,
// same as a hardware FIFO overrun.
const rxCap = 256

// Config wires the driver to its image: the device region base and the
// notification bit its RX interrupt posts.
type Config struct {
	Regs    uint32
	IrqBits uint32
}

type driver struct {
	e   *usr.Env
	cfg Config

	rx    usr.Buf
	rhead int
	rlen  int

	chunk usr.Buf
	reply usr.Buf
}

// Task returns the driver body for cfg.
func Task(cfg Config) func(*usr.Env) {
	return func(e *usr.Env) {
		d := &driver{
			e:     e,
			cfg:   cfg,
			rx:    e.Alloc(rxCap),
			chunk: e.Alloc(64),
			reply: e.Alloc(4),
		}
		d.run()
	}
}

func (d *driver) run() {
	e := d.e
	e.IrqControl(d.cfg.IrqBits, true)

	for {
		r := e.Recv(d.cfg.IrqBits, usr.Buf{})
		if r.Notification() {
			if r.Op&d.cfg.IrqBits != 0 {
				d.drainRx()
			}
			continue
		}
		if abi.IsDead(r.Rc) || r.Rc != abi.RcOK {
			continue
		}
		switch uint16(r.Op) {
		case OpWrite:
			d.serveWrite(r.Sender)
		case OpRead:
			d.serveRead(r.Sender)
		default:
			e.ReplyFault(r.Sender, abi.UndefinedOperation)
		}
	}
}

// drainRx moves every ready byte from the device FIFO into the local
// buffer. The interrupt is coalesced, so one wakeup may cover many bytes.
func (d *driver) drainRx() {
	e := d.e
	for e.Load32(d.cfg.Regs+regStatus)&statusRxReady != 0 {
		b := byte(e.Load32(d.cfg.Regs + regData))
		if d.rlen == rxCap {
			continue // overrun; drop
		}
		d.rx.B[(d.rhead+d.rlen)%rxCap] = b
		d.rlen++
	}
}

func (d *driver) serveWrite(client abi.TaskId) {
	e := d.e
	rc, attr, total := e.BorrowInfo(client, 0)
	if rc != abi.RcOK {
		return // client died; nothing to reply to
	}
	if attr&abi.LeaseRead == 0 {
		e.ReplyFault(client, abi.BadLeases)
		return
	}
	for off := uint32(0); off < total; {
		n := total - off
		if n > d.chunk.Len() {
			n = d.chunk.Len()
		}
		rc, got := e.BorrowRead(client, 0, off, d.chunk.Slice(0, int(n)))
		if rc == abi.RcDefect {
			e.ReplyFault(client, abi.BadLeases)
			return
		}
		if rc != abi.RcOK || got == 0 {
			return // client gone mid-borrow
		}
		for _, b := range d.chunk.B[:got] {
			e.Store32(d.cfg.Regs+regData, uint32(b))
		}
		off += got
	}
	e.Reply(client, abi.RcOK, usr.Buf{})
}

func (d *driver) serveRead(client abi.TaskId) {
	e := d.e
	rc, attr, space := e.BorrowInfo(client, 0)
	if rc != abi.RcOK {
		return
	}
	if attr&abi.LeaseWrite == 0 {
		e.ReplyFault(client, abi.BadLeases)
		return
	}

	n := uint32(d.rlen)
	if n > space {
		n = space
	}
	if n > d.chunk.Len() {
		n = d.chunk.Len()
	}
	for i := uint32(0); i < n; i++ {
		d.chunk.B[i] = d.rx.B[(d.rhead+int(i))%rxCap]
	}
	if n > 0 {
		rc, _ = e.BorrowWrite(client, 0, 0, d.chunk.Slice(0, int(n)))
		if rc != abi.RcOK {
			return
		}
		d.rhead = (d.rhead + int(n)) % rxCap
		d.rlen -= int(n)
	}
	d.reply.B[0] = byte(n)
	d.reply.B[1] = byte(n >> 8)
	d.reply.B[2] = byte(n >> 16)
	d.reply.B[3] = byte(n >> 24)
	e.Reply(client, abi.RcOK, d.reply)
}

// Write is the client-side call: transmit buf through the driver. The
// returned rc is the send's response code; dead responses surface to the
// caller for handle refresh.
func Write(e *usr.Env, driver abi.TaskId, buf usr.Buf) uint32 {
	rc, _ := e.Send(driver, OpWrite, usr.Buf{}, usr.Buf{}, []usr.Lease{
		{Attributes: abi.LeaseRead, Buf: buf},
	})
	return rc
}

// Read is the client-side call: fill buf with buffered input, returning
// the count and the send's response code.
func Read(e *usr.Env, driver abi.TaskId, buf, reply usr.Buf) (uint32, uint32) {
	rc, n := e.Send(driver, OpRead, usr.Buf{}, reply, []usr.Lease{
		{Attributes: abi.LeaseWrite, Buf: buf},
	})
	if rc != abi.RcOK || n < 4 {
		return 0, rc
	}
	got := uint32(reply.B[0]) | uint32(reply.B[1])<<8 | uint32(reply.B[2])<<16 | uint32(reply.B[3])<<24
	return got, rc
}
