package sim

import "io"

// UART register offsets and status bits.
const (
	UartRegData   = 0x0
	UartRegStatus = 0x4

	UartStatusRxReady = 1 << 0
	UartStatusTxReady = 1 << 1

	uartRxFifoCap = 256
)

// UART is the board's serial port: TX bytes go straight to a writer, RX
// bytes queue in a FIFO and raise the interrupt line. The FIFO is
// bounded; overflow drops input, as hardware would.
type UART struct {
	name string
	base uint32
	size uint32

	// Irq is the interrupt line raised on RX arrival.
	Irq uint16

	tx io.Writer
	rx []byte
}

// NewUART maps a UART at the given device region.
func NewUART(name string, base, size uint32, irq uint16, tx io.Writer) *UART {
	return &UART{name: name, base: base, size: size, Irq: irq, tx: tx}
}

func (u *UART) Name() string { return u.name }
func (u *UART) Base() uint32 { return u.base }
func (u *UART) Size() uint32 { return u.size }

func (u *UART) Load(off uint32) uint32 {
	switch off {
	case UartRegData:
		if len(u.rx) == 0 {
			return 0
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		return uint32(b)
	case UartRegStatus:
		st := uint32(UartStatusTxReady)
		if len(u.rx) > 0 {
			st |= UartStatusRxReady
		}
		return st
	}
	return 0
}

func (u *UART) Store(off uint32, val uint32) {
	if off != UartRegData || u.tx == nil {
		return
	}
	u.tx.Write([]byte{byte(val)})
}

func (u *UART) push(b []byte) {
	room := uartRxFifoCap - len(u.rx)
	if room < len(b) {
		b = b[:room]
	}
	u.rx = append(u.rx, b...)
}
