//go:build tinygo

package hal

import (
	"machine"
	"time"
)

type tinygoHAL struct {
	serial *tinygoSerial
}

// New returns the bare-metal HAL: serial on the default UART, no
// display.
func New() HAL {
	machine.Serial.Configure(machine.UARTConfig{BaudRate: 115200})
	return &tinygoHAL{
		serial: &tinygoSerial{uart: machine.Serial},
	}
}

func (h *tinygoHAL) Serial() Serial   { return h.serial }
func (h *tinygoHAL) Display() Display { return nil }
func (h *tinygoHAL) Input() Input     { return nil }

type tinygoSerial struct {
	uart machine.Serialer
}

func (s *tinygoSerial) Read(p []byte) (int, error) {
	for s.uart.Buffered() == 0 {
		time.Sleep(time.Millisecond)
	}
	n := 0
	for n < len(p) && s.uart.Buffered() > 0 {
		b, err := s.uart.ReadByte()
		if err != nil {
			return n, err
		}
		p[n] = b
		n++
	}
	return n, nil
}

func (s *tinygoSerial) Write(p []byte) (int, error) {
	return s.uart.Write(p)
}
