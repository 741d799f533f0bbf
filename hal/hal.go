// Package hal is the contact surface between the virtual board and the
// outside world: a serial port, an optional framebuffer for the front
// panel, and keyboard input while a window is up.
package hal

import (
	"errors"
	"io"
)

var ErrNotImplemented = errors.New("not implemented")

// Serial is the board's console transport.
type Serial interface {
	io.Reader
	io.Writer
}

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Display provides access to the framebuffer, if the platform has one.
type Display interface {
	Framebuffer() Framebuffer
}

// KeyEvent is one keyboard event: a printable rune, or a control byte in
// Rune for the keys that map onto the serial line (enter, backspace,
// arrows as escape sequences are the caller's business).
type KeyEvent struct {
	Press bool
	Rune  rune
}

// Keyboard provides key events, best effort per platform.
type Keyboard interface {
	Events() <-chan KeyEvent
}

// Input provides access to input devices, if any.
type Input interface {
	Keyboard() Keyboard
}

// HAL is the full platform surface. The kernel timebase is not part of
// it; the machine's run loop owns the tick source on every platform.
type HAL interface {
	Serial() Serial
	Display() Display
	Input() Input
}
