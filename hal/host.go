//go:build !tinygo

package hal

import "os"

type hostHAL struct {
	serial *hostSerial
	fb     *hostFramebuffer
	kbd    *hostKeyboard
}

// New returns the host HAL: serial on stdin/stdout and an in-memory
// framebuffer for the front panel.
func New() HAL {
	return &hostHAL{
		serial: &hostSerial{r: os.Stdin, w: os.Stdout},
		fb:     newHostFramebuffer(480, 320),
		kbd:    newHostKeyboard(),
	}
}

func (h *hostHAL) Serial() Serial   { return h.serial }
func (h *hostHAL) Display() Display { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Input() Input     { return hostInput{kbd: h.kbd} }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostInput struct {
	kbd *hostKeyboard
}

func (in hostInput) Keyboard() Keyboard { return in.kbd }
