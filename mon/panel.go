package mon

import (
	"context"
	"fmt"
	"image/color"
	"strings"
	"time"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"

	"ember/abi"
	"ember/hal"
	"ember/kern"
	"ember/sim"
)

// Panel renders the kernel onto the front-panel framebuffer: a one-line
// task-state header on top, the kernel log scrolling underneath.
type Panel struct {
	m  *sim.Machine
	fb hal.Framebuffer
	d  *fbDisplay
	t  *tinyterm.Terminal

	headerH int16
	lines   chan string
}

var (
	panelFg     = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
	panelHdrBg  = color.RGBA{R: 0x20, G: 0x30, B: 0x50, A: 0xFF}
	panelFaultC = color.RGBA{R: 0xFF, G: 0x60, B: 0x40, A: 0xFF}
)

// NewPanel builds a panel over fb. It taps the kernel log sink, so call
// it before the machine starts running.
func NewPanel(m *sim.Machine, fb hal.Framebuffer) *Panel {
	p := &Panel{
		m:       m,
		fb:      fb,
		d:       newFBDisplay(fb),
		headerH: 14,
		lines:   make(chan string, 256),
	}

	p.m.Kernel().Klog().SetSink(func(line string) {
		select {
		case p.lines <- line:
		default: // panel stalled; drop rather than block the kernel
		}
	})

	fb.ClearRGB(0, 0, 0)
	p.t = tinyterm.NewTerminal(&offsetDisplay{d: p.d, top: p.headerH})
	p.t.Configure(&tinyterm.Config{
		Font:              &proggy.TinySZ8pt7b,
		FontHeight:        10,
		FontOffset:        7,
		UseSoftwareScroll: true,
	})
	return p
}

// Run refreshes the panel until ctx ends.
func (p *Panel) Run(ctx context.Context) error {
	tk := time.NewTicker(100 * time.Millisecond)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			p.refresh()
		}
	}
}

func (p *Panel) refresh() {
	for {
		select {
		case line := <-p.lines:
			fmt.Fprintf(p.t, "%s\r\n", line)
		default:
			p.drawHeader()
			p.t.Display()
			return
		}
	}
}

// drawHeader snapshots the task table through the control queue and
// renders one line: name:state pairs plus the tick counter.
func (p *Panel) drawHeader() {
	type slot struct {
		name    string
		state   abi.TaskState
		faulted bool
	}
	var (
		slots []slot
		tick  uint64
		dead  bool
	)
	done := make(chan struct{})
	p.m.Enqueue(func(k *kern.Kernel) {
		for i := 0; i < k.TaskCount(); i++ {
			st := k.Status(i)
			slots = append(slots, slot{k.TaskName(i), st.State, st.Faulted})
		}
		tick = k.Ticks()
		dead = k.Death.Dead
		close(done)
	})
	<-done

	var b strings.Builder
	fmt.Fprintf(&b, "ember %8d ", tick)
	anyFault := false
	for _, s := range slots {
		c := stateChar(s.state)
		if s.faulted {
			c = '!'
			anyFault = true
		}
		fmt.Fprintf(&b, " %s:%c", s.name, c)
	}
	if dead {
		b.WriteString("  KERNEL DEATH")
		anyFault = true
	}

	bg := panelHdrBg
	fg := panelFg
	if anyFault {
		fg = panelFaultC
	}
	p.d.FillRectangle(0, 0, int16(p.fb.Width()), p.headerH, bg)
	tinyfont.WriteLine(p.d, &proggy.TinySZ8pt7b, 2, 10, b.String(), fg)
}

func stateChar(s abi.TaskState) byte {
	switch s {
	case abi.TaskStateRunnable:
		return 'r'
	case abi.TaskStateInSend:
		return 's'
	case abi.TaskStateInReply:
		return 'p'
	case abi.TaskStateInRecv:
		return 'w'
	default:
		return '.'
	}
}

// offsetDisplay confines the terminal to the area below the header.
type offsetDisplay struct {
	d   *fbDisplay
	top int16
}

func (o *offsetDisplay) Size() (x, y int16) {
	w, h := o.d.Size()
	return w, h - o.top
}

func (o *offsetDisplay) SetPixel(x, y int16, c color.RGBA) {
	if y < 0 {
		return
	}
	o.d.SetPixel(x, y+o.top, c)
}

func (o *offsetDisplay) Display() error { return o.d.Display() }

func (o *offsetDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	return o.d.FillRectangle(x, y+o.top, width, height, c)
}

// ScrollUp shifts only the terminal area, leaving the header untouched.
func (o *offsetDisplay) ScrollUp(lines int16, bg color.RGBA) error {
	fb := o.d.fb
	if fb == nil || fb.Format() != hal.PixelFormatRGB565 || lines <= 0 {
		return nil
	}
	buf := fb.Buffer()
	if buf == nil {
		return nil
	}
	w, h := fb.Width(), fb.Height()
	top := int(o.top)
	n := int(lines)
	if top+n >= h {
		return o.FillRectangle(0, 0, int16(w), int16(h-top), bg)
	}
	stride := fb.StrideBytes()
	copy(buf[top*stride:(h-n)*stride], buf[(top+n)*stride:h*stride])
	return o.d.FillRectangle(0, int16(h-n), int16(w), int16(n), bg)
}

func (o *offsetDisplay) SetScroll(line int16) {}

func (o *offsetDisplay) SetRotation(r drivers.Rotation) error { return nil }
