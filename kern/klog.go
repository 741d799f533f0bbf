package kern

const (
	// KlogLines is the ring capacity.
	KlogLines = 64
	// KlogLineLen bounds one entry; longer lines are truncated.
	KlogLineLen = 96
)

// Klog is the kernel's bounded log ring. It allocates nothing after boot;
// the monitor and front panel read it, and an optional sink mirrors lines
// as they are appended.
type Klog struct {
	lines [KlogLines][KlogLineLen]byte
	lens  [KlogLines]uint8
	next  int
	count int
	sink  func(string)
}

// SetSink mirrors every appended line to fn. Pass nil to detach.
func (l *Klog) SetSink(fn func(string)) { l.sink = fn }

// Append records one line, truncating to KlogLineLen.
func (l *Klog) Append(s string) {
	n := copy(l.lines[l.next][:], s)
	l.lens[l.next] = uint8(n)
	l.next = (l.next + 1) % KlogLines
	if l.count < KlogLines {
		l.count++
	}
	if l.sink != nil {
		l.sink(s)
	}
}

// Lines returns the retained entries, oldest first.
func (l *Klog) Lines() []string {
	out := make([]string, 0, l.count)
	start := l.next - l.count
	if start < 0 {
		start += KlogLines
	}
	for i := 0; i < l.count; i++ {
		j := (start + i) % KlogLines
		out = append(out, string(l.lines[j][:l.lens[j]]))
	}
	return out
}

// Tail returns up to n of the most recent entries, oldest first.
func (l *Klog) Tail(n int) []string {
	all := l.Lines()
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}
