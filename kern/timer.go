package kern

// Tick advances the timebase one tick, fires due task timers, and
// reschedules. Firing disables the timer and posts its notification bits;
// re-arming is the task's business.
func (k *Kernel) Tick() int {
	k.ticks++
	for i := range k.tasks {
		t := &k.tasks[i]
		if !t.timer.enabled || t.timer.deadline > k.ticks {
			continue
		}
		t.timer.enabled = false
		k.postNotification(i, t.timer.bits)
	}
	return k.schedule()
}

// Irq delivers one hardware interrupt. An enabled line posts the owner's
// notification bits; a disabled line latches and posts on re-enable.
// Repeated firings between two RECVs collapse into one set bit: delivery
// is deliberately lossy, and owners re-check device state on wake.
func (k *Kernel) Irq(n uint16) int {
	line, ok := k.irqs[n]
	if !ok {
		k.klogf("spurious irq %d", n)
		return k.schedule()
	}
	if line.enabled {
		k.postNotification(line.owner, line.bits)
	} else {
		line.pending = true
	}
	return k.schedule()
}
