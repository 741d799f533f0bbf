// Package super is the supervisor: highest priority, subscribed to the
// kernel's fault notification. On a fault it reads task statuses through
// kipc and restarts the dead, after a short holdoff so a crash-looping
// task cannot monopolize the CPU.
package super

import (
	"ember/abi"
	"ember/usr"
)

// Config wires the supervisor to its image.
type Config struct {
	// Tasks is the task table size.
	Tasks int
	// FaultBits is the notification mask the kernel posts on any fault.
	FaultBits uint32
	// TimerBits is the notification bit used for the holdoff sleep. Must
	// not overlap FaultBits or fault wakeups would be eaten by the sleep.
	TimerBits uint32
	// HoldoffTicks delays each restart sweep.
	HoldoffTicks uint64
}

// Task returns the supervisor body for cfg.
func Task(cfg Config) func(*usr.Env) {
	return func(e *usr.Env) {
		msg := e.Alloc(abi.RestartRequestSize)
		reply := e.Alloc(abi.TaskStatusSize)

		for {
			r := e.RecvClosed(cfg.FaultBits, usr.Buf{}, abi.TaskIdKernel)
			if !r.Notification() || r.Op&cfg.FaultBits == 0 {
				continue
			}
			if cfg.HoldoffTicks > 0 {
				e.Sleep(cfg.HoldoffTicks, cfg.TimerBits)
			}
			sweep(e, cfg, msg, reply)
		}
	}
}

// sweep restarts every faulted task. Faults landing during the sweep
// re-post the notification, so a miss here is only a deferral.
func sweep(e *usr.Env, cfg Config, msg, reply usr.Buf) {
	for ix := 0; ix < cfg.Tasks; ix++ {
		st, ok := e.ReadStatus(uint16(ix), msg, reply)
		if !ok || !st.Faulted {
			continue
		}
		e.RestartPeer(uint16(ix), true, msg)
	}
}
