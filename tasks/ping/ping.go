// Package ping is the demo client: each round it lends a buffer to pong,
// checks the in-place transform, and reports over the serial driver. A
// configurable round count ends in a deliberate panic so the supervisor's
// restart path runs on every boot.
package ping

import (
	"fmt"

	"ember/abi"
	"ember/tasks/pong"
	"ember/tasks/uartd"
	"ember/usr"
)

// Config wires ping to its peers.
type Config struct {
	Pong abi.TaskId
	Uart abi.TaskId
	// PanicEvery ends that round in a panic; zero disables.
	PanicEvery uint32
	// TimerBits is the notification bit for the inter-round sleep.
	TimerBits uint32
	// PeriodTicks spaces the rounds.
	PeriodTicks uint64
}

// Task returns the ping body for cfg.
func Task(cfg Config) func(*usr.Env) {
	return func(e *usr.Env) {
		payload := e.Alloc(32)
		line := e.Alloc(64)

		pongId := cfg.Pong
		uartId := cfg.Uart

		for round := uint32(1); ; round++ {
			msg := fmt.Appendf(payload.B[:0], "ping round %d", round)
			sent := string(msg)

			rc, _ := e.Send(pongId, pong.OpFlip, usr.Buf{}, usr.Buf{}, []usr.Lease{
				{Attributes: abi.LeaseRead | abi.LeaseWrite, Buf: payload.Slice(0, len(msg))},
			})
			if abi.IsDead(rc) {
				pongId = pongId.WithGeneration(abi.DeadGeneration(rc))
				continue
			}
			if rc != abi.RcOK {
				e.Panic("ping: flip rejected")
			}
			if got := string(payload.B[:len(msg)]); got != flip(sent) {
				e.Panic("ping: bad transform")
			}

			out := fmt.Appendf(line.B[:0], "ping: round %d ok\r\n", round)
			if rc := uartd.Write(e, uartId, line.Slice(0, len(out))); abi.IsDead(rc) {
				uartId = uartId.WithGeneration(abi.DeadGeneration(rc))
			}

			if cfg.PanicEvery > 0 && round%cfg.PanicEvery == 0 {
				e.Panic("ping: scheduled panic")
			}
			if cfg.PeriodTicks > 0 {
				e.Sleep(cfg.PeriodTicks, cfg.TimerBits)
			}
		}
	}
}

func flip(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case c >= 'A' && c <= 'Z':
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}
