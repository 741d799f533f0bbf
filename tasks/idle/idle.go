// Package idle is the lowest-priority task: it parks the CPU until the
// next external event. Every image needs one so the scheduler always has
// somewhere to go.
package idle

import "ember/usr"

func Run(e *usr.Env) {
	for {
		e.WaitForInterrupt()
	}
}
