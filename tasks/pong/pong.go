// Package pong is the demo server half of the ping/pong pair: it borrows
// the client's leased buffer, flips the case of every ASCII letter in
// place, and replies.
package pong

import (
	"ember/abi"
	"ember/usr"
)

// OpFlip transforms lease 0 (read+write) in place. Empty reply.
const OpFlip uint16 = 1

// bufCap bounds one transform. Larger leases are a client defect.
const bufCap = 128

func Run(e *usr.Env) {
	buf := e.Alloc(bufCap)

	for {
		r := e.Recv(0, usr.Buf{})
		if r.Rc != abi.RcOK {
			continue
		}
		if uint16(r.Op) != OpFlip {
			e.ReplyFault(r.Sender, abi.UndefinedOperation)
			continue
		}
		serve(e, r.Sender, buf)
	}
}

func serve(e *usr.Env, client abi.TaskId, buf usr.Buf) {
	rc, attr, n := e.BorrowInfo(client, 0)
	if rc != abi.RcOK {
		return
	}
	const rw = abi.LeaseRead | abi.LeaseWrite
	if attr&rw != rw || n > bufCap {
		e.ReplyFault(client, abi.BadLeases)
		return
	}

	work := buf.Slice(0, int(n))
	if rc, _ := e.BorrowRead(client, 0, 0, work); rc != abi.RcOK {
		return
	}
	for i, b := range work.B {
		switch {
		case b >= 'a' && b <= 'z':
			work.B[i] = b - 'a' + 'A'
		case b >= 'A' && b <= 'Z':
			work.B[i] = b - 'A' + 'a'
		}
	}
	if rc, _ := e.BorrowWrite(client, 0, 0, work); rc != abi.RcOK {
		return
	}
	e.Reply(client, abi.RcOK, usr.Buf{})
}
