package kern

import (
	"bytes"
	"testing"

	"ember/abi"
	"ember/image"
)

// Scenario: Y blocks in RECV, X sends. Y returns immediately with the
// message; X stays blocked until Y replies.
func TestSendRecvRendezvous(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "x", Priority: 5, Start: true},
		image.TaskConfig{Name: "y", Priority: 3, Start: true},
	)
	const X, Y = 1, 2

	yBase, _ := dataRegion(t, k, Y)
	ys := syscall(k, Y, abi.SysRecv, recvArgs(0, yBase, 16, abi.TaskIdUnbound))
	wantState(t, k, Y, InRecv)

	xBase, xMem := dataRegion(t, k, X)
	copy(xMem, []byte{0x01, 0x02})
	yId := abi.TaskIdFor(Y, k.tasks[Y].generation)
	xs := syscall(k, X, abi.SysSend, sendArgs(yId, 7, xBase, 2, xBase+16, 8, 0, 0))

	wantState(t, k, X, InReply)
	wantState(t, k, Y, Runnable)

	if ys.R[0] != abi.RcOK {
		t.Fatalf("recv rc = %#x", ys.R[0])
	}
	if got := abi.TaskId(ys.R[1]); got != abi.TaskIdFor(X, 0) {
		t.Fatalf("recv sender = %v, want x", got)
	}
	if ys.R[2] != 7 {
		t.Fatalf("recv op = %d, want 7", ys.R[2])
	}
	if ys.R[3] != 2 {
		t.Fatalf("recv len = %d, want 2", ys.R[3])
	}
	_, yMem := dataRegion(t, k, Y)
	if !bytes.Equal(yMem[:2], []byte{0x01, 0x02}) {
		t.Fatalf("message bytes = %v", yMem[:2])
	}

	// X must not become runnable until the reply.
	if next := k.schedule(); next == X {
		t.Fatalf("sender scheduled while awaiting reply")
	}

	_, yMemW := dataRegion(t, k, Y)
	copy(yMemW[8:], []byte{0xAA, 0xBB, 0xCC})
	yBase2, _ := dataRegion(t, k, Y)
	syscall(k, Y, abi.SysReply, [8]uint32{uint32(abi.TaskId(ys.R[1])), 0, yBase2 + 8, 3})

	wantState(t, k, X, Runnable)
	if xs.R[0] != abi.RcOK {
		t.Fatalf("send rc = %#x", xs.R[0])
	}
	if xs.R[1] != 3 {
		t.Fatalf("reply len = %d, want 3", xs.R[1])
	}
	if !bytes.Equal(xMem[16:19], []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("reply bytes = %v", xMem[16:19])
	}
}

// P2: a handle minted before a restart must report dead, never deliver to
// the slot's new occupant.
func TestSendToStaleGeneration(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "x", Priority: 5, Start: true},
		image.TaskConfig{Name: "y", Priority: 3, Start: true},
	)
	const X, Y = 1, 2

	stale := abi.TaskIdFor(Y, k.tasks[Y].generation)
	k.Restart(Y, true)

	xBase, _ := dataRegion(t, k, X)
	xs := syscall(k, X, abi.SysSend, sendArgs(stale, 1, xBase, 1, 0, 0, 0, 0))
	if !abi.IsDead(xs.R[0]) {
		t.Fatalf("send to stale id rc = %#x, want dead", xs.R[0])
	}
	if got := abi.DeadGeneration(xs.R[0]); got != k.tasks[Y].generation {
		t.Fatalf("dead generation = %d, want %d", got, k.tasks[Y].generation)
	}
	wantState(t, k, X, Runnable)

	// The new incarnation must see nothing queued.
	yBase, _ := dataRegion(t, k, Y)
	syscall(k, Y, abi.SysRecv, recvArgs(0, yBase, 16, abi.TaskIdUnbound))
	wantState(t, k, Y, InRecv)
}

// Scenario: Y faults while X is blocked on it. X wakes immediately with
// the dead response, not an indefinite hang; the restart delivers the new
// generation to later wakeups.
func TestPeerFaultUnblocksSender(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "x", Priority: 5, Start: true},
		image.TaskConfig{Name: "y", Priority: 3, Start: true},
	)
	const X, Y = 1, 2

	// X queued InSend on Y (Y never called recv).
	xBase, _ := dataRegion(t, k, X)
	yId := abi.TaskIdFor(Y, k.tasks[Y].generation)
	xs := syscall(k, X, abi.SysSend, sendArgs(yId, 1, xBase, 1, 0, 0, 0, 0))
	wantState(t, k, X, InSend)

	k.ForceFault(Y, abi.InjectedFault())
	wantState(t, k, X, Runnable)
	if !abi.IsDead(xs.R[0]) {
		t.Fatalf("rc after peer fault = %#x, want dead", xs.R[0])
	}

	// Same for a sender already awaiting reply.
	k.Restart(Y, true)
	yBase, _ := dataRegion(t, k, Y)
	syscall(k, Y, abi.SysRecv, recvArgs(0, yBase, 16, abi.TaskIdUnbound))
	yId = abi.TaskIdFor(Y, k.tasks[Y].generation)
	xs = syscall(k, X, abi.SysSend, sendArgs(yId, 1, xBase, 1, 0, 0, 0, 0))
	wantState(t, k, X, InReply)

	k.ForceFault(Y, abi.InjectedFault())
	wantState(t, k, X, Runnable)
	if !abi.IsDead(xs.R[0]) {
		t.Fatalf("rc after server fault = %#x, want dead", xs.R[0])
	}
}

// Scenario: two senders of differing priority queued on one destination;
// the receiver gets the higher-priority (lower number) one first. Equal
// priority resolves by arrival order (P5).
func TestSenderOrdering(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "lo", Priority: 6, Start: true},
		image.TaskConfig{Name: "hi", Priority: 2, Start: true},
		image.TaskConfig{Name: "lo2", Priority: 6, Start: true},
		image.TaskConfig{Name: "dest", Priority: 1, Start: true},
	)
	const Lo, Hi, Lo2, Dest = 1, 2, 3, 4

	destId := abi.TaskIdFor(Dest, 0)
	for i, src := range []int{Lo, Hi, Lo2} {
		base, mem := dataRegion(t, k, src)
		mem[0] = byte(0x10 + i)
		syscall(k, src, abi.SysSend, sendArgs(destId, uint16(src), base, 1, 0, 0, 0, 0))
		wantState(t, k, src, InSend)
	}

	dBase, dMem := dataRegion(t, k, Dest)
	order := []struct {
		sender int
		b      byte
	}{{Hi, 0x11}, {Lo, 0x10}, {Lo2, 0x12}}
	for _, want := range order {
		ds := syscall(k, Dest, abi.SysRecv, recvArgs(0, dBase, 8, abi.TaskIdUnbound))
		if got := abi.TaskId(ds.R[1]).Index(); got != want.sender {
			t.Fatalf("recv order: got sender %d, want %d", got, want.sender)
		}
		if dMem[0] != want.b {
			t.Fatalf("recv payload = %#x, want %#x", dMem[0], want.b)
		}
		wantState(t, k, want.sender, InReply)
		syscall(k, Dest, abi.SysReply, [8]uint32{ds.R[1], 0, 0, 0})
		wantState(t, k, want.sender, Runnable)
	}
}

func TestRecvClosedFilters(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "a", Priority: 2, Start: true},
		image.TaskConfig{Name: "b", Priority: 3, Start: true},
		image.TaskConfig{Name: "dest", Priority: 1, Start: true},
	)
	const A, B, Dest = 1, 2, 3

	destId := abi.TaskIdFor(Dest, 0)
	for _, src := range []int{A, B} {
		base, _ := dataRegion(t, k, src)
		syscall(k, src, abi.SysSend, sendArgs(destId, 0, base, 1, 0, 0, 0, 0))
	}

	// Closed recv on B skips the higher-priority A.
	dBase, _ := dataRegion(t, k, Dest)
	ds := syscall(k, Dest, abi.SysRecv, recvArgs(0, dBase, 8, abi.TaskIdFor(B, 0)))
	if got := abi.TaskId(ds.R[1]).Index(); got != B {
		t.Fatalf("closed recv delivered sender %d, want %d", got, B)
	}
	wantState(t, k, A, InSend)

	// Closed recv on a dead filter returns immediately.
	k.Restart(B, true)
	ds = syscall(k, Dest, abi.SysRecv, recvArgs(0, dBase, 8, abi.TaskIdFor(B, 0)))
	if !abi.IsDead(ds.R[0]) {
		t.Fatalf("closed recv on stale filter rc = %#x, want dead", ds.R[0])
	}
}

func TestNotificationDelivery(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "w", Priority: 2, Start: true},
		image.TaskConfig{Name: "p", Priority: 3, Start: true},
	)
	const W, P = 1, 2

	// Pending bits win over blocking: post first, then recv.
	wId := abi.TaskIdFor(W, 0)
	ps := syscall(k, P, abi.SysPost, [8]uint32{uint32(wId), 0b1010})
	if ps.R[0] != abi.RcOK {
		t.Fatalf("post rc = %#x", ps.R[0])
	}
	ws := syscall(k, W, abi.SysRecv, recvArgs(0b0010, 0, 0, abi.TaskIdUnbound))
	if abi.TaskId(ws.R[1]) != abi.TaskIdKernel {
		t.Fatalf("notification sender = %v, want kernel", abi.TaskId(ws.R[1]))
	}
	if ws.R[2] != 0b0010 {
		t.Fatalf("notification bits = %#b, want 0b10", ws.R[2])
	}
	// Unmasked bit stays pending; masked bit was consumed atomically.
	if k.tasks[W].notifications != 0b1000 {
		t.Fatalf("pending after recv = %#b, want 0b1000", k.tasks[W].notifications)
	}

	// Blocked recv wakes on a matching post.
	ws = syscall(k, W, abi.SysRecv, recvArgs(0b0100, 0, 0, abi.TaskIdUnbound))
	wantState(t, k, W, InRecv)
	syscall(k, P, abi.SysPost, [8]uint32{uint32(wId), 0b0100})
	wantState(t, k, W, Runnable)
	if ws.R[2] != 0b0100 {
		t.Fatalf("wakeup bits = %#b, want 0b100", ws.R[2])
	}
}

// The receiver observes truncation: the copy is bounded by its buffer,
// the reported length is the sender's true length.
func TestMessageTruncation(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "x", Priority: 5, Start: true},
		image.TaskConfig{Name: "y", Priority: 3, Start: true},
	)
	const X, Y = 1, 2

	yBase, yMem := dataRegion(t, k, Y)
	ys := syscall(k, Y, abi.SysRecv, recvArgs(0, yBase, 4, abi.TaskIdUnbound))

	xBase, xMem := dataRegion(t, k, X)
	copy(xMem, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	syscall(k, X, abi.SysSend, sendArgs(abi.TaskIdFor(Y, 0), 0, xBase, 8, 0, 0, 0, 0))

	if ys.R[3] != 8 {
		t.Fatalf("reported len = %d, want 8", ys.R[3])
	}
	if !bytes.Equal(yMem[:4], []byte{1, 2, 3, 4}) {
		t.Fatalf("copied bytes = %v", yMem[:4])
	}
	if !bytes.Equal(yMem[4:8], []byte{0, 0, 0, 0}) {
		t.Fatalf("copy overran the receive buffer: %v", yMem[4:8])
	}
}

// Replying to a task that is not waiting on us is a silent no-op: the
// client may have restarted between our recv and reply.
func TestReplyToNonWaiter(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "srv", Priority: 3, Start: true},
		image.TaskConfig{Name: "cli", Priority: 5, Start: true},
	)
	const Srv, Cli = 1, 2

	ss := syscall(k, Srv, abi.SysReply, [8]uint32{uint32(abi.TaskIdFor(Cli, 0)), 0, 0, 0})
	if ss.R[0] != abi.RcOK {
		t.Fatalf("no-op reply rc = %#x", ss.R[0])
	}
	wantState(t, k, Srv, Runnable)
	wantState(t, k, Cli, Runnable)
	if k.tasks[Srv].fault != nil {
		t.Fatalf("no-op reply faulted the server")
	}
}

// A reply bigger than the client's advertised buffer is the client's
// defect: it faults with the server's identity on record.
func TestOversizeReplyFaultsClient(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "srv", Priority: 3, Start: true},
		image.TaskConfig{Name: "cli", Priority: 5, Start: true},
	)
	const Srv, Cli = 1, 2

	sBase, _ := dataRegion(t, k, Srv)
	syscall(k, Srv, abi.SysRecv, recvArgs(0, sBase, 16, abi.TaskIdUnbound))

	cBase, _ := dataRegion(t, k, Cli)
	syscall(k, Cli, abi.SysSend, sendArgs(abi.TaskIdFor(Srv, 0), 0, cBase, 1, cBase+16, 4, 0, 0))
	wantState(t, k, Cli, InReply)

	ss := syscall(k, Srv, abi.SysReply, [8]uint32{uint32(abi.TaskIdFor(Cli, 0)), 0, sBase, 8})
	if ss.R[0] != abi.RcOK {
		t.Fatalf("reply rc = %#x", ss.R[0])
	}
	wantFaultKind(t, k, Cli, abi.FaultFromServer)
	if f := k.tasks[Cli].fault.info; f.Reason != abi.ReplyBufferTooSmall {
		t.Fatalf("fault reason = %s, want reply buffer too small", f.Reason)
	}
}

// ReplyFault delivers the server's verdict as a client fault.
func TestReplyFault(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "srv", Priority: 3, Start: true},
		image.TaskConfig{Name: "cli", Priority: 5, Start: true},
	)
	const Srv, Cli = 1, 2

	sBase, _ := dataRegion(t, k, Srv)
	syscall(k, Srv, abi.SysRecv, recvArgs(0, sBase, 16, abi.TaskIdUnbound))
	cBase, _ := dataRegion(t, k, Cli)
	syscall(k, Cli, abi.SysSend, sendArgs(abi.TaskIdFor(Srv, 0), 99, cBase, 1, 0, 0, 0, 0))

	syscall(k, Srv, abi.SysReplyFault, [8]uint32{uint32(abi.TaskIdFor(Cli, 0)), uint32(abi.UndefinedOperation)})
	wantFaultKind(t, k, Cli, abi.FaultFromServer)
	f := k.tasks[Cli].fault.info
	if f.Reason != abi.UndefinedOperation || f.Server != abi.TaskIdFor(Srv, 0) {
		t.Fatalf("fault = %+v", f)
	}
}

func TestRefreshTaskId(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "x", Priority: 5, Start: true},
		image.TaskConfig{Name: "y", Priority: 3, Start: true},
	)
	const X, Y = 1, 2

	old := abi.TaskIdFor(Y, 0)
	k.Restart(Y, true)
	xs := syscall(k, X, abi.SysRefreshTaskId, [8]uint32{uint32(old)})
	got := abi.TaskId(xs.R[1])
	if got.Index() != Y || got.Generation() != k.tasks[Y].generation {
		t.Fatalf("refreshed id = %v", got)
	}
}

func TestSendToSelfFaults(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "x", Priority: 5, Start: true},
	)
	const X = 1
	syscall(k, X, abi.SysSend, sendArgs(abi.TaskIdFor(X, 0), 0, 0, 0, 0, 0, 0, 0))
	wantFaultKind(t, k, X, abi.FaultSyscallUsage)
	if k.tasks[X].fault.info.Usage != abi.IllegalTask {
		t.Fatalf("usage = %s", k.tasks[X].fault.info.Usage)
	}
}

func TestSendOutOfRangeFaults(t *testing.T) {
	k, _ := newTestKernel(t,
		image.TaskConfig{Name: "x", Priority: 5, Start: true},
	)
	const X = 1
	syscall(k, X, abi.SysSend, sendArgs(abi.TaskIdFor(17, 0), 0, 0, 0, 0, 0, 0, 0))
	wantFaultKind(t, k, X, abi.FaultSyscallUsage)
	if k.tasks[X].fault.info.Usage != abi.TaskOutOfRange {
		t.Fatalf("usage = %s", k.tasks[X].fault.info.Usage)
	}
}
