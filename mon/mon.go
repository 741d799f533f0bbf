// Package mon is the out-of-band debug surface: a serial REPL over the
// machine's control queue and a front-panel renderer for the kernel log.
// Neither goes through the syscall ABI; both read and poke the kernel
// between traps, the way a debug probe would.
package mon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/shlex"

	"ember/abi"
	"ember/internal/buildinfo"
	"ember/kern"
	"ember/sim"
)

// Monitor is the serial REPL. Commands run on the machine goroutine via
// the control queue, so the machine's Run loop must be active.
type Monitor struct {
	m   *sim.Machine
	in  io.Reader
	out io.Writer
	reg *registry
}

var errQuit = errors.New("quit")

// New builds a monitor over the machine, reading commands from in and
// printing to out.
func New(m *sim.Machine, in io.Reader, out io.Writer) *Monitor {
	mo := &Monitor{m: m, in: in, out: out, reg: newRegistry()}
	mo.registerCommands()
	return mo
}

// Run serves the REPL until EOF, quit, or ctx ends.
func (mo *Monitor) Run(ctx context.Context) error {
	fmt.Fprintf(mo.out, "ember monitor %s; 'help' lists commands\r\n", buildinfo.Short())
	sc := bufio.NewScanner(mo.in)
	fmt.Fprint(mo.out, "mon> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		args, err := shlex.Split(sc.Text())
		if err != nil {
			fmt.Fprintf(mo.out, "mon: %v\r\n", err)
		} else if len(args) > 0 {
			cmd, ok := mo.reg.resolve(args[0])
			if !ok {
				fmt.Fprintf(mo.out, "mon: unknown command %q\r\n", args[0])
			} else if err := cmd.Run(mo, args[1:]); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(mo.out, "mon: %v\r\n", err)
			}
		}
		fmt.Fprint(mo.out, "mon> ")
	}
	return sc.Err()
}

// withKernel runs fn on the machine goroutine and waits for it.
func (mo *Monitor) withKernel(fn func(*kern.Kernel)) {
	done := make(chan struct{})
	mo.m.Enqueue(func(k *kern.Kernel) {
		fn(k)
		close(done)
	})
	<-done
}

func (mo *Monitor) registerCommands() {
	mo.reg.register(command{
		Name: "help", Aliases: []string{"?"}, Desc: "list commands",
		Run: cmdHelp,
	})
	mo.reg.register(command{
		Name: "tasks", Aliases: []string{"ts"}, Desc: "task table overview",
		Run: cmdTasks,
	})
	mo.reg.register(command{
		Name: "task", Usage: "task <ix>", Desc: "one task in detail",
		Run: cmdTask,
	})
	mo.reg.register(command{
		Name: "restart", Usage: "restart <ix> [hold]", Desc: "restart a task slot",
		Run: cmdRestart,
	})
	mo.reg.register(command{
		Name: "fault", Usage: "fault <ix>", Desc: "inject a fault",
		Run: cmdFault,
	})
	mo.reg.register(command{
		Name: "post", Usage: "post <ix> <bits>", Desc: "post notification bits",
		Run: cmdPost,
	})
	mo.reg.register(command{
		Name: "irq", Usage: "irq <n>", Desc: "raise an interrupt line",
		Run: cmdIrq,
	})
	mo.reg.register(command{
		Name: "tick", Usage: "tick [n]", Desc: "advance the timebase",
		Run: cmdTick,
	})
	mo.reg.register(command{
		Name: "log", Usage: "log [n]", Desc: "kernel log tail",
		Run: cmdLog,
	})
	mo.reg.register(command{
		Name: "image", Desc: "describe the running image",
		Run: cmdImage,
	})
	mo.reg.register(command{
		Name: "quit", Aliases: []string{"q", "exit"}, Desc: "leave the monitor",
		Run: func(*Monitor, []string) error { return errQuit },
	})
}

func cmdHelp(mo *Monitor, _ []string) error {
	for _, name := range mo.reg.names() {
		cmd := mo.reg.primary[name]
		usage := cmd.Usage
		if usage == "" {
			usage = cmd.Name
		}
		fmt.Fprintf(mo.out, "  %-22s %s\r\n", usage, cmd.Desc)
	}
	return nil
}

func cmdTasks(mo *Monitor, _ []string) error {
	mo.withKernel(func(k *kern.Kernel) {
		fmt.Fprintf(mo.out, "  ix name          pri gen state\r\n")
		for i := 0; i < k.TaskCount(); i++ {
			st := k.Status(i)
			line := st.State.String()
			if st.Faulted {
				line = "faulted: " + st.Fault.String()
			}
			cur := " "
			if i == k.CurrentIndex() {
				cur = "*"
			}
			fmt.Fprintf(mo.out, " %s%2d %-13s %3d %3d %s\r\n",
				cur, i, k.TaskName(i), st.Priority, st.Generation, line)
		}
		if k.Death.Dead {
			fmt.Fprintf(mo.out, "  KERNEL DEATH: %s\r\n", k.Death.String())
		}
	})
	return nil
}

func cmdTask(mo *Monitor, args []string) error {
	ix, err := taskArg(mo, args)
	if err != nil {
		return err
	}
	mo.withKernel(func(k *kern.Kernel) {
		st := k.Status(ix)
		fmt.Fprintf(mo.out, "task %d %q\r\n", ix, k.TaskName(ix))
		fmt.Fprintf(mo.out, "  priority %d generation %d state %s\r\n",
			st.Priority, st.Generation, st.State)
		if st.State == abi.TaskStateInSend || st.State == abi.TaskStateInReply {
			fmt.Fprintf(mo.out, "  peer %s\r\n", st.Peer)
		}
		fmt.Fprintf(mo.out, "  notifications %#x\r\n", st.Notifications)
		if st.TimerEnabled {
			fmt.Fprintf(mo.out, "  timer at tick %d bits %#x\r\n", st.TimerDeadline, st.TimerBits)
		}
		if st.Faulted {
			fmt.Fprintf(mo.out, "  fault: %s\r\n", st.Fault)
		}
		if ep := k.Epitaph(ix); ep != "" {
			fmt.Fprintf(mo.out, "  epitaph: %q\r\n", ep)
		}
	})
	return nil
}

func cmdRestart(mo *Monitor, args []string) error {
	ix, err := taskArg(mo, args)
	if err != nil {
		return err
	}
	hold := len(args) > 1 && args[1] == "hold"
	mo.withKernel(func(k *kern.Kernel) {
		k.Restart(ix, !hold)
	})
	return nil
}

func cmdFault(mo *Monitor, args []string) error {
	ix, err := taskArg(mo, args)
	if err != nil {
		return err
	}
	mo.withKernel(func(k *kern.Kernel) {
		k.ForceFault(ix, abi.InjectedFault())
	})
	return nil
}

func cmdPost(mo *Monitor, args []string) error {
	ix, err := taskArg(mo, args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: post <ix> <bits>")
	}
	bits, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return fmt.Errorf("bad bits %q", args[1])
	}
	mo.withKernel(func(k *kern.Kernel) {
		k.Post(ix, uint32(bits))
	})
	return nil
}

func cmdIrq(mo *Monitor, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: irq <n>")
	}
	n, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return fmt.Errorf("bad irq %q", args[0])
	}
	mo.withKernel(func(k *kern.Kernel) {
		k.Irq(uint16(n))
	})
	return nil
}

func cmdTick(mo *Monitor, args []string) error {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("bad count %q", args[0])
		}
		n = v
	}
	// One control message per tick, so tasks run between ticks.
	for i := 0; i < n; i++ {
		mo.withKernel(func(k *kern.Kernel) {
			k.Tick()
		})
	}
	return nil
}

func cmdLog(mo *Monitor, args []string) error {
	n := 16
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("bad count %q", args[0])
		}
		n = v
	}
	mo.withKernel(func(k *kern.Kernel) {
		for _, line := range k.Klog().Tail(n) {
			fmt.Fprintf(mo.out, "  %s\r\n", line)
		}
	})
	return nil
}

func cmdImage(mo *Monitor, _ []string) error {
	mo.withKernel(func(k *kern.Kernel) {
		img := k.Image()
		fmt.Fprintf(mo.out, "image %#x: %d tasks, supervisor %q, tick %d\r\n",
			img.ImageId, len(img.Tasks), img.Tasks[img.Supervisor].Name, k.Ticks())
		for _, s := range img.Segments {
			fmt.Fprintf(mo.out, "  %-8s %-6s %#10x + %#x\r\n", s.Name, s.Kind, s.Base, s.Size)
		}
	})
	return nil
}

func taskArg(mo *Monitor, args []string) (int, error) {
	if len(args) < 1 {
		return 0, errors.New("task index required")
	}
	ix, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("bad task index %q", args[0])
	}
	var max int
	mo.withKernel(func(k *kern.Kernel) { max = k.TaskCount() })
	if ix < 0 || ix >= max {
		return 0, fmt.Errorf("task index %d out of range", ix)
	}
	return ix, nil
}
