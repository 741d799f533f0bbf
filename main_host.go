//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"ember/app"
	"ember/hal"
	"ember/image"
	"ember/kern"
	"ember/mon"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		headless  = flag.Bool("headless", false, "Run without the front-panel window.")
		hz        = flag.Int("hz", 100, "Kernel tick rate.")
		ticks     = flag.Uint64("ticks", 0, "Headless only: step N ticks deterministically, dump the log, exit.")
		imagePath = flag.String("image", "", "Boot an image blob instead of the built-in demo.")
		useMon    = flag.Bool("mon", false, "Serve the monitor REPL on the console instead of raw serial.")
	)
	flag.Parse()

	img, err := bootImage(*imagePath)
	if err != nil {
		return err
	}

	h := hal.New()
	serial := h.Serial()
	m, err := app.Machine(img, serial)
	if err != nil {
		return err
	}

	if *headless && *ticks > 0 {
		// Batch mode: a fixed number of ticks, then the log tail.
		m.Start()
		m.StepTicks(int(*ticks))
		for _, line := range m.Kernel().Klog().Tail(kern.KlogLines) {
			fmt.Println(line)
		}
		if m.Halted() {
			return fmt.Errorf("%s", m.Kernel().Death.String())
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var panel *mon.Panel
	if !*headless {
		d := h.Display()
		if d == nil {
			return errors.New("platform has no display; use -headless")
		}
		panel = mon.NewPanel(m, d.Framebuffer())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(ctx, *hz) })

	// Console readers block in Read and cannot honor ctx, so they run
	// detached and signal shutdown through stop.
	if *useMon {
		go func() {
			mon.New(m, serial, serial).Run(ctx)
			stop()
		}()
	} else {
		go m.ServeSerial(ctx, serial)
	}

	if *headless {
		err := g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	g.Go(func() error { return panel.Run(ctx) })
	werr := hal.RunWindow("ember", h, func(b byte) {
		m.InjectSerial([]byte{b})
	})
	stop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return werr
}

func bootImage(path string) (*image.Image, error) {
	if path == "" {
		return app.Image()
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := image.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
