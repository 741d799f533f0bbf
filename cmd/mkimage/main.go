// mkimage turns a JSON board description into an image blob the kernel
// can boot, and dumps existing blobs for inspection.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ember/abi"
	"ember/image"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "Board description (JSON).")
		outPath  = flag.String("out", "image.bin", "Output blob path.")
		dumpPath = flag.String("dump", "", "Decode and print an existing blob instead of building.")
	)
	flag.Parse()

	if *dumpPath != "" {
		if err := dump(*dumpPath); err != nil {
			fatalf("dump: %v", err)
		}
		return
	}
	if *cfgPath == "" {
		fatalf("usage: mkimage -config board.json [-out image.bin]\n       mkimage -dump image.bin")
	}
	if err := build(*cfgPath, *outPath); err != nil {
		fatalf("build: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

// hexUint accepts JSON numbers and "0x.." strings.
type hexUint uint64

func (h *hexUint) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("bad number %q", s)
	}
	*h = hexUint(v)
	return nil
}

type boardConfig struct {
	ImageId    hexUint      `json:"image_id"`
	Supervisor supervisor   `json:"supervisor"`
	Tasks      []taskConfig `json:"tasks"`
}

type supervisor struct {
	Index        int     `json:"index"`
	Notification hexUint `json:"notification"`
}

type taskConfig struct {
	Name     string       `json:"name"`
	Priority uint8        `json:"priority"`
	Start    *bool        `json:"start,omitempty"`
	Stack    hexUint      `json:"stack,omitempty"`
	Data     hexUint      `json:"data,omitempty"`
	Device   *deviceGrant `json:"device,omitempty"`
	Irqs     []irqConfig  `json:"irqs,omitempty"`
}

type deviceGrant struct {
	Name string  `json:"name"`
	Size hexUint `json:"size"`
}

type irqConfig struct {
	Irq          uint16  `json:"irq"`
	Notification hexUint `json:"notification"`
}

func build(cfgPath, outPath string) error {
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	var cfg boardConfig
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("%s: %w", cfgPath, err)
	}

	b := image.NewBuilder(uint64(cfg.ImageId))
	for _, t := range cfg.Tasks {
		tc := image.TaskConfig{
			Name:       t.Name,
			Priority:   t.Priority,
			Start:      t.Start == nil || *t.Start,
			StackBytes: uint32(t.Stack),
			DataBytes:  uint32(t.Data),
		}
		if t.Device != nil {
			tc.Extra = append(tc.Extra, b.AddDevice(t.Device.Name, uint32(t.Device.Size)))
		}
		for _, irq := range t.Irqs {
			tc.Irqs = append(tc.Irqs, image.IrqDesc{
				Irq:          irq.Irq,
				Notification: uint32(irq.Notification),
			})
		}
		b.AddTask(tc)
	}
	b.SetSupervisor(cfg.Supervisor.Index, uint32(cfg.Supervisor.Notification))

	img, err := b.Build()
	if err != nil {
		return err
	}
	blob, err := image.Encode(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, blob, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s: %d tasks, %d bytes\n", outPath, len(img.Tasks), len(blob))
	return nil
}

func dump(path string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	img, err := image.Decode(blob)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Printf("image %#x: %d tasks, supervisor %d (bits %#x)\n",
		img.ImageId, len(img.Tasks), img.Supervisor, img.FaultNotification)
	for _, s := range img.Segments {
		fmt.Printf("segment %-8s %-6s %#10x + %#x\n", s.Name, s.Kind, s.Base, s.Size)
	}
	for i, t := range img.Tasks {
		start := ""
		if t.Flags&image.TaskStart != 0 {
			start = " start"
		}
		fmt.Printf("task %2d %-13s pri %d entry %#x stack [%#x,%#x)%s\n",
			i, t.Name, t.Priority, t.Entry, t.StackBase, t.InitialStack, start)
		for _, r := range t.Regions {
			fmt.Printf("  region %#10x + %#-8x %s\n", r.Base, r.Size, abi.RegionAttrString(r.Attributes))
		}
		for _, irq := range t.Irqs {
			fmt.Printf("  irq %d -> bits %#x\n", irq.Irq, irq.Notification)
		}
	}
	return nil
}
