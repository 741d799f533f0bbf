//go:build tinygo

package main

import (
	"context"

	"ember/app"
	"ember/hal"
)

func main() {
	h := hal.New()
	m, err := app.New(h)
	if err != nil {
		println("ember: boot:", err.Error())
		return
	}
	go m.ServeSerial(context.Background(), h.Serial())
	if err := m.Run(context.Background(), 100); err != nil {
		println("ember: halt:", err.Error())
	}
	select {}
}
