//go:build !tinygo

package hal

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

type hostKeyboard struct {
	ch chan KeyEvent
}

func newHostKeyboard() *hostKeyboard {
	return &hostKeyboard{ch: make(chan KeyEvent, 64)}
}

func (k *hostKeyboard) Events() <-chan KeyEvent { return k.ch }

// poll translates the frame's input into serial-shaped runes: printable
// characters as themselves, the special keys as their terminal bytes.
// Called from the window's game loop.
func (k *hostKeyboard) poll() {
	emit := func(r rune) {
		select {
		case k.ch <- KeyEvent{Press: true, Rune: r}:
		default:
		}
	}

	ctrl := ebiten.IsKeyPressed(ebiten.KeyControlLeft) || ebiten.IsKeyPressed(ebiten.KeyControlRight)
	if ctrl {
		for key := ebiten.KeyA; key <= ebiten.KeyZ; key++ {
			if inpututil.IsKeyJustPressed(key) {
				emit(rune(key-ebiten.KeyA) + 0x01)
			}
		}
		return
	}

	for _, r := range ebiten.AppendInputChars(nil) {
		emit(r)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		emit('\r')
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		emit(0x7F)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyTab) {
		emit('\t')
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		emit(0x1B)
	}
}
