package hw

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Board pins of the development kit.
const (
	Button1 = 13
	Button2 = 14
	Button3 = 15
	Button4 = 16

	LED0 = 0
	LED1 = 1
	LED2 = 2
	LED3 = 3

	NumLEDs = 4
)

var (
	// ErrButtonsNotEnabled indicates button events are not delivered yet.
	ErrButtonsNotEnabled = errors.New("buttons not enabled")
	// ErrUnknownPin indicates the pin is not configured.
	ErrUnknownPin = errors.New("unknown pin")
)

// ButtonAction is the edge reported for a button.
type ButtonAction int

// Button actions.
const (
	ButtonRelease ButtonAction = iota
	ButtonPush
)

func (a ButtonAction) String() string {
	if a == ButtonPush {
		return "PUSH"
	}
	return "RELEASE"
}

// ButtonHandler is called for a debounced button edge.
type ButtonHandler func(pin int, action ButtonAction)

// ButtonConfig configures a button pin.
type ButtonConfig struct {
	Pin       int
	ActiveLow bool
	Handler   ButtonHandler
}

// ButtonNumber maps a pin to the button number printed on the board,
// -1 for unknown pins.
func ButtonNumber(pin int) int {
	switch pin {
	case Button1:
		return 1
	case Button2:
		return 2
	case Button3:
		return 3
	case Button4:
		return 4
	}
	return -1
}

// SimBoard simulates the board LEDs and buttons.
type SimBoard struct {
	// ButtonInitErr makes InitButtons fail.
	ButtonInitErr error

	lock     sync.Mutex
	leds     [NumLEDs]bool
	toggles  [NumLEDs]int
	buttons  map[int]*simButton
	debounce time.Duration
	enabled  bool
}

type simButton struct {
	ButtonConfig
	pressed bool
	last    time.Time
}

// InvertLED toggles an LED.
func (b *SimBoard) InvertLED(n int) {
	if n < 0 || n >= NumLEDs {
		return
	}
	b.lock.Lock()
	b.leds[n] = !b.leds[n]
	b.toggles[n]++
	b.lock.Unlock()
}

// LED reports whether an LED is lit.
func (b *SimBoard) LED(n int) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.leds[n]
}

// Toggles reports how many times an LED was inverted.
func (b *SimBoard) Toggles(n int) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.toggles[n]
}

// InitButtons configures buttons.
func (b *SimBoard) InitButtons(cfgs []ButtonConfig, debounce time.Duration) error {
	if b.ButtonInitErr != nil {
		return b.ButtonInitErr
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	b.buttons = make(map[int]*simButton)
	for _, cfg := range cfgs {
		if ButtonNumber(cfg.Pin) < 0 {
			return fmt.Errorf("button pin %d: %w", cfg.Pin, ErrUnknownPin)
		}
		b.buttons[cfg.Pin] = &simButton{ButtonConfig: cfg}
	}
	b.debounce = debounce
	return nil
}

// EnableButtons starts delivering button events.
func (b *SimBoard) EnableButtons() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.buttons == nil {
		return ErrNotInitialized
	}
	b.enabled = true
	return nil
}

// Press simulates a button press.
func (b *SimBoard) Press(pin int) error {
	return b.edge(pin, true)
}

// Release simulates a button release.
func (b *SimBoard) Release(pin int) error {
	return b.edge(pin, false)
}

func (b *SimBoard) edge(pin int, pressed bool) error {
	b.lock.Lock()
	if !b.enabled {
		b.lock.Unlock()
		return ErrButtonsNotEnabled
	}
	btn := b.buttons[pin]
	if btn == nil {
		b.lock.Unlock()
		return fmt.Errorf("button pin %d: %w", pin, ErrUnknownPin)
	}
	now := time.Now()
	if btn.pressed == pressed || (!btn.last.IsZero() && now.Sub(btn.last) < b.debounce) {
		b.lock.Unlock()
		return nil
	}
	btn.pressed, btn.last = pressed, now
	handler := btn.Handler
	b.lock.Unlock()

	if handler != nil {
		action := ButtonRelease
		if pressed {
			action = ButtonPush
		}
		handler(pin, action)
	}
	return nil
}
