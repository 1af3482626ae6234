// Package diag provides the optional self tests started at the end of
// bring-up: an LED test task, a periodic timer test and a button test.
package diag

import (
	"context"
	"time"

	"github.com/robotalks/bringup.go/pkg/deferlog"
	fx "github.com/robotalks/bringup.go/pkg/framework"
	"github.com/robotalks/bringup.go/pkg/hw"
	"github.com/robotalks/bringup.go/pkg/kernel"
)

const logSource = "diag"

// Config defines the self tests.
type Config struct {
	// Period of LED toggles.
	Period time.Duration `yaml:"period"`
	// Debounce of the button test.
	Debounce     time.Duration `yaml:"debounce"`
	TaskPriority int           `yaml:"task_priority"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Period:       time.Second,
		Debounce:     50 * time.Millisecond,
		TaskPriority: 1,
	}
}

// Spawner creates tasks.
type Spawner interface {
	Go(name string, priority int, fn kernel.TaskFunc) (*kernel.Task, error)
}

// LEDs is the board LED driver.
type LEDs interface {
	InvertLED(n int)
}

// Buttons is the board button driver.
type Buttons interface {
	InitButtons(cfgs []hw.ButtonConfig, debounce time.Duration) error
	EnableButtons() error
}

// Diag runs the self tests.
type Diag struct {
	Config  Config
	Spawner Spawner
	LEDs    LEDs
	Buttons Buttons
	Log     deferlog.Emitter
}

// StartTestTask starts the test task. It lights LED1 and toggles LED2 every
// period.
func (d *Diag) StartTestTask() (*kernel.Task, error) {
	return d.Spawner.Go("test", d.Config.TaskPriority, func(ctx context.Context) error {
		deferlog.Infof(d.Log, logSource, "test task running")
		d.LEDs.InvertLED(hw.LED1)
		return d.blink(ctx, hw.LED2)
	})
}

// StartTimerTest starts the periodic timer toggling LED3.
func (d *Diag) StartTimerTest() (*kernel.Task, error) {
	return d.Spawner.Go("timer-test", d.Config.TaskPriority, func(ctx context.Context) error {
		return d.blink(ctx, hw.LED3)
	})
}

func (d *Diag) blink(ctx context.Context, led int) error {
	for {
		if err := fx.Sleep(ctx, d.Config.Period); err != nil {
			return err
		}
		d.LEDs.InvertLED(led)
	}
}

// StartButtonTest enables Button1 and logs every debounced edge.
func (d *Diag) StartButtonTest() error {
	cfgs := []hw.ButtonConfig{
		{Pin: hw.Button1, ActiveLow: true, Handler: d.onButton},
	}
	if err := d.Buttons.InitButtons(cfgs, d.Config.Debounce); err != nil {
		return err
	}
	return d.Buttons.EnableButtons()
}

func (d *Diag) onButton(pin int, action hw.ButtonAction) {
	deferlog.Infof(d.Log, logSource, "Button %d %s", hw.ButtonNumber(pin), action)
}
