package boot

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/bringup.go/pkg/deferlog"
	"github.com/robotalks/bringup.go/pkg/diag"
	"github.com/robotalks/bringup.go/pkg/kernel"
	"github.com/robotalks/bringup.go/pkg/mem"
	"github.com/robotalks/bringup.go/pkg/netstack/appnet"
	"github.com/robotalks/bringup.go/pkg/netstack/mesh"
	"github.com/robotalks/bringup.go/pkg/wait"
)

// Environment variables overriding defaults.
const (
	EnvLogURL     = "BRINGUP_LOG_URL"
	EnvServiceURL = "BRINGUP_SERVICE_URL"
)

// Features are the bring-up toggles.
type Features struct {
	DeferredLog bool `yaml:"deferred_log"`
	BLE         bool `yaml:"ble"`
	Mesh        bool `yaml:"mesh"`
	TestTask    bool `yaml:"test_task"`
	TimerTest   bool `yaml:"timer_test"`
	ButtonTest  bool `yaml:"button_test"`
}

// Config defines the node.
type Config struct {
	Features Features        `yaml:"features"`
	Log      deferlog.Config `yaml:"log"`
	Wait     wait.Policy     `yaml:"wait"`
	Kernel   kernel.Config   `yaml:"kernel"`
	Mem      mem.Config      `yaml:"mem"`
	AppNet   appnet.Config   `yaml:"appnet"`
	Mesh     mesh.Config     `yaml:"mesh"`
	Diag     diag.Config     `yaml:"diag"`
	// Halt is reset or hang.
	Halt string `yaml:"halt"`
}

var defaultConfig = Config{
	Features: Features{
		DeferredLog: true,
		BLE:         true,
		Mesh:        true,
		TimerTest:   true,
		ButtonTest:  true,
	},
	Log:    deferlog.DefaultConfig(),
	Wait:   wait.Policy{Interval: wait.DefaultInterval},
	Kernel: kernel.DefaultConfig(),
	Mem:    mem.DefaultConfig(),
	AppNet: appnet.DefaultConfig(),
	Mesh:   mesh.DefaultConfig(),
	Diag:   diag.DefaultConfig(),
	Halt:   HaltReset,
}

// SetupFlags applies environment overrides and sets command line flags on
// the default config.
func SetupFlags() {
	ApplyEnv(&defaultConfig)
	SetupFlagSet(flag.CommandLine, &defaultConfig)
}

// SetupFlagSet registers flags bound to conf.
func SetupFlagSet(fs *flag.FlagSet, conf *Config) {
	fs.BoolVar(&conf.Features.DeferredLog, "deferred-log", conf.Features.DeferredLog, "Enable deferred logging.")
	fs.BoolVar(&conf.Features.BLE, "ble", conf.Features.BLE, "Enable BLE, when disabled the connectivity mode is set to ble-disabled.")
	fs.BoolVar(&conf.Features.Mesh, "mesh", conf.Features.Mesh, "Enable the mesh stack.")
	fs.BoolVar(&conf.Features.TestTask, "test-task", conf.Features.TestTask, "Start the test task.")
	fs.BoolVar(&conf.Features.TimerTest, "timer-test", conf.Features.TimerTest, "Start the timer test.")
	fs.BoolVar(&conf.Features.ButtonTest, "button-test", conf.Features.ButtonTest, "Enable the button test.")
	fs.StringVar(&conf.Log.Transport, "log-transport", conf.Log.Transport, "Log transport URL: stdout, stderr, file:///path, mqtt://host:port/prefix, ws://host/path.")
	fs.Var((*levelValue)(&conf.Log.Level), "log-level", "Log level: error, warning, info, debug.")
	fs.DurationVar(&conf.Wait.Timeout, "ready-timeout", conf.Wait.Timeout, "Maximum wait for hardware readiness, 0 waits forever.")
	fs.StringVar(&conf.AppNet.DeviceID, "device-id", conf.AppNet.DeviceID, "Device id, derived from the machine id if empty.")
	fs.StringVar(&conf.AppNet.ServiceURL, "service", conf.AppNet.ServiceURL, "Service MQTT broker URL, empty disables the service link.")
	fs.StringVar(&conf.Halt, "halt", conf.Halt, "Fatal halt mode: reset or hang.")
}

// ApplyEnv overrides conf from environment variables.
func ApplyEnv(conf *Config) {
	if v := os.Getenv(EnvLogURL); v != "" {
		conf.Log.Transport = v
	}
	if v := os.Getenv(EnvServiceURL); v != "" {
		conf.AppNet.ServiceURL = v
	}
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Mem.Tiers = append([]mem.Tier(nil), defaultConfig.Mem.Tiers...)
	return &conf
}

// LoadFile overrides conf with a YAML file.
func (c *Config) LoadFile(fn string) error {
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config %s: %w", fn, err)
	}
	return c.Validate()
}

// Validate checks values not covered by the subsystems.
func (c *Config) Validate() error {
	switch c.Halt {
	case HaltReset, HaltHang:
	default:
		return fmt.Errorf("invalid halt mode %q", c.Halt)
	}
	if c.Kernel.MaxTasks < 0 {
		return fmt.Errorf("invalid kernel.max_tasks %d", c.Kernel.MaxTasks)
	}
	if c.Kernel.IdleInterval <= 0 {
		return fmt.Errorf("invalid kernel.idle_interval %v", c.Kernel.IdleInterval)
	}
	return nil
}

type levelValue deferlog.Level

func (v *levelValue) String() string {
	return deferlog.Level(*v).String()
}

func (v *levelValue) Set(s string) error {
	return (*deferlog.Level)(v).UnmarshalText([]byte(s))
}
