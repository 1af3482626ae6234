package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/bringup.go/pkg/boot"
	"github.com/robotalks/bringup.go/pkg/hw"
	"github.com/robotalks/bringup.go/pkg/netstack/appnet"
)

// Shell provides ishell backed interactive shell on a simulated node.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell *ishell.Shell
	Node  *boot.SimNode
}

const shellKey = "$shell"

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&StatusCmd,
		&TasksCmd,
		&LogCmd,
		&MemCmd,
		&PressCmd,
		&ReleaseCmd,
		&EventCmd,
		&DatasetCmd,
		&ModeCmd,
	}
)

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds adds more commands, used before New.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(node *boot.SimNode) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell: ishell.New(),
		Node:  node,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(node.Net.DeviceID() + " > ")
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Run runs the shell, evaluating args if present.
func (s *Shell) Run(args ...string) error {
	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if s.Interactive {
		s.Shell.Run()
		return nil
	}
	return fmt.Errorf("command expected")
}

// Close closes the shell.
func (s *Shell) Close() {
	s.Shell.Close()
}

func (s *Shell) print(c *ishell.Context, v interface{}, text func()) {
	if !s.OutputJSON {
		text()
		return
	}
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// StatusInfo is the output of the status command.
type StatusInfo struct {
	Steps    map[string]string `json:"steps"`
	Mode     string            `json:"mode"`
	MeshRole string            `json:"mesh_role"`
	Service  bool              `json:"service"`
	Runnable int               `json:"runnable"`
	IdleRuns uint64            `json:"idle_runs"`
}

func buttonPin(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > 4 {
		return 0, fmt.Errorf("invalid button %q, expect 1-4", arg)
	}
	return hw.Button1 + n - 1, nil
}

func systemEvent(name string) (hw.SystemEvent, error) {
	for evt := hw.EvtHFClkStarted; evt <= hw.EvtRadioSessionClosed; evt++ {
		if evt.String() == name {
			return evt, nil
		}
	}
	return 0, fmt.Errorf("unknown system event %q", name)
}

var (
	// StatusCmd prints readiness and connectivity.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "show bring-up and connectivity status",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			n := s.Node
			info := StatusInfo{Steps: make(map[string]string)}
			for name, state := range n.State.Snapshot() {
				info.Steps[name] = state.String()
			}
			conn := n.Net.Connectivity()
			info.Mode, info.MeshRole, info.Service = conn.Mode.String(), conn.MeshRole, conn.ServiceConnected
			info.Runnable, info.IdleRuns = n.Kernel.Runnable(), n.Kernel.IdleRuns()
			s.print(c, info, func() {
				for _, step := range n.Steps() {
					state, ok := info.Steps[step.Name]
					if !ok {
						state = boot.NotStarted.String()
					}
					c.Printf("%-14s %s\n", step.Name, state)
				}
				c.Printf("mode %s, mesh %s, service connected %v\n", info.Mode, info.MeshRole, info.Service)
				c.Printf("runnable %d, idle runs %d\n", info.Runnable, info.IdleRuns)
			})
		},
	}

	// TasksCmd lists kernel tasks.
	TasksCmd = ishell.Cmd{
		Name:    "tasks",
		Aliases: []string{"ps"},
		Help:    "list tasks",
		Func: func(c *ishell.Context) {
			for _, t := range ShellFrom(c).Node.Kernel.Tasks() {
				c.Printf("%-12s prio %d %s\n", t.Name(), t.Priority(), t.State())
			}
		},
	}

	// LogCmd prints deferred log counters.
	LogCmd = ishell.Cmd{
		Name: "log",
		Help: "show deferred log counters",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			logger := s.Node.Logger()
			if logger == nil {
				c.Err(fmt.Errorf("deferred log disabled"))
				return
			}
			stats := logger.Stats()
			s.print(c, stats, func() {
				c.Printf("emitted %d, flushed %d in %d flushes, dropped %d, write failures %d, buffered %d\n",
					stats.Emitted, stats.Flushed, stats.Flushes, stats.Dropped, stats.WriteFailures, logger.Buffered())
			})
		},
	}

	// MemCmd prints allocator tiers.
	MemCmd = ishell.Cmd{
		Name: "mem",
		Help: "show block allocator tiers",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			stats := s.Node.Mem.Stats()
			s.print(c, stats, func() {
				for _, st := range stats {
					c.Printf("%5d bytes: %d/%d in use, peak %d\n", st.Size, st.InUse, st.Count, st.Peak)
				}
			})
		},
	}

	// PressCmd presses a button.
	PressCmd = ishell.Cmd{
		Name: "press",
		Help: "BUTTON(1-4)",
		Func: func(c *ishell.Context) {
			buttonAction(c, (*hw.SimBoard).Press)
		},
	}

	// ReleaseCmd releases a button.
	ReleaseCmd = ishell.Cmd{
		Name: "release",
		Help: "BUTTON(1-4)",
		Func: func(c *ishell.Context) {
			buttonAction(c, (*hw.SimBoard).Release)
		},
	}

	// EventCmd raises a radio system event.
	EventCmd = ishell.Cmd{
		Name: "event",
		Help: "NAME, raise a radio system event",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				var names []string
				for evt := hw.EvtHFClkStarted; evt <= hw.EvtRadioSessionClosed; evt++ {
					names = append(names, evt.String())
				}
				sort.Strings(names)
				c.Err(fmt.Errorf("expect one of: %s", strings.Join(names, ", ")))
				return
			}
			evt, err := systemEvent(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			if !ShellFrom(c).Node.Sim.Radio.Raise(evt) {
				c.Err(fmt.Errorf("no observer registered"))
			}
		},
	}

	// DatasetCmd provisions mesh parameters.
	DatasetCmd = ishell.Cmd{
		Name: "dataset",
		Help: "CHANNEL PANID [NAME]",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("expect CHANNEL PANID [NAME]"))
				return
			}
			channel, err := strconv.Atoi(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			pan, err := strconv.ParseUint(c.Args[1], 0, 16)
			if err != nil {
				c.Err(err)
				return
			}
			ds := appnet.MeshDataset{Channel: channel, PANID: uint16(pan)}
			if len(c.Args) > 2 {
				ds.NetworkName = c.Args[2]
			}
			err = ShellFrom(c).Node.Net.PostEvent(&appnet.Event{Kind: appnet.EventMeshDataset, Payload: ds})
			if err != nil {
				c.Err(err)
			}
		},
	}

	// ModeCmd changes the connectivity mode.
	ModeCmd = ishell.Cmd{
		Name: "mode",
		Help: "ble-enabled|ble-disabled",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("expect ble-enabled or ble-disabled"))
				return
			}
			var mode appnet.ConnectivityMode
			switch c.Args[0] {
			case appnet.ModeBLEEnabled.String():
				mode = appnet.ModeBLEEnabled
			case appnet.ModeBLEDisabled.String():
				mode = appnet.ModeBLEDisabled
			}
			if err := ShellFrom(c).Node.Net.SetConnectivityMode(mode); err != nil {
				c.Err(err)
			}
		},
	}
)

func buttonAction(c *ishell.Context, action func(*hw.SimBoard, int) error) {
	if len(c.Args) != 1 {
		c.Err(fmt.Errorf("expect BUTTON(1-4)"))
		return
	}
	pin, err := buttonPin(c.Args[0])
	if err != nil {
		c.Err(err)
		return
	}
	if err := action(ShellFrom(c).Node.Sim.Board, pin); err != nil {
		c.Err(err)
		return
	}
	glog.V(2).Infof("button %s on pin %d", c.Args[0], pin)
}
