package boot

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/bringup.go/pkg/deferlog"
	"github.com/robotalks/bringup.go/pkg/diag"
	"github.com/robotalks/bringup.go/pkg/hw"
	"github.com/robotalks/bringup.go/pkg/kernel"
	"github.com/robotalks/bringup.go/pkg/netstack/appnet"
	"github.com/robotalks/bringup.go/pkg/netstack/mesh"
	"github.com/robotalks/bringup.go/pkg/wait"
)

// Step names, in bring-up order.
const (
	StepClock        = "clock"
	StepLog          = "log"
	StepRadio        = "radio"
	StepMem          = "mem"
	StepAppNet       = "appnet"
	StepConnectivity = "connectivity"
	StepMesh         = "mesh"
	StepAppNetTask   = "appnet-task"
	StepMeshTask     = "mesh-task"
	StepTestTask     = "test-task"
	StepTimerTest    = "timer-test"
	StepButtonTest   = "button-test"
	StepScheduler    = "scheduler"
)

// Clock is the low frequency clock driver.
type Clock interface {
	Init() error
	Request()
	IsReady() bool
}

// Radio is the radio coprocessor enabler.
type Radio interface {
	EnableRequest() error
	IsEnabled() bool
	RegisterObserver(hw.Observer) error
}

// Allocator is the block allocator.
type Allocator interface {
	Init() error
}

// AppNetStack is the application network stack.
type AppNetStack interface {
	InitStack() error
	StartEventLoopTask() (*kernel.Task, error)
	SetConnectivityMode(appnet.ConnectivityMode) error
}

// MeshStack is the mesh network stack.
type MeshStack interface {
	InitStack(mesh.Args) error
	StartTask() (*kernel.Task, error)
	HandleSystemEvent(hw.SystemEvent)
}

// Diagnostics are the optional self tests.
type Diagnostics interface {
	StartTestTask() (*kernel.Task, error)
	StartTimerTest() (*kernel.Task, error)
	StartButtonTest() error
}

// Tasks are the handles of the tasks created during bring-up.
type Tasks struct {
	Log       *kernel.Task
	AppNet    *kernel.Task
	Mesh      *kernel.Task
	Test      *kernel.Task
	TimerTest *kernel.Task
}

// Node is the bring-up context: configuration, collaborators and
// everything created while bringing the node up.
type Node struct {
	Config    *Config
	Kernel    *kernel.Kernel
	Clock     Clock
	Radio     Radio
	Allocator Allocator
	AppNet    AppNetStack
	Mesh      MeshStack
	Diag      Diagnostics
	// LEDs is optional, LED0 is lit after the banner.
	LEDs diag.LEDs
	// Transport is created from Config.Log.Transport if nil.
	Transport deferlog.Transport

	BootLog *BootLog
	State   *Readiness
	Halter  Halter
	Tasks   Tasks

	lock   sync.RWMutex
	logger *deferlog.Logger
}

// NewNode creates a Node without collaborators.
func NewNode(conf *Config) *Node {
	n := &Node{
		Config: conf,
		Kernel: kernel.New(conf.Kernel),
		State:  NewReadiness(),
	}
	n.Halter = HalterFor(conf.Halt, n.FlushLog)
	n.BootLog = &BootLog{Mirror: n}
	return n
}

// FlushLog writes buffered records of the deferred logger to its transport.
// Before the scheduler starts the log task isn't running, so a halt must
// flush explicitly.
func (n *Node) FlushLog() {
	if logger := n.Logger(); logger != nil {
		logger.Flush()
	}
}

// Emit implements deferlog.Emitter. Records go to the deferred logger once
// it exists, to glog before that or when deferred logging is disabled.
func (n *Node) Emit(level deferlog.Level, source, text string) {
	if logger := n.Logger(); logger != nil {
		logger.Emit(level, source, text)
		return
	}
	deferlog.Glog{}.Emit(level, source, text)
}

// Logger returns the deferred logger, nil before the log step.
func (n *Node) Logger() *deferlog.Logger {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.logger
}

// Run brings the node up. It only returns on a fatal failure, after the
// Halter returns.
func (n *Node) Run(ctx context.Context) error {
	seq, err := NewSequencer(n.Steps(), n.BootLog, n.Halter)
	if err != nil {
		return err
	}
	seq.State = n.State
	return seq.Run(ctx)
}

// Steps builds the bring-up plan from the enabled features.
func (n *Node) Steps() []Step {
	f := n.Config.Features
	radio := f.BLE || f.Mesh
	var steps []Step
	add := func(s Step) { steps = append(steps, s) }

	add(Step{
		Name:        StepClock,
		Description: "Initializing clock",
		Init:        n.initClock,
	})
	if f.DeferredLog {
		add(Step{
			Name:        StepLog,
			Description: "Initializing deferred log",
			Deps:        []string{StepClock},
			Init:        n.initLog,
		})
	}
	if radio {
		add(Step{
			Name:        StepRadio,
			Description: "Enabling radio coprocessor",
			Deps:        []string{StepClock},
			Init:        n.enableRadio,
		})
	}
	add(Step{
		Name:        StepMem,
		Description: "Initializing block allocator",
		Deps:        []string{StepClock},
		Init:        func(context.Context) error { return n.Allocator.Init() },
	})
	appnetDeps := []string{StepClock, StepMem}
	if radio {
		appnetDeps = append(appnetDeps, StepRadio)
	}
	add(Step{
		Name:        StepAppNet,
		Description: "Initializing application network stack",
		Deps:        appnetDeps,
		Init:        func(context.Context) error { return n.AppNet.InitStack() },
	})
	taskDeps := []string{StepAppNet}
	if !f.BLE {
		add(Step{
			Name:        StepConnectivity,
			Description: "Disabling BLE service",
			Deps:        []string{StepAppNet},
			Init: func(context.Context) error {
				return n.AppNet.SetConnectivityMode(appnet.ModeBLEDisabled)
			},
		})
		taskDeps = append(taskDeps, StepConnectivity)
	}
	if f.Mesh {
		add(Step{
			Name:        StepMesh,
			Description: "Initializing mesh stack",
			Deps:        []string{StepAppNet, StepRadio},
			Init: func(context.Context) error {
				return n.Mesh.InitStack(n.Config.Mesh.Args)
			},
		})
		// the event table must be complete before the event loop runs.
		taskDeps = append(taskDeps, StepMesh)
	}
	add(Step{
		Name:        StepAppNetTask,
		Description: "Starting application network task",
		Deps:        taskDeps,
		Init: func(context.Context) (err error) {
			n.Tasks.AppNet, err = n.AppNet.StartEventLoopTask()
			return
		},
	})
	if f.Mesh {
		add(Step{
			Name:        StepMeshTask,
			Description: "Starting mesh task",
			Deps:        []string{StepMesh, StepAppNetTask},
			Init: func(context.Context) (err error) {
				n.Tasks.Mesh, err = n.Mesh.StartTask()
				return
			},
		})
	}
	if f.TestTask {
		add(Step{
			Name:        StepTestTask,
			Description: "Starting test task",
			Deps:        []string{StepClock},
			Init: func(context.Context) (err error) {
				n.Tasks.Test, err = n.Diag.StartTestTask()
				return
			},
		})
	}
	if f.TimerTest {
		add(Step{
			Name:        StepTimerTest,
			Description: "Starting timer test",
			Deps:        []string{StepClock},
			Init: func(context.Context) (err error) {
				n.Tasks.TimerTest, err = n.Diag.StartTimerTest()
				return
			},
		})
	}
	if f.ButtonTest {
		add(Step{
			Name:        StepButtonTest,
			Description: "Enabling button test",
			Deps:        []string{StepClock},
			Init:        func(context.Context) error { return n.Diag.StartButtonTest() },
		})
	}
	var all []string
	for _, s := range steps {
		all = append(all, s.Name)
	}
	add(Step{
		Name:        StepScheduler,
		Description: "Starting scheduler",
		Deps:        all,
		Init: func(ctx context.Context) error {
			return n.Kernel.Start(ctx)
		},
	})
	return steps
}

func (n *Node) initClock(ctx context.Context) error {
	if err := n.Clock.Init(); err != nil {
		return err
	}
	n.Clock.Request()
	if err := wait.Until(ctx, "clock", n.Clock.IsReady, n.Config.Wait); err != nil {
		return err
	}
	if !n.Config.Features.DeferredLog {
		n.banner()
	}
	return nil
}

func (n *Node) initLog(ctx context.Context) error {
	conf := n.Config.Log
	tr := n.Transport
	if tr == nil {
		var err error
		if tr, err = deferlog.NewTransport(conf.Transport, conf); err != nil {
			return err
		}
	}
	logger := deferlog.New(tr, conf)
	if err := logger.Init(); err != nil {
		return err
	}
	task, err := n.Kernel.Go("log", conf.TaskPriority, logger.Run)
	if err != nil {
		return err
	}
	n.Kernel.OnIdle(logger.IdleHook)
	n.Tasks.Log = task
	n.lock.Lock()
	n.logger = logger
	n.lock.Unlock()
	n.banner()
	return nil
}

func (n *Node) banner() {
	const rule = "=================================================="
	n.Emit(deferlog.LevelInfo, logSource, rule)
	n.Emit(deferlog.LevelInfo, logSource, "bringup.go node starting")
	n.Emit(deferlog.LevelInfo, logSource, rule)
	if n.LEDs != nil {
		n.LEDs.InvertLED(hw.LED0)
	}
}

func (n *Node) enableRadio(ctx context.Context) error {
	if err := n.Radio.EnableRequest(); err != nil {
		return fmt.Errorf("enable request: %w", err)
	}
	if err := wait.Until(ctx, "radio", n.Radio.IsEnabled, n.Config.Wait); err != nil {
		return err
	}
	return n.Radio.RegisterObserver(hw.ObserverFunc(n.routeSystemEvent))
}

func (n *Node) routeSystemEvent(evt hw.SystemEvent) {
	if n.Config.Features.Mesh && n.Mesh != nil {
		n.Mesh.HandleSystemEvent(evt)
		return
	}
	glog.V(4).Infof("system event %s ignored", evt)
}
