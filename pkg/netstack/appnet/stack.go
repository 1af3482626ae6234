// Package appnet provides the application network stack shell: device
// identity, connectivity manager, the device layer event dispatch table and
// the event loop task.
package appnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/bringup.go/pkg/deferlog"
	fx "github.com/robotalks/bringup.go/pkg/framework"
	"github.com/robotalks/bringup.go/pkg/kernel"
)

var (
	// ErrNotInitialized indicates InitStack has not succeeded.
	ErrNotInitialized = errors.New("application network stack not initialized")
	// ErrAlreadyInitialized indicates InitStack was called twice.
	ErrAlreadyInitialized = errors.New("application network stack already initialized")
	// ErrTableSealed indicates a subscription after the event loop started.
	ErrTableSealed = errors.New("event table sealed, event loop running")
	// ErrAlreadyStarted indicates StartEventLoopTask was called twice.
	ErrAlreadyStarted = errors.New("event loop task already started")
	// ErrNilHandler indicates a subscription without a handler.
	ErrNilHandler = errors.New("nil event handler")
)

const logSource = "appnet"

// Config defines the application network stack.
type Config struct {
	// DeviceID overrides the identity derived from the machine id.
	DeviceID string `yaml:"device_id"`
	// ServiceURL is the MQTT broker of the service link, empty disables it.
	// e.g. mqtt://host:port/topic-prefix
	ServiceURL   string `yaml:"service_url"`
	TaskPriority int    `yaml:"task_priority"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{TaskPriority: 2}
}

// Spawner creates tasks, implemented by kernel.Kernel.
type Spawner interface {
	Go(name string, priority int, fn kernel.TaskFunc) (*kernel.Task, error)
}

type stackState int

const (
	stateNew stackState = iota
	stateInitialized
	stateRunning
)

// Stack is the application network stack.
type Stack struct {
	Config Config
	Log    deferlog.Emitter

	spawner    Spawner
	lock       sync.RWMutex
	state      stackState
	deviceID   string
	dispatcher dispatcher
	loop       *fx.Loop
	conn       Connectivity
	link       *serviceLink
	task       *kernel.Task
}

// New creates a Stack which starts its task with spawner.
func New(conf Config, spawner Spawner, log deferlog.Emitter) *Stack {
	return &Stack{Config: conf, Log: log, spawner: spawner}
}

// InitStack establishes the identity and builds the event table.
func (s *Stack) InitStack() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state != stateNew {
		return ErrAlreadyInitialized
	}
	id, err := DeviceID(s.Config.DeviceID)
	if err != nil {
		return err
	}
	var link *serviceLink
	if s.Config.ServiceURL != "" {
		if link, err = newServiceLink(s.Config.ServiceURL, id, s); err != nil {
			return err
		}
	}
	loop := fx.NewLoop()
	loop.AddController(fx.PrLvDispatch, &s.dispatcher)
	if link != nil {
		loop.AddRunnable(link)
	}
	s.deviceID, s.loop, s.link = id, loop, link
	s.conn = Connectivity{Mode: ModeBLEEnabled, MeshRole: MeshRoleDisabled}
	s.dispatcher.add(EventConnectivityChange, func(context.Context, *Event) {
		s.updateConnectivity(func(*Connectivity) {})
	})
	s.dispatcher.add(EventMeshStateChange, s.onMeshStateChange)
	s.dispatcher.add(EventServiceConnectivityChange, s.onServiceConnectivityChange)
	s.state = stateInitialized
	deferlog.Infof(s.Log, logSource, "stack initialized, device %s", id)
	return nil
}

// DeviceID returns the identity established by InitStack.
func (s *Stack) DeviceID() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.deviceID
}

// Initialized reports whether InitStack succeeded.
func (s *Stack) Initialized() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state >= stateInitialized
}

// Running reports whether the event loop task was started.
func (s *Stack) Running() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state == stateRunning
}

// Subscribe adds a handler to the event table. Handlers can only be added
// between InitStack and StartEventLoopTask.
func (s *Stack) Subscribe(kind EventKind, h Handler) error {
	return s.SubscribeAll(Subscription{Kind: kind, Handler: h})
}

// SubscribeAll adds all handlers to the event table, or none of them.
func (s *Stack) SubscribeAll(subs ...Subscription) error {
	for _, sub := range subs {
		if sub.Handler == nil {
			return fmt.Errorf("subscribe %s: %w", sub.Kind, ErrNilHandler)
		}
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	switch s.state {
	case stateNew:
		return ErrNotInitialized
	case stateRunning:
		return ErrTableSealed
	}
	for _, sub := range subs {
		s.dispatcher.add(sub.Kind, sub.Handler)
	}
	return nil
}

// PostEvent queues an event for the event loop task. Events posted before
// the task starts are dispatched on its first iteration.
func (s *Stack) PostEvent(ev *Event) error {
	s.lock.RLock()
	loop := s.loop
	s.lock.RUnlock()
	if loop == nil {
		return ErrNotInitialized
	}
	loop.PostMessage(ev)
	loop.TriggerNext()
	return nil
}

// SetConnectivityMode changes the short range radio service mode.
func (s *Stack) SetConnectivityMode(mode ConnectivityMode) error {
	if !mode.Valid() {
		return ErrInvalidMode
	}
	s.lock.Lock()
	if s.state == stateNew {
		s.lock.Unlock()
		return ErrNotInitialized
	}
	changed := s.conn.Mode != mode
	s.conn.Mode = mode
	conn := s.conn
	s.lock.Unlock()
	if changed {
		deferlog.Infof(s.Log, logSource, "connectivity mode %s", mode)
		return s.PostEvent(&Event{Kind: EventConnectivityChange, Payload: conn})
	}
	return nil
}

// Connectivity returns the connectivity manager state.
func (s *Stack) Connectivity() Connectivity {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.conn
}

// StartEventLoopTask seals the event table and starts the event loop task.
func (s *Stack) StartEventLoopTask() (*kernel.Task, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch s.state {
	case stateNew:
		return nil, ErrNotInitialized
	case stateRunning:
		return nil, ErrAlreadyStarted
	}
	task, err := s.spawner.Go("appnet", s.Config.TaskPriority, s.run)
	if err != nil {
		return nil, err
	}
	s.state = stateRunning
	s.task = task
	return task, nil
}

func (s *Stack) run(ctx context.Context) error {
	deferlog.Infof(s.Log, logSource, "event loop running")
	return s.loop.Run(ctx)
}

func (s *Stack) onMeshStateChange(ctx context.Context, ev *Event) {
	role, ok := ev.Payload.(string)
	if !ok {
		glog.Warningf("appnet: bad mesh state payload %T", ev.Payload)
		return
	}
	s.updateConnectivity(func(c *Connectivity) { c.MeshRole = role })
	deferlog.Infof(s.Log, logSource, "mesh role %s", role)
}

func (s *Stack) onServiceConnectivityChange(ctx context.Context, ev *Event) {
	connected, _ := ev.Payload.(bool)
	s.updateConnectivity(func(c *Connectivity) { c.ServiceConnected = connected })
	deferlog.Infof(s.Log, logSource, "service connected: %v", connected)
}

func (s *Stack) updateConnectivity(fn func(*Connectivity)) {
	s.lock.Lock()
	fn(&s.conn)
	conn := s.conn
	link := s.link
	s.lock.Unlock()
	if link != nil {
		link.publishStatus(conn)
	}
}
