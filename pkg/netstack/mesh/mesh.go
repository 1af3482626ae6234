// Package mesh provides the mesh network stack shell. It registers into the
// application network stack event table, takes system events from the radio
// coprocessor and runs the mesh task.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/bringup.go/pkg/deferlog"
	"github.com/robotalks/bringup.go/pkg/hw"
	"github.com/robotalks/bringup.go/pkg/kernel"
	"github.com/robotalks/bringup.go/pkg/netstack/appnet"
)

var (
	// ErrInvalidArgs indicates bad network parameters.
	ErrInvalidArgs = errors.New("invalid mesh arguments")
	// ErrNotInitialized indicates InitStack has not succeeded.
	ErrNotInitialized = errors.New("mesh stack not initialized")
	// ErrAlreadyInitialized indicates InitStack was called twice.
	ErrAlreadyInitialized = errors.New("mesh stack already initialized")
	// ErrAppNetNotInitialized indicates the application network stack is not
	// initialized, so mesh handlers can't be registered.
	ErrAppNetNotInitialized = errors.New("application network stack not initialized")
	// ErrEventLoopNotRunning indicates the mesh task is started before the
	// application network event loop task.
	ErrEventLoopNotRunning = errors.New("application network event loop not running")
	// ErrAlreadyStarted indicates StartTask was called twice.
	ErrAlreadyStarted = errors.New("mesh task already started")
)

// Roles reported through appnet.EventMeshStateChange.
const (
	RoleDetached = "detached"
	RoleLeader   = "leader"
)

const (
	logSource = "mesh"
	// MaxNetworkName is the maximum length of the network name in bytes.
	MaxNetworkName = 16
	// event queue depth between the radio observer and the mesh task.
	eventQueueSize = 16
)

// Args are the network parameters given to InitStack.
type Args struct {
	NetworkName string `yaml:"network_name" json:"network_name"`
	Channel     int    `yaml:"channel" json:"channel"`
	PANID       uint16 `yaml:"pan_id" json:"pan_id"`
}

// Validate checks the parameters.
func (a Args) Validate() error {
	if a.Channel < 11 || a.Channel > 26 {
		return fmt.Errorf("%w: channel %d out of 11-26", ErrInvalidArgs, a.Channel)
	}
	if a.PANID == 0 {
		return fmt.Errorf("%w: zero PAN ID", ErrInvalidArgs)
	}
	if len(a.NetworkName) > MaxNetworkName {
		return fmt.Errorf("%w: network name longer than %d bytes", ErrInvalidArgs, MaxNetworkName)
	}
	return nil
}

// Config defines the mesh stack.
type Config struct {
	Args         `yaml:",inline"`
	TaskPriority int `yaml:"task_priority"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Args: Args{
			NetworkName: "bringup",
			Channel:     15,
			PANID:       0xface,
		},
		TaskPriority: 2,
	}
}

// AppNet is the part of the application network stack used by the mesh.
type AppNet interface {
	Initialized() bool
	Running() bool
	SubscribeAll(subs ...appnet.Subscription) error
	PostEvent(ev *appnet.Event) error
}

// Stats reports counters of the mesh stack.
type Stats struct {
	Events  uint64
	Dropped uint64
	Attach  uint64
}

// Stack is the mesh network stack.
type Stack struct {
	events  uint64
	dropped uint64
	attach  uint64

	Config Config
	Log    deferlog.Emitter

	net     AppNet
	spawner appnet.Spawner

	lock        sync.Mutex
	initialized int32
	args        Args
	pending     *Args
	role        string
	task        *kernel.Task

	eventCh  chan hw.SystemEvent
	tasklets *kernel.Signal
}

// New creates a mesh Stack.
func New(conf Config, net AppNet, spawner appnet.Spawner, log deferlog.Emitter) *Stack {
	return &Stack{
		Config:   conf,
		Log:      log,
		net:      net,
		spawner:  spawner,
		role:     appnet.MeshRoleDisabled,
		eventCh:  make(chan hw.SystemEvent, eventQueueSize),
		tasklets: kernel.NewSignal(),
	}
}

// InitStack validates args and registers the mesh handlers into the
// application network event table.
func (s *Stack) InitStack(args Args) error {
	if err := args.Validate(); err != nil {
		return err
	}
	if !s.net.Initialized() {
		return ErrAppNetNotInitialized
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.Initialized() {
		return ErrAlreadyInitialized
	}
	err := s.net.SubscribeAll(
		appnet.Subscription{Kind: appnet.EventMeshDataset, Handler: s.onDataset},
		appnet.Subscription{Kind: appnet.EventConnectivityChange, Handler: s.onConnectivityChange},
	)
	if err != nil {
		return fmt.Errorf("mesh subscribe: %w", err)
	}
	s.args = args
	s.role = RoleDetached
	atomic.StoreInt32(&s.initialized, 1)
	deferlog.Infof(s.Log, logSource, "stack initialized: %q channel %d pan 0x%04x",
		args.NetworkName, args.Channel, args.PANID)
	return nil
}

// Initialized reports whether InitStack succeeded.
func (s *Stack) Initialized() bool {
	return atomic.LoadInt32(&s.initialized) != 0
}

// HandleSystemEvent takes a system event from the radio observer. It never
// blocks; events before InitStack or beyond the queue depth are dropped.
func (s *Stack) HandleSystemEvent(evt hw.SystemEvent) {
	if !s.Initialized() {
		atomic.AddUint64(&s.dropped, 1)
		glog.V(2).Infof("mesh: system event %s dropped before init", evt)
		return
	}
	select {
	case s.eventCh <- evt:
		s.tasklets.Give()
	default:
		atomic.AddUint64(&s.dropped, 1)
		glog.V(2).Infof("mesh: system event %s dropped, queue full", evt)
	}
}

// StartTask starts the mesh task. The application network event loop task
// must already be running.
func (s *Stack) StartTask() (*kernel.Task, error) {
	if !s.Initialized() {
		return nil, ErrNotInitialized
	}
	if !s.net.Running() {
		return nil, ErrEventLoopNotRunning
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.task != nil {
		return nil, ErrAlreadyStarted
	}
	task, err := s.spawner.Go("mesh", s.Config.TaskPriority, s.run)
	if err != nil {
		return nil, err
	}
	s.task = task
	return task, nil
}

// Role returns the current role.
func (s *Stack) Role() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.role
}

// Args returns the network parameters in use.
func (s *Stack) Args() Args {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.args
}

// Stats returns the counters.
func (s *Stack) Stats() Stats {
	return Stats{
		Events:  atomic.LoadUint64(&s.events),
		Dropped: atomic.LoadUint64(&s.dropped),
		Attach:  atomic.LoadUint64(&s.attach),
	}
}

func (s *Stack) run(ctx context.Context) error {
	s.attachNetwork()
	for {
		if _, err := s.tasklets.Take(ctx); err != nil {
			return err
		}
		s.processEvents()
		s.lock.Lock()
		pending := s.pending
		s.pending = nil
		s.lock.Unlock()
		if pending != nil {
			s.lock.Lock()
			s.args = *pending
			s.lock.Unlock()
			deferlog.Infof(s.Log, logSource, "dataset applied: %q channel %d pan 0x%04x",
				pending.NetworkName, pending.Channel, pending.PANID)
			s.attachNetwork()
		}
	}
}

func (s *Stack) processEvents() {
	for {
		select {
		case evt := <-s.eventCh:
			atomic.AddUint64(&s.events, 1)
			deferlog.Debugf(s.Log, logSource, "system event %s", evt)
		default:
			return
		}
	}
}

func (s *Stack) attachNetwork() {
	atomic.AddUint64(&s.attach, 1)
	s.setRole(RoleDetached)
	s.setRole(RoleLeader)
}

func (s *Stack) setRole(role string) {
	s.lock.Lock()
	changed := s.role != role
	s.role = role
	s.lock.Unlock()
	if !changed {
		return
	}
	deferlog.Infof(s.Log, logSource, "role %s", role)
	if err := s.net.PostEvent(&appnet.Event{Kind: appnet.EventMeshStateChange, Payload: role}); err != nil {
		glog.Warningf("mesh: post state change: %v", err)
	}
}

// onDataset runs on the application network event loop task.
func (s *Stack) onDataset(ctx context.Context, ev *appnet.Event) {
	ds, ok := ev.Payload.(appnet.MeshDataset)
	if !ok {
		return
	}
	s.lock.Lock()
	args := s.args
	s.lock.Unlock()
	if ds.NetworkName != "" {
		args.NetworkName = ds.NetworkName
	}
	args.Channel, args.PANID = ds.Channel, ds.PANID
	if err := args.Validate(); err != nil {
		deferlog.Warningf(s.Log, logSource, "dataset rejected: %v", err)
		return
	}
	s.lock.Lock()
	s.pending = &args
	s.lock.Unlock()
	s.tasklets.Give()
}

func (s *Stack) onConnectivityChange(ctx context.Context, ev *appnet.Event) {
	if conn, ok := ev.Payload.(appnet.Connectivity); ok {
		deferlog.Debugf(s.Log, logSource, "connectivity mode %s", conn.Mode)
	}
}
