package appnet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/bringup.go/pkg/kernel"
)

func newTestStack(k *kernel.Kernel) *Stack {
	conf := DefaultConfig()
	conf.DeviceID = "node-1"
	return New(conf, k, nil)
}

func startKernel(t *testing.T, k *kernel.Kernel) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Start(ctx)
	}()
	<-k.Started()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("kernel not stopped")
		}
	}
}

func TestStackInitFailureLeavesNoState(t *testing.T) {
	k := kernel.New(kernel.DefaultConfig())
	s := newTestStack(k)
	s.Config.ServiceURL = "mqtt://broker:port/"
	require.Error(t, s.InitStack())
	require.False(t, s.Initialized())
	require.Empty(t, s.DeviceID())
	require.Equal(t, ErrNotInitialized, s.PostEvent(&Event{Kind: EventMeshDataset}))

	s.Config.ServiceURL = ""
	require.NoError(t, s.InitStack())
	require.NoError(t, s.PostEvent(&Event{Kind: EventMeshDataset}))
}

func TestStackSubscribeAllOrNothing(t *testing.T) {
	k := kernel.New(kernel.DefaultConfig())
	s := newTestStack(k)
	require.NoError(t, s.InitStack())
	before := len(s.dispatcher.handlers[EventMeshDataset])

	err := s.SubscribeAll(
		Subscription{Kind: EventMeshDataset, Handler: func(context.Context, *Event) {}},
		Subscription{Kind: EventConnectivityChange},
	)
	require.True(t, errors.Is(err, ErrNilHandler))
	require.Len(t, s.dispatcher.handlers[EventMeshDataset], before)

	require.NoError(t, s.SubscribeAll(
		Subscription{Kind: EventMeshDataset, Handler: func(context.Context, *Event) {}},
		Subscription{Kind: EventConnectivityChange, Handler: func(context.Context, *Event) {}},
	))
	require.Len(t, s.dispatcher.handlers[EventMeshDataset], before+1)
}

func TestStackLifecycleErrors(t *testing.T) {
	k := kernel.New(kernel.DefaultConfig())
	s := newTestStack(k)
	require.Equal(t, ErrNotInitialized, s.Subscribe(EventMeshDataset, func(context.Context, *Event) {}))
	require.Equal(t, ErrNotInitialized, s.PostEvent(&Event{Kind: EventMeshDataset}))
	require.Equal(t, ErrNotInitialized, s.SetConnectivityMode(ModeBLEDisabled))
	_, err := s.StartEventLoopTask()
	require.Equal(t, ErrNotInitialized, err)

	require.NoError(t, s.InitStack())
	require.Equal(t, ErrAlreadyInitialized, s.InitStack())
	require.Equal(t, "node-1", s.DeviceID())
	require.True(t, s.Initialized())
	require.False(t, s.Running())

	task, err := s.StartEventLoopTask()
	require.NoError(t, err)
	require.Equal(t, "appnet", task.Name())
	require.True(t, s.Running())
	_, err = s.StartEventLoopTask()
	require.Equal(t, ErrAlreadyStarted, err)
	require.Equal(t, ErrTableSealed, s.Subscribe(EventMeshDataset, func(context.Context, *Event) {}))
}

func TestStackDispatchesEvents(t *testing.T) {
	k := kernel.New(kernel.DefaultConfig())
	s := newTestStack(k)
	require.NoError(t, s.InitStack())

	received := make(chan *Event, 4)
	require.NoError(t, s.Subscribe(EventMeshDataset, func(ctx context.Context, ev *Event) {
		received <- ev
	}))
	require.NoError(t, s.Subscribe(EventConnectivityChange, func(ctx context.Context, ev *Event) {
		received <- ev
	}))
	// posted before the task runs
	require.NoError(t, s.PostEvent(&Event{Kind: EventMeshDataset, Payload: MeshDataset{Channel: 15}}))

	_, err := s.StartEventLoopTask()
	require.NoError(t, err)
	stop := startKernel(t, k)
	defer stop()

	select {
	case ev := <-received:
		require.Equal(t, EventMeshDataset, ev.Kind)
		require.Equal(t, 15, ev.Payload.(MeshDataset).Channel)
	case <-time.After(time.Second):
		t.Fatal("event not dispatched")
	}

	require.Equal(t, ErrInvalidMode, s.SetConnectivityMode(ConnectivityMode(9)))
	require.NoError(t, s.SetConnectivityMode(ModeBLEDisabled))
	select {
	case ev := <-received:
		require.Equal(t, EventConnectivityChange, ev.Kind)
		require.Equal(t, ModeBLEDisabled, ev.Payload.(Connectivity).Mode)
	case <-time.After(time.Second):
		t.Fatal("connectivity change not dispatched")
	}
	require.Equal(t, ModeBLEDisabled, s.Connectivity().Mode)

	// unchanged mode posts nothing
	require.NoError(t, s.SetConnectivityMode(ModeBLEDisabled))
	select {
	case ev := <-received:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStackTracksMeshRole(t *testing.T) {
	k := kernel.New(kernel.DefaultConfig())
	s := newTestStack(k)
	require.NoError(t, s.InitStack())
	require.Equal(t, MeshRoleDisabled, s.Connectivity().MeshRole)
	_, err := s.StartEventLoopTask()
	require.NoError(t, err)
	stop := startKernel(t, k)
	defer stop()

	require.NoError(t, s.PostEvent(&Event{Kind: EventMeshStateChange, Payload: "leader"}))
	deadline := time.Now().Add(time.Second)
	for s.Connectivity().MeshRole != "leader" {
		if time.Now().After(deadline) {
			t.Fatal("mesh role not updated")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStackTaskTableFull(t *testing.T) {
	k := kernel.New(kernel.Config{MaxTasks: 1})
	_, err := k.Go("other", 1, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	s := newTestStack(k)
	require.NoError(t, s.InitStack())
	_, err = s.StartEventLoopTask()
	require.True(t, errors.Is(err, kernel.ErrNoResources))
	require.False(t, s.Running())
}

func TestStatusEncoding(t *testing.T) {
	data, err := EncodeStatus(StatusReport{DeviceID: "node-1", Online: true, Mode: "ble-enabled", MeshRole: "leader"})
	require.NoError(t, err)
	r, err := DecodeStatus(data)
	require.NoError(t, err)
	require.Equal(t, StatusReport{DeviceID: "node-1", Online: true, Mode: "ble-enabled", MeshRole: "leader"}, r)

	data, err = EncodeStatus(StatusReport{DeviceID: "node-1"})
	require.NoError(t, err)
	r, err = DecodeStatus(data)
	require.NoError(t, err)
	require.False(t, r.Online)
	require.Empty(t, r.MeshRole)
}

func TestDeviceID(t *testing.T) {
	id, err := DeviceID("configured")
	require.NoError(t, err)
	require.Equal(t, "configured", id)
}

func TestEventKindString(t *testing.T) {
	require.Equal(t, "mesh-dataset", EventMeshDataset.String())
	require.Equal(t, "event-42", EventKind(42).String())
	require.Equal(t, "ble-disabled", ModeBLEDisabled.String())
}
