package mesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/bringup.go/pkg/hw"
	"github.com/robotalks/bringup.go/pkg/kernel"
	"github.com/robotalks/bringup.go/pkg/netstack/appnet"
)

func newStacks(t *testing.T) (*kernel.Kernel, *appnet.Stack, *Stack) {
	k := kernel.New(kernel.DefaultConfig())
	conf := appnet.DefaultConfig()
	conf.DeviceID = "node-1"
	net := appnet.New(conf, k, nil)
	return k, net, New(DefaultConfig(), net, k, nil)
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

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestArgsValidate(t *testing.T) {
	cases := []struct {
		name string
		args Args
		ok   bool
	}{
		{"default", DefaultConfig().Args, true},
		{"channel low", Args{Channel: 10, PANID: 1}, false},
		{"channel high", Args{Channel: 27, PANID: 1}, false},
		{"channel 26", Args{Channel: 26, PANID: 1}, true},
		{"zero pan", Args{Channel: 11}, false},
		{"long name", Args{NetworkName: "0123456789abcdefg", Channel: 11, PANID: 1}, false},
		{"16 byte name", Args{NetworkName: "0123456789abcdef", Channel: 11, PANID: 1}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.args.Validate()
			if c.ok {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, ErrInvalidArgs))
			}
		})
	}
}

func TestInitRequiresAppNet(t *testing.T) {
	_, net, s := newStacks(t)
	require.Equal(t, ErrAppNetNotInitialized, s.InitStack(DefaultConfig().Args))
	require.NoError(t, net.InitStack())
	require.NoError(t, s.InitStack(DefaultConfig().Args))
	require.Equal(t, ErrAlreadyInitialized, s.InitStack(DefaultConfig().Args))
	require.Equal(t, RoleDetached, s.Role())
}

func TestInitAfterTableSealed(t *testing.T) {
	_, net, s := newStacks(t)
	require.NoError(t, net.InitStack())
	_, err := net.StartEventLoopTask()
	require.NoError(t, err)
	err = s.InitStack(DefaultConfig().Args)
	require.True(t, errors.Is(err, appnet.ErrTableSealed))
	require.False(t, s.Initialized())
}

func TestStartTaskRequiresEventLoop(t *testing.T) {
	_, net, s := newStacks(t)
	_, err := s.StartTask()
	require.Equal(t, ErrNotInitialized, err)

	require.NoError(t, net.InitStack())
	require.NoError(t, s.InitStack(DefaultConfig().Args))
	_, err = s.StartTask()
	require.Equal(t, ErrEventLoopNotRunning, err)

	_, err = net.StartEventLoopTask()
	require.NoError(t, err)
	task, err := s.StartTask()
	require.NoError(t, err)
	require.Equal(t, "mesh", task.Name())
	_, err = s.StartTask()
	require.Equal(t, ErrAlreadyStarted, err)
}

func TestSystemEventsBeforeInitDropped(t *testing.T) {
	_, net, s := newStacks(t)
	s.HandleSystemEvent(hw.EvtHFClkStarted)
	require.Equal(t, uint64(1), s.Stats().Dropped)

	require.NoError(t, net.InitStack())
	require.NoError(t, s.InitStack(DefaultConfig().Args))
	for i := 0; i < eventQueueSize+2; i++ {
		s.HandleSystemEvent(hw.EvtFlashOperationSuccess)
	}
	require.Equal(t, uint64(3), s.Stats().Dropped)
}

func TestMeshTaskAttachesAndProcessesEvents(t *testing.T) {
	k, net, s := newStacks(t)
	require.NoError(t, net.InitStack())
	require.NoError(t, s.InitStack(DefaultConfig().Args))
	_, err := net.StartEventLoopTask()
	require.NoError(t, err)
	_, err = s.StartTask()
	require.NoError(t, err)
	s.HandleSystemEvent(hw.EvtFlashOperationSuccess)

	stop := startKernel(t, k)
	defer stop()

	waitFor(t, "leader role", func() bool {
		return net.Connectivity().MeshRole == RoleLeader
	})
	require.Equal(t, RoleLeader, s.Role())
	waitFor(t, "system event", func() bool { return s.Stats().Events == 1 })
}

func TestDatasetReattaches(t *testing.T) {
	k, net, s := newStacks(t)
	require.NoError(t, net.InitStack())
	require.NoError(t, s.InitStack(DefaultConfig().Args))
	_, err := net.StartEventLoopTask()
	require.NoError(t, err)
	_, err = s.StartTask()
	require.NoError(t, err)
	stop := startKernel(t, k)
	defer stop()

	waitFor(t, "first attach", func() bool { return s.Stats().Attach == 1 })

	// rejected dataset keeps the current args
	require.NoError(t, net.PostEvent(&appnet.Event{
		Kind:    appnet.EventMeshDataset,
		Payload: appnet.MeshDataset{Channel: 30, PANID: 1},
	}))
	require.NoError(t, net.PostEvent(&appnet.Event{
		Kind:    appnet.EventMeshDataset,
		Payload: appnet.MeshDataset{NetworkName: "lab", Channel: 20, PANID: 0x1234},
	}))
	waitFor(t, "reattach", func() bool { return s.Stats().Attach == 2 })
	require.Equal(t, Args{NetworkName: "lab", Channel: 20, PANID: 0x1234}, s.Args())
}
