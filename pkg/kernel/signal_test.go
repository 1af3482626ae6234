package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalTakeAll(t *testing.T) {
	sig := NewSignal()
	for i := 0; i < 5; i++ {
		sig.Give()
	}
	require.Equal(t, int64(5), sig.Pending())
	n, err := sig.Take(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
	require.Equal(t, int64(0), sig.Pending())
}

func TestSignalConcurrentGive(t *testing.T) {
	sig := NewSignal()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sig.Give()
			}
		}()
	}

	var total int64
	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for total < 800 {
		n, err := sig.Take(ctx)
		require.NoError(t, err)
		total += n
	}
	<-doneCh
	require.Equal(t, int64(800), total)
}

func TestSignalTakeCanceled(t *testing.T) {
	sig := NewSignal()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := sig.Take(ctx)
		errCh <- err
	}()
	cancel()
	select {
	case err := <-errCh:
		require.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("Take not canceled")
	}
}

func TestSignalWakesWaiter(t *testing.T) {
	sig := NewSignal()
	resCh := make(chan int64, 1)
	go func() {
		n, _ := sig.Take(context.Background())
		resCh <- n
	}()
	time.Sleep(10 * time.Millisecond)
	sig.Give()
	select {
	case n := <-resCh:
		require.Equal(t, int64(1), n)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
}
