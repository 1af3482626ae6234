package kernel

import (
	"context"
	"sync/atomic"

	fx "github.com/robotalks/bringup.go/pkg/framework"
)

// Signal is a counting notification for a single consumer task.
// Give may be called from any goroutine without extra locking.
type Signal struct {
	count  int64
	wakeCh chan struct{}
}

// NewSignal creates a Signal.
func NewSignal() *Signal {
	return &Signal{wakeCh: make(chan struct{}, 1)}
}

// Give increments the pending count and wakes the consumer.
func (s *Signal) Give() {
	atomic.AddInt64(&s.count, 1)
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Pending returns the number of gives not yet taken.
func (s *Signal) Pending() int64 {
	return atomic.LoadInt64(&s.count)
}

// Take blocks until at least one give is pending, clears the count and
// returns the number of gives consumed.
func (s *Signal) Take(ctx context.Context) (int64, error) {
	for {
		if n := atomic.SwapInt64(&s.count, 0); n > 0 {
			return n, nil
		}
		var err error
		fx.Block(ctx, func() {
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-s.wakeCh:
			}
		})
		if err != nil {
			return 0, err
		}
	}
}
