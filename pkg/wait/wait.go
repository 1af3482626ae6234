// Package wait polls hardware readiness predicates during bring-up.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// ErrTimeout indicates the predicate did not become true in time.
var ErrTimeout = errors.New("not ready")

// DefaultInterval is used when Policy.Interval is not set.
const DefaultInterval = time.Millisecond

// Policy bounds a readiness wait.
type Policy struct {
	// Timeout is the maximum wait, 0 waits forever.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the poll period.
	Interval time.Duration `yaml:"interval"`
}

// Until polls ready until it reports true, the policy timeout expires or
// ctx is done.
func Until(ctx context.Context, what string, ready func() bool, p Policy) error {
	if ready() {
		return nil
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	var expired <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		expired = timer.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	for polls := 1; ; polls++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-expired:
			return fmt.Errorf("%s %w after %v", what, ErrTimeout, p.Timeout)
		case <-ticker.C:
			if ready() {
				glog.V(4).Infof("%s ready after %d polls (%v)", what, polls, time.Since(start))
				return nil
			}
		}
	}
}
