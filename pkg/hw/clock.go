package hw

import (
	"errors"
	"sync"
	"time"
)

// ErrNotInitialized is returned when a driver is used before Init.
var ErrNotInitialized = errors.New("driver not initialized")

// SimClock simulates the low frequency clock driver.
type SimClock struct {
	// StartupDelay is the time between Request and the clock running.
	StartupDelay time.Duration
	// InitErr makes Init fail.
	InitErr error
	// Stuck keeps the clock from ever running.
	Stuck bool

	lock        sync.Mutex
	initialized bool
	requestedAt time.Time
}

// Init implements clock driver init.
func (c *SimClock) Init() error {
	if c.InitErr != nil {
		return c.InitErr
	}
	c.lock.Lock()
	c.initialized = true
	c.lock.Unlock()
	return nil
}

// Request starts the clock.
func (c *SimClock) Request() {
	c.lock.Lock()
	if c.initialized && c.requestedAt.IsZero() {
		c.requestedAt = time.Now()
	}
	c.lock.Unlock()
}

// IsReady reports whether the clock is running.
func (c *SimClock) IsReady() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.Stuck || c.requestedAt.IsZero() {
		return false
	}
	return time.Since(c.requestedAt) >= c.StartupDelay
}
