// Package deferlog provides the deferred log subsystem.
//
// Emitting a record only appends it to a buffer and gives the log signal.
// The log task flushes the buffer to the transport and sleeps on the signal
// again; the kernel idle hook gives the same signal so buffered records are
// flushed at the latest when the node becomes idle.
package deferlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/bringup.go/pkg/kernel"
)

// Config defines the deferred log subsystem.
type Config struct {
	// Transport is the transport URL, see NewTransport.
	Transport string `yaml:"transport"`
	// Level discards records less severe.
	Level Level `yaml:"level"`
	// Capacity is the maximum number of buffered records.
	Capacity int `yaml:"capacity"`
	// Retries is the number of write attempts on the transport.
	Retries int `yaml:"retries"`
	// RetryDelay is the delay between two attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// TaskPriority is the priority of the log task.
	TaskPriority int `yaml:"task_priority"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Transport:    "stdout",
		Level:        LevelDebug,
		Capacity:     256,
		Retries:      3,
		RetryDelay:   time.Millisecond,
		TaskPriority: 3,
	}
}

// Stats reports counters of the logger.
type Stats struct {
	Emitted       uint64
	Flushed       uint64
	Dropped       uint64
	Flushes       uint64
	WriteFailures uint64
}

// Logger buffers records and flushes them from the log task.
type Logger struct {
	// 64-bit counters first for atomic alignment on 32-bit targets.
	emitted       uint64
	flushed       uint64
	droppedTotal  uint64
	flushes       uint64
	writeFailures uint64

	Transport Transport
	Level     Level
	Capacity  int

	lock    sync.Mutex
	records []Record
	seq     uint64
	dropped uint64

	// flushLock serializes flushes so a batch is never written twice.
	flushLock sync.Mutex
	signal    *kernel.Signal
	now       func() time.Time
}

// New creates a Logger writing to the transport.
func New(t Transport, conf Config) *Logger {
	capacity := conf.Capacity
	if capacity <= 0 {
		capacity = DefaultConfig().Capacity
	}
	level := conf.Level
	if level == 0 {
		level = LevelDebug
	}
	return &Logger{
		Transport: t,
		Level:     level,
		Capacity:  capacity,
		signal:    kernel.NewSignal(),
		now:       time.Now,
	}
}

// Init initializes the transport.
func (l *Logger) Init() error {
	if err := l.Transport.Init(); err != nil {
		return fmt.Errorf("log transport init: %w", err)
	}
	return nil
}

// Signal returns the notification signal of the log task.
func (l *Logger) Signal() *kernel.Signal {
	return l.signal
}

// IdleHook is registered as kernel idle hook.
func (l *Logger) IdleHook() {
	l.signal.Give()
}

// Emit appends a record and wakes the log task. It never blocks on the
// transport.
func (l *Logger) Emit(level Level, source, text string) {
	if level > l.Level {
		return
	}
	l.lock.Lock()
	if len(l.records) >= l.Capacity {
		l.dropped++
		l.lock.Unlock()
		atomic.AddUint64(&l.droppedTotal, 1)
		l.signal.Give()
		return
	}
	l.seq++
	l.records = append(l.records, Record{
		Seq:    l.seq,
		Time:   l.now(),
		Level:  level,
		Source: source,
		Text:   text,
	})
	l.lock.Unlock()
	atomic.AddUint64(&l.emitted, 1)
	l.signal.Give()
}

// Errorf emits an error record.
func (l *Logger) Errorf(source, format string, args ...interface{}) {
	l.Emit(LevelError, source, fmt.Sprintf(format, args...))
}

// Warningf emits a warning record.
func (l *Logger) Warningf(source, format string, args ...interface{}) {
	l.Emit(LevelWarning, source, fmt.Sprintf(format, args...))
}

// Infof emits an info record.
func (l *Logger) Infof(source, format string, args ...interface{}) {
	l.Emit(LevelInfo, source, fmt.Sprintf(format, args...))
}

// Debugf emits a debug record.
func (l *Logger) Debugf(source, format string, args ...interface{}) {
	l.Emit(LevelDebug, source, fmt.Sprintf(format, args...))
}

// Buffered returns the number of records waiting for flush.
func (l *Logger) Buffered() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.records)
}

// Flush writes all buffered records to the transport in one batch and
// returns the number of records taken from the buffer. Transport errors
// are counted and the batch is discarded.
func (l *Logger) Flush() int {
	l.flushLock.Lock()
	defer l.flushLock.Unlock()

	l.lock.Lock()
	batch := l.records
	l.records = nil
	if l.dropped > 0 {
		l.seq++
		batch = append(batch, Record{
			Seq:    l.seq,
			Time:   l.now(),
			Level:  LevelWarning,
			Source: "log",
			Text:   fmt.Sprintf("%d records dropped", l.dropped),
		})
		l.dropped = 0
	}
	l.lock.Unlock()

	if len(batch) == 0 {
		return 0
	}
	atomic.AddUint64(&l.flushes, 1)
	if err := l.Transport.Write(batch); err != nil {
		atomic.AddUint64(&l.writeFailures, 1)
		glog.V(2).Infof("log transport write %d records: %v", len(batch), err)
		return len(batch)
	}
	atomic.AddUint64(&l.flushed, uint64(len(batch)))
	return len(batch)
}

// Run is the body of the log task: flush, then wait for the signal.
func (l *Logger) Run(ctx context.Context) error {
	glog.V(4).Info("log task running")
	for {
		l.Flush()
		if _, err := l.signal.Take(ctx); err != nil {
			l.Flush()
			return err
		}
	}
}

// Stats returns the counters.
func (l *Logger) Stats() Stats {
	return Stats{
		Emitted:       atomic.LoadUint64(&l.emitted),
		Flushed:       atomic.LoadUint64(&l.flushed),
		Dropped:       atomic.LoadUint64(&l.droppedTotal),
		Flushes:       atomic.LoadUint64(&l.flushes),
		WriteFailures: atomic.LoadUint64(&l.writeFailures),
	}
}
