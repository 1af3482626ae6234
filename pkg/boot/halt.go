package boot

import (
	"os"

	"github.com/golang/glog"
)

// Halter stops the node after a fatal bring-up failure.
type Halter interface {
	Halt(err *FatalError)
}

// HaltFunc is the func form of Halter.
type HaltFunc func(err *FatalError)

// Halt implements Halter.
func (f HaltFunc) Halt(err *FatalError) {
	f(err)
}

// Halt modes.
const (
	HaltReset = "reset"
	HaltHang  = "hang"
)

// ResetHalter flushes logs and exits the process, the host equivalent of a
// system reset.
type ResetHalter struct {
	// Flush writes out buffered device log records, optional.
	Flush func()
	// Exit defaults to os.Exit.
	Exit func(code int)
}

// Halt implements Halter.
func (h ResetHalter) Halt(err *FatalError) {
	glog.Errorf("halt: %v, reset", err)
	flushLogs(h.Flush)
	exit := h.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(1)
}

// HangHalter blocks forever, keeping the process for inspection.
type HangHalter struct {
	Flush func()
}

// Halt implements Halter.
func (h HangHalter) Halt(err *FatalError) {
	glog.Errorf("halt: %v, hanging", err)
	flushLogs(h.Flush)
	select {}
}

func flushLogs(fn func()) {
	if fn != nil {
		fn()
	}
	glog.Flush()
}

// HalterFor returns the Halter of a halt mode. flush is called before the
// node stops and may be nil.
func HalterFor(mode string, flush func()) Halter {
	if mode == HaltHang {
		return HangHalter{Flush: flush}
	}
	return ResetHalter{Flush: flush}
}
