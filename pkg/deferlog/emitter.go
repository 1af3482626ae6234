package deferlog

import (
	"fmt"

	"github.com/golang/glog"
)

// Emitter accepts log records. Logger is the deferred implementation,
// Glog writes synchronously through glog.
type Emitter interface {
	Emit(level Level, source, text string)
}

// Glog is the Emitter used when deferred logging is disabled.
type Glog struct{}

// Emit implements Emitter.
func (Glog) Emit(level Level, source, text string) {
	switch level {
	case LevelError:
		glog.Errorf("[%s] %s", source, text)
	case LevelWarning:
		glog.Warningf("[%s] %s", source, text)
	case LevelInfo:
		glog.Infof("[%s] %s", source, text)
	default:
		glog.V(1).Infof("[%s] %s", source, text)
	}
}

// Infof emits an info record to e, falling back to glog when e is nil.
func Infof(e Emitter, source, format string, args ...interface{}) {
	emit(e, LevelInfo, source, format, args...)
}

// Warningf emits a warning record to e, falling back to glog when e is nil.
func Warningf(e Emitter, source, format string, args ...interface{}) {
	emit(e, LevelWarning, source, format, args...)
}

// Debugf emits a debug record to e, falling back to glog when e is nil.
func Debugf(e Emitter, source, format string, args ...interface{}) {
	emit(e, LevelDebug, source, format, args...)
}

func emit(e Emitter, level Level, source, format string, args ...interface{}) {
	if e == nil {
		e = Glog{}
	}
	e.Emit(level, source, fmt.Sprintf(format, args...))
}
