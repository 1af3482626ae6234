package boot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robotalks/bringup.go/pkg/deferlog"
)

const logSource = "boot"

// Entry is a line of the boot log.
type Entry struct {
	Time  time.Time
	Step  string
	Text  string
	Fatal bool
}

func (e Entry) String() string {
	if e.Fatal {
		return fmt.Sprintf("FATAL [%s] %s", e.Step, e.Text)
	}
	return fmt.Sprintf("[%s] %s", e.Step, e.Text)
}

// BootLog is the ordered, append-only record of bring-up.
type BootLog struct {
	// Mirror receives every entry as it is appended.
	Mirror deferlog.Emitter

	lock    sync.Mutex
	entries []Entry
}

// Append adds an entry.
func (l *BootLog) Append(step, text string, fatal bool) {
	e := Entry{Time: time.Now(), Step: step, Text: text, Fatal: fatal}
	l.lock.Lock()
	l.entries = append(l.entries, e)
	mirror := l.Mirror
	l.lock.Unlock()
	if mirror == nil {
		mirror = deferlog.Glog{}
	}
	level := deferlog.LevelInfo
	if fatal {
		level = deferlog.LevelError
	}
	mirror.Emit(level, logSource, e.String())
}

// Entries returns a copy of the entries.
func (l *BootLog) Entries() []Entry {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Steps returns the step names of non-fatal entries in order, without
// consecutive duplicates.
func (l *BootLog) Steps() []string {
	var names []string
	for _, e := range l.Entries() {
		if e.Fatal {
			continue
		}
		if n := len(names); n > 0 && names[n-1] == e.Step {
			continue
		}
		names = append(names, e.Step)
	}
	return names
}

func (l *BootLog) String() string {
	var sb strings.Builder
	for _, e := range l.Entries() {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
