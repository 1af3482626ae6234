package deferlog

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a record.
type Level int

// Levels, from most to least severe.
const (
	LevelError Level = iota + 1
	LevelWarning
	LevelInfo
	LevelDebug
)

var levelNames = map[Level]string{
	LevelError:   "error",
	LevelWarning: "warning",
	LevelInfo:    "info",
	LevelDebug:   "debug",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level-%d", int(l))
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	lvl, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Record is a buffered log line.
type Record struct {
	Seq    uint64
	Time   time.Time
	Level  Level
	Source string
	Text   string
}

// String formats the record as a single line.
func (r Record) String() string {
	return fmt.Sprintf("%s %06d %c [%s] %s",
		r.Time.Format("15:04:05.000"), r.Seq,
		strings.ToUpper(r.Level.String())[0], r.Source, r.Text)
}
