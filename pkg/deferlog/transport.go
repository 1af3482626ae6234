package deferlog

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Transport is the physical log output.
type Transport interface {
	// Init prepares the transport, called once by the log step.
	Init() error
	// Write sends a batch of records.
	Write(records []Record) error
}

// NewTransport creates a Transport from a URL:
//
//	stdout, stderr     console
//	file:///path       appends to a file
//	mqtt://host/prefix publishes batches to <prefix>log
//	ws://host/path     websocket text frames
//	uart:///dev/path   frames on a serial device
//
// The transport is wrapped with retries according to conf.
func NewTransport(rawURL string, conf Config) (Transport, error) {
	var t Transport
	switch rawURL {
	case "", "stdout":
		t = &WriterTransport{Writer: os.Stdout}
	case "stderr":
		t = &WriterTransport{Writer: os.Stderr}
	default:
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("log transport %q: %w", rawURL, err)
		}
		switch u.Scheme {
		case "file":
			t = &FileTransport{Path: u.Path}
		case "mqtt", "tcp", "ssl":
			t = &MQTTTransport{BrokerURL: rawURL}
		case "ws", "wss":
			t = &WebSocketTransport{URL: rawURL}
		case "uart":
			t = &UARTTransport{Path: u.Path}
		default:
			return nil, fmt.Errorf("log transport %q: unsupported scheme", rawURL)
		}
	}
	if conf.Retries > 1 {
		t = &RetryTransport{Transport: t, Attempts: conf.Retries, Delay: conf.RetryDelay}
	}
	return t, nil
}

// WriterTransport writes one line per record.
type WriterTransport struct {
	Writer io.Writer

	lock sync.Mutex
}

// Init implements Transport.
func (t *WriterTransport) Init() error {
	if t.Writer == nil {
		return fmt.Errorf("writer transport: no writer")
	}
	return nil
}

// Write implements Transport.
func (t *WriterTransport) Write(records []Record) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	w := bufio.NewWriter(t.Writer)
	for _, r := range records {
		if _, err := fmt.Fprintln(w, r.String()); err != nil {
			return err
		}
	}
	return w.Flush()
}

// FileTransport appends records to a file.
type FileTransport struct {
	Path string

	writer WriterTransport
}

// Init implements Transport.
func (t *FileTransport) Init() error {
	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	t.writer.Writer = f
	return nil
}

// Write implements Transport.
func (t *FileTransport) Write(records []Record) error {
	return t.writer.Write(records)
}

// RetryTransport retries failed writes.
type RetryTransport struct {
	Transport
	Attempts int
	Delay    time.Duration
}

// Write implements Transport.
func (t *RetryTransport) Write(records []Record) (err error) {
	attempts := t.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 && t.Delay > 0 {
			time.Sleep(t.Delay)
		}
		if err = t.Transport.Write(records); err == nil {
			return nil
		}
	}
	return err
}

func formatBatch(records []Record) string {
	lines := make([]string, len(records))
	for n, r := range records {
		lines[n] = r.String()
	}
	return strings.Join(lines, "\n")
}
