package deferlog

import (
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/net/websocket"
)

// WebSocketTransport sends each batch as a text frame. The connection is
// re-dialed after a failed write.
type WebSocketTransport struct {
	URL    string
	Origin string

	lock sync.Mutex
	conn *websocket.Conn
}

func (t *WebSocketTransport) origin() (string, error) {
	if t.Origin != "" {
		return t.Origin, nil
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", err
	}
	return "http://" + u.Host, nil
}

func (t *WebSocketTransport) dial() error {
	origin, err := t.origin()
	if err != nil {
		return err
	}
	conn, err := websocket.Dial(t.URL, "", origin)
	if err != nil {
		return fmt.Errorf("websocket log transport: %w", err)
	}
	t.conn = conn
	return nil
}

// Init implements Transport.
func (t *WebSocketTransport) Init() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.dial()
}

// Write implements Transport.
func (t *WebSocketTransport) Write(records []Record) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.conn == nil {
		if err := t.dial(); err != nil {
			return err
		}
	}
	if err := websocket.Message.Send(t.conn, formatBatch(records)); err != nil {
		t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}
