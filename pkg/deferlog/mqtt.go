package deferlog

import (
	"fmt"
	"time"

	"github.com/robotalks/bringup.go/pkg/comm/mqtt"
)

// MQTTTopic is the topic, relative to the broker URL prefix, receiving log batches.
const MQTTTopic = "log"

// MQTTTransport publishes each batch as a single message.
type MQTTTransport struct {
	BrokerURL string
	Timeout   time.Duration

	queue *mqtt.Queue
}

func (t *MQTTTransport) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return 5 * time.Second
}

// Init implements Transport.
func (t *MQTTTransport) Init() error {
	q, err := mqtt.NewQueueFromURL(t.BrokerURL)
	if err != nil {
		return err
	}
	token := q.Connect()
	if !token.WaitTimeout(t.timeout()) {
		return fmt.Errorf("mqtt log transport: connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt log transport: %w", err)
	}
	t.queue = q
	return nil
}

// Write implements Transport.
func (t *MQTTTransport) Write(records []Record) error {
	if t.queue == nil {
		return fmt.Errorf("mqtt log transport not initialized")
	}
	token := t.queue.Pub(MQTTTopic, []byte(formatBatch(records)))
	if !token.WaitTimeout(t.timeout()) {
		return fmt.Errorf("mqtt log transport: publish timeout")
	}
	return token.Error()
}
