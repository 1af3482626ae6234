package appnet

import (
	"context"
	"fmt"

	fx "github.com/robotalks/bringup.go/pkg/framework"
)

// EventKind identifies a device layer event.
type EventKind int

// Event kinds.
const (
	// EventConnectivityChange is posted when the connectivity mode changes.
	// Payload: Connectivity.
	EventConnectivityChange EventKind = iota + 1
	// EventServiceConnectivityChange is posted when the service link
	// connects or disconnects. Payload: bool.
	EventServiceConnectivityChange
	// EventMeshStateChange is posted by the mesh stack. Payload: string role.
	EventMeshStateChange
	// EventMeshDataset provisions new mesh network parameters.
	// Payload: MeshDataset.
	EventMeshDataset
)

func (k EventKind) String() string {
	switch k {
	case EventConnectivityChange:
		return "connectivity-change"
	case EventServiceConnectivityChange:
		return "service-connectivity-change"
	case EventMeshStateChange:
		return "mesh-state-change"
	case EventMeshDataset:
		return "mesh-dataset"
	}
	return fmt.Sprintf("event-%d", int(k))
}

// MeshDataset carries mesh network parameters.
type MeshDataset struct {
	NetworkName string `json:"network_name,omitempty"`
	Channel     int    `json:"channel"`
	PANID       uint16 `json:"pan_id"`
}

// Event is a device layer event dispatched on the event loop task.
type Event struct {
	Kind    EventKind
	Payload interface{}
}

// NewMessage implements framework.Message.
func (e *Event) NewMessage() fx.Message { return &Event{} }

// Handler handles events on the event loop task.
type Handler func(ctx context.Context, ev *Event)

// Subscription pairs an event kind with its handler.
type Subscription struct {
	Kind    EventKind
	Handler Handler
}

// dispatcher is the event dispatch table. It is populated before the event
// loop task starts and only read afterwards.
type dispatcher struct {
	handlers map[EventKind][]Handler
}

func (d *dispatcher) add(kind EventKind, h Handler) {
	if d.handlers == nil {
		d.handlers = make(map[EventKind][]Handler)
	}
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Control implements framework.Controller.
func (d *dispatcher) Control(cc fx.ControlContext) error {
	ctx := cc.Context()
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		ev, ok := mctx.CurrentMessage().(*Event)
		if !ok {
			return
		}
		mctx.MessageTaken()
		for _, h := range d.handlers[ev.Kind] {
			h(ctx, ev)
		}
	}))
	return nil
}
