package appnet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/bringup.go/pkg/comm/mqtt"
)

// Service link topics, relative to the broker URL prefix and the device id.
const (
	StatusTopic  = "status"
	DatasetTopic = "event/dataset"
)

const (
	linkConnectTimeout = 5 * time.Second
	linkRetryInterval  = 2 * time.Second
)

// StatusReport is the retained status published by the service link.
type StatusReport struct {
	DeviceID string
	Online   bool
	Mode     string
	MeshRole string
}

// EncodeStatus encodes the report as protobuf Struct.
func EncodeStatus(r StatusReport) ([]byte, error) {
	st := &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"device": {Kind: &structpb.Value_StringValue{StringValue: r.DeviceID}},
			"online": {Kind: &structpb.Value_BoolValue{BoolValue: r.Online}},
		},
	}
	if r.Mode != "" {
		st.Fields["mode"] = &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: r.Mode}}
	}
	if r.MeshRole != "" {
		st.Fields["mesh_role"] = &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: r.MeshRole}}
	}
	return proto.Marshal(st)
}

// DecodeStatus decodes a report encoded by EncodeStatus.
func DecodeStatus(data []byte) (r StatusReport, err error) {
	var st structpb.Struct
	if err = proto.Unmarshal(data, &st); err != nil {
		return
	}
	r.DeviceID = st.Fields["device"].GetStringValue()
	r.Online = st.Fields["online"].GetBoolValue()
	r.Mode = st.Fields["mode"].GetStringValue()
	r.MeshRole = st.Fields["mesh_role"].GetStringValue()
	return
}

// serviceLink connects the node to the service over MQTT. It reports the
// connectivity state and receives mesh provisioning.
type serviceLink struct {
	deviceID string
	stack    *Stack
	queue    *mqtt.Queue
}

func newServiceLink(serviceURL, deviceID string, stack *Stack) (*serviceLink, error) {
	opts, prefix, err := mqtt.ClientOptionsFromURL(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("service url: %w", err)
	}
	if opts.ClientID == "" {
		opts.SetClientID(deviceID)
	}
	offline, err := EncodeStatus(StatusReport{DeviceID: deviceID})
	if err != nil {
		return nil, err
	}
	l := &serviceLink{deviceID: deviceID, stack: stack}
	opts.SetBinaryWill(prefix+l.topic(StatusTopic), offline, 1, true)
	l.queue = mqtt.NewQueue(opts, prefix)
	l.queue.OnConnect = l.onConnect
	l.queue.OnDisconnect = l.onDisconnect
	return l, nil
}

func (l *serviceLink) topic(name string) string {
	return l.deviceID + "/" + name
}

// Name implements framework.Named.
func (l *serviceLink) Name() string {
	return "service-link"
}

// Run implements framework.Runnable.
func (l *serviceLink) Run(ctx context.Context) error {
	for {
		err := l.connect()
		if err == nil {
			break
		}
		glog.Warningf("service link: %v", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(linkRetryInterval):
		}
	}
	defer l.queue.Close()
	l.queue.Sub(l.topic(DatasetTopic), l.onDataset)
	<-ctx.Done()
	return ctx.Err()
}

func (l *serviceLink) connect() error {
	token := l.queue.Connect()
	if !token.WaitTimeout(linkConnectTimeout) {
		return fmt.Errorf("connect timeout")
	}
	return token.Error()
}

func (l *serviceLink) onConnect(*mqtt.Queue) {
	l.stack.PostEvent(&Event{Kind: EventServiceConnectivityChange, Payload: true})
}

func (l *serviceLink) onDisconnect(*mqtt.Queue) {
	l.stack.PostEvent(&Event{Kind: EventServiceConnectivityChange, Payload: false})
}

func (l *serviceLink) onDataset(topic string, payload []byte) {
	var ds MeshDataset
	if err := json.Unmarshal(payload, &ds); err != nil {
		glog.Warningf("service link: bad dataset on %s: %v", topic, err)
		return
	}
	l.stack.PostEvent(&Event{Kind: EventMeshDataset, Payload: ds})
}

func (l *serviceLink) publishStatus(conn Connectivity) {
	if !l.queue.Client.IsConnected() {
		return
	}
	data, err := EncodeStatus(StatusReport{
		DeviceID: l.deviceID,
		Online:   true,
		Mode:     conn.Mode.String(),
		MeshRole: conn.MeshRole,
	})
	if err != nil {
		glog.Errorf("service link: encode status: %v", err)
		return
	}
	l.queue.PubWith(l.topic(StatusTopic), data, 1, true)
}
