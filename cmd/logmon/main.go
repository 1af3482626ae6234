package main

import (
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/robotalks/bringup.go/pkg/comm/mqtt"
	"github.com/robotalks/bringup.go/pkg/deferlog"
	"github.com/robotalks/bringup.go/pkg/netstack/appnet"
)

var (
	mqttURL = "mqtt://localhost:1883/bringup/"
)

func init() {
	if val := os.Getenv("BRINGUP_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	token := q.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Fatalln("connect timeout")
	}
	if err := token.Error(); err != nil {
		log.Fatalln(err)
	}

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		switch {
		case topic == deferlog.MQTTTopic || strings.HasSuffix(topic, "/"+deferlog.MQTTTopic):
			for _, line := range strings.Split(strings.TrimRight(string(payload), "\n"), "\n") {
				log.Printf("%s: %s", topic, line)
			}
		case strings.HasSuffix(topic, "/"+appnet.StatusTopic):
			r, err := appnet.DecodeStatus(payload)
			if err != nil {
				log.Printf("%s: bad status: %v", topic, err)
				return
			}
			if !r.Online {
				log.Printf("%s: %s offline", topic, r.DeviceID)
				return
			}
			log.Printf("%s: %s online, mode %s, mesh %s", topic, r.DeviceID, r.Mode, r.MeshRole)
		default:
			log.Printf("%s: %d bytes", topic, len(payload))
		}
	}))
	<-(chan struct{})(nil)
}
