// Package mqttbridge republishes the in-process event bus onto MQTT, a
// feature SPEC_FULL.md §4 adds on top of spec.md's event bus so events are
// observable from outside the process (topic xiaolink/events/<session-id>,
// publish-only — no subscription, no command-and-control surface).
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/charmbracelet/log"

	"github.com/xiaolink/xiaolink/internal/eventbus"
)

// published is the JSON shape written to each MQTT message.
type published struct {
	Name      string `json:"name"`
	SenderTS  int64  `json:"sender_ts_us"`
	Source    string `json:"source"`
	DataBytes int    `json:"data_bytes"`
}

// Bridge subscribes to a Bus and forwards every message to an MQTT broker.
type Bridge struct {
	client    mqtt.Client
	sessionID string
	log       *log.Logger
}

// New connects to brokerURL and returns a Bridge that will publish under
// topic xiaolink/events/<sessionID> once Run is called.
func New(brokerURL, sessionID string, logger *log.Logger) (*Bridge, error) {
	if logger == nil {
		logger = log.Default()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("xiaolink-" + sessionID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttbridge: connect to %s: %w", brokerURL, token.Error())
	}

	return &Bridge{client: client, sessionID: sessionID, log: logger}, nil
}

// Run forwards every message from sub to MQTT until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, sub *eventbus.Subscriber) {
	topic := "xiaolink/events/" + b.sessionID
	for {
		select {
		case <-ctx.Done():
			b.client.Disconnect(250)
			return
		case lag := <-sub.LaggedSignal():
			b.log.Warn("mqttbridge: subscriber lagged", "dropped", lag.Count)
		case msg, ok := <-sub.Recv():
			if !ok {
				return
			}
			payload, err := json.Marshal(published{
				Name:      msg.Event.Name,
				SenderTS:  msg.Event.SenderTS,
				Source:    msg.Source,
				DataBytes: len(msg.Event.Data),
			})
			if err != nil {
				b.log.Warn("mqttbridge: marshal event", "err", err)
				continue
			}
			b.client.Publish(topic, 0, false, payload) // fire-and-forget, QoS 0
		}
	}
}
