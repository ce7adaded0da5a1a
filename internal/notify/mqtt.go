// ABOUTME: MQTT notifier publishing visit events as JSON
// ABOUTME: Wraps a paho client behind a narrow publisher interface

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher is the subset of mqtt.Client used for notifications.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes visit events to a topic.
type MQTT struct {
	client  MQTTPublisher
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTT returns a notifier publishing to topic with the given QoS.
func NewMQTT(client MQTTPublisher, topic string, qos byte) *MQTT {
	return &MQTT{client: client, topic: topic, qos: qos, timeout: 5 * time.Second}
}

func (m *MQTT) Notify(ctx context.Context, ev VisitEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode visit event: %w", err)
	}

	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	token := m.client.Publish(m.topic, m.qos, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s: timed out after %s", m.topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	return nil
}

// ConnectMQTT dials broker and waits for the connection to complete.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, token.Error())
	}
	return client, nil
}
