package notifier

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/pkg/mqtt/topic"
)

// Publisher is the part of pkg/mqtt.Client used by the MQTT sink.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
}

// MQTT publishes stream state as retained messages and command results as
// plain messages.
type MQTT struct {
	client Publisher
	topics *topic.TopicBuilder
	qos    int
}

var _ Sink = (*MQTT)(nil)

// NewMQTT publishes through client under the topics of b at qos.
func NewMQTT(client Publisher, b *topic.TopicBuilder, qos int) *MQTT {
	return &MQTT{client: client, topics: b, qos: qos}
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Notify(ctx context.Context, u poller.Update) error {
	switch u.Outcome {
	case poller.OutcomeUpdated:
		if err := m.publish(ctx, m.topics.Stream(string(u.Stream), u.VIN), true, NewStreamMessage(u)); err != nil {
			return err
		}
		return m.publish(ctx, m.topics.Availability(u.VIN), true, NewAvailabilityMessage(u))
	case poller.OutcomeFetchFailed:
		return m.publish(ctx, m.topics.Availability(u.VIN), true, NewAvailabilityMessage(u))
	case poller.OutcomeCommand:
		if u.Command == nil {
			return nil
		}
		return m.publish(ctx, m.topics.CommandResult(u.VIN), false, u.Command)
	}
	return nil
}

func (m *MQTT) publish(ctx context.Context, topic string, retain bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	if err := m.client.Publish(ctx, topic, m.qos, retain, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
