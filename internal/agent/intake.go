package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/jkaberg/hass-byd-vehicle/internal/pkg/metrics"
	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	"github.com/jkaberg/hass-byd-vehicle/pkg/mqtt/topic"
)

const (
	commandTimeout      = 60 * time.Second
	connectionProbeTick = 5 * time.Second
)

// CommandMessage is the payload accepted on {root}/command/{vin}.
type CommandMessage struct {
	Command   string         `json:"command"`
	RequestID string         `json:"request_id,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// runCommandIntake owns the MQTT connection: it connects, subscribes to the
// command topics and disconnects when ctx is done.
func (a *Agent) runCommandIntake(ctx context.Context) error {
	if err := a.mqtt.Start(ctx); err != nil {
		return err
	}

	defer func() {
		a.logger.Info("Disconnecting MQTT client...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.mqtt.Disconnect(shutdownCtx)
		metrics.MQTTConnected.Set(0)
	}()

	a.logger.Info("Waiting for MQTT connection...")
	if err := a.mqtt.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	a.logger.Info("MQTT Connected")

	filter := topic.Shared(a.cfg.MqttOptions.SharedGroup, a.topics.CommandWildcard())
	if err := a.mqtt.Subscribe(ctx, filter, a.cfg.MqttOptions.QoS, a.handleCommand); err != nil {
		return fmt.Errorf("failed to subscribe to topic: %s, err: %w", filter, err)
	}

	ticker := a.clock.NewTicker(connectionProbeTick)
	defer ticker.Stop()
	for {
		connected := 0.0
		if a.mqtt.IsConnected() {
			connected = 1
		}
		metrics.MQTTConnected.Set(connected)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}

func (a *Agent) handleCommand(ctx context.Context, t string, payload []byte) {
	vin, ok := a.topics.VINFromCommand(t)
	if !ok {
		a.logger.Debug("Ignoring message on unexpected topic", "topic", t)
		return
	}
	logger := a.logger.WithValues("vin", log.VIN(vin))

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warn("Discarding malformed command", "error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := provider.Command{
		Name:      provider.CommandName(msg.Command),
		RequestID: msg.RequestID,
		Params:    msg.Params,
	}

	c, ok := a.coordinator(vin)
	if !ok {
		a.rejectCommand(ctx, vin, cmd, fmt.Errorf("unknown vehicle %s", log.VIN(vin)))
		return
	}

	res, err := c.Execute(ctx, cmd)
	if err == nil {
		return
	}
	logger.Warn("Remote command over MQTT failed", "command", cmd.Name, "error", err.Error())
	if res == nil {
		// Rejected before reaching the provider, so no result was published.
		a.rejectCommand(ctx, vin, cmd, err)
	}
}

func (a *Agent) rejectCommand(ctx context.Context, vin string, cmd provider.Command, err error) {
	res := provider.FailedResult(cmd, err, a.clock.Now())
	switch {
	case errors.Is(err, poller.ErrCommandUnsupported):
		res.ErrorType = provider.KindUnsupported.String()
	case errors.Is(err, poller.ErrUnknownCommand):
		res.ErrorType = "unknown_command"
	}
	payload, merr := json.Marshal(res)
	if merr != nil {
		return
	}
	if perr := a.mqtt.Publish(ctx, a.topics.CommandResult(vin), a.cfg.MqttOptions.QoS, false, payload); perr != nil {
		a.logger.Warn("Failed to publish command result", "vin", log.VIN(vin), "error", perr.Error())
	}
}
