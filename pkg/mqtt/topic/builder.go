package topic

import (
	"fmt"
	"strings"
)

// Topic segments shared between the poller and whatever consumes its
// updates. Changing them breaks existing subscribers.
const (
	// SuffixTelemetry carries the retained telemetry status of a vehicle.
	// Structure: {root}/telemetry/{vin}
	SuffixTelemetry = "telemetry"

	// SuffixGPS carries the retained GPS status of a vehicle.
	// Structure: {root}/gps/{vin}
	SuffixGPS = "gps"

	// SuffixAvailability carries "online"/"offline" and the last fetch error.
	// Structure: {root}/availability/{vin}
	SuffixAvailability = "availability"

	// SuffixCommand is the inbound command topic.
	// Structure: {root}/command/{vin}
	SuffixCommand = "command"

	// SuffixCommandResult carries the raw result of each relayed command.
	// Structure: {root}/command/result/{vin}
	SuffixCommandResult = "command/result"

	// SuffixBridge carries the poller process status (birth/will).
	// Structure: {root}/bridge/{clientID}
	SuffixBridge = "bridge"
)

// TopicBuilder encapsulates the logic for constructing MQTT topic strings.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g. "byd/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

func (b *TopicBuilder) Telemetry(vin string) string {
	return b.build(SuffixTelemetry, vin)
}

func (b *TopicBuilder) GPS(vin string) string {
	return b.build(SuffixGPS, vin)
}

// Stream returns the status topic of the named poll stream ("telemetry" or "gps").
func (b *TopicBuilder) Stream(stream, vin string) string {
	return b.build(stream, vin)
}

func (b *TopicBuilder) Availability(vin string) string {
	return b.build(SuffixAvailability, vin)
}

// Command returns the topic a vehicle's commands arrive on.
func (b *TopicBuilder) Command(vin string) string {
	return b.build(SuffixCommand, vin)
}

// CommandWildcard subscribes to commands for every vehicle.
// Result: {root}/command/+
func (b *TopicBuilder) CommandWildcard() string {
	return b.build(SuffixCommand, Wildcard)
}

func (b *TopicBuilder) CommandResult(vin string) string {
	return b.build(SuffixCommandResult, vin)
}

func (b *TopicBuilder) Bridge(clientID string) string {
	return b.build(SuffixBridge, clientID)
}

// VINFromCommand extracts the VIN from a topic produced by Command.
func (b *TopicBuilder) VINFromCommand(topic string) (string, bool) {
	prefix := b.root + "/" + SuffixCommand + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	vin := strings.TrimPrefix(topic, prefix)
	if vin == "" || strings.Contains(vin, "/") {
		return "", false
	}
	return vin, true
}

// build constructs {root}/{suffix}/{identifier}.
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
