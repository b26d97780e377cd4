// Package notifier delivers coordinator updates to external consumers.
package notifier

import (
	"context"
	"time"

	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
)

// Sink receives updates from the fan-out. Notify is never called
// concurrently for the same sink.
type Sink interface {
	Name() string
	Notify(ctx context.Context, u poller.Update) error
}

// StreamMessage is the JSON document published for a stream update.
type StreamMessage struct {
	VIN     string            `json:"vin"`
	Stream  poller.StreamKind `json:"stream"`
	Changed bool              `json:"changed"`

	// UpdatedAt is the canonical timestamp of the stream.
	UpdatedAt        time.Time `json:"updated_at"`
	LastSuccessAt    time.Time `json:"last_success_at"`
	LastTransmission time.Time `json:"last_transmission"`
	Moving           bool      `json:"moving"`
	PollingEnabled   bool      `json:"polling_enabled"`

	Material  map[string]string   `json:"material"`
	Telemetry *provider.Telemetry `json:"telemetry,omitempty"`
	GPS       *provider.GPS       `json:"gps,omitempty"`
}

// AvailabilityMessage reports whether the last attempt of a stream succeeded.
type AvailabilityMessage struct {
	VIN       string            `json:"vin"`
	Stream    poller.StreamKind `json:"stream"`
	Available bool              `json:"available"`
	ErrorType string            `json:"error_type,omitempty"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
}

// EventMessage is the compact notification sent on pub/sub channels.
type EventMessage struct {
	VIN     string            `json:"vin"`
	Stream  poller.StreamKind `json:"stream,omitempty"`
	Outcome poller.Outcome    `json:"outcome"`
	Changed bool              `json:"changed,omitempty"`
	Command string            `json:"command,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// NewStreamMessage builds the stream document of u.
func NewStreamMessage(u poller.Update) StreamMessage {
	st := u.Status.Stream(u.Stream)
	return StreamMessage{
		VIN:              u.VIN,
		Stream:           u.Stream,
		Changed:          u.Changed,
		UpdatedAt:        st.UpdatedAt,
		LastSuccessAt:    st.LastSuccessAt,
		LastTransmission: u.Status.LastTransmission,
		Moving:           u.Status.Moving,
		PollingEnabled:   u.Status.PollingEnabled,
		Material:         st.Snapshot.Material,
		Telemetry:        st.Snapshot.Telemetry,
		GPS:              st.Snapshot.GPS,
	}
}

// NewAvailabilityMessage builds the availability document of u.
func NewAvailabilityMessage(u poller.Update) AvailabilityMessage {
	st := u.Status.Stream(u.Stream)
	msg := AvailabilityMessage{
		VIN:       u.VIN,
		Stream:    u.Stream,
		Available: u.Err == nil,
		At:        st.LastAttemptAt,
	}
	if u.Err != nil {
		msg.ErrorType = provider.KindOf(u.Err).String()
		msg.Error = u.Err.Error()
	}
	return msg
}

// NewEventMessage builds the pub/sub notification of u.
func NewEventMessage(u poller.Update) EventMessage {
	msg := EventMessage{
		VIN:     u.VIN,
		Stream:  u.Stream,
		Outcome: u.Outcome,
		Changed: u.Changed,
	}
	if u.Command != nil {
		msg.Command = string(u.Command.Command)
	}
	if u.Err != nil {
		msg.Error = u.Err.Error()
	}
	return msg
}
