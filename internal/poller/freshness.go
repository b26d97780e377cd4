package poller

import (
	"errors"
	"maps"
	"math"
	"time"

	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
)

// ErrMalformedPayload means materiality could not be computed. The payload
// counts as "no material change".
var ErrMalformedPayload = errors.New("malformed payload")

// Snapshot is the canonical state of one stream.
type Snapshot struct {
	// Material holds the material field values the last diff was computed from.
	Material map[string]string `json:"material,omitempty"`

	// Telemetry and GPS hold the latest raw payload, including non-material fields.
	Telemetry *provider.Telemetry `json:"telemetry,omitempty"`
	GPS       *provider.GPS       `json:"gps,omitempty"`

	// ReceivedAt is when the payload was folded in.
	ReceivedAt time.Time `json:"received_at"`
}

// Clone returns a copy whose Material map can be handed out.
func (s Snapshot) Clone() Snapshot {
	s.Material = maps.Clone(s.Material)
	return s
}

// DiffTelemetry folds payload into old. Sections missing from payload are
// carried over from old. changed is true iff a material value differs from
// old.Material.
func DiffTelemetry(old Snapshot, payload *provider.Telemetry, set MaterialSet) (bool, Snapshot, error) {
	merged := old.Clone()
	if payload == nil {
		return false, merged, ErrMalformedPayload
	}

	full := carryOver(old.Telemetry, payload)
	merged.Telemetry = full
	if payload.Realtime == nil {
		return false, merged, ErrMalformedPayload
	}

	values := telemetryValues(full, set)
	changed := !maps.Equal(values, old.Material)
	merged.Material = values
	return changed, merged, nil
}

// DiffGPS folds payload into old. changed is true iff a material value
// differs from old.Material.
func DiffGPS(old Snapshot, payload *provider.GPS, set MaterialSet) (bool, Snapshot, error) {
	merged := old.Clone()
	if payload == nil {
		return false, merged, ErrMalformedPayload
	}
	merged.GPS = payload
	if !validCoordinate(payload.Latitude, 90) || !validCoordinate(payload.Longitude, 180) {
		return false, merged, ErrMalformedPayload
	}

	values := gpsValues(payload, set)
	changed := !maps.Equal(values, old.Material)
	merged.Material = values
	return changed, merged, nil
}

func carryOver(prev, next *provider.Telemetry) *provider.Telemetry {
	out := *next
	if prev == nil {
		return &out
	}
	if out.Realtime == nil {
		out.Realtime = prev.Realtime
	}
	if out.Charging == nil {
		out.Charging = prev.Charging
	}
	if out.HVAC == nil {
		out.HVAC = prev.HVAC
	}
	if out.Energy == nil {
		out.Energy = prev.Energy
	}
	return &out
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -limit && v <= limit
}
