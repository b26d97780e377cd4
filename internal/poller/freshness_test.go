package poller

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
)

func ptr[T any](v T) *T { return &v }

func telemetryAt(ts time.Time, charging bool) *provider.Telemetry {
	return &provider.Telemetry{
		VIN: "VIN1",
		Realtime: &provider.Realtime{
			VehicleState: "parked",
			Locked:       true,
			IsCharging:   charging,
			SOC:          70,
			Speed:        ptr(0.0),
			Timestamp:    ts,
		},
		Charging: &provider.Charging{
			State:      "idle",
			Power:      decimal.RequireFromString("0"),
			SOC:        70,
			UpdateTime: ts,
		},
		HVAC:          &provider.HVAC{On: false, TargetTemperature: 21},
		Energy:        &provider.Energy{Total: decimal.RequireFromString("12.5"), Recent: decimal.RequireFromString("17.1")},
		RequestSerial: ts.Format(time.RFC3339),
		ServerTime:    ts,
	}
}

func TestDiffTelemetryFirstPayloadIsMaterial(t *testing.T) {
	changed, snap, err := DiffTelemetry(Snapshot{}, telemetryAt(time.Unix(0, 0), false), DefaultTelemetryFields)
	if err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if snap.Material["realtime.is_charging"] != "false" || snap.Material["energy.total"] != "12.5" {
		t.Fatalf("material = %v", snap.Material)
	}
}

func TestDiffTelemetryIgnoresTransportFields(t *testing.T) {
	_, snap, _ := DiffTelemetry(Snapshot{}, telemetryAt(time.Unix(0, 0), false), DefaultTelemetryFields)

	changed, next, err := DiffTelemetry(snap, telemetryAt(time.Unix(300, 0), false), DefaultTelemetryFields)
	if err != nil || changed {
		t.Fatalf("transport-only change: changed=%v err=%v", changed, err)
	}
	if next.Telemetry.RequestSerial == snap.Telemetry.RequestSerial {
		t.Fatal("non-material fields must still be stored")
	}

	changed, _, _ = DiffTelemetry(next, telemetryAt(time.Unix(600, 0), true), DefaultTelemetryFields)
	if !changed {
		t.Fatal("charging change must be material")
	}
}

func TestDiffTelemetryDecimalScale(t *testing.T) {
	p1 := telemetryAt(time.Unix(0, 0), false)
	p1.Charging.Power = decimal.RequireFromString("7.4")
	_, snap, _ := DiffTelemetry(Snapshot{}, p1, DefaultTelemetryFields)

	p2 := telemetryAt(time.Unix(1, 0), false)
	p2.Charging.Power = decimal.RequireFromString("7.40")
	if changed, _, _ := DiffTelemetry(snap, p2, DefaultTelemetryFields); changed {
		t.Fatal("7.4 and 7.40 must compare equal")
	}
}

func TestDiffTelemetryCarriesMissingSections(t *testing.T) {
	_, snap, _ := DiffTelemetry(Snapshot{}, telemetryAt(time.Unix(0, 0), false), DefaultTelemetryFields)

	partial := telemetryAt(time.Unix(300, 0), false)
	partial.HVAC = nil
	partial.Energy = nil

	changed, merged, err := DiffTelemetry(snap, partial, DefaultTelemetryFields)
	if err != nil || changed {
		t.Fatalf("partial payload: changed=%v err=%v", changed, err)
	}
	if merged.Telemetry.HVAC == nil || merged.Telemetry.Energy == nil {
		t.Fatal("missing sections must carry over")
	}
	if partial.HVAC != nil {
		t.Fatal("the incoming payload must not be mutated")
	}
}

func TestDiffTelemetryMalformed(t *testing.T) {
	_, snap, _ := DiffTelemetry(Snapshot{}, telemetryAt(time.Unix(0, 0), false), DefaultTelemetryFields)

	bad := telemetryAt(time.Unix(300, 0), true)
	bad.Realtime = nil
	changed, merged, err := DiffTelemetry(snap, bad, DefaultTelemetryFields)
	if !errors.Is(err, ErrMalformedPayload) || changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	if merged.Telemetry.RequestSerial != bad.RequestSerial {
		t.Fatal("raw payload must be stored")
	}
	if merged.Material["realtime.is_charging"] != "false" {
		t.Fatal("material values must be kept")
	}

	if _, _, err := DiffTelemetry(snap, nil, DefaultTelemetryFields); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("nil payload: %v", err)
	}
}

func TestDiffGPS(t *testing.T) {
	p := &provider.GPS{Latitude: 59.91, Longitude: 10.75, Heading: 90, Speed: ptr(0.0), GPSTimestamp: time.Unix(0, 0)}
	changed, snap, err := DiffGPS(Snapshot{}, p, DefaultGPSFields)
	if err != nil || !changed {
		t.Fatalf("first: changed=%v err=%v", changed, err)
	}

	same := *p
	same.GPSTimestamp = time.Unix(300, 0)
	same.RequestSerial = "x"
	if changed, _, _ := DiffGPS(snap, &same, DefaultGPSFields); changed {
		t.Fatal("timestamp-only change must not be material")
	}

	moved := *p
	moved.Latitude = 59.92
	if changed, _, _ := DiffGPS(snap, &moved, DefaultGPSFields); !changed {
		t.Fatal("position change must be material")
	}

	for _, bad := range []provider.GPS{
		{Latitude: math.NaN(), Longitude: 10},
		{Latitude: 91, Longitude: 10},
		{Latitude: 10, Longitude: math.Inf(1)},
	} {
		changed, merged, err := DiffGPS(snap, &bad, DefaultGPSFields)
		if !errors.Is(err, ErrMalformedPayload) || changed {
			t.Fatalf("%+v: changed=%v err=%v", bad, changed, err)
		}
		if merged.Material["gps.latitude"] != "59.91" {
			t.Fatal("material values must be kept")
		}
	}
}

func TestRegisteredFieldExtendsMaterialSet(t *testing.T) {
	RegisterTelemetryField("test.mileage_bucket", func(tel *provider.Telemetry) (string, bool) {
		if tel.Realtime == nil {
			return "", false
		}
		return formatFloat(math.Floor(tel.Realtime.Mileage / 100)), true
	})

	set, err := ResolveTelemetryFields([]string{"realtime.vehicle_state", "test.mileage_bucket"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	p1 := telemetryAt(time.Unix(0, 0), false)
	p1.Realtime.Mileage = 1010
	_, snap, _ := DiffTelemetry(Snapshot{}, p1, set)

	p2 := telemetryAt(time.Unix(1, 0), true) // charging is not in the set
	p2.Realtime.Mileage = 1050
	if changed, _, _ := DiffTelemetry(snap, p2, set); changed {
		t.Fatal("fields outside the set must not be material")
	}

	p3 := telemetryAt(time.Unix(2, 0), false)
	p3.Realtime.Mileage = 1101
	if changed, _, _ := DiffTelemetry(snap, p3, set); !changed {
		t.Fatal("registered field change must be material")
	}

	if _, err := ResolveGPSFields([]string{"gps.altitude"}); err == nil {
		t.Fatal("unknown field must be rejected")
	}
	if set, _ := ResolveGPSFields(nil); len(set) != len(DefaultGPSFields) {
		t.Fatal("empty selection must resolve to the defaults")
	}
}
