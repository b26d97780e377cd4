package poller

import (
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
)

// TelemetryField extracts one material value from a telemetry payload. ok is
// false when the section carrying the value is absent.
type TelemetryField func(t *provider.Telemetry) (value string, ok bool)

// GPSField extracts one material value from a GPS payload.
type GPSField func(g *provider.GPS) (value string, ok bool)

// MaterialSet names the fields whose change advances a canonical timestamp.
type MaterialSet []string

// Default material sets. Transport timestamps, request serials and echoed
// fields are never material.
var (
	DefaultTelemetryFields = MaterialSet{
		"realtime.vehicle_state",
		"realtime.locked",
		"realtime.doors_open",
		"realtime.windows_open",
		"realtime.is_charging",
		"charging.state",
		"charging.connected",
		"charging.power",
		"charging.soc",
		"hvac.on",
		"hvac.target_temperature",
		"energy.total",
		"energy.recent",
	}

	DefaultGPSFields = MaterialSet{
		"gps.latitude",
		"gps.longitude",
		"gps.heading",
		"gps.speed",
	}
)

var registry = struct {
	sync.RWMutex
	telemetry map[string]TelemetryField
	gps       map[string]GPSField
}{
	telemetry: map[string]TelemetryField{
		"realtime.vehicle_state": realtime(func(r *provider.Realtime) string { return r.VehicleState }),
		"realtime.locked":        realtime(func(r *provider.Realtime) string { return formatBool(r.Locked) }),
		"realtime.doors_open":    realtime(func(r *provider.Realtime) string { return formatBool(r.DoorsOpen) }),
		"realtime.windows_open":  realtime(func(r *provider.Realtime) string { return formatBool(r.WindowsOpen) }),
		"realtime.is_charging":   realtime(func(r *provider.Realtime) string { return formatBool(r.IsCharging) }),
		"realtime.soc":           realtime(func(r *provider.Realtime) string { return formatFloat(r.SOC) }),
		"realtime.mileage":       realtime(func(r *provider.Realtime) string { return formatFloat(r.Mileage) }),
		"realtime.speed": func(t *provider.Telemetry) (string, bool) {
			if t.Realtime == nil || t.Realtime.Speed == nil {
				return "", false
			}
			return formatFloat(*t.Realtime.Speed), true
		},
		"charging.state":          charging(func(c *provider.Charging) string { return c.State }),
		"charging.connected":      charging(func(c *provider.Charging) string { return formatBool(c.Connected) }),
		"charging.power":          charging(func(c *provider.Charging) string { return formatDecimal(c.Power) }),
		"charging.soc":            charging(func(c *provider.Charging) string { return formatFloat(c.SOC) }),
		"hvac.on":                 hvac(func(h *provider.HVAC) string { return formatBool(h.On) }),
		"hvac.target_temperature": hvac(func(h *provider.HVAC) string { return formatFloat(h.TargetTemperature) }),
		"hvac.cabin_temperature":  hvac(func(h *provider.HVAC) string { return formatFloat(h.CabinTemperature) }),
		"energy.total":            energy(func(e *provider.Energy) string { return formatDecimal(e.Total) }),
		"energy.recent":           energy(func(e *provider.Energy) string { return formatDecimal(e.Recent) }),
	},
	gps: map[string]GPSField{
		"gps.latitude":  func(g *provider.GPS) (string, bool) { return formatFloat(g.Latitude), true },
		"gps.longitude": func(g *provider.GPS) (string, bool) { return formatFloat(g.Longitude), true },
		"gps.heading":   func(g *provider.GPS) (string, bool) { return formatFloat(g.Heading), true },
		"gps.speed": func(g *provider.GPS) (string, bool) {
			if g.Speed == nil {
				return "", false
			}
			return formatFloat(*g.Speed), true
		},
	},
}

// RegisterTelemetryField adds or replaces a named telemetry extractor.
func RegisterTelemetryField(name string, fn TelemetryField) {
	registry.Lock()
	defer registry.Unlock()
	registry.telemetry[name] = fn
}

// RegisterGPSField adds or replaces a named GPS extractor.
func RegisterGPSField(name string, fn GPSField) {
	registry.Lock()
	defer registry.Unlock()
	registry.gps[name] = fn
}

// TelemetryFields returns every registered telemetry field name, sorted.
func TelemetryFields() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.telemetry))
	for n := range registry.telemetry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// GPSFields returns every registered GPS field name, sorted.
func GPSFields() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.gps))
	for n := range registry.gps {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// ResolveTelemetryFields checks names against the registry. Empty means the
// default set.
func ResolveTelemetryFields(names []string) (MaterialSet, error) {
	if len(names) == 0 {
		return slices.Clone(DefaultTelemetryFields), nil
	}
	registry.RLock()
	defer registry.RUnlock()
	for _, n := range names {
		if _, ok := registry.telemetry[n]; !ok {
			return nil, fmt.Errorf("unknown telemetry field %q", n)
		}
	}
	return MaterialSet(slices.Clone(names)), nil
}

// ResolveGPSFields checks names against the registry. Empty means the
// default set.
func ResolveGPSFields(names []string) (MaterialSet, error) {
	if len(names) == 0 {
		return slices.Clone(DefaultGPSFields), nil
	}
	registry.RLock()
	defer registry.RUnlock()
	for _, n := range names {
		if _, ok := registry.gps[n]; !ok {
			return nil, fmt.Errorf("unknown gps field %q", n)
		}
	}
	return MaterialSet(slices.Clone(names)), nil
}

func telemetryValues(t *provider.Telemetry, set MaterialSet) map[string]string {
	registry.RLock()
	defer registry.RUnlock()
	out := make(map[string]string, len(set))
	for _, name := range set {
		fn, ok := registry.telemetry[name]
		if !ok {
			continue
		}
		if v, ok := fn(t); ok {
			out[name] = v
		}
	}
	return out
}

func gpsValues(g *provider.GPS, set MaterialSet) map[string]string {
	registry.RLock()
	defer registry.RUnlock()
	out := make(map[string]string, len(set))
	for _, name := range set {
		fn, ok := registry.gps[name]
		if !ok {
			continue
		}
		if v, ok := fn(g); ok {
			out[name] = v
		}
	}
	return out
}

func realtime(fn func(*provider.Realtime) string) TelemetryField {
	return func(t *provider.Telemetry) (string, bool) {
		if t.Realtime == nil {
			return "", false
		}
		return fn(t.Realtime), true
	}
}

func charging(fn func(*provider.Charging) string) TelemetryField {
	return func(t *provider.Telemetry) (string, bool) {
		if t.Charging == nil {
			return "", false
		}
		return fn(t.Charging), true
	}
}

func hvac(fn func(*provider.HVAC) string) TelemetryField {
	return func(t *provider.Telemetry) (string, bool) {
		if t.HVAC == nil {
			return "", false
		}
		return fn(t.HVAC), true
	}
}

func energy(fn func(*provider.Energy) string) TelemetryField {
	return func(t *provider.Telemetry) (string, bool) {
		if t.Energy == nil {
			return "", false
		}
		return fn(t.Energy), true
	}
}

func formatBool(b bool) string { return strconv.FormatBool(b) }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// formatDecimal normalizes trailing zeros so 7.40 and 7.4 compare equal.
func formatDecimal(d decimal.Decimal) string { return d.String() }
