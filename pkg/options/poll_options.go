package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PollOptions)(nil)

// Interval bounds accepted for the polling cadences.
const (
	MinPollInterval        = 30 * time.Second
	MaxPollInterval        = 900 * time.Second
	MinGPSPollInterval     = 30 * time.Second
	MaxGPSPollInterval     = 900 * time.Second
	MinGPSActiveInterval   = 10 * time.Second
	MaxGPSActiveInterval   = 300 * time.Second
	MinGPSInactiveInterval = 60 * time.Second
	MaxGPSInactiveInterval = 3600 * time.Second
	MinTick                = time.Second
	MaxTick                = time.Minute
)

// PollOptions configure the per-vehicle polling coordinator.
type PollOptions struct {
	// Interval is the telemetry polling cadence.
	Interval time.Duration `json:"interval" mapstructure:"interval"`

	// GPSInterval is the GPS cadence when smart GPS polling is off.
	GPSInterval time.Duration `json:"gps-interval" mapstructure:"gps-interval"`

	// SmartGPS switches the GPS cadence between the active and inactive
	// intervals depending on whether the vehicle is moving.
	SmartGPS            bool          `json:"smart-gps" mapstructure:"smart-gps"`
	GPSActiveInterval   time.Duration `json:"gps-active-interval" mapstructure:"gps-active-interval"`
	GPSInactiveInterval time.Duration `json:"gps-inactive-interval" mapstructure:"gps-inactive-interval"`

	// Tick is the period of the scheduling loop that runs due-checks.
	Tick time.Duration `json:"tick" mapstructure:"tick"`

	// FetchTimeout bounds a single provider fetch.
	FetchTimeout time.Duration `json:"fetch-timeout" mapstructure:"fetch-timeout"`

	// TelemetryFields and GPSFields override the material field sets.
	// Empty means the built-in defaults.
	TelemetryFields []string `json:"telemetry-fields" mapstructure:"telemetry-fields"`
	GPSFields       []string `json:"gps-fields" mapstructure:"gps-fields"`
}

func NewPollOptions() *PollOptions {
	return &PollOptions{
		Interval:            300 * time.Second,
		GPSInterval:         300 * time.Second,
		SmartGPS:            false,
		GPSActiveInterval:   30 * time.Second,
		GPSInactiveInterval: 600 * time.Second,
		Tick:                5 * time.Second,
		FetchTimeout:        60 * time.Second,
	}
}

func (o *PollOptions) Validate() []error {
	var errs []error

	check := func(name string, v, lo, hi time.Duration) {
		if v < lo || v > hi {
			errs = append(errs, fmt.Errorf("%s must be between %s and %s, got %s", name, lo, hi, v))
		}
	}
	check("poll.interval", o.Interval, MinPollInterval, MaxPollInterval)
	check("poll.gps-interval", o.GPSInterval, MinGPSPollInterval, MaxGPSPollInterval)
	check("poll.gps-active-interval", o.GPSActiveInterval, MinGPSActiveInterval, MaxGPSActiveInterval)
	check("poll.gps-inactive-interval", o.GPSInactiveInterval, MinGPSInactiveInterval, MaxGPSInactiveInterval)
	check("poll.tick", o.Tick, MinTick, MaxTick)

	if o.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll.fetch-timeout must be positive, got %s", o.FetchTimeout))
	}

	return errs
}

func (o *PollOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Interval, "poll.interval", o.Interval, "Telemetry polling interval.")
	fs.DurationVar(&o.GPSInterval, "poll.gps-interval", o.GPSInterval, "GPS polling interval when smart GPS polling is disabled.")
	fs.BoolVar(&o.SmartGPS, "poll.smart-gps", o.SmartGPS, "Poll GPS faster while the vehicle is moving.")
	fs.DurationVar(&o.GPSActiveInterval, "poll.gps-active-interval", o.GPSActiveInterval, "GPS interval while moving (smart GPS).")
	fs.DurationVar(&o.GPSInactiveInterval, "poll.gps-inactive-interval", o.GPSInactiveInterval, "GPS interval while parked (smart GPS).")
	fs.DurationVar(&o.Tick, "poll.tick", o.Tick, "Period of the scheduling loop.")
	fs.DurationVar(&o.FetchTimeout, "poll.fetch-timeout", o.FetchTimeout, "Upper bound for a single provider fetch.")
	fs.StringSliceVar(&o.TelemetryFields, "poll.telemetry-fields", o.TelemetryFields, "Material telemetry fields (default set when empty).")
	fs.StringSliceVar(&o.GPSFields, "poll.gps-fields", o.GPSFields, "Material GPS fields (default set when empty).")
}
