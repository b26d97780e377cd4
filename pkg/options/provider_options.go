package options

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ProviderOptions)(nil)

const (
	SourceSimulator = "sim"
	SourceREST      = "rest"

	MinClimateDuration = 1
	MaxClimateDuration = 60
)

// ProviderOptions select and configure the vehicle-data provider.
type ProviderOptions struct {
	// Source is either "sim" or "rest".
	Source string `json:"source" mapstructure:"source"`

	// BaseURL of the vendor bridge used by the rest source.
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// Token is sent as a bearer token to the vendor bridge.
	Token string `json:"token" mapstructure:"token"`

	CountryCode string `json:"country-code" mapstructure:"country-code"`
	Language    string `json:"language" mapstructure:"language"`

	// RequestTimeout bounds one HTTP round trip of the rest source.
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`

	// SerializeCalls runs at most one provider call per account at a time.
	SerializeCalls bool `json:"serialize-calls" mapstructure:"serialize-calls"`

	// RateLimit caps provider calls per second per account. Zero disables pacing.
	RateLimit float64 `json:"rate-limit" mapstructure:"rate-limit"`
	RateBurst int     `json:"rate-burst" mapstructure:"rate-burst"`

	// ClimateDuration is the default climate run time in minutes.
	ClimateDuration int `json:"climate-duration" mapstructure:"climate-duration"`

	// SimVehicles is the number of simulated vehicles.
	SimVehicles int `json:"sim-vehicles" mapstructure:"sim-vehicles"`

	// SimFailureRate is the probability that a simulated fetch fails with a transport error.
	SimFailureRate float64 `json:"sim-failure-rate" mapstructure:"sim-failure-rate"`
}

func NewProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		Source:          SourceSimulator,
		BaseURL:         "http://localhost:8765",
		CountryCode:     "NL",
		Language:        "en",
		RequestTimeout:  30 * time.Second,
		SerializeCalls:  true,
		RateLimit:       0,
		RateBurst:       1,
		ClimateDuration: 1,
		SimVehicles:     1,
	}
}

func (o *ProviderOptions) Validate() []error {
	var errs []error

	switch o.Source {
	case SourceSimulator:
		if o.SimVehicles < 1 {
			errs = append(errs, errors.New("provider.sim-vehicles must be at least 1"))
		}
		if o.SimFailureRate < 0 || o.SimFailureRate > 1 {
			errs = append(errs, fmt.Errorf("provider.sim-failure-rate must be within [0,1], got %v", o.SimFailureRate))
		}
	case SourceREST:
		if u, err := url.Parse(o.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("provider.base-url %q is not an absolute URL", o.BaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.source must be %q or %q, got %q", SourceSimulator, SourceREST, o.Source))
	}

	if o.ClimateDuration < MinClimateDuration || o.ClimateDuration > MaxClimateDuration {
		errs = append(errs, fmt.Errorf("provider.climate-duration must be between %d and %d minutes", MinClimateDuration, MaxClimateDuration))
	}
	if o.RateLimit < 0 {
		errs = append(errs, errors.New("provider.rate-limit must not be negative"))
	}
	if o.RateLimit > 0 && o.RateBurst < 1 {
		errs = append(errs, errors.New("provider.rate-burst must be at least 1"))
	}

	return errs
}

func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Source, "provider.source", o.Source, "Vehicle data source: 'sim' or 'rest'.")
	fs.StringVar(&o.BaseURL, "provider.base-url", o.BaseURL, "Base URL of the vendor bridge (rest source).")
	fs.StringVar(&o.Token, "provider.token", o.Token, "Bearer token for the vendor bridge.")
	fs.StringVar(&o.CountryCode, "provider.country-code", o.CountryCode, "Account country code.")
	fs.StringVar(&o.Language, "provider.language", o.Language, "Account language.")
	fs.DurationVar(&o.RequestTimeout, "provider.request-timeout", o.RequestTimeout, "Timeout of a single bridge request.")
	fs.BoolVar(&o.SerializeCalls, "provider.serialize-calls", o.SerializeCalls, "Never run two provider calls for one account concurrently.")
	fs.Float64Var(&o.RateLimit, "provider.rate-limit", o.RateLimit, "Maximum provider calls per second (0 disables pacing).")
	fs.IntVar(&o.RateBurst, "provider.rate-burst", o.RateBurst, "Burst size for provider call pacing.")
	fs.IntVar(&o.ClimateDuration, "provider.climate-duration", o.ClimateDuration, "Default climate duration in minutes.")
	fs.IntVar(&o.SimVehicles, "provider.sim-vehicles", o.SimVehicles, "Number of simulated vehicles (sim source).")
	fs.Float64Var(&o.SimFailureRate, "provider.sim-failure-rate", o.SimFailureRate, "Probability of a simulated transport failure (sim source).")
}
