package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/jkaberg/hass-byd-vehicle/internal/agent"
	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/pkg/app"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

type PollerOptions struct {
	PollOptions     *options.PollOptions     `json:"poll" mapstructure:"poll"`
	ProviderOptions *options.ProviderOptions `json:"provider" mapstructure:"provider"`
	DebugOptions    *options.DebugOptions    `json:"debug" mapstructure:"debug"`
	HttpOptions     *options.HttpOptions     `json:"http" mapstructure:"http"`
	GrpcOptions     *options.GrpcOptions     `json:"grpc" mapstructure:"grpc"`
	MqttOptions     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	RedisOptions    *options.RedisOptions    `json:"redis" mapstructure:"redis"`
	S3Options       *options.S3Options       `json:"s3" mapstructure:"s3"`
	Log             *log.Options             `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*PollerOptions)(nil)

func NewPollerOptions() *PollerOptions {
	return &PollerOptions{
		PollOptions:     options.NewPollOptions(),
		ProviderOptions: options.NewProviderOptions(),
		DebugOptions:    options.NewDebugOptions(),
		HttpOptions:     options.NewHttpOptions(),
		GrpcOptions:     options.NewGrpcOptions(),
		MqttOptions:     options.NewMqttOptions(),
		RedisOptions:    options.NewRedisOptions(),
		S3Options:       options.NewS3Options(),
		Log:             log.NewOptions(),
	}
}

func (o *PollerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.PollOptions.AddFlags(fss.FlagSet("poll"))
	o.ProviderOptions.AddFlags(fss.FlagSet("provider"))
	o.DebugOptions.AddFlags(fss.FlagSet("debug"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *PollerOptions) Complete() error {
	return nil
}

func (o *PollerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.PollOptions.Validate()...)
	errs = append(errs, o.ProviderOptions.Validate()...)
	errs = append(errs, o.DebugOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	if o.DebugOptions.Dumps && o.DebugOptions.Target == options.DumpTargetS3 {
		errs = append(errs, o.S3Options.Validate()...)
	}
	errs = append(errs, o.Log.Validate()...)

	if _, err := poller.ResolveTelemetryFields(o.PollOptions.TelemetryFields); err != nil {
		errs = append(errs, fmt.Errorf("poll.telemetry-fields: %w", err))
	}
	if _, err := poller.ResolveGPSFields(o.PollOptions.GPSFields); err != nil {
		errs = append(errs, fmt.Errorf("poll.gps-fields: %w", err))
	}
	return utilerrors.NewAggregate(errs)
}

// LogOptions exposes the logger configuration to the application runner.
func (o *PollerOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *PollerOptions) Config() (*agent.Config, error) {
	telemetry, err := poller.ResolveTelemetryFields(o.PollOptions.TelemetryFields)
	if err != nil {
		return nil, err
	}
	gps, err := poller.ResolveGPSFields(o.PollOptions.GPSFields)
	if err != nil {
		return nil, err
	}
	return &agent.Config{
		PollOptions:     o.PollOptions,
		ProviderOptions: o.ProviderOptions,
		DebugOptions:    o.DebugOptions,
		HttpOptions:     o.HttpOptions,
		GrpcOptions:     o.GrpcOptions,
		MqttOptions:     o.MqttOptions,
		RedisOptions:    o.RedisOptions,
		S3Options:       o.S3Options,
		TelemetryFields: telemetry,
		GPSFields:       gps,
	}, nil
}
