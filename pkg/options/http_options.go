package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configure the listener for probes, metrics and the vehicle API.
type HttpOptions struct {
	Network string `json:"network" mapstructure:"network"`
	Addr    string `json:"addr" mapstructure:"addr"`

	// Timeout bounds every /api/v1 request, including relayed remote commands.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// EnableCommands exposes POST /api/v1/vehicles/{vin}/commands/{command}.
	EnableCommands bool `json:"enable-commands" mapstructure:"enable-commands"`
}

func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network:        "tcp",
		Addr:           "0.0.0.0:8480",
		Timeout:        30 * time.Second,
		EnableCommands: true,
	}
}

func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if err := ValidateListen(o.Network, o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	return errs
}

func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Network of the HTTP listener: tcp, tcp4, tcp6 or unix.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Address of the HTTP listener (host:port, or a socket path for unix).")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Upper bound for one API request, including remote commands.")
	fs.BoolVar(&o.EnableCommands, "http.enable-commands", o.EnableCommands, "Accept remote vehicle commands over the HTTP API.")
}
