package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*GrpcOptions)(nil)

// GrpcOptions configure the plaintext gRPC listener. It serves the standard
// health checking protocol with one service per vehicle stream.
type GrpcOptions struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Network string `json:"network" mapstructure:"network"`
	Addr    string `json:"addr" mapstructure:"addr"`

	// Reflection registers the server reflection service for grpcurl.
	Reflection bool `json:"reflection" mapstructure:"reflection"`
}

func NewGrpcOptions() *GrpcOptions {
	return &GrpcOptions{
		Enabled:    true,
		Network:    "tcp",
		Addr:       "0.0.0.0:8491",
		Reflection: true,
	}
}

func (o *GrpcOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	if err := ValidateListen(o.Network, o.Addr); err != nil {
		return []error{err}
	}
	return nil
}

func (o *GrpcOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "grpc.enabled", o.Enabled, "Serve per-vehicle health over gRPC.")
	fs.StringVar(&o.Network, "grpc.network", o.Network, "Network of the gRPC listener: tcp, tcp4, tcp6 or unix.")
	fs.StringVar(&o.Addr, "grpc.addr", o.Addr, "Address of the gRPC listener (host:port, or a socket path for unix).")
	fs.BoolVar(&o.Reflection, "grpc.reflection", o.Reflection, "Register the gRPC server reflection service.")
}
