package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every option group in this package.
type IOptions interface {
	// Validate checks the option values and returns every problem found.
	Validate() []error

	// AddFlags binds the option group to fs.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a host:port pair with a valid port.
func ValidateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid port %q in address %q", port, addr)
	}
	return nil
}

// ValidateListen checks a listener network and its address.
func ValidateListen(network, addr string) error {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return ValidateAddress(addr)
	case "unix":
		if addr == "" {
			return fmt.Errorf("unix listener needs a socket path")
		}
		return nil
	default:
		return fmt.Errorf("unsupported network %q", network)
	}
}
