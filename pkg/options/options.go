// Package options holds the configuration groups shared by carthingy commands.
package options

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every configuration group.
type IOptions interface {
	// Validate returns every problem found in the options.
	Validate() []error

	// AddFlags registers the options' flags on fs.
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

// ValidateURL checks that raw is an absolute URL using one of schemes.
func ValidateURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("--%s: %w", name, err)
	}
	if u.Host == "" {
		return fmt.Errorf("--%s: %q has no host", name, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("--%s: scheme %q not one of %v", name, u.Scheme, schemes)
}
