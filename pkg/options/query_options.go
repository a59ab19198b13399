package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*QueryOptions)(nil)

// QueryOptions configures the connection to the vehicle query backend.
type QueryOptions struct {
	// URL is the WebSocket endpoint of the query backend.
	URL string `json:"url" mapstructure:"url"`

	// Token is sent as a bearer token during the handshake.
	Token string `json:"token" mapstructure:"token"`

	HandshakeTimeout time.Duration `json:"handshake-timeout" mapstructure:"handshake-timeout"`

	// ReadTimeout fails a session whose backend stays silent this long. Zero disables it.
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`

	// Timeout bounds a whole session when waiting on it from the command line.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewQueryOptions creates a QueryOptions object with default parameters.
func NewQueryOptions() *QueryOptions {
	return &QueryOptions{
		URL:              "ws://127.0.0.1:8080/query",
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		Timeout:          5 * time.Minute,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *QueryOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if err := ValidateURL("query.url", o.URL, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if o.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("--query.handshake-timeout must be positive"))
	}
	if o.ReadTimeout < 0 {
		errs = append(errs, errors.New("--query.read-timeout must not be negative"))
	}
	if o.Timeout < 0 {
		errs = append(errs, errors.New("--query.timeout must not be negative"))
	}

	return errs
}

// AddFlags adds flags for the query backend to the specified FlagSet.
func (o *QueryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.URL, "query.url", o.URL, "WebSocket URL of the vehicle query backend.")
	fs.StringVar(&o.Token, "query.token", o.Token, "Bearer token presented to the query backend.")
	fs.DurationVar(&o.HandshakeTimeout, "query.handshake-timeout", o.HandshakeTimeout, "Timeout for the WebSocket handshake.")
	fs.DurationVar(&o.ReadTimeout, "query.read-timeout", o.ReadTimeout, "Fail a session when no line arrives for this long (0 disables).")
	fs.DurationVar(&o.Timeout, "query.timeout", o.Timeout, "Maximum time to wait for a session to finish (0 waits forever).")
}
