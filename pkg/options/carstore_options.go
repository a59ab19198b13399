package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*CarStoreOptions)(nil)

// CarStoreOptions configures the REST client of the car storage service.
type CarStoreOptions struct {
	// BaseURL is the root the /cars and /brands endpoints live under.
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// Timeout with client request timeout.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewCarStoreOptions creates a CarStoreOptions object with default parameters.
func NewCarStoreOptions() *CarStoreOptions {
	return &CarStoreOptions{
		BaseURL: "http://127.0.0.1:8000/api",
		Timeout: 15 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *CarStoreOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if err := ValidateURL("carstore.base-url", o.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if o.Timeout <= 0 {
		errs = append(errs, errors.New("--carstore.timeout must be positive"))
	}

	return errs
}

// AddFlags adds flags for the car storage service to the specified FlagSet.
func (o *CarStoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.BaseURL, "carstore.base-url", o.BaseURL, "Base URL of the car storage REST API.")
	fs.DurationVar(&o.Timeout, "carstore.timeout", o.Timeout, "Timeout for car storage requests.")
}
