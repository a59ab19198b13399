package options

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
)

var _ IOptions = (*RefreshOptions)(nil)

// RefreshOptions configures the scheduled re-query of stored cars.
type RefreshOptions struct {
	// Schedule is a 5-field cron spec, evaluated in UTC.
	Schedule string `json:"schedule" mapstructure:"schedule"`

	// Pause between two sessions of the same run.
	Pause time.Duration `json:"pause" mapstructure:"pause"`
}

// NewRefreshOptions creates a RefreshOptions object with default parameters.
func NewRefreshOptions() *RefreshOptions {
	return &RefreshOptions{
		Schedule: "0 3 * * *",
		Pause:    2 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *RefreshOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if _, err := cron.ParseStandard(o.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("--refresh.schedule: %w", err))
	}
	if o.Pause < 0 {
		errs = append(errs, fmt.Errorf("--refresh.pause must not be negative"))
	}

	return errs
}

// AddFlags adds flags for scheduled refresh to the specified FlagSet.
func (o *RefreshOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Schedule, "refresh.schedule", o.Schedule, "Cron schedule (5 fields, UTC) for re-querying stored cars.")
	fs.DurationVar(&o.Pause, "refresh.pause", o.Pause, "Pause between two sessions of one refresh run.")
}
