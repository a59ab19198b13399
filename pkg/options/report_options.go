package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*ReportOptions)(nil)

// ReportOptions selects where a completed record is delivered.
type ReportOptions struct {
	// Save creates or updates the car in the car storage service.
	Save bool `json:"save" mapstructure:"save"`

	// Publish sends the record to the MQTT broker.
	Publish bool `json:"publish" mapstructure:"publish"`

	// Archive uploads the record and session log to object storage.
	Archive bool `json:"archive" mapstructure:"archive"`
}

// NewReportOptions creates a ReportOptions object with default parameters.
func NewReportOptions() *ReportOptions {
	return &ReportOptions{}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *ReportOptions) Validate() []error {
	return nil
}

// AddFlags adds flags for result reporting to the specified FlagSet.
func (o *ReportOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Save, "report.save", o.Save, "Create or update the car in the car storage service after a completed query.")
	fs.BoolVar(&o.Publish, "report.publish", o.Publish, "Publish completed records to the MQTT broker.")
	fs.BoolVar(&o.Archive, "report.archive", o.Archive, "Archive completed records and session logs to object storage.")
}
