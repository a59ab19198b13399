package options

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HistoryOptions)(nil)

// HistoryOptions configures the local database finished sessions are kept in.
type HistoryOptions struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Path of the SQLite file. ":memory:" keeps history for the process lifetime only.
	Path string `json:"path" mapstructure:"path"`
}

// NewHistoryOptions creates a HistoryOptions object with default parameters.
func NewHistoryOptions() *HistoryOptions {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = "."
	}
	return &HistoryOptions{
		Enabled: true,
		Path:    filepath.Join(dir, ".carthingy", "history.db"),
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HistoryOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	if o.Path == "" {
		return []error{errors.New("--history.path must not be empty")}
	}
	return nil
}

// AddFlags adds flags for the history database to the specified FlagSet.
func (o *HistoryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "history.enabled", o.Enabled, "Record finished sessions in the local history database.")
	fs.StringVar(&o.Path, "history.path", o.Path, "Path of the SQLite history database.")
}
