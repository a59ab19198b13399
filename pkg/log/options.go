// Copyright 2025 The Carthingy Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var formats = []string{"console", "json"}

// Options configures the carthingy logger. Every field can also be set from the
// config file under "log" or from CARTHINGY_LOG_* environment variables.
type Options struct {
	// Level is the minimum level written: debug, info, warn or error.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format is console or json.
	Format string `json:"format,omitempty" mapstructure:"format"`

	// EnableColor colors levels in console format.
	EnableColor bool `json:"enable-color,omitempty" mapstructure:"enable-color"`

	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// OutputPaths defaults to stderr; stdout carries query results.
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions returns defaults suited to an interactive CLI: warnings and errors only,
// colored when stderr is a terminal.
func NewOptions() *Options {
	return &Options{
		Level:       "warn",
		Format:      "console",
		EnableColor: term.IsTerminal(int(os.Stderr.Fd())),
		OutputPaths: []string{"stderr"},
	}
}

func (o *Options) Validate() []error {
	var errs []error
	if _, err := zapcore.ParseLevel(o.Level); err != nil {
		errs = append(errs, fmt.Errorf("--log.level: %w", err))
	}
	if !slices.Contains(formats, o.Format) {
		errs = append(errs, fmt.Errorf("--log.format must be one of %v, got %q", formats, o.Format))
	}
	if len(o.OutputPaths) == 0 {
		errs = append(errs, fmt.Errorf("--log.output-paths must not be empty"))
	}
	return errs
}

// AddFlags binds command-line flags to the Options fields.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum log level: debug, info, warn or error. Use info to follow sessions and sinks.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Log format: console or json.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Color log levels in console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit the file and line of the logging call.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log destinations: stderr, stdout or file paths.")
}
