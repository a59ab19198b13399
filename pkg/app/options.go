package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions is implemented by a command's root options struct.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section for help output.
	Flags() cliflag.NamedFlagSets

	// Complete fills in derived fields after flags and config are loaded.
	Complete() error

	// Validate returns an aggregate of every option problem.
	Validate() error
}
