package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions abstracts the option tree of an application.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields derived from other fields.
	Complete() error

	// Validate returns an aggregate of every validation error.
	Validate() error
}
