package tether

import "github.com/zoobzio/capitan"

// Field keys for binder events.
var (
	// KeyOldStatus is the cell status before a transition.
	KeyOldStatus = capitan.NewStringKey("old_status")

	// KeyNewStatus is the cell status after a transition.
	KeyNewStatus = capitan.NewStringKey("new_status")

	// KeyError is the error message when a fetch or subscription fails.
	KeyError = capitan.NewStringKey("error")

	// KeyGeneration is the binder generation an event belongs to.
	KeyGeneration = capitan.NewIntKey("generation")

	// KeySource is the fetch or listen source.
	KeySource = capitan.NewStringKey("source")

	// KeyDuration is how long a fetch took.
	KeyDuration = capitan.NewDurationKey("duration")

	// KeyReference is the bound reference, formatted with %v.
	KeyReference = capitan.NewStringKey("reference")
)
