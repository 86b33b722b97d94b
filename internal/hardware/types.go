// Package hardware implements the Hardware Registry (C1): a process
// singleton that constructs hardware abstractions exactly once in a fixed
// dependency order and tears them down in the exact reverse order.
//
// Generalized from the teacher's bpf.Objects Load()/Close() lifecycle: a
// single struct owns every hardware handle, validates that everything
// required came up, and exposes one Close()/Cleanup() that releases
// resources in reverse construction order, tolerant of partial failure.
//
// Per spec.md §9's redesign note on "dynamic duck-typed sensor drivers",
// every device is a variant behind a single capability interface rather
// than an ad hoc struct per driver; an optional device that failed to come
// up stays registered and Registry.Healthy reports false for it, never a
// missing field.
package hardware

import "context"

// Component is the capability interface every hardware device implements:
// Name, Initialize, Cleanup and Healthy. Reading is not part of it; sensor
// reads go through sensors.Reader.
type Component interface {
	// Name is the stable identifier used in config's required/optional
	// component lists and in log lines.
	Name() string

	// Initialize brings the device up. Idempotent: calling it again after
	// a successful call is a no-op that returns nil.
	Initialize(ctx context.Context) error

	// Cleanup releases the device's resources. Safe to call multiple
	// times and safe to call on a device that never finished Initialize.
	Cleanup() error

	// Healthy reports whether the device initialized successfully and
	// has not been marked failed since.
	Healthy() bool
}

// Classification distinguishes hardware that must come up for the process
// to start from hardware whose absence is merely logged.
type Classification int

const (
	Required Classification = iota
	Optional
)
