// Package properties models the process supervisor's property surface:
// a flat namespace of named string values with per-key write serials.
//
// The daemon's run state is published under "init.svc.<service>" and
// start/stop requests are written to the "ctl.start"/"ctl.stop" control
// keys. Serials let a reader distinguish "this key was never written"
// from "this key was rewritten with the same value", which matters when
// waiting for a service that may start and die again immediately.
package properties

import "context"

// Control keys understood by the supervisor.
const (
	CtlStart = "ctl.start"
	CtlStop  = "ctl.stop"
)

// StatusKey returns the property key holding the run state of a service.
func StatusKey(service string) string {
	return "init.svc." + service
}

// Well-known status values reported under a service's status key.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Store reads and writes supervisor properties.
type Store interface {
	// Get returns the current value of key, reporting whether the key
	// has ever been set.
	Get(ctx context.Context, key string) (string, bool)

	// Set writes value under key. Writes to the control keys are
	// requests to the supervisor, not plain storage.
	Set(ctx context.Context, key, value string) error

	// Find returns a handle to key if the key exists. The handle's
	// serial changes on every subsequent write to the key.
	Find(ctx context.Context, key string) (Handle, bool)
}

// Handle is a reference to a single property, carrying a write serial.
type Handle interface {
	// Serial returns the generation counter of the property. Two calls
	// return different values iff the property was written in between.
	Serial(ctx context.Context) (uint64, error)

	// Read returns the current value of the property.
	Read(ctx context.Context) (string, bool)
}
