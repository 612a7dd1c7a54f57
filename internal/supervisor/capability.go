// Package supervisor implements the engine described in spec.md § 4.1:
// ordered startup with rollback, multi-source shutdown fan-in, and
// reverse-order teardown. It knows nothing about os/exec, YAML, or
// signals — it only drives the StartProcess/ManageProcess capabilities
// handed to it, exactly as spec.md § 9's capability-abstraction design
// note describes.
package supervisor

import "context"

// StartProcess is the capability an external collaborator implements
// to start one process. Runs pre synchronously, launches run (if
// present) detached, wires notify so the caller learns of unexpected
// exit, and returns a handle. See spec.md § 4.2.
type StartProcess interface {
	Start(ctx context.Context, notify chan<- struct{}) (ManageProcess, error)
}

// ManageProcess is the capability an external collaborator implements
// to stop a started process: apply the stop descriptor (if a daemon),
// wait for exit, run post. Consuming — call Stop at most once per
// handle. See spec.md § 4.3.
type ManageProcess interface {
	Stop(ctx context.Context) error
}

// Named associates a StartProcess with the process name it was
// configured from, purely for log correlation — the engine does not
// otherwise interpret names (spec.md § 4.1's tie-breaks: duplicate
// names are not deduplicated).
type Named interface {
	StartProcess
	Name() string
}
