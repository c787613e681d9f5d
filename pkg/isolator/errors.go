package isolator

import (
	"fmt"
)

// RevisionNotFoundError indicates the requested revision does not resolve in
// the configured repository. This is fatal; nothing was deployed.
type RevisionNotFoundError struct {
	Ref   string
	Cause error
}

func (e *RevisionNotFoundError) Error() string {
	return fmt.Sprintf("revision %q not found: %v", e.Ref, e.Cause)
}

func (e *RevisionNotFoundError) Unwrap() error {
	return e.Cause
}

// OverlayMissingWarning marks a configured overlay path absent from the
// invoking tree. The run proceeds with the revision's own copy.
type OverlayMissingWarning struct {
	Path string
}

func (w *OverlayMissingWarning) Error() string {
	return fmt.Sprintf("overlay path %q missing from the invoking tree", w.Path)
}

// DeploymentStartWarning marks a service that failed to deploy or become
// ready. The run proceeds; availability probing records the actual state.
type DeploymentStartWarning struct {
	Service string
	Cause   error
}

func (w *DeploymentStartWarning) Error() string {
	return fmt.Sprintf("service %q failed to start: %v", w.Service, w.Cause)
}

func (w *DeploymentStartWarning) Unwrap() error {
	return w.Cause
}
