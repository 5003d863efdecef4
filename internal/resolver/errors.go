package resolver

import "errors"

var (
	// ErrNoCandidateInWindow is returned when a dependency's look-back
	// window contains no matching upstream instance.
	ErrNoCandidateInWindow = errors.New("no candidate in window")

	// ErrUnknownDependencyMode is returned for a Dependency.Mode other
	// than all/first/last.
	ErrUnknownDependencyMode = errors.New("unknown dependency mode")
)
