package grasscull

import "errors"

// Configuration errors. Fatal for one render group only: the group is skipped and logged.
var (
	ErrEmptyGroup      = errors.New("render group has no instances")
	ErrMissingMesh     = errors.New("prototype has no mesh binding")
	ErrMissingMaterial = errors.New("prototype has no material binding")
)

// ErrDevice marks allocation, dispatch and submission failures. Fatal for the whole
// pipeline; callers must tear it down and rebuild. Never retried.
var ErrDevice = errors.New("gpu device error")

// ErrReleased is returned when a frame is requested on a torn-down pipeline.
var ErrReleased = errors.New("pipeline released")

// IsGroupError reports whether err only disqualifies a single render group.
func IsGroupError(err error) bool {
	return errors.Is(err, ErrEmptyGroup) ||
		errors.Is(err, ErrMissingMesh) ||
		errors.Is(err, ErrMissingMaterial)
}
