package boundary

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch covers timeouts, non-2xx responses and malformed bodies.
	// It is always recovered locally as "geometry unavailable".
	ErrFetch = errors.New("geometry fetch failed")

	// ErrGeometryParse marks a single malformed feature; the feature is skipped.
	ErrGeometryParse = errors.New("malformed feature geometry")

	ErrCoordinateInvalid = errors.New("coordinate out of range")
	ErrDegenerate        = errors.New("degenerate geometry")
	ErrSelfIntersecting  = errors.New("self-intersecting geometry")
	ErrAreaOutOfBounds   = errors.New("area out of bounds")

	// ErrGEOS wraps a failure raised inside the GEOS library.
	ErrGEOS = errors.New("geos operation failed")

	// ErrInvalidRecord marks an input line missing required fields.
	ErrInvalidRecord = errors.New("invalid candidate record")

	// ErrConfig is the only error class that stops a run before it starts.
	ErrConfig = errors.New("invalid configuration")
)

var issueLabels = map[error]string{
	ErrFetch:             "GeometryUnavailable",
	ErrGeometryParse:     "GeometryParse",
	ErrCoordinateInvalid: "CoordinateInvalid",
	ErrDegenerate:        "Degenerate",
	ErrSelfIntersecting:  "SelfIntersecting",
	ErrAreaOutOfBounds:   "AreaOutOfBounds",
}

// ValidationError is one finding of a geometric check. Its message is the
// issue string recorded in ValidationResult.Issues.
type ValidationError struct {
	Kind   error // one of the Err* sentinels above
	Detail string
}

func newValidationError(kind error, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	label, ok := issueLabels[e.Kind]
	if !ok {
		label = e.Kind.Error()
	}
	return label + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error { return e.Kind }
