package pose

import "github.com/pkg/errors"

var (
	// ErrInsufficientCorrespondences is returned when too few correspondences are available to
	// estimate a relative pose.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
	// ErrDegenerateGeometry is returned when the correspondences do not determine a relative pose.
	ErrDegenerateGeometry = errors.New("degenerate geometry")
)

// degenerateError is an ErrDegenerateGeometry caused by err. Both stay matchable with errors.Is.
type degenerateError struct {
	err error
}

func degenerate(err error) error {
	return &degenerateError{err: err}
}

func (e *degenerateError) Error() string {
	return ErrDegenerateGeometry.Error() + ": " + e.err.Error()
}

func (e *degenerateError) Is(target error) bool {
	return target == ErrDegenerateGeometry
}

func (e *degenerateError) Unwrap() error {
	return e.err
}
