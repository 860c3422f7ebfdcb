package visualodometry

import (
	"github.com/pkg/errors"

	"github.com/viamrobotics/viam-visual-odometry/pose"
)

var (
	// ErrInsufficientFrames is returned when fewer than two frames are given.
	ErrInsufficientFrames = errors.New("at least two frames are required")
	// ErrInsufficientCorrespondences marks a pair skipped for lack of correspondences.
	ErrInsufficientCorrespondences = pose.ErrInsufficientCorrespondences
	// ErrDegenerateGeometry marks a pair skipped because its correspondences do not determine a pose.
	ErrDegenerateGeometry = pose.ErrDegenerateGeometry
	// ErrEmptyTrajectory is returned when no pair produced a pose.
	ErrEmptyTrajectory = errors.New("no relative pose could be estimated")
)

// isPairwise reports whether err only invalidates the pair it was returned for.
func isPairwise(err error) bool {
	return errors.Is(err, ErrInsufficientCorrespondences) || errors.Is(err, ErrDegenerateGeometry)
}
