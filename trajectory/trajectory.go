// Package trajectory composes relative camera motions into a global path.
package trajectory

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-visual-odometry/internal/twoview"
	"github.com/viamrobotics/viam-visual-odometry/pose"
)

// Integrator accumulates relative poses. It starts at the origin with the identity orientation
// and is not safe for concurrent use.
type Integrator struct {
	rotation   *mat.Dense
	position   r3.Vector
	trajectory []r3.Vector
}

// NewIntegrator returns an Integrator whose trajectory holds only the origin.
func NewIntegrator() *Integrator {
	return &Integrator{
		rotation:   twoview.Eye(3),
		trajectory: []r3.Vector{{}},
	}
}

// Integrate composes rel onto the current state, rotation first, then translation expressed in
// the updated orientation, and appends the new position to the trajectory.
func (in *Integrator) Integrate(rel *pose.RelativePose) r3.Vector {
	var rot mat.Dense
	rot.Mul(in.rotation, rel.Rotation)
	in.rotation = &rot
	in.position = in.position.Add(twoview.MulVec(in.rotation, rel.Translation()))
	in.trajectory = append(in.trajectory, in.position)
	return in.position
}

// Position returns the current position.
func (in *Integrator) Position() r3.Vector {
	return in.position
}

// Rotation returns a copy of the current cumulative rotation.
func (in *Integrator) Rotation() *mat.Dense {
	return mat.DenseCopyOf(in.rotation)
}

// Trajectory returns a copy of every position so far, starting with the origin.
func (in *Integrator) Trajectory() []r3.Vector {
	out := make([]r3.Vector, len(in.trajectory))
	copy(out, in.trajectory)
	return out
}

// Len returns the number of positions in the trajectory.
func (in *Integrator) Len() int {
	return len(in.trajectory)
}
