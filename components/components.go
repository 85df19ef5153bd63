// Package components defines ECS components for the reference host.
package components

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/geom"
)

// Ship identifies a rigid frame entity.
type Ship struct {
	Frame  field.FrameID
	Name   string
	Static bool // static ships never move and refuse forces
}

// Pose is a ship's world transform.
type Pose struct {
	Transform geom.Transform
}

// Motion holds a ship's linear velocity (of its centre of mass) and
// angular velocity (axis times rad/s), both in world space.
type Motion struct {
	Linear  r3.Vec
	Angular r3.Vec
}

// Inertia holds a ship's mass properties, derived from its blocks.
type Inertia struct {
	Mass     float64
	Moment   float64 // scalar moment of inertia about LocalCOM
	LocalCOM r3.Vec
}

// Accum collects forces applied during a tick. It is cleared by integration.
type Accum struct {
	Force  r3.Vec
	Torque r3.Vec // about the centre of mass, ships only
	Accel  r3.Vec // massless free bodies only
}

// Clear resets the accumulator.
func (a *Accum) Clear() {
	*a = Accum{}
}
