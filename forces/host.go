package forces

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/geom"
	"github.com/pthm-cable/gdrive/gravity"
)

// ErrNoHandle is returned (possibly wrapped) by hosts when a body or frame
// has no usable physics handle this tick.
var ErrNoHandle = errors.New("no physics handle")

// BodyID identifies an affected body.
type BodyID uint64

// BodyState is the per-tick snapshot of an affected body.
type BodyState struct {
	ID       BodyID
	WorldPos r3.Vec
	Mass     float64 // 0 means the field is committed as an acceleration
	// Disabled bodies are kept in their frame's layout but feel no field.
	Disabled bool

	// Owned bodies belong to Frame and contribute to its reduced force;
	// LocalPos is their frame-local position.
	Owned    bool
	Frame    field.FrameID
	LocalPos r3.Vec
}

// Body is an affected body supplied by the host.
type Body interface {
	// State snapshots the body. An error skips it for this tick.
	State() (BodyState, error)
	// ApplyForce commits a world-space force at the body's position.
	// Only called for bodies that are not frame-owned.
	ApplyForce(f r3.Vec) error
	// ApplyAcceleration commits a world-space acceleration for massless
	// bodies that are not frame-owned.
	ApplyAcceleration(a r3.Vec) error
}

// RigidFrame is the host's physics handle for a frame.
type RigidFrame interface {
	Transform() geom.Transform
	CenterOfMass() r3.Vec // world space
	// AcceptsForces is false for static or kinematic frames.
	AcceptsForces() bool
	// ApplyForceAt commits a world-space force at a world-space point.
	ApplyForceAt(force, point r3.Vec) error
}

// Host resolves frames for the orchestrator.
type Host interface {
	gravity.TransformSource
	RigidFrame(id field.FrameID) (RigidFrame, error)
}
