package sim

import (
	"fmt"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/forces"
	"github.com/pthm-cable/gdrive/geom"
)

// shipHandle is the forces.RigidFrame of a ship entity.
type shipHandle struct {
	w *World
	e ecs.Entity
}

func (h shipHandle) Transform() geom.Transform {
	return h.w.poseMap.Get(h.e).Transform
}

func (h shipHandle) CenterOfMass() r3.Vec {
	in := h.w.inertiaMap.Get(h.e)
	return h.w.poseMap.Get(h.e).Transform.Apply(in.LocalCOM)
}

func (h shipHandle) AcceptsForces() bool {
	return !h.w.shipMap.Get(h.e).Static
}

func (h shipHandle) ApplyForceAt(force, point r3.Vec) error {
	if !h.w.world.Alive(h.e) {
		return fmt.Errorf("ship entity gone: %w", forces.ErrNoHandle)
	}
	acc := h.w.accumMap.Get(h.e)
	acc.Force = r3.Add(acc.Force, force)
	acc.Torque = r3.Add(acc.Torque, r3.Cross(r3.Sub(point, h.CenterOfMass()), force))
	return nil
}

// blockHandle exposes a ship's block to the orchestrator. Its force is
// always reduced into the ship, so the direct apply methods refuse.
type blockHandle struct {
	w *World
	e ecs.Entity
}

func (h *blockHandle) State() (forces.BodyState, error) {
	if !h.w.world.Alive(h.e) {
		return forces.BodyState{}, fmt.Errorf("block entity gone: %w", forces.ErrNoHandle)
	}
	b := h.w.blockMapper.Get(h.e)
	tr, ok := h.w.FrameTransform(b.Frame)
	if !ok {
		return forces.BodyState{}, fmt.Errorf("block of closed ship %d: %w", b.Frame, forces.ErrNoHandle)
	}
	return forces.BodyState{
		ID:       forces.BodyID(h.e.ID()),
		WorldPos: tr.Apply(b.Local),
		Mass:     b.Mass,
		Owned:    true,
		Frame:    b.Frame,
		LocalPos: b.Local,
	}, nil
}

func (h *blockHandle) ApplyForce(r3.Vec) error {
	return fmt.Errorf("block %d is frame-owned", h.e.ID())
}

func (h *blockHandle) ApplyAcceleration(r3.Vec) error {
	return fmt.Errorf("block %d is frame-owned", h.e.ID())
}

// particleHandle exposes a free body.
type particleHandle struct {
	w *World
	e ecs.Entity
}

func (h *particleHandle) State() (forces.BodyState, error) {
	if !h.w.world.Alive(h.e) {
		return forces.BodyState{}, fmt.Errorf("particle entity gone: %w", forces.ErrNoHandle)
	}
	p := h.w.particleMap.Get(h.e)
	return forces.BodyState{
		ID:       forces.BodyID(h.e.ID()),
		WorldPos: p.Position,
		Mass:     p.Mass,
	}, nil
}

func (h *particleHandle) ApplyForce(f r3.Vec) error {
	if !h.w.world.Alive(h.e) {
		return fmt.Errorf("particle entity gone: %w", forces.ErrNoHandle)
	}
	acc := h.w.accumMap.Get(h.e)
	acc.Force = r3.Add(acc.Force, f)
	return nil
}

func (h *particleHandle) ApplyAcceleration(a r3.Vec) error {
	if !h.w.world.Alive(h.e) {
		return fmt.Errorf("particle entity gone: %w", forces.ErrNoHandle)
	}
	acc := h.w.accumMap.Get(h.e)
	acc.Accel = r3.Add(acc.Accel, a)
	return nil
}
