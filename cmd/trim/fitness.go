package main

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/components"
	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/forces"
	"github.com/pthm-cable/gdrive/gravity"
	"github.com/pthm-cable/gdrive/scenario"
)

// forcePenalty weighs relative net-force drift against lever-arm length.
const forcePenalty = 10.0

// errNoForce is returned when no source of the ship reaches its blocks.
var errNoForce = errors.New("ship's field exerts no force on its blocks")

// FitnessEvaluator samples a ship's own field on its blocks for candidate
// strength multipliers. The manager is reused between evaluations, so each
// one only dirties the regions of the sources whose strength changed.
// Not safe for concurrent use.
type FitnessEvaluator struct {
	ship   *scenario.Ship
	frame  field.FrameID
	mgr    *gravity.Manager
	base   []field.Source
	com    r3.Vec
	target float64

	samples []forces.Sample
	last    Result
}

// Result is one evaluation's outcome.
type Result struct {
	Fitness  float64
	Force    float64 // net force magnitude
	LeverArm float64 // distance from the centre of mass to the line of action
}

// NewFitnessEvaluator prepares an evaluator for sh. The target force is the
// ship's net force at unit multipliers.
func NewFitnessEvaluator(sh *scenario.Ship, margin float64) (*FitnessEvaluator, error) {
	fe := &FitnessEvaluator{
		ship:  sh,
		frame: field.FrameID(sh.ID),
		mgr:   gravity.NewManager(gravity.Options{Margin: margin}),
	}
	blocks := make([]components.Block, len(sh.Blocks))
	for i, b := range sh.Blocks {
		blocks[i] = components.Block{Local: b.Position.Vec(), Mass: b.Mass}
	}
	fe.com = components.MassProperties(blocks).LocalCOM

	for i := range sh.Sources {
		src := sh.Sources[i].FieldSource(fe.frame)
		fe.base = append(fe.base, src)
		fe.mgr.Push(gravity.SourceAdded(src))
	}
	fe.mgr.Drain()

	force, _ := fe.reduce()
	fe.target = r3.Norm(force)
	if fe.target == 0 {
		return nil, errNoForce
	}
	return fe, nil
}

// Target returns the net force magnitude the trim preserves.
func (fe *FitnessEvaluator) Target() float64 { return fe.target }

// LastResult returns the most recent evaluation.
func (fe *FitnessEvaluator) LastResult() Result { return fe.last }

// Evaluate scores multipliers (lower = better): the lever arm of the reduced
// force about the centre of mass plus a penalty on net-force drift.
func (fe *FitnessEvaluator) Evaluate(mult []float64) float64 {
	for i, src := range fe.base {
		src.Strength *= mult[i]
		fe.mgr.Push(gravity.StrengthChanged(src))
	}
	fe.mgr.Drain()

	force, point := fe.reduce()
	res := Result{Force: r3.Norm(force)}
	if res.Force == 0 {
		res.Fitness = math.Inf(1)
		fe.last = res
		return res.Fitness
	}
	// Distance from the centre of mass to the line of action.
	res.LeverArm = r3.Norm(r3.Cross(r3.Sub(point, fe.com), force)) / res.Force
	res.Fitness = res.LeverArm + forcePenalty*math.Abs(res.Force/fe.target-1)
	fe.last = res
	return res.Fitness
}

func (fe *FitnessEvaluator) reduce() (force, point r3.Vec) {
	fe.samples = fe.samples[:0]
	for _, b := range fe.ship.Blocks {
		local := b.Position.Vec()
		g := fe.mgr.SampleLocal(fe.frame, local)
		fe.samples = append(fe.samples, forces.Sample{Pos: local, Force: r3.Scale(b.Mass, g)})
	}
	return forces.Reduce(fe.samples, forces.DefaultEpsilon)
}
