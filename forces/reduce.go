// Package forces turns sampled field vectors into forces and commits them:
// the reducer that folds many point forces into one, and the per-tick
// orchestrator that drives Collect, Reduce, Apply and Reset.
package forces

import "gonum.org/v1/gonum/spatial/r3"

// DefaultEpsilon is the squared net-force magnitude at or below which a
// reduction is treated as zero.
const DefaultEpsilon = 1e-12

// Sample is a force acting at a frame-local position.
type Sample struct {
	Pos   r3.Vec
	Force r3.Vec
}

// Wrench accumulates net force and net moment about the local origin.
type Wrench struct {
	Force  r3.Vec
	Moment r3.Vec
}

// Add folds s into w.
func (w *Wrench) Add(s Sample) {
	w.Force = r3.Add(w.Force, s.Force)
	w.Moment = r3.Add(w.Moment, r3.Cross(s.Pos, s.Force))
}

// Plus returns the sum of two wrenches about the same origin.
func (w Wrench) Plus(o Wrench) Wrench {
	return Wrench{Force: r3.Add(w.Force, o.Force), Moment: r3.Add(w.Moment, o.Moment)}
}

// Resolve returns the net force and the point closest to the origin at
// which applying it alone reproduces the moment component perpendicular to
// the force. The component parallel to the force (pure twist) is dropped.
// ok is false, with zero results, when |force|² <= eps.
func (w Wrench) Resolve(eps float64) (force, point r3.Vec, ok bool) {
	n2 := r3.Norm2(w.Force)
	if n2 <= eps {
		return r3.Vec{}, r3.Vec{}, false
	}
	return w.Force, r3.Scale(1/n2, r3.Cross(w.Force, w.Moment)), true
}

// Reduce collapses samples into one equivalent force and application point.
// It is the slice form of Wrench.Add followed by Resolve; callers that cache
// partial sums, like the orchestrator, keep a Wrench instead.
func Reduce(samples []Sample, eps float64) (force, point r3.Vec) {
	var w Wrench
	for _, s := range samples {
		w.Add(s)
	}
	force, point, _ = w.Resolve(eps)
	return force, point
}
