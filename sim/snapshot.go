package sim

import (
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/telemetry"
)

// Snapshot captures every live ship and free body, ordered by frame ID.
func (w *World) Snapshot(tick uint64) *telemetry.Snapshot {
	sources := make(map[field.FrameID]int, len(w.ships))
	for _, src := range w.sources {
		sources[src.Frame]++
	}

	snap := &telemetry.Snapshot{
		Version:  telemetry.SnapshotVersion,
		Scenario: w.name,
		Tick:     tick,
	}

	q := w.shipFilter.Query()
	for q.Next() {
		ship, pose, motion, in, _ := q.Get()
		rot := pose.Transform.Rot
		if rot == (r3.Rotation{}) {
			rot.Real = 1
		}
		snap.Ships = append(snap.Ships, telemetry.ShipState{
			Frame:           uint64(ship.Frame),
			Name:            ship.Name,
			Static:          ship.Static,
			Position:        vec3(pose.Transform.Pos),
			Rotation:        [4]float64{rot.Real, rot.Imag, rot.Jmag, rot.Kmag},
			Velocity:        vec3(motion.Linear),
			AngularVelocity: vec3(motion.Angular),
			CenterOfMass:    vec3(pose.Transform.Apply(in.LocalCOM)),
			Mass:            in.Mass,
			Sources:         sources[ship.Frame],
		})
	}
	slices.SortFunc(snap.Ships, func(a, b telemetry.ShipState) int {
		switch {
		case a.Frame < b.Frame:
			return -1
		case a.Frame > b.Frame:
			return 1
		}
		return 0
	})

	pq := w.particleFilter.Query()
	for pq.Next() {
		p, _ := pq.Get()
		snap.Particles = append(snap.Particles, telemetry.ParticleState{
			ID:       uint64(pq.Entity().ID()),
			Position: vec3(p.Position),
			Velocity: vec3(p.Velocity),
			Mass:     p.Mass,
		})
	}
	return snap
}

func vec3(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
