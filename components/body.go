package components

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/field"
)

// Block is a mass rigidly attached to a ship. The field acting on it is
// reduced into a single force on the ship.
type Block struct {
	Frame field.FrameID
	Local r3.Vec // frame-local position
	Mass  float64
}

// Particle is a free body that moves on its own.
type Particle struct {
	Position r3.Vec
	Velocity r3.Vec
	Mass     float64 // 0 means the field acts as an acceleration
}

// MassProperties derives a ship's Inertia from its blocks. Ships without
// massive blocks get unit mass and moment so integration stays finite.
func MassProperties(blocks []Block) Inertia {
	var in Inertia
	var weighted r3.Vec
	for _, b := range blocks {
		in.Mass += b.Mass
		weighted = r3.Add(weighted, r3.Scale(b.Mass, b.Local))
	}
	if in.Mass <= 0 {
		return Inertia{Mass: 1, Moment: 1}
	}
	in.LocalCOM = r3.Scale(1/in.Mass, weighted)
	for _, b := range blocks {
		in.Moment += b.Mass * r3.Norm2(r3.Sub(b.Local, in.LocalCOM))
	}
	// A single block or a tight cluster would otherwise spin freely.
	if in.Moment < in.Mass {
		in.Moment = in.Mass
	}
	return in
}
