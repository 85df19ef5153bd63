// Package field implements the per-frame sparse gravity field: the sources a
// frame owns, the canonical regions that memoize their combined vector, and
// the voxel cache that maps lattice cells to regions.
package field

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/geom"
)

// SourceID identifies a field source. IDs are assigned by the host and are
// stable for the life of the source.
type SourceID uint64

// FrameID identifies a rigid frame (a ship).
type FrameID uint64

// Kind selects the shape of a source.
type Kind uint8

const (
	// KindDirectional is a box-shaped field pulling along a fixed local
	// direction. Its contribution is constant per voxel and cacheable.
	KindDirectional Kind = iota
	// KindRadial is a sphere pulling towards its centre. Its contribution
	// varies with the exact sample point and is never cached.
	KindRadial
)

func (k Kind) String() string {
	switch k {
	case KindDirectional:
		return "directional"
	case KindRadial:
		return "radial"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Directional holds the shape fields of a KindDirectional source.
type Directional struct {
	Extent r3.Vec // full field size along each local axis
	Down   r3.Vec // unit pull direction in frame-local space
}

// Radial holds the shape fields of a KindRadial source.
type Radial struct {
	Radius float64
}

// Source is a single field-producing unit. Only the shape struct matching
// Kind is meaningful.
type Source struct {
	ID       SourceID
	Frame    FrameID
	Kind     Kind
	Position r3.Vec // frame-local
	Strength float64
	Enabled  bool

	Directional Directional
	Radial      Radial
}

// Active reports whether the source currently contributes anything.
func (s *Source) Active() bool {
	return s.Enabled && s.Strength != 0
}

// Box returns the source's coverage box in frame-local space, expanded by
// margin on every side so voxels on the boundary do not flicker in and out.
func (s *Source) Box(margin float64) geom.AABB {
	var half r3.Vec
	switch s.Kind {
	case KindRadial:
		r := s.Radial.Radius
		half = r3.Vec{X: r, Y: r, Z: r}
	default:
		half = r3.Scale(0.5, s.Directional.Extent)
	}
	half = r3.Add(half, r3.Vec{X: margin, Y: margin, Z: margin})
	return geom.BoxAround(s.Position, half)
}

// directionalVector is the cacheable contribution of a directional source.
func (s *Source) directionalVector() r3.Vec {
	if !s.Active() {
		return r3.Vec{}
	}
	return r3.Scale(s.Strength, s.Directional.Down)
}

// radialVector is the contribution of a radial source at local point p.
// Points at the exact centre get nothing since the pull direction is undefined.
func (s *Source) radialVector(p r3.Vec) r3.Vec {
	if !s.Active() {
		return r3.Vec{}
	}
	to := r3.Sub(s.Position, p)
	d2 := r3.Norm2(to)
	if d2 == 0 || d2 > s.Radial.Radius*s.Radial.Radius {
		return r3.Vec{}
	}
	return r3.Scale(s.Strength, r3.Unit(to))
}
