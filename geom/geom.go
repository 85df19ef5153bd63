// Package geom provides the small amount of 3D geometry the gravity engine
// needs: rigid transforms, axis-aligned boxes and the voxel lattice.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Zero is the zero vector.
var Zero = r3.Vec{}

// Transform is a rigid transform: rotate, then translate.
type Transform struct {
	Rot r3.Rotation
	Pos r3.Vec
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Rot: r3.Rotation{Real: 1}}
}

// NewTransform builds a transform from a rotation of alpha radians about axis
// followed by a translation to pos. A zero axis yields no rotation.
func NewTransform(alpha float64, axis, pos r3.Vec) Transform {
	if alpha == 0 || r3.Norm2(axis) == 0 {
		return Transform{Rot: r3.Rotation{Real: 1}, Pos: pos}
	}
	return Transform{Rot: r3.NewRotation(alpha, r3.Unit(axis)), Pos: pos}
}

// rot returns the rotation, treating the zero quaternion as identity so a
// zero Transform behaves like Identity().
func (t Transform) rot() r3.Rotation {
	if t.Rot == (r3.Rotation{}) {
		return r3.Rotation{Real: 1}
	}
	return t.Rot
}

// Apply maps a local point to world space.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.rot().Rotate(p), t.Pos)
}

// ApplyDir maps a local direction to world space (no translation).
func (t Transform) ApplyDir(v r3.Vec) r3.Vec {
	return t.rot().Rotate(v)
}

// InverseApply maps a world point to local space.
func (t Transform) InverseApply(p r3.Vec) r3.Vec {
	return t.inverseRot().Rotate(r3.Sub(p, t.Pos))
}

// InverseApplyDir maps a world direction to local space.
func (t Transform) InverseApplyDir(v r3.Vec) r3.Vec {
	return t.inverseRot().Rotate(v)
}

func (t Transform) inverseRot() r3.Rotation {
	return r3.Rotation(quat.Conj(quat.Number(t.rot())))
}

// Rotated returns t with an extra rotation of alpha radians about the
// world-space axis applied on top of its current rotation.
func (t Transform) Rotated(alpha float64, axis r3.Vec) Transform {
	if alpha == 0 || r3.Norm2(axis) == 0 {
		return t
	}
	delta := quat.Number(r3.NewRotation(alpha, r3.Unit(axis)))
	q := quat.Mul(delta, quat.Number(t.rot()))
	// Renormalize to keep drift from accumulating over many ticks.
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	t.Rot = r3.Rotation(q)
	return t
}

// AABB is an axis-aligned box. The zero value is not empty; use EmptyAABB
// for an accumulator.
type AABB struct {
	Min, Max r3.Vec
}

// EmptyAABB returns a box that contains nothing and absorbs any Union.
func EmptyAABB() AABB {
	inf := math.Inf(1)
	return AABB{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

// BoxAround returns the box centred on c with the given half extents.
func BoxAround(c, half r3.Vec) AABB {
	return AABB{Min: r3.Sub(c, half), Max: r3.Add(c, half)}
}

// Empty reports whether the box contains no points.
func (b AABB) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Contains reports whether p lies inside b, boundary included.
func (b AABB) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Overlaps reports whether the two boxes share at least one point.
func (b AABB) Overlaps(o AABB) bool {
	if b.Empty() || o.Empty() {
		return false
	}
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// Union returns the smallest box enclosing both.
func (b AABB) Union(o AABB) AABB {
	return AABB{
		Min: r3.Vec{X: math.Min(b.Min.X, o.Min.X), Y: math.Min(b.Min.Y, o.Min.Y), Z: math.Min(b.Min.Z, o.Min.Z)},
		Max: r3.Vec{X: math.Max(b.Max.X, o.Max.X), Y: math.Max(b.Max.Y, o.Max.Y), Z: math.Max(b.Max.Z, o.Max.Z)},
	}
}

// Include grows the box to contain p.
func (b AABB) Include(p r3.Vec) AABB {
	return b.Union(AABB{Min: p, Max: p})
}

// Center returns the box centre.
func (b AABB) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Corners returns the eight corners of the box.
func (b AABB) Corners() [8]r3.Vec {
	return [8]r3.Vec{
		{X: b.Min.X, Y: b.Min.Y, Z: b.Min.Z},
		{X: b.Max.X, Y: b.Min.Y, Z: b.Min.Z},
		{X: b.Min.X, Y: b.Max.Y, Z: b.Min.Z},
		{X: b.Max.X, Y: b.Max.Y, Z: b.Min.Z},
		{X: b.Min.X, Y: b.Min.Y, Z: b.Max.Z},
		{X: b.Max.X, Y: b.Min.Y, Z: b.Max.Z},
		{X: b.Min.X, Y: b.Max.Y, Z: b.Max.Z},
		{X: b.Max.X, Y: b.Max.Y, Z: b.Max.Z},
	}
}

// Transformed returns the world-space AABB of the oriented box obtained by
// applying t to b.
func (b AABB) Transformed(t Transform) AABB {
	if b.Empty() {
		return b
	}
	out := EmptyAABB()
	for _, c := range b.Corners() {
		out = out.Include(t.Apply(c))
	}
	return out
}

// Voxel is an integer lattice cell in frame-local space.
type Voxel struct {
	X, Y, Z int32
}

// VoxelOf returns the cell containing p.
func VoxelOf(p r3.Vec) Voxel {
	return Voxel{
		X: int32(math.Floor(p.X)),
		Y: int32(math.Floor(p.Y)),
		Z: int32(math.Floor(p.Z)),
	}
}

// Point returns the cell's integer corner.
func (v Voxel) Point() r3.Vec {
	return r3.Vec{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

// NearlyEqual reports whether a and b differ by at most tol on every axis.
func NearlyEqual(a, b r3.Vec, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol && math.Abs(a.Z-b.Z) <= tol
}
