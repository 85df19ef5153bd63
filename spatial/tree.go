// Package spatial provides the per-tick bounding-volume tree used to find the
// frames whose field may reach a world point or box.
package spatial

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/geom"
)

// leafSize is the maximum number of entries stored in a leaf.
const leafSize = 4

// Entry is one frame's world-space field box.
type Entry struct {
	Frame field.FrameID
	Box   geom.AABB
}

type node struct {
	box         geom.AABB
	left, right int32 // child node indices, -1 for leaves
	start, end  int32 // entry range for leaves
}

// Tree is a bounding-volume tree over frame boxes. It is rebuilt wholesale
// every tick and may be queried concurrently between rebuilds.
type Tree struct {
	entries []Entry
	nodes   []node
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// Len returns the number of indexed entries.
func (t *Tree) Len() int { return len(t.entries) }

// Bounds returns the box enclosing every entry.
func (t *Tree) Bounds() geom.AABB {
	if len(t.nodes) == 0 {
		return geom.EmptyAABB()
	}
	return t.nodes[0].box
}

// Rebuild replaces the contents of the tree. Entries with empty boxes are
// dropped. Storage from the previous tick is reused.
func (t *Tree) Rebuild(entries []Entry) {
	t.entries = t.entries[:0]
	for _, e := range entries {
		if !e.Box.Empty() {
			t.entries = append(t.entries, e)
		}
	}
	t.nodes = t.nodes[:0]
	if len(t.entries) == 0 {
		return
	}
	t.build(0, len(t.entries))
}

// build creates the node covering entries[start:end] and returns its index.
// Inner nodes split at the median centroid along the longest centroid axis.
func (t *Tree) build(start, end int) int32 {
	box := geom.EmptyAABB()
	centroids := geom.EmptyAABB()
	for _, e := range t.entries[start:end] {
		box = box.Union(e.Box)
		centroids = centroids.Include(e.Box.Center())
	}

	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{box: box, left: -1, right: -1, start: int32(start), end: int32(end)})
	if end-start <= leafSize {
		return idx
	}

	axis := longestAxis(centroids)
	part := t.entries[start:end]
	sort.Slice(part, func(i, j int) bool {
		return component(part[i].Box.Center(), axis) < component(part[j].Box.Center(), axis)
	})
	mid := start + (end-start)/2

	left := t.build(start, mid)
	right := t.build(mid, end)
	t.nodes[idx].left = left
	t.nodes[idx].right = right
	return idx
}

// QueryPoint appends every entry whose box contains p, skipping the frame
// exclude, and returns the updated slice. Pass nil for no exclusion. Reuse
// dst across calls to avoid allocations.
func (t *Tree) QueryPoint(dst []Entry, p r3.Vec, exclude *field.FrameID) []Entry {
	if len(t.nodes) == 0 {
		return dst
	}
	return t.walk(dst, 0, exclude, func(b geom.AABB) bool { return b.Contains(p) })
}

// QueryBox appends every entry whose box overlaps box, skipping the frame
// exclude.
func (t *Tree) QueryBox(dst []Entry, box geom.AABB, exclude *field.FrameID) []Entry {
	if len(t.nodes) == 0 || box.Empty() {
		return dst
	}
	return t.walk(dst, 0, exclude, func(b geom.AABB) bool { return b.Overlaps(box) })
}

func (t *Tree) walk(dst []Entry, idx int32, exclude *field.FrameID, hit func(geom.AABB) bool) []Entry {
	n := &t.nodes[idx]
	if !hit(n.box) {
		return dst
	}
	if n.left < 0 {
		for _, e := range t.entries[n.start:n.end] {
			if exclude != nil && e.Frame == *exclude {
				continue
			}
			if hit(e.Box) {
				dst = append(dst, e)
			}
		}
		return dst
	}
	dst = t.walk(dst, n.left, exclude, hit)
	return t.walk(dst, n.right, exclude, hit)
}

func longestAxis(b geom.AABB) int {
	dx := b.Max.X - b.Min.X
	dy := b.Max.Y - b.Min.Y
	dz := b.Max.Z - b.Min.Z
	switch {
	case dx >= dy && dx >= dz:
		return 0
	case dy >= dz:
		return 1
	default:
		return 2
	}
}

func component(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
