package field

import (
	"fmt"
	"sort"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

// State is the validity of a region's cached vector.
type State uint8

const (
	// Valid means the cached vector is correct and served as-is.
	Valid State = iota
	// Dirty means the member set is still right but a member's strength or
	// enable flag changed; the vector is recomputed in place on next access.
	Dirty
	// Invalid means the member set itself may be wrong; voxels mapped here
	// are re-derived from scratch on next access.
	Invalid
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Dirty:
		return "dirty"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Region memoizes the combined directional vector of one exact set of
// sources. Every voxel covered by that set shares the same Region.
type Region struct {
	sources   []*Source // sorted by ID
	signature uint64
	vector    r3.Vec
	state     State

	lastTouched atomic.Uint64
}

func newRegion(sources []*Source, signature, tick uint64) *Region {
	r := &Region{
		sources:   sources,
		signature: signature,
	}
	r.lastTouched.Store(tick)
	r.recompute()
	return r
}

// recompute sums the member contributions and marks the region Valid.
func (r *Region) recompute() {
	var total r3.Vec
	for _, s := range r.sources {
		total = r3.Add(total, s.directionalVector())
	}
	r.vector = total
	r.state = Valid
}

// touch advances lastTouched to tick; it never moves backwards.
func (r *Region) touch(tick uint64) {
	for {
		cur := r.lastTouched.Load()
		if cur >= tick || r.lastTouched.CompareAndSwap(cur, tick) {
			return
		}
	}
}

func (r *Region) contains(id SourceID) bool {
	i := sort.Search(len(r.sources), func(i int) bool { return r.sources[i].ID >= id })
	return i < len(r.sources) && r.sources[i].ID == id
}

// sameSet compares member identities; both slices are sorted by ID.
func (r *Region) sameSet(sources []*Source) bool {
	if len(r.sources) != len(sources) {
		return false
	}
	for i, s := range r.sources {
		if s.ID != sources[i].ID {
			return false
		}
	}
	return true
}

// State returns the region's validity.
func (r *Region) State() State { return r.state }

// Vector returns the cached directional vector. It may be stale unless the
// region is Valid.
func (r *Region) Vector() r3.Vec { return r.vector }

// Signature returns the hash of the member set.
func (r *Region) Signature() uint64 { return r.signature }

// Sources returns the member IDs in ascending order.
func (r *Region) Sources() []SourceID {
	ids := make([]SourceID, len(r.sources))
	for i, s := range r.sources {
		ids[i] = s.ID
	}
	return ids
}

// LastTouched returns the last tick the region served a sample.
func (r *Region) LastTouched() uint64 { return r.lastTouched.Load() }
