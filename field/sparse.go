package field

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/geom"
)

// DefaultMargin pads every source box so voxels on a field boundary are
// covered consistently.
const DefaultMargin = 2.5

// Stats summarizes cache behaviour of one field.
type Stats struct {
	Hits       uint64 // served from a Valid region
	Misses     uint64 // voxel had no mapping
	Recomputes uint64 // Dirty region recomputed in place
	Rederives  uint64 // Invalid mapping re-derived
	Evicted    uint64 // voxel mappings dropped by Sweep
	Voxels     int
	Regions    int
	Sources    int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Recomputes += o.Recomputes
	s.Rederives += o.Rederives
	s.Evicted += o.Evicted
	s.Voxels += o.Voxels
	s.Regions += o.Regions
	s.Sources += o.Sources
}

// SparseField owns one frame's sources and its voxel cache.
//
// Sample is safe for concurrent use. The topology methods (AddSource,
// RemoveSource, ...) take the write lock and are meant to run from a single
// goroutine at the tick boundary, never interleaved with a sampling phase.
type SparseField struct {
	frame  FrameID
	margin float64
	notify func(FrameID)

	mu          sync.RWMutex
	sources     map[SourceID]*Source
	directional []*Source // sorted by ID
	radial      []*Source // sorted by ID
	voxels      map[geom.Voxel]*Region
	canon       map[uint64][]*Region
	regions     []*Region
	bounds      geom.AABB
	boundsValid bool

	tick       atomic.Uint64
	hits       atomic.Uint64
	misses     atomic.Uint64
	recomputes atomic.Uint64
	rederives  atomic.Uint64
	evicted    atomic.Uint64
}

// New creates an empty field for frame. notify, if non-nil, is called after
// every topology change so cached intra-frame forces can be dropped.
func New(frame FrameID, margin float64, notify func(FrameID)) *SparseField {
	return &SparseField{
		frame:   frame,
		margin:  margin,
		notify:  notify,
		sources: make(map[SourceID]*Source),
		voxels:  make(map[geom.Voxel]*Region),
		canon:   make(map[uint64][]*Region),
		bounds:  geom.EmptyAABB(),
	}
}

// Frame returns the owning frame.
func (f *SparseField) Frame() FrameID { return f.frame }

// SetTick records the current tick for region age tracking.
func (f *SparseField) SetTick(tick uint64) { f.tick.Store(tick) }

// Sample returns the field vector at a frame-local point.
func (f *SparseField) Sample(local r3.Vec) r3.Vec {
	v := f.directionalAt(geom.VoxelOf(local))
	return r3.Add(v, f.radialAt(local))
}

func (f *SparseField) directionalAt(v geom.Voxel) r3.Vec {
	tick := f.tick.Load()

	f.mu.RLock()
	r, ok := f.voxels[v]
	if ok && r.state == Valid {
		vec := r.vector
		f.mu.RUnlock()
		r.touch(tick)
		f.hits.Add(1)
		return vec
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Re-check: another sampler may have resolved this voxel meanwhile.
	r, ok = f.voxels[v]
	switch {
	case !ok:
		f.misses.Add(1)
		r = f.assign(v, tick)
	case r.state == Valid:
		f.hits.Add(1)
	case r.state == Dirty:
		f.recomputes.Add(1)
		r.recompute()
	default:
		f.rederives.Add(1)
		r = f.assign(v, tick)
	}
	if r == nil {
		return r3.Vec{}
	}
	r.touch(tick)
	return r.vector
}

func (f *SparseField) radialAt(local r3.Vec) r3.Vec {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var total r3.Vec
	for _, s := range f.radial {
		total = r3.Add(total, s.radialVector(local))
	}
	return total
}

// assign derives the covering set for v and maps v to its canonical region.
// Returns nil (and leaves v unmapped) when nothing covers v. Caller holds mu.
func (f *SparseField) assign(v geom.Voxel, tick uint64) *Region {
	covering := f.collect(v)
	if len(covering) == 0 {
		delete(f.voxels, v)
		return nil
	}

	ids := make([]SourceID, len(covering))
	for i, s := range covering {
		ids[i] = s.ID
	}
	sig := Signature(ids)

	for _, r := range f.canon[sig] {
		if r.state == Invalid || !r.sameSet(covering) {
			continue
		}
		if r.state == Dirty {
			f.recomputes.Add(1)
			r.recompute()
		}
		f.voxels[v] = r
		return r
	}

	if len(f.canon[sig]) > 0 {
		slog.Debug("field: signature collision", "frame", f.frame, "signature", sig)
	}
	r := newRegion(covering, sig, tick)
	f.canon[sig] = append(f.canon[sig], r)
	f.regions = append(f.regions, r)
	f.voxels[v] = r
	return r
}

// collect returns the enabled directional sources covering v, sorted by ID.
func (f *SparseField) collect(v geom.Voxel) []*Source {
	p := v.Point()
	var out []*Source
	for _, s := range f.directional {
		if !s.Enabled {
			continue
		}
		if s.Box(f.margin).Contains(p) {
			out = append(out, s)
		}
	}
	return out
}

// AddSource inserts s (replacing any source with the same ID) and drops the
// whole cache: a new source can extend sets that were never enumerated.
func (f *SparseField) AddSource(s Source) {
	s.Frame = f.frame
	f.mu.Lock()
	rec := s
	f.sources[s.ID] = &rec
	f.reindex()
	f.invalidateAll()
	f.mu.Unlock()
	f.changed()
}

// RemoveSource drops a source. Regions containing it become Invalid but the
// voxel map is left alone; stale voxels re-derive on their next access.
func (f *SparseField) RemoveSource(id SourceID) bool {
	f.mu.Lock()
	if _, ok := f.sources[id]; !ok {
		f.mu.Unlock()
		return false
	}
	delete(f.sources, id)
	f.reindex()
	f.boundsValid = false

	kept := f.regions[:0]
	for _, r := range f.regions {
		if r.contains(id) {
			r.state = Invalid
			f.uncanon(r)
			continue
		}
		kept = append(kept, r)
	}
	clear(f.regions[len(kept):])
	f.regions = kept
	f.mu.Unlock()
	f.changed()
	return true
}

// ChangeStrength updates a source's strength. Regions containing it go
// Dirty unless the source is disabled, in which case nothing is visible.
func (f *SparseField) ChangeStrength(id SourceID, strength float64) bool {
	f.mu.Lock()
	s, ok := f.sources[id]
	if !ok {
		f.mu.Unlock()
		return false
	}
	s.Strength = strength
	if s.Enabled {
		f.markDirty(id)
	}
	f.mu.Unlock()
	f.changed()
	return true
}

// SetEnabled toggles a source. Disabling marks its regions Dirty. Enabling
// drops the cache, because regions derived while the source was off do not
// list it as a member.
func (f *SparseField) SetEnabled(id SourceID, enabled bool) bool {
	f.mu.Lock()
	s, ok := f.sources[id]
	if !ok {
		f.mu.Unlock()
		return false
	}
	was := s.Enabled
	s.Enabled = enabled
	switch {
	case !was && !enabled:
		// No visible effect.
	case was && !enabled:
		f.markDirty(id)
	case !was && enabled:
		f.invalidateAll()
	default:
		f.markDirty(id)
	}
	f.mu.Unlock()
	f.changed()
	return true
}

// ChangeShape replaces a source's kind, shape and local position. Coverage
// boundaries moved, so the whole cache is dropped.
func (f *SparseField) ChangeShape(s Source) bool {
	f.mu.Lock()
	rec, ok := f.sources[s.ID]
	if !ok {
		f.mu.Unlock()
		return false
	}
	rec.Kind = s.Kind
	rec.Position = s.Position
	rec.Directional = s.Directional
	rec.Radial = s.Radial
	f.reindex()
	f.invalidateAll()
	f.mu.Unlock()
	f.changed()
	return true
}

// Source returns a copy of the stored source.
func (f *SparseField) Source(id SourceID) (Source, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sources[id]
	if !ok {
		return Source{}, false
	}
	return *s, true
}

// Len returns the number of sources.
func (f *SparseField) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sources)
}

// Bounds returns the local box enclosing every source's expanded box.
func (f *SparseField) Bounds() geom.AABB {
	f.mu.RLock()
	if f.boundsValid {
		b := f.bounds
		f.mu.RUnlock()
		return b
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.boundsValid {
		b := geom.EmptyAABB()
		for _, s := range f.sources {
			b = b.Union(s.Box(f.margin))
		}
		f.bounds = b
		f.boundsValid = true
	}
	return f.bounds
}

// InvalidateBounds marks the bounding volume stale.
func (f *SparseField) InvalidateBounds() {
	f.mu.Lock()
	f.boundsValid = false
	f.mu.Unlock()
}

// RegionAt returns the region currently mapped to the voxel containing
// local, without sampling or repairing it.
func (f *SparseField) RegionAt(local r3.Vec) (*Region, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.voxels[geom.VoxelOf(local)]
	return r, ok
}

// Sweep drops voxel mappings whose region has not served a sample for more
// than maxAge ticks, then forgets regions no voxel references. A zero maxAge
// disables eviction. Returns the number of voxels dropped.
func (f *SparseField) Sweep(tick, maxAge uint64) int {
	if maxAge == 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	dropped := 0
	live := make(map[*Region]struct{}, len(f.regions))
	for v, r := range f.voxels {
		if last := r.LastTouched(); tick > last && tick-last > maxAge {
			delete(f.voxels, v)
			dropped++
			continue
		}
		live[r] = struct{}{}
	}
	if dropped == 0 {
		return 0
	}

	kept := f.regions[:0]
	for _, r := range f.regions {
		if _, ok := live[r]; ok {
			kept = append(kept, r)
			continue
		}
		f.uncanon(r)
	}
	clear(f.regions[len(kept):])
	f.regions = kept
	f.evicted.Add(uint64(dropped))
	return dropped
}

// Stats returns a snapshot of the cache counters.
func (f *SparseField) Stats() Stats {
	f.mu.RLock()
	voxels, regions, sources := len(f.voxels), len(f.regions), len(f.sources)
	f.mu.RUnlock()
	return Stats{
		Hits:       f.hits.Load(),
		Misses:     f.misses.Load(),
		Recomputes: f.recomputes.Load(),
		Rederives:  f.rederives.Load(),
		Evicted:    f.evicted.Load(),
		Voxels:     voxels,
		Regions:    regions,
		Sources:    sources,
	}
}

func (f *SparseField) changed() {
	if f.notify != nil {
		f.notify(f.frame)
	}
}

// reindex rebuilds the per-kind source lists. Caller holds mu.
func (f *SparseField) reindex() {
	f.directional = f.directional[:0]
	f.radial = f.radial[:0]
	for _, s := range f.sources {
		if s.Kind == KindRadial {
			f.radial = append(f.radial, s)
		} else {
			f.directional = append(f.directional, s)
		}
	}
	byID := func(list []*Source) func(i, j int) bool {
		return func(i, j int) bool { return list[i].ID < list[j].ID }
	}
	sort.Slice(f.directional, byID(f.directional))
	sort.Slice(f.radial, byID(f.radial))
}

// invalidateAll forgets every mapping and canonical region. Caller holds mu.
func (f *SparseField) invalidateAll() {
	for _, r := range f.regions {
		r.state = Invalid
	}
	clear(f.voxels)
	clear(f.canon)
	clear(f.regions)
	f.regions = f.regions[:0]
	f.boundsValid = false
}

// markDirty flags every region containing id. Caller holds mu.
func (f *SparseField) markDirty(id SourceID) {
	for _, r := range f.regions {
		if r.state == Valid && r.contains(id) {
			r.state = Dirty
		}
	}
}

// uncanon removes r from the canonical table. Caller holds mu.
func (f *SparseField) uncanon(r *Region) {
	bucket := f.canon[r.signature]
	for i, c := range bucket {
		if c == r {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(f.canon, r.signature)
	} else {
		f.canon[r.signature] = bucket
	}
}
