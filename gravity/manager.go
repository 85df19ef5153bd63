// Package gravity owns the registry of frames and their sparse fields, the
// topology event queue, and the world-space sampling API built on the
// per-tick spatial index.
package gravity

import (
	"log/slog"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/geom"
	"github.com/pthm-cable/gdrive/spatial"
)

// TransformSource supplies frame world transforms at rebuild time. ok=false
// means the host has closed the frame and it should be erased.
type TransformSource interface {
	FrameTransform(id field.FrameID) (t geom.Transform, ok bool)
}

// TransformFunc adapts a function to TransformSource.
type TransformFunc func(id field.FrameID) (geom.Transform, bool)

// FrameTransform implements TransformSource.
func (f TransformFunc) FrameTransform(id field.FrameID) (geom.Transform, bool) { return f(id) }

// Options configures a Manager.
type Options struct {
	Margin          float64 // source box padding, see field.DefaultMargin
	EvictAfterTicks uint64  // 0 disables the voxel eviction sweep
	Logger          *slog.Logger
}

type frame struct {
	id        field.FrameID
	field     *field.SparseField
	transform geom.Transform
	local     geom.AABB
	world     geom.AABB
	closed    bool
}

// Manager is the registry of frames. Sampling methods are safe for
// concurrent use; Drain and Rebuild must run serially at the tick boundary.
type Manager struct {
	margin     float64
	evictAfter uint64
	log        *slog.Logger
	queue      Queue

	mu      sync.RWMutex
	frames  map[field.FrameID]*frame
	tree    *spatial.Tree
	entries []spatial.Entry
	tick    uint64
	changed map[field.FrameID]struct{}
	owner   map[field.SourceID]field.FrameID

	hookMu sync.Mutex
	hooks  []func(field.FrameID)

	scratch sync.Pool
}

// NewManager creates an empty manager.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		margin:     opts.Margin,
		evictAfter: opts.EvictAfterTicks,
		log:        log,
		frames:     make(map[field.FrameID]*frame),
		tree:       spatial.NewTree(),
		changed:    make(map[field.FrameID]struct{}),
		owner:      make(map[field.SourceID]field.FrameID),
		scratch: sync.Pool{New: func() any {
			buf := make([]spatial.Entry, 0, 8)
			return &buf
		}},
	}
}

// OnFrameChanged registers fn to be called, after Drain or Rebuild returns
// control, for every frame whose field or mass layout changed or which was
// closed. fn must not call back into the Manager's mutating methods.
func (m *Manager) OnFrameChanged(fn func(field.FrameID)) {
	m.hookMu.Lock()
	m.hooks = append(m.hooks, fn)
	m.hookMu.Unlock()
}

// Push enqueues a topology event. Safe from any goroutine; the event takes
// effect at the next Drain.
func (m *Manager) Push(e Event) {
	m.queue.Push(e)
}

// Pending returns the number of queued events.
func (m *Manager) Pending() int {
	return m.queue.Len()
}

// Drain applies every queued event in FIFO order and returns how many were
// applied.
func (m *Manager) Drain() int {
	events := m.queue.Consume()
	if len(events) == 0 {
		return 0
	}
	m.mu.Lock()
	for _, e := range events {
		m.apply(e)
	}
	changed := m.takeChanged()
	m.mu.Unlock()

	m.fire(changed)
	return len(events)
}

// apply routes one event to its frame. Caller holds mu.
func (m *Manager) apply(e Event) {
	switch e.Kind {
	case EventSourceRemoved:
		f, ok := m.frames[e.Frame]
		if !ok || !f.field.RemoveSource(e.Source.ID) {
			m.log.Debug("gravity: remove of unknown source", "event", e)
			return
		}
		if m.owner[e.Source.ID] == e.Frame {
			delete(m.owner, e.Source.ID)
		}
		return
	case EventFrameChanged:
		if e.From != e.Frame {
			m.detach(e.Source.ID, e.From)
		}
		m.add(e.Frame, e.Source)
		return
	case EventFrameTouched:
		if _, ok := m.frames[e.Frame]; ok {
			m.changed[e.Frame] = struct{}{}
		}
		return
	case EventFrameClosed:
		if f, ok := m.frames[e.Frame]; ok {
			f.closed = true
		}
		return
	}

	f := m.ensure(e.Frame)
	s := e.Source
	s.Frame = e.Frame

	var known bool
	switch e.Kind {
	case EventSourceAdded:
		m.add(e.Frame, s)
		return
	case EventStrengthChanged:
		known = f.field.ChangeStrength(s.ID, s.Strength)
	case EventEnabledChanged:
		known = f.field.SetEnabled(s.ID, s.Enabled)
	case EventShapeChanged:
		known = f.field.ChangeShape(s)
	default:
		m.log.Warn("gravity: unknown event kind", "event", e)
		return
	}
	if !known {
		m.log.Debug("gravity: event for unknown source, adding it", "event", e)
		m.add(e.Frame, s)
	}
}

// add inserts s into frame id, first removing it from any other frame that
// owns it so a source never contributes twice. Caller holds mu.
func (m *Manager) add(id field.FrameID, s field.Source) {
	if prev, ok := m.owner[s.ID]; ok && prev != id {
		m.detach(s.ID, prev)
	}
	s.Frame = id
	m.ensure(id).field.AddSource(s)
	m.owner[s.ID] = id
}

// detach removes source sid from frame id, if present. Caller holds mu.
func (m *Manager) detach(sid field.SourceID, id field.FrameID) {
	if m.owner[sid] == id {
		delete(m.owner, sid)
	}
	f, ok := m.frames[id]
	if !ok {
		return
	}
	if f.field.RemoveSource(sid) {
		m.changed[id] = struct{}{}
	}
}

// ensure returns the frame record, creating it if needed. Caller holds mu.
func (m *Manager) ensure(id field.FrameID) *frame {
	if f, ok := m.frames[id]; ok {
		return f
	}
	f := &frame{
		id:        id,
		field:     field.New(id, m.margin, m.markChanged),
		transform: geom.Identity(),
		local:     geom.EmptyAABB(),
		world:     geom.EmptyAABB(),
	}
	f.field.SetTick(m.tick)
	m.frames[id] = f
	m.log.Debug("gravity: frame created", "frame", id)
	return f
}

// markChanged is the field notify hook. It only runs from apply, with mu held.
func (m *Manager) markChanged(id field.FrameID) {
	m.changed[id] = struct{}{}
}

func (m *Manager) takeChanged() []field.FrameID {
	if len(m.changed) == 0 {
		return nil
	}
	ids := make([]field.FrameID, 0, len(m.changed))
	for id := range m.changed {
		ids = append(ids, id)
	}
	clear(m.changed)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Manager) fire(ids []field.FrameID) {
	if len(ids) == 0 {
		return
	}
	m.hookMu.Lock()
	hooks := m.hooks
	m.hookMu.Unlock()
	for _, id := range ids {
		for _, fn := range hooks {
			fn(id)
		}
	}
}

// Rebuild refreshes every frame's transform and world box, erases closed
// frames, runs the eviction sweep and rebuilds the spatial index.
func (m *Manager) Rebuild(tick uint64, transforms TransformSource) {
	m.mu.Lock()
	m.tick = tick
	m.entries = m.entries[:0]
	var closed []field.FrameID
	for id, f := range m.frames {
		t, ok := transforms.FrameTransform(id)
		if !ok || f.closed {
			delete(m.frames, id)
			closed = append(closed, id)
			continue
		}
		f.transform = t
		f.field.SetTick(tick)
		f.field.Sweep(tick, m.evictAfter)
		f.local = f.field.Bounds()
		f.world = f.local.Transformed(t)
		if !f.world.Empty() {
			m.entries = append(m.entries, spatial.Entry{Frame: id, Box: f.world})
		}
	}
	if len(closed) > 0 {
		for sid, owner := range m.owner {
			if _, ok := m.frames[owner]; !ok {
				delete(m.owner, sid)
			}
		}
	}
	// Map order is random; sort so the tree and summation order are
	// reproducible between runs.
	sort.Slice(m.entries, func(i, j int) bool { return m.entries[i].Frame < m.entries[j].Frame })
	m.tree.Rebuild(m.entries)
	m.mu.Unlock()

	if len(closed) > 0 {
		sort.Slice(closed, func(i, j int) bool { return closed[i] < closed[j] })
		m.log.Debug("gravity: frames erased", "count", len(closed))
		m.fire(closed)
	}
}

// SampleWorld returns the summed field vector at world point p from every
// frame whose local field box contains it, skipping exclude if non-nil.
func (m *Manager) SampleWorld(p r3.Vec, exclude *field.FrameID) r3.Vec {
	bufp := m.scratch.Get().(*[]spatial.Entry)
	defer m.scratch.Put(bufp)

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := m.tree.QueryPoint((*bufp)[:0], p, exclude)
	*bufp = hits[:0]

	var total r3.Vec
	for _, h := range hits {
		f, ok := m.frames[h.Frame]
		if !ok {
			continue
		}
		local := f.transform.InverseApply(p)
		if !f.local.Contains(local) {
			continue
		}
		total = r3.Add(total, f.transform.ApplyDir(f.field.Sample(local)))
	}
	return total
}

// SampleLocal samples frame's own field at a frame-local point. Unknown
// frames yield zero.
func (m *Manager) SampleLocal(id field.FrameID, local r3.Vec) r3.Vec {
	m.mu.RLock()
	f, ok := m.frames[id]
	m.mu.RUnlock()
	if !ok {
		return r3.Vec{}
	}
	return f.field.Sample(local)
}

// Neighbors appends to dst the frames, other than id, whose world field box
// overlaps box.
func (m *Manager) Neighbors(dst []field.FrameID, id field.FrameID, box geom.AABB) []field.FrameID {
	bufp := m.scratch.Get().(*[]spatial.Entry)
	defer m.scratch.Put(bufp)

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := m.tree.QueryBox((*bufp)[:0], box, &id)
	*bufp = hits[:0]
	for _, h := range hits {
		dst = append(dst, h.Frame)
	}
	return dst
}

// Transform returns the transform recorded for id at the last Rebuild.
func (m *Manager) Transform(id field.FrameID) (geom.Transform, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.frames[id]
	if !ok {
		return geom.Transform{}, false
	}
	return f.transform, true
}

// WorldBox returns the frame's world field box from the last Rebuild.
func (m *Manager) WorldBox(id field.FrameID) (geom.AABB, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.frames[id]
	if !ok {
		return geom.EmptyAABB(), false
	}
	return f.world, true
}

// Field returns the frame's sparse field.
func (m *Manager) Field(id field.FrameID) (*field.SparseField, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.frames[id]
	if !ok {
		return nil, false
	}
	return f.field, true
}

// Frames returns the registered frame IDs in ascending order.
func (m *Manager) Frames() []field.FrameID {
	m.mu.RLock()
	ids := make([]field.FrameID, 0, len(m.frames))
	for id := range m.frames {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
