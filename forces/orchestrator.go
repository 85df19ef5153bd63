package forces

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/geom"
	"github.com/pthm-cable/gdrive/gravity"
	"github.com/pthm-cable/gdrive/telemetry"
)

// Options configures an Orchestrator.
type Options struct {
	// UseCenterOfMassOverride applies every frame force at the frame's
	// centre of mass, so the field produces no torque.
	UseCenterOfMassOverride bool
	// SuppressForceAfterDiscontinuity skips a frame's force for the tick
	// following NotifyDiscontinuity.
	SuppressForceAfterDiscontinuity bool
	// Epsilon is the degenerate squared-force threshold; 0 uses DefaultEpsilon.
	Epsilon float64
	// Workers bounds Collect and Reduce parallelism; 0 uses GOMAXPROCS.
	Workers int
	// Threshold is the body count below which Collect runs inline.
	Threshold int

	Logger *slog.Logger
	Perf   *telemetry.PerfCollector
}

// snapshot is the read-only view of one body for the parallel phase.
type snapshot struct {
	body  Body
	state BodyState
	frame int // index into Orchestrator.frames, -1 for free bodies
}

// result is written by exactly one collect task.
type result struct {
	intra    r3.Vec // mass-scaled own-frame force, frame-local
	inter    r3.Vec // mass-scaled foreign force, frame-local
	free     r3.Vec // world force or acceleration for free bodies
	hasIntra bool
	hasInter bool
	accel    bool
	failed   bool
}

// frameWork gathers one frame's bodies and reduced output for a tick.
type frameWork struct {
	id        field.FrameID
	rigid     RigidFrame
	transform geom.Transform
	bodies    []int
	box       geom.AABB // world box of the frame's bodies
	print     uint64

	intraValid   bool
	hasNeighbors bool
	cacheable    bool
	intra        Wrench

	force, point r3.Vec
	ok           bool
}

type intraEntry struct {
	wrench Wrench
	print  uint64
}

// Orchestrator runs the per-tick Collect, Reduce, Apply and Reset cycle.
type Orchestrator struct {
	mgr  *gravity.Manager
	host Host
	opts Options
	log  *slog.Logger
	pool *pool

	snaps    []snapshot
	results  []result
	frames   []frameWork
	frameIdx map[field.FrameID]int
	nbuf     []field.FrameID

	mu            sync.Mutex
	intra         map[field.FrameID]intraEntry
	discontinuous map[field.FrameID]struct{}
}

// New creates an orchestrator and subscribes it to mgr's frame-changed hook.
// Call Close to stop its workers.
func New(mgr *gravity.Manager, host Host, opts Options) *Orchestrator {
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		mgr:           mgr,
		host:          host,
		opts:          opts,
		log:           log,
		pool:          newPool(opts.Workers, opts.Threshold),
		frameIdx:      make(map[field.FrameID]int),
		intra:         make(map[field.FrameID]intraEntry),
		discontinuous: make(map[field.FrameID]struct{}),
	}
	mgr.OnFrameChanged(o.Invalidate)
	return o
}

// Close stops the worker pool. The orchestrator must not be used afterwards.
func (o *Orchestrator) Close() {
	o.pool.stop()
}

// Invalidate drops the cached intra-frame force of frame.
func (o *Orchestrator) Invalidate(frame field.FrameID) {
	o.mu.Lock()
	delete(o.intra, frame)
	o.mu.Unlock()
}

// NotifyDiscontinuity reports that frame jumped (e.g. teleported). With
// SuppressForceAfterDiscontinuity set, its force is skipped on the next tick.
// Safe from any goroutine.
func (o *Orchestrator) NotifyDiscontinuity(frame field.FrameID) {
	o.mu.Lock()
	o.discontinuous[frame] = struct{}{}
	o.mu.Unlock()
}

// CachedIntra reports whether frame has a valid cached intra-frame force.
func (o *Orchestrator) CachedIntra(frame field.FrameID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.intra[frame]
	return ok
}

func (o *Orchestrator) phase(name string) {
	if o.opts.Perf != nil {
		o.opts.Perf.StartPhase(name)
	}
}

// RunTick drains topology events, rebuilds the index and runs one
// Collect, Reduce, Apply and Reset cycle over bodies. Failures of single
// bodies or frames are logged and counted, never returned. The only error
// is ctx cancellation, checked between phases.
func (o *Orchestrator) RunTick(ctx context.Context, tick uint64, bodies []Body) (telemetry.TickStats, error) {
	stats := telemetry.TickStats{Tick: tick, Bodies: len(bodies)}
	defer o.reset()

	o.phase(telemetry.PhaseDrain)
	stats.Events = o.mgr.Drain()

	o.phase(telemetry.PhaseIndex)
	o.mgr.Rebuild(tick, o.host)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("tick %d: %w", tick, err)
	}

	o.phase(telemetry.PhaseSnapshot)
	o.snapshot(bodies, &stats)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("tick %d: %w", tick, err)
	}

	o.phase(telemetry.PhaseCollect)
	n := len(o.snaps)
	if cap(o.results) < n {
		o.results = make([]result, n)
	}
	o.results = o.results[:n]
	o.pool.run(n, o.collectChunk)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("tick %d: %w", tick, err)
	}

	o.phase(telemetry.PhaseReduce)
	o.reduce(ctx, &stats)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("tick %d: %w", tick, err)
	}

	o.phase(telemetry.PhaseApply)
	o.apply(&stats)
	return stats, nil
}

// snapshot captures body states and groups frame-owned bodies (Phase A).
func (o *Orchestrator) snapshot(bodies []Body, stats *telemetry.TickStats) {
	for _, b := range bodies {
		var st BodyState
		err := guard(func() (err error) {
			st, err = b.State()
			return err
		})
		if err != nil {
			stats.Skipped++
			switch {
			case errors.Is(err, ErrNoHandle):
				stats.MissingHandles++
			case errors.Is(err, errPanicked):
				stats.Failed++
				o.log.Error("forces: body state failed", "error", err)
				continue
			}
			o.log.Debug("forces: body skipped", "error", err)
			continue
		}
		snap := snapshot{body: b, state: st, frame: -1}
		if st.Owned {
			j := o.frameFor(st.Frame, stats)
			fw := &o.frames[j]
			if fw.rigid == nil {
				stats.Skipped++
				continue
			}
			fw.bodies = append(fw.bodies, len(o.snaps))
			fw.box = fw.box.Include(st.WorldPos)
			fw.print += bodyPrint(st)
			snap.frame = j
		}
		o.snaps = append(o.snaps, snap)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for j := range o.frames {
		fw := &o.frames[j]
		if fw.rigid == nil {
			continue
		}
		if err := guard(func() error {
			fw.transform = fw.rigid.Transform()
			return nil
		}); err != nil {
			fw.rigid = nil
			stats.Failed++
			o.log.Error("forces: frame transform failed", "frame", fw.id, "error", err)
			continue
		}
		fw.print = field.Mix64(fw.print ^ uint64(len(fw.bodies)))
		if e, ok := o.intra[fw.id]; ok && e.print == fw.print {
			fw.intraValid = true
			fw.intra = e.wrench
		}
		o.nbuf = o.mgr.Neighbors(o.nbuf[:0], fw.id, fw.box)
		fw.hasNeighbors = len(o.nbuf) > 0
	}
	stats.Frames = len(o.frames)
}

// frameFor returns the frames index for id, resolving its handle on first use.
func (o *Orchestrator) frameFor(id field.FrameID, stats *telemetry.TickStats) int {
	if j, ok := o.frameIdx[id]; ok {
		return j
	}
	var rigid RigidFrame
	err := guard(func() (err error) {
		rigid, err = o.host.RigidFrame(id)
		return err
	})
	if err == nil && rigid == nil {
		err = ErrNoHandle
	}
	if err != nil {
		rigid = nil
		stats.MissingHandles++
		o.log.Warn("forces: frame handle unavailable", "frame", id, "error", err)
	}

	j := len(o.frames)
	var reuse []int
	if j < cap(o.frames) {
		reuse = o.frames[:j+1][j].bodies[:0]
	}
	o.frames = append(o.frames, frameWork{
		id:     id,
		rigid:  rigid,
		bodies: reuse,
		box:    geom.EmptyAABB(),
	})
	o.frameIdx[id] = j
	return j
}

// bodyPrint hashes what an owned body contributes to the intra-frame force.
// Summed over a frame's bodies it gives an order-independent fingerprint.
func bodyPrint(s BodyState) uint64 {
	h := field.Mix64(uint64(s.ID) + 0x9e3779b97f4a7c15)
	if s.Disabled {
		h = field.Mix64(h ^ 0xd1b54a32d192ed03)
	}
	h = field.Mix64(h ^ math.Float64bits(s.Mass))
	h = field.Mix64(h ^ math.Float64bits(s.LocalPos.X))
	h = field.Mix64(h ^ math.Float64bits(s.LocalPos.Y))
	return field.Mix64(h ^ math.Float64bits(s.LocalPos.Z))
}

// collectChunk samples the field for snapshots [i0, i1) (Phase B).
func (o *Orchestrator) collectChunk(i0, i1, _ int) {
	for i := i0; i < i1; i++ {
		o.collectOne(i)
	}
}

func (o *Orchestrator) collectOne(i int) {
	snap := &o.snaps[i]
	res := &o.results[i]
	*res = result{}
	defer func() {
		if r := recover(); r != nil {
			*res = result{failed: true}
			o.log.Error("forces: collect panicked", "body", snap.state.ID, "panic", r)
		}
	}()

	st := &snap.state
	if st.Disabled {
		return
	}
	if snap.frame < 0 {
		g := o.mgr.SampleWorld(st.WorldPos, nil)
		if st.Mass > 0 {
			res.free = r3.Scale(st.Mass, g)
		} else {
			res.free = g
			res.accel = true
		}
		return
	}

	fw := &o.frames[snap.frame]
	if !fw.intraValid {
		res.intra = r3.Scale(st.Mass, o.mgr.SampleLocal(fw.id, st.LocalPos))
		res.hasIntra = true
	}
	if fw.hasNeighbors {
		id := fw.id
		g := o.mgr.SampleWorld(st.WorldPos, &id)
		res.inter = r3.Scale(st.Mass, fw.transform.InverseApplyDir(g))
		res.hasInter = true
	}
}

// reduce folds each frame's samples into one force, fanning out per frame.
func (o *Orchestrator) reduce(ctx context.Context, stats *telemetry.TickStats) {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(o.pool.numWorkers)
	for j := range o.frames {
		fw := &o.frames[j]
		if fw.rigid == nil {
			continue
		}
		g.Go(func() error {
			o.reduceFrame(fw)
			return nil
		})
	}
	_ = g.Wait()

	for j := range o.frames {
		fw := &o.frames[j]
		if fw.rigid == nil {
			continue
		}
		for _, i := range fw.bodies {
			if o.results[i].failed {
				stats.Failed++
			}
		}
	}
	for i, s := range o.snaps {
		if s.frame < 0 && o.results[i].failed {
			stats.Failed++
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for j := range o.frames {
		fw := &o.frames[j]
		if fw.rigid == nil || fw.intraValid || !fw.cacheable {
			continue
		}
		o.intra[fw.id] = intraEntry{wrench: fw.intra, print: fw.print}
		stats.IntraRecomputed++
	}
}

func (o *Orchestrator) reduceFrame(fw *frameWork) {
	if !fw.intraValid {
		var intra Wrench
		fw.cacheable = true
		for _, i := range fw.bodies {
			r := &o.results[i]
			if r.failed {
				fw.cacheable = false
				continue
			}
			if r.hasIntra {
				intra.Add(Sample{Pos: o.snaps[i].state.LocalPos, Force: r.intra})
			}
		}
		fw.intra = intra
	}

	total := fw.intra
	for _, i := range fw.bodies {
		r := &o.results[i]
		if r.hasInter && !r.failed {
			total.Add(Sample{Pos: o.snaps[i].state.LocalPos, Force: r.inter})
		}
	}
	fw.force, fw.point, fw.ok = total.Resolve(o.opts.Epsilon)
}

// apply commits results serially (Phase C).
func (o *Orchestrator) apply(stats *telemetry.TickStats) {
	for i := range o.snaps {
		s := &o.snaps[i]
		r := &o.results[i]
		if s.frame >= 0 || r.failed || r.free == (r3.Vec{}) {
			continue
		}
		err := guard(func() error {
			if r.accel {
				return s.body.ApplyAcceleration(r.free)
			}
			return s.body.ApplyForce(r.free)
		})
		if err != nil {
			o.commitFailed(stats, err, "body", uint64(s.state.ID))
			continue
		}
		stats.FreeApplied++
	}

	o.mu.Lock()
	jumped := o.discontinuous
	o.discontinuous = make(map[field.FrameID]struct{})
	o.mu.Unlock()

	for j := range o.frames {
		fw := &o.frames[j]
		if fw.rigid == nil {
			continue
		}
		if !fw.ok {
			stats.FramesZero++
			continue
		}
		if _, ok := jumped[fw.id]; ok && o.opts.SuppressForceAfterDiscontinuity {
			stats.Suppressed++
			continue
		}
		refused := false
		err := guard(func() error {
			if !fw.rigid.AcceptsForces() {
				refused = true
				return nil
			}
			force := fw.transform.ApplyDir(fw.force)
			point := fw.transform.Apply(fw.point)
			if o.opts.UseCenterOfMassOverride {
				point = fw.rigid.CenterOfMass()
			}
			return fw.rigid.ApplyForceAt(force, point)
		})
		switch {
		case err != nil:
			o.commitFailed(stats, err, "frame", uint64(fw.id))
		case refused:
			stats.Refused++
		default:
			stats.FramesApplied++
		}
	}
}

// errPanicked wraps a panic recovered from a host call.
var errPanicked = errors.New("host call panicked")

// guard runs a host callback, turning a panic into an error so one bad
// target cannot abort the tick.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanicked, r)
		}
	}()
	return fn()
}

func (o *Orchestrator) commitFailed(stats *telemetry.TickStats, err error, kind string, id uint64) {
	if errors.Is(err, ErrNoHandle) {
		stats.MissingHandles++
		o.log.Warn("forces: handle unavailable at apply", kind, id, "error", err)
		return
	}
	stats.Failed++
	o.log.Error("forces: apply failed", kind, id, "error", err)
}

// reset clears per-tick buffers and forgets intra caches of frames that had
// no bodies this tick.
func (o *Orchestrator) reset() {
	o.mu.Lock()
	for id := range o.intra {
		if _, ok := o.frameIdx[id]; !ok {
			delete(o.intra, id)
		}
	}
	o.mu.Unlock()

	clear(o.snaps)
	o.snaps = o.snaps[:0]
	for j := range o.frames {
		fw := &o.frames[j]
		fw.rigid = nil
	}
	o.frames = o.frames[:0]
	clear(o.frameIdx)
}
