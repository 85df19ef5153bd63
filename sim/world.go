// Package sim is a reference host for the gravity engine: an ark ECS world of
// ships, their mass blocks and free bodies, integrated with the forces the
// orchestrator commits.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/components"
	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/forces"
	"github.com/pthm-cable/gdrive/geom"
	"github.com/pthm-cable/gdrive/gravity"
	"github.com/pthm-cable/gdrive/scenario"
	"github.com/pthm-cable/gdrive/telemetry"
)

// Options configures a World.
type Options struct {
	DT             float64
	AngularDamping float64 // fraction of angular velocity lost per second
	Logger         *slog.Logger
	Perf           *telemetry.PerfCollector
}

// World owns the ECS state and implements forces.Host.
type World struct {
	world *ecs.World
	mgr   *gravity.Manager
	opts  Options
	log   *slog.Logger
	name  string

	shipMapper *ecs.Map5[
		components.Ship,
		components.Pose,
		components.Motion,
		components.Inertia,
		components.Accum,
	]
	shipFilter *ecs.Filter5[
		components.Ship,
		components.Pose,
		components.Motion,
		components.Inertia,
		components.Accum,
	]
	blockMapper    *ecs.Map1[components.Block]
	blockFilter    *ecs.Filter1[components.Block]
	particleMapper *ecs.Map2[components.Particle, components.Accum]
	particleFilter *ecs.Filter2[components.Particle, components.Accum]

	shipMap     *ecs.Map1[components.Ship]
	poseMap     *ecs.Map1[components.Pose]
	inertiaMap  *ecs.Map1[components.Inertia]
	accumMap    *ecs.Map1[components.Accum]
	particleMap *ecs.Map1[components.Particle]

	ships   map[field.FrameID]ecs.Entity
	sources map[field.SourceID]field.Source
	events  []scenario.Event
	next    int

	onDiscontinuity func(field.FrameID)

	blocks    []blockHandle
	particles []particleHandle
	bodies    []forces.Body
}

// New builds a world from sc and pushes every scenario source to mgr.
func New(sc *scenario.Scenario, mgr *gravity.Manager, opts Options) *World {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	world := ecs.NewWorld()
	w := &World{
		world: world,
		mgr:   mgr,
		opts:  opts,
		log:   log,
		name:  sc.Name,
		shipMapper: ecs.NewMap5[
			components.Ship,
			components.Pose,
			components.Motion,
			components.Inertia,
			components.Accum,
		](world),
		shipFilter: ecs.NewFilter5[
			components.Ship,
			components.Pose,
			components.Motion,
			components.Inertia,
			components.Accum,
		](world),
		blockMapper:    ecs.NewMap1[components.Block](world),
		blockFilter:    ecs.NewFilter1[components.Block](world),
		particleMapper: ecs.NewMap2[components.Particle, components.Accum](world),
		particleFilter: ecs.NewFilter2[components.Particle, components.Accum](world),
		shipMap:        ecs.NewMap1[components.Ship](world),
		poseMap:        ecs.NewMap1[components.Pose](world),
		inertiaMap:     ecs.NewMap1[components.Inertia](world),
		accumMap:       ecs.NewMap1[components.Accum](world),
		particleMap:    ecs.NewMap1[components.Particle](world),
		ships:          make(map[field.FrameID]ecs.Entity),
		sources:        make(map[field.SourceID]field.Source),
		events:         sc.Events,
	}
	for i := range sc.Ships {
		w.spawnShip(&sc.Ships[i])
	}
	for _, b := range sc.Bodies {
		p := components.Particle{Position: b.Position.Vec(), Velocity: b.Velocity.Vec(), Mass: b.Mass}
		w.particleMapper.NewEntity(&p, &components.Accum{})
	}
	w.log.Info("sim: world built",
		"scenario", sc.Name,
		"ships", len(w.ships),
		"sources", len(w.sources),
		"bodies", len(sc.Bodies),
		"scripted_events", len(sc.Events),
	)
	return w
}

func (w *World) spawnShip(sh *scenario.Ship) {
	id := field.FrameID(sh.ID)
	blocks := make([]components.Block, len(sh.Blocks))
	for i, b := range sh.Blocks {
		blocks[i] = components.Block{Frame: id, Local: b.Position.Vec(), Mass: b.Mass}
	}
	in := components.MassProperties(blocks)

	ship := components.Ship{Frame: id, Name: sh.Name, Static: sh.Static}
	pose := components.Pose{Transform: sh.Transform()}
	motion := components.Motion{Linear: sh.Velocity.Vec(), Angular: sh.AngularVelocity.Vec()}
	if sh.Static {
		motion = components.Motion{}
	}
	e := w.shipMapper.NewEntity(&ship, &pose, &motion, &in, &components.Accum{})
	w.ships[id] = e

	for i := range blocks {
		w.blockMapper.NewEntity(&blocks[i])
	}
	for i := range sh.Sources {
		src := sh.Sources[i].FieldSource(id)
		w.sources[src.ID] = src
		w.mgr.Push(gravity.SourceAdded(src))
	}
}

// OnDiscontinuity registers fn to be told when a ship teleports.
func (w *World) OnDiscontinuity(fn func(field.FrameID)) {
	w.onDiscontinuity = fn
}

// FrameTransform implements gravity.TransformSource. Closed or unknown
// ships report false.
func (w *World) FrameTransform(id field.FrameID) (geom.Transform, bool) {
	e, ok := w.ships[id]
	if !ok || !w.world.Alive(e) {
		return geom.Transform{}, false
	}
	return w.poseMap.Get(e).Transform, true
}

// RigidFrame implements forces.Host.
func (w *World) RigidFrame(id field.FrameID) (forces.RigidFrame, error) {
	e, ok := w.ships[id]
	if !ok || !w.world.Alive(e) {
		return nil, fmt.Errorf("ship %d: %w", id, forces.ErrNoHandle)
	}
	return shipHandle{w: w, e: e}, nil
}

// Bodies returns the affected bodies for this tick: every block of a live
// ship and every free particle. The slice is reused across calls.
func (w *World) Bodies() []forces.Body {
	w.blocks = w.blocks[:0]
	q := w.blockFilter.Query()
	for q.Next() {
		w.blocks = append(w.blocks, blockHandle{w: w, e: q.Entity()})
	}
	w.particles = w.particles[:0]
	pq := w.particleFilter.Query()
	for pq.Next() {
		w.particles = append(w.particles, particleHandle{w: w, e: pq.Entity()})
	}

	w.bodies = w.bodies[:0]
	for i := range w.blocks {
		w.bodies = append(w.bodies, &w.blocks[i])
	}
	for i := range w.particles {
		w.bodies = append(w.bodies, &w.particles[i])
	}
	return w.bodies
}

// Ship reports a ship's current pose and motion.
func (w *World) Ship(id field.FrameID) (components.Pose, components.Motion, bool) {
	e, ok := w.ships[id]
	if !ok || !w.world.Alive(e) {
		return components.Pose{}, components.Motion{}, false
	}
	_, pose, motion, _, _ := w.shipMapper.Get(e)
	return *pose, *motion, true
}

// Particles returns the current state of every free body.
func (w *World) Particles() []components.Particle {
	var out []components.Particle
	q := w.particleFilter.Query()
	for q.Next() {
		p, _ := q.Get()
		out = append(out, *p)
	}
	return out
}

// Step runs one tick: scripted events due at tick, the orchestrator, then
// integration.
func (w *World) Step(ctx context.Context, tick uint64, orch *forces.Orchestrator) (telemetry.TickStats, error) {
	w.fire(tick)
	stats, err := orch.RunTick(ctx, tick, w.Bodies())
	if err != nil {
		return stats, err
	}
	if w.opts.Perf != nil {
		w.opts.Perf.StartPhase(telemetry.PhaseIntegrate)
	}
	w.Integrate()
	return stats, nil
}

// Integrate advances ships and particles by one step of semi-implicit Euler
// and clears the force accumulators.
func (w *World) Integrate() {
	dt := w.opts.DT
	damp := math.Max(0, 1-w.opts.AngularDamping*dt)

	q := w.shipFilter.Query()
	for q.Next() {
		ship, pose, motion, in, acc := q.Get()
		if ship.Static {
			acc.Clear()
			continue
		}
		com := pose.Transform.Apply(in.LocalCOM)

		motion.Linear = r3.Add(motion.Linear, r3.Scale(dt/in.Mass, acc.Force))
		motion.Angular = r3.Add(motion.Angular, r3.Scale(dt/in.Moment, acc.Torque))
		motion.Angular = r3.Scale(damp, motion.Angular)

		next := r3.Add(com, r3.Scale(dt, motion.Linear))
		offset := r3.Sub(pose.Transform.Pos, com)
		if rate := r3.Norm(motion.Angular); rate > 0 {
			angle := rate * dt
			offset = geom.NewTransform(angle, motion.Angular, r3.Vec{}).ApplyDir(offset)
			pose.Transform = pose.Transform.Rotated(angle, motion.Angular)
		}
		pose.Transform.Pos = r3.Add(next, offset)
		acc.Clear()
	}

	pq := w.particleFilter.Query()
	for pq.Next() {
		p, acc := pq.Get()
		a := acc.Accel
		if p.Mass > 0 {
			a = r3.Add(a, r3.Scale(1/p.Mass, acc.Force))
		}
		p.Velocity = r3.Add(p.Velocity, r3.Scale(dt, a))
		p.Position = r3.Add(p.Position, r3.Scale(dt, p.Velocity))
		acc.Clear()
	}
}

// fire applies every scripted event due at or before tick.
func (w *World) fire(tick uint64) {
	for w.next < len(w.events) && w.events[w.next].Tick <= tick {
		ev := w.events[w.next]
		w.next++
		if err := w.Apply(ev); err != nil {
			w.log.Warn("sim: scripted event skipped", "tick", tick, "action", ev.Action, "error", err)
		}
	}
}

// Apply performs one scripted change, pushing the matching topology event.
func (w *World) Apply(ev scenario.Event) error {
	switch ev.Action {
	case scenario.ActionToggle, scenario.ActionStrength, scenario.ActionResize, scenario.ActionRemove:
		return w.applySource(ev)
	case scenario.ActionReassign:
		return w.Reassign(field.SourceID(ev.Source), field.FrameID(ev.Ship))
	case scenario.ActionTeleport:
		return w.Teleport(field.FrameID(ev.Ship), ev.Position.Vec())
	case scenario.ActionClose:
		return w.Close(field.FrameID(ev.Ship))
	default:
		return fmt.Errorf("unknown action %q", ev.Action)
	}
}

func (w *World) applySource(ev scenario.Event) error {
	id := field.SourceID(ev.Source)
	src, ok := w.sources[id]
	if !ok {
		return fmt.Errorf("source %d not present", id)
	}
	switch ev.Action {
	case scenario.ActionToggle:
		src.Enabled = !src.Enabled
		w.mgr.Push(gravity.EnabledChanged(src))
	case scenario.ActionStrength:
		src.Strength = ev.Strength
		w.mgr.Push(gravity.StrengthChanged(src))
	case scenario.ActionResize:
		if src.Kind == field.KindRadial {
			if ev.Radius <= 0 {
				return fmt.Errorf("resize of radial source %d needs a radius", id)
			}
			src.Radial.Radius = ev.Radius
		} else {
			if ev.Extent == nil {
				return fmt.Errorf("resize of directional source %d needs an extent", id)
			}
			src.Directional.Extent = ev.Extent.Vec()
		}
		w.mgr.Push(gravity.ShapeChanged(src))
	case scenario.ActionRemove:
		delete(w.sources, id)
		w.mgr.Push(gravity.SourceRemoved(src.Frame, id))
		return nil
	}
	w.sources[id] = src
	return nil
}

// Reassign moves a source to another live ship. Its frame-local placement
// is kept, so it now sits at the same offset from the new ship's origin.
func (w *World) Reassign(id field.SourceID, to field.FrameID) error {
	src, ok := w.sources[id]
	if !ok {
		return fmt.Errorf("source %d not present", id)
	}
	if e, ok := w.ships[to]; !ok || !w.world.Alive(e) {
		return fmt.Errorf("ship %d: %w", to, forces.ErrNoHandle)
	}
	from := src.Frame
	if from == to {
		return nil
	}
	src.Frame = to
	w.sources[id] = src
	w.mgr.Push(gravity.FrameChanged(from, src))
	return nil
}

// Teleport moves a ship's origin to pos without changing its motion and
// reports the discontinuity.
func (w *World) Teleport(id field.FrameID, pos r3.Vec) error {
	e, ok := w.ships[id]
	if !ok || !w.world.Alive(e) {
		return fmt.Errorf("ship %d: %w", id, forces.ErrNoHandle)
	}
	w.poseMap.Get(e).Transform.Pos = pos
	w.mgr.Push(gravity.FrameTouched(id))
	if w.onDiscontinuity != nil {
		w.onDiscontinuity(id)
	}
	return nil
}

// Close removes a ship with its blocks and sources.
func (w *World) Close(id field.FrameID) error {
	e, ok := w.ships[id]
	if !ok || !w.world.Alive(e) {
		return fmt.Errorf("ship %d: %w", id, forces.ErrNoHandle)
	}

	var doomed []ecs.Entity
	q := w.blockFilter.Query()
	for q.Next() {
		if q.Get().Frame == id {
			doomed = append(doomed, q.Entity())
		}
	}
	for _, b := range doomed {
		w.world.RemoveEntity(b)
	}
	w.world.RemoveEntity(e)
	delete(w.ships, id)

	for sid, src := range w.sources {
		if src.Frame == id {
			delete(w.sources, sid)
		}
	}
	w.mgr.Push(gravity.FrameClosed(id))
	w.log.Info("sim: ship closed", "frame", id, "blocks", len(doomed))
	return nil
}
