package forces

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/geom"
	"github.com/pthm-cable/gdrive/gravity"
)

type appliedForce struct {
	force, point r3.Vec
}

type fakeFrame struct {
	t       geom.Transform
	com     r3.Vec
	static  bool
	failErr error
	applied []appliedForce
}

func (f *fakeFrame) Transform() geom.Transform { return f.t }
func (f *fakeFrame) CenterOfMass() r3.Vec      { return f.com }
func (f *fakeFrame) AcceptsForces() bool       { return !f.static }
func (f *fakeFrame) ApplyForceAt(force, point r3.Vec) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.applied = append(f.applied, appliedForce{force, point})
	return nil
}

type fakeHost struct {
	frames map[field.FrameID]*fakeFrame
}

func (h *fakeHost) FrameTransform(id field.FrameID) (geom.Transform, bool) {
	f, ok := h.frames[id]
	if !ok {
		return geom.Transform{}, false
	}
	return f.t, true
}

func (h *fakeHost) RigidFrame(id field.FrameID) (RigidFrame, error) {
	f, ok := h.frames[id]
	if !ok {
		return nil, fmt.Errorf("frame %d: %w", id, ErrNoHandle)
	}
	return f, nil
}

type fakeBody struct {
	st     BodyState
	err    error
	forces []r3.Vec
	accels []r3.Vec
}

func (b *fakeBody) State() (BodyState, error) { return b.st, b.err }
func (b *fakeBody) ApplyForce(f r3.Vec) error {
	b.forces = append(b.forces, f)
	return nil
}
func (b *fakeBody) ApplyAcceleration(a r3.Vec) error {
	b.accels = append(b.accels, a)
	return nil
}

func owned(id BodyID, frame field.FrameID, local r3.Vec, mass float64, t geom.Transform) *fakeBody {
	return &fakeBody{st: BodyState{
		ID: id, Owned: true, Frame: frame, LocalPos: local, WorldPos: t.Apply(local), Mass: mass,
	}}
}

func free(id BodyID, world r3.Vec, mass float64) *fakeBody {
	return &fakeBody{st: BodyState{ID: id, WorldPos: world, Mass: mass}}
}

func generator(id field.SourceID, frame field.FrameID, pos r3.Vec, size, strength float64) field.Source {
	return field.Source{
		ID: id, Frame: frame, Kind: field.KindDirectional, Position: pos, Strength: strength, Enabled: true,
		Directional: field.Directional{Extent: r3.Vec{X: size, Y: size, Z: size}, Down: r3.Vec{Y: -1}},
	}
}

type fixture struct {
	mgr  *gravity.Manager
	host *fakeHost
	orch *Orchestrator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	mgr := gravity.NewManager(gravity.Options{Margin: field.DefaultMargin})
	host := &fakeHost{frames: map[field.FrameID]*fakeFrame{}}
	o := New(mgr, host, opts)
	t.Cleanup(o.Close)
	return &fixture{mgr: mgr, host: host, orch: o}
}

func (f *fixture) frame(id field.FrameID, t geom.Transform) *fakeFrame {
	ff := &fakeFrame{t: t}
	f.host.frames[id] = ff
	return ff
}

func bodies(bs ...*fakeBody) []Body {
	out := make([]Body, len(bs))
	for i, b := range bs {
		out[i] = b
	}
	return out
}

func TestRunTickIntraFrameForce(t *testing.T) {
	fx := newFixture(t, Options{})
	ship := fx.frame(1, geom.Identity())
	fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 9.81)))

	bs := bodies(
		owned(1, 1, r3.Vec{X: 1}, 2, ship.t),
		owned(2, 1, r3.Vec{X: -1}, 2, ship.t),
	)
	stats, err := fx.orch.RunTick(context.Background(), 1, bs)
	if err != nil {
		t.Fatal(err)
	}
	if len(ship.applied) != 1 {
		t.Fatalf("applied %d forces, want 1", len(ship.applied))
	}
	got := ship.applied[0]
	if !geom.NearlyEqual(got.force, r3.Vec{Y: -4 * 9.81}, 1e-9) {
		t.Errorf("force = %v", got.force)
	}
	if !geom.NearlyEqual(got.point, r3.Vec{}, 1e-9) {
		t.Errorf("point = %v, want origin", got.point)
	}
	if stats.Events != 1 || stats.Frames != 1 || stats.FramesApplied != 1 || stats.IntraRecomputed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !fx.orch.CachedIntra(1) {
		t.Error("intra force was not cached")
	}

	stats, _ = fx.orch.RunTick(context.Background(), 2, bs)
	if stats.IntraRecomputed != 0 {
		t.Error("unchanged frame recomputed its intra force")
	}
	if len(ship.applied) != 2 || !geom.NearlyEqual(ship.applied[1].force, got.force, 1e-12) {
		t.Errorf("cached force not re-applied: %v", ship.applied)
	}
}

func TestIntraCacheInvalidatedByTopology(t *testing.T) {
	fx := newFixture(t, Options{})
	ship := fx.frame(1, geom.Identity())
	gen := generator(1, 1, r3.Vec{}, 10, 1)
	fx.mgr.Push(gravity.SourceAdded(gen))
	bs := bodies(owned(1, 1, r3.Vec{}, 1, ship.t))

	fx.orch.RunTick(context.Background(), 1, bs)

	gen.Strength = 3
	fx.mgr.Push(gravity.StrengthChanged(gen))
	stats, _ := fx.orch.RunTick(context.Background(), 2, bs)
	if stats.IntraRecomputed != 1 {
		t.Errorf("strength change did not invalidate the intra cache: %+v", stats)
	}
	if f := ship.applied[1].force; !geom.NearlyEqual(f, r3.Vec{Y: -3}, 1e-12) {
		t.Errorf("force after strength change = %v", f)
	}
}

func TestIntraCacheInvalidatedByBodyLayout(t *testing.T) {
	fx := newFixture(t, Options{})
	ship := fx.frame(1, geom.Identity())
	fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 1)))
	b := owned(1, 1, r3.Vec{X: 1}, 1, ship.t)

	fx.orch.RunTick(context.Background(), 1, bodies(b))

	b.st.Mass = 5
	stats, _ := fx.orch.RunTick(context.Background(), 2, bodies(b))
	if stats.IntraRecomputed != 1 {
		t.Fatalf("mass change did not invalidate the intra cache")
	}
	if f := ship.applied[1].force; !geom.NearlyEqual(f, r3.Vec{Y: -5}, 1e-12) {
		t.Errorf("force = %v", f)
	}

	b.st.LocalPos = r3.Vec{X: 2}
	stats, _ = fx.orch.RunTick(context.Background(), 3, bodies(b))
	if stats.IntraRecomputed != 1 {
		t.Error("moved body did not invalidate the intra cache")
	}
	if p := ship.applied[2].point; !geom.NearlyEqual(p, r3.Vec{X: 2}, 1e-12) {
		t.Errorf("point = %v", p)
	}
}

func TestFreeBodies(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.frame(1, geom.Identity())
	fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 9.81)))

	heavy := free(1, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, 3)
	light := free(2, r3.Vec{X: 0.5}, 0)
	far := free(3, r3.Vec{X: 1000}, 1)
	stats, _ := fx.orch.RunTick(context.Background(), 1, bodies(heavy, light, far))

	if len(heavy.forces) != 1 || !geom.NearlyEqual(heavy.forces[0], r3.Vec{Y: -3 * 9.81}, 1e-9) {
		t.Errorf("heavy forces = %v", heavy.forces)
	}
	if len(light.accels) != 1 || !geom.NearlyEqual(light.accels[0], r3.Vec{Y: -9.81}, 1e-12) {
		t.Errorf("massless body accels = %v", light.accels)
	}
	if len(far.forces)+len(far.accels) != 0 {
		t.Error("body outside every field received a force")
	}
	if stats.FreeApplied != 2 {
		t.Errorf("FreeApplied = %d", stats.FreeApplied)
	}
}

func TestInterFrameForceRotatesThroughLocalSpace(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.frame(1, geom.Identity())
	fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{X: 100}, 10, 2)))

	tr := geom.NewTransform(math.Pi/2, r3.Vec{Z: 1}, r3.Vec{X: 100})
	shuttle := fx.frame(2, tr)
	stats, _ := fx.orch.RunTick(context.Background(), 1, bodies(owned(1, 2, r3.Vec{}, 1, tr)))

	if len(shuttle.applied) != 1 {
		t.Fatalf("shuttle got %d forces: %+v", len(shuttle.applied), stats)
	}
	got := shuttle.applied[0]
	if !geom.NearlyEqual(got.force, r3.Vec{Y: -2}, 1e-9) {
		t.Errorf("world force = %v, want (0,-2,0)", got.force)
	}
	if !geom.NearlyEqual(got.point, r3.Vec{X: 100}, 1e-9) {
		t.Errorf("world point = %v", got.point)
	}
}

func TestOwnFieldIsNotCountedTwice(t *testing.T) {
	fx := newFixture(t, Options{})
	ship := fx.frame(1, geom.Identity())
	fx.frame(2, geom.NewTransform(0, r3.Vec{}, r3.Vec{X: 1}))
	fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 1)))
	fx.mgr.Push(gravity.SourceAdded(generator(2, 2, r3.Vec{}, 10, 4)))

	fx.orch.RunTick(context.Background(), 1, bodies(owned(1, 1, r3.Vec{}, 1, ship.t)))
	if f := ship.applied[0].force; !geom.NearlyEqual(f, r3.Vec{Y: -5}, 1e-12) {
		t.Errorf("force = %v, want own 1 + foreign 4", f)
	}
}

func TestCenterOfMassOverride(t *testing.T) {
	fx := newFixture(t, Options{UseCenterOfMassOverride: true})
	ship := fx.frame(1, geom.Identity())
	ship.com = r3.Vec{X: 7, Y: 7, Z: 7}
	fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 1)))

	fx.orch.RunTick(context.Background(), 1, bodies(owned(1, 1, r3.Vec{X: 2}, 1, ship.t)))
	if p := ship.applied[0].point; p != ship.com {
		t.Errorf("point = %v, want centre of mass", p)
	}
}

func TestSuppressAfterDiscontinuity(t *testing.T) {
	tests := []struct {
		name     string
		suppress bool
		want     int
	}{
		{"enabled", true, 2},
		{"disabled", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, Options{SuppressForceAfterDiscontinuity: tt.suppress})
			ship := fx.frame(1, geom.Identity())
			fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 1)))
			bs := bodies(owned(1, 1, r3.Vec{}, 1, ship.t))

			fx.orch.RunTick(context.Background(), 1, bs)
			fx.orch.NotifyDiscontinuity(1)
			stats, _ := fx.orch.RunTick(context.Background(), 2, bs)
			fx.orch.RunTick(context.Background(), 3, bs)

			if len(ship.applied) != tt.want {
				t.Errorf("applied %d times, want %d", len(ship.applied), tt.want)
			}
			if tt.suppress && stats.Suppressed != 1 {
				t.Errorf("Suppressed = %d", stats.Suppressed)
			}
		})
	}
}

func TestSkipsAndFailures(t *testing.T) {
	fx := newFixture(t, Options{})
	ok := fx.frame(1, geom.Identity())
	static := fx.frame(2, geom.NewTransform(0, r3.Vec{}, r3.Vec{X: 200}))
	static.static = true
	broken := fx.frame(3, geom.NewTransform(0, r3.Vec{}, r3.Vec{X: 400}))
	broken.failErr = fmt.Errorf("physics gone: %w", ErrNoHandle)
	empty := fx.frame(4, geom.NewTransform(0, r3.Vec{}, r3.Vec{X: 600}))
	for i, id := range []field.FrameID{1, 2, 3} {
		fx.mgr.Push(gravity.SourceAdded(generator(field.SourceID(i+1), id, r3.Vec{}, 10, 1)))
	}

	closed := owned(5, 9, r3.Vec{}, 1, geom.Identity()) // frame 9 has no handle
	errored := free(6, r3.Vec{}, 1)
	errored.err = errors.New("entity closed")

	stats, err := fx.orch.RunTick(context.Background(), 1, bodies(
		owned(1, 1, r3.Vec{}, 1, ok.t),
		owned(2, 2, r3.Vec{}, 1, static.t),
		owned(3, 3, r3.Vec{}, 1, broken.t),
		owned(4, 4, r3.Vec{}, 1, empty.t),
		closed,
		errored,
	))
	if err != nil {
		t.Fatal(err)
	}

	if len(ok.applied) != 1 {
		t.Error("healthy frame was not applied")
	}
	if len(static.applied) != 0 || stats.Refused != 1 {
		t.Errorf("static frame: applied=%d refused=%d", len(static.applied), stats.Refused)
	}
	if stats.FramesZero != 1 || len(empty.applied) != 0 {
		t.Errorf("zero-force frame: FramesZero=%d", stats.FramesZero)
	}
	// frame 9 at snapshot, frame 3 at apply
	if stats.MissingHandles != 2 {
		t.Errorf("MissingHandles = %d, want 2", stats.MissingHandles)
	}
	if stats.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", stats.Skipped)
	}
	if stats.FramesApplied != 1 {
		t.Errorf("FramesApplied = %d", stats.FramesApplied)
	}
}

// panicBody is a host body whose every call panics, like a handle to an
// entity the host has already torn down.
type panicBody struct{ fakeBody }

func (b *panicBody) State() (BodyState, error) { panic("closed entity") }

type panicFrame struct{ fakeFrame }

func (f *panicFrame) ApplyForceAt(r3.Vec, r3.Vec) error { panic("rigid body destroyed") }

type panicForceBody struct{ fakeBody }

func (b *panicForceBody) ApplyForce(r3.Vec) error { panic("rigid body destroyed") }

func TestHostPanicsAreContained(t *testing.T) {
	mgr := gravity.NewManager(gravity.Options{Margin: field.DefaultMargin})
	base := &fakeHost{frames: map[field.FrameID]*fakeFrame{}}
	healthy := &fakeFrame{t: geom.Identity()}
	doomed := &panicFrame{fakeFrame{t: geom.NewTransform(0, r3.Vec{}, r3.Vec{X: 300})}}
	base.frames[1] = healthy
	base.frames[2] = &doomed.fakeFrame
	orch := New(mgr, &panicHost{fakeHost: base, frame: 2, rigid: doomed}, Options{})
	t.Cleanup(orch.Close)

	mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 9.81)))
	mgr.Push(gravity.SourceAdded(generator(2, 2, r3.Vec{}, 10, 9.81)))

	bad := &panicBody{}
	badFree := &panicForceBody{fakeBody{st: BodyState{ID: 9, WorldPos: r3.Vec{X: 0.5}, Mass: 1}}}
	healthyFree := free(10, r3.Vec{X: -0.5}, 1)

	stats, err := orch.RunTick(context.Background(), 1, []Body{
		bad,
		owned(1, 1, r3.Vec{X: 1}, 1, healthy.t),
		owned(2, 2, r3.Vec{}, 1, doomed.t),
		badFree,
		healthyFree,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(healthy.applied) != 1 || stats.FramesApplied != 1 {
		t.Errorf("healthy frame applied %d forces, FramesApplied = %d", len(healthy.applied), stats.FramesApplied)
	}
	if len(healthyFree.forces) != 1 || stats.FreeApplied != 1 {
		t.Errorf("healthy free body got %d forces, FreeApplied = %d", len(healthyFree.forces), stats.FreeApplied)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	// State panic, frame commit panic, free-body commit panic.
	if stats.Failed != 3 {
		t.Errorf("Failed = %d, want 3", stats.Failed)
	}
}

type panicHost struct {
	*fakeHost
	frame field.FrameID
	rigid RigidFrame
}

func (h *panicHost) RigidFrame(id field.FrameID) (RigidFrame, error) {
	if id == h.frame {
		return h.rigid, nil
	}
	return h.fakeHost.RigidFrame(id)
}

func TestDisabledBodyFeelsNoField(t *testing.T) {
	fx := newFixture(t, Options{})
	ship := fx.frame(1, geom.Identity())
	fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 9.81)))

	a := owned(1, 1, r3.Vec{X: 1}, 2, ship.t)
	b := owned(2, 1, r3.Vec{X: -1}, 2, ship.t)
	if _, err := fx.orch.RunTick(context.Background(), 1, bodies(a, b)); err != nil {
		t.Fatal(err)
	}

	b.st.Disabled = true
	stats, err := fx.orch.RunTick(context.Background(), 2, bodies(a, b))
	if err != nil {
		t.Fatal(err)
	}
	if stats.IntraRecomputed != 1 {
		t.Errorf("IntraRecomputed = %d, want 1 after the layout changed", stats.IntraRecomputed)
	}
	got := ship.applied[1]
	if !geom.NearlyEqual(got.force, r3.Vec{Y: -2 * 9.81}, 1e-9) {
		t.Errorf("force = %v, want only the enabled body's share", got.force)
	}
	if !geom.NearlyEqual(got.point, r3.Vec{X: 1}, 1e-9) {
		t.Errorf("point = %v, want (1,0,0)", got.point)
	}

	dormant := free(3, r3.Vec{}, 1)
	dormant.st.Disabled = true
	if _, err := fx.orch.RunTick(context.Background(), 3, bodies(dormant)); err != nil {
		t.Fatal(err)
	}
	if len(dormant.forces) != 0 {
		t.Errorf("disabled free body received %v", dormant.forces)
	}
}

func TestParallelCollectMatchesSerial(t *testing.T) {
	run := func(workers, threshold int) [][]r3.Vec {
		fx := newFixture(t, Options{Workers: workers, Threshold: threshold})
		fx.frame(1, geom.Identity())
		fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 40, 2)))
		fx.mgr.Push(gravity.SourceAdded(generator(2, 1, r3.Vec{X: 10}, 20, 3)))

		var bs []*fakeBody
		for i := 0; i < 300; i++ {
			bs = append(bs, free(BodyID(i), r3.Vec{X: float64(i%40) - 20, Y: float64(i % 7)}, 1+float64(i%3)))
		}
		fx.orch.RunTick(context.Background(), 1, bodies(bs...))

		out := make([][]r3.Vec, len(bs))
		for i, b := range bs {
			out[i] = b.forces
		}
		return out
	}

	serial := run(1, 1000)
	parallel := run(4, 8)
	for i := range serial {
		if len(serial[i]) != len(parallel[i]) {
			t.Fatalf("body %d: %d vs %d forces", i, len(serial[i]), len(parallel[i]))
		}
		for j := range serial[i] {
			if serial[i][j] != parallel[i][j] {
				t.Fatalf("body %d: serial %v, parallel %v", i, serial[i][j], parallel[i][j])
			}
		}
	}
}

func TestRunTickHonoursCancellation(t *testing.T) {
	fx := newFixture(t, Options{})
	ship := fx.frame(1, geom.Identity())
	fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fx.orch.RunTick(ctx, 1, bodies(owned(1, 1, r3.Vec{}, 1, ship.t)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(ship.applied) != 0 {
		t.Error("cancelled tick applied forces")
	}
}

func TestClosedFrameDropsIntraCache(t *testing.T) {
	fx := newFixture(t, Options{})
	ship := fx.frame(1, geom.Identity())
	fx.mgr.Push(gravity.SourceAdded(generator(1, 1, r3.Vec{}, 10, 1)))
	fx.orch.RunTick(context.Background(), 1, bodies(owned(1, 1, r3.Vec{}, 1, ship.t)))
	if !fx.orch.CachedIntra(1) {
		t.Fatal("expected a cached intra force")
	}

	fx.mgr.Push(gravity.FrameClosed(1))
	delete(fx.host.frames, 1)
	fx.orch.RunTick(context.Background(), 2, nil)
	if fx.orch.CachedIntra(1) {
		t.Error("closed frame kept its intra cache")
	}
}
