package sim

import (
	"testing"

	"github.com/pthm-cable/gdrive/forces"
)

func TestSnapshotOrdersShips(t *testing.T) {
	f := newFixture(t, `
name: pair
ships:
  - id: 7
    name: tug
    static: true
    blocks:
      - { position: [0, 0, 0], mass: 1 }
  - id: 2
    name: barge
    sources:
      - { id: 20, kind: directional, extent: [4, 4, 4], down: [0, 0, -1], strength: 1 }
      - { id: 21, kind: radial, radius: 3, strength: 1 }
    blocks:
      - { position: [2, 0, 0], mass: 3 }
bodies:
  - { position: [0, 5, 0], mass: 1 }
`, forces.Options{})
	f.step(t, 1)

	snap := f.w.Snapshot(1)
	if snap.Scenario != "pair" || snap.Tick != 1 {
		t.Errorf("header = %q@%d", snap.Scenario, snap.Tick)
	}
	if len(snap.Ships) != 2 {
		t.Fatalf("ships = %d, want 2", len(snap.Ships))
	}
	barge, tug := snap.Ships[0], snap.Ships[1]
	if barge.Frame != 2 || tug.Frame != 7 {
		t.Fatalf("order = %d, %d", barge.Frame, tug.Frame)
	}
	if barge.Sources != 2 || tug.Sources != 0 || !tug.Static {
		t.Errorf("barge = %+v, tug = %+v", barge, tug)
	}
	if barge.Mass != 3 || !near(barge.CenterOfMass[0], 2+barge.Position[0]) {
		t.Errorf("barge mass properties = %+v", barge)
	}
	if !near(barge.Rotation[0], 1) {
		t.Errorf("barge rotation = %v, want identity", barge.Rotation)
	}
	if len(snap.Particles) != 1 || snap.Particles[0].Position[1] != 5 {
		t.Errorf("particles = %+v", snap.Particles)
	}
}

func TestSnapshotAfterClose(t *testing.T) {
	f := newFixture(t, carrier, forces.Options{})
	f.step(t, 1)
	if err := f.w.Close(1); err != nil {
		t.Fatal(err)
	}
	if snap := f.w.Snapshot(2); len(snap.Ships) != 0 {
		t.Errorf("closed ship still in snapshot: %+v", snap.Ships)
	}
}
