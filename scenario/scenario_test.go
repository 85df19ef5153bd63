package scenario

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/gdrive/field"
)

const minimal = `
ships:
  - id: 1
    sources:
      - { id: 10, kind: directional, extent: [10, 10, 10], down: [0, 0, -2], strength: 9.81 }
`

func TestDefaultScenario(t *testing.T) {
	sc := Default()
	if sc.Name != "docking" {
		t.Errorf("name = %q", sc.Name)
	}
	if len(sc.Ships) != 3 {
		t.Fatalf("ships = %d, want 3", len(sc.Ships))
	}
	sources, blocks := sc.Count()
	if sources != 4 || blocks != 8 {
		t.Errorf("Count() = %d, %d", sources, blocks)
	}
	for i := 1; i < len(sc.Events); i++ {
		if sc.Events[i].Tick < sc.Events[i-1].Tick {
			t.Fatalf("events not sorted: %+v", sc.Events)
		}
	}
	if !sc.Ships[2].Static {
		t.Error("station should be static")
	}
}

func TestParseMinimal(t *testing.T) {
	sc, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatal(err)
	}
	src := sc.Ships[0].Sources[0].FieldSource(field.FrameID(1))
	if src.Kind != field.KindDirectional || !src.Enabled {
		t.Errorf("unexpected source %+v", src)
	}
	// Down is normalized; strength carries the magnitude.
	if math.Abs(src.Directional.Down.Z+1) > 1e-12 {
		t.Errorf("down = %v, want unit -Z", src.Directional.Down)
	}
	if src.Frame != 1 || src.ID != 10 {
		t.Errorf("ids = %d/%d", src.Frame, src.ID)
	}
	tr := sc.Ships[0].Transform()
	if p := tr.Apply(src.Position); p != src.Position {
		t.Errorf("identity transform moved origin to %v", p)
	}
}

func TestParseDisabledRadial(t *testing.T) {
	sc, err := Parse([]byte(`
ships:
  - id: 4
    rotation: { angle: 1.5707963267948966, axis: [0, 0, 1] }
    sources:
      - { id: 1, kind: radial, radius: 3, strength: 2, enabled: false }
`))
	if err != nil {
		t.Fatal(err)
	}
	src := sc.Ships[0].Sources[0].FieldSource(4)
	if src.Kind != field.KindRadial || src.Radial.Radius != 3 || src.Enabled {
		t.Errorf("unexpected source %+v", src)
	}
	got := sc.Ships[0].Transform().ApplyDir(Vec3{1, 0, 0}.Vec())
	if math.Abs(got.Y-1) > 1e-9 {
		t.Errorf("rotated x axis = %v, want +Y", got)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no ships", "name: empty\n", "ships"},
		{"unknown key", "ships: [{id: 1, colour: red}]\n", "colour"},
		{"short vector", "ships: [{id: 1, position: [1, 2]}]\n", "position"},
		{"zero id", "ships: [{id: 0}]\n", "id"},
		{"directional without down", "ships: [{id: 1, sources: [{id: 1, kind: directional, extent: [1,1,1], strength: 1}]}]\n", "down"},
		{"radial without radius", "ships: [{id: 1, sources: [{id: 1, kind: radial, strength: 1}]}]\n", "radius"},
		{"bad kind", "ships: [{id: 1, sources: [{id: 1, kind: conical, strength: 1}]}]\n", "kind"},
		{"strength event without value", minimal + "events: [{tick: 1, action: strength, source: 10}]\n", "strength"},
		{"teleport without position", minimal + "events: [{tick: 1, action: teleport, ship: 1}]\n", "position"},
		{"reassign without ship", minimal + "events: [{tick: 1, action: reassign, source: 10}]\n", "ship"},
		{"unknown action", minimal + "events: [{tick: 1, action: explode, ship: 1}]\n", "action"},
		{"duplicate ship", "ships: [{id: 1}, {id: 1}]\n", "duplicate ship"},
		{"duplicate source", "ships: [{id: 1, sources: [{id: 3, kind: radial, radius: 1, strength: 1}]}, {id: 2, sources: [{id: 3, kind: radial, radius: 1, strength: 1}]}]\n", "duplicate source"},
		{"event unknown source", minimal + "events: [{tick: 1, action: toggle, source: 99}]\n", "unknown source"},
		{"event unknown ship", minimal + "events: [{tick: 1, action: close, ship: 7}]\n", "unknown ship"},
		{"zero down", "ships: [{id: 1, sources: [{id: 1, kind: directional, extent: [1,1,1], down: [0,0,0], strength: 1}]}]\n", "down"},
		{"not yaml", "ships: [\n", "invalid scenario"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Parse() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEventsSortedStable(t *testing.T) {
	sc, err := Parse([]byte(minimal + `
events:
  - { tick: 5, action: toggle, source: 10 }
  - { tick: 1, action: strength, source: 10, strength: 2 }
  - { tick: 5, action: remove, source: 10 }
`))
	if err != nil {
		t.Fatal(err)
	}
	got := []Action{sc.Events[0].Action, sc.Events[1].Action, sc.Events[2].Action}
	want := []Action{ActionStrength, ActionToggle, ActionRemove}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event order = %v, want %v", got, want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("missing file error = %v, want I/O error", err)
	}
}

// Tools write edited scenarios back out; the result must load again.
func TestMarshalledScenarioReloads(t *testing.T) {
	sc := Default()
	sc.Ships[0].Sources[0].Strength = 7.5
	data, err := yaml.Marshal(sc)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("reparse: %v\n%s", err, data)
	}
	if back.Ships[0].Sources[0].Strength != 7.5 {
		t.Errorf("strength = %v", back.Ships[0].Sources[0].Strength)
	}
	if len(back.Events) != len(sc.Events) || len(back.Bodies) != len(sc.Bodies) {
		t.Errorf("lost entries: %d events, %d bodies", len(back.Events), len(back.Bodies))
	}
}
