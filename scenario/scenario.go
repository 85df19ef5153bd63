// Package scenario loads reference-host scenarios: ships with their field
// sources and mass blocks, free bodies, and scripted topology changes.
//
// Files are YAML. Before decoding they are validated against an embedded
// JSON Schema, then checked for references that the schema cannot express
// (duplicate IDs, events naming unknown ships or sources).
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/geom"
)

// ErrInvalid is wrapped by every error caused by the scenario content
// rather than by I/O.
var ErrInvalid = errors.New("invalid scenario")

//go:embed scenario.schema.json
var schemaJSON []byte

//go:embed examples/docking.yaml
var dockingYAML []byte

const schemaURL = "scenario.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("adding schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Vec3 is a YAML [x, y, z] triple.
type Vec3 [3]float64

// Vec converts v to an r3.Vec.
func (v Vec3) Vec() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// Rotation is an axis-angle orientation in radians.
type Rotation struct {
	Angle float64 `yaml:"angle"`
	Axis  Vec3    `yaml:"axis"`
}

// Source describes one field source of a ship.
type Source struct {
	ID       uint64  `yaml:"id"`
	Kind     string  `yaml:"kind"`
	Position Vec3    `yaml:"position"`
	Strength float64 `yaml:"strength"`
	Enabled  *bool   `yaml:"enabled,omitempty"` // nil means enabled
	Extent   Vec3    `yaml:"extent"`
	Down     Vec3    `yaml:"down"`
	Radius   float64 `yaml:"radius,omitempty"`
}

// Block is a frame-owned mass that feels the field.
type Block struct {
	Position Vec3    `yaml:"position"` // frame-local
	Mass     float64 `yaml:"mass"`
}

// Ship is a rigid frame.
type Ship struct {
	ID              uint64    `yaml:"id"`
	Name            string    `yaml:"name"`
	Position        Vec3      `yaml:"position"`
	Rotation        *Rotation `yaml:"rotation,omitempty"`
	Velocity        Vec3      `yaml:"velocity"`
	AngularVelocity Vec3      `yaml:"angular_velocity"`
	Static          bool      `yaml:"static"`
	Sources         []Source  `yaml:"sources"`
	Blocks          []Block   `yaml:"blocks"`
}

// Body is a free body, not owned by any ship.
type Body struct {
	Position Vec3    `yaml:"position"`
	Velocity Vec3    `yaml:"velocity"`
	Mass     float64 `yaml:"mass"` // 0 means the field acts as an acceleration
}

// Action names a scripted change.
type Action string

const (
	ActionToggle   Action = "toggle"
	ActionStrength Action = "strength"
	ActionResize   Action = "resize"
	ActionRemove   Action = "remove"
	ActionReassign Action = "reassign" // move Source to Ship, keeping its local placement
	ActionTeleport Action = "teleport"
	ActionClose    Action = "close"
)

// Event is a scripted change fired at the start of Tick.
type Event struct {
	Tick     uint64  `yaml:"tick"`
	Action   Action  `yaml:"action"`
	Ship     uint64  `yaml:"ship,omitempty"`
	Source   uint64  `yaml:"source,omitempty"`
	Strength float64 `yaml:"strength"`
	Extent   *Vec3   `yaml:"extent,omitempty"`
	Radius   float64 `yaml:"radius,omitempty"`
	Position Vec3    `yaml:"position"`
}

// Scenario is a fully validated scenario.
type Scenario struct {
	Name   string  `yaml:"name"`
	Ticks  uint64  `yaml:"ticks,omitempty"` // 0 defers to config
	Ships  []Ship  `yaml:"ships"`
	Bodies []Body  `yaml:"bodies"`
	Events []Event `yaml:"events"`
}

// Load reads and validates the scenario at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Default returns the built-in docking scenario.
func Default() *Scenario {
	sc, err := Parse(dockingYAML)
	if err != nil {
		panic(fmt.Sprintf("scenario: built-in scenario invalid: %v", err))
	}
	return sc
}

// Parse validates and decodes a YAML scenario. Events are returned sorted
// by tick, keeping file order within a tick.
func Parse(data []byte) (*Scenario, error) {
	s, err := compiled()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	inst, err := toJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := sc.check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	sort.SliceStable(sc.Events, func(i, j int) bool {
		return sc.Events[i].Tick < sc.Events[j].Tick
	})
	return &sc, nil
}

// toJSON round-trips a YAML document through encoding/json so the validator
// sees the JSON value types it expects.
func toJSON(doc any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// check enforces cross-references the schema cannot express.
func (sc *Scenario) check() error {
	ships := make(map[uint64]bool, len(sc.Ships))
	sources := make(map[uint64]bool)
	for i, sh := range sc.Ships {
		if ships[sh.ID] {
			return fmt.Errorf("ships[%d]: duplicate ship id %d", i, sh.ID)
		}
		ships[sh.ID] = true
		for j, src := range sh.Sources {
			if sources[src.ID] {
				return fmt.Errorf("ships[%d].sources[%d]: duplicate source id %d", i, j, src.ID)
			}
			sources[src.ID] = true
			if src.Kind == "directional" && r3.Norm2(src.Down.Vec()) == 0 {
				return fmt.Errorf("ships[%d].sources[%d]: down must be non-zero", i, j)
			}
		}
	}
	for i, ev := range sc.Events {
		if ev.Ship != 0 && !ships[ev.Ship] {
			return fmt.Errorf("events[%d]: unknown ship %d", i, ev.Ship)
		}
		if ev.Source != 0 && !sources[ev.Source] {
			return fmt.Errorf("events[%d]: unknown source %d", i, ev.Source)
		}
	}
	return nil
}

// Transform returns the ship's initial world transform.
func (sh *Ship) Transform() geom.Transform {
	if sh.Rotation == nil {
		return geom.NewTransform(0, r3.Vec{}, sh.Position.Vec())
	}
	return geom.NewTransform(sh.Rotation.Angle, sh.Rotation.Axis.Vec(), sh.Position.Vec())
}

// FieldSource converts src into the engine's source owned by frame.
func (src *Source) FieldSource(frame field.FrameID) field.Source {
	fs := field.Source{
		ID:       field.SourceID(src.ID),
		Frame:    frame,
		Position: src.Position.Vec(),
		Strength: src.Strength,
		Enabled:  src.Enabled == nil || *src.Enabled,
	}
	switch src.Kind {
	case "radial":
		fs.Kind = field.KindRadial
		fs.Radial.Radius = src.Radius
	default:
		fs.Kind = field.KindDirectional
		fs.Directional.Extent = src.Extent.Vec()
		fs.Directional.Down = r3.Unit(src.Down.Vec())
	}
	return fs
}

// Count returns the number of sources and mass blocks across all ships.
func (sc *Scenario) Count() (sources, blocks int) {
	for _, sh := range sc.Ships {
		sources += len(sh.Sources)
		blocks += len(sh.Blocks)
	}
	return sources, blocks
}
