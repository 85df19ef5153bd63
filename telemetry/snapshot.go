package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the host state at one tick, for inspection and diffing
// between runs.
type Snapshot struct {
	Version  int    `json:"version"`
	Scenario string `json:"scenario"`
	Tick     uint64 `json:"tick"`

	Ships     []ShipState     `json:"ships"`
	Particles []ParticleState `json:"particles"`

	Cache    *CacheStatsCSV `json:"cache,omitempty"`
	Bookmark *Bookmark      `json:"bookmark,omitempty"`
}

// ShipState holds one ship's pose and motion.
type ShipState struct {
	Frame  uint64 `json:"frame"`
	Name   string `json:"name,omitempty"`
	Static bool   `json:"static,omitempty"`

	Position        [3]float64 `json:"position"`
	Rotation        [4]float64 `json:"rotation"` // quaternion: real, i, j, k
	Velocity        [3]float64 `json:"velocity"`
	AngularVelocity [3]float64 `json:"angular_velocity"`
	CenterOfMass    [3]float64 `json:"center_of_mass"`
	Mass            float64    `json:"mass"`
	Sources         int        `json:"sources"`
}

// ParticleState holds one free body.
type ParticleState struct {
	ID       uint64     `json:"id"`
	Position [3]float64 `json:"position"`
	Velocity [3]float64 `json:"velocity"`
	Mass     float64    `json:"mass"`
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_%d", snapshot.Tick)
	if snapshot.Bookmark != nil {
		sanitized := strings.ReplaceAll(string(snapshot.Bookmark.Type), " ", "_")
		name = fmt.Sprintf("snapshot_%d_%s", snapshot.Tick, sanitized)
	}
	path := filepath.Join(dir, name+".json")

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}
	return &snapshot, nil
}
