package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNilOutputManagerIsNoop(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = %v, %v", om, err)
	}
	if err := om.WriteTick(TickStats{Tick: 1}); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
	if om.Dir() != "" {
		t.Error("nil manager should report empty dir")
	}
}

func TestOutputManagerWritesHeaderOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	for tick := uint64(1); tick <= 3; tick++ {
		if err := om.WriteTick(TickStats{Tick: tick, Bodies: 5, FramesApplied: 2}); err != nil {
			t.Fatal(err)
		}
	}
	var w CacheWindow
	if err := om.WriteCache(w.Next(3, cache(4, 1))); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ticks.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("ticks.csv has %d lines, want header + 3:\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "tick,events,bodies") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[3], "3,0,5") {
		t.Errorf("unexpected last row %q", lines[3])
	}

	cacheData, err := os.ReadFile(filepath.Join(dir, "cache.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(cacheData), "window_hit_rate") {
		t.Errorf("cache.csv missing header:\n%s", cacheData)
	}
}
