package telemetry

import (
	"log/slog"

	"github.com/pthm-cable/gdrive/gravity"
)

// WindowStats summarizes one telemetry window.
type WindowStats struct {
	WindowEnd uint64
	Ticks     int
	Totals    TickStats // counters summed over the window
	Cache     CacheStatsCSV
}

// LogValue implements slog.LogValuer.
func (w WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("window_end", w.WindowEnd),
		slog.Int("ticks", w.Ticks),
		slog.Int("events", w.Totals.Events),
		slog.Int("frames_applied", w.Totals.FramesApplied),
		slog.Int("suppressed", w.Totals.Suppressed),
		slog.Int("missing_handles", w.Totals.MissingHandles),
		slog.Int("failed", w.Totals.Failed),
		slog.Float64("hit_rate", w.Cache.WindowHitRate),
	)
}

// Collector accumulates per-tick stats into fixed-length windows.
type Collector struct {
	windowTicks uint64
	ticks       int
	totals      TickStats
	cache       CacheWindow
}

// NewCollector creates a collector flushing every windowTicks ticks.
func NewCollector(windowTicks uint64) *Collector {
	if windowTicks == 0 {
		windowTicks = 1
	}
	return &Collector{windowTicks: windowTicks}
}

// Record adds one tick's stats to the current window.
func (c *Collector) Record(s TickStats) {
	c.totals.Add(s)
	c.ticks++
}

// ShouldFlush reports whether tick closes a window.
func (c *Collector) ShouldFlush(tick uint64) bool {
	return tick%c.windowTicks == 0
}

// Flush closes the window ending at tick and starts a new one.
func (c *Collector) Flush(tick uint64, cs gravity.CacheStats) WindowStats {
	ws := WindowStats{
		WindowEnd: tick,
		Ticks:     c.ticks,
		Totals:    c.totals,
		Cache:     c.cache.Next(tick, cs),
	}
	c.totals = TickStats{}
	c.ticks = 0
	return ws
}

// WindowTicks returns the window length in ticks.
func (c *Collector) WindowTicks() uint64 {
	return c.windowTicks
}
