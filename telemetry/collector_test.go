package telemetry

import "testing"

func TestCollectorWindows(t *testing.T) {
	c := NewCollector(3)

	var flushed []WindowStats
	hits := uint64(0)
	for tick := uint64(1); tick <= 6; tick++ {
		c.Record(TickStats{Tick: tick, Events: 1, FramesApplied: 2})
		hits += 10
		if c.ShouldFlush(tick) {
			flushed = append(flushed, c.Flush(tick, cache(hits, 0)))
		}
	}

	if len(flushed) != 2 {
		t.Fatalf("flushed %d windows, want 2", len(flushed))
	}
	for i, ws := range flushed {
		if ws.Ticks != 3 || ws.Totals.Events != 3 || ws.Totals.FramesApplied != 6 {
			t.Errorf("window %d = %+v", i, ws)
		}
		if ws.Cache.WindowHits != 30 {
			t.Errorf("window %d hits = %d, want 30", i, ws.Cache.WindowHits)
		}
	}
	if flushed[1].WindowEnd != 6 || flushed[1].Totals.Tick != 6 {
		t.Errorf("second window end = %d, tick = %d", flushed[1].WindowEnd, flushed[1].Totals.Tick)
	}
}

func TestCollectorZeroWindow(t *testing.T) {
	c := NewCollector(0)
	if c.WindowTicks() != 1 {
		t.Errorf("WindowTicks() = %d, want 1", c.WindowTicks())
	}
	if !c.ShouldFlush(7) {
		t.Error("every tick should flush")
	}
}
