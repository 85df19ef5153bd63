package telemetry

import (
	"github.com/pthm-cable/gdrive/gravity"
)

// CacheStatsCSV is a flat record of the field caches at a window end.
type CacheStatsCSV struct {
	WindowEnd  uint64  `csv:"window_end"`
	Frames     int     `csv:"frames"`
	Indexed    int     `csv:"indexed"`
	Sources    int     `csv:"sources"`
	Voxels     int     `csv:"voxels"`
	Regions    int     `csv:"regions"`
	Hits       uint64  `csv:"hits"`
	Misses     uint64  `csv:"misses"`
	Recomputes uint64  `csv:"recomputes"`
	Rederives  uint64  `csv:"rederives"`
	Evicted    uint64  `csv:"evicted"`
	HitRate    float64 `csv:"hit_rate"`

	// Deltas since the previous window.
	WindowHits    uint64  `csv:"window_hits"`
	WindowMisses  uint64  `csv:"window_misses"`
	WindowHitRate float64 `csv:"window_hit_rate"`
}

// CacheWindow turns cumulative cache counters into per-window records.
type CacheWindow struct {
	prev gravity.CacheStats
}

// Next returns the record for a window ending at tick.
func (w *CacheWindow) Next(tick uint64, s gravity.CacheStats) CacheStatsCSV {
	rec := CacheStatsCSV{
		WindowEnd:  tick,
		Frames:     s.Frames,
		Indexed:    s.Indexed,
		Sources:    s.Sources,
		Voxels:     s.Voxels,
		Regions:    s.Regions,
		Hits:       s.Hits,
		Misses:     s.Misses,
		Recomputes: s.Recomputes,
		Rederives:  s.Rederives,
		Evicted:    s.Evicted,
		HitRate:    s.HitRate(),
	}

	// Counters can go backwards when frames are erased; clamp at zero.
	rec.WindowHits = delta(s.Hits, w.prev.Hits)
	rec.WindowMisses = delta(s.Misses, w.prev.Misses)
	lookups := rec.WindowHits + rec.WindowMisses +
		delta(s.Recomputes, w.prev.Recomputes) + delta(s.Rederives, w.prev.Rederives)
	if lookups > 0 {
		rec.WindowHitRate = float64(rec.WindowHits) / float64(lookups)
	}
	w.prev = s
	return rec
}

func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
