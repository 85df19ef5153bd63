package gravity

import (
	"log/slog"

	"github.com/pthm-cable/gdrive/field"
)

// CacheStats aggregates the sparse field counters of every frame.
type CacheStats struct {
	field.Stats
	Frames  int
	Indexed int // frames with a non-empty world box
	Pending int // queued, undrained events
}

// HitRate returns hits over all voxel lookups.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses + s.Recomputes + s.Rederives
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// LogValue implements slog.LogValuer.
func (s CacheStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("frames", s.Frames),
		slog.Int("indexed", s.Indexed),
		slog.Int("sources", s.Sources),
		slog.Int("voxels", s.Voxels),
		slog.Int("regions", s.Regions),
		slog.Uint64("hits", s.Hits),
		slog.Uint64("misses", s.Misses),
		slog.Uint64("recomputes", s.Recomputes),
		slog.Uint64("rederives", s.Rederives),
		slog.Uint64("evicted", s.Evicted),
		slog.Float64("hit_rate", s.HitRate()),
	)
}

// Stats returns a snapshot of the cache counters of all live frames.
func (m *Manager) Stats() CacheStats {
	m.mu.RLock()
	var out CacheStats
	out.Frames = len(m.frames)
	out.Indexed = m.tree.Len()
	for _, f := range m.frames {
		out.Add(f.field.Stats())
	}
	m.mu.RUnlock()
	out.Pending = m.queue.Len()
	return out
}
