package telemetry

import "log/slog"

// TickStats holds the orchestrator's counters for one tick.
type TickStats struct {
	Tick            uint64 `csv:"tick"`
	Events          int    `csv:"events"`
	Bodies          int    `csv:"bodies"`
	Skipped         int    `csv:"skipped"` // State() failed
	Failed          int    `csv:"failed"`  // collect task panicked or commit errored
	Frames          int    `csv:"frames"`
	FramesApplied   int    `csv:"frames_applied"`
	FramesZero      int    `csv:"frames_zero"`
	Suppressed      int    `csv:"suppressed"`
	Refused         int    `csv:"refused"` // frame does not accept forces
	MissingHandles  int    `csv:"missing_handles"`
	IntraRecomputed int    `csv:"intra_recomputed"`
	FreeApplied     int    `csv:"free_applied"`
}

// Add accumulates o into s. Tick is taken from o.
func (s *TickStats) Add(o TickStats) {
	s.Tick = o.Tick
	s.Events += o.Events
	s.Bodies += o.Bodies
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Frames += o.Frames
	s.FramesApplied += o.FramesApplied
	s.FramesZero += o.FramesZero
	s.Suppressed += o.Suppressed
	s.Refused += o.Refused
	s.MissingHandles += o.MissingHandles
	s.IntraRecomputed += o.IntraRecomputed
	s.FreeApplied += o.FreeApplied
}

// LogValue implements slog.LogValuer.
func (s TickStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("tick", s.Tick),
		slog.Int("events", s.Events),
		slog.Int("bodies", s.Bodies),
		slog.Int("skipped", s.Skipped),
		slog.Int("failed", s.Failed),
		slog.Int("frames", s.Frames),
		slog.Int("frames_applied", s.FramesApplied),
		slog.Int("suppressed", s.Suppressed),
		slog.Int("missing_handles", s.MissingHandles),
		slog.Int("intra_recomputed", s.IntraRecomputed),
	)
}
