package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkCacheThrash   BookmarkType = "cache_thrash"
	BookmarkTopologyBurst BookmarkType = "topology_burst"
	BookmarkHandleLoss    BookmarkType = "handle_loss"
	BookmarkSteadyState   BookmarkType = "steady_state"
)

// steadyWindowsToTrigger is the streak length that marks a steady state.
const steadyWindowsToTrigger = 5

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `json:"type"`
	Tick        uint64       `json:"tick"`
	Description string       `json:"description"`
}

// LogBookmark logs the bookmark to log.
func (b Bookmark) LogBookmark(log *slog.Logger) {
	log.Info("bookmark",
		"type", string(b.Type),
		"tick", b.Tick,
		"description", b.Description,
	)
}

// BookmarkDetector flags telemetry windows worth a closer look.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	steadyWindows int
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 3 {
		historySize = 3
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest window and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if bd.historyFull || bd.historyIdx > 0 {
		// Cache thrash: hit rate fell below half the rolling average
		if b := bd.checkCacheThrash(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Topology burst: event count > 3x rolling average
		if b := bd.checkTopologyBurst(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Handle loss: commits started failing after a clean window
		if b := bd.checkHandleLoss(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	// Steady state: fully cached windows with no topology changes
	if b := bd.checkSteadyState(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) latest() WindowStats {
	i := bd.historyIdx - 1
	if i < 0 {
		i = bd.historySize - 1
	}
	return bd.history[i]
}

func (bd *BookmarkDetector) checkCacheThrash(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 2 {
		return nil
	}
	if stats.Cache.WindowHits+stats.Cache.WindowMisses == 0 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.Cache.WindowHitRate
	}
	avg := total / float64(len(history))
	if avg < 0.5 {
		return nil
	}

	if stats.Cache.WindowHitRate < avg*0.5 {
		return &Bookmark{
			Type:        BookmarkCacheThrash,
			Tick:        stats.WindowEnd,
			Description: fmt.Sprintf("Hit rate %.2f fell below half the average (%.2f)", stats.Cache.WindowHitRate, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkTopologyBurst(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 2 || stats.Totals.Events < 5 {
		return nil
	}

	var total int
	for _, h := range history {
		total += h.Totals.Events
	}
	avg := float64(total) / float64(len(history))

	if float64(stats.Totals.Events) > avg*3 {
		return &Bookmark{
			Type:        BookmarkTopologyBurst,
			Tick:        stats.WindowEnd,
			Description: fmt.Sprintf("%d topology events vs %.1f average", stats.Totals.Events, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkHandleLoss(stats WindowStats) *Bookmark {
	lost := stats.Totals.MissingHandles + stats.Totals.Failed
	if lost == 0 {
		return nil
	}
	prev := bd.latest()
	if prev.Totals.MissingHandles+prev.Totals.Failed > 0 {
		return nil
	}
	return &Bookmark{
		Type:        BookmarkHandleLoss,
		Tick:        stats.WindowEnd,
		Description: fmt.Sprintf("%d missing handles, %d failed commits", stats.Totals.MissingHandles, stats.Totals.Failed),
	}
}

func (bd *BookmarkDetector) checkSteadyState(stats WindowStats) *Bookmark {
	if stats.Totals.Events > 0 || stats.Cache.WindowHitRate < 0.99 {
		bd.steadyWindows = 0
		return nil
	}
	bd.steadyWindows++
	if bd.steadyWindows == steadyWindowsToTrigger { // trigger exactly once per streak
		return &Bookmark{
			Type:        BookmarkSteadyState,
			Tick:        stats.WindowEnd,
			Description: fmt.Sprintf("No topology changes and %.3f hit rate over %d windows", stats.Cache.WindowHitRate, steadyWindowsToTrigger),
		}
	}
	return nil
}
