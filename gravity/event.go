package gravity

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pthm-cable/gdrive/field"
)

// EventKind identifies a topology change.
type EventKind uint8

const (
	// EventSourceAdded inserts Event.Source into its frame.
	EventSourceAdded EventKind = iota
	// EventSourceRemoved removes Event.Source.ID.
	EventSourceRemoved
	// EventStrengthChanged sets the strength to Event.Source.Strength.
	EventStrengthChanged
	// EventEnabledChanged sets the enable flag to Event.Source.Enabled.
	EventEnabledChanged
	// EventShapeChanged replaces the kind, shape and local position.
	EventShapeChanged
	// EventFrameChanged reassigns Event.Source from Event.From to
	// Event.Frame.
	EventFrameChanged
	// EventFrameTouched reports a frame-level change that affects cached
	// intra-frame forces but not the field (a teleport, mass redistribution).
	EventFrameTouched
	// EventFrameClosed marks the frame for removal at the next rebuild.
	EventFrameClosed
)

func (k EventKind) String() string {
	switch k {
	case EventSourceAdded:
		return "source_added"
	case EventSourceRemoved:
		return "source_removed"
	case EventStrengthChanged:
		return "strength_changed"
	case EventEnabledChanged:
		return "enabled_changed"
	case EventShapeChanged:
		return "shape_changed"
	case EventFrameChanged:
		return "frame_changed"
	case EventFrameTouched:
		return "frame_touched"
	case EventFrameClosed:
		return "frame_closed"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is a topology change pushed by the host. Source events carry a full
// snapshot of the source so a record the manager has never seen can be
// recreated instead of dropped.
type Event struct {
	Kind   EventKind
	Frame  field.FrameID
	From   field.FrameID // previous owner, EventFrameChanged only
	Source field.Source
}

// LogValue implements slog.LogValuer.
func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", e.Kind.String()),
		slog.Uint64("frame", uint64(e.Frame)),
		slog.Uint64("from", uint64(e.From)),
		slog.Uint64("source", uint64(e.Source.ID)),
	)
}

// SourceAdded returns an EventSourceAdded for s.
func SourceAdded(s field.Source) Event {
	return Event{Kind: EventSourceAdded, Frame: s.Frame, Source: s}
}

// SourceRemoved returns an EventSourceRemoved.
func SourceRemoved(frame field.FrameID, id field.SourceID) Event {
	return Event{Kind: EventSourceRemoved, Frame: frame, Source: field.Source{ID: id, Frame: frame}}
}

// StrengthChanged returns an EventStrengthChanged for s, whose Strength is
// the new value.
func StrengthChanged(s field.Source) Event {
	return Event{Kind: EventStrengthChanged, Frame: s.Frame, Source: s}
}

// EnabledChanged returns an EventEnabledChanged for s, whose Enabled is the
// new value.
func EnabledChanged(s field.Source) Event {
	return Event{Kind: EventEnabledChanged, Frame: s.Frame, Source: s}
}

// ShapeChanged returns an EventShapeChanged for s.
func ShapeChanged(s field.Source) Event {
	return Event{Kind: EventShapeChanged, Frame: s.Frame, Source: s}
}

// FrameChanged returns an EventFrameChanged moving s from frame from to
// s.Frame.
func FrameChanged(from field.FrameID, s field.Source) Event {
	return Event{Kind: EventFrameChanged, Frame: s.Frame, From: from, Source: s}
}

// FrameTouched returns an EventFrameTouched.
func FrameTouched(frame field.FrameID) Event {
	return Event{Kind: EventFrameTouched, Frame: frame}
}

// FrameClosed returns an EventFrameClosed.
func FrameClosed(frame field.FrameID) Event {
	return Event{Kind: EventFrameClosed, Frame: frame}
}

// Queue is an unbounded multi-producer, single-consumer FIFO of events.
// Producers may push from any goroutine; the tick loop consumes.
type Queue struct {
	mu      sync.Mutex
	pending []Event
	spare   []Event
}

// Push appends e.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()
}

// Consume returns every pending event in FIFO order. The returned slice is
// valid until the next call to Consume.
func (q *Queue) Consume() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	clear(q.spare)
	q.pending = q.spare[:0]
	q.spare = out
	return out
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
