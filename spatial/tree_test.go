package spatial

import (
	"math/rand"
	"sort"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gdrive/field"
	"github.com/pthm-cable/gdrive/geom"
)

func frames(entries []Entry) []field.FrameID {
	ids := make([]field.FrameID, len(entries))
	for i, e := range entries {
		ids[i] = e.Frame
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sameFrames(a, b []field.FrameID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func randomEntries(rng *rand.Rand, n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		c := r3.Vec{X: rng.Float64()*200 - 100, Y: rng.Float64()*200 - 100, Z: rng.Float64()*200 - 100}
		h := r3.Vec{X: 1 + rng.Float64()*15, Y: 1 + rng.Float64()*15, Z: 1 + rng.Float64()*15}
		entries[i] = Entry{Frame: field.FrameID(i + 1), Box: geom.BoxAround(c, h)}
	}
	return entries
}

func TestEmptyTree(t *testing.T) {
	tree := NewTree()
	tree.Rebuild(nil)
	if got := tree.QueryPoint(nil, r3.Vec{}, nil); len(got) != 0 {
		t.Errorf("empty tree returned %v", got)
	}
	if !tree.Bounds().Empty() {
		t.Error("empty tree should have empty bounds")
	}
}

func TestEmptyBoxesAreDropped(t *testing.T) {
	tree := NewTree()
	tree.Rebuild([]Entry{
		{Frame: 1, Box: geom.EmptyAABB()},
		{Frame: 2, Box: geom.BoxAround(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1})},
	})
	if tree.Len() != 1 {
		t.Errorf("Len = %d, want 1", tree.Len())
	}
}

func TestQueryPointMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := randomEntries(rng, 300)
	tree := NewTree()
	tree.Rebuild(entries)

	var dst []Entry
	for i := 0; i < 500; i++ {
		p := r3.Vec{X: rng.Float64()*220 - 110, Y: rng.Float64()*220 - 110, Z: rng.Float64()*220 - 110}
		var exclude *field.FrameID
		if i%3 == 0 {
			id := field.FrameID(rng.Intn(300) + 1)
			exclude = &id
		}

		var want []Entry
		for _, e := range entries {
			if exclude != nil && e.Frame == *exclude {
				continue
			}
			if e.Box.Contains(p) {
				want = append(want, e)
			}
		}

		dst = tree.QueryPoint(dst[:0], p, exclude)
		if !sameFrames(frames(dst), frames(want)) {
			t.Fatalf("query %d at %v: got %v, want %v", i, p, frames(dst), frames(want))
		}
	}
}

func TestQueryBoxMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	entries := randomEntries(rng, 150)
	tree := NewTree()
	tree.Rebuild(entries)

	for i := 0; i < 200; i++ {
		q := geom.BoxAround(
			r3.Vec{X: rng.Float64()*200 - 100, Y: rng.Float64()*200 - 100, Z: rng.Float64()*200 - 100},
			r3.Vec{X: rng.Float64() * 10, Y: rng.Float64() * 10, Z: rng.Float64() * 10},
		)
		var want []Entry
		for _, e := range entries {
			if e.Box.Overlaps(q) {
				want = append(want, e)
			}
		}
		got := tree.QueryBox(nil, q, nil)
		if !sameFrames(frames(got), frames(want)) {
			t.Fatalf("box query %d: got %v, want %v", i, frames(got), frames(want))
		}
	}
}

func TestQueryExcludesFrame(t *testing.T) {
	box := geom.BoxAround(r3.Vec{}, r3.Vec{X: 5, Y: 5, Z: 5})
	tree := NewTree()
	tree.Rebuild([]Entry{{Frame: 1, Box: box}, {Frame: 2, Box: box}})

	tests := []struct {
		name    string
		exclude *field.FrameID
		want    []field.FrameID
	}{
		{"none", nil, []field.FrameID{1, 2}},
		{"first", ptr(1), []field.FrameID{2}},
		{"second", ptr(2), []field.FrameID{1}},
		{"unknown", ptr(9), []field.FrameID{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := frames(tree.QueryPoint(nil, r3.Vec{X: 1}, tt.exclude))
			if !sameFrames(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRebuildReplacesContents(t *testing.T) {
	tree := NewTree()
	tree.Rebuild(randomEntries(rand.New(rand.NewSource(1)), 50))
	tree.Rebuild([]Entry{{Frame: 99, Box: geom.BoxAround(r3.Vec{X: 500}, r3.Vec{X: 1, Y: 1, Z: 1})}})

	if tree.Len() != 1 {
		t.Fatalf("Len = %d after rebuild", tree.Len())
	}
	if got := tree.QueryPoint(nil, r3.Vec{X: 500}, nil); len(got) != 1 || got[0].Frame != 99 {
		t.Errorf("got %v", got)
	}
	if got := tree.QueryPoint(nil, r3.Vec{}, nil); len(got) != 0 {
		t.Errorf("old entries survived rebuild: %v", got)
	}
}

func ptr(id field.FrameID) *field.FrameID { return &id }
