package field

import "testing"

func TestSignatureOrderIndependent(t *testing.T) {
	a := Signature([]SourceID{1, 2, 3, 99})
	b := Signature([]SourceID{99, 3, 1, 2})
	if a != b {
		t.Errorf("signature depends on order: %x vs %x", a, b)
	}
}

func TestSignatureDistinguishesSets(t *testing.T) {
	seen := map[uint64][]SourceID{}
	sets := [][]SourceID{
		{}, {1}, {2}, {1, 2}, {1, 3}, {2, 3}, {1, 2, 3}, {4}, {1, 4}, {100, 200},
	}
	for _, s := range sets {
		h := Signature(s)
		if prev, ok := seen[h]; ok {
			t.Errorf("collision between %v and %v", prev, s)
		}
		seen[h] = s
	}
}
