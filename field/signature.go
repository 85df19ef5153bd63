package field

// Mix64 is the splitmix64 finalizer: a fast, well-distributed 64-bit
// avalanche used to spread source IDs before combining them.
func Mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Signature returns an order-independent hash of a set of source IDs.
// Per-ID mixes are combined with wrapping addition so the result does not
// depend on iteration order. The caller must not pass duplicates.
func Signature(ids []SourceID) uint64 {
	var h uint64 = 0x9e3779b97f4a7c15
	for _, id := range ids {
		h += Mix64(uint64(id) + 0x632be59bd9b4e019)
	}
	return Mix64(h ^ uint64(len(ids)))
}
