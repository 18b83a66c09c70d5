// Package chunk plans contiguous block-height ranges for CDN retrieval.
package chunk

// Descriptor identifies one contiguous range of block heights fetched as a
// single CDN object. Index is the descriptor's monotonic position in the
// plan and drives sequencer ordering.
type Descriptor struct {
	Start uint32
	End   uint32
	Index int64
}

// Len returns the number of heights the descriptor covers.
func (d Descriptor) Len() uint32 {
	return d.End - d.Start + 1
}

// Plan partitions [start, target] into ascending, non-overlapping
// descriptors of the given size. Only the final descriptor may be shorter.
// Callers guarantee start <= target and size >= 1; config validation
// rejects anything else before a plan is requested.
func Plan(start, target, size uint32) []Descriptor {
	var out []Descriptor
	var idx int64
	for s := start; s <= target; {
		e := s + size - 1
		if e > target || e < s { // e < s: uint32 wrap near the top of the range
			e = target
		}
		out = append(out, Descriptor{Start: s, End: e, Index: idx})
		idx++
		if e == ^uint32(0) {
			break
		}
		s = e + 1
	}
	return out
}
