// Package layout maps a client-facing write to the server-side writes that
// realize it under round-robin striping, and optionally tags writes with
// their HDF5 object role (C3, spec.md §4.2).
package layout

// Slice is one storage server's share of a client write region.
type Slice struct {
	ServerIndex int
	LocalOffset int64
	LocalLength int64
}

// Locate computes, for a client write of length starting at offset, the
// per-storage-server slices produced by round-robin striping across n
// storage servers of stripe bytes each (spec.md §4.2). When padding is
// non-zero, offset is left-aligned down and the end of the range is
// right-aligned up to padding boundaries before slicing, modeling file
// systems that aggregate writes into fixed blocks.
func Locate(offset, length int64, n int, stripe int64, padding int64) []Slice {
	if padding > 0 {
		end := offset + length
		offset = (offset / padding) * padding
		end = ((end + padding - 1) / padding) * padding
		length = end - offset
	}

	var slices []Slice
	remaining := length
	cur := offset
	for remaining > 0 {
		serverIdx := int((cur / stripe) % int64(n))
		stripeCycle := cur / (stripe * int64(n))
		localOffset := stripeCycle*stripe + cur%stripe
		withinStripe := stripe - cur%stripe
		take := withinStripe
		if take > remaining {
			take = remaining
		}
		slices = append(slices, Slice{ServerIndex: serverIdx, LocalOffset: localOffset, LocalLength: take})
		cur += take
		remaining -= take
	}
	return slices
}
