package layout

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// ObjectKind is one of the HDF5 structural roles an OBJMapping interval can
// carry (spec.md §4.2).
type ObjectKind string

const (
	KindObjHeader   ObjectKind = "OBJ_HEADER"
	KindLocalHeap   ObjectKind = "LOCAL_HEAP"
	KindDataSegment ObjectKind = "DATA_SEGMENT"
	KindBTreeNodes  ObjectKind = "BTREE_NODES"
	KindSymbolTable ObjectKind = "SYMBOL_TABLE"
	KindDataChunks  ObjectKind = "DATA_CHUNKS"
	KindBase        ObjectKind = "BASE"
	KindFreeSpace   ObjectKind = "FREE_SPACE"
)

// interval is one [Start, End) byte range tagged with the HDF5 group that
// owns it (e.g. "foo_DATASET", or "GLOBAL" for gap filler) and the
// structural kind within that group.
type interval struct {
	Start, End int64
	Group      string
	Kind       ObjectKind
}

// OBJMapping is an interval map from file offset to (group, kind), built
// from the JSON object-range index an external HDF5 scan tool produces
// (spec.md §4.2; scanning HDF5 itself is out of scope, spec.md §1).
type OBJMapping struct {
	intervals []interval
}

type objRange struct {
	Base int64 `json:"BASE"`
	Size int64 `json:"SIZE"`
}

// Scan parses an HDF5 object-range JSON document from r and builds the
// interval map, filling any byte ranges the index leaves uncovered with
// GLOBAL/FREE_SPACE (spec.md §4.2).
func Scan(r io.Reader) (*OBJMapping, error) {
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("layout: decoding object-range index: %w", err)
	}

	var ivs []interval
	for group, raw := range doc {
		// SUPERBLOCK and GLOBAL_HEAP are bare {BASE,SIZE} objects; every
		// other key (*_GROUP, *_DATASET) is a map of sub-kind to either a
		// bare {BASE,SIZE} object or, for DATA_CHUNKS, an array of them.
		var whole objRange
		if err := json.Unmarshal(raw, &whole); err == nil && whole.Size > 0 {
			ivs = append(ivs, interval{Start: whole.Base, End: whole.Base + whole.Size, Group: group, Kind: kindFor(group)})
			continue
		}

		var subkeys map[string]json.RawMessage
		if err := json.Unmarshal(raw, &subkeys); err != nil {
			return nil, fmt.Errorf("layout: group %q is neither a range nor an object: %w", group, err)
		}
		for kind, subraw := range subkeys {
			var single objRange
			if err := json.Unmarshal(subraw, &single); err == nil && single.Size > 0 {
				ivs = append(ivs, interval{Start: single.Base, End: single.Base + single.Size, Group: group, Kind: ObjectKind(kind)})
				continue
			}
			var many []objRange
			if err := json.Unmarshal(subraw, &many); err == nil {
				for _, m := range many {
					ivs = append(ivs, interval{Start: m.Base, End: m.Base + m.Size, Group: group, Kind: ObjectKind(kind)})
				}
			}
		}
	}

	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start < ivs[j].Start })
	ivs = fillGaps(ivs)

	return &OBJMapping{intervals: ivs}, nil
}

func kindFor(group string) ObjectKind {
	if group == "SUPERBLOCK" {
		return KindBase
	}
	return KindBase
}

func fillGaps(sorted []interval) []interval {
	var out []interval
	var cursor int64
	for _, iv := range sorted {
		if iv.Start > cursor {
			out = append(out, interval{Start: cursor, End: iv.Start, Group: "GLOBAL", Kind: KindFreeSpace})
		}
		out = append(out, iv)
		if iv.End > cursor {
			cursor = iv.End
		}
	}
	return out
}

// Query returns the set of (group, kind) pairs any byte of
// [offset, offset+length) overlaps, used by internal/explore's pruning
// policies to recognize writes into HDF5 DATA_CHUNKS regions.
func (m *OBJMapping) Query(offset, length int64) map[ObjectKind]bool {
	kinds := make(map[ObjectKind]bool)
	end := offset + length
	for _, iv := range m.intervals {
		if iv.Start < end && offset < iv.End {
			kinds[iv.Kind] = true
		}
	}
	return kinds
}

// IsDataChunk reports whether the write overlaps any DATA_CHUNKS interval.
func (m *OBJMapping) IsDataChunk(offset, length int64) bool {
	return m.Query(offset, length)[KindDataChunks]
}
