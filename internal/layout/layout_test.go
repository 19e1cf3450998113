package layout

import (
	"strings"
	"testing"

	"github.com/sandia-minimega/paracheck/internal/call"
)

func TestLocateSingleServerNoStriping(t *testing.T) {
	slices := Locate(0, 100, 1, 1<<20, 0)
	if len(slices) != 1 {
		t.Fatalf("expected a single slice when n=1; got %d", len(slices))
	}
	if slices[0].LocalOffset != 0 || slices[0].LocalLength != 100 {
		t.Fatalf("got %+v", slices[0])
	}
}

func TestLocateStripeCrossing(t *testing.T) {
	// 2 storage servers, 64-byte stripe; a write of 100 bytes starting at
	// offset 32 crosses the stripe boundaries at 64 and 128.
	slices := Locate(32, 100, 2, 64, 0)
	if len(slices) < 2 {
		t.Fatalf("expected the write to cross at least one stripe boundary; got %+v", slices)
	}
	var total int64
	for _, s := range slices {
		total += s.LocalLength
	}
	if total != 100 {
		t.Fatalf("slice lengths must sum to the original write length; got %d", total)
	}
}

func TestLocatePadding(t *testing.T) {
	slices := Locate(10, 10, 1, 1<<20, 16)
	// offset 10 rounds down to 0, end 20 rounds up to 32: length 32.
	if slices[0].LocalOffset != 0 || slices[0].LocalLength != 32 {
		t.Fatalf("padding alignment failed: got %+v", slices[0])
	}
}

func TestOPMappingExactMatch(t *testing.T) {
	client := &call.Pwrite{Offset: 0, Length: 10}
	server := &call.Pwrite{Offset: 0, Length: 10}

	m, err := Match([]*call.Pwrite{client}, map[int][]*call.Pwrite{0: {server}}, 1, 1<<20, 0, false)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	realized := m.Realizers(client)
	if len(realized) != 1 || realized[0] != server {
		t.Fatalf("expected client write to realize to the single server write")
	}
	origin, ok := m.Origin(server)
	if !ok || origin != client {
		t.Fatalf("expected reverse mapping to resolve back to the client write")
	}
}

func TestOPMappingNoMatchIsFatal(t *testing.T) {
	client := &call.Pwrite{Offset: 0, Length: 10}
	_, err := Match([]*call.Pwrite{client}, map[int][]*call.Pwrite{}, 1, 1<<20, 0, false)
	if err == nil {
		t.Fatalf("expected a false-matching-call error when no server write exists")
	}
}

func TestOPMappingAggregationRetiresOnRightEdgeOnly(t *testing.T) {
	// server write spans [0,20); two client slices [0,10) and [10,20) both
	// map into it. Only the second (right-edge-aligned) retires it.
	client1 := &call.Pwrite{Offset: 0, Length: 10}
	client2 := &call.Pwrite{Offset: 10, Length: 10}
	server := &call.Pwrite{Offset: 0, Length: 20}

	m, err := Match([]*call.Pwrite{client1, client2}, map[int][]*call.Pwrite{0: {server}}, 1, 1<<20, 0, true)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if len(m.Realizers(client1)) != 1 || m.Realizers(client1)[0] != server {
		t.Fatalf("expected client1 to map onto the aggregated server write")
	}
	if len(m.Realizers(client2)) != 1 || m.Realizers(client2)[0] != server {
		t.Fatalf("expected client2 to map onto the same aggregated server write")
	}
}

func TestOBJMappingScanAndQuery(t *testing.T) {
	doc := `{
		"SUPERBLOCK": {"BASE": 0, "SIZE": 96},
		"points_DATASET": {
			"OBJ_HEADER": {"BASE": 96, "SIZE": 40},
			"DATA_CHUNKS": [{"BASE": 200, "SIZE": 64}]
		}
	}`
	m, err := Scan(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}

	if !m.Query(0, 10)[KindBase] {
		t.Errorf("expected offset 0 to fall in the SUPERBLOCK's BASE interval")
	}
	if !m.IsDataChunk(210, 5) {
		t.Errorf("expected offset 210 to fall inside the DATA_CHUNKS interval")
	}
	if m.IsDataChunk(0, 10) {
		t.Errorf("did not expect the SUPERBLOCK region to be a data chunk")
	}
	// Offset 150 falls in the gap between OBJ_HEADER [96,136) and
	// DATA_CHUNKS [200,264): must be filled as GLOBAL/FREE_SPACE.
	if !m.Query(150, 1)[KindFreeSpace] {
		t.Errorf("expected the uncovered gap to be tagged FREE_SPACE")
	}
}
