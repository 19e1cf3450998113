package layout

import (
	"fmt"

	"github.com/sandia-minimega/paracheck/internal/call"
)

// OPMapping holds, for one workload run, the mapping from each workload
// Pwrite to the set of server-side Pwrites that realize it, and the
// reverse mapping (spec.md §3 "Workload"). It is built once by Match and
// is read-only afterward.
type OPMapping struct {
	forward map[*call.Pwrite][]*call.Pwrite
	reverse map[*call.Pwrite]*call.Pwrite
}

func newOPMapping() *OPMapping {
	return &OPMapping{
		forward: make(map[*call.Pwrite][]*call.Pwrite),
		reverse: make(map[*call.Pwrite]*call.Pwrite),
	}
}

// MergeOPMappings combines per-file OPMappings (Match is scoped to a single
// file's writes; a workload run spans many files) into one mapping covering
// every file, for callers that need a single Realizers/Origin view across
// the whole run.
func MergeOPMappings(ms ...*OPMapping) *OPMapping {
	out := newOPMapping()
	for _, m := range ms {
		for client, servers := range m.forward {
			out.forward[client] = append(out.forward[client], servers...)
		}
		for server, client := range m.reverse {
			out.reverse[server] = client
		}
	}
	return out
}

// Realizers returns the server-side Pwrites that realize a client write.
func (m *OPMapping) Realizers(client *call.Pwrite) []*call.Pwrite { return m.forward[client] }

// Origin returns the client write a server-side Pwrite realizes, if any.
func (m *OPMapping) Origin(server *call.Pwrite) (*call.Pwrite, bool) {
	c, ok := m.reverse[server]
	return c, ok
}

// serverPool is the consumable set of candidate server Pwrites for one
// storage-server index, in the order they were produced.
type serverPool struct {
	writes []*call.Pwrite
}

func (p *serverPool) takeExact(offset, length int64) (*call.Pwrite, bool) {
	for i, w := range p.writes {
		if w.Offset == offset && w.Length == length {
			p.writes = append(p.writes[:i], p.writes[i+1:]...)
			return w, true
		}
	}
	return nil, false
}

// findContaining returns (without consuming) the pool entry whose range
// contains [offset, offset+length), for the aggregation (N-to-1) case.
func (p *serverPool) findContaining(offset, length int64) (*call.Pwrite, int, bool) {
	for i, w := range p.writes {
		if offset >= w.Offset && offset+length <= w.Offset+w.Length {
			return w, i, true
		}
	}
	return nil, -1, false
}

func (p *serverPool) removeAt(i int) {
	p.writes = append(p.writes[:i], p.writes[i+1:]...)
}

// Match builds an OPMapping for a single file's client-side Pwrites
// (spec.md §4.2). clientWrites must all target the same file — callers
// assert this before calling Match, matching "all to one unique file,
// asserted". serverWrites is the candidate pool per storage-server index,
// consumed as matches are found.
func Match(clientWrites []*call.Pwrite, serverWrites map[int][]*call.Pwrite, n int, stripe, padding int64, aggregation bool) (*OPMapping, error) {
	m := newOPMapping()
	pools := make(map[int]*serverPool, len(serverWrites))
	for idx, ws := range serverWrites {
		cp := make([]*call.Pwrite, len(ws))
		copy(cp, ws)
		pools[idx] = &serverPool{writes: cp}
	}

	for _, cw := range clientWrites {
		slices := Locate(cw.Offset, cw.Length, n, stripe, padding)
		for _, sl := range slices {
			pool, ok := pools[sl.ServerIndex]
			if !ok {
				pool = &serverPool{}
				pools[sl.ServerIndex] = pool
			}

			if sw, ok := pool.takeExact(sl.LocalOffset, sl.LocalLength); ok {
				m.forward[cw] = append(m.forward[cw], sw)
				m.reverse[sw] = cw
				continue
			}

			if !aggregation {
				return nil, fmt.Errorf("layout: false matching call: no server write at offset=%d length=%d on server %d", sl.LocalOffset, sl.LocalLength, sl.ServerIndex)
			}

			sw, i, ok := pool.findContaining(sl.LocalOffset, sl.LocalLength)
			if !ok {
				return nil, fmt.Errorf("layout: false matching call: no aggregated server write contains offset=%d length=%d on server %d", sl.LocalOffset, sl.LocalLength, sl.ServerIndex)
			}
			m.forward[cw] = append(m.forward[cw], sw)
			m.reverse[sw] = cw

			// Retire the server write from the pool only when this slice
			// reaches its right edge (spec.md §4.2: "retired from the
			// pool only when the slice aligns with its right edge").
			if sl.LocalOffset+sl.LocalLength == sw.Offset+sw.Length {
				pool.removeAt(i)
			}
		}
	}

	return m, nil
}
