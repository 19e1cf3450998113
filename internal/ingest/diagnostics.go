package ingest

import "sort"

// diagnostics accumulates the names of trace operations ingest saw but does
// not translate into a Call, mirroring Syscall.non_supported_calls
// (spec.md §4.1: "rejects no calls for unknown names but records them in a
// diagnostic list").
type diagnostics struct {
	seen map[string]bool
}

func newDiagnostics() *diagnostics {
	return &diagnostics{seen: make(map[string]bool)}
}

func (d *diagnostics) recordUnsupported(name string) {
	d.seen[name] = true
}

func (d *diagnostics) sorted() []string {
	out := make([]string, 0, len(d.seen))
	for name := range d.seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
