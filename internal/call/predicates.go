package call

import "strings"

// IsDirOp reports whether c mutates directory-entry metadata rather than
// file content — the set of operations ordered journaling commits as a
// single transaction (spec.md §4.4).
func IsDirOp(c Call) bool {
	switch c.(type) {
	case *Mkdir, *Link, *Unlink, *Rename, *Setxattr, *Removexattr, *Creat, *Truncate:
		return true
	default:
		return false
	}
}

// Paths returns the path(s) a call reads or writes, used by HasSamePath and
// HasConflictPath. It panics on a Call variant with no path (Sendto,
// Recvfrom, Barrier): callers must only invoke it on calls for which
// IsDirOp(c) or the caller otherwise knows a path exists.
func Paths(c Call) []string {
	switch v := c.(type) {
	case *Mkdir:
		return []string{v.Path}
	case *Setxattr:
		return []string{v.Path}
	case *Removexattr:
		return []string{v.Path}
	case *Creat:
		return []string{v.Path}
	case *Unlink:
		return []string{v.Path}
	case *Pwrite:
		return []string{v.Path}
	case *Truncate:
		return []string{v.Path}
	case *Fsync:
		return []string{v.Path}
	case *Link:
		return []string{v.Src, v.Dst}
	case *Rename:
		return []string{v.Src, v.Dst}
	default:
		panic("call: Paths called on a call variant with no path")
	}
}

// HasPath reports whether Paths can be safely called on c.
func HasPath(c Call) bool {
	switch c.(type) {
	case *Sendto, *Recvfrom, *Barrier:
		return false
	default:
		return true
	}
}

// HasSamePath reports whether a and b share at least one exact path.
func HasSamePath(a, b Call) bool {
	if !HasPath(a) || !HasPath(b) {
		return false
	}
	for _, p1 := range Paths(a) {
		for _, p2 := range Paths(b) {
			if p1 == p2 {
				return true
			}
		}
	}
	return false
}

// HasConflictPath reports whether a and b touch paths in an ancestor
// relationship (one is a substring of the other), mirroring the original's
// `path_1 in path_2 or path_2 in path_1` containment check used to decide
// whether a directory operation on a parent conflicts with one on a child.
func HasConflictPath(a, b Call) bool {
	if !HasPath(a) || !HasPath(b) {
		return false
	}
	for _, p1 := range Paths(a) {
		for _, p2 := range Paths(b) {
			if strings.Contains(p2, p1) || strings.Contains(p1, p2) {
				return true
			}
		}
	}
	return false
}

// OverlapRange reports whether two inclusive byte ranges [lo,hi] overlap.
func OverlapRange(r1, r2 [2]int64) bool {
	if r1[0] <= r2[0] && r2[0] <= r1[1] {
		return true
	}
	if r2[0] <= r1[0] && r1[0] <= r2[1] {
		return true
	}
	return false
}
