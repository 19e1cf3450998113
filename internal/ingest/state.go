// Package ingest parses the two trace dialects a clustered file system run
// can produce (kernel-level per-process strace and MPI-I/O recorder traces)
// into internal/call.Call values (C2, spec.md §4.1).
package ingest

import "path/filepath"

// descState is the per-process bookkeeping ingest needs while parsing one
// trace file: an open-descriptor table, a file-size table and a
// socket-peer table. It exists only for the duration of a single process's
// parse pass and is discarded once that pass returns, matching the Data
// Model's "all side-tables discarded" ownership rule (spec.md §3).
type descState struct {
	basePath string
	client   string

	desc   map[int]*descEntry
	size   map[string]int64
	socket map[int]string
}

type descEntry struct {
	path   string
	offset int64
}

func newDescState(basePath, client string) *descState {
	return &descState{
		basePath: basePath,
		client:   client,
		desc:     make(map[int]*descEntry),
		size:     make(map[string]int64),
		socket:   make(map[int]string),
	}
}

func (s *descState) setDesc(fd int, path string) {
	s.desc[fd] = &descEntry{path: path}
}

func (s *descState) getDesc(fd int) (string, bool) {
	e, ok := s.desc[fd]
	if !ok {
		return "", false
	}
	return e.path, true
}

func (s *descState) removeDesc(fd int) {
	delete(s.desc, fd)
}

func (s *descState) getOffset(fd int) int64 {
	e, ok := s.desc[fd]
	if !ok {
		return 0
	}
	return e.offset
}

// setOffset applies lseek SEEK_SET/CUR/END semantics (spec.md §4.1).
func (s *descState) setOffset(fd int, offset int64, whence string) {
	e, ok := s.desc[fd]
	if !ok {
		return
	}
	switch whence {
	case "SEEK_SET":
		e.offset = offset
	case "SEEK_CUR":
		e.offset += offset
	case "SEEK_END":
		e.offset = s.size[e.path] + offset
	}
}

func (s *descState) getSize(path string) int64 { return s.size[path] }
func (s *descState) setSize(path string, size int64) { s.size[path] = size }

func (s *descState) setSocket(fd int, peer string) { s.socket[fd] = peer }

func (s *descState) getSocket(fd int) string {
	if p, ok := s.socket[fd]; ok {
		return p
	}
	return s.client
}

// resolveAt implements AT_FDCWD / *at() path resolution: an absolute path
// is used as-is, a relative one is joined against the owning process's base
// directory, and a numeric dirfd is resolved through the descriptor table.
func (s *descState) resolveAt(dirfd, path string) string {
	if dirfd == "AT_FDCWD" {
		if filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(s.basePath, path)
	}
	fd := atoiOr(dirfd, -1)
	if dir, ok := s.getDesc(fd); ok {
		return filepath.Join(dir, path)
	}
	return filepath.Join(s.basePath, path)
}
