package call

import "fmt"

// Call is the common interface satisfied by every disk-affecting operation
// variant (spec.md §3 "Call"). Dispatch on variant-specific behavior (the
// Go stand-in for the original's dynamic inheritance of syscall subclasses,
// see SPEC_FULL.md §9) is done by type-switching on the concrete type, not
// by adding virtual methods for every concern: Apply is the one piece of
// per-variant behavior every Call needs, so it lives on the interface;
// everything else (path extraction, overlap checks) is a free function in
// predicates.go.
type Call interface {
	Server() *Server
	Timestamp() float64
	FuncName() string
	Retval() int64
	ErrMsg() string

	GID() int
	SetGID(int)
	LocalID() int
	SetLocalID(int)

	// Raw returns the original trace line this call was parsed from.
	Raw() string
	SetRaw(string)

	// Apply performs the call's on-disk side effect rooted at dataPath,
	// the server's data directory. It is used by the replay driver (C8)
	// to reconstitute a crash state; it is never called during ingest.
	Apply(dataPath string) error

	// Short is a compact "op:gid" label, used in graph dumps and logs.
	Short() string
}

// Base carries the fields common to every Call variant (spec.md §3).
type Base struct {
	Srv  *Server
	TS   float64
	Op   string
	Args []string
	Ret  int64
	Err  string

	Gid int
	Lid int

	raw string
}

func (b *Base) Server() *Server      { return b.Srv }
func (b *Base) Timestamp() float64   { return b.TS }
func (b *Base) FuncName() string     { return b.Op }
func (b *Base) Retval() int64        { return b.Ret }
func (b *Base) ErrMsg() string       { return b.Err }
func (b *Base) GID() int             { return b.Gid }
func (b *Base) SetGID(g int)         { b.Gid = g }
func (b *Base) LocalID() int         { return b.Lid }
func (b *Base) SetLocalID(l int)     { b.Lid = l }
func (b *Base) Raw() string          { return b.raw }
func (b *Base) SetRaw(s string)      { b.raw = s }
func (b *Base) Short() string        { return fmt.Sprintf("%s:%d", b.Op, b.Gid) }

// HasError reports whether the recorded syscall returned an error, mirroring
// the original's `errmsg != None or int(retval) < 0` check before replay.
func (b *Base) HasError() bool {
	return b.Err != "" || b.Ret < 0
}

// Arena owns the full set of Calls produced by a single ingest run and
// hands out stable position indices for them (SPEC_FULL.md §4.4, §9 "Design
// Notes — cyclic references replaced by arena ownership"). Downstream
// components (ExecGraph, Causality) index nodes by this position, which is
// assigned independently of gid.
type Arena struct {
	calls []Call
}

// NewArena returns an empty Arena with room for n calls.
func NewArena(n int) *Arena {
	return &Arena{calls: make([]Call, 0, n)}
}

// Add appends c and returns its stable position index.
func (a *Arena) Add(c Call) int {
	idx := len(a.calls)
	a.calls = append(a.calls, c)
	return idx
}

// Get returns the call at position idx.
func (a *Arena) Get(idx int) Call { return a.calls[idx] }

// Len returns the number of calls owned by the arena.
func (a *Arena) Len() int { return len(a.calls) }

// All returns the arena's calls in position order. Callers must not mutate
// the returned slice's identity (append to it, etc.); it is owned by the
// Arena.
func (a *Arena) All() []Call { return a.calls }
