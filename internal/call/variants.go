package call

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolve joins a call's recorded path (already absolute from the server's
// own filesystem perspective at trace time) onto the replay root. Recorded
// paths are absolute; Join with a root re-parents them under the sandboxed
// data directory used during replay.
func resolve(root, path string) string {
	return filepath.Join(root, path)
}

// Creat represents creat()/open(O_CREAT) (spec.md §3).
type Creat struct {
	Base
	Path string
}

func (c *Creat) Apply(root string) error {
	p := resolve(root, c.Path)
	if err := os.MkdirAll(filepath.Dir(p), 0o777); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o777)
	if err != nil {
		return err
	}
	f.Close()
	return os.Chmod(p, 0o777)
}

// Link represents link()/linkat() (spec.md §3).
type Link struct {
	Base
	Src, Dst string
}

func (c *Link) Apply(root string) error {
	return os.Link(resolve(root, c.Src), resolve(root, c.Dst))
}

// Unlink represents unlink()/unlinkat() (spec.md §3).
type Unlink struct {
	Base
	Path string
}

func (c *Unlink) Apply(root string) error {
	p := resolve(root, c.Path)
	fi, err := os.Lstat(p)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return os.Remove(p)
	}
	return os.Remove(p)
}

// Rename represents rename() (spec.md §3).
type Rename struct {
	Base
	Src, Dst string
}

func (c *Rename) Apply(root string) error {
	return os.Rename(resolve(root, c.Src), resolve(root, c.Dst))
}

// Mkdir represents mkdir()/mkdirat() (spec.md §3).
type Mkdir struct {
	Base
	Path string
	Mode uint32
}

func (c *Mkdir) Apply(root string) error {
	return os.MkdirAll(resolve(root, c.Path), os.FileMode(c.Mode))
}

// Setxattr represents setxattr()/fsetxattr()/lsetxattr() (spec.md §3).
type Setxattr struct {
	Base
	Path, Key string
	Value     []byte
}

func (c *Setxattr) Apply(root string) error {
	return setXattr(resolve(root, c.Path), c.Key, c.Value)
}

// Removexattr represents removexattr()/lremovexattr() (spec.md §3).
type Removexattr struct {
	Base
	Path, Key string
}

func (c *Removexattr) Apply(root string) error {
	return removeXattr(resolve(root, c.Path), c.Key)
}

// Truncate represents ftruncate() (spec.md §3).
type Truncate struct {
	Base
	Path   string
	Length int64
}

func (c *Truncate) Apply(root string) error {
	return os.Truncate(resolve(root, c.Path), c.Length)
}

// Pwrite represents pwrite64()/pwrite()/write() (spec.md §3). IsAppend is
// computed at ingest time from the file-size table, not recomputed here.
type Pwrite struct {
	Base
	Path     string
	Offset   int64
	Length   int64
	Bytes    []byte
	IsAppend bool
}

func (c *Pwrite) Apply(root string) error {
	p := resolve(root, c.Path)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(p), 0o777); err != nil {
			return err
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o777)
		if err != nil {
			return err
		}
		f.Close()
	}
	f, err := os.OpenFile(p, os.O_RDWR, 0o777)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(c.Bytes, c.Offset)
	return err
}

// Fsync represents fsync()/fdatasync() (spec.md §3). Apply is a no-op
// during replay: durability is modeled entirely by which graph cuts are
// chosen, not by calling fsync(2) against the sandboxed copy (spec.md §4.7
// step 2).
type Fsync struct {
	Base
	Path string
}

func (c *Fsync) Apply(root string) error { return nil }

// Sendto represents sendto()/writev() to a peer (spec.md §3). Correlated
// refers to the matching Recvfrom, if any, set by ingest's post-processing
// correlation pass (spec.md §4.3 item 2).
type Sendto struct {
	Base
	Peer       string
	Bytes      []byte
	Correlated Call
}

func (c *Sendto) Apply(root string) error { return nil }

// Recvfrom represents recvfrom()/readv() from a peer (spec.md §3).
type Recvfrom struct {
	Base
	Peer       string
	Bytes      []byte
	Correlated Call
}

func (c *Recvfrom) Apply(root string) error { return nil }

// Barrier represents an MPI collective call that serializes all ranks
// (spec.md §3): file-open, file-close, barrier, bcast, set-view, sync, and
// collective writes all surface as a Barrier node in the workload stream.
type Barrier struct {
	Base
	BarrierID int
}

func (c *Barrier) Apply(root string) error { return nil }

func (c *Sendto) String() string {
	recv := -1
	if c.Correlated != nil {
		recv = c.Correlated.GID()
	}
	return fmt.Sprintf("%d sendto(%s, %d) = %d", c.Gid, c.Peer, recv, c.Ret)
}

func (c *Recvfrom) String() string {
	send := -1
	if c.Correlated != nil {
		send = c.Correlated.GID()
	}
	return fmt.Sprintf("%d recvfrom(%s, %d) = %d", c.Gid, c.Peer, send, c.Ret)
}
