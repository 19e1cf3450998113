package ingest

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mikioh/tcp"
	"github.com/mikioh/tcpinfo"
)

// ResolveSocketPeers reads a live server process's open TCP descriptors
// and resolves each one to the name of the service listening on the far
// end, the live-process equivalent of the original's lsof-based
// build_fdtable pass (spec.md §3 "socket-peer table ... resolved once
// during ingest using the live process's open-socket inventory"). ports
// maps a known listening port to the service name bound to it; a
// connection to any other port resolves to client.
//
// This is exercised only from the `record` external collaborator boundary
// (spec.md §6): it needs a running process's /proc/<pid>/fd entries and
// cannot be unit tested without one. The pure trace-side resolution lives
// in ResolvePeersFromTrace.
func ResolveSocketPeers(pid int, ports map[int]string, client string) (map[int]string, error) {
	fdDir := fmt.Sprintf("/proc/%d/fd", pid)
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return nil, fmt.Errorf("ingest: reading %s: %w", fdDir, err)
	}

	peers := make(map[int]string)
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		link, err := os.Readlink(filepath.Join(fdDir, e.Name()))
		if err != nil || !strings.HasPrefix(link, "socket:") {
			continue
		}

		f, err := os.Open(filepath.Join(fdDir, e.Name()))
		if err != nil {
			continue
		}
		conn, err := net.FileConn(f)
		f.Close()
		if err != nil {
			continue
		}

		peer, ok := resolvePeerPort(conn, ports, client)
		conn.Close()
		if ok {
			peers[fd] = peer
		}
	}
	return peers, nil
}

// resolvePeerPort queries the connection's TCP_INFO block via mikioh/tcp
// and mikioh/tcpinfo to recover the remote address, then maps its port
// through the known listening-port table.
func resolvePeerPort(conn net.Conn, ports map[int]string, client string) (string, bool) {
	tc, err := tcp.NewConn(conn)
	if err != nil {
		return "", false
	}
	var o tcpinfo.Info
	var b [256]byte
	out, err := tc.Option(o.Level(), o.Name(), b[:])
	if err != nil {
		return "", false
	}
	info, ok := out.(*tcpinfo.Info)
	if !ok || info.Addr == nil {
		return "", false
	}
	tcpAddr, ok := info.Addr.(*net.TCPAddr)
	if !ok {
		return "", false
	}
	if name, ok := ports[tcpAddr.Port]; ok {
		return name, true
	}
	return client, true
}

// ResolvePeersFromTrace is the pure, unit-testable sibling of
// ResolveSocketPeers: given a file descriptor already known to carry
// traffic with a literal peer name (as recorded by an out-of-band port map
// built at record time and threaded through Source), it simply looks the
// fd up, falling back to client. Nothing in the module calls it; dispatch
// resolves socket peers through its own per-ingest socket table.
func ResolvePeersFromTrace(fd int, known map[int]string, client string) string {
	if name, ok := known[fd]; ok {
		return name
	}
	return client
}
