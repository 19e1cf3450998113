package ingest

import (
	"strconv"
	"strings"

	"github.com/sandia-minimega/paracheck/internal/call"
)

const (
	oCreat         = 64
	mpiModeCreate  = 1
	filesToIgnore  = "/dev/null"
)

// event is the dialect-normalized form of one trace line: both parseKernelLine
// and parseRecorderLine results are folded into this shape before dispatch
// runs, so dispatch itself is dialect-agnostic (spec.md §4.1).
type event struct {
	timestamp float64
	funcName  string
	args      []string
	retval    int64
	errmsg    string
}

// dispatch turns one event into zero or more Calls, updating st's
// descriptor/size/socket tables along the way. It mirrors
// Syscall.add_syscall's dispatch table. isWorkload suppresses
// network-call emission for workload processes (only server-side sendto
// /recvfrom participate in the execution graph); mpiOnly restricts
// dispatch to the MPI collective/PMPI_File_* family.
func dispatch(ev event, st *descState, srv *call.Server, isWorkload, mpiOnly bool, diag *diagnostics) ([]call.Call, error) {
	base := func(op string) call.Base {
		return call.Base{Srv: srv, TS: ev.timestamp, Op: op, Args: ev.args, Ret: ev.retval, Err: ev.errmsg}
	}

	var out []call.Call

	if !mpiOnly {
		switch ev.funcName {
		case "unlinkat":
			path := st.resolveAt(ev.args[0], ev.args[1])
			out = append(out, &call.Unlink{Base: base(ev.funcName), Path: path})

		case "unlink":
			path := join(st.basePath, ev.args[0])
			out = append(out, &call.Unlink{Base: base(ev.funcName), Path: path})

		case "mkdir":
			path := join(st.basePath, ev.args[0])
			mode := atoiOr(ev.args[1], 0)
			out = append(out, &call.Mkdir{Base: base(ev.funcName), Path: path, Mode: uint32(mode)})

		case "mkdirat":
			dir, _ := st.getDesc(atoiOr(ev.args[0], -1))
			path := join(dir, ev.args[1])
			mode := atoiOr(ev.args[2], 0)
			out = append(out, &call.Mkdir{Base: base(ev.funcName), Path: path, Mode: uint32(mode)})

		case "setxattr", "fsetxattr", "lsetxattr":
			var path string
			if ev.funcName == "fsetxattr" {
				path, _ = st.getDesc(atoiOr(ev.args[0], -1))
			} else {
				path = st.resolveAt("AT_FDCWD", ev.args[0])
			}
			value := decodePayload(ev.args[2])
			out = append(out, &call.Setxattr{Base: base(ev.funcName), Path: path, Key: ev.args[1], Value: value})

		case "lremovexattr":
			path := st.resolveAt("AT_FDCWD", ev.args[0])
			out = append(out, &call.Removexattr{Base: base(ev.funcName), Path: path, Key: ev.args[1]})

		case "rename", "link":
			src := join(st.basePath, ev.args[0])
			dst := join(st.basePath, ev.args[1])
			if ev.funcName == "rename" {
				out = append(out, &call.Rename{Base: base(ev.funcName), Src: src, Dst: dst})
			} else {
				out = append(out, &call.Link{Base: base(ev.funcName), Src: src, Dst: dst})
			}

		case "linkat":
			src := st.resolveAt(ev.args[0], ev.args[1])
			dst := st.resolveAt(ev.args[2], ev.args[3])
			out = append(out, &call.Link{Base: base(ev.funcName), Src: src, Dst: dst})

		case "openat":
			filename := st.resolveAt(ev.args[0], ev.args[1])
			fd := int(ev.retval)
			st.setDesc(fd, filename)
			if hasCreateIntent(ev.args[2]) && filename != filesToIgnore {
				out = append(out, &call.Creat{Base: base("creat"), Path: filename})
			}

		case "open64", "open":
			filename := ev.args[0]
			fd := int(ev.retval)
			st.setDesc(fd, filename)
			if hasCreateIntent(ev.args[1]) && filename != filesToIgnore {
				out = append(out, &call.Creat{Base: base("creat"), Path: filename})
			}

		case "lseek", "lseek64":
			fd := atoiOr(ev.args[0], -1)
			offset := atoi64Or(ev.args[1], 0)
			whence, ok := parseWhence(ev.args[2])
			if !ok {
				return nil, &IngestError{Server: srv.Name, Line: ev.funcName, Reason: "unsupported lseek whence"}
			}
			st.setOffset(fd, offset, whence)

		case "close":
			fd := atoiOr(ev.args[0], -1)
			st.removeDesc(fd)

		case "ftruncate":
			path, _ := st.getDesc(atoiOr(ev.args[0], -1))
			length := atoi64Or(ev.args[1], 0)
			out = append(out, &call.Truncate{Base: base(ev.funcName), Path: path, Length: length})

		case "pwrite64", "pwrite", "write":
			fd := atoiOr(ev.args[0], -1)
			path, ok := st.getDesc(fd)
			if !ok {
				return nil, nil
			}
			content := decodePayload(ev.args[1])
			length := atoi64Or(ev.args[2], 0)
			var offset int64
			if ev.funcName == "write" {
				offset = st.getOffset(fd)
				st.setOffset(fd, offset+length, "SEEK_SET")
			} else {
				offset = atoi64Or(ev.args[3], 0)
			}
			op := ev.funcName
			curSize := st.getSize(path)
			isAppend := false
			if offset+length > curSize {
				op = "append"
				isAppend = true
				st.setSize(path, offset+length)
			}
			out = append(out, &call.Pwrite{
				Base: base(op), Path: path, Offset: offset, Length: length,
				Bytes: content, IsAppend: isAppend,
			})

		case "fsync", "fdatasync":
			path, _ := st.getDesc(atoiOr(ev.args[0], -1))
			out = append(out, &call.Fsync{Base: base(ev.funcName), Path: path})

		case "sendto", "recvfrom":
			if isWorkload {
				break
			}
			if len(ev.args) >= 3 && strings.Contains(ev.args[len(ev.args)-3], "MSG_PEEK") {
				break
			}
			fd := atoiOr(ev.args[0], -1)
			peer := st.getSocket(fd)
			content := decodePayload(truncateArg(ev.args[1], 1000))
			if ev.funcName == "sendto" {
				out = append(out, &call.Sendto{Base: base(ev.funcName), Peer: peer, Bytes: content})
			} else {
				out = append(out, &call.Recvfrom{Base: base(ev.funcName), Peer: peer, Bytes: content})
			}

		case "writev":
			if isWorkload {
				break
			}
			fd := atoiOr(ev.args[0], -1)
			peer := st.getSocket(fd)
			out = append(out, &call.Sendto{Base: base("sendto"), Peer: peer})

		case "readv":
			if isWorkload {
				break
			}
			fd := atoiOr(ev.args[0], -1)
			peer := st.getSocket(fd)
			out = append(out, &call.Recvfrom{Base: base("recvfrom"), Peer: peer})
		}
	} else {
		switch ev.funcName {
		case "PMPI_File_open":
			path := ev.args[1]
			fd, _ := strconv.ParseInt(ev.args[len(ev.args)-1], 16, 64)
			st.setDesc(int(fd), path)
			mode := atoiOr(ev.args[2], 0)
			if mode&mpiModeCreate != 0 {
				out = append(out, &call.Creat{Base: base("creat"), Path: path})
			}

		case "PMPI_File_write_at_all":
			barrier := &call.Barrier{Base: base(ev.funcName)}
			fd, _ := strconv.ParseInt(ev.args[0], 16, 64)
			path, _ := st.getDesc(int(fd))
			offset := atoi64Or(ev.args[1], 0)
			content := decodePayload(ev.args[2])
			count := atoi64Or(ev.args[3], 0)
			length := count * atoi64Or(ev.args[4], 1)
			write := &call.Pwrite{
				Base:   base(ev.funcName),
				Path:   path, Offset: offset, Length: length, Bytes: content,
			}
			write.TS = ev.timestamp + timeEpsilon
			write.Ret = length
			out = append(out, barrier, write)

		case "PMPI_File_write_at":
			fd, _ := strconv.ParseInt(ev.args[0], 16, 64)
			path, _ := st.getDesc(int(fd))
			offset := atoi64Or(ev.args[1], 0)
			content := decodePayload(ev.args[2])
			length := atoi64Or(ev.args[3], 0)
			write := &call.Pwrite{Base: base(ev.funcName), Path: path, Offset: offset, Length: length, Bytes: content}
			write.Ret = length
			out = append(out, write)

		case "PMPI_File_sync":
			fd, _ := strconv.ParseInt(ev.args[0], 16, 64)
			path, _ := st.getDesc(int(fd))
			out = append(out, &call.Fsync{Base: base(ev.funcName), Path: path})
		}
	}

	if ev.funcName == "PMPI_Barrier" || ev.funcName == "PMPI_Bcast" ||
		ev.funcName == "PMPI_File_close" || ev.funcName == "PMPI_File_set_view" {
		out = []call.Call{&call.Barrier{Base: base(ev.funcName)}}
	}

	if len(out) == 0 {
		diag.recordUnsupported(ev.funcName)
	}

	return out, nil
}

const timeEpsilon = 1e-6

func hasCreateIntent(flags string) bool {
	if strings.Contains(flags, "O_CREAT") {
		return true
	}
	if n, err := strconv.Atoi(flags); err == nil {
		return n&oCreat != 0
	}
	return false
}

func parseWhence(s string) (string, bool) {
	switch s {
	case "SEEK_SET":
		return "SEEK_SET", true
	case "SEEK_CUR":
		return "SEEK_CUR", true
	case "SEEK_END":
		return "SEEK_END", true
	}
	if n, err := strconv.Atoi(s); err == nil {
		switch n {
		case 0:
			return "SEEK_SET", true
		case 1:
			return "SEEK_CUR", true
		case 2:
			return "SEEK_END", true
		}
	}
	return "", false
}

func truncateArg(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func join(base, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return rel
	}
	if base == "" {
		return rel
	}
	return strings.TrimRight(base, "/") + "/" + rel
}
