package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// kernelLine is a parsed line of the kernel (strace-like) dialect:
// `<ts> <name>(<args>) = <ret>|-<errno> <msg>` (spec.md §4.1).
type kernelLine struct {
	Timestamp float64
	FuncName  string
	Args      []string
	Retval    int64
	ErrMsg    string
}

var kernelLineRE = regexp.MustCompile(`^(\d+\.\d+)\s+(\w+)\((.*)\)\s+=\s+(?:(\d+)|(-\d+)\s+(\S+))`)

// skipLine reports whether a kernel-trace line is strace noise that carries
// no syscall (signal delivery, process exit, detach) rather than a
// malformed line.
func skipLine(line string) bool {
	return (strings.Contains(line, "---") && strings.Contains(line, "SIG")) ||
		(strings.Contains(line, "+++") && strings.Contains(line, "exited with")) ||
		strings.Contains(line, "<detached ...>")
}

func parseKernelLine(line string) (kernelLine, bool) {
	m := kernelLineRE.FindStringSubmatch(line)
	if m == nil {
		return kernelLine{}, false
	}
	ts, _ := strconv.ParseFloat(m[1], 64)
	var retval int64
	var errmsg string
	if m[4] != "" {
		retval, _ = strconv.ParseInt(m[4], 10, 64)
	} else {
		retval, _ = strconv.ParseInt(m[5], 10, 64)
		errmsg = m[6]
	}
	args := splitArgs(m[3])
	return kernelLine{
		Timestamp: ts,
		FuncName:  m[2],
		Args:      args,
		Retval:    retval,
		ErrMsg:    errmsg,
	}, true
}

// splitArgs mirrors the original's coarse argument splitter: strip spaces
// and surrounding quotes, then split on commas. It is intentionally naive
// about commas embedded in quoted buffers the way the original is — buffer
// arguments are handled specially by dispatch before this split ever runs
// on them.
func splitArgs(s string) []string {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, `"`, "")
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
