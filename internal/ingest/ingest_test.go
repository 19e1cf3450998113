package ingest

import (
	"strings"
	"testing"

	"github.com/sandia-minimega/paracheck/internal/call"
)

func TestParseKernelLineSuccess(t *testing.T) {
	line := `1576297195.408111 openat(AT_FDCWD, "dentries/1", O_WRONLY|O_CREAT|O_EXCL, 0644) = 20`
	kl, ok := parseKernelLine(line)
	if !ok {
		t.Fatalf("expected line to parse")
	}
	if kl.FuncName != "openat" {
		t.Errorf("FuncName = %q, want openat", kl.FuncName)
	}
	if kl.Retval != 20 {
		t.Errorf("Retval = %d, want 20", kl.Retval)
	}
	if len(kl.Args) != 4 {
		t.Errorf("Args = %v, want 4 elements", kl.Args)
	}
}

func TestParseKernelLineError(t *testing.T) {
	line := `1576297195.408111 write(3, "hi", 2) = -1 ENOSPC`
	kl, ok := parseKernelLine(line)
	if !ok {
		t.Fatalf("expected line to parse")
	}
	if kl.Retval != -1 || kl.ErrMsg != "ENOSPC" {
		t.Errorf("got retval=%d errmsg=%q", kl.Retval, kl.ErrMsg)
	}
}

func TestParseRecorderLine(t *testing.T) {
	line := "1594588407.464766 1594588407.464938 0 read 16 0x1a8ee70 80"
	rl, ok := parseRecorderLine(line)
	if !ok {
		t.Fatalf("expected line to parse")
	}
	if rl.FuncName != "read" || rl.Retval != 0 {
		t.Errorf("got func=%q retval=%d", rl.FuncName, rl.Retval)
	}
	if len(rl.Args) != 3 {
		t.Errorf("Args = %v, want 3 elements", rl.Args)
	}
}

func TestSkipLine(t *testing.T) {
	if !skipLine("--- SIGCHLD {si_signo=SIGCHLD} ---") {
		t.Errorf("expected signal-delivery line to be skipped")
	}
	if !skipLine("+++ exited with 0 +++") {
		t.Errorf("expected exit line to be skipped")
	}
	if skipLine(`1.0 openat(AT_FDCWD, "f", O_CREAT, 0644) = 3`) {
		t.Errorf("did not expect a real syscall line to be skipped")
	}
}

func TestDecodePayloadBackslashHex(t *testing.T) {
	got := decodePayload(`\x68\x69`)
	if string(got) != "hi" {
		t.Errorf("decodePayload(backslash hex) = %q, want %q", got, "hi")
	}
}

func TestDecodePayloadBarewordHex(t *testing.T) {
	got := decodePayload("0x6869")
	if string(got) != "hi" {
		t.Errorf("decodePayload(bareword hex) = %q, want %q", got, "hi")
	}
}

func TestDecodePayloadPlainString(t *testing.T) {
	got := decodePayload(`hello\n`)
	if string(got) != "hello\n" {
		t.Errorf("decodePayload(plain) = %q, want %q", got, "hello\n")
	}
}

func TestIngestKernelDialectCreatAndPwrite(t *testing.T) {
	srv := &call.Server{Name: "mds0", DataPath: "/data/mds0"}
	trace := strings.Join([]string{
		`1.000000 openat(AT_FDCWD, "f", O_WRONLY|O_CREAT, 0644) = 3`,
		`1.000010 pwrite64(3, "\x68\x69", 2, 0) = 2`,
		`1.000020 fsync(3) = 0`,
		`1.000030 close(3) = 0`,
	}, "\n")

	res, err := Ingest([]Source{
		{Server: srv, Reader: strings.NewReader(trace)},
	}, Config{Dialect: KernelDialect, Client: "client0"})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	if res.Arena.Len() != 3 {
		t.Fatalf("expected 3 calls (creat, pwrite, fsync); got %d", res.Arena.Len())
	}

	creat, ok := res.Arena.Get(0).(*call.Creat)
	if !ok {
		t.Fatalf("expected first call to be Creat, got %T", res.Arena.Get(0))
	}
	if creat.Path != "/data/mds0/f" {
		t.Errorf("Creat.Path = %q, want %q", creat.Path, "/data/mds0/f")
	}

	pw, ok := res.Arena.Get(1).(*call.Pwrite)
	if !ok {
		t.Fatalf("expected second call to be Pwrite, got %T", res.Arena.Get(1))
	}
	if !pw.IsAppend {
		t.Errorf("expected first write past file end to be marked append")
	}
	if string(pw.Bytes) != "hi" {
		t.Errorf("Pwrite.Bytes = %q, want %q", pw.Bytes, "hi")
	}

	for i := 0; i < res.Arena.Len(); i++ {
		if res.Arena.Get(i).GID() != i {
			t.Errorf("gid at position %d = %d, want %d (global timestamp order)", i, res.Arena.Get(i).GID(), i)
		}
	}
}

func TestIngestUnsupportedOpcodeRecorded(t *testing.T) {
	srv := &call.Server{Name: "mds0", DataPath: "/data/mds0"}
	trace := `1.000000 getxattr(AT_FDCWD, "f", "user.x") = -1 ENODATA`

	res, err := Ingest([]Source{
		{Server: srv, Reader: strings.NewReader(trace)},
	}, Config{Dialect: KernelDialect, Client: "client0"})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if res.Arena.Len() != 0 {
		t.Fatalf("expected no calls produced for an unsupported opcode")
	}
	found := false
	for _, name := range res.Unsupported {
		if name == "getxattr" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected getxattr in Unsupported, got %v", res.Unsupported)
	}
}

func TestIngestMalformedLineIsError(t *testing.T) {
	srv := &call.Server{Name: "mds0", DataPath: "/data/mds0"}
	_, err := Ingest([]Source{
		{Server: srv, Reader: strings.NewReader("not a trace line at all")},
	}, Config{Dialect: KernelDialect})
	if err == nil {
		t.Fatalf("expected an IngestError for a malformed line")
	}
}

func TestCorrelateSendRecv(t *testing.T) {
	mds := &call.Server{Name: "mds0"}
	oss := &call.Server{Name: "oss0"}

	send := &call.Sendto{Base: call.Base{TS: 1.0, Gid: 0}, Peer: "oss0"}
	recv := &call.Recvfrom{Base: call.Base{TS: 1.1, Gid: 1}, Peer: "mds0"}

	all := []tagged{
		{c: send, srv: mds},
		{c: recv, srv: oss},
	}
	correlateSendRecv(all, "client0")

	if send.Correlated != call.Call(recv) {
		t.Errorf("expected Sendto to correlate with the matching Recvfrom")
	}
	if recv.Correlated != call.Call(send) {
		t.Errorf("expected Recvfrom to correlate back to the Sendto")
	}
}

func TestCorrelateSendRecvIgnoresClientPeer(t *testing.T) {
	mds := &call.Server{Name: "mds0"}
	send := &call.Sendto{Base: call.Base{TS: 1.0}, Peer: "client0"}
	all := []tagged{{c: send, srv: mds}}
	correlateSendRecv(all, "client0")
	if send.Correlated != nil {
		t.Errorf("expected a Sendto to the workload client never to correlate")
	}
}

func TestFrameHeaderMatches(t *testing.T) {
	beegfs := []byte{0x53, 0x46, 0x47, 0x42}
	payload := make([]byte, 40)
	copy(payload, beegfs)
	if !BeeGFSFrameHeader.matches(payload) {
		t.Errorf("expected a well-formed 40-byte BeeGFS header to match")
	}
	if BeeGFSFrameHeader.matches(payload[:10]) {
		t.Errorf("expected a short buffer not to match")
	}
	wrongMagic := make([]byte, 40)
	if BeeGFSFrameHeader.matches(wrongMagic) {
		t.Errorf("expected a buffer with the wrong magic not to match")
	}
}
