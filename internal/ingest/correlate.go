package ingest

import (
	"github.com/sandia-minimega/paracheck/internal/call"
)

// mergeFrameHeaders implements format_sendrecv's first pass: a Recvfrom
// whose payload matches the file system's frame header exactly is held
// back, and the next Recvfrom from the same peer on the same server has
// its bytes and return value folded into the header call, which is then
// dropped from all. (spec.md §4.3 step 2)
func mergeFrameHeaders(all []tagged, fh FrameHeader) []tagged {
	bySrv := make(map[*call.Server][]int)
	for i, t := range all {
		bySrv[t.srv] = append(bySrv[t.srv], i)
	}

	drop := make(map[int]bool)
	for _, idxs := range bySrv {
		var pendingHeaders []int
		for _, i := range idxs {
			rc, ok := all[i].c.(*call.Recvfrom)
			if !ok {
				continue
			}
			if fh.matches(rc.Bytes) {
				pendingHeaders = append(pendingHeaders, i)
				continue
			}
			for hpos, hi := range pendingHeaders {
				hc := all[hi].c.(*call.Recvfrom)
				if hc.Peer != rc.Peer {
					continue
				}
				hc.Bytes = append(hc.Bytes, rc.Bytes...)
				hc.Ret += rc.Ret
				drop[i] = true
				pendingHeaders = append(pendingHeaders[:hpos], pendingHeaders[hpos+1:]...)
				break
			}
		}
	}

	if len(drop) == 0 {
		return all
	}
	kept := make([]tagged, 0, len(all)-len(drop))
	for i, t := range all {
		if !drop[i] {
			kept = append(kept, t)
		}
	}
	return kept
}

// correlateSendRecv implements format_sendrecv's second pass: match each
// Sendto to peer X emitted by server S against the head of the FIFO queue
// of Recvfroms at X whose peer is S, setting each side's Correlated field
// (spec.md §4.3 step 2). Calls whose peer is the workload client are
// never correlated — only server-to-server traffic participates in the
// execution graph's send/recv edges.
func correlateSendRecv(all []tagged, client string) {
	type key struct {
		server string
		peer   string
	}
	recvQueue := make(map[key][]*call.Recvfrom)

	for _, t := range all {
		if rc, ok := t.c.(*call.Recvfrom); ok && rc.Peer != client {
			k := key{server: t.srv.Name, peer: rc.Peer}
			recvQueue[k] = append(recvQueue[k], rc)
		}
	}

	for _, t := range all {
		sc, ok := t.c.(*call.Sendto)
		if !ok || sc.Peer == client {
			continue
		}
		k := key{server: sc.Peer, peer: t.srv.Name}
		q := recvQueue[k]
		if len(q) == 0 {
			continue
		}
		rc := q[0]
		recvQueue[k] = q[1:]
		sc.Correlated = rc
		rc.Correlated = sc
	}
}
