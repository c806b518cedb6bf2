// Package decoder recognizes memcache ASCII protocol requests and
// responses inside a single TCP payload and turns them into queue.Events.
//
// The decoder is stateless and allocation-conscious: it never buffers
// across calls, never returns an error, and is safe to call concurrently
// from multiple capture threads since it holds no mutable state of its
// own. Cross-packet reassembly is out of scope — a VALUE line that
// straddles a TCP segment boundary is missed, not buffered and retried.
package decoder

import (
	"bytes"

	"github.com/opsviz/mctop/pkg/queue"
)

var (
	crlf        = []byte("\r\n")
	getPrefix   = []byte("GET ")
	getsPrefix  = []byte("GETS ")
	valuePrefix = []byte("VALUE ")
	endLine     = []byte("END")
)

// noOpVerbs terminate a request/response exchange without producing an
// event. They are matched explicitly so that only verbs not named here fall
// through to the unknown-verb path; the decoder keeps no count of either.
var noOpVerbs = [][]byte{
	[]byte("STORED"),
	[]byte("NOT_STORED"),
	[]byte("DELETED"),
	[]byte("NOT_FOUND"),
	[]byte("ERROR"),
}

// Decode inspects a single TCP payload flowing between srcPort and dstPort
// and returns the events it recognizes. serverPort identifies which side of
// the connection is the memcache server; payloads where neither port
// matches are ignored. countRequests controls whether GET/GETS request
// lines also contribute an event (with Size 0); by default only VALUE
// responses are counted, since only they carry a real size for bandwidth
// math.
func Decode(payload []byte, srcPort, dstPort, serverPort uint16, countRequests bool) []queue.Event {
	if len(payload) == 0 {
		return nil
	}

	isResponse := srcPort == serverPort
	isRequest := dstPort == serverPort
	if !isResponse && !isRequest {
		return nil
	}

	var events []queue.Event
	for _, line := range splitLines(payload) {
		if len(line) == 0 {
			continue
		}
		switch {
		case isResponse && hasPrefixFold(line, valuePrefix):
			if ev, ok := decodeValueLine(line); ok {
				events = append(events, ev)
			}
		case isResponse && bytes.Equal(line, endLine):
			// terminates the response group, no event
		case isResponse && isNoOp(line):
			// terminates an exchange without a value, no event
		case isRequest && countRequests && hasPrefixFold(line, getPrefix):
			events = append(events, requestEvents(line, len(getPrefix))...)
		case isRequest && countRequests && hasPrefixFold(line, getsPrefix):
			events = append(events, requestEvents(line, len(getsPrefix))...)
		default:
			// unknown verb or malformed line: skipped without error
		}
	}
	return events
}

// splitLines breaks payload into CRLF-terminated lines, discarding the
// terminators. A trailing partial line (no CRLF observed) is dropped: it is
// either the start of a line continuing in a later packet (reassembly is a
// non-goal) or genuinely malformed.
func splitLines(payload []byte) [][]byte {
	var lines [][]byte
	rest := payload
	for {
		idx := bytes.Index(rest, crlf)
		if idx < 0 {
			return lines
		}
		lines = append(lines, rest[:idx])
		rest = rest[idx+len(crlf):]
	}
}

func hasPrefixFold(line, prefix []byte) bool {
	if len(line) < len(prefix) {
		return false
	}
	return bytes.EqualFold(line[:len(prefix)], prefix)
}

func isNoOp(line []byte) bool {
	for _, verb := range noOpVerbs {
		if bytes.Equal(line, verb) {
			return true
		}
	}
	return false
}

// decodeValueLine parses "VALUE <key> <flags> <bytes> [<cas>]". The
// optional trailing CAS token (present on GETS responses) is accepted and
// ignored rather than treated as malformed.
func decodeValueLine(line []byte) (queue.Event, bool) {
	fields := bytes.Fields(line[len(valuePrefix):])
	if len(fields) < 3 {
		return queue.Event{}, false
	}

	key := fields[0]
	size, ok := parseUint32(fields[2])
	if !ok {
		return queue.Event{}, false
	}

	return queue.Event{Key: copyBytes(key), Size: size}, true
}

// requestEvents parses "GET[S] <key> [<key> ...]" into zero-size events,
// one per key.
func requestEvents(line []byte, verbLen int) []queue.Event {
	fields := bytes.Fields(line[verbLen:])
	if len(fields) == 0 {
		return nil
	}
	events := make([]queue.Event, 0, len(fields))
	for _, key := range fields {
		events = append(events, queue.Event{Key: copyBytes(key), Size: 0})
	}
	return events
}

func parseUint32(b []byte) (uint32, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var v uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
		if v > 1<<32-1 {
			return 0, false
		}
	}
	return uint32(v), true
}

// copyBytes returns an independent copy of b. The decoder must not retain
// references into the packet-source's receive buffer, which may be reused
// or zero-copied on the next read.
func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
