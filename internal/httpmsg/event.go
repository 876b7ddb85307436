// Package httpmsg implements the HTTP/1.1 message parser from spec §4.B:
// a pure, incremental, byte-level state machine with no I/O of its own.
// The Connection State Machine (internal/conn) owns one Parser per
// connection, feeding it bytes as they arrive off the socket and reacting
// to the events it emits.
//
// The parser is grounded on the teacher's header-validity tables (adapted
// into internal/hdr) and on the general incremental-parser shape the
// corpus favors for protocol code: accumulate into an internal buffer,
// emit a typed event stream, never block. No HTTP parsing library in the
// retrieval pack exposes the (events, bytes_consumed) re-entrant contract
// this component requires, so the state machine itself is original.
package httpmsg

import "github.com/nolenjoy/forgeserve/internal/httperror"

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventRequestLine EventKind = iota
	EventHeader
	EventHeadersDone
	EventBodyChunk
	EventBodyDone
	EventError
)

// Event is one unit of parser output, per spec §4.B's ordered sequence:
// RequestLine, Header*, HeadersDone, then (BodyChunk* , BodyDone) | Error.
type Event struct {
	Kind EventKind

	Method  string
	Target  string
	Version string

	HeaderName  string
	HeaderValue string

	Body []byte

	Err *httperror.Status
}
