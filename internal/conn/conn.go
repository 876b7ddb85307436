// Package conn implements the Connection State Machine from spec §4.D: one
// finite-state machine per client socket, driven entirely by bytes handed
// to it from a reactor readiness event. It owns the request parser and
// response builder for the socket's current request and knows nothing
// about epoll/kqueue itself -- the engine feeds it bytes and calls it back
// on writable events.
//
// Rewritten from the teacher's conn.go/response.go (which drive the same
// named ConnState vocabulary from a blocking per-goroutine read loop); the
// state values themselves, and the conn/response naming, survive, but the
// execution model here is reactor-driven rather than one-goroutine-per-
// connection.
package conn

import (
	"strings"
	"time"

	"github.com/nolenjoy/forgeserve/internal/cgi"
	"github.com/nolenjoy/forgeserve/internal/config"
	"github.com/nolenjoy/forgeserve/internal/hdr"
	"github.com/nolenjoy/forgeserve/internal/httperror"
	"github.com/nolenjoy/forgeserve/internal/httpmsg"
	"github.com/nolenjoy/forgeserve/internal/respbuild"
	"github.com/nolenjoy/forgeserve/internal/urlpath"
)

// ConnState is the connection's position in the per-client lifecycle from
// spec §3.
type ConnState int

const (
	ReadingHeaders ConnState = iota
	ReadingBody
	Dispatching
	AwaitingUpstream
	Writing
	Draining
	KeepAlive
	Closed
)

func (s ConnState) String() string {
	switch s {
	case ReadingHeaders:
		return "ReadingHeaders"
	case ReadingBody:
		return "ReadingBody"
	case Dispatching:
		return "Dispatching"
	case AwaitingUpstream:
		return "AwaitingUpstream"
	case Writing:
		return "Writing"
	case Draining:
		return "Draining"
	case KeepAlive:
		return "KeepAlive"
	case Closed:
		return "Closed"
	}
	return "Unknown"
}

// Request is the parsed, fully-buffered request a Connection hands to the
// router once BodyDone fires, per spec §3's Request data model.
type Request struct {
	Method  string
	Target  string
	Path    string
	Query   string
	Version string
	Header  hdr.Header
	Body    []byte
}

// Connection is one live client socket, exclusively owned by the engine.
// All exported fields are engine-mutable; the methods below encapsulate
// the state-machine transitions spec §4.D describes, but CGI spawning and
// routing -- which need collaborators (reactor, router, session store)
// this package does not import, to avoid a dependency cycle -- are
// orchestrated by the engine, which reads and writes these fields
// directly.
type Connection struct {
	ID         uint64
	Fd         int
	RemoteAddr string

	Listener *config.Listener
	Server   *config.VirtualServer

	State ConnState

	parser *httpmsg.Parser
	req    Request
	host   string

	Builder *respbuild.Builder

	// CGI holds the in-flight upstream process when State ==
	// AwaitingUpstream and the handler kind was Cgi; nil otherwise.
	CGI         *cgi.Process
	CGIOutBuf   []byte // accumulated CGI stdout, until the child's stdout reaches EOF
	CGIHeaderOK bool
	CGIStdinBuf []byte // remaining request body bytes still to write to stdin

	// SessionPendingCookie holds a freshly minted session id the router
	// asked for (first contact with a require_session Location) until the
	// response carrying its Set-Cookie header is built.
	SessionPendingCookie string

	CreatedAt    time.Time
	LastActivity time.Time

	closeAfterResponse bool
	keepAliveWanted    bool

	// pendingExtra, when non-empty, is extra bytes already read past
	// the just-completed request (HTTP pipelining), fed back into the
	// parser once the connection returns to ReadingHeaders.
	pendingExtra []byte
}

// New constructs a Connection fresh off accept(), in ReadingHeaders with a
// Parser bounded by config.DefaultMaxBodySize; the real bound is refined
// once the VirtualServer is selected.
func New(id uint64, fd int, remoteAddr string, l *config.Listener, now time.Time) *Connection {
	return &Connection{
		ID:           id,
		Fd:           fd,
		RemoteAddr:   remoteAddr,
		Listener:     l,
		State:        ReadingHeaders,
		parser:       httpmsg.NewParser(config.DefaultMaxBodySize),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Touch records read/write activity for the idle timer, per spec §4.H.
func (c *Connection) Touch(now time.Time) { c.LastActivity = now }

// CloseAfterResponse reports whether the connection must close once the
// in-flight response finishes, either because the client asked for it or
// because a handler error made the transport state unrecoverable.
func (c *Connection) CloseAfterResponse() bool { return c.closeAfterResponse }

// MarkCloseAfterResponse is set by the engine on parse corruption or a
// 5xx/Connection:close outcome.
func (c *Connection) MarkCloseAfterResponse() { c.closeAfterResponse = true }

// Request returns the most recently completed request; valid once State
// is Dispatching or later, until Reset is called for the next one.
func (c *Connection) Request() *Request { return &c.req }

// Feed advances the parser with newly-read bytes and updates State. It
// returns a non-nil *httperror.Status if the request failed parsing (the
// engine should build and queue an error response and, per CloseAfter,
// decide whether to keep the connection open). Feed only runs while State
// is ReadingHeaders or ReadingBody; calling it otherwise is a engine bug
// and is a no-op.
func (c *Connection) Feed(data []byte) *httperror.Status {
	if c.State != ReadingHeaders && c.State != ReadingBody {
		return nil
	}
	if c.req.Header == nil {
		c.req.Header = hdr.Header{}
	}
	events, _ := c.parser.Feed(data)
	for _, ev := range events {
		switch ev.Kind {
		case httpmsg.EventRequestLine:
			c.req.Method = ev.Method
			c.req.Target = ev.Target
			c.req.Version = ev.Version
			target, terr := urlpath.Parse(ev.Target)
			if terr != nil {
				return httperror.ErrBadRequest()
			}
			c.req.Path = target.Path
			c.req.Query = target.Query
		case httpmsg.EventHeader:
			c.req.Header.SetLastValueWins(ev.HeaderName, ev.HeaderValue)
			if strings.EqualFold(ev.HeaderName, hdr.Host) {
				c.host = ev.HeaderValue
			}
		case httpmsg.EventHeadersDone:
			if c.host == "" && c.req.Version == "HTTP/1.1" {
				return httperror.ErrBadRequest()
			}
			c.keepAliveWanted = computeKeepAlive(c.req.Version, c.req.Header)
			if c.Listener != nil {
				c.SetServer(c.Listener.SelectServer(c.host))
			}
			c.State = ReadingBody
		case httpmsg.EventBodyChunk:
			c.req.Body = append(c.req.Body, ev.Body...)
		case httpmsg.EventBodyDone:
			c.State = Dispatching
		case httpmsg.EventError:
			return ev.Err
		}
	}
	return nil
}

// computeKeepAlive applies the default-keep-alive/honour-close rule from
// spec §6: HTTP/1.1 defaults to keep-alive unless Connection: close is
// present; HTTP/1.0 defaults to close unless Connection: keep-alive is
// present.
func computeKeepAlive(version string, h hdr.Header) bool {
	conn := strings.ToLower(h.Get(hdr.Connection))
	if version == "HTTP/1.0" {
		return conn == "keep-alive"
	}
	return conn != "close"
}

// KeepAliveWanted reports the negotiated keep-alive outcome for the
// in-flight request.
func (c *Connection) KeepAliveWanted() bool { return c.keepAliveWanted && !c.closeAfterResponse }

// Host returns the raw Host header value observed for the in-flight
// request (port not yet stripped).
func (c *Connection) Host() string { return c.host }

// BeginWriting attaches a response Builder and transitions to Writing
// (the immediate-response path) or AwaitingUpstream is set by the engine
// directly when the body source is not yet fully available.
func (c *Connection) BeginWriting(b *respbuild.Builder) {
	c.Builder = b
	c.State = Writing
}

// FinishedResponse transitions to KeepAlive (resetting per-request state
// for reuse) or Draining, per spec §4.D's writable-event completion rule.
// It returns true if the connection should be kept open.
func (c *Connection) FinishedResponse() bool {
	if c.Builder != nil {
		c.Builder.Close()
		c.Builder = nil
	}
	c.CGI = nil
	c.CGIOutBuf = nil
	c.CGIStdinBuf = nil
	c.CGIHeaderOK = false
	c.SessionPendingCookie = ""

	if c.closeAfterResponse || !c.keepAliveWanted {
		c.State = Draining
		return false
	}
	c.resetForNextRequest()
	c.State = KeepAlive
	return true
}

// resetForNextRequest clears per-request fields, satisfying invariant 4
// ("A Connection in state KeepAlive has an empty parser and empty
// outbound queue").
func (c *Connection) resetForNextRequest() {
	maxBody := config.DefaultMaxBodySize
	if c.Server != nil {
		maxBody = c.Server.MaxBodySize
	}
	c.parser.Reset(maxBody)
	c.req = Request{}
	c.host = ""
	c.keepAliveWanted = false
}

// ReadyForNextRequest transitions KeepAlive -> ReadingHeaders. It only
// changes State; it does not feed any bytes to the parser (the engine
// feeds whatever TakePendingExtra returns, then later reads).
func (c *Connection) ReadyForNextRequest() {
	c.State = ReadingHeaders
}

// TakePendingExtra returns and clears bytes read past the end of the
// request just completed (HTTP pipelining leftovers).
func (c *Connection) TakePendingExtra() []byte {
	b := c.pendingExtra
	c.pendingExtra = nil
	return b
}

// SetPendingExtra stashes pipelined bytes the engine read but that belong
// to the next request.
func (c *Connection) SetPendingExtra(b []byte) {
	if len(b) == 0 {
		return
	}
	c.pendingExtra = append(c.pendingExtra, b...)
}

// SetServer narrows the parser's body-size bound once the VirtualServer is
// known, per spec §4.D ("select VirtualServer").
func (c *Connection) SetServer(vs *config.VirtualServer) {
	c.Server = vs
	if vs != nil {
		c.parser.SetMaxBodySize(vs.MaxBodySize)
	}
}
