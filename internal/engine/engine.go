// Package engine wires the Readiness Reactor, the Connection State
// Machine, the Request Router, the Static/Upload/CGI handlers, the
// Session Store, and the Timeout & Lifecycle Manager into the single
// event loop spec §2's control-flow paragraph describes: the reactor
// yields ready events, the engine dispatches each to its owning listener
// or connection, the connection advances its state machine, and on a
// complete request the router selects a handler whose output is pushed
// back through the reactor.
//
// There is no teacher equivalent (badu-http is goroutine-per-connection,
// see DESIGN.md); this package is the new top-level orchestrator that
// the rest of internal/* were built to be assembled by.
package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/nolenjoy/forgeserve/internal/cgi"
	"github.com/nolenjoy/forgeserve/internal/config"
	"github.com/nolenjoy/forgeserve/internal/conn"
	"github.com/nolenjoy/forgeserve/internal/hdr"
	"github.com/nolenjoy/forgeserve/internal/httperror"
	"github.com/nolenjoy/forgeserve/internal/mimetypes"
	"github.com/nolenjoy/forgeserve/internal/reactor"
	"github.com/nolenjoy/forgeserve/internal/respbuild"
	"github.com/nolenjoy/forgeserve/internal/router"
	"github.com/nolenjoy/forgeserve/internal/session"
	"github.com/nolenjoy/forgeserve/internal/statichandler"
	"github.com/nolenjoy/forgeserve/internal/timeoutmgr"
	"github.com/nolenjoy/forgeserve/internal/upload"
)

// token kinds, packed into the low 3 bits of every reactor token; the
// remaining bits carry either a listening fd or a Connection ID. See
// makeToken/tokenKind/tokenID.
const (
	tokListener uint64 = iota
	tokClient
	tokCGIStdin
	tokCGIStdout
	tokCGIStderr
)

func makeToken(kind, id uint64) uint64 { return id<<3 | kind }
func tokenKind(tok uint64) uint64      { return tok & 0x7 }
func tokenID(tok uint64) uint64        { return tok >> 3 }

// GracePeriod bounds how long Shutdown waits for in-flight requests to
// drain before closing every remaining connection, per spec §5.
const GracePeriod = 5 * time.Second

// readBufSize is the bound on one non-blocking read per readable event.
const readBufSize = 64 << 10

// Engine owns every live Connection and CGI process; it is the engine-
// owned connection table the cyclic-ownership design note (spec §9)
// requires.
type Engine struct {
	cfg *config.Config
	rx  reactor.Reactor
	log zerolog.Logger

	listeners map[int]*config.Listener
	conns     map[uint64]*conn.Connection
	nextID    uint64

	cgiByConn map[uint64]*cgi.Process

	timeouts *timeoutmgr.Manager
	sessions *session.Store

	shuttingDown  bool
	drainDeadline time.Time
}

// New constructs an Engine bound to every Listener in cfg.
func New(cfg *config.Config, sessions *session.Store, log zerolog.Logger) (*Engine, error) {
	rx, err := reactor.New()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		rx:        rx,
		log:       log,
		listeners: make(map[int]*config.Listener),
		conns:     make(map[uint64]*conn.Connection),
		cgiByConn: make(map[uint64]*cgi.Process),
		timeouts:  timeoutmgr.New(timeoutmgr.DefaultIdle, timeoutmgr.DefaultTotal),
		sessions:  sessions,
	}
	for _, l := range cfg.Listeners {
		fd, err := listenRawFD(l.Addr)
		if err != nil {
			e.Close()
			return nil, httperror.Wrapf(err, "engine: bind %s", l.Addr)
		}
		if err := rx.Register(fd, reactor.Readable, makeToken(tokListener, uint64(fd))); err != nil {
			e.Close()
			return nil, err
		}
		e.listeners[fd] = l
		e.log.Info().Str("addr", l.Addr).Msg("listening")
	}
	return e, nil
}

// Shutdown stops accepting new connections and begins the grace-period
// drain, per spec §5 ("stops accepting, drains in-flight requests for a
// grace period, then closes all remaining connections").
func (e *Engine) Shutdown(now time.Time) {
	if e.shuttingDown {
		return
	}
	e.shuttingDown = true
	e.drainDeadline = now.Add(GracePeriod)
	for fd := range e.listeners {
		e.rx.Unregister(fd)
	}
	e.log.Info().Msg("shutdown: draining in-flight connections")
}

func (e *Engine) drained(now time.Time) bool {
	return len(e.conns) == 0 || now.After(e.drainDeadline)
}

// Run blocks until shutdownCh fires and the drain completes (or the grace
// period elapses), processing exactly one reactor.Wait per iteration per
// spec §4.A.
func (e *Engine) Run(shutdownCh <-chan struct{}) error {
	for {
		select {
		case <-shutdownCh:
			e.Shutdown(time.Now())
		default:
		}
		if e.shuttingDown && e.drained(time.Now()) {
			break
		}

		now := time.Now()
		timeout := e.timeouts.NextTimeout(now)
		if timeout < 0 || timeout > time.Second {
			timeout = time.Second
		}
		events, err := e.rx.Wait(timeout)
		if err != nil {
			return err
		}
		for _, ev := range events {
			e.handleEvent(ev)
		}
		e.handleExpired(time.Now())
	}
	e.closeAll()
	return e.rx.Close()
}

func (e *Engine) handleEvent(ev reactor.Event) {
	kind, id := tokenKind(ev.Token), tokenID(ev.Token)
	switch kind {
	case tokListener:
		e.handleListenerReadable(int(id))
	case tokClient:
		e.handleClientEvent(id, ev.Readiness)
	case tokCGIStdin:
		e.handleCGIStdinWritable(id)
	case tokCGIStdout:
		e.handleCGIStdoutReadable(id)
	case tokCGIStderr:
		e.handleCGIStderrReadable(id)
	}
}

func (e *Engine) handleListenerReadable(fd int) {
	if e.shuttingDown {
		return
	}
	l := e.listeners[fd]
	for {
		connFd, remote, err := acceptOne(fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			e.log.Warn().Err(err).Msg("accept failed")
			return
		}
		now := time.Now()
		id := e.nextID
		e.nextID++
		c := conn.New(id, connFd, remote, l, now)
		e.conns[id] = c
		e.timeouts.Track(id, now)
		if err := e.rx.Register(connFd, reactor.Readable, makeToken(tokClient, id)); err != nil {
			e.log.Warn().Err(err).Msg("register client fd failed")
			e.closeConn(id)
		}
	}
}

func (e *Engine) handleClientEvent(id uint64, readiness reactor.Interest) {
	c, ok := e.conns[id]
	if !ok {
		return
	}
	if readiness&reactor.Readable != 0 {
		switch c.State {
		case conn.ReadingHeaders, conn.ReadingBody, conn.KeepAlive:
			e.onClientReadable(c)
		}
	}
	c, ok = e.conns[id]
	if !ok {
		return
	}
	if readiness&reactor.Writable != 0 && c.State == conn.Writing {
		e.onClientWritable(c)
	}
}

func (e *Engine) onClientReadable(c *conn.Connection) {
	buf := make([]byte, readBufSize)
	for {
		n, err := unix.Read(c.Fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			e.closeConn(c.ID)
			return
		}
		if n == 0 {
			e.closeConn(c.ID) // peer closed; spec §4.D: silent close either way here
			return
		}
		e.timeouts.TouchIdle(c.ID, time.Now())
		if c.State == conn.KeepAlive {
			c.ReadyForNextRequest()
		}
		status := c.Feed(buf[:n])
		if status != nil {
			e.respondError(c, status, "")
			return
		}
		if c.State == conn.Dispatching {
			e.dispatch(c)
			return
		}
		if n < len(buf) {
			return
		}
	}
}

func (e *Engine) onClientWritable(c *conn.Connection) {
	for {
		chunk, done, err := c.Builder.Drain(readBufSize)
		if err != nil {
			e.closeConn(c.ID)
			return
		}
		off := 0
		for off < len(chunk) {
			n, werr := unix.Write(c.Fd, chunk[off:])
			if werr != nil {
				if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
					// Can't make progress right now; caller retries on
					// the next writable event. Bytes already drained
					// from the builder but not written are lost only if
					// we don't retry -- so stash nothing and rely on the
					// fact Drain is idempotent-forward only when done is
					// false and we return before consuming 'done'.
					return
				}
				e.closeConn(c.ID)
				return
			}
			off += n
			e.timeouts.TouchIdle(c.ID, time.Now())
		}
		if done {
			e.finishResponse(c)
			return
		}
	}
}

func (e *Engine) finishResponse(c *conn.Connection) {
	e.timeouts.StopTotal(c.ID)
	keep := c.FinishedResponse()
	if !keep {
		e.closeConn(c.ID)
		return
	}
	extra := c.TakePendingExtra()
	if err := e.rx.Modify(c.Fd, reactor.Readable); err != nil {
		e.closeConn(c.ID)
		return
	}
	if len(extra) > 0 {
		c.ReadyForNextRequest()
		status := c.Feed(extra)
		if status != nil {
			e.respondError(c, status, "")
			return
		}
		if c.State == conn.Dispatching {
			e.dispatch(c)
		}
	}
}

func (e *Engine) closeConn(id uint64) {
	c, ok := e.conns[id]
	if !ok {
		return
	}
	delete(e.conns, id)
	e.timeouts.Remove(id)
	e.rx.Unregister(c.Fd)
	unix.Close(c.Fd)
	e.cleanupCGI(c)
}

// cleanupCGI terminates and unregisters an in-flight CGI process, if any,
// so that no further event on its pipes can reach handleCGIStdin/Stdout/
// StderrReadable once the caller has already decided the connection's
// outcome (closing it, or answering its request with an error response).
// Safe to call when c.CGI is nil.
func (e *Engine) cleanupCGI(c *conn.Connection) {
	p, ok := e.cgiByConn[c.ID]
	if !ok {
		return
	}
	p.Terminate()
	e.rx.Unregister(p.StdinFd)
	e.rx.Unregister(p.StdoutFd)
	e.rx.Unregister(p.StderrFd)
	p.Close()
	go p.Reap() // bounded, rare per spec §5; avoid blocking the loop on a lingering child
	delete(e.cgiByConn, c.ID)
	c.CGI = nil
}

func (e *Engine) closeAll() {
	for id := range e.conns {
		e.closeConn(id)
	}
	for fd := range e.listeners {
		e.rx.Unregister(fd)
		unix.Close(fd)
	}
}

// Close releases the reactor without running the event loop; used when
// construction fails partway through.
func (e *Engine) Close() error {
	for fd := range e.listeners {
		unix.Close(fd)
	}
	return e.rx.Close()
}

func (e *Engine) handleExpired(now time.Time) {
	for _, exp := range e.timeouts.Poll(now) {
		c, ok := e.conns[exp.ID]
		if !ok {
			continue
		}
		switch exp.Kind {
		case timeoutmgr.Idle:
			switch c.State {
			case conn.ReadingHeaders, conn.ReadingBody:
				e.respondError(c, httperror.ErrRequestTimeout(), "")
			case conn.AwaitingUpstream:
				// A CGI script may legitimately run past the idle window;
				// handleCGIStd*Readable/Writable touch the idle timer on
				// every pipe event, so reaching here with no progress means
				// the total-request deadline started in dispatch is the one
				// that governs -- it is tracked separately and will fire on
				// its own schedule.
			case conn.KeepAlive:
				e.closeConn(c.ID)
			case conn.Writing:
				e.closeConn(c.ID)
			default:
				e.closeConn(c.ID)
			}
		case timeoutmgr.Total:
			e.cleanupCGI(c)
			if c.State == conn.Writing {
				e.closeConn(c.ID)
			} else {
				e.respondError(c, httperror.ErrGatewayTime(), "")
			}
		}
	}
}

// dispatch runs the Request Router against the fully-buffered request and
// carries out whichever handler kind it selects, per spec §4.E.
func (e *Engine) dispatch(c *conn.Connection) {
	now := time.Now()
	vs := c.Server
	total := timeoutmgr.DefaultTotal
	if vs != nil && vs.RequestTimeout > 0 {
		total = vs.RequestTimeout
	}
	e.timeouts.StartTotalWithTimeout(c.ID, now, total)

	req := c.Request()
	sessionID, present := extractCookie(req.Header.Get(hdr.CookieHeader), session.DefaultCookieName)
	valid := present && e.sessions.Valid(sessionID, now)

	in := router.Input{
		Host:           c.Host(),
		Method:         req.Method,
		DecodedPath:    req.Path,
		ContentType:    req.Header.Get(hdr.ContentType),
		BodySize:       int64(len(req.Body)),
		SessionPresent: present,
		SessionValid:   valid,
	}
	d := router.Route(c.Listener, in)

	var newSessionID string
	if d.MintSession {
		newSessionID = e.sessions.New(now)
	}

	switch d.Kind {
	case router.KindError:
		e.respondError(c, d.Err, d.AllowHeader)
	case router.KindRedirect:
		e.respondRedirect(c, d, newSessionID)
	case router.KindUpload:
		e.respondUpload(c, d, newSessionID)
	case router.KindCGI:
		e.beginCGI(c, d, newSessionID)
	case router.KindStatic:
		e.respondStatic(c, d, newSessionID)
	}
}

func extractCookie(cookieHeader, name string) (value string, present bool) {
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 && kv[0] == name {
			return kv[1], true
		}
	}
	return "", false
}

func httpVersion(c *conn.Connection) string {
	v := c.Request().Version
	if v == "" {
		return "HTTP/1.1"
	}
	return v
}

func setSessionCookie(h hdr.Header, sessionID string) {
	if sessionID == "" {
		return
	}
	h.Add(hdr.SetCookieHeader, fmt.Sprintf("%s=%s; Path=/; HttpOnly", session.DefaultCookieName, sessionID))
}

func (e *Engine) beginWrite(c *conn.Connection, resp *respbuild.Response) {
	b := respbuild.New(resp)
	c.BeginWriting(b)
	if err := e.rx.Modify(c.Fd, reactor.Writable); err != nil {
		e.closeConn(c.ID)
		return
	}
	e.onClientWritable(c)
}

func (e *Engine) respondError(c *conn.Connection, status *httperror.Status, allowHeader string) {
	h := hdr.Header{}
	h.Set(hdr.ContentType, "text/html; charset=utf-8")
	if allowHeader != "" {
		h.Set(hdr.Allow, allowHeader)
	}
	if status.CloseAfter() {
		c.MarkCloseAfterResponse()
	}
	resp := &respbuild.Response{
		Status: status.Code, Reason: status.Reason, Header: h,
		Body: respbuild.NewMemoryBody(errorBody(c.Server, status)),
		NoBody: c.Request().Method == "HEAD", KeepAlive: c.KeepAliveWanted(), HTTPVer: httpVersion(c),
	}
	e.beginWrite(c, resp)
}

var redirectReason = map[int]string{
	301: "Moved Permanently", 302: "Found", 303: "See Other",
	307: "Temporary Redirect", 308: "Permanent Redirect",
}

func (e *Engine) respondRedirect(c *conn.Connection, d router.Decision, newSessionID string) {
	h := hdr.Header{}
	h.Set(hdr.Location, d.RedirectURL)
	setSessionCookie(h, newSessionID)
	reason := redirectReason[d.RedirectCode]
	if reason == "" {
		reason = "Redirect"
	}
	resp := &respbuild.Response{
		Status: d.RedirectCode, Reason: reason, Header: h, Body: respbuild.NewMemoryBody(nil),
		NoBody: true, KeepAlive: c.KeepAliveWanted(), HTTPVer: httpVersion(c),
	}
	e.beginWrite(c, resp)
}

func (e *Engine) respondStatic(c *conn.Connection, d router.Decision, newSessionID string) {
	var result statichandler.Result
	if c.Request().Method == "DELETE" {
		result = statichandler.ServeDelete(d.FullPath)
	} else {
		result = statichandler.ServeGet(d.Location, d.FullPath, c.Request().Path, c.Request().Method)
	}
	if result.Err != nil {
		e.respondError(c, result.Err, "")
		return
	}
	result.Response.KeepAlive = c.KeepAliveWanted()
	result.Response.HTTPVer = httpVersion(c)
	setSessionCookie(result.Response.Header, newSessionID)
	e.beginWrite(c, result.Response)
}

func (e *Engine) respondUpload(c *conn.Connection, d router.Decision, newSessionID string) {
	saved, status := upload.HandleMultipart(c.Request().Header.Get(hdr.ContentType), c.Request().Body, d.FullPath)
	if status != nil {
		e.respondError(c, status, "")
		return
	}
	var body bytes.Buffer
	for _, s := range saved {
		fmt.Fprintf(&body, "%s -> %s (%d bytes)\n", s.FileName, s.StoredAs, s.Size)
	}
	h := hdr.Header{}
	h.Set(hdr.ContentType, "text/plain; charset=utf-8")
	setSessionCookie(h, newSessionID)
	resp := &respbuild.Response{
		Status: 201, Reason: "Created", Header: h, Body: respbuild.NewMemoryBody(body.Bytes()),
		KeepAlive: c.KeepAliveWanted(), HTTPVer: httpVersion(c),
	}
	e.beginWrite(c, resp)
}

func errorBody(vs *config.VirtualServer, status *httperror.Status) []byte {
	if vs != nil {
		if path, ok := vs.ErrorPages[status.Code]; ok {
			if b, err := os.ReadFile(path); err == nil {
				return b
			}
		}
	}
	return mimetypes.ErrorPage(status.Code, status.Reason)
}

// --- CGI bridge wiring (spec §4.G) ---

func (e *Engine) beginCGI(c *conn.Connection, d router.Decision, newSessionID string) {
	req := c.Request()
	vs := c.Server
	deadline := time.Now().Add(timeoutmgr.DefaultTotal)
	if vs != nil && vs.RequestTimeout > 0 {
		deadline = time.Now().Add(vs.RequestTimeout)
	}
	env := cgi.BuildEnv(cgi.EnvParams{
		Method:        req.Method,
		ScriptName:    req.Path,
		ScriptPath:    d.FullPath,
		QueryString:   req.Query,
		ContentType:   req.Header.Get(hdr.ContentType),
		ContentLength: int64(len(req.Body)),
		ServerName:    c.Host(),
		ServerPort:    "",
		RemoteAddr:    c.RemoteAddr,
		Headers:       req.Header,
	})
	p, err := cgi.Spawn(c.ID, d.Location.CGIInterpreter, d.FullPath, env, deadline)
	if err != nil {
		e.respondError(c, httperror.ErrBadGateway(), "")
		return
	}
	e.cgiByConn[c.ID] = p
	c.CGI = p
	c.CGIStdinBuf = req.Body
	c.State = conn.AwaitingUpstream
	c.SessionPendingCookie = newSessionID

	if len(c.CGIStdinBuf) == 0 {
		p.StdinW.Close()
	} else if err := e.rx.Register(p.StdinFd, reactor.Writable, makeToken(tokCGIStdin, c.ID)); err != nil {
		e.respondError(c, httperror.ErrInternal(), "")
		return
	}
	if err := e.rx.Register(p.StdoutFd, reactor.Readable, makeToken(tokCGIStdout, c.ID)); err != nil {
		e.respondError(c, httperror.ErrInternal(), "")
		return
	}
	e.rx.Register(p.StderrFd, reactor.Readable, makeToken(tokCGIStderr, c.ID))
}

func (e *Engine) handleCGIStdinWritable(connID uint64) {
	c, ok := e.conns[connID]
	if !ok || c.CGI == nil {
		return
	}
	e.timeouts.TouchIdle(connID, time.Now())
	for len(c.CGIStdinBuf) > 0 {
		n, err := unix.Write(c.CGI.StdinFd, c.CGIStdinBuf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			c.CGIStdinBuf = nil
			break
		}
		c.CGIStdinBuf = c.CGIStdinBuf[n:]
	}
	e.rx.Unregister(c.CGI.StdinFd)
	c.CGI.StdinW.Close()
}

func (e *Engine) handleCGIStderrReadable(connID uint64) {
	c, ok := e.conns[connID]
	if !ok || c.CGI == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(c.CGI.StderrFd, buf)
		if n > 0 {
			e.timeouts.TouchIdle(connID, time.Now())
			e.log.Warn().Uint64("conn", connID).Str("cgi_stderr", string(buf[:n])).Msg("cgi stderr")
		}
		if err != nil || n == 0 {
			return
		}
	}
}

func (e *Engine) handleCGIStdoutReadable(connID uint64) {
	c, ok := e.conns[connID]
	if !ok || c.CGI == nil {
		return
	}
	buf := make([]byte, readBufSize)
	for {
		n, err := unix.Read(c.CGI.StdoutFd, buf)
		if n > 0 {
			e.timeouts.TouchIdle(connID, time.Now())
			c.CGIOutBuf = append(c.CGIOutBuf, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			e.finishCGI(c)
			return
		}
		if n == 0 {
			e.finishCGI(c)
			return
		}
	}
}

// finishCGI runs once the child's stdout has reached EOF: it reaps the
// process (spec §4.G: "the child is reaped on stdout EOF"), parses the
// header block, and builds the client response.
func (e *Engine) finishCGI(c *conn.Connection) {
	p := c.CGI
	if p == nil {
		return
	}
	e.rx.Unregister(p.StdoutFd)
	e.rx.Unregister(p.StderrFd)
	e.rx.Unregister(p.StdinFd)
	delete(e.cgiByConn, c.ID)

	exited, code := p.Reap()
	p.Close()

	parsed, bodyStart, complete, perr := cgi.ParseHeaders(c.CGIOutBuf)
	if perr != nil || !complete {
		e.respondError(c, httperror.ErrBadGateway(), "")
		return
	}
	if exited && code != 0 {
		e.respondError(c, httperror.ErrBadGateway(), "")
		return
	}
	bodyBytes := c.CGIOutBuf[bodyStart:]
	h := parsed.Header
	if h == nil {
		h = hdr.Header{}
	}
	var body respbuild.BodySource
	if parsed.ContentLength >= 0 {
		if int64(len(bodyBytes)) > parsed.ContentLength {
			bodyBytes = bodyBytes[:parsed.ContentLength]
		}
		body = respbuild.NewMemoryBody(bodyBytes)
	} else {
		body = respbuild.NewStreamBody(io.NopCloser(bytes.NewReader(bodyBytes)), -1)
	}
	setSessionCookie(h, c.SessionPendingCookie)
	resp := &respbuild.Response{
		Status: parsed.Status, Header: h, Body: body,
		NoBody: c.Request().Method == "HEAD", KeepAlive: c.KeepAliveWanted(), HTTPVer: httpVersion(c),
	}
	e.beginWrite(c, resp)
}
