package httpmsg

import (
	"strconv"
	"strings"

	"github.com/nolenjoy/forgeserve/internal/httperror"
)

// HeaderLimit bounds the request-line + header section, per spec §4.B
// ("Header section bounded at 8 KiB; exceeding → 431").
const HeaderLimit = 8 << 10

type state int

const (
	stateRequestLine state = iota
	stateHeaders
	stateBodyIdentity
	stateBodyChunkSize
	stateBodyChunkData
	stateBodyChunkCRLF
	stateBodyChunkTrailer
	stateDone
	stateError
)

// Parser is a pure, incremental HTTP/1.1 request parser. It performs no
// I/O: Feed accepts newly-read bytes and returns the events they produce.
// A Parser instance is reused across a keep-alive connection's requests
// via Reset.
type Parser struct {
	st  state
	buf []byte // bytes not yet consumed into an event

	headerBytes int64 // request-line + header bytes seen so far, vs HeaderLimit
	method      string

	haveContentLength bool
	contentLength     int64
	chunked           bool

	bodyRemaining int64 // identity-mode bytes left to read
	chunkSize     int64 // current chunk's remaining data bytes

	maxBodySize  int64
	bodyConsumed int64

	err error
}

// NewParser constructs a Parser whose total decoded body is bounded by
// maxBodySize (the VirtualServer's client_max_body_size).
func NewParser(maxBodySize int64) *Parser {
	return &Parser{st: stateRequestLine, maxBodySize: maxBodySize}
}

// Reset clears all per-request state so the Parser can be reused for the
// next pipelined or keep-alive request, per spec §3 invariant 4.
func (p *Parser) Reset(maxBodySize int64) {
	*p = Parser{st: stateRequestLine, maxBodySize: maxBodySize, buf: p.buf[:0]}
}

// SetMaxBodySize narrows the body-size bound mid-request, once the
// VirtualServer (and therefore its client_max_body_size) is known from
// the Host header -- this does not disturb the in-progress state machine,
// unlike Reset.
func (p *Parser) SetMaxBodySize(n int64) {
	p.maxBodySize = n
}

// Feed appends newly-read bytes to the parser's internal buffer and
// advances the state machine as far as the buffered data allows. It
// returns every event produced and the number of input bytes consumed
// (always len(data): unprocessed bytes are retained in the internal
// buffer, not returned to the caller, so the connection never needs to
// re-present a byte). Feed is a no-op once the parser has reached
// stateDone or stateError until Reset is called.
func (p *Parser) Feed(data []byte) ([]Event, int) {
	if p.st == stateError {
		return nil, len(data)
	}
	p.buf = append(p.buf, data...)

	var events []Event
	for {
		switch p.st {
		case stateRequestLine:
			line, ok := p.takeLine()
			if !ok {
				if p.st == stateError {
					events = append(events, Event{Kind: EventError, Err: p.err.(*httperror.Status)})
				}
				return events, len(data)
			}
			ev, err := parseRequestLine(line)
			if err != nil {
				events = append(events, p.fail(err))
				return events, len(data)
			}
			p.method = ev.Method
			events = append(events, ev)
			p.st = stateHeaders

		case stateHeaders:
			line, ok := p.takeLine()
			if !ok {
				if p.st == stateError {
					events = append(events, Event{Kind: EventError, Err: p.err.(*httperror.Status)})
				}
				return events, len(data)
			}
			if len(line) == 0 {
				if err := p.finishHeaders(); err != nil {
					events = append(events, p.fail(err))
					return events, len(data)
				}
				events = append(events, Event{Kind: EventHeadersDone})
				if p.bodyForbiddenOrAbsent() {
					events = append(events, Event{Kind: EventBodyDone})
					p.st = stateDone
					return events, len(data)
				}
				if p.chunked {
					p.st = stateBodyChunkSize
				} else {
					p.bodyRemaining = p.contentLength
					p.st = stateBodyIdentity
				}
				continue
			}
			name, value, err := parseHeaderLine(line)
			if err != nil {
				events = append(events, p.fail(err))
				return events, len(data)
			}
			if err := p.observeHeader(name, value); err != nil {
				events = append(events, p.fail(err))
				return events, len(data)
			}
			events = append(events, Event{Kind: EventHeader, HeaderName: name, HeaderValue: value})

		case stateBodyIdentity:
			if p.bodyRemaining == 0 {
				events = append(events, Event{Kind: EventBodyDone})
				p.st = stateDone
				return events, len(data)
			}
			if len(p.buf) == 0 {
				return events, len(data)
			}
			n := int64(len(p.buf))
			if n > p.bodyRemaining {
				n = p.bodyRemaining
			}
			chunk := p.buf[:n]
			p.buf = p.buf[n:]
			p.bodyRemaining -= n
			if err := p.accumulateBody(int64(len(chunk))); err != nil {
				events = append(events, p.fail(err))
				return events, len(data)
			}
			events = append(events, Event{Kind: EventBodyChunk, Body: chunk})

		case stateBodyChunkSize:
			line, ok := p.takeLine()
			if !ok {
				if p.st == stateError {
					events = append(events, Event{Kind: EventError, Err: p.err.(*httperror.Status)})
				}
				return events, len(data)
			}
			size, err := parseChunkSizeLine(line)
			if err != nil {
				events = append(events, p.fail(err))
				return events, len(data)
			}
			p.chunkSize = size
			if size == 0 {
				p.st = stateBodyChunkTrailer
			} else {
				p.st = stateBodyChunkData
			}

		case stateBodyChunkData:
			if p.chunkSize == 0 {
				p.st = stateBodyChunkCRLF
				continue
			}
			if len(p.buf) == 0 {
				return events, len(data)
			}
			n := int64(len(p.buf))
			if n > p.chunkSize {
				n = p.chunkSize
			}
			chunk := p.buf[:n]
			p.buf = p.buf[n:]
			p.chunkSize -= n
			if err := p.accumulateBody(int64(len(chunk))); err != nil {
				events = append(events, p.fail(err))
				return events, len(data)
			}
			events = append(events, Event{Kind: EventBodyChunk, Body: chunk})

		case stateBodyChunkCRLF:
			line, ok := p.takeLine()
			if !ok {
				if p.st == stateError {
					events = append(events, Event{Kind: EventError, Err: p.err.(*httperror.Status)})
				}
				return events, len(data)
			}
			if len(line) != 0 {
				events = append(events, p.fail(httperror.ErrBadRequest()))
				return events, len(data)
			}
			p.st = stateBodyChunkSize

		case stateBodyChunkTrailer:
			line, ok := p.takeLine()
			if !ok {
				if p.st == stateError {
					events = append(events, Event{Kind: EventError, Err: p.err.(*httperror.Status)})
				}
				return events, len(data)
			}
			if len(line) == 0 {
				events = append(events, Event{Kind: EventBodyDone})
				p.st = stateDone
				return events, len(data)
			}
			// Trailer headers are accepted and discarded per spec §4.B.

		case stateDone:
			return events, len(data)
		}
	}
}

func (p *Parser) fail(err *httperror.Status) Event {
	p.st = stateError
	p.err = err
	return Event{Kind: EventError, Err: err}
}

// takeLine extracts one CRLF- or bare-LF-terminated line from the front of
// buf, tolerating a lone LF per spec §4.B leniency while rejecting a lone
// CR not followed by LF as corrupt framing.
func (p *Parser) takeLine() ([]byte, bool) {
	for i := 0; i < len(p.buf); i++ {
		if p.buf[i] == '\n' {
			end := i
			if end > 0 && p.buf[end-1] == '\r' {
				end--
			}
			line := p.buf[:end]
			p.buf = p.buf[i+1:]
			if p.st == stateRequestLine || p.st == stateHeaders {
				p.headerBytes += int64(i + 1)
				if p.headerBytes > HeaderLimit {
					p.st = stateError
					p.err = httperror.ErrHeaderFieldsTooLarge()
					return nil, false
				}
			}
			return line, true
		}
		if p.buf[i] == '\r' {
			if i+1 >= len(p.buf) {
				// Might be a split CRLF across reads; wait for more data, but
				// only up to the header limit.
				break
			}
			if p.buf[i+1] != '\n' {
				p.st = stateError
				p.err = httperror.ErrBadRequest()
				return nil, false
			}
		}
	}
	if (p.st == stateRequestLine || p.st == stateHeaders) && p.headerBytes+int64(len(p.buf)) > HeaderLimit {
		p.st = stateError
		p.err = httperror.ErrHeaderFieldsTooLarge()
	}
	return nil, false
}

func (p *Parser) accumulateBody(n int64) *httperror.Status {
	p.bodyConsumed += n
	if p.maxBodySize > 0 && p.bodyConsumed > p.maxBodySize {
		return httperror.ErrPayloadTooLarge()
	}
	return nil
}

// bodyForbiddenOrAbsent reports whether this request has no body at all:
// either the method forbids one (GET/DELETE/HEAD) with none declared, or
// no framing header was present.
func (p *Parser) bodyForbiddenOrAbsent() bool {
	if p.chunked {
		return false
	}
	if p.haveContentLength {
		return p.contentLength == 0
	}
	return true
}

func (p *Parser) finishHeaders() *httperror.Status {
	if p.method == "POST" && !p.chunked && !p.haveContentLength {
		return httperror.ErrLengthRequired()
	}
	return nil
}

// observeHeader updates Content-Length/Transfer-Encoding bookkeeping as
// headers stream in, enforcing the duplicate-Content-Length and
// chunked-wins-over-length rules from spec §4.B.
func (p *Parser) observeHeader(name, value string) *httperror.Status {
	switch strings.ToLower(name) {
	case "content-length":
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || n < 0 {
			return httperror.ErrBadRequest()
		}
		if p.haveContentLength && p.contentLength != n {
			return httperror.ErrBadRequest()
		}
		p.haveContentLength = true
		p.contentLength = n
	case "transfer-encoding":
		if strings.Contains(strings.ToLower(value), "chunked") {
			p.chunked = true
			p.haveContentLength = false // RFC 7230 §3.3.3: chunked wins, drop Content-Length
		}
	}
	return nil
}

func parseRequestLine(line []byte) (Event, *httperror.Status) {
	s := string(line)
	parts := strings.SplitN(s, " ", 3)
	if len(parts) != 3 {
		return Event{}, httperror.ErrBadRequest()
	}
	method, target, version := parts[0], parts[1], parts[2]
	if method == "" || target == "" {
		return Event{}, httperror.ErrBadRequest()
	}
	if len(target) > 8192 {
		return Event{}, httperror.ErrURITooLong()
	}
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return Event{}, httperror.ErrBadRequest()
	}
	return Event{Kind: EventRequestLine, Method: method, Target: target, Version: version}, nil
}

func parseHeaderLine(line []byte) (string, string, *httperror.Status) {
	if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		// Obsolete line folding: rejected per spec §4.B.
		return "", "", httperror.ErrBadRequest()
	}
	idx := -1
	for i, b := range line {
		if b == ':' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return "", "", httperror.ErrBadRequest()
	}
	name := string(line[:idx])
	value := strings.TrimSpace(string(line[idx+1:]))
	if !validHeaderName(name) {
		return "", "", httperror.ErrBadRequest()
	}
	return name, value, nil
}

func validHeaderName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c <= ' ' || c == ':' || c == 0x7f {
			return false
		}
	}
	return true
}

func parseChunkSizeLine(line []byte) (int64, *httperror.Status) {
	s := string(line)
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i] // chunk extensions are ignored
	}
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil || n < 0 {
		return 0, httperror.ErrBadRequest()
	}
	return n, nil
}
