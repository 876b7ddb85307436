// Package respbuild implements the Response Builder from spec §4.C: given
// a Response, it serialises status line, headers, and body into bytes the
// Connection State Machine can hand to a non-blocking write, draining in
// bounded chunks so a single writable event never blocks on a slow body
// source (file or CGI pipe).
//
// The pull/drain shape (Drain(max) ([]byte, done, error) rather than an
// io.Writer push) mirrors the teacher's chunk_writer.go, which frames
// chunked bodies incrementally against a destination that may only accept
// a partial write per call; this package generalises that shape to cover
// identity bodies and to source bytes from memory, an open file, or a
// live CGI stdout stream.
package respbuild

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/nolenjoy/forgeserve/internal/hdr"
)

// DrainChunkSize is the bound on a single file-body read per spec §4.C
// ("reads in bounded chunks (e.g., 64 KiB)").
const DrainChunkSize = 64 << 10

// BodySource supplies response body bytes on demand. Implementations must
// not block: Read should behave like a non-blocking io.Reader, returning
// (0, nil) only when truly no data is currently available (callers here
// never do that; file and memory sources always have data or EOF ready).
type BodySource interface {
	io.Reader
	io.Closer
	// Len returns the total byte count if known, or -1 if the length is
	// unknown ahead of time (e.g. a live CGI stream without Content-Length).
	Len() int64
}

// Response is the input to a Builder: a status, a header set, and a body.
type Response struct {
	Status     int
	Reason     string
	Header     hdr.Header
	Body       BodySource
	KeepAlive  bool
	HTTPVer    string // "HTTP/1.1" or "HTTP/1.0"
	NoBody     bool   // true for HEAD responses: headers only
}

type phase int

const (
	phaseHead phase = iota
	phaseBody
	phaseChunkedBody
	phaseChunkedTrailer
	phaseDone
)

// Builder drains one Response into the connection's outbound byte queue
// across repeated calls, one per writable event.
type Builder struct {
	resp     *Response
	head     []byte
	phase    phase
	chunked  bool
	readBuf  []byte
}

// New constructs a Builder for resp, finalising the header set (Date,
// Server, Content-Length or Transfer-Encoding, Connection) the way spec
// §4.C requires every response to carry.
func New(resp *Response) *Builder {
	chunked := resp.Body != nil && resp.Body.Len() < 0
	h := resp.Header
	if h == nil {
		h = hdr.Header{}
	}
	h.Set(hdr.Date, time.Now().UTC().Format(hdr.TimeFormat))
	h.Set(hdr.ServerHeader, "forgeserve")
	if !resp.NoBody {
		if chunked {
			h.Set(hdr.TransferEncoding, "chunked")
			h.Del(hdr.ContentLength)
		} else {
			length := int64(0)
			if resp.Body != nil {
				length = resp.Body.Len()
			}
			h.Set(hdr.ContentLength, fmt.Sprintf("%d", length))
			h.Del(hdr.TransferEncoding)
		}
	} else {
		h.Del(hdr.TransferEncoding)
	}
	if resp.KeepAlive {
		h.Set(hdr.Connection, "keep-alive")
	} else {
		h.Set(hdr.Connection, "close")
	}
	resp.Header = h

	ver := resp.HTTPVer
	if ver == "" {
		ver = "HTTP/1.1"
	}
	reason := resp.Reason
	if reason == "" {
		reason = "OK"
	}
	var headBuf bytes.Buffer
	headBuf.WriteString(fmt.Sprintf("%s %d %s\r\n", ver, resp.Status, reason))
	_ = h.Write(&headBuf, nil)
	headBuf.WriteString("\r\n")
	head := headBuf.Bytes()

	return &Builder{resp: resp, head: head, phase: phaseHead, chunked: chunked, readBuf: make([]byte, DrainChunkSize)}
}

// Drain produces about maxBytes of wire bytes for the caller's next
// non-blocking write: identity bodies never exceed maxBytes, while chunked
// bodies may exceed it by the chunk-size line, CRLFs and terminal chunk.
// It returns done=true once the full response (headers and body) has been
// emitted. Each call only reads as much body data as needed to fill
// maxBytes, so a slow file or CGI source never forces the caller to buffer
// the whole response in memory.
func (b *Builder) Drain(maxBytes int) ([]byte, bool, error) {
	if maxBytes <= 0 {
		maxBytes = DrainChunkSize
	}
	var out []byte
	for len(out) < maxBytes {
		switch b.phase {
		case phaseHead:
			take := maxBytes - len(out)
			if take >= len(b.head) {
				out = append(out, b.head...)
				b.head = nil
				if b.resp.NoBody || b.resp.Body == nil {
					b.phase = phaseDone
					return out, true, nil
				}
				if b.chunked {
					b.phase = phaseChunkedBody
				} else {
					b.phase = phaseBody
				}
				continue
			}
			out = append(out, b.head[:take]...)
			b.head = b.head[take:]
			return out, false, nil

		case phaseBody:
			remaining := maxBytes - len(out)
			if remaining > len(b.readBuf) {
				remaining = len(b.readBuf)
			}
			n, err := b.resp.Body.Read(b.readBuf[:remaining])
			if n > 0 {
				out = append(out, b.readBuf[:n]...)
			}
			if err == io.EOF {
				b.phase = phaseDone
				return out, true, nil
			}
			if err != nil {
				return out, false, err
			}
			if n == 0 {
				return out, false, nil
			}

		case phaseChunkedBody:
			remaining := maxBytes - len(out)
			if remaining > len(b.readBuf) {
				remaining = len(b.readBuf)
			}
			if remaining <= 0 {
				return out, false, nil
			}
			n, err := b.resp.Body.Read(b.readBuf[:remaining])
			if n > 0 {
				out = append(out, fmt.Sprintf("%x\r\n", n)...)
				out = append(out, b.readBuf[:n]...)
				out = append(out, '\r', '\n')
			}
			if err == io.EOF {
				out = append(out, "0\r\n\r\n"...)
				b.phase = phaseDone
				return out, true, nil
			}
			if err != nil {
				return out, false, err
			}
			if n == 0 {
				return out, false, nil
			}

		case phaseDone:
			return out, true, nil
		}
	}
	return out, b.phase == phaseDone, nil
}

// Close releases the underlying body source (file descriptor or CGI pipe).
func (b *Builder) Close() error {
	if b.resp.Body != nil {
		return b.resp.Body.Close()
	}
	return nil
}
