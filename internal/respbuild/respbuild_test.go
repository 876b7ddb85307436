package respbuild

import (
	"strings"
	"testing"

	"github.com/nolenjoy/forgeserve/internal/hdr"
)

func drainAll(t *testing.T, b *Builder, chunk int) []byte {
	t.Helper()
	var out []byte
	for {
		p, done, err := b.Drain(chunk)
		if err != nil {
			t.Fatalf("Drain: %v", err)
		}
		out = append(out, p...)
		if done {
			return out
		}
	}
}

func TestDrainMemoryBodyIdentity(t *testing.T) {
	resp := &Response{
		Status: 200,
		Header: hdr.Header{},
		Body:   NewMemoryBody([]byte("hello world")),
	}
	b := New(resp)
	out := drainAll(t, b, 4096)
	s := string(out)
	if !strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("missing status line: %q", s)
	}
	if !strings.Contains(s, "Content-Length: 11\r\n") {
		t.Fatalf("missing Content-Length: %q", s)
	}
	if !strings.HasSuffix(s, "hello world") {
		t.Fatalf("missing body: %q", s)
	}
}

func TestDrainSmallChunksStillCompletes(t *testing.T) {
	resp := &Response{
		Status: 200,
		Header: hdr.Header{},
		Body:   NewMemoryBody([]byte(strings.Repeat("x", 500))),
	}
	b := New(resp)
	out := drainAll(t, b, 7) // deliberately awkward chunk size
	if !strings.Contains(string(out), strings.Repeat("x", 500)) {
		t.Fatalf("body not fully drained in small increments")
	}
}

func TestDrainUnknownLengthUsesChunkedEncoding(t *testing.T) {
	stream := NewStreamBody(NewMemoryBodyReadCloser("part-one-part-two"), -1)
	resp := &Response{Status: 200, Header: hdr.Header{}, Body: stream}
	b := New(resp)
	out := drainAll(t, b, 4096)
	s := string(out)
	if !strings.Contains(s, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("expected chunked encoding: %q", s)
	}
	if !strings.HasSuffix(s, "0\r\n\r\n") {
		t.Fatalf("missing terminal chunk: %q", s)
	}
}

func TestDrainHeadOmitsBody(t *testing.T) {
	resp := &Response{
		Status: 200,
		Header: hdr.Header{},
		Body:   NewMemoryBody([]byte("should not appear")),
		NoBody: true,
	}
	b := New(resp)
	out := drainAll(t, b, 4096)
	if strings.Contains(string(out), "should not appear") {
		t.Fatalf("HEAD response must not include a body: %q", out)
	}
}

func TestDrainSetsConnectionHeader(t *testing.T) {
	resp := &Response{Status: 200, Header: hdr.Header{}, Body: NewMemoryBody(nil), KeepAlive: true}
	b := New(resp)
	out := drainAll(t, b, 4096)
	if !strings.Contains(string(out), "Connection: keep-alive\r\n") {
		t.Fatalf("expected keep-alive: %q", out)
	}
}

// memoryBodyReadCloser adapts MemoryBody to io.ReadCloser for StreamBody tests.
type memoryBodyReadCloser struct{ *MemoryBody }

func NewMemoryBodyReadCloser(s string) *memoryBodyReadCloser {
	return &memoryBodyReadCloser{NewMemoryBody([]byte(s))}
}
