package respbuild

import (
	"bytes"
	"io"
	"os"
)

// MemoryBody serves a Response body already fully held in memory (static
// error pages, directory listings, redirect bodies).
type MemoryBody struct {
	r *bytes.Reader
}

func NewMemoryBody(b []byte) *MemoryBody {
	return &MemoryBody{r: bytes.NewReader(b)}
}

func (m *MemoryBody) Read(p []byte) (int, error) { return m.r.Read(p) }
func (m *MemoryBody) Close() error               { return nil }
func (m *MemoryBody) Len() int64                 { return int64(m.r.Len()) }

// FileBody streams a static file (or a byte range of one) from an already
// open *os.File, per spec §4.F's regular-file serving path.
type FileBody struct {
	f         *os.File
	remaining int64
}

// NewFileBody wraps f, whose read offset is already positioned at the
// start of the range to serve, limited to length bytes.
func NewFileBody(f *os.File, length int64) *FileBody {
	return &FileBody{f: f, remaining: length}
}

func (f *FileBody) Read(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > f.remaining {
		p = p[:f.remaining]
	}
	n, err := f.f.Read(p)
	f.remaining -= int64(n)
	if err == nil && f.remaining == 0 {
		err = io.EOF
	}
	return n, err
}

func (f *FileBody) Close() error { return f.f.Close() }
func (f *FileBody) Len() int64   { return f.remaining }

// StreamBody wraps an io.ReadCloser of unknown length, such as a CGI
// child's stdout after its header block has been stripped. Len reports -1
// so the Builder frames it with chunked transfer encoding per spec §4.G
// ("forwarded to the client via chunked encoding unless the CGI supplied
// Content-Length").
type StreamBody struct {
	rc     io.ReadCloser
	length int64 // -1 when unknown
}

func NewStreamBody(rc io.ReadCloser, knownLength int64) *StreamBody {
	if knownLength < 0 {
		knownLength = -1
	}
	return &StreamBody{rc: rc, length: knownLength}
}

func (s *StreamBody) Read(p []byte) (int, error) { return s.rc.Read(p) }
func (s *StreamBody) Close() error               { return s.rc.Close() }
func (s *StreamBody) Len() int64                 { return s.length }
