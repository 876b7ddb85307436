/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements the case-insensitive header container used by
// both Request and Response, plus its wire-format canonicalization rules.
package hdr

import (
	"io"
	"sort"
	"strings"
	"sync"
)

const toLower = 'a' - 'A'

// Common header names, spelled out so callers never hand-canonicalize.
const (
	Accept           = "Accept"
	AcceptEncoding   = "Accept-Encoding"
	Allow            = "Allow"
	CacheControl     = "Cache-Control"
	Connection       = "Connection"
	ContentDisposition = "Content-Disposition"
	ContentLength    = "Content-Length"
	ContentRange     = "Content-Range"
	ContentType      = "Content-Type"
	CookieHeader     = "Cookie"
	Date             = "Date"
	ETag             = "Etag"
	Expect           = "Expect"
	Host             = "Host"
	LastModified     = "Last-Modified"
	Location         = "Location"
	ServerHeader     = "Server"
	SetCookieHeader  = "Set-Cookie"
	Status           = "Status"
	TransferEncoding = "Transfer-Encoding"
	UserAgent        = "User-Agent"

	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

var (
	headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

	headerSorterPool = sync.Pool{
		New: func() interface{} { return new(headerSorter) },
	}

	// commonHeader interns common header strings so canonicalization of a
	// well-known header never allocates a new string.
	commonHeader = make(map[string]string)

	// isTokenTable mirrors RFC 7230's token charset.
	isTokenTable = [127]bool{
		'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
		'8': true, '9': true,
		'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
		'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
		'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
		'y': true, 'z': true,
		'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
		'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
		'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
		'Y': true, 'Z': true,
		'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true, '*': true, '+': true,
		'-': true, '.': true, '^': true, '_': true, '`': true, '|': true, '~': true,
	}
)

func init() {
	for _, v := range []string{
		Accept, AcceptEncoding, Allow, CacheControl, Connection, ContentDisposition,
		ContentLength, ContentRange, ContentType, CookieHeader, Date, ETag, Expect, Host,
		LastModified, Location, ServerHeader, SetCookieHeader, Status, TransferEncoding, UserAgent,
	} {
		commonHeader[v] = v
	}
}

type (
	// Header is the case-insensitive key/value container used for request
	// and response headers. Keys are stored canonicalized; duplicate values
	// are appended in arrival order.
	Header map[string][]string

	writeStringer interface {
		WriteString(string) (int, error)
	}

	stringWriter struct{ w io.Writer }

	keyValues struct {
		key    string
		values []string
	}

	headerSorter struct{ kvs []keyValues }
)

func (w stringWriter) WriteString(s string) (int, error) { return w.w.Write([]byte(s)) }

func (s *headerSorter) Len() int           { return len(s.kvs) }
func (s *headerSorter) Swap(i, j int)      { s.kvs[i], s.kvs[j] = s.kvs[j], s.kvs[i] }
func (s *headerSorter) Less(i, j int) bool { return s.kvs[i].key < s.kvs[j].key }

// Add appends value to key, preserving any existing values.
func (h Header) Add(key, value string) {
	key = CanonicalHeaderKey(key)
	h[key] = append(h[key], value)
}

// Set replaces all values of key with a single value.
func (h Header) Set(key, value string) {
	h[CanonicalHeaderKey(key)] = []string{value}
}

// Get returns the first value for key, or "" if absent.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	v := h[CanonicalHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Del removes all values for key.
func (h Header) Del(key string) { delete(h, CanonicalHeaderKey(key)) }

// SetLastValueWins implements the request-header merge policy from the
// data model: last value wins for every header except Cookie and
// Set-Cookie, which concatenate (Cookie joins with "; ", Set-Cookie keeps
// every occurrence as a distinct entry, matching a browser's jar).
func (h Header) SetLastValueWins(key, value string) {
	ck := CanonicalHeaderKey(key)
	switch ck {
	case CookieHeader:
		if existing := h.get(ck); existing != "" {
			h[ck] = []string{existing + "; " + value}
		} else {
			h[ck] = []string{value}
		}
	case SetCookieHeader:
		h[ck] = append(h[ck], value)
	default:
		h[ck] = []string{value}
	}
}

func (h Header) get(key string) string {
	if v := h[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	h2 := make(Header, len(h))
	for k, vv := range h {
		vv2 := make([]string, len(vv))
		copy(vv2, vv)
		h2[k] = vv2
	}
	return h2
}

func (h Header) sortedKeyValues(exclude map[string]bool) (kvs []keyValues, hs *headerSorter) {
	hs = headerSorterPool.Get().(*headerSorter)
	if cap(hs.kvs) < len(h) {
		hs.kvs = make([]keyValues, 0, len(h))
	}
	kvs = hs.kvs[:0]
	for k, vv := range h {
		if !exclude[k] {
			kvs = append(kvs, keyValues{k, vv})
		}
	}
	hs.kvs = kvs
	sort.Sort(hs)
	return kvs, hs
}

// Write serializes h in wire format (CRLF-terminated lines), skipping keys
// in exclude. Duplicate values of the same key are written as repeated
// lines, matching invariant "duplicates allowed" from the Response data
// model.
func (h Header) Write(w io.Writer, exclude map[string]bool) error {
	ws, ok := w.(writeStringer)
	if !ok {
		ws = stringWriter{w}
	}
	kvs, sorter := h.sortedKeyValues(exclude)
	defer headerSorterPool.Put(sorter)
	for _, kv := range kvs {
		for _, v := range kv.values {
			v = headerNewlineToSpace.Replace(v)
			v = TrimString(v)
			for _, s := range [...]string{kv.key, ": ", v, "\r\n"} {
				if _, err := ws.WriteString(s); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// TrimString trims ASCII space, tab, CR and LF from both ends without
// assuming UTF-8.
func TrimString(s string) string {
	for len(s) > 0 && isASCIISpace(s[0]) {
		s = s[1:]
	}
	for len(s) > 0 && isASCIISpace(s[len(s)-1]) {
		s = s[:len(s)-1]
	}
	return s
}

func isASCIISpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

func isLWS(b byte) bool { return b == ' ' || b == '\t' }

func isCTL(b byte) bool { const del = 0x7f; return b < ' ' || b == del }

func validHeaderFieldByte(b byte) bool {
	return int(b) < len(isTokenTable) && isTokenTable[b]
}

// canonicalMIMEHeaderKey mutates a in place when possible, matching
// net/http's zero-allocation fast path for already-canonical keys.
func canonicalMIMEHeaderKey(a []byte) string {
	for _, c := range a {
		if !validHeaderFieldByte(c) {
			return string(a)
		}
	}
	upper := true
	for i, c := range a {
		if upper && 'a' <= c && c <= 'z' {
			c -= toLower
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += toLower
		}
		a[i] = c
		upper = c == '-'
	}
	if v := commonHeader[string(a)]; v != "" {
		return v
	}
	return string(a)
}

// CanonicalHeaderKey canonicalizes s the way HTTP/1.1 header field names
// are canonicalized: first letter and any letter after a hyphen upper
// case, rest lower case. Non-token input is returned unchanged.
func CanonicalHeaderKey(s string) string {
	upper := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !validHeaderFieldByte(c) {
			return s
		}
		if upper && 'a' <= c && c <= 'z' {
			return canonicalMIMEHeaderKey([]byte(s))
		}
		if !upper && 'A' <= c && c <= 'Z' {
			return canonicalMIMEHeaderKey([]byte(s))
		}
		upper = c == '-'
	}
	return s
}

// ValidHeaderFieldName reports whether v is a valid RFC 7230 token.
func ValidHeaderFieldName(v string) bool {
	if len(v) == 0 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if !validHeaderFieldByte(v[i]) {
			return false
		}
	}
	return true
}

// ValidHeaderFieldValue reports whether v contains no illegal control bytes.
func ValidHeaderFieldValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if isCTL(b) && !isLWS(b) {
			return false
		}
	}
	return true
}
