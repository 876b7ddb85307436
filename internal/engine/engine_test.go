package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nolenjoy/forgeserve/internal/config"
	"github.com/nolenjoy/forgeserve/internal/httperror"
)

func TestTokenRoundTrip(t *testing.T) {
	cases := []struct {
		kind uint64
		id   uint64
	}{
		{tokListener, 7},
		{tokClient, 12345},
		{tokCGIStdin, 1},
		{tokCGIStdout, 1},
		{tokCGIStderr, 1},
	}
	for _, c := range cases {
		tok := makeToken(c.kind, c.id)
		if got := tokenKind(tok); got != c.kind {
			t.Fatalf("tokenKind(%d) = %d, want %d", tok, got, c.kind)
		}
		if got := tokenID(tok); got != c.id {
			t.Fatalf("tokenID(%d) = %d, want %d", tok, got, c.id)
		}
	}
}

func TestExtractCookiePresentAndAbsent(t *testing.T) {
	if v, ok := extractCookie("forgeserve_sid=abc123; other=x", "forgeserve_sid"); !ok || v != "abc123" {
		t.Fatalf("expected cookie to be found, got %q %v", v, ok)
	}
	if _, ok := extractCookie("other=x", "forgeserve_sid"); ok {
		t.Fatal("expected no cookie present")
	}
	if _, ok := extractCookie("", "forgeserve_sid"); ok {
		t.Fatal("expected no cookie present for empty header")
	}
}

func TestErrorBodyPrefersConfiguredPage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "404.html")
	os.WriteFile(path, []byte("custom not found"), 0o644)
	vs := &config.VirtualServer{ErrorPages: map[int]string{404: path}}
	body := errorBody(vs, httperror.ErrNotFound())
	if string(body) != "custom not found" {
		t.Fatalf("expected configured error page contents, got %q", body)
	}
}

func TestErrorBodyFallsBackToBuiltin(t *testing.T) {
	body := errorBody(nil, httperror.ErrNotFound())
	if len(body) == 0 {
		t.Fatal("expected a non-empty built-in error body")
	}
}

func TestErrorBodyMissingConfiguredFileFallsBack(t *testing.T) {
	vs := &config.VirtualServer{ErrorPages: map[int]string{500: "/does/not/exist.html"}}
	body := errorBody(vs, httperror.ErrInternal())
	if len(body) == 0 {
		t.Fatal("expected fallback built-in body when configured file is unreadable")
	}
}
