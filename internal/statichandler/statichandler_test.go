package statichandler

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nolenjoy/forgeserve/internal/config"
)

func TestResolveRejectsEscapingRoot(t *testing.T) {
	dir := t.TempDir()
	if _, err := Resolve(dir, "/../../etc/passwd"); err == nil {
		t.Fatal("expected 403 for path escaping root")
	}
}

func TestResolveStaysWithinRoot(t *testing.T) {
	dir := t.TempDir()
	full, err := Resolve(dir, "/sub/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(dir, "sub", "file.txt")
	if full != want {
		t.Fatalf("Resolve = %q, want %q", full, want)
	}
}

func TestServeGetRegularFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := ServeGet(&config.Location{}, filepath.Join(dir, "a.txt"), "/a.txt", "GET")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	body, err := io.ReadAll(res.Response.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q, want hello", body)
	}
}

func TestServeGetMissingFile(t *testing.T) {
	dir := t.TempDir()
	res := ServeGet(&config.Location{}, filepath.Join(dir, "missing.txt"), "/missing.txt", "GET")
	if res.Err == nil || res.Err.Code != 404 {
		t.Fatalf("expected 404, got %+v", res)
	}
}

func TestServeGetDirectoryWithoutIndexOrAutoindexForbidden(t *testing.T) {
	dir := t.TempDir()
	res := ServeGet(&config.Location{}, dir, "/", "GET")
	if res.Err == nil || res.Err.Code != 403 {
		t.Fatalf("expected 403, got %+v", res)
	}
}

func TestServeGetDirectoryAutoindex(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)
	res := ServeGet(&config.Location{Autoindex: true}, dir, "/", "GET")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	body, _ := io.ReadAll(res.Response.Body)
	if !strings.Contains(string(body), "a.txt") || !strings.Contains(string(body), "sub/") {
		t.Fatalf("listing missing entries: %s", body)
	}
}

func TestServeDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	os.WriteFile(p, []byte("x"), 0o644)
	res := ServeDelete(p)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Response.Status != 204 {
		t.Fatalf("status = %d, want 204", res.Response.Status)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("file should have been removed")
	}
}

func TestServeDeleteOnDirectoryForbidden(t *testing.T) {
	dir := t.TempDir()
	res := ServeDelete(dir)
	if res.Err == nil || res.Err.Code != 403 {
		t.Fatalf("expected 403 deleting a directory, got %+v", res)
	}
}
