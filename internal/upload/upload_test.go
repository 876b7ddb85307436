package upload

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHandleMultipartWritesFile(t *testing.T) {
	dir := t.TempDir()
	body := "--B\r\n" +
		"Content-Disposition: form-data; name=\"f\"; filename=\"a.txt\"\r\n\r\n" +
		"hi\r\n--B--\r\n"
	saved, err := HandleMultipart(`multipart/form-data; boundary=B`, []byte(body), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("expected 1 saved file, got %d", len(saved))
	}
	data, rerr := os.ReadFile(filepath.Join(dir, saved[0].StoredAs))
	if rerr != nil {
		t.Fatalf("ReadFile: %v", rerr)
	}
	if string(data) != "hi" {
		t.Fatalf("file contents = %q, want hi", data)
	}
	if saved[0].FileName != "a.txt" {
		t.Fatalf("FileName = %q, want a.txt", saved[0].FileName)
	}
}

func TestHandleMultipartRejectsBadContentType(t *testing.T) {
	dir := t.TempDir()
	if _, err := HandleMultipart("text/plain", []byte("x"), dir); err == nil {
		t.Fatal("expected error for non-multipart content type")
	}
}

func TestHandleMultipartRejectsMissingBoundary(t *testing.T) {
	dir := t.TempDir()
	if _, err := HandleMultipart("multipart/form-data", []byte("x"), dir); err == nil {
		t.Fatal("expected error for missing boundary parameter")
	}
}
