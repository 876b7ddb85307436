package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nolenjoy/forgeserve/internal/config"
)

func testListener(t *testing.T, root string) *config.Listener {
	t.Helper()
	vs := &config.VirtualServer{
		Names:       []string{"example.com"},
		MaxBodySize: 1 << 20,
		Locations: []*config.Location{
			{Prefix: "/", Root: root, Index: "index.html", Methods: map[string]bool{"GET": true, "HEAD": true}},
			{Prefix: "/up", Root: root, UploadStore: filepath.Join(root, "up"), Methods: map[string]bool{"POST": true}},
			{Prefix: "/redir", ReturnCode: 301, ReturnURL: "http://example.com/", Methods: map[string]bool{"GET": true}},
			{Prefix: "/cgi-bin", Root: root, CGIInterpreter: "/usr/bin/php-cgi", CGIExtension: ".php", Methods: map[string]bool{"GET": true, "POST": true}},
		},
	}
	return &config.Listener{Addr: ":80", Servers: []*config.VirtualServer{vs}}
}

func TestRouteStaticGet(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644)
	d := Route(testListener(t, root), Input{Host: "example.com", Method: "GET", DecodedPath: "/"})
	if d.Kind != KindStatic || d.Err != nil {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRouteMethodNotAllowed(t *testing.T) {
	root := t.TempDir()
	d := Route(testListener(t, root), Input{Host: "example.com", Method: "POST", DecodedPath: "/"})
	if d.Err == nil || d.Err.Code != 405 {
		t.Fatalf("expected 405, got %+v", d)
	}
	if d.AllowHeader == "" {
		t.Fatal("expected Allow header to be set")
	}
}

func TestRouteRedirect(t *testing.T) {
	root := t.TempDir()
	d := Route(testListener(t, root), Input{Host: "example.com", Method: "GET", DecodedPath: "/redir"})
	if d.Kind != KindRedirect || d.RedirectCode != 301 {
		t.Fatalf("expected redirect, got %+v", d)
	}
}

func TestRouteCGIByExtension(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "cgi-bin"), 0o755)
	os.WriteFile(filepath.Join(root, "cgi-bin", "hello.php"), []byte("<?php"), 0o644)
	d := Route(testListener(t, root), Input{Host: "example.com", Method: "GET", DecodedPath: "/cgi-bin/hello.php"})
	if d.Kind != KindCGI {
		t.Fatalf("expected CGI dispatch, got %+v", d)
	}
}

func TestRouteUpload(t *testing.T) {
	root := t.TempDir()
	d := Route(testListener(t, root), Input{
		Host: "example.com", Method: "POST", DecodedPath: "/up",
		ContentType: "multipart/form-data; boundary=B",
	})
	if d.Kind != KindUpload {
		t.Fatalf("expected upload dispatch, got %+v", d)
	}
}

func TestRouteBodyTooLarge(t *testing.T) {
	root := t.TempDir()
	d := Route(testListener(t, root), Input{
		Host: "example.com", Method: "POST", DecodedPath: "/up", BodySize: 2 << 20,
		ContentType: "multipart/form-data; boundary=B",
	})
	if d.Err == nil || d.Err.Code != 413 {
		t.Fatalf("expected 413, got %+v", d)
	}
}

func TestRouteRequireSessionMintsOnFirstContact(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644)
	l := testListener(t, root)
	l.Servers[0].Locations[0].RequireSession = true
	d := Route(l, Input{Host: "example.com", Method: "GET", DecodedPath: "/", SessionPresent: false})
	if d.Err != nil || !d.MintSession {
		t.Fatalf("expected mint-on-first-contact, got %+v", d)
	}
}

func TestRouteRequireSessionRejectsInvalidCookie(t *testing.T) {
	root := t.TempDir()
	l := testListener(t, root)
	l.Servers[0].Locations[0].RequireSession = true
	d := Route(l, Input{Host: "example.com", Method: "GET", DecodedPath: "/", SessionPresent: true, SessionValid: false})
	if d.Err == nil || d.Err.Code != 401 {
		t.Fatalf("expected 401, got %+v", d)
	}
}

func TestRouteNoMatchingServerFalls_back_to_default(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644)
	d := Route(testListener(t, root), Input{Host: "unknown.example", Method: "GET", DecodedPath: "/"})
	if d.Kind != KindStatic {
		t.Fatalf("expected fallback to default server, got %+v", d)
	}
}
