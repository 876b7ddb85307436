package cgi

import (
	"testing"

	"github.com/nolenjoy/forgeserve/internal/hdr"
)

func TestBuildEnvIncludesRequiredVars(t *testing.T) {
	env := BuildEnv(EnvParams{
		Method:      "GET",
		ScriptName:  "/cgi-bin/hello.php",
		ScriptPath:  "/var/www/cgi-bin/hello.php",
		QueryString: "a=1",
		ServerName:  "example.com",
		ServerPort:  "8080",
		RemoteAddr:  "127.0.0.1",
		Headers:     hdr.Header{"User-Agent": []string{"test-agent"}},
	})
	want := map[string]bool{
		"GATEWAY_INTERFACE=CGI/1.1": false,
		"REQUEST_METHOD=GET":        false,
		"SCRIPT_NAME=/cgi-bin/hello.php": false,
		"HTTP_USER_AGENT=test-agent": false,
	}
	for _, e := range env {
		if _, ok := want[e]; ok {
			want[e] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("missing env entry %q in %v", k, env)
		}
	}
}

func TestParseHeadersDefaultStatus(t *testing.T) {
	buf := []byte("Content-Type: text/plain\r\n\r\nhello body")
	parsed, bodyStart, complete, err := ParseHeaders(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !complete {
		t.Fatal("expected complete header block")
	}
	if parsed.Status != 200 {
		t.Errorf("Status = %d, want 200", parsed.Status)
	}
	if string(buf[bodyStart:]) != "hello body" {
		t.Errorf("body = %q, want %q", buf[bodyStart:], "hello body")
	}
}

func TestParseHeadersStatusOverride(t *testing.T) {
	buf := []byte("Status: 404 Not Found\r\nContent-Type: text/plain\r\n\r\n")
	parsed, _, complete, err := ParseHeaders(buf)
	if err != nil || !complete {
		t.Fatalf("ParseHeaders error=%v complete=%v", err, complete)
	}
	if parsed.Status != 404 {
		t.Errorf("Status = %d, want 404", parsed.Status)
	}
	if parsed.Header.Get("Status") != "" {
		t.Errorf("Status header should be stripped")
	}
}

func TestParseHeadersLocationImplies302(t *testing.T) {
	buf := []byte("Location: /elsewhere\r\n\r\n")
	parsed, _, complete, err := ParseHeaders(buf)
	if err != nil || !complete {
		t.Fatalf("ParseHeaders error=%v complete=%v", err, complete)
	}
	if parsed.Status != 302 {
		t.Errorf("Status = %d, want 302", parsed.Status)
	}
}

func TestParseHeadersIncompleteReturnsFalse(t *testing.T) {
	buf := []byte("Content-Type: text/plain\r\nX-Partial")
	_, _, complete, err := ParseHeaders(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if complete {
		t.Fatal("expected incomplete header block")
	}
}
