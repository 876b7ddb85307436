package conn

import (
	"testing"
	"time"

	"github.com/nolenjoy/forgeserve/internal/config"
)

func newTestConn() *Connection {
	return New(1, -1, "127.0.0.1:9999", &config.Listener{Addr: ":80"}, time.Unix(0, 0))
}

func TestFeedSimpleGETReachesDispatching(t *testing.T) {
	c := newTestConn()
	if err := c.Feed([]byte("GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State != Dispatching {
		t.Fatalf("state = %v, want Dispatching", c.State)
	}
	if c.Request().Path != "/a" {
		t.Errorf("Path = %q", c.Request().Path)
	}
	if c.Host() != "example.com" {
		t.Errorf("Host() = %q", c.Host())
	}
	if !c.KeepAliveWanted() {
		t.Error("expected HTTP/1.1 default keep-alive")
	}
}

func TestFeedMissingHostRejected(t *testing.T) {
	c := newTestConn()
	err := c.Feed([]byte("GET / HTTP/1.1\r\n\r\n"))
	if err == nil || err.Code != 400 {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestFeedConnectionCloseHonoured(t *testing.T) {
	c := newTestConn()
	if err := c.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.KeepAliveWanted() {
		t.Error("expected close to be honoured")
	}
}

func TestFeedPostBodyAccumulates(t *testing.T) {
	c := newTestConn()
	raw := "POST /up HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"
	if err := c.Feed([]byte(raw)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State != Dispatching {
		t.Fatalf("state = %v, want Dispatching", c.State)
	}
	if string(c.Request().Body) != "hello" {
		t.Errorf("Body = %q", c.Request().Body)
	}
}

func TestFinishedResponseKeepAliveResets(t *testing.T) {
	c := newTestConn()
	c.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	keep := c.FinishedResponse()
	if !keep {
		t.Fatal("expected keep-alive")
	}
	if c.State != KeepAlive {
		t.Fatalf("state = %v, want KeepAlive", c.State)
	}
	if c.Request().Method != "" {
		t.Error("expected request state cleared")
	}
}

func TestFinishedResponseCloseAfterDraining(t *testing.T) {
	c := newTestConn()
	c.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	if keep := c.FinishedResponse(); keep {
		t.Fatal("expected connection to close")
	}
	if c.State != Draining {
		t.Fatalf("state = %v, want Draining", c.State)
	}
}
