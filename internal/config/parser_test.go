package config

import "testing"

func TestParseMinimalServer(t *testing.T) {
	src := []byte(`
server {
	listen 8080;
	server_name example.com;
	location / {
		root /var/www;
		index index.html;
	}
}
`)
	cfg, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Listeners) != 1 {
		t.Fatalf("expected 1 listener, got %d", len(cfg.Listeners))
	}
	l := cfg.Listeners[0]
	if l.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", l.Addr)
	}
	vs := l.SelectServer("example.com")
	if vs == nil || vs.Names[0] != "example.com" {
		t.Fatalf("SelectServer did not find example.com")
	}
	loc := vs.MatchLocation("/foo/bar")
	if loc == nil || loc.Root != "/var/www" {
		t.Fatalf("MatchLocation: got %+v", loc)
	}
}

func TestParseLongestPrefixWins(t *testing.T) {
	src := []byte(`
server {
	listen 80;
	location / { root /a; }
	location /api { root /b; allow_methods GET POST; }
	location /api/v2 { root /c; }
}
`)
	cfg, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	vs := cfg.Listeners[0].SelectServer("anything")
	if got := vs.MatchLocation("/api/v2/users"); got == nil || got.Root != "/c" {
		t.Fatalf("expected /api/v2 match, got %+v", got)
	}
	if got := vs.MatchLocation("/api/v1"); got == nil || got.Root != "/b" {
		t.Fatalf("expected /api match, got %+v", got)
	}
	if got := vs.MatchLocation("/other"); got == nil || got.Root != "/a" {
		t.Fatalf("expected / match, got %+v", got)
	}
}

func TestParseSizesAndMethods(t *testing.T) {
	src := []byte(`
server {
	listen 80;
	client_max_body_size 2M;
	location /up {
		root /var/www;
		upload_store /tmp/up;
		allow_methods POST;
		client_max_body_size 10M;
	}
}
`)
	cfg, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	vs := cfg.Listeners[0].Servers[0]
	if vs.MaxBodySize != 2<<20 {
		t.Errorf("MaxBodySize = %d, want 2MiB", vs.MaxBodySize)
	}
	loc := vs.Locations[0]
	if loc.EffectiveMaxBodySize(vs.MaxBodySize) != 10<<20 {
		t.Errorf("EffectiveMaxBodySize = %d, want 10MiB", loc.EffectiveMaxBodySize(vs.MaxBodySize))
	}
	if !loc.AllowsMethod("POST") || loc.AllowsMethod("GET") {
		t.Errorf("method whitelist wrong: %+v", loc.Methods)
	}
}

func TestParseRejectsMissingRoot(t *testing.T) {
	src := []byte(`
server {
	listen 80;
	location / { allow_methods GET; }
}
`)
	if _, err := Parse(src); err == nil {
		t.Fatal("expected error for location with neither root nor return")
	}
}

func TestParseRejectsDuplicateServerName(t *testing.T) {
	src := []byte(`
server {
	listen 80;
	server_name a.com;
	location / { root /a; }
}
server {
	listen 80;
	server_name a.com;
	location / { root /b; }
}
`)
	if _, err := Parse(src); err == nil {
		t.Fatal("expected error for duplicate server_name on same listener")
	}
}

func TestParseCGIPassWithExtension(t *testing.T) {
	src := []byte(`
server {
	listen 80;
	location /cgi-bin {
		root /var/www/cgi-bin;
		cgi_pass /usr/bin/php-cgi .php;
	}
}
`)
	cfg, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	loc := cfg.Listeners[0].Servers[0].Locations[0]
	if loc.CGIInterpreter != "/usr/bin/php-cgi" || loc.CGIExtension != ".php" {
		t.Errorf("cgi_pass parsed wrong: %+v", loc)
	}
}
