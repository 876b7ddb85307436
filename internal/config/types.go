// Package config loads the nginx-style configuration file (spec §6) into
// an immutable ServerConfig graph. Configuration loading/validation is
// named in spec §1 as an external collaborator to the connection engine;
// this package is that collaborator's concrete implementation.
//
// No library in the example corpus parses this grammar (the available
// config-format libraries — BurntSushi/toml, gopkg.in/yaml.v3,
// pelletier/go-toml, named in DESIGN.md — all parse a different syntax),
// so the tokenizer/parser below is original, hand-rolled text scanning,
// the idiomatic approach for a bespoke DSL (the same approach nginx's own
// config reader, and every from-scratch nginx-alike, takes).
package config

import "time"

const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultIdleTimeout    = 30 * time.Second
	DefaultMaxBodySize    = 1 << 20 // 1 MiB
	HeaderSizeLimit       = 8 << 10 // 8 KiB, fixed by spec §4.B, not configurable
)

// Config is the root of the validated configuration graph: one Listener
// per distinct host:port, each carrying every VirtualServer bound to it.
type Config struct {
	Listeners []*Listener
}

// Listener is a bound endpoint shared by one or more virtual servers, per
// the data model in spec §3 ("Duplicate bindings of the same HOST:PORT
// across different servers are permitted").
type Listener struct {
	Addr    string // host:port, host may be empty meaning all interfaces
	Servers []*VirtualServer
}

// VirtualServer is one `server { }` block.
type VirtualServer struct {
	Names          []string // server_name values; empty means "default"
	MaxBodySize    int64
	RequestTimeout time.Duration
	ErrorPages     map[int]string
	Locations      []*Location

	listenAddrs []string // raw "listen" directive values, consumed by group()
}

// Location is one `location PREFIX { }` block.
type Location struct {
	Prefix         string
	Methods        map[string]bool
	Root           string
	Index          string
	Autoindex      bool
	ReturnCode     int
	ReturnURL      string
	CGIInterpreter string
	CGIExtension   string // e.g. ".php"; empty means cgi_pass applies to every file served here
	UploadStore    string
	RequireSession bool
	MaxBodySize    int64 // 0 means "inherit VirtualServer.MaxBodySize"
}

// EffectiveMaxBodySize applies the Location override rule from spec §4.E
// step 4 ("Body-size re-check against Location override if any").
func (l *Location) EffectiveMaxBodySize(serverMax int64) int64 {
	if l.MaxBodySize > 0 {
		return l.MaxBodySize
	}
	return serverMax
}

// AllowsMethod reports whether method is in the Location's whitelist.
func (l *Location) AllowsMethod(method string) bool {
	return l.Methods[method]
}

// AllowHeader renders the Allow header value for a 405 response, methods
// listed in the fixed order GET, HEAD, POST, DELETE for determinism.
func (l *Location) AllowHeader() string {
	order := []string{"GET", "HEAD", "POST", "DELETE"}
	out := ""
	for _, m := range order {
		if l.Methods[m] {
			if out != "" {
				out += ", "
			}
			out += m
		}
	}
	return out
}
