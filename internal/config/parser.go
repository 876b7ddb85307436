package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse reads an nginx-style configuration document and returns the
// validated Config graph, or the first error encountered (per spec §6,
// "a malformed configuration file ... causes the process to print a
// diagnostic ... and exit non-zero without binding any sockets").
func Parse(src []byte) (*Config, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	var servers []*VirtualServer
	for !p.atEnd() {
		word, ok := p.peekWord()
		if !ok || word != "server" {
			return nil, p.errorf("expected top-level \"server\" block")
		}
		p.next()
		vs, err := p.parseServerBlock()
		if err != nil {
			return nil, err
		}
		servers = append(servers, vs)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("config: no server blocks defined")
	}
	return group(servers)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *parser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) peekWord() (string, bool) {
	if p.atEnd() || p.toks[p.pos].kind != tokWord {
		return "", false
	}
	return p.toks[p.pos].text, true
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if p.atEnd() || p.toks[p.pos].kind != kind {
		return token{}, p.errorf("expected %s", what)
	}
	return p.next(), nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	line := 0
	if p.pos < len(p.toks) {
		line = p.toks[p.pos].line
	} else if len(p.toks) > 0 {
		line = p.toks[len(p.toks)-1].line
	}
	return fmt.Errorf("config: line %d: %s", line, fmt.Sprintf(format, args...))
}

// directiveArgs consumes words up to (excluding) the terminating ";".
func (p *parser) directiveArgs() ([]string, error) {
	var args []string
	for {
		if p.atEnd() {
			return nil, p.errorf("unterminated directive, expected \";\"")
		}
		t := p.toks[p.pos]
		if t.kind == tokSemicolon {
			p.next()
			return args, nil
		}
		if t.kind != tokWord {
			return nil, p.errorf("unexpected token %q in directive", t.text)
		}
		args = append(args, t.text)
		p.next()
	}
}

func (p *parser) parseServerBlock() (*VirtualServer, error) {
	if _, err := p.expect(tokOpenBrace, "\"{\" after \"server\""); err != nil {
		return nil, err
	}
	vs := &VirtualServer{
		MaxBodySize:    DefaultMaxBodySize,
		RequestTimeout: DefaultRequestTimeout,
		ErrorPages:     map[int]string{},
	}
	var listenAddrs []string
	for {
		if p.atEnd() {
			return nil, p.errorf("unterminated server block, expected \"}\"")
		}
		if p.toks[p.pos].kind == tokCloseBrace {
			p.next()
			break
		}
		word, ok := p.peekWord()
		if !ok {
			return nil, p.errorf("expected directive name")
		}
		p.next()
		switch word {
		case "listen":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf("\"listen\" takes exactly one argument")
			}
			listenAddrs = append(listenAddrs, normalizeAddr(args[0]))
		case "server_name":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			vs.Names = append(vs.Names, args...)
		case "client_max_body_size":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf("\"client_max_body_size\" takes exactly one argument")
			}
			n, err := parseSize(args[0])
			if err != nil {
				return nil, p.errorf("%v", err)
			}
			vs.MaxBodySize = n
		case "request_timeout_secs":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf("\"request_timeout_secs\" takes exactly one argument")
			}
			secs, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, p.errorf("invalid request_timeout_secs: %v", err)
			}
			vs.RequestTimeout = time.Duration(secs) * time.Second
		case "error_page":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 2 {
				return nil, p.errorf("\"error_page\" takes a status code and a path")
			}
			code, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, p.errorf("invalid error_page status code: %v", err)
			}
			vs.ErrorPages[code] = args[1]
		case "location":
			loc, err := p.parseLocationBlock()
			if err != nil {
				return nil, err
			}
			vs.Locations = append(vs.Locations, loc)
		default:
			return nil, p.errorf("unknown server directive %q", word)
		}
	}
	if len(listenAddrs) == 0 {
		return nil, fmt.Errorf("config: server block has no \"listen\" directive")
	}
	vs.listenAddrs = listenAddrs
	return vs, nil
}

func (p *parser) parseLocationBlock() (*Location, error) {
	word, ok := p.peekWord()
	if !ok {
		return nil, p.errorf("expected location prefix")
	}
	p.next()
	loc := &Location{Prefix: word, Methods: map[string]bool{"GET": true}}
	if _, err := p.expect(tokOpenBrace, "\"{\" after location prefix"); err != nil {
		return nil, err
	}
	for {
		if p.atEnd() {
			return nil, p.errorf("unterminated location block, expected \"}\"")
		}
		if p.toks[p.pos].kind == tokCloseBrace {
			p.next()
			break
		}
		dword, ok := p.peekWord()
		if !ok {
			return nil, p.errorf("expected directive name")
		}
		p.next()
		switch dword {
		case "allow_methods":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			loc.Methods = map[string]bool{}
			for _, m := range args {
				loc.Methods[strings.ToUpper(m)] = true
			}
		case "root":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf("\"root\" takes exactly one argument")
			}
			loc.Root = args[0]
		case "index":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf("\"index\" takes exactly one argument")
			}
			loc.Index = args[0]
		case "autoindex":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf("\"autoindex\" takes exactly one argument")
			}
			loc.Autoindex = args[0] == "on"
		case "return":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 2 {
				return nil, p.errorf("\"return\" takes a status code and a URL")
			}
			code, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, p.errorf("invalid return status code: %v", err)
			}
			loc.ReturnCode = code
			loc.ReturnURL = args[1]
		case "cgi_pass":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) == 0 || len(args) > 2 {
				return nil, p.errorf("\"cgi_pass\" takes an interpreter path and an optional extension")
			}
			loc.CGIInterpreter = args[0]
			if len(args) == 2 {
				loc.CGIExtension = args[1]
			}
		case "upload_store":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf("\"upload_store\" takes exactly one argument")
			}
			loc.UploadStore = args[0]
		case "require_session":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf("\"require_session\" takes exactly one argument")
			}
			loc.RequireSession = args[0] == "on"
		case "client_max_body_size":
			args, err := p.directiveArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 1 {
				return nil, p.errorf("\"client_max_body_size\" takes exactly one argument")
			}
			n, err := parseSize(args[0])
			if err != nil {
				return nil, p.errorf("%v", err)
			}
			loc.MaxBodySize = n
		default:
			return nil, p.errorf("unknown location directive %q", dword)
		}
	}
	return loc, nil
}

// parseSize parses a byte count with an optional K/M/G suffix (case
// insensitive), the same unit convention nginx's client_max_body_size uses.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	unit := s[len(s)-1]
	numPart := s
	switch unit {
	case 'k', 'K':
		mult = 1 << 10
		numPart = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		numPart = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		numPart = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// normalizeAddr turns a bare port ("8080") into ":8080", leaving
// "host:port" forms untouched.
func normalizeAddr(s string) string {
	if !strings.Contains(s, ":") {
		return ":" + s
	}
	return s
}
