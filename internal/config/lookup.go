package config

import "strings"

// SelectServer picks the VirtualServer for a Host header value within a
// Listener, per spec §4.E step 1: an exact server_name match wins, falling
// back to the listener's default (unnamed) server, falling back to the
// first server bound to the listener when no default was declared.
func (l *Listener) SelectServer(host string) *VirtualServer {
	host = stripPort(host)
	var def *VirtualServer
	for _, vs := range l.Servers {
		if len(vs.Names) == 0 && def == nil {
			def = vs
		}
		for _, n := range vs.Names {
			if strings.EqualFold(n, host) {
				return vs
			}
		}
	}
	if def != nil {
		return def
	}
	if len(l.Servers) > 0 {
		return l.Servers[0]
	}
	return nil
}

func stripPort(hostport string) string {
	if i := strings.LastIndexByte(hostport, ':'); i != -1 {
		return hostport[:i]
	}
	return hostport
}

// MatchLocation performs the longest-prefix-match required by spec §4.E
// step 2. Prefixes are matched against full path segments or an exact
// string match, so "/api" matches "/api" and "/api/x" but not "/apiary".
func (vs *VirtualServer) MatchLocation(path string) *Location {
	var best *Location
	bestLen := -1
	for _, loc := range vs.Locations {
		if !pathHasPrefix(path, loc.Prefix) {
			continue
		}
		if len(loc.Prefix) > bestLen {
			best = loc
			bestLen = len(loc.Prefix)
		}
	}
	return best
}

func pathHasPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	if prefix == "/" {
		return true
	}
	return path[len(prefix)] == '/'
}
