package config

import "fmt"

// group folds the parsed server blocks into Listeners keyed by address,
// then validates the resulting graph, per spec §6's requirement that a
// malformed configuration is rejected before any socket is bound.
func group(servers []*VirtualServer) (*Config, error) {
	byAddr := map[string]*Listener{}
	var order []string
	for _, vs := range servers {
		for _, addr := range vs.listenAddrs {
			l, ok := byAddr[addr]
			if !ok {
				l = &Listener{Addr: addr}
				byAddr[addr] = l
				order = append(order, addr)
			}
			l.Servers = append(l.Servers, vs)
		}
	}
	cfg := &Config{}
	for _, addr := range order {
		cfg.Listeners = append(cfg.Listeners, byAddr[addr])
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	for _, l := range cfg.Listeners {
		seenNames := map[string]bool{}
		defaultSeen := false
		for _, vs := range l.Servers {
			if len(vs.Names) == 0 {
				if defaultSeen {
					return fmt.Errorf("config: listener %s has more than one default (unnamed) server", l.Addr)
				}
				defaultSeen = true
			}
			for _, name := range vs.Names {
				if seenNames[name] {
					return fmt.Errorf("config: listener %s has duplicate server_name %q", l.Addr, name)
				}
				seenNames[name] = true
			}
			if err := validateServer(vs); err != nil {
				return fmt.Errorf("config: listener %s: %w", l.Addr, err)
			}
		}
	}
	return nil
}

func validateServer(vs *VirtualServer) error {
	if len(vs.Locations) == 0 {
		return fmt.Errorf("server %v has no location blocks", vs.Names)
	}
	seenPrefix := map[string]bool{}
	for _, loc := range vs.Locations {
		if loc.Prefix == "" {
			return fmt.Errorf("location has empty prefix")
		}
		if seenPrefix[loc.Prefix] {
			return fmt.Errorf("duplicate location prefix %q", loc.Prefix)
		}
		seenPrefix[loc.Prefix] = true

		isRedirect := loc.ReturnCode != 0
		isCGI := loc.CGIInterpreter != ""
		if !isRedirect && loc.Root == "" {
			return fmt.Errorf("location %q has no root and is not a redirect", loc.Prefix)
		}
		if isRedirect && (loc.ReturnCode < 300 || loc.ReturnCode > 399) {
			return fmt.Errorf("location %q \"return\" status %d is not a redirect status", loc.Prefix, loc.ReturnCode)
		}
		if isCGI && loc.UploadStore != "" {
			return fmt.Errorf("location %q sets both cgi_pass and upload_store", loc.Prefix)
		}
		if loc.MaxBodySize < 0 {
			return fmt.Errorf("location %q has a negative client_max_body_size", loc.Prefix)
		}
	}
	if vs.MaxBodySize <= 0 {
		return fmt.Errorf("client_max_body_size must be positive")
	}
	return nil
}
