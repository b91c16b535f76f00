package tenant

import (
	"net/url"
	"strings"
)

// ParseIdentifier extracts the tenant identifier from a request hostname.
// It returns "" when the host is the main site. The function is total: any
// input, however malformed, yields an identifier or "".
//
// Precedence:
//  1. dev override query parameter
//  2. loopback hosts, honouring a leading label ("acme.localhost")
//  3. preview hosting platforms are always the main site
//  4. bare root domain and www
//  5. "<label>.<root>" unless the label is reserved
//  6. anything unrecognized is the main site (fail safe, never mis-route)
func (p *Policy) ParseIdentifier(hostname string, query url.Values) string {
	if override := query.Get(p.DevOverrideParam); override != "" {
		return strings.ToLower(override)
	}

	host := strings.ToLower(stripPort(hostname))
	if host == "" {
		return ""
	}

	if isLoopback(host) || strings.HasSuffix(host, ".localhost") {
		return p.loopbackLabel(host)
	}

	if p.isPreviewHost(host) {
		return ""
	}

	root := strings.ToLower(p.RootDomain)
	if host == root || host == "www."+root {
		return ""
	}

	if suffix := "." + root; strings.HasSuffix(host, suffix) {
		label := strings.TrimSuffix(host, suffix)
		// Nested labels ("a.b.<root>") route by the leftmost label.
		if before, _, ok := strings.Cut(label, "."); ok {
			label = before
		}
		if label == "" || p.isReserved(label) {
			return ""
		}
		return label
	}

	return ""
}

// IsMainDomain reports whether an identifier addresses the main site rather
// than a tenant. Kept consistent with ParseIdentifier's notion of reserved.
func (p *Policy) IsMainDomain(identifier string) bool {
	return identifier == "" || p.isReserved(identifier)
}

// loopbackLabel handles "acme.localhost" style hosts used in development.
func (p *Policy) loopbackLabel(host string) string {
	label, rest, ok := strings.Cut(host, ".")
	if !ok || !(isLoopback(rest) || strings.HasSuffix(rest, ".localhost")) {
		return ""
	}
	if p.isReserved(label) {
		return ""
	}
	return label
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1"
}

// stripPort removes a trailing ":port" without touching IPv6-free hostnames.
func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.Contains(host[i+1:], "]") {
		// Only strip when what follows looks like a port.
		if isDigits(host[i+1:]) {
			return host[:i]
		}
	}
	return host
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
