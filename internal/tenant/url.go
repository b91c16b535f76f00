package tenant

import (
	"net/url"
	"strings"
)

// BuildSubdomainURL builds the destination URL for a tenant subdomain plus
// path, relative to the host the request arrived on.
//
// Loopback and preview hosts have no real DNS subdomains, so the tenant is
// encoded as the dev override query parameter instead. On the production
// root (or a reserved host such as www) the subdomain is prepended to the
// root domain. On some other tenant subdomain only the leftmost label is
// replaced, preserving nested preview-domain structures.
func (p *Policy) BuildSubdomainURL(subdomain, path, currentHost, scheme string) string {
	if path == "" {
		path = "/"
	}
	if scheme == "" {
		scheme = "https"
	}

	host := strings.ToLower(stripPort(currentHost))

	if isLoopback(host) || strings.HasSuffix(host, ".localhost") || p.isPreviewHost(host) {
		return appendQueryParam(path, p.DevOverrideParam, subdomain)
	}

	root := strings.ToLower(p.RootDomain)
	if host == root || host == "www."+root {
		return scheme + "://" + subdomain + "." + root + path
	}

	if strings.HasSuffix(host, "."+root) {
		// Swap the leftmost label, keep the rest of the host intact.
		if _, rest, ok := strings.Cut(host, "."); ok {
			return scheme + "://" + subdomain + "." + rest + path
		}
	}

	// Unrecognized host shape: fall back to the canonical tenant URL.
	return scheme + "://" + subdomain + "." + root + path
}

// MainDomainURL builds an absolute URL on the bare root domain.
func (p *Policy) MainDomainURL(path, scheme string) string {
	if path == "" {
		path = "/"
	}
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(p.RootDomain) + path
}

// appendQueryParam adds key=value to a path that may already carry a query
// string, replacing any existing value for the key.
func appendQueryParam(path, key, value string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path + "?" + key + "=" + url.QueryEscape(value)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
