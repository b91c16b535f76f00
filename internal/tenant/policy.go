// Package tenant maps hostnames to tenant identifiers and builds URLs that
// cross tenant subdomains. All functions here are pure; they run on every
// request and must never fail.
package tenant

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy describes how hostnames are interpreted for one deployment.
// A single instance is built at startup and shared read-only.
type Policy struct {
	// RootDomain is the bare marketing domain, e.g. "nestcrm.com.au".
	RootDomain string `yaml:"root_domain"`

	// Reserved lists hostname labels that are never real tenants ("www", the
	// brand's own short name). Compared case-insensitively.
	Reserved []string `yaml:"reserved"`

	// PreviewMarkers lists substrings identifying third-party preview hosting
	// (e.g. "lovableproject.com"). Hosts matching a marker are always treated
	// as the main site so sub-segments never look like tenants.
	PreviewMarkers []string `yaml:"preview_markers"`

	// DevOverrideParam names the query parameter that forces a tenant
	// identifier during local development. Default "tenant".
	DevOverrideParam string `yaml:"dev_override_param"`
}

// DefaultPolicy returns the production policy for nestcrm.com.au.
func DefaultPolicy() *Policy {
	return &Policy{
		RootDomain:       "nestcrm.com.au",
		Reserved:         []string{"www", "nestcrm"},
		PreviewMarkers:   []string{"lovableproject.com", "lovable.app"},
		DevOverrideParam: "tenant",
	}
}

// LoadPolicy reads a policy from a YAML file, filling unset fields from the
// defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant policy: %w", err)
	}

	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse tenant policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the policy is usable.
func (p *Policy) Validate() error {
	if p.RootDomain == "" {
		return fmt.Errorf("tenant policy: root_domain is required")
	}
	if p.DevOverrideParam == "" {
		p.DevOverrideParam = "tenant"
	}
	return nil
}

// isReserved reports whether a label must never be treated as a tenant.
func (p *Policy) isReserved(label string) bool {
	for _, r := range p.Reserved {
		if strings.EqualFold(label, r) {
			return true
		}
	}
	return false
}

// isPreviewHost reports whether the host belongs to a recognized preview
// hosting platform.
func (p *Policy) isPreviewHost(host string) bool {
	for _, m := range p.PreviewMarkers {
		if strings.Contains(host, m) {
			return true
		}
	}
	return false
}
