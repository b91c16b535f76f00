package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Subdomain validation errors. These are returned before any network or
// database call is made.
var (
	ErrSubdomainTooShort = errors.New("subdomain must be at least 3 characters")
	ErrSubdomainInvalid  = errors.New("subdomain may only contain lowercase letters, digits and hyphens")
)

// Organization represents one tenant workspace. The subdomain is globally
// unique and is the sole routing key from a hostname to an organization.
type Organization struct {
	OrgID     uuid.UUID // UUIDv7
	Name      string
	Subdomain string // unique, lowercase alnum + hyphen, length >= 3
	CreatedAt time.Time
	UpdatedAt time.Time
	Settings  map[string]string
}

// OrganizationPatch carries a partial update for an organization. Nil fields
// are left unchanged.
type OrganizationPatch struct {
	Name     *string
	Settings map[string]string
}

// Apply merges the patch into the organization in place.
func (p *OrganizationPatch) Apply(org *Organization) {
	if p.Name != nil {
		org.Name = *p.Name
	}
	if p.Settings != nil {
		if org.Settings == nil {
			org.Settings = make(map[string]string, len(p.Settings))
		}
		for k, v := range p.Settings {
			org.Settings[k] = v
		}
	}
}

// ValidateSubdomain checks a candidate subdomain against the format rules:
// lowercase letters, digits and hyphens only, minimum length 3. Callers must
// reject invalid candidates before consulting the directory.
func ValidateSubdomain(candidate string) error {
	if len(candidate) < 3 {
		return ErrSubdomainTooShort
	}
	for _, r := range candidate {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return ErrSubdomainInvalid
		}
	}
	return nil
}
