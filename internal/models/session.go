package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a user's authenticated session. The session ID is the
// only value stored in the cookie; everything else lives server-side.
type Session struct {
	SessionID uuid.UUID // UUIDv7 - this is the only value stored in the cookie
	UserID    uuid.UUID

	// TenantInfo is denormalized from the organization the session was minted
	// under, so guard decisions don't need a directory round trip.
	TenantCompany   string
	TenantSubdomain string
	TenantDomain    string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
