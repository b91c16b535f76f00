package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an authenticated person. Users belong to organizations through
// memberships.
type User struct {
	UserID    uuid.UUID // UUIDv7
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
