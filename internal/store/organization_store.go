package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/nestcrm/nestcrm/internal/models"
)

// Sentinel errors for directory operations
var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrSubdomainTaken       = errors.New("subdomain is already taken")
	ErrUserNotFound         = errors.New("user not found")
)

// OrganizationDirectory resolves tenant identifiers to organizations and
// users to their memberships. It is the single authority for subdomain
// uniqueness.
type OrganizationDirectory interface {
	// FindBySubdomain resolves a tenant subdomain to its organization.
	// Returns ErrOrganizationNotFound if no organization owns the subdomain.
	FindBySubdomain(ctx context.Context, subdomain string) (*models.Organization, error)

	// ListForUser returns every organization the user is a member of,
	// newest first.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error)

	// CreateWithOwner creates an organization and its owner membership as one
	// atomic operation. If the membership cannot be written the organization
	// must not exist afterwards. Returns ErrSubdomainTaken when the subdomain
	// was claimed by a concurrent create.
	CreateWithOwner(ctx context.Context, org *models.Organization, ownerID uuid.UUID) error

	// IsSubdomainAvailable reports whether a subdomain is unclaimed. This is
	// advisory only; CreateWithOwner re-checks under its own guarantees.
	IsSubdomainAvailable(ctx context.Context, subdomain string) (bool, error)

	// Update persists an organization patch.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Update(ctx context.Context, orgID uuid.UUID, patch *models.OrganizationPatch) (*models.Organization, error)

	// GetMembership returns the caller's membership in an organization, or
	// ErrOrganizationNotFound if there is none.
	GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error)
}

// UserStore persists users keyed by email for login.
type UserStore interface {
	// FindByEmail looks a user up by email address.
	// Returns ErrUserNotFound if no user has the address.
	FindByEmail(ctx context.Context, email string) (*models.User, error)

	// Upsert creates the user or refreshes name/updated_at for an existing
	// email. Returns the stored record.
	Upsert(ctx context.Context, user *models.User) (*models.User, error)
}
