package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/store"
)

// Directory implements store.OrganizationDirectory using PostgreSQL.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory creates a new PostgreSQL-backed organization directory.
// It shares the connection pool with the other stores.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{
		pool: pool,
	}
}

// FindBySubdomain resolves a subdomain to its organization.
func (d *Directory) FindBySubdomain(ctx context.Context, subdomain string) (*models.Organization, error) {
	query := `
		SELECT org_id, name, subdomain, settings, created_at, updated_at
		FROM organizations
		WHERE subdomain = lower($1)
	`

	org, err := scanOrganization(d.pool.QueryRow(ctx, query, subdomain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to find organization by subdomain: %w", mapPostgresError(err))
	}

	return org, nil
}

// ListForUser returns every organization the user is a member of, newest first.
func (d *Directory) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	query := `
		SELECT o.org_id, o.name, o.subdomain, o.settings, o.created_at, o.updated_at
		FROM organizations o
		JOIN memberships m ON m.org_id = o.org_id
		WHERE m.user_id = $1
		ORDER BY o.created_at DESC
	`

	rows, err := d.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}

	return orgs, nil
}

// CreateWithOwner creates the organization and the owner membership in one
// transaction. A unique violation on the subdomain maps to ErrSubdomainTaken,
// which is how a lost create race surfaces.
func (d *Directory) CreateWithOwner(ctx context.Context, org *models.Organization, ownerID uuid.UUID) error {
	settings, err := marshalSettings(org.Settings)
	if err != nil {
		return err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO organizations (org_id, name, subdomain, settings, created_at, updated_at)
		VALUES ($1, $2, lower($3), $4, $5, $6)
	`, org.OrgID, org.Name, org.Subdomain, settings, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return mapPostgresError(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO memberships (org_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, org.OrgID, ownerID, models.RoleOwner, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create owner membership: %w", mapPostgresError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit organization create: %w", err)
	}

	log.Debug().
		Str("org_id", org.OrgID.String()).
		Str("subdomain", org.Subdomain).
		Msg("Created organization with owner membership")

	return nil
}

// IsSubdomainAvailable reports whether a subdomain is unclaimed.
func (d *Directory) IsSubdomainAvailable(ctx context.Context, subdomain string) (bool, error) {
	var taken bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM organizations WHERE subdomain = lower($1))
	`, subdomain).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check subdomain availability: %w", mapPostgresError(err))
	}
	return !taken, nil
}

// Update applies a patch to an existing organization and returns the stored
// row.
func (d *Directory) Update(ctx context.Context, orgID uuid.UUID, patch *models.OrganizationPatch) (*models.Organization, error) {
	org, err := d.get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	patch.Apply(org)
	org.UpdatedAt = time.Now()

	settings, err := marshalSettings(org.Settings)
	if err != nil {
		return nil, err
	}

	result, err := d.pool.Exec(ctx, `
		UPDATE organizations SET name = $2, settings = $3, updated_at = $4
		WHERE org_id = $1
	`, org.OrgID, org.Name, settings, org.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update organization: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return nil, store.ErrOrganizationNotFound
	}

	log.Debug().Str("org_id", org.OrgID.String()).Msg("Updated organization")

	return org, nil
}

// GetMembership returns the user's membership in an organization.
func (d *Directory) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	err := d.pool.QueryRow(ctx, `
		SELECT org_id, user_id, role, created_at
		FROM memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&m.OrgID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", mapPostgresError(err))
	}
	return &m, nil
}

func (d *Directory) get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	org, err := scanOrganization(d.pool.QueryRow(ctx, `
		SELECT org_id, name, subdomain, settings, created_at, updated_at
		FROM organizations
		WHERE org_id = $1
	`, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}
	return org, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (*models.Organization, error) {
	var org models.Organization
	var settings []byte
	if err := row.Scan(&org.OrgID, &org.Name, &org.Subdomain, &settings, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &org.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode organization settings: %w", err)
		}
	}
	return &org, nil
}

func marshalSettings(settings map[string]string) ([]byte, error) {
	if settings == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode organization settings: %w", err)
	}
	return data, nil
}
