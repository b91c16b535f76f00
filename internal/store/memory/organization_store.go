package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/store"
)

// Directory implements store.OrganizationDirectory using in-memory storage.
// This implementation is for testing and development - data is lost on restart.
type Directory struct {
	mu sync.RWMutex

	organizations map[uuid.UUID]*models.Organization    // org_id -> Organization
	bySubdomain   map[string]uuid.UUID                  // subdomain -> org_id
	memberships   map[uuid.UUID][]*models.Membership    // org_id -> memberships
	byUser        map[uuid.UUID][]uuid.UUID             // user_id -> []org_id
}

// NewDirectory creates a new in-memory organization directory.
func NewDirectory() *Directory {
	return &Directory{
		organizations: make(map[uuid.UUID]*models.Organization),
		bySubdomain:   make(map[string]uuid.UUID),
		memberships:   make(map[uuid.UUID][]*models.Membership),
		byUser:        make(map[uuid.UUID][]uuid.UUID),
	}
}

// FindBySubdomain resolves a subdomain to its organization.
func (d *Directory) FindBySubdomain(ctx context.Context, subdomain string) (*models.Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	orgID, ok := d.bySubdomain[strings.ToLower(subdomain)]
	if !ok {
		return nil, store.ErrOrganizationNotFound
	}

	// Clone to avoid external modifications
	clone := cloneOrg(d.organizations[orgID])
	return clone, nil
}

// ListForUser returns every organization the user belongs to, newest first.
func (d *Directory) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var orgs []*models.Organization
	for _, orgID := range d.byUser[userID] {
		if org, ok := d.organizations[orgID]; ok {
			orgs = append(orgs, cloneOrg(org))
		}
	}

	sort.Slice(orgs, func(i, j int) bool {
		return orgs[i].CreatedAt.After(orgs[j].CreatedAt)
	})

	return orgs, nil
}

// CreateWithOwner creates the organization and the owner membership under a
// single lock, so both exist or neither does.
func (d *Directory) CreateWithOwner(ctx context.Context, org *models.Organization, ownerID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	subdomain := strings.ToLower(org.Subdomain)
	if _, taken := d.bySubdomain[subdomain]; taken {
		return store.ErrSubdomainTaken
	}

	clone := cloneOrg(org)
	clone.Subdomain = subdomain
	d.organizations[org.OrgID] = clone
	d.bySubdomain[subdomain] = org.OrgID

	d.memberships[org.OrgID] = append(d.memberships[org.OrgID], &models.Membership{
		OrgID:     org.OrgID,
		UserID:    ownerID,
		Role:      models.RoleOwner,
		CreatedAt: time.Now(),
	})
	d.byUser[ownerID] = append(d.byUser[ownerID], org.OrgID)

	return nil
}

// IsSubdomainAvailable reports whether a subdomain is unclaimed.
func (d *Directory) IsSubdomainAvailable(ctx context.Context, subdomain string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, taken := d.bySubdomain[strings.ToLower(subdomain)]
	return !taken, nil
}

// Update applies a patch to an existing organization.
func (d *Directory) Update(ctx context.Context, orgID uuid.UUID, patch *models.OrganizationPatch) (*models.Organization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	org, ok := d.organizations[orgID]
	if !ok {
		return nil, store.ErrOrganizationNotFound
	}

	patch.Apply(org)
	org.UpdatedAt = time.Now()

	return cloneOrg(org), nil
}

// GetMembership returns the user's membership in an organization.
func (d *Directory) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, m := range d.memberships[orgID] {
		if m.UserID == userID {
			clone := *m
			return &clone, nil
		}
	}
	return nil, store.ErrOrganizationNotFound
}

func cloneOrg(org *models.Organization) *models.Organization {
	clone := *org
	if org.Settings != nil {
		clone.Settings = make(map[string]string, len(org.Settings))
		for k, v := range org.Settings {
			clone.Settings[k] = v
		}
	}
	return &clone
}
