package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/store"
)

func newOrg(t *testing.T, name, subdomain string) *models.Organization {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	now := time.Now()
	return &models.Organization{
		OrgID:     id,
		Name:      name,
		Subdomain: subdomain,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestDirectory_CreateWithOwner(t *testing.T) {
	t.Run("create and resolve by subdomain", func(t *testing.T) {
		d := NewDirectory()
		ctx := context.Background()
		owner := uuid.Must(uuid.NewV7())

		org := newOrg(t, "Acme", "acme")
		require.NoError(t, d.CreateWithOwner(ctx, org, owner))

		found, err := d.FindBySubdomain(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, org.OrgID, found.OrgID)

		// subdomain comparison is case-insensitive
		found, err = d.FindBySubdomain(ctx, "ACME")
		require.NoError(t, err)
		require.Equal(t, org.OrgID, found.OrgID)
	})

	t.Run("owner membership exists at creation", func(t *testing.T) {
		d := NewDirectory()
		ctx := context.Background()
		owner := uuid.Must(uuid.NewV7())

		org := newOrg(t, "Acme", "acme")
		require.NoError(t, d.CreateWithOwner(ctx, org, owner))

		m, err := d.GetMembership(ctx, org.OrgID, owner)
		require.NoError(t, err)
		require.Equal(t, models.RoleOwner, m.Role)
	})

	t.Run("duplicate subdomain returns taken", func(t *testing.T) {
		d := NewDirectory()
		ctx := context.Background()
		owner := uuid.Must(uuid.NewV7())

		require.NoError(t, d.CreateWithOwner(ctx, newOrg(t, "Acme", "acme"), owner))
		err := d.CreateWithOwner(ctx, newOrg(t, "Other", "acme"), owner)
		require.ErrorIs(t, err, store.ErrSubdomainTaken)
	})

	t.Run("concurrent creates with the same subdomain race to one winner", func(t *testing.T) {
		d := NewDirectory()
		ctx := context.Background()

		const racers = 8
		errs := make([]error, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = d.CreateWithOwner(ctx, newOrg(t, "Racer", "contested"), uuid.Must(uuid.NewV7()))
			}(i)
		}
		wg.Wait()

		var wins, losses int
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				require.ErrorIs(t, err, store.ErrSubdomainTaken)
				losses++
			}
		}
		require.Equal(t, 1, wins)
		require.Equal(t, racers-1, losses)

		// the winner has its owner membership; no orphaned organization exists
		org, err := d.FindBySubdomain(ctx, "contested")
		require.NoError(t, err)
		require.NotNil(t, org)
	})
}

func TestDirectory_FindBySubdomain(t *testing.T) {
	t.Run("unknown subdomain", func(t *testing.T) {
		d := NewDirectory()
		_, err := d.FindBySubdomain(context.Background(), "ghost")
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	})
}

func TestDirectory_ListForUser(t *testing.T) {
	d := NewDirectory()
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV7())

	first := newOrg(t, "First", "first")
	first.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, d.CreateWithOwner(ctx, first, owner))
	require.NoError(t, d.CreateWithOwner(ctx, newOrg(t, "Second", "second"), owner))

	orgs, err := d.ListForUser(ctx, owner)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	require.Equal(t, "second", orgs[0].Subdomain) // newest first

	orgs, err = d.ListForUser(ctx, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)
	require.Empty(t, orgs)
}

func TestDirectory_IsSubdomainAvailable(t *testing.T) {
	d := NewDirectory()
	ctx := context.Background()

	ok, err := d.IsSubdomainAvailable(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, d.CreateWithOwner(ctx, newOrg(t, "Acme", "acme"), uuid.Must(uuid.NewV7())))

	ok, err = d.IsSubdomainAvailable(ctx, "ACME")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDirectory_Update(t *testing.T) {
	t.Run("patch merges into stored org", func(t *testing.T) {
		d := NewDirectory()
		ctx := context.Background()

		org := newOrg(t, "Acme", "acme")
		require.NoError(t, d.CreateWithOwner(ctx, org, uuid.Must(uuid.NewV7())))

		name := "Acme Pty Ltd"
		updated, err := d.Update(ctx, org.OrgID, &models.OrganizationPatch{
			Name:     &name,
			Settings: map[string]string{"plan": "paid"},
		})
		require.NoError(t, err)
		require.Equal(t, "Acme Pty Ltd", updated.Name)
		require.Equal(t, "paid", updated.Settings["plan"])

		found, err := d.FindBySubdomain(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, "Acme Pty Ltd", found.Name)
	})

	t.Run("unknown org", func(t *testing.T) {
		d := NewDirectory()
		_, err := d.Update(context.Background(), uuid.Must(uuid.NewV7()), &models.OrganizationPatch{})
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	})
}
