//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*Directory, *UserStore, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &PoolConfig{ConnString: connString, AutoMigrate: true})
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return NewDirectory(pool), NewUserStore(pool), cleanup
}

func createUser(t *testing.T, ctx context.Context, users *UserStore, email string) *models.User {
	t.Helper()
	now := time.Now()
	user, err := users.Upsert(ctx, &models.User{
		UserID:    uuid.Must(uuid.NewV7()),
		Email:     email,
		Name:      "Test User",
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	return user
}

func TestDirectoryIntegration(t *testing.T) {
	ctx := context.Background()
	dir, users, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	owner := createUser(t, ctx, users, "owner@example.com")

	t.Run("create resolve and list", func(t *testing.T) {
		now := time.Now()
		org := &models.Organization{
			OrgID:     uuid.Must(uuid.NewV7()),
			Name:      "Acme",
			Subdomain: "acme",
			CreatedAt: now,
			UpdatedAt: now,
			Settings:  map[string]string{"plan": "trial"},
		}
		require.NoError(t, dir.CreateWithOwner(ctx, org, owner.UserID))

		found, err := dir.FindBySubdomain(ctx, "ACME")
		require.NoError(t, err)
		require.Equal(t, org.OrgID, found.OrgID)
		require.Equal(t, "trial", found.Settings["plan"])

		orgs, err := dir.ListForUser(ctx, owner.UserID)
		require.NoError(t, err)
		require.Len(t, orgs, 1)

		m, err := dir.GetMembership(ctx, org.OrgID, owner.UserID)
		require.NoError(t, err)
		require.Equal(t, models.RoleOwner, m.Role)
	})

	t.Run("availability flips after create", func(t *testing.T) {
		ok, err := dir.IsSubdomainAvailable(ctx, "acme")
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = dir.IsSubdomainAvailable(ctx, "unclaimed")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("concurrent creates yield one winner", func(t *testing.T) {
		const racers = 4
		errs := make([]error, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				now := time.Now()
				errs[i] = dir.CreateWithOwner(ctx, &models.Organization{
					OrgID:     uuid.Must(uuid.NewV7()),
					Name:      "Racer",
					Subdomain: "contested",
					CreatedAt: now,
					UpdatedAt: now,
				}, owner.UserID)
			}(i)
		}
		wg.Wait()

		var wins int
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				require.ErrorIs(t, err, store.ErrSubdomainTaken)
			}
		}
		require.Equal(t, 1, wins)
	})

	t.Run("update patches name and settings", func(t *testing.T) {
		found, err := dir.FindBySubdomain(ctx, "acme")
		require.NoError(t, err)

		name := "Acme Pty Ltd"
		updated, err := dir.Update(ctx, found.OrgID, &models.OrganizationPatch{
			Name:     &name,
			Settings: map[string]string{"plan": "paid"},
		})
		require.NoError(t, err)
		require.Equal(t, "Acme Pty Ltd", updated.Name)
		require.Equal(t, "paid", updated.Settings["plan"])
	})
}
