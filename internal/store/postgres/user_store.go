package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/store"
)

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new PostgreSQL-backed user store.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{
		pool: pool,
	}
}

// FindByEmail looks a user up by email address.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, email, name, created_at, updated_at
		FROM users
		WHERE email = lower($1)
	`, email).Scan(&user.UserID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", mapPostgresError(err))
	}
	return &user, nil
}

// Upsert creates the user or refreshes the name for an existing email.
func (s *UserStore) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	var stored models.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, email, name, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
		RETURNING user_id, email, name, created_at, updated_at
	`, user.UserID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt).
		Scan(&stored.UserID, &stored.Email, &stored.Name, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", mapPostgresError(err))
	}
	return &stored, nil
}
