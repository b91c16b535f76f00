package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/store"
)

// UserStore implements store.UserStore using in-memory storage.
type UserStore struct {
	mu sync.RWMutex

	byEmail map[string]*models.User // lowercase email -> User
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		byEmail: make(map[string]*models.User),
	}
}

// FindByEmail looks a user up by email address.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrUserNotFound
	}

	clone := *user
	return &clone, nil
}

// Upsert creates or refreshes a user record keyed by email.
func (s *UserStore) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if existing, ok := s.byEmail[email]; ok {
		existing.Name = user.Name
		existing.UpdatedAt = time.Now()
		clone := *existing
		return &clone, nil
	}

	clone := *user
	clone.Email = email
	s.byEmail[email] = &clone

	out := clone
	return &out, nil
}
