package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/store"
)

// SessionStore implements store.SessionStore using in-memory storage.
// This implementation is for testing and development - data is lost on restart.
type SessionStore struct {
	mu sync.RWMutex

	sessions map[uuid.UUID]*models.Session // session_id -> Session
	byUser   map[uuid.UUID][]uuid.UUID     // user_id -> []session_id
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*models.Session),
		byUser:   make(map[uuid.UUID][]uuid.UUID),
	}
}

// Create stores a new session in memory.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *session
	s.sessions[session.SessionID] = &clone
	s.byUser[session.UserID] = append(s.byUser[session.UserID], session.SessionID)

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	clone := *session
	return &clone, nil
}

// UpdateLastUsed updates the last_used_at timestamp for a session.
func (s *SessionStore) UpdateLastUsed(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	session.LastUsedAt = time.Now()
	return nil
}

// Delete removes a session by ID (sign-out).
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	s.removeFromUserIndex(session.UserID, sessionID)
	delete(s.sessions, sessionID)

	return nil
}

// DeleteByUser removes every session for a user (sign-out everywhere).
func (s *SessionStore) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionIDs, exists := s.byUser[userID]
	if !exists {
		return 0, nil
	}

	count := len(sessionIDs)
	for _, sessionID := range sessionIDs {
		delete(s.sessions, sessionID)
	}
	delete(s.byUser, userID)

	return count, nil
}

// DeleteExpired removes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []uuid.UUID
	now := time.Now()

	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			toDelete = append(toDelete, id)
		}
	}

	for _, sessionID := range toDelete {
		session := s.sessions[sessionID]
		s.removeFromUserIndex(session.UserID, sessionID)
		delete(s.sessions, sessionID)
	}

	return len(toDelete), nil
}

// removeFromUserIndex removes a session ID from the user's session list.
func (s *SessionStore) removeFromUserIndex(userID, sessionID uuid.UUID) {
	sessionIDs := s.byUser[userID]
	for i, id := range sessionIDs {
		if id == sessionID {
			s.byUser[userID] = append(sessionIDs[:i], sessionIDs[i+1:]...)
			break
		}
	}
	if len(s.byUser[userID]) == 0 {
		delete(s.byUser, userID)
	}
}
