// Package session owns authentication state. The cookie carries an
// HMAC-signed session ID; everything else lives in the session store.
// Components that need to react to sign-in/sign-out register a listener
// rather than polling.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/store"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session expired")
)

// CookieName is the session cookie. The value is an HMAC-signed session ID.
const CookieName = "_session"

// TenantInfo is the tenant context a session was minted under.
type TenantInfo struct {
	Company   string
	Subdomain string
	Domain    string
}

// State is the authentication state visible to the resolver and the guard.
type State struct {
	Authenticated bool
	SessionID     uuid.UUID
	UserID        uuid.UUID
	Tenant        *TenantInfo
}

// Manager issues, validates and revokes sessions, and notifies listeners on
// every authentication transition. One instance exists per running server.
type Manager struct {
	sessions    store.SessionStore
	users       store.UserStore
	credentials *Credentials
	secret      []byte
	ttl         time.Duration

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(State)
}

// NewManager creates a session manager. The secret signs both the session
// cookie and the cross-domain credential fragments; it must be at least 32
// bytes.
func NewManager(sessions store.SessionStore, users store.UserStore, secret []byte, ttl time.Duration) (*Manager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session TTL must be greater than 0")
	}

	return &Manager{
		sessions:    sessions,
		users:       users,
		credentials: NewCredentials(secret, ttl),
		secret:      secret,
		ttl:         ttl,
		listeners:   make(map[int]func(State)),
	}, nil
}

// Credentials exposes the credential-fragment signer so login can mint the
// cross-domain cookies.
func (m *Manager) Credentials() *Credentials {
	return m.credentials
}

// Users exposes the user store for signup and profile flows.
func (m *Manager) Users() store.UserStore {
	return m.users
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue creates a session for a user and returns the signed cookie value.
func (m *Manager) Issue(ctx context.Context, user *models.User, tenant *TenantInfo, userAgent, clientIP string) (*models.Session, string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session id: %w", err)
	}

	now := time.Now()
	sess := &models.Session{
		SessionID:  id,
		UserID:     user.UserID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		LastUsedAt: now,
		UserAgent:  userAgent,
		IPAddress:  clientIP,
	}
	if tenant != nil {
		sess.TenantCompany = tenant.Company
		sess.TenantSubdomain = tenant.Subdomain
		sess.TenantDomain = tenant.Domain
	}

	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, "", fmt.Errorf("failed to store session: %w", err)
	}

	token, err := m.signSessionID(id)
	if err != nil {
		return nil, "", err
	}

	log.Debug().Str("user_id", user.UserID.String()).Msg("session issued")
	m.notify(stateOf(sess))

	return sess, token, nil
}

// FromRequest resolves the request's session cookie to authentication state.
// A missing or invalid cookie yields the unauthenticated state, never an
// error the caller must branch on.
func (m *Manager) FromRequest(ctx context.Context, r *http.Request) State {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return State{}
	}

	sess, err := m.lookup(ctx, cookie.Value)
	if err != nil {
		return State{}
	}

	return stateOf(sess)
}

// Get resolves a signed cookie value to authentication state.
func (m *Manager) Get(ctx context.Context, token string) (State, error) {
	sess, err := m.lookup(ctx, token)
	if err != nil {
		return State{}, err
	}
	return stateOf(sess), nil
}

// RestoreFromCredentials rebuilds a session from cross-domain credential
// fragments. Both the access and refresh fragments must verify; the restored
// session carries the tenant claims from the access fragment.
func (m *Manager) RestoreFromCredentials(ctx context.Context, access, refresh string) (State, string, error) {
	claims, err := m.credentials.Verify(access, refresh)
	if err != nil {
		return State{}, "", fmt.Errorf("credential fragments did not verify: %w", err)
	}

	user, err := m.users.FindByEmail(ctx, claims.Email)
	if err != nil {
		return State{}, "", fmt.Errorf("no user for restored credentials: %w", err)
	}

	tenant := &TenantInfo{
		Company:   claims.Company,
		Subdomain: claims.Subdomain,
		Domain:    claims.Domain,
	}

	sess, token, err := m.Issue(ctx, user, tenant, "", "")
	if err != nil {
		return State{}, "", err
	}

	log.Info().Str("user_id", user.UserID.String()).Str("subdomain", claims.Subdomain).Msg("session restored from credentials")
	return stateOf(sess), token, nil
}

// SignOut revokes the session behind a signed cookie value. Listeners see
// the unauthenticated state exactly once even when called repeatedly.
func (m *Manager) SignOut(ctx context.Context, token string) {
	sess, err := m.lookup(ctx, token)
	if err != nil {
		return
	}

	if err := m.sessions.Delete(ctx, sess.SessionID); err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			log.Warn().Err(err).Msg("failed to delete session")
		}
		return
	}

	// Carry the user so listeners can clear exactly that user's state; other
	// signed-in users are unaffected.
	m.notify(State{UserID: sess.UserID})
}

// OnChange registers a listener invoked on every authentication transition.
// The returned function unsubscribes; it is safe to call more than once.
func (m *Manager) OnChange(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) lookup(ctx context.Context, token string) (*models.Session, error) {
	id, err := m.verifySessionID(token)
	if err != nil {
		return nil, err
	}

	sess, err := m.sessions.Get(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionExpired):
			return nil, ErrExpiredSession
		case errors.Is(err, store.ErrSessionNotFound):
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	if err := m.sessions.UpdateLastUsed(ctx, id); err != nil {
		log.Debug().Err(err).Msg("failed to bump session last_used_at")
	}

	return sess, nil
}

func (m *Manager) notify(state State) {
	m.mu.Lock()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func stateOf(sess *models.Session) State {
	state := State{
		Authenticated: true,
		SessionID:     sess.SessionID,
		UserID:        sess.UserID,
	}
	if sess.TenantSubdomain != "" || sess.TenantCompany != "" {
		state.Tenant = &TenantInfo{
			Company:   sess.TenantCompany,
			Subdomain: sess.TenantSubdomain,
			Domain:    sess.TenantDomain,
		}
	}
	return state
}
