// Package resolver owns the in-memory answer to "which organization is this
// user operating as, and which could they switch to". It is driven by the
// hostname's tenant identifier and the session state, and is the only writer
// of that state.
package resolver

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/session"
	"github.com/nestcrm/nestcrm/internal/store"
	"github.com/nestcrm/nestcrm/internal/tenant"
)

const (
	// maxAttempts bounds resolution retries before settling for best-effort
	// state.
	maxAttempts = 3

	// retryDelay is the pause between failed resolution attempts.
	retryDelay = 2 * time.Second

	// throttleWindow suppresses re-entrant resolution triggered by incidental
	// re-evaluation. Synchronous reads are never throttled.
	throttleWindow = time.Second
)

// ErrSubdomainTaken is surfaced when an organization create loses the race
// for its subdomain. It is distinct from validation errors so the caller can
// show "already taken" rather than a generic failure.
var ErrSubdomainTaken = store.ErrSubdomainTaken

// Snapshot is a consistent read of one user's resolution state.
type Snapshot struct {
	Current       *models.Organization
	Organizations []*models.Organization
	Loading       bool
	Initialized   bool
	Attempts      int
}

// userState is one user's resolution cell. Concurrent sessions never share a
// cell: user A's current organization must be invisible to user B.
type userState struct {
	current       *models.Organization
	organizations []*models.Organization
	loading       bool
	initialized   bool
	attempts      int
	lastCheck     time.Time

	// epoch invalidates in-flight work: results computed under an older epoch
	// are discarded instead of patched in.
	epoch int

	retryTimer *time.Timer
}

// Resolver is the organization resolution state machine. One instance exists
// per running server, holding an isolated cell per authenticated user; all
// mutation goes through its methods.
type Resolver struct {
	policy    *tenant.Policy
	directory store.OrganizationDirectory
	sessions  *session.Manager

	mu    sync.Mutex
	users map[uuid.UUID]*userState

	// epochs seeds every new cell with a fresh epoch so work left in flight
	// when a cell was cleared can never publish into its replacement.
	epochs int

	unsubscribe func()
	closed      bool
}

// New creates a resolver and subscribes it to session transitions. Callers
// must Close it to stop retry timers and the subscription.
func New(policy *tenant.Policy, directory store.OrganizationDirectory, sessions *session.Manager) *Resolver {
	r := &Resolver{
		policy:    policy,
		directory: directory,
		sessions:  sessions,
		users:     make(map[uuid.UUID]*userState),
	}
	if sessions != nil {
		r.unsubscribe = sessions.OnChange(r.onSessionChange)
	}
	return r
}

// Close stops any scheduled retry and detaches from the session manager.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	for _, u := range r.users {
		if u.retryTimer != nil {
			u.retryTimer.Stop()
			u.retryTimer = nil
		}
	}
	unsub := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// stateLocked returns the cell for a user, creating it on first contact.
func (r *Resolver) stateLocked(userID uuid.UUID) *userState {
	u, ok := r.users[userID]
	if !ok {
		r.epochs++
		u = &userState{epoch: r.epochs}
		r.users[userID] = u
	}
	return u
}

// Snapshot returns one user's resolution state. Slices are copied so callers
// can't mutate internal state. An unknown user reads as empty, never as
// someone else's organizations.
func (r *Resolver) Snapshot(userID uuid.UUID) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return Snapshot{}
	}

	orgs := make([]*models.Organization, len(u.organizations))
	copy(orgs, u.organizations)

	return Snapshot{
		Current:       u.current,
		Organizations: orgs,
		Loading:       u.loading,
		Initialized:   u.initialized,
		Attempts:      u.attempts,
	}
}

// Initialize resolves organization state for the given session and hostname.
// Re-entrant calls inside the throttle window are dropped. All state is
// published atomically after the directory calls return; nothing is mutated
// while a call is in flight. Unauthenticated sessions have no cell and
// nothing to resolve; sign-out clearing arrives through the session manager.
func (r *Resolver) Initialize(ctx context.Context, state session.State, hostname string, query url.Values) {
	if !state.Authenticated || state.UserID == uuid.Nil {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	u := r.stateLocked(state.UserID)
	if time.Since(u.lastCheck) < throttleWindow {
		r.mu.Unlock()
		return
	}
	u.lastCheck = time.Now()
	u.loading = true
	epoch := u.epoch
	r.mu.Unlock()

	r.resolve(ctx, state, hostname, query, epoch)
}

// resolve performs the directory calls, then publishes results into the
// user's cell if its epoch is still current.
func (r *Resolver) resolve(ctx context.Context, state session.State, hostname string, query url.Values, epoch int) {
	identifier := r.policy.ParseIdentifier(hostname, query)

	var current *models.Organization
	var resolveErr error

	if identifier != "" && !r.policy.IsMainDomain(identifier) {
		org, err := r.directory.FindBySubdomain(ctx, identifier)
		switch {
		case err == nil:
			current = org
		case errors.Is(err, store.ErrOrganizationNotFound):
			// Leave current nil; the guard turns this into a not-found
			// redirect. Never guess a fallback organization.
		default:
			resolveErr = err
		}
	}

	orgs, err := r.directory.ListForUser(ctx, state.UserID)
	if err != nil {
		resolveErr = err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[state.UserID]
	if r.closed || !ok || epoch != u.epoch {
		// Auth flipped or the cell was cleared while we were away; discard.
		return
	}

	if resolveErr != nil {
		u.attempts++
		log.Warn().Err(resolveErr).Str("user_id", state.UserID.String()).Int("attempt", u.attempts).Msg("organization resolution failed")

		if u.attempts < maxAttempts {
			u.loading = true
			r.scheduleRetryLocked(u, state, hostname, query, epoch)
			return
		}

		// Out of retries: settle with whatever partial state we have rather
		// than blocking navigation forever.
		log.Warn().Int("attempts", u.attempts).Msg("organization resolution giving up, using best-effort state")
	}

	// No auto-select of a first organization on the main domain: selection is
	// explicit, via subdomain match or Switch.
	u.current = current
	u.organizations = orgs
	u.loading = false
	u.initialized = true
}

func (r *Resolver) scheduleRetryLocked(u *userState, state session.State, hostname string, query url.Values, epoch int) {
	if u.retryTimer != nil {
		u.retryTimer.Stop()
	}
	u.retryTimer = time.AfterFunc(retryDelay, func() {
		r.mu.Lock()
		cell, ok := r.users[state.UserID]
		if r.closed || !ok || epoch != cell.epoch {
			r.mu.Unlock()
			return
		}
		cell.lastCheck = time.Now()
		r.mu.Unlock()

		r.resolve(context.Background(), state, hostname, query, epoch)
	})
}

// CreateOrganization validates the subdomain, re-checks availability at the
// last possible moment, and creates the organization with its owner
// membership. The fresh organization becomes current for that user.
func (r *Resolver) CreateOrganization(ctx context.Context, userID uuid.UUID, name, subdomain string) (*models.Organization, error) {
	if err := models.ValidateSubdomain(subdomain); err != nil {
		return nil, err
	}

	// The availability check in the UI happened seconds ago; re-check right
	// before insert to shrink the race window. The insert itself is still the
	// arbiter.
	available, err := r.directory.IsSubdomainAvailable(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrSubdomainTaken
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	org := &models.Organization{
		OrgID:     id,
		Name:      name,
		Subdomain: subdomain,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.directory.CreateWithOwner(ctx, org, userID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	u := r.stateLocked(userID)
	u.organizations = append([]*models.Organization{org}, u.organizations...)
	u.current = org
	r.mu.Unlock()

	log.Info().Str("subdomain", subdomain).Str("org_id", org.OrgID.String()).Msg("organization created")

	return org, nil
}

// Switch selects an organization from the user's already-fetched list. It is
// purely local and silently does nothing for an unknown ID; an organization
// outside the user's list can never become current.
func (r *Resolver) Switch(userID, orgID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return
	}
	for _, org := range u.organizations {
		if org.OrgID == orgID {
			u.current = org
			return
		}
	}
}

// Update persists a patch and merges the stored result into the user's local
// state. If the updated organization is current, the current reference is
// refreshed too.
func (r *Resolver) Update(ctx context.Context, userID, orgID uuid.UUID, patch *models.OrganizationPatch) (*models.Organization, error) {
	updated, err := r.directory.Update(ctx, orgID, patch)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if u, ok := r.users[userID]; ok {
		for i, org := range u.organizations {
			if org.OrgID == orgID {
				u.organizations[i] = updated
				break
			}
		}
		if u.current != nil && u.current.OrgID == orgID {
			u.current = updated
		}
	}
	r.mu.Unlock()

	return updated, nil
}

// IsSubdomainAvailable rejects malformed candidates before any directory
// call, then delegates.
func (r *Resolver) IsSubdomainAvailable(ctx context.Context, candidate string) (bool, error) {
	if err := models.ValidateSubdomain(candidate); err != nil {
		return false, err
	}
	return r.directory.IsSubdomainAvailable(ctx, candidate)
}

// onSessionChange reacts to authentication transitions. Sign-out clears that
// user's organization state; a stale organization must never leak across
// accounts. A transition with no user attached clears everything.
func (r *Resolver) onSessionChange(state session.State) {
	if state.Authenticated {
		return
	}
	if state.UserID == uuid.Nil {
		r.clearAll()
		return
	}
	r.clearUser(state.UserID)
}

// clearUser drops one user's cell. In-flight work for the old cell fails the
// epoch check and is discarded.
func (r *Resolver) clearUser(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return
	}
	if u.retryTimer != nil {
		u.retryTimer.Stop()
		u.retryTimer = nil
	}
	delete(r.users, userID)
}

func (r *Resolver) clearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.retryTimer != nil {
			u.retryTimer.Stop()
			u.retryTimer = nil
		}
	}
	r.users = make(map[uuid.UUID]*userState)
}
