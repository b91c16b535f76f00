// Package bridge re-establishes a session after a cross-origin hop. A
// redirect from the main domain to a tenant subdomain (or back) lands on an
// origin whose session cookie may not exist yet; the bridge rebuilds it from
// credential fragments scoped to the shared parent domain, once, then gets
// out of the way.
package bridge

import (
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/rs/zerolog"

	httpmiddleware "github.com/nestcrm/nestcrm/internal/http"
	"github.com/nestcrm/nestcrm/internal/session"
	"github.com/nestcrm/nestcrm/internal/tenant"
)

// AuthRedirectParam marks a landing URL as the tail end of a cross-domain
// auth hop. The redirector appends it; the bridge consumes and strips it.
const AuthRedirectParam = "auth_redirect"

// LoginErrorParam carries the failure reason to the login page when the
// bridge cannot restore a session.
const LoginErrorParam = "error"

// Bridge restores sessions on marked landings.
type Bridge struct {
	sessions *session.Manager
	policy   *tenant.Policy
	logger   zerolog.Logger

	// inFlight prevents a second restore from starting while one runs.
	// Concurrent marked landings still get their marker stripped; they just
	// don't race a second restore against the first.
	inFlight atomic.Bool
}

// New creates a bridge over the session manager.
func New(sessions *session.Manager, policy *tenant.Policy, logger zerolog.Logger) *Bridge {
	return &Bridge{sessions: sessions, policy: policy, logger: logger}
}

// Middleware intercepts navigations carrying the auth-redirect marker.
// Unmarked requests pass through untouched. Marked requests either leave
// with a restored session and a clean URL, or get bounced to the main-domain
// login with an explicit error. They never fall through ambiguous.
func (b *Bridge) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(AuthRedirectParam) == "" {
			next.ServeHTTP(w, r)
			return
		}
		b.handle(w, r)
	})
}

func (b *Bridge) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := b.sessions.FromRequest(ctx, r)

	if state.Authenticated {
		// Replace-style redirect to the same URL without the marker, so a
		// reload doesn't re-run the bridge.
		http.Redirect(w, r, stripMarker(r.URL), http.StatusSeeOther)
		return
	}

	if !b.inFlight.CompareAndSwap(false, true) {
		// Another restore is already running. Re-land without the marker and
		// let the guard judge whatever session it produced.
		http.Redirect(w, r, stripMarker(r.URL), http.StatusSeeOther)
		return
	}

	restored := func() bool {
		defer b.inFlight.Store(false)

		access, refresh := credentialFragments(r)
		if access == "" || refresh == "" {
			b.logger.Debug().Msg("no credential fragments on cross-domain landing")
			return false
		}

		state, token, err := b.sessions.RestoreFromCredentials(ctx, access, refresh)
		if err != nil {
			b.logger.Warn().Err(err).Msg("cross-domain session restore failed")
			return false
		}

		b.setSessionCookie(w, r, token)
		return state.Authenticated
	}()

	if restored {
		http.Redirect(w, r, stripMarker(r.URL), http.StatusSeeOther)
		return
	}

	b.logger.Warn().Str("host", r.Host).Msg("auth bridge could not restore a session, forcing re-login")

	login, err := url.Parse(b.policy.MainDomainURL("/login", httpmiddleware.Scheme(r)))
	if err == nil {
		q := login.Query()
		q.Set(LoginErrorParam, "session_restore_failed")
		login.RawQuery = q.Encode()
		http.Redirect(w, r, login.String(), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (b *Bridge) setSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   httpmiddleware.Scheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(b.sessions.TTL().Seconds()),
	})
}

// credentialFragments reads the parent-domain-scoped access and refresh
// fragments from the request cookies.
func credentialFragments(r *http.Request) (access, refresh string) {
	if c, err := r.Cookie(session.AccessCookieName); err == nil {
		access = c.Value
	}
	if c, err := r.Cookie(session.RefreshCookieName); err == nil {
		refresh = c.Value
	}
	return access, refresh
}

// stripMarker removes the auth-redirect marker from the URL, keeping every
// other query parameter.
func stripMarker(u *url.URL) string {
	clean := *u
	q := clean.Query()
	q.Del(AuthRedirectParam)
	clean.RawQuery = q.Encode()
	if clean.Path == "" {
		clean.Path = "/"
	}
	return clean.RequestURI()
}
