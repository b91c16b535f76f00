package guard

import (
	"net/http"

	"github.com/rs/zerolog"

	httpmiddleware "github.com/nestcrm/nestcrm/internal/http"
	"github.com/nestcrm/nestcrm/internal/resolver"
	"github.com/nestcrm/nestcrm/internal/session"
)

// holdingPage is rendered for Wait decisions. The meta refresh re-runs the
// guard; by then resolution has usually settled, and the wait bound
// guarantees this can't loop forever.
const holdingPage = `<!doctype html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1">
<title>Loading…</title></head>
<body><main class="spinner" role="status">Loading your workspace…</main></body></html>`

// MiddlewareConfig wires the guard into the HTTP stack.
type MiddlewareConfig struct {
	Guard    *Guard
	Sessions *session.Manager
	Resolver *resolver.Resolver

	// MainDomainFastPath is set by bootstrap when the deployment serves only
	// the bare root domain. The home page then skips tenant checks entirely.
	MainDomainFastPath bool

	Logger zerolog.Logger
}

// Middleware evaluates the routing guard for every page navigation and
// executes its decision. API routes should not be wrapped; the guard gates
// page loads, not data calls.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MainDomainFastPath && normalizePath(r.URL.Path) == "/" {
				next.ServeHTTP(w, r)
				return
			}

			state := cfg.Sessions.FromRequest(r.Context(), r)

			// Resolution is throttled internally; calling it on every
			// navigation is safe.
			cfg.Resolver.Initialize(r.Context(), state, r.Host, r.URL.Query())

			decision := cfg.Guard.Evaluate(Input{
				Path:       r.URL.Path,
				Hostname:   r.Host,
				Query:      r.URL.Query(),
				Scheme:     httpmiddleware.Scheme(r),
				Session:    state,
				Resolution: cfg.Resolver.Snapshot(state.UserID),
			})

			switch decision.Kind {
			case KindAllow:
				next.ServeHTTP(w, r)

			case KindWait:
				cfg.Logger.Debug().Str("path", r.URL.Path).Msg("holding navigation while resolution settles")
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(holdingPage))

			case KindRedirect:
				cfg.Logger.Debug().
					Str("path", r.URL.Path).
					Str("target", decision.URL).
					Msg("guard redirect")

				status := http.StatusFound
				if decision.Mode == ModeReplace {
					// See Other keeps the intermediate hop out of history.
					status = http.StatusSeeOther
				}
				http.Redirect(w, r, decision.URL, status)
			}
		})
	}
}
