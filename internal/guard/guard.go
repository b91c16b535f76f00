// Package guard decides, per navigation, whether a route renders, redirects
// or waits. The decision table keys on domain classification, authentication
// state and organization resolution state. Public paths are evaluated
// synchronously and always win; nothing may delay the landing page or the
// auth screens.
package guard

import (
	"net/url"
	"strings"
	"sync"

	"github.com/nestcrm/nestcrm/internal/resolver"
	"github.com/nestcrm/nestcrm/internal/session"
	"github.com/nestcrm/nestcrm/internal/tenant"
)

// maxWaits bounds consecutive Wait decisions for one navigation context.
// After that the guard fails open and renders, even with unresolved state; an
// infinite spinner is worse than a degraded page.
const maxWaits = 3

// Input is everything one evaluation reads. The guard itself holds no
// per-request state beyond the consecutive-wait counter.
type Input struct {
	Path     string
	Hostname string
	Query    url.Values
	Scheme   string

	Session    session.State
	Resolution resolver.Snapshot
}

// Guard evaluates the routing decision table.
type Guard struct {
	policy *tenant.Policy

	mu    sync.Mutex
	waits map[string]int
}

// New creates a guard for one routing policy.
func New(policy *tenant.Policy) *Guard {
	return &Guard{policy: policy, waits: make(map[string]int)}
}

// Evaluate runs the decision table. It is total: no input combination may
// panic or error, since a failure here would block all navigation.
func (g *Guard) Evaluate(in Input) Decision {
	decision := g.evaluate(in)
	return g.boundWait(in, decision)
}

func (g *Guard) evaluate(in Input) Decision {
	identifier := g.policy.ParseIdentifier(in.Hostname, in.Query)
	path := normalizePath(in.Path)

	if g.policy.IsMainDomain(identifier) {
		return g.evaluateMain(in, path)
	}
	return g.evaluateTenant(in, path, identifier)
}

// evaluateMain handles the bare root domain (and reserved hosts like www).
func (g *Guard) evaluateMain(in Input, path string) Decision {
	// Public paths short-circuit before anything async is consulted.
	if isMainPublicPath(path) {
		return allow()
	}

	if isDashboardPath(path) {
		if !in.Session.Authenticated {
			return redirect(g.policy.MainDomainURL("/", in.Scheme), ModeReplace)
		}

		if g.stillResolving(in.Resolution) {
			return wait()
		}

		if current := in.Resolution.Current; current != nil {
			// The dashboard lives on the tenant subdomain, never the root.
			url := g.policy.BuildSubdomainURL(current.Subdomain, "/dashboard", in.Hostname, in.Scheme)
			return redirect(url, ModeReplace)
		}

		// No explicit selection: the user picks from the organizations list.
		// Holds for both "has organizations" and "has none" (the list page
		// offers creation).
		return redirect("/organizations", ModeNavigate)
	}

	return allow()
}

// evaluateTenant handles requests arriving on a tenant subdomain.
func (g *Guard) evaluateTenant(in Input, path, identifier string) Decision {
	if !in.Session.Authenticated {
		// Login and signup render locally so the form paints before any
		// bounce; everything else goes to the main-domain login.
		if path == "/login" || path == "/signup" {
			return allow()
		}
		return redirect(g.policy.MainDomainURL("/login", in.Scheme), ModeReplace)
	}

	// Once authentication has resolved, auth/onboarding surfaces are off
	// limits on a tenant subdomain.
	if isTenantRestrictedPath(path) {
		return redirect("/dashboard", ModeNavigate)
	}

	if g.stillResolving(in.Resolution) {
		return wait()
	}

	if in.Resolution.Initialized && in.Resolution.Current == nil {
		// The subdomain points at no organization. This is a routing
		// outcome, not an error toast.
		return redirect(g.policy.MainDomainURL("/not-found", in.Scheme), ModeReplace)
	}

	if isDashboardPath(path) {
		if current := in.Resolution.Current; current != nil && !strings.EqualFold(current.Subdomain, identifier) {
			// Signed in under a different organization than the hostname:
			// full navigation to the right tenant, same path.
			url := g.policy.BuildSubdomainURL(current.Subdomain, path, in.Hostname, in.Scheme)
			return redirect(url, ModeReplace)
		}
	}

	return allow()
}

// stillResolving reports whether the initial resolution is in flight and the
// retry budget is not exhausted.
func (g *Guard) stillResolving(snap resolver.Snapshot) bool {
	return snap.Loading && !snap.Initialized && snap.Attempts < maxWaits
}

// boundWait caps consecutive Wait decisions for one navigation context,
// falling open to Allow afterwards. Contexts are keyed per session so one
// visitor's spinner never consumes another's budget.
func (g *Guard) boundWait(in Input, decision Decision) Decision {
	key := in.Session.SessionID.String() + "|" + in.Hostname + in.Path

	g.mu.Lock()
	defer g.mu.Unlock()

	if decision.Kind != KindWait {
		delete(g.waits, key)
		return decision
	}

	g.waits[key]++
	if g.waits[key] > maxWaits {
		return allow()
	}
	return decision
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// isMainPublicPath lists the main-domain routes that must render instantly
// regardless of backend latency.
func isMainPublicPath(path string) bool {
	switch path {
	case "/", "/login", "/signup", "/not-found", "/organizations", "/create-organization":
		return true
	}
	return false
}

func isDashboardPath(path string) bool {
	return path == "/dashboard" || strings.HasPrefix(path, "/dashboard/")
}

// isTenantRestrictedPath lists routes that never render on a tenant
// subdomain for an authenticated user.
func isTenantRestrictedPath(path string) bool {
	switch path {
	case "/login", "/signup", "/organizations", "/create-organization", "/onboarding":
		return true
	}
	return false
}
