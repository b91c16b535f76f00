// Package server owns the HTTP surface: the HTML pages gated by the routing
// guard and the JSON API consumed by the pages and the provisioning poller.
package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nestcrm/nestcrm/internal/login"
	"github.com/nestcrm/nestcrm/internal/provision"
	"github.com/nestcrm/nestcrm/internal/resolver"
	"github.com/nestcrm/nestcrm/internal/session"
	"github.com/nestcrm/nestcrm/internal/store"
	"github.com/nestcrm/nestcrm/internal/tenant"
)

// Config carries the collaborators the server wires into its routes.
type Config struct {
	Policy    *tenant.Policy
	Sessions  *session.Manager
	Resolver  *resolver.Resolver
	Directory store.OrganizationDirectory
	Poller    *provision.Poller
	Github    *login.Github
	Logger    zerolog.Logger
}

// Server serves the pages and the API.
type Server struct {
	policy    *tenant.Policy
	sessions  *session.Manager
	resolver  *resolver.Resolver
	directory store.OrganizationDirectory
	poller    *provision.Poller
	github    *login.Github
	logger    zerolog.Logger
}

// New creates the server.
func New(cfg Config) *Server {
	return &Server{
		policy:    cfg.Policy,
		sessions:  cfg.Sessions,
		resolver:  cfg.Resolver,
		directory: cfg.Directory,
		poller:    cfg.Poller,
		github:    cfg.Github,
		logger:    cfg.Logger,
	}
}

// Register wires every route onto the mux. The caller wraps page routes with
// the bridge and guard middleware; API routes are registered bare and gate
// themselves on the session.
func (s *Server) Register(mux *http.ServeMux, pageMiddleware func(http.Handler) http.Handler) {
	page := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, pageMiddleware(h))
	}

	page("/{$}", s.HomePage)
	page("/login", s.LoginPage)
	page("/signup", s.SignupPage)
	page("/dashboard", s.DashboardPage)
	page("/dashboard/", s.DashboardPage)
	page("/organizations", s.OrganizationsPage)
	page("/create-organization", s.CreateOrganizationPage)
	page("/onboarding", s.OnboardingPage)
	page("/not-found", s.NotFoundPage)

	if s.github != nil {
		mux.HandleFunc("/auth/login", s.github.LoginHandler)
		mux.HandleFunc("/auth/callback", s.github.CallbackHandler)
		mux.HandleFunc("/auth/logout", s.github.LogoutHandler)
	}

	mux.HandleFunc("GET /api/status", s.Status)
	mux.HandleFunc("GET /api/organizations", s.ListOrganizations)
	mux.HandleFunc("POST /api/organizations", s.CreateOrganization)
	mux.HandleFunc("GET /api/organizations/availability", s.SubdomainAvailability)
	mux.HandleFunc("PATCH /api/organizations/{id}", s.UpdateOrganization)
	mux.HandleFunc("POST /api/organizations/{id}/switch", s.SwitchOrganization)
}
