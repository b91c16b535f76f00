package server

import (
	"html/template"
	"net/http"

	"github.com/nestcrm/nestcrm/internal/models"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}} · NestCRM</title></head>
<body>
<main id="app" data-page="{{.Page}}">
<h1>{{.Title}}</h1>
{{if .Organization}}<p data-org="{{.Organization.Subdomain}}">{{.Organization.Name}}</p>{{end}}
</main>
</body>
</html>`))

type pageData struct {
	Title        string
	Page         string
	Organization *models.Organization
}

func (s *Server) renderPage(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Str("page", data.Page).Msg("failed to render page")
	}
}

func (s *Server) HomePage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, pageData{Title: "NestCRM", Page: "home"})
}

func (s *Server) LoginPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, pageData{Title: "Sign in", Page: "login"})
}

func (s *Server) SignupPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, pageData{Title: "Create your account", Page: "signup"})
}

func (s *Server) DashboardPage(w http.ResponseWriter, r *http.Request) {
	state := s.sessions.FromRequest(r.Context(), r)
	snap := s.resolver.Snapshot(state.UserID)
	s.renderPage(w, pageData{Title: "Dashboard", Page: "dashboard", Organization: snap.Current})
}

func (s *Server) OrganizationsPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, pageData{Title: "Your organizations", Page: "organizations"})
}

func (s *Server) CreateOrganizationPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, pageData{Title: "Create an organization", Page: "create-organization"})
}

func (s *Server) OnboardingPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, pageData{Title: "Welcome", Page: "onboarding"})
}

func (s *Server) NotFoundPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_ = pageTemplate.Execute(w, pageData{Title: "Workspace not found", Page: "not-found"})
}
