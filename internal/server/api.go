package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nestcrm/nestcrm/internal/bridge"
	httpmiddleware "github.com/nestcrm/nestcrm/internal/http"
	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/resolver"
	"github.com/nestcrm/nestcrm/internal/session"
	"github.com/nestcrm/nestcrm/internal/store"
)

type organizationResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Subdomain string            `json:"subdomain"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Settings  map[string]string `json:"settings,omitempty"`
}

func toOrganizationResponse(org *models.Organization) organizationResponse {
	return organizationResponse{
		ID:        org.OrgID.String(),
		Name:      org.Name,
		Subdomain: org.Subdomain,
		CreatedAt: org.CreatedAt,
		UpdatedAt: org.UpdatedAt,
		Settings:  org.Settings,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// requireSession gates an API handler on an authenticated session.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (session.State, bool) {
	state := s.sessions.FromRequest(r.Context(), r)
	if !state.Authenticated {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "sign in to continue")
		return session.State{}, false
	}
	return state, true
}

// Status is the reachability endpoint the provisioning poller probes. It
// carries the tenant identifier the hostname resolves to, which doubles as a
// routing smoke test.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if identifier := s.policy.ParseIdentifier(r.Host, r.URL.Query()); identifier != "" {
		body["tenant"] = identifier
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	state, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	orgs, err := s.directory.ListForUser(r.Context(), state.UserID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list organizations")
		writeError(w, http.StatusInternalServerError, "internal", "could not load organizations")
		return
	}

	out := make([]organizationResponse, 0, len(orgs))
	for _, org := range orgs {
		out = append(out, toOrganizationResponse(org))
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": out})
}

type createOrganizationRequest struct {
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

// CreateOrganization creates the organization, waits for the new tenant
// domain to come up, and hands back the cross-domain destination. Callers
// follow redirectUrl regardless of ready: an unready domain resolves on its
// own shortly and the bridge restores the session on landing.
func (s *Server) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	state, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	var req createOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_name", "name is required")
		return
	}

	org, err := s.resolver.CreateOrganization(r.Context(), state.UserID, req.Name, req.Subdomain)
	switch {
	case err == nil:

	case errors.Is(err, models.ErrSubdomainTooShort), errors.Is(err, models.ErrSubdomainInvalid):
		writeError(w, http.StatusUnprocessableEntity, "invalid_subdomain", err.Error())
		return

	case errors.Is(err, resolver.ErrSubdomainTaken):
		// A lost race gets its own error code so the form can say "taken"
		// instead of "something went wrong".
		writeError(w, http.StatusConflict, "subdomain_taken", "that subdomain is already in use")
		return

	default:
		s.logger.Error().Err(err).Msg("failed to create organization")
		writeError(w, http.StatusInternalServerError, "internal", "could not create organization")
		return
	}

	domain := org.Subdomain + "." + s.policy.RootDomain
	ready := false
	if s.poller != nil {
		ready = s.poller.PollUntilReady(r.Context(), domain)
	}

	scheme := httpmiddleware.Scheme(r)
	redirectURL := s.policy.BuildSubdomainURL(org.Subdomain, "/dashboard?"+bridge.AuthRedirectParam+"=1", r.Host, scheme)

	writeJSON(w, http.StatusCreated, map[string]any{
		"organization": toOrganizationResponse(org),
		"redirectUrl":  redirectURL,
		"ready":        ready,
	})
}

func (s *Server) SubdomainAvailability(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireSession(w, r); !ok {
		return
	}

	candidate := r.URL.Query().Get("subdomain")
	available, err := s.resolver.IsSubdomainAvailable(r.Context(), candidate)
	switch {
	case errors.Is(err, models.ErrSubdomainTooShort), errors.Is(err, models.ErrSubdomainInvalid):
		writeJSON(w, http.StatusOK, map[string]any{"available": false, "reason": err.Error()})
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("availability check failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not check availability")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"available": available})
}

type updateOrganizationRequest struct {
	Name     *string           `json:"name"`
	Settings map[string]string `json:"settings"`
}

func (s *Server) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	state, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	orgID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid organization id")
		return
	}

	membership, err := s.directory.GetMembership(r.Context(), orgID, state.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "organization not found")
		return
	}
	if !membership.Role.CanManage() {
		writeError(w, http.StatusForbidden, "forbidden", "only owners and admins can update an organization")
		return
	}

	var req updateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	updated, err := s.resolver.Update(r.Context(), state.UserID, orgID, &models.OrganizationPatch{
		Name:     req.Name,
		Settings: req.Settings,
	})
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "organization not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to update organization")
		writeError(w, http.StatusInternalServerError, "internal", "could not update organization")
		return
	}

	writeJSON(w, http.StatusOK, toOrganizationResponse(updated))
}

func (s *Server) SwitchOrganization(w http.ResponseWriter, r *http.Request) {
	state, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	orgID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid organization id")
		return
	}

	s.resolver.Switch(state.UserID, orgID)
	w.WriteHeader(http.StatusNoContent)
}
