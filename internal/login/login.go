// Package login drives the GitHub OAuth flow and turns a successful callback
// into a store-backed session plus the root-domain credential fragments that
// let tenant subdomains restore it after a cross-origin hop.
package login

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	httpmiddleware "github.com/nestcrm/nestcrm/internal/http"
	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/session"
	"github.com/nestcrm/nestcrm/internal/tenant"
)

const stateCookieName = "state"

type Github struct {
	config   *oauth2.Config
	sessions *session.Manager
	policy   *tenant.Policy
}

func NewGithub(clientID, clientSecret, callbackURL string, sessions *session.Manager, policy *tenant.Policy) (*Github, error) {
	if clientID == "" || clientSecret == "" || callbackURL == "" {
		return nil, fmt.Errorf("client ID, client secret, and callback URL are required")
	}

	return &Github{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
		sessions: sessions,
		policy:   policy,
	}, nil
}

func (g *Github) saveState(w http.ResponseWriter, r *http.Request) string {
	// generate random state
	state := rand.Text()

	cookie := &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes - enough time for OAuth flow
	}
	http.SetCookie(w, cookie)

	return state
}

func (g *Github) LoginHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("Initiating GitHub OAuth flow")

	state := g.saveState(w, r)

	// redirect to github
	http.Redirect(w, r, g.config.AuthCodeURL(state), http.StatusFound)
}

func (g *Github) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("OAuth callback received")

	state := r.FormValue("state")
	code := r.FormValue("code")

	if state == "" || code == "" {
		log.Warn().Msg("OAuth callback missing state or code")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		log.Warn().Err(err).Msg("OAuth callback missing state cookie")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	if state != cookie.Value {
		log.Warn().Msg("OAuth callback state mismatch")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	// Clear the state cookie after validation
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	// exchange code for token
	token, err := g.ExchangeCode(r.Context(), code)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to exchange OAuth code for token")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	userInfo, err := g.getUserInfo(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch user info from GitHub")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	if userInfo.Email == "" {
		log.Warn().Msg("GitHub user info missing email address")
		http.Error(w, "Email address required", http.StatusBadRequest)
		return
	}

	userID, err := uuid.NewV7()
	if err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	user, err := g.sessions.Users().Upsert(r.Context(), &models.User{
		UserID: userID,
		Email:  userInfo.Email,
		Name:   userInfo.Name,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to upsert user")
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	clientIP := httpmiddleware.ClientIPFromContext(r.Context())
	_, sessionToken, err := g.sessions.Issue(r.Context(), user, nil, r.UserAgent(), clientIP)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create session")
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	log.Info().Str("user", user.Email).Msg("User authenticated successfully")

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(g.sessions.TTL().Seconds()),
	})

	g.setCredentialCookies(w, user.Email)

	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// setCredentialCookies mints the access and refresh fragments and scopes them
// to the parent domain so every tenant subdomain can read them. Failure here
// is non-fatal: the session on this origin still works, only cross-domain
// restore degrades.
func (g *Github) setCredentialCookies(w http.ResponseWriter, email string) {
	access, refresh, err := g.sessions.Credentials().Mint(email, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to mint credential fragments")
		return
	}

	parent := "." + g.policy.RootDomain
	ttl := g.sessions.TTL()

	http.SetCookie(w, &http.Cookie{
		Name:     session.AccessCookieName,
		Value:    access,
		Path:     "/",
		Domain:   parent,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     session.RefreshCookieName,
		Value:    refresh,
		Path:     "/",
		Domain:   parent,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((2 * ttl).Seconds()),
	})
}

// LogoutHandler revokes the session and clears every auth cookie, including
// the parent-domain fragments, then sends the user to the main domain.
func (g *Github) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		g.sessions.SignOut(r.Context(), cookie.Value)
	}

	expire := func(name, domain string) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	expire(session.CookieName, "")
	parent := "." + g.policy.RootDomain
	expire(session.AccessCookieName, parent)
	expire(session.RefreshCookieName, parent)

	http.Redirect(w, r, g.policy.MainDomainURL("/", httpmiddleware.Scheme(r)), http.StatusFound)
}

func (g *Github) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.config.Exchange(ctx, code)
}

func (g *Github) getUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	// Add timeout to prevent hanging on slow GitHub API
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := g.config.Client(ctx, token)
	resp, err := client.Get("https://api.github.com/user")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned HTTP %d", resp.StatusCode)
	}

	var userInfo UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	// If email is not available from /user endpoint, fetch from /user/emails
	if userInfo.Email == "" {
		emails, err := g.getUserEmails(ctx, token)
		if err != nil {
			return nil, err
		}
		for _, email := range emails {
			if email.Primary {
				userInfo.Email = email.Email
				break
			}
		}
	}

	return &userInfo, nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *Github) getUserEmails(ctx context.Context, token *oauth2.Token) ([]githubEmail, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := g.config.Client(ctx, token)
	resp, err := client.Get("https://api.github.com/user/emails")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned HTTP %d for emails endpoint", resp.StatusCode)
	}

	var emails []githubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("failed to decode user emails: %w", err)
	}

	return emails, nil
}

type UserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
