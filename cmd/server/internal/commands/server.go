package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"filippo.io/csrf"
	"github.com/rs/cors"

	"github.com/nestcrm/nestcrm/internal/bridge"
	"github.com/nestcrm/nestcrm/internal/guard"
	httpmiddleware "github.com/nestcrm/nestcrm/internal/http"
	"github.com/nestcrm/nestcrm/internal/logger"
	"github.com/nestcrm/nestcrm/internal/login"
	"github.com/nestcrm/nestcrm/internal/provision"
	"github.com/nestcrm/nestcrm/internal/resolver"
	"github.com/nestcrm/nestcrm/internal/server"
	"github.com/nestcrm/nestcrm/internal/session"
	"github.com/nestcrm/nestcrm/internal/store"
	memorystore "github.com/nestcrm/nestcrm/internal/store/memory"
	postgresstore "github.com/nestcrm/nestcrm/internal/store/postgres"
	"github.com/nestcrm/nestcrm/internal/tenant"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"NESTCRM_LISTEN"`

	// Tenant routing configuration
	RootDomain         string `help:"root domain tenant subdomains hang off" default:"nestcrm.com.au" env:"NESTCRM_ROOT_DOMAIN"`
	TenantPolicyFile   string `help:"path to a YAML tenant policy overriding the defaults" default:"" env:"NESTCRM_TENANT_POLICY"`
	MainDomainFastPath bool   `help:"skip tenant checks for the home page (main-domain-only deployments)" default:"false" env:"NESTCRM_MAIN_DOMAIN_FAST_PATH"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://nestcrm.com.au" env:"NESTCRM_CORS_ORIGINS"`

	// GitHub OAuth configuration
	ClientID     string        `help:"GitHub client ID" default:"" env:"NESTCRM_GITHUB_CLIENT_ID"`
	ClientSecret string        `help:"GitHub client secret" default:"" env:"NESTCRM_GITHUB_CLIENT_SECRET"`
	CallbackURL  string        `help:"GitHub callback URL" default:"" env:"NESTCRM_GITHUB_CALLBACK_URL"`
	SessionTTL   time.Duration `help:"session TTL" default:"168h" env:"NESTCRM_SESSION_TTL"`

	// Session signing
	SessionSecret string `help:"secret key for HMAC signing of session cookies and credential fragments" env:"NESTCRM_SESSION_SECRET"`

	// Provisioning poller
	PollMaxAttempts uint `help:"max reachability probes for a new tenant domain" default:"30" env:"NESTCRM_POLL_MAX_ATTEMPTS"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"NESTCRM_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"NESTCRM_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if len(c.SessionSecret) < 32 {
		return errors.New("session secret must be at least 32 bytes (--session-secret or NESTCRM_SESSION_SECRET)")
	}

	policy, err := c.loadPolicy()
	if err != nil {
		return err
	}

	// Create stores based on store type
	var (
		directory    store.OrganizationDirectory
		sessionStore store.SessionStore
		userStore    store.UserStore
	)

	switch c.StoreType {
	case "postgres":
		if err := c.PostgresStore.Validate(); err != nil {
			return err
		}
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			AutoMigrate:     c.PostgresStore.AutoMigrate,
		})
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()

		directory = postgresstore.NewDirectory(pool)
		sessionStore = postgresstore.NewSessionStore(pool)
		userStore = postgresstore.NewUserStore(pool)
		log.Info().Msg("Using PostgreSQL stores")

	default:
		directory = memorystore.NewDirectory()
		sessionStore = memorystore.NewSessionStore()
		userStore = memorystore.NewUserStore()
		log.Info().Msg("Using in-memory stores")
	}

	sessions, err := session.NewManager(sessionStore, userStore, []byte(c.SessionSecret), c.SessionTTL)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	res := resolver.New(policy, directory, sessions)
	defer res.Close()

	routeGuard := guard.New(policy)
	authBridge := bridge.New(sessions, policy, log)
	poller := provision.NewPoller(provision.WithMaxAttempts(c.PollMaxAttempts))

	var gh *login.Github
	if c.ClientID != "" {
		gh, err = login.NewGithub(c.ClientID, c.ClientSecret, c.CallbackURL, sessions, policy)
		if err != nil {
			return fmt.Errorf("failed to initialize GitHub OAuth: %w", err)
		}
	} else {
		log.Warn().Msg("GitHub OAuth is not configured, auth routes are disabled")
	}

	srv := server.New(server.Config{
		Policy:    policy,
		Sessions:  sessions,
		Resolver:  res,
		Directory: directory,
		Poller:    poller,
		Github:    gh,
		Logger:    log,
	})

	clientIP := httpmiddleware.ClientIPMiddleware()
	requestLog := logger.RequestLogger(log)

	guardMiddleware := guard.Middleware(guard.MiddlewareConfig{
		Guard:              routeGuard,
		Sessions:           sessions,
		Resolver:           res,
		MainDomainFastPath: c.MainDomainFastPath,
		Logger:             log,
	})

	// Page navigations run the bridge first (cross-domain landings restore
	// their session before the guard looks at it), then the guard.
	pageMiddleware := func(next http.Handler) http.Handler {
		return authBridge.Middleware(guardMiddleware(next))
	}

	mux := http.NewServeMux()
	srv.Register(mux, pageMiddleware)

	// API routes get CORS, HTML routes get CSRF
	protection := csrf.New()
	withCORS := cors.New(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true, // Required for cookie-based authentication
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			withCORS.Handler(mux).ServeHTTP(w, r)
			return
		}
		protection.Handler(mux).ServeHTTP(w, r)
	})

	httpServer := configureHTTPServer(c.Listen, clientIP(requestLog(handler)))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Str("root_domain", policy.RootDomain).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (c *ServerCmd) loadPolicy() (*tenant.Policy, error) {
	if c.TenantPolicyFile != "" {
		return tenant.LoadPolicy(c.TenantPolicyFile)
	}

	policy := tenant.DefaultPolicy()
	policy.RootDomain = c.RootDomain
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}
