package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nestcrm/nestcrm/internal/models"
	"github.com/nestcrm/nestcrm/internal/session"
	"github.com/nestcrm/nestcrm/internal/store/memory"
	"github.com/nestcrm/nestcrm/internal/tenant"
)

var testSecret = []byte("test-secret-key-min-32-bytes-long!!")

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	mgr, err := session.NewManager(memory.NewSessionStore(), memory.NewUserStore(), testSecret, time.Hour)
	require.NoError(t, err)
	return mgr
}

func seedUser(t *testing.T, mgr *session.Manager, email string) *models.User {
	t.Helper()
	user, err := mgr.Users().Upsert(context.Background(), &models.User{
		UserID: uuid.Must(uuid.NewV7()),
		Email:  email,
		Name:   "Owner",
	})
	require.NoError(t, err)
	return user
}

func serve(b *Bridge, r *http.Request) (*httptest.ResponseRecorder, bool) {
	served := false
	h := b.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served = true
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w, served
}

func markedRequest(host, target string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "https://"+host+target, nil)
	r.Host = host
	return r
}

func TestBridge_PassThrough(t *testing.T) {
	mgr := newManager(t)
	b := New(mgr, tenant.DefaultPolicy(), zerolog.Nop())

	r := markedRequest("acme.nestcrm.com.au", "/dashboard")
	_, served := serve(b, r)

	require.True(t, served, "unmarked requests bypass the bridge entirely")
}

func TestBridge_AlreadyAuthenticated(t *testing.T) {
	mgr := newManager(t)
	b := New(mgr, tenant.DefaultPolicy(), zerolog.Nop())

	user := seedUser(t, mgr, "owner@acme.test")
	_, token, err := mgr.Issue(context.Background(), user, nil, "test", "127.0.0.1")
	require.NoError(t, err)

	r := markedRequest("acme.nestcrm.com.au", "/dashboard?auth_redirect=1&view=churn")
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})

	w, served := serve(b, r)

	require.False(t, served)
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "/dashboard?view=churn", w.Header().Get("Location"),
		"marker stripped, other params kept")
}

func TestBridge_RestoresFromFragments(t *testing.T) {
	mgr := newManager(t)
	b := New(mgr, tenant.DefaultPolicy(), zerolog.Nop())

	seedUser(t, mgr, "owner@acme.test")
	access, refresh, err := mgr.Credentials().Mint("owner@acme.test", &session.TenantInfo{
		Company:   "Acme",
		Subdomain: "acme",
		Domain:    "acme.nestcrm.com.au",
	})
	require.NoError(t, err)

	r := markedRequest("acme.nestcrm.com.au", "/dashboard?auth_redirect=1")
	r.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: access})
	r.AddCookie(&http.Cookie{Name: session.RefreshCookieName, Value: refresh})

	w, served := serve(b, r)

	require.False(t, served)
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "/dashboard", w.Header().Get("Location"))

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie, "restored session must be set as a cookie")
	require.True(t, sessionCookie.HttpOnly)

	state, err := mgr.Get(context.Background(), sessionCookie.Value)
	require.NoError(t, err)
	require.True(t, state.Authenticated)
	require.NotNil(t, state.Tenant)
	require.Equal(t, "acme", state.Tenant.Subdomain)
}

func TestBridge_Failures(t *testing.T) {
	t.Run("no fragments forces main-domain login", func(t *testing.T) {
		mgr := newManager(t)
		b := New(mgr, tenant.DefaultPolicy(), zerolog.Nop())

		r := markedRequest("acme.nestcrm.com.au", "/dashboard?auth_redirect=1")
		w, served := serve(b, r)

		require.False(t, served)
		require.Equal(t, http.StatusSeeOther, w.Code)
		require.Equal(t, "https://nestcrm.com.au/login?error=session_restore_failed",
			w.Header().Get("Location"))
	})

	t.Run("tampered fragments force main-domain login", func(t *testing.T) {
		mgr := newManager(t)
		b := New(mgr, tenant.DefaultPolicy(), zerolog.Nop())

		seedUser(t, mgr, "owner@acme.test")
		access, refresh, err := mgr.Credentials().Mint("owner@acme.test", nil)
		require.NoError(t, err)

		r := markedRequest("acme.nestcrm.com.au", "/dashboard?auth_redirect=1")
		r.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: access + "tampered"})
		r.AddCookie(&http.Cookie{Name: session.RefreshCookieName, Value: refresh})

		w, _ := serve(b, r)
		require.Contains(t, w.Header().Get("Location"), "error=session_restore_failed")
	})

	t.Run("fragments for an unknown user force main-domain login", func(t *testing.T) {
		mgr := newManager(t)
		b := New(mgr, tenant.DefaultPolicy(), zerolog.Nop())

		access, refresh, err := mgr.Credentials().Mint("ghost@nowhere.test", nil)
		require.NoError(t, err)

		r := markedRequest("acme.nestcrm.com.au", "/dashboard?auth_redirect=1")
		r.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: access})
		r.AddCookie(&http.Cookie{Name: session.RefreshCookieName, Value: refresh})

		w, _ := serve(b, r)
		require.Contains(t, w.Header().Get("Location"), "error=session_restore_failed")
	})
}

func TestBridge_Idempotent(t *testing.T) {
	// Running the bridge twice with the same fragments must not fail: the
	// second pass sees the first pass's session cookie and just strips the
	// marker.
	mgr := newManager(t)
	b := New(mgr, tenant.DefaultPolicy(), zerolog.Nop())

	seedUser(t, mgr, "owner@acme.test")
	access, refresh, err := mgr.Credentials().Mint("owner@acme.test", nil)
	require.NoError(t, err)

	first := markedRequest("acme.nestcrm.com.au", "/dashboard?auth_redirect=1")
	first.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: access})
	first.AddCookie(&http.Cookie{Name: session.RefreshCookieName, Value: refresh})
	w1, _ := serve(b, first)
	require.Equal(t, http.StatusSeeOther, w1.Code)

	var token string
	for _, c := range w1.Result().Cookies() {
		if c.Name == session.CookieName {
			token = c.Value
		}
	}
	require.NotEmpty(t, token)

	second := markedRequest("acme.nestcrm.com.au", "/dashboard?auth_redirect=1")
	second.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	w2, _ := serve(b, second)
	require.Equal(t, http.StatusSeeOther, w2.Code)
	require.Equal(t, "/dashboard", w2.Header().Get("Location"))
}
